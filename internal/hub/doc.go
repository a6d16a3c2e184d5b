// Package hub is the shared-state core of the detection unit.
//
// A [Hub] owns every cross-module data path: the bounded core queues
// (frames, detections, processed frames, error log), a keyed registry of
// lazily built resources such as module sub-queues, the per-module health
// table, the actuator target and the deterrence flag. Modules never talk to
// each other directly; they only hold a *Hub.
//
// # Queues
//
// [Queue] is a generic bounded FIFO. Each write picks its full-queue policy:
// block (Put with dropOldest=false, bounded by a context) or evict the
// oldest item. Reads choose between blocking, non-blocking and timed waits:
//
//	det, err := h.Detections().Get(50 * time.Millisecond)
//	if errors.Is(err, errors.ErrQueueEmpty) {
//	    return nil // nothing to do this step
//	}
//
// Consumers that only need the freshest value use [Queue.Latest]; batch
// consumers use [Queue.Drain].
//
// # Pairing
//
// [Hub.PushPaired] gives a detection and its annotated frame the same
// timestamp and metadata inside one critical section, so a consumer that
// joins the two streams on timestamp never sees a mismatched pair.
//
// # Registry
//
// [Hub.GetOrCreate] builds each keyed value exactly once, even when many
// goroutines ask for an unset key at the same time. [RegisterQueue] is the
// usual entry point:
//
//	tx, err := hub.RegisterQueue[string](h, "lora.tx", 10, true)
//
// The flattened configuration lives under the "config" key and is
// available through [Hub.Config].
package hub
