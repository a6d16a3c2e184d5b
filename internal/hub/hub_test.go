package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/yilhu/DRID-modules/internal/config"
	"github.com/yilhu/DRID-modules/internal/errors"
	"github.com/yilhu/DRID-modules/internal/event"
)

func TestNew_DefaultCapacities(t *testing.T) {
	h := New()
	defer h.Close()

	tests := []struct {
		name string
		cap  int
	}{
		{QueueFrames, h.Frames().Cap()},
		{QueueDetections, h.Detections().Cap()},
		{QueueProcessed, h.Processed().Cap()},
		{QueueErrors, h.Errors().Cap()},
	}
	want := map[string]int{QueueFrames: 3, QueueDetections: 20, QueueProcessed: 3, QueueErrors: 200}
	for _, tt := range tests {
		if tt.cap != want[tt.name] {
			t.Errorf("%s capacity = %d, want %d", tt.name, tt.cap, want[tt.name])
		}
	}

	if !h.HasKey(config.RegistryKey) {
		t.Error("config registry entry should exist from construction")
	}
}

func TestNewFromConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Hub.DetectionsCapacity = 7
	reg := config.NewRegistry(map[string]any{"lora_serial_port": "/dev/ttyS1"})

	h := NewFromConfig(cfg, reg, nil)
	defer h.Close()

	if h.Detections().Cap() != 7 {
		t.Errorf("detections capacity = %d, want 7", h.Detections().Cap())
	}
	if got := h.Config().String("lora_serial_port", ""); got != "/dev/ttyS1" {
		t.Errorf("config lora_serial_port = %q", got)
	}
}

func TestPushPaired_SharesTimestampAndMeta(t *testing.T) {
	fixed := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	h := New(WithClock(func() time.Time { return fixed }))
	defer h.Close()

	meta := map[string]any{"model": "yolo", "inference_ms": 41}
	det := DetectionItem{FrameID: 9, Detections: []Detection{{Label: "wolf", Confidence: 0.9}}}
	frame := AnnotatedFrameItem{Data: []byte{1, 2, 3}}

	if err := h.PushPaired(context.Background(), det, frame, meta); err != nil {
		t.Fatalf("PushPaired() error = %v", err)
	}
	meta["model"] = "mutated"

	gotDet, err := h.Detections().Get(0)
	if err != nil {
		t.Fatal(err)
	}
	gotFrame, err := h.Processed().Get(0)
	if err != nil {
		t.Fatal(err)
	}

	if !gotDet.Timestamp.Equal(fixed) || !gotFrame.Timestamp.Equal(fixed) {
		t.Errorf("timestamps = %v / %v, want %v", gotDet.Timestamp, gotFrame.Timestamp, fixed)
	}
	if gotDet.Meta["model"] != "yolo" || gotFrame.Meta["model"] != "yolo" {
		t.Error("meta should be copied at push time")
	}
	if gotFrame.FrameID != 9 || gotFrame.DetectionCount != 1 {
		t.Errorf("frame = id %d count %d, want id 9 count 1", gotFrame.FrameID, gotFrame.DetectionCount)
	}

	latest, ok := h.LatestAnnotated()
	if !ok || latest.FrameID != 9 {
		t.Errorf("LatestAnnotated() = %+v, %v", latest, ok)
	}
}

func TestPushPaired_ConcurrentCallersStayPaired(t *testing.T) {
	var tick int64
	var mu sync.Mutex
	h := New(
		WithCapacities(Capacities{Detections: 0, Processed: 0, Frames: 1, Errors: 10}),
		WithClock(func() time.Time {
			mu.Lock()
			defer mu.Unlock()
			tick++
			return time.Unix(0, tick)
		}),
	)
	defer h.Close()

	const workers, each = 8, 50
	var wg sync.WaitGroup
	for w := range workers {
		wg.Go(func() {
			for i := range each {
				id := uint64(w*each + i + 1)
				meta := map[string]any{"id": id}
				if err := h.PushPaired(context.Background(), DetectionItem{FrameID: id}, AnnotatedFrameItem{}, meta); err != nil {
					t.Errorf("PushPaired error = %v", err)
				}
			}
		})
	}
	wg.Wait()

	dets, _ := h.Detections().Drain(0)
	frames, _ := h.Processed().Drain(0)
	if len(dets) != workers*each || len(frames) != workers*each {
		t.Fatalf("got %d detections and %d frames, want %d", len(dets), len(frames), workers*each)
	}
	for i := range dets {
		if !dets[i].Timestamp.Equal(frames[i].Timestamp) {
			t.Fatalf("pair %d timestamps differ: %v vs %v", i, dets[i].Timestamp, frames[i].Timestamp)
		}
		if dets[i].Meta["id"] != frames[i].Meta["id"] || dets[i].FrameID != frames[i].FrameID {
			t.Fatalf("pair %d meta differs", i)
		}
	}
}

func TestDeterrenceFlag_PublishesOnChange(t *testing.T) {
	h := New()
	defer h.Close()

	var got []bool
	h.Events().Subscribe(event.TypeDeterrenceChanged, func(e event.Event) {
		got = append(got, e.(event.DeterrenceChangedEvent).Raised)
	})

	h.SetDeterrenceFlag(true)
	h.SetDeterrenceFlag(true)
	h.SetDeterrenceFlag(false)

	if !slices.Equal(got, []bool{true, false}) {
		t.Errorf("events = %v, want [true false]", got)
	}
	if h.DeterrenceFlag() {
		t.Error("DeterrenceFlag() = true, want false")
	}
}

func TestActuatorTarget_IsCopied(t *testing.T) {
	h := New()
	defer h.Close()

	fields := map[string]any{"direction": "cw"}
	h.SetActuatorTarget(ActuatorState{TargetAngle: 12.5, Fields: fields})
	fields["direction"] = "ccw"

	got := h.ActuatorTarget()
	if got.TargetAngle != 12.5 {
		t.Errorf("TargetAngle = %v, want 12.5", got.TargetAngle)
	}
	if got.Fields["direction"] != "cw" {
		t.Error("actuator fields should not alias the caller's map")
	}
	if got.UpdatedAt.IsZero() {
		t.Error("UpdatedAt should be stamped")
	}

	got.Fields["direction"] = "changed"
	if h.ActuatorTarget().Fields["direction"] != "cw" {
		t.Error("returned fields should not alias hub state")
	}
}

func TestReportHealth_Upserts(t *testing.T) {
	h := New()
	defer h.Close()

	h.ReportHealth(ModuleHealth{Name: "lora", SuccessCount: 1})
	h.ReportHealth(ModuleHealth{Name: "lora", SuccessCount: 2})
	h.ReportHealth(ModuleHealth{Name: "decision", SuccessCount: 5})

	rec, ok := h.ModuleHealth("lora")
	if !ok || rec.SuccessCount != 2 {
		t.Errorf("lora health = %+v, %v", rec, ok)
	}
	if n := len(h.HealthSnapshot()); n != 2 {
		t.Errorf("HealthSnapshot() has %d records, want 2", n)
	}
}

func TestReportError_BoundedAndPublished(t *testing.T) {
	h := New(WithCapacities(Capacities{Frames: 1, Detections: 1, Processed: 1, Errors: 3}))
	defer h.Close()

	published := 0
	h.Events().Subscribe(event.TypeErrorReported, func(event.Event) { published++ })

	for i := range 5 {
		h.ReportError("lora", LevelError, fmt.Sprintf("failure %d", i), errors.ErrPortUnavailable)
	}

	recs, _ := h.Errors().Drain(0)
	if len(recs) != 3 {
		t.Fatalf("error log has %d records, want 3", len(recs))
	}
	if recs[0].Message != "failure 2" || recs[2].Message != "failure 4" {
		t.Errorf("error log = %v", recs)
	}
	if recs[0].Detail != "serial port unavailable" {
		t.Errorf("Detail = %q", recs[0].Detail)
	}
	if published != 5 {
		t.Errorf("published %d events, want 5", published)
	}
}

func TestClose_ClosesRegisteredQueues(t *testing.T) {
	h := New()
	q, err := RegisterQueue[string](h, "lora.tx", 10, true)
	if err != nil {
		t.Fatal(err)
	}

	h.Close()

	if !q.Closed() || !h.Detections().Closed() {
		t.Error("Close should close core and registered queues")
	}
	if _, err := h.GetOrCreate("late", func() (any, error) { return 1, nil }); !errors.Is(err, ErrClosed) {
		t.Errorf("GetOrCreate after Close = %v, want ErrClosed", err)
	}
	h.ReportError("x", LevelError, "after close", nil)
}

func TestSnapshot_JSONFieldNames(t *testing.T) {
	h := New()
	defer h.Close()
	h.ReportHealth(ModuleHealth{Name: "decision", State: "RUNNING"})

	data, err := json.Marshal(h.Snapshot())
	if err != nil {
		t.Fatal(err)
	}

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{"taken_at", "queues", "actuator", "deterrence_flag", "registry_keys", "modules"} {
		if _, ok := raw[key]; !ok {
			t.Errorf("snapshot JSON missing %q", key)
		}
	}

	queues := raw["queues"].(map[string]any)
	frames := queues[QueueFrames].(map[string]any)
	for _, key := range []string{"length", "capacity", "dropped"} {
		if _, ok := frames[key]; !ok {
			t.Errorf("queue stats missing %q", key)
		}
	}
}

func TestSnapshot_IncludesRegisteredQueues(t *testing.T) {
	h := New()
	defer h.Close()

	q, _ := RegisterQueue[int](h, "telemetry.outbox", 5, true)
	q.TryPut(1)
	q.TryPut(2)

	snap := h.Snapshot()
	stats, ok := snap.Queues["telemetry.outbox"]
	if !ok {
		t.Fatal("registered queue missing from snapshot")
	}
	if stats.Length != 2 || stats.Capacity != 5 {
		t.Errorf("stats = %+v", stats)
	}
	if len(snap.RegistryKeys) != 2 {
		t.Errorf("RegistryKeys = %v, want config and telemetry.outbox", snap.RegistryKeys)
	}
}

func TestSnapshot_ConcurrentWithTraffic(t *testing.T) {
	h := New()
	defer h.Close()

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup

	wg.Go(func() {
		for i := uint64(0); ctx.Err() == nil; i++ {
			h.Frames().Put(ctx, FrameItem{FrameID: i}, true)
		}
	})
	wg.Go(func() {
		for ctx.Err() == nil {
			h.Frames().Get(time.Millisecond)
		}
	})
	wg.Go(func() {
		for i := 0; ctx.Err() == nil; i++ {
			h.ReportHealth(ModuleHealth{Name: "capture", SuccessCount: uint64(i)})
			h.SetDeterrenceFlag(i%2 == 0)
		}
	})

	deadline := time.Now().Add(100 * time.Millisecond)
	for time.Now().Before(deadline) {
		snap := h.Snapshot()
		f := snap.Queues[QueueFrames]
		if f.Length < 0 || f.Length > f.Capacity {
			t.Fatalf("impossible frames length %d (capacity %d)", f.Length, f.Capacity)
		}
	}
	cancel()
	wg.Wait()
}

func TestSnapshot_StoppedModules(t *testing.T) {
	snap := Snapshot{Modules: map[string]ModuleHealth{
		"lora":     {Name: "lora", State: "STOPPED"},
		"decision": {Name: "decision", State: "RUNNING"},
	}}
	stopped := snap.StoppedModules()
	if len(stopped) != 1 || stopped[0] != "lora" {
		t.Errorf("StoppedModules() = %v", stopped)
	}
}

type counterReport struct{ n int }

func (c *counterReport) Report() any { return map[string]int{"count": c.n} }

func TestSnapshot_CollectsReports(t *testing.T) {
	h := New()
	defer h.Close()

	if snap := h.Snapshot(); snap.Reports != nil {
		t.Errorf("Reports = %v, want nil without reporters", snap.Reports)
	}

	if _, err := h.GetOrCreate("lora.health", func() (any, error) { return &counterReport{n: 4}, nil }); err != nil {
		t.Fatal(err)
	}
	snap := h.Snapshot()
	got, ok := snap.Reports["lora.health"].(map[string]int)
	if !ok || got["count"] != 4 {
		t.Errorf("Reports = %v", snap.Reports)
	}
}
