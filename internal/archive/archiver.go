package archive

import (
	"context"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/yilhu/DRID-modules/internal/config"
	"github.com/yilhu/DRID-modules/internal/event"
	"github.com/yilhu/DRID-modules/internal/hub"
	"github.com/yilhu/DRID-modules/internal/logging"
)

// Name is the module name.
const Name = "archive"

// pruneEvery spaces retention passes.
const pruneEvery = time.Hour

// Option configures an Archiver.
type Option func(*Archiver)

// WithLogger sets the archiver logger.
func WithLogger(logger *logging.Logger) Option {
	return func(a *Archiver) {
		a.logger = logger
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(a *Archiver) {
		a.now = now
	}
}

// WithIDFunc replaces uuid.NewString for event ids.
func WithIDFunc(newID func() string) Option {
	return func(a *Archiver) {
		a.newID = newID
	}
}

// Archiver is the archive worker. Run it with module.WithInterval set to
// the poll interval.
type Archiver struct {
	hub    *hub.Hub
	store  *Store
	cfg    config.ArchiveConfig
	logger *logging.Logger
	now    func() time.Time
	newID  func() string

	raised    bool
	lastPrune time.Time
}

// New creates an archiver writing to store.
func New(h *hub.Hub, store *Store, cfg config.ArchiveConfig, opts ...Option) *Archiver {
	a := &Archiver{
		hub:    h,
		store:  store,
		cfg:    cfg,
		logger: logging.NopLogger(),
		now:    time.Now,
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Setup creates the image directory.
func (a *Archiver) Setup(context.Context) error {
	if err := os.MkdirAll(a.cfg.ImageDir, 0755); err != nil {
		return fmt.Errorf("failed to create image directory: %w", err)
	}
	return nil
}

// Teardown closes the store.
func (a *Archiver) Teardown() error {
	return a.store.Close()
}

// Step samples the deterrence flag and records an event on a rising edge.
// The edge is consumed even if recording fails, so one episode is never
// archived twice.
func (a *Archiver) Step(ctx context.Context) error {
	flag := a.hub.DeterrenceFlag()
	rising := flag && !a.raised
	a.raised = flag

	if rising {
		if _, err := a.Record(ctx); err != nil {
			return err
		}
	}
	return a.maybePrune(ctx)
}

// Record archives the current actuator state and latest annotated frame.
func (a *Archiver) Record(ctx context.Context) (Event, error) {
	target := a.hub.ActuatorTarget()
	ev := Event{
		ID:          a.newID(),
		OccurredAt:  a.now(),
		TargetAngle: target.TargetAngle,
		Label:       target.Label,
		Confidence:  target.Confidence,
	}

	if frame, ok := a.hub.LatestAnnotated(); ok {
		ev.FrameID = frame.FrameID
		ev.FrameTimestamp = frame.Timestamp
		ev.Width = frame.Width
		ev.Height = frame.Height
		ev.DetectionCount = frame.DetectionCount
		ev.Meta = maps.Clone(frame.Meta)

		if len(frame.Data) > 0 {
			path, err := a.writeImage(ev.ID, frame.Data)
			if err != nil {
				// Keep the event row; losing the picture is not worth losing the record.
				a.logger.Warn("failed to write event image", "event_id", ev.ID, "error", err)
				a.hub.ReportError(Name, hub.LevelWarning, "failed to write event image", err)
			} else {
				ev.ImagePath = path
			}
		}
	}

	if err := a.store.Insert(ctx, ev); err != nil {
		return Event{}, err
	}

	a.logger.Info("event archived",
		"event_id", ev.ID,
		"target_angle", ev.TargetAngle,
		"detection_count", ev.DetectionCount,
		"image_path", ev.ImagePath)
	a.hub.Events().Publish(event.NewEventArchivedEvent(ev.ID, ev.ImagePath))
	return ev, nil
}

func (a *Archiver) writeImage(id string, data []byte) (string, error) {
	path := filepath.Join(a.cfg.ImageDir, fmt.Sprintf("%s_det.%s", id, a.cfg.ImageFormat))
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return "", err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return "", err
	}
	return path, nil
}

func (a *Archiver) maybePrune(ctx context.Context) error {
	if a.cfg.RetentionDays <= 0 {
		return nil
	}
	now := a.now()
	if !a.lastPrune.IsZero() && now.Sub(a.lastPrune) < pruneEvery {
		return nil
	}
	a.lastPrune = now

	expired, err := a.store.Prune(ctx, now.Add(-a.cfg.Retention()))
	if err != nil {
		return err
	}
	for _, ev := range expired {
		if ev.ImagePath == "" {
			continue
		}
		if err := os.Remove(ev.ImagePath); err != nil && !os.IsNotExist(err) {
			a.logger.Warn("failed to remove expired image", "path", ev.ImagePath, "error", err)
		}
	}
	if len(expired) > 0 {
		a.logger.Info("pruned archived events", "count", len(expired))
	}
	return nil
}
