package archive

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/yilhu/DRID-modules/internal/config"
	"github.com/yilhu/DRID-modules/internal/event"
	"github.com/yilhu/DRID-modules/internal/hub"
	"github.com/yilhu/DRID-modules/internal/module"
	"github.com/yilhu/DRID-modules/internal/testutil"
)

type archiveFixture struct {
	hub      *hub.Hub
	store    *Store
	archiver *Archiver
	clock    *testutil.Clock
	cfg      config.ArchiveConfig
	archived []event.EventArchivedEvent
}

func newArchiveFixture(t *testing.T) *archiveFixture {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default().Archive
	cfg.DBPath = filepath.Join(dir, "events.db")
	cfg.ImageDir = filepath.Join(dir, "images")

	f := &archiveFixture{
		clock: testutil.NewClock(time.Date(2026, 3, 1, 21, 0, 0, 0, time.UTC)),
		store: openTestStore(t),
		cfg:   cfg,
	}
	f.hub = hub.New(hub.WithClock(f.clock.Now))
	f.hub.Events().Subscribe(event.TypeEventArchived, func(e event.Event) {
		f.archived = append(f.archived, e.(event.EventArchivedEvent))
	})

	n := 0
	f.archiver = New(f.hub, f.store, cfg,
		WithClock(f.clock.Now),
		WithIDFunc(func() string { n++; return fmt.Sprintf("event-%d", n) }))
	if err := f.archiver.Setup(context.Background()); err != nil {
		t.Fatal(err)
	}
	return f
}

func (f *archiveFixture) step(t *testing.T) {
	t.Helper()
	if err := f.archiver.Step(context.Background()); err != nil {
		t.Fatalf("Step() error = %v", err)
	}
}

func (f *archiveFixture) pushFrame(t *testing.T, data string) {
	t.Helper()
	det := hub.DetectionItem{
		FrameID:    7,
		Detections: []hub.Detection{{Label: "wolf", Confidence: 0.9}},
	}
	frame := hub.AnnotatedFrameItem{Width: 320, Height: 240, Data: []byte(data)}
	if err := f.hub.PushPaired(context.Background(), det, frame, map[string]any{"source": "thermal"}); err != nil {
		t.Fatal(err)
	}
}

func TestArchiver_RecordsOncePerRisingEdge(t *testing.T) {
	f := newArchiveFixture(t)
	ctx := context.Background()
	f.pushFrame(t, "jpeg-bytes")
	f.hub.SetActuatorTarget(hub.ActuatorState{TargetAngle: 9.5, Label: "wolf", Confidence: 0.9})

	f.step(t)
	if n, _ := f.store.Count(ctx); n != 0 {
		t.Fatalf("recorded %d events with the flag down", n)
	}

	f.hub.SetDeterrenceFlag(true)
	f.step(t)
	f.step(t)
	f.step(t)
	if n, _ := f.store.Count(ctx); n != 1 {
		t.Fatalf("Count() = %d while flag stays raised, want 1", n)
	}

	f.hub.SetDeterrenceFlag(false)
	f.step(t)
	f.hub.SetDeterrenceFlag(true)
	f.step(t)
	if n, _ := f.store.Count(ctx); n != 2 {
		t.Errorf("Count() = %d after second episode, want 2", n)
	}

	ev, err := f.store.Get(ctx, "event-1")
	if err != nil {
		t.Fatal(err)
	}
	if ev.TargetAngle != 9.5 || ev.Label != "wolf" || ev.FrameID != 7 || ev.DetectionCount != 1 {
		t.Errorf("event = %+v", ev)
	}
	if ev.Width != 320 || ev.Height != 240 || ev.Meta["source"] != "thermal" {
		t.Errorf("frame fields = %+v", ev)
	}

	wantPath := filepath.Join(f.cfg.ImageDir, "event-1_det.jpg")
	if ev.ImagePath != wantPath {
		t.Errorf("ImagePath = %q, want %q", ev.ImagePath, wantPath)
	}
	data, err := os.ReadFile(wantPath)
	if err != nil || string(data) != "jpeg-bytes" {
		t.Errorf("image = %q, %v", data, err)
	}

	if len(f.archived) != 2 || f.archived[0].EventID != "event-1" || f.archived[0].ImagePath != wantPath {
		t.Errorf("archived events = %+v", f.archived)
	}
}

func TestArchiver_NoFrameStillRecords(t *testing.T) {
	f := newArchiveFixture(t)
	f.hub.SetDeterrenceFlag(true)
	f.step(t)

	ev, err := f.store.Get(context.Background(), "event-1")
	if err != nil {
		t.Fatal(err)
	}
	if ev.ImagePath != "" || ev.FrameID != 0 {
		t.Errorf("event without a frame = %+v", ev)
	}
	entries, _ := os.ReadDir(f.cfg.ImageDir)
	if len(entries) != 0 {
		t.Errorf("image dir has %d entries", len(entries))
	}
}

func TestArchiver_ImageFailureKeepsEvent(t *testing.T) {
	f := newArchiveFixture(t)
	f.pushFrame(t, "bytes")
	if err := os.RemoveAll(f.cfg.ImageDir); err != nil {
		t.Fatal(err)
	}
	// A regular file where the directory should be makes every write fail.
	if err := os.WriteFile(f.cfg.ImageDir, nil, 0644); err != nil {
		t.Fatal(err)
	}

	f.hub.SetDeterrenceFlag(true)
	f.step(t)

	ev, err := f.store.Get(context.Background(), "event-1")
	if err != nil {
		t.Fatalf("event not stored: %v", err)
	}
	if ev.ImagePath != "" {
		t.Errorf("ImagePath = %q, want empty", ev.ImagePath)
	}
	records, _ := f.hub.Errors().Drain(0)
	if len(records) != 1 || records[0].Level != hub.LevelWarning || records[0].Module != Name {
		t.Errorf("error log = %+v", records)
	}
}

func TestArchiver_PrunesExpiredEvents(t *testing.T) {
	f := newArchiveFixture(t)
	ctx := context.Background()
	now := f.clock.Now()

	oldImage := filepath.Join(f.cfg.ImageDir, "old_det.jpg")
	if err := os.WriteFile(oldImage, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := f.store.Insert(ctx, Event{ID: "old", OccurredAt: now.Add(-31 * 24 * time.Hour), ImagePath: oldImage}); err != nil {
		t.Fatal(err)
	}
	if err := f.store.Insert(ctx, Event{ID: "recent", OccurredAt: now.Add(-24 * time.Hour)}); err != nil {
		t.Fatal(err)
	}

	f.step(t)
	if n, _ := f.store.Count(ctx); n != 1 {
		t.Errorf("Count() = %d, want 1", n)
	}
	if _, err := os.Stat(oldImage); !os.IsNotExist(err) {
		t.Errorf("expired image still present: %v", err)
	}

	// The next pass waits an hour.
	if err := f.store.Insert(ctx, Event{ID: "old2", OccurredAt: now.Add(-40 * 24 * time.Hour)}); err != nil {
		t.Fatal(err)
	}
	f.clock.Advance(30 * time.Minute)
	f.step(t)
	if n, _ := f.store.Count(ctx); n != 2 {
		t.Errorf("pruned again too early: Count() = %d", n)
	}
	f.clock.Advance(30 * time.Minute)
	f.step(t)
	if n, _ := f.store.Count(ctx); n != 1 {
		t.Errorf("Count() after hourly prune = %d, want 1", n)
	}
}

func TestArchiver_RunsAsModule(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Default().Archive
	cfg.ImageDir = filepath.Join(dir, "images")
	store, err := OpenStore(filepath.Join(dir, "events.db"))
	if err != nil {
		t.Fatal(err)
	}

	h := hub.New()
	a := New(h, store, cfg)
	m := module.New(Name, h, a, module.WithInterval(5*time.Millisecond))
	if err := m.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	h.SetDeterrenceFlag(true)
	testutil.WaitFor(t, 2*time.Second, func() bool {
		n, _ := store.Count(context.Background())
		return n == 1
	})

	m.Stop()
	if err := m.Wait(context.Background()); err != nil {
		t.Fatalf("Wait() = %v", err)
	}
	if _, err := store.Count(context.Background()); err == nil {
		t.Error("store should be closed by teardown")
	}
}
