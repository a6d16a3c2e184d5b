package archive

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/yilhu/DRID-modules/internal/errors"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenStore(filepath.Join(t.TempDir(), "db", "events.db"))
	if err != nil {
		t.Fatalf("OpenStore() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore_InsertAndGet(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	at := time.Date(2026, 3, 1, 21, 15, 0, 123, time.UTC)

	in := Event{
		ID:             "ev-1",
		OccurredAt:     at,
		FrameID:        42,
		FrameTimestamp: at.Add(-time.Second),
		Width:          640,
		Height:         480,
		DetectionCount: 2,
		TargetAngle:    -12.5,
		Label:          "wolf",
		Confidence:     0.91,
		ImagePath:      "/tmp/ev-1_det.jpg",
		Meta:           map[string]any{"camera": "thermal"},
	}
	if err := s.Insert(ctx, in); err != nil {
		t.Fatal(err)
	}

	got, err := s.Get(ctx, "ev-1")
	if err != nil {
		t.Fatal(err)
	}
	if !got.OccurredAt.Equal(at) || !got.FrameTimestamp.Equal(in.FrameTimestamp) {
		t.Errorf("times = %v, %v", got.OccurredAt, got.FrameTimestamp)
	}
	if got.FrameID != 42 || got.Width != 640 || got.Height != 480 || got.DetectionCount != 2 {
		t.Errorf("frame fields = %+v", got)
	}
	if got.TargetAngle != -12.5 || got.Label != "wolf" || got.Confidence != 0.91 || got.ImagePath != in.ImagePath {
		t.Errorf("target fields = %+v", got)
	}
	if got.Meta["camera"] != "thermal" {
		t.Errorf("Meta = %v", got.Meta)
	}
}

func TestStore_GetMissing(t *testing.T) {
	s := openTestStore(t)
	_, err := s.Get(context.Background(), "nope")
	var nf *errors.NotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("Get() error = %v, want NotFoundError", err)
	}
}

func TestStore_DuplicateIDRejected(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	ev := Event{ID: "dup", OccurredAt: time.Now()}
	if err := s.Insert(ctx, ev); err != nil {
		t.Fatal(err)
	}
	if err := s.Insert(ctx, ev); err == nil {
		t.Error("second Insert() with the same id should fail")
	}
}

func TestStore_RecentNewestFirst(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	for i, id := range []string{"a", "b", "c", "d"} {
		if err := s.Insert(ctx, Event{ID: id, OccurredAt: base.Add(time.Duration(i) * time.Minute)}); err != nil {
			t.Fatal(err)
		}
	}

	got, err := s.Recent(ctx, 3)
	if err != nil {
		t.Fatal(err)
	}
	var ids []string
	for _, ev := range got {
		ids = append(ids, ev.ID)
		if ev.Meta != nil {
			t.Errorf("event %s has Meta %v, want nil", ev.ID, ev.Meta)
		}
	}
	if len(ids) != 3 || ids[0] != "d" || ids[1] != "c" || ids[2] != "b" {
		t.Errorf("Recent() ids = %v", ids)
	}

	n, err := s.Count(ctx)
	if err != nil || n != 4 {
		t.Errorf("Count() = %d, %v", n, err)
	}
}

func TestStore_Prune(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 31, 0, 0, 0, 0, time.UTC)

	events := []Event{
		{ID: "old", OccurredAt: now.Add(-40 * 24 * time.Hour), ImagePath: "/x/old.jpg"},
		{ID: "edge", OccurredAt: now.Add(-30 * 24 * time.Hour)},
		{ID: "new", OccurredAt: now.Add(-time.Hour)},
	}
	for _, ev := range events {
		if err := s.Insert(ctx, ev); err != nil {
			t.Fatal(err)
		}
	}

	expired, err := s.Prune(ctx, now.Add(-30*24*time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if len(expired) != 1 || expired[0].ID != "old" || expired[0].ImagePath != "/x/old.jpg" {
		t.Errorf("Prune() = %+v", expired)
	}
	if n, _ := s.Count(ctx); n != 2 {
		t.Errorf("Count() after prune = %d, want 2", n)
	}
}

func TestStore_ReopenKeepsEvents(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.db")
	s, err := OpenStore(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Insert(context.Background(), Event{ID: "persisted", OccurredAt: time.Now()}); err != nil {
		t.Fatal(err)
	}
	s.Close()

	s, err = OpenStore(path)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	if _, err := s.Get(context.Background(), "persisted"); err != nil {
		t.Errorf("event lost across reopen: %v", err)
	}
}

func TestStore_Lookup(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	at := time.Date(2026, 3, 1, 21, 0, 0, 0, time.UTC)
	for i, id := range []string{"3f2a9c01-aaaa", "3f2a9c77-bbbb", "81d0e4b2-cccc"} {
		if err := s.Insert(ctx, Event{ID: id, OccurredAt: at.Add(time.Duration(i) * time.Minute)}); err != nil {
			t.Fatal(err)
		}
	}

	tests := []struct {
		prefix   string
		wantID   string
		notFound bool
		wantErr  bool
	}{
		{prefix: "81d0e4b2", wantID: "81d0e4b2-cccc"},
		{prefix: "3f2a9c77-bbbb", wantID: "3f2a9c77-bbbb"},
		{prefix: "3f2a9c", wantErr: true},
		{prefix: "ffff", notFound: true, wantErr: true},
		{prefix: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.prefix, func(t *testing.T) {
			got, err := s.Lookup(ctx, tt.prefix)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Lookup(%q) error = %v, wantErr %v", tt.prefix, err, tt.wantErr)
			}
			var nf *errors.NotFoundError
			if errors.As(err, &nf) != tt.notFound {
				t.Errorf("Lookup(%q) NotFoundError = %v, want %v", tt.prefix, err, tt.notFound)
			}
			if got.ID != tt.wantID {
				t.Errorf("Lookup(%q).ID = %q, want %q", tt.prefix, got.ID, tt.wantID)
			}
		})
	}
}
