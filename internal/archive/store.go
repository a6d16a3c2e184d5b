// Package archive records every deterrence episode.
//
// The Archiver watches the hub's deterrence flag and, on each rising edge,
// stores one Event in SQLite together with the annotated frame that was
// current at that moment, written to <image_dir>/<event_id>_det.<format>.
package archive

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"github.com/yilhu/DRID-modules/internal/errors"
)

// Event is one archived deterrence episode.
type Event struct {
	ID             string         `json:"id" yaml:"id"`
	OccurredAt     time.Time      `json:"occurred_at" yaml:"occurred_at"`
	FrameID        uint64         `json:"frame_id,omitempty" yaml:"frame_id,omitempty"`
	FrameTimestamp time.Time      `json:"frame_timestamp,omitzero" yaml:"frame_timestamp,omitempty"`
	Width          int            `json:"width,omitempty" yaml:"width,omitempty"`
	Height         int            `json:"height,omitempty" yaml:"height,omitempty"`
	DetectionCount int            `json:"detection_count" yaml:"detection_count"`
	TargetAngle    float64        `json:"target_angle" yaml:"target_angle"`
	Label          string         `json:"label,omitempty" yaml:"label,omitempty"`
	Confidence     float64        `json:"confidence,omitempty" yaml:"confidence,omitempty"`
	ImagePath      string         `json:"image_path,omitempty" yaml:"image_path,omitempty"`
	Meta           map[string]any `json:"meta,omitempty" yaml:"meta,omitempty"`
}

// Store persists events in a SQLite database.
type Store struct {
	db   *sql.DB
	path string
}

// OpenStore opens or creates the database at path.
func OpenStore(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One writer at a time; the archive is written once per episode.
	db.SetMaxOpenConns(1)

	s := &Store{db: db, path: path}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Path returns the database file path.
func (s *Store) Path() string { return s.path }

func (s *Store) createSchema() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS events (
			id TEXT PRIMARY KEY,
			occurred_at INTEGER NOT NULL,
			frame_id INTEGER NOT NULL DEFAULT 0,
			frame_timestamp INTEGER NOT NULL DEFAULT 0,
			width INTEGER NOT NULL DEFAULT 0,
			height INTEGER NOT NULL DEFAULT 0,
			detection_count INTEGER NOT NULL DEFAULT 0,
			target_angle REAL NOT NULL DEFAULT 0,
			label TEXT NOT NULL DEFAULT '',
			confidence REAL NOT NULL DEFAULT 0,
			image_path TEXT NOT NULL DEFAULT '',
			meta TEXT NOT NULL DEFAULT '{}'
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_occurred_at ON events(occurred_at DESC)`,
	}
	for _, q := range queries {
		if _, err := s.db.Exec(q); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
	}
	return nil
}

// Insert stores ev.
func (s *Store) Insert(ctx context.Context, ev Event) error {
	meta, err := json.Marshal(ev.Meta)
	if err != nil {
		return fmt.Errorf("failed to marshal event meta: %w", err)
	}
	if ev.Meta == nil {
		meta = []byte("{}")
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO events (id, occurred_at, frame_id, frame_timestamp, width, height,
			detection_count, target_angle, label, confidence, image_path, meta)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.OccurredAt.UnixNano(), int64(ev.FrameID), unixNano(ev.FrameTimestamp),
		ev.Width, ev.Height, ev.DetectionCount, ev.TargetAngle, ev.Label, ev.Confidence,
		ev.ImagePath, string(meta))
	if err != nil {
		return fmt.Errorf("failed to insert event %s: %w", ev.ID, err)
	}
	return nil
}

const selectColumns = `id, occurred_at, frame_id, frame_timestamp, width, height,
	detection_count, target_angle, label, confidence, image_path, meta`

// Get returns the event with id.
func (s *Store) Get(ctx context.Context, id string) (Event, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM events WHERE id = ?`, id)
	ev, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Event{}, errors.NewNotFoundError("event", id)
	}
	return ev, err
}

// Lookup returns the single event whose id starts with prefix, so the
// short ids printed by listings can be used directly.
func (s *Store) Lookup(ctx context.Context, prefix string) (Event, error) {
	if prefix == "" {
		return Event{}, errors.NewValidationError("event id prefix is empty").WithField("id")
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+selectColumns+` FROM events WHERE substr(id, 1, ?) = ? LIMIT 2`, len(prefix), prefix)
	if err != nil {
		return Event{}, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var found []Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return Event{}, err
		}
		found = append(found, ev)
	}
	if err := rows.Err(); err != nil {
		return Event{}, err
	}
	switch len(found) {
	case 0:
		return Event{}, errors.NewNotFoundError("event", prefix)
	case 1:
		return found[0], nil
	default:
		return Event{}, errors.NewValidationError("event id prefix is ambiguous").
			WithField("id").
			WithValue(prefix)
	}
}

// Recent returns up to limit events, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+selectColumns+` FROM events ORDER BY occurred_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// Count returns the number of stored events.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM events`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count events: %w", err)
	}
	return n, nil
}

// Prune deletes events that occurred before cutoff and returns them so
// their images can be removed.
func (s *Store) Prune(ctx context.Context, cutoff time.Time) ([]Event, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx,
		`SELECT `+selectColumns+` FROM events WHERE occurred_at < ?`, cutoff.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("failed to query expired events: %w", err)
	}
	var expired []Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		expired = append(expired, ev)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM events WHERE occurred_at < ?`, cutoff.UnixNano()); err != nil {
		return nil, fmt.Errorf("failed to delete expired events: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit prune: %w", err)
	}
	return expired, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEvent(sc scanner) (Event, error) {
	var (
		ev                Event
		occurred, frameTS int64
		frameID           int64
		meta              string
	)
	err := sc.Scan(&ev.ID, &occurred, &frameID, &frameTS, &ev.Width, &ev.Height,
		&ev.DetectionCount, &ev.TargetAngle, &ev.Label, &ev.Confidence, &ev.ImagePath, &meta)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Event{}, err
		}
		return Event{}, fmt.Errorf("failed to scan event: %w", err)
	}

	ev.OccurredAt = time.Unix(0, occurred)
	ev.FrameID = uint64(frameID)
	if frameTS != 0 {
		ev.FrameTimestamp = time.Unix(0, frameTS)
	}
	if meta != "" && meta != "{}" && meta != "null" {
		if err := json.Unmarshal([]byte(meta), &ev.Meta); err != nil {
			return Event{}, fmt.Errorf("failed to decode meta of event %s: %w", ev.ID, err)
		}
	}
	return ev, nil
}

func unixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}
