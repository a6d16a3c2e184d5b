// Package status writes hub snapshots to a file for the external watchdog
// and renders them for people.
//
// The file is replaced atomically on every write, so a reader never sees a
// partial document. Its JSON field names are those of hub.Snapshot.
package status

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/yilhu/DRID-modules/internal/errors"
	"github.com/yilhu/DRID-modules/internal/hub"
	"github.com/yilhu/DRID-modules/internal/logging"
)

// Name is the module name of the writer.
const Name = "status"

// Option configures a Writer.
type Option func(*Writer)

// WithLogger sets the writer's logger.
func WithLogger(logger *logging.Logger) Option {
	return func(w *Writer) {
		w.logger = logger
	}
}

// Writer is a module.Worker that writes one snapshot per step. Run it with
// module.WithInterval to set the write period.
type Writer struct {
	hub    *hub.Hub
	path   string
	logger *logging.Logger
	writes atomic.Uint64
}

// NewWriter creates a writer for path.
func NewWriter(h *hub.Hub, path string, opts ...Option) *Writer {
	w := &Writer{
		hub:    h,
		path:   path,
		logger: logging.NopLogger(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Path returns the status file path.
func (w *Writer) Path() string { return w.path }

// Writes returns the number of successful writes.
func (w *Writer) Writes() uint64 { return w.writes.Load() }

// Setup creates the status directory.
func (w *Writer) Setup(context.Context) error {
	if err := os.MkdirAll(filepath.Dir(w.path), 0755); err != nil {
		return errors.Wrap(err, "failed to create status directory")
	}
	w.logger.Info("writing status file", "path", w.path)
	return nil
}

// Step writes the current snapshot.
func (w *Writer) Step(context.Context) error {
	return w.Write()
}

// Write writes the current snapshot outside the module loop, e.g. once more
// after every module has stopped.
func (w *Writer) Write() error {
	if err := WriteFile(w.path, w.hub.Snapshot()); err != nil {
		return err
	}
	w.writes.Add(1)
	return nil
}

// WriteFile writes snap to path as indented JSON through a temporary file
// and a rename.
func WriteFile(path string, snap hub.Snapshot) error {
	data, err := snap.MarshalIndent()
	if err != nil {
		return errors.Wrap(err, "failed to encode snapshot")
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return errors.Wrap(err, "failed to write status file")
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return errors.Wrap(err, "failed to replace status file")
	}
	return nil
}

// Read loads the snapshot at path. A missing file is a NotFoundError.
func Read(path string) (hub.Snapshot, error) {
	var snap hub.Snapshot
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return snap, errors.NewNotFoundError("status file", path)
		}
		return snap, errors.Wrap(err, "failed to read status file")
	}
	if err := json.Unmarshal(data, &snap); err != nil {
		return snap, errors.Wrapf(err, "failed to decode status file %s", path)
	}
	return snap, nil
}
