package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func decodeLines(t *testing.T, data []byte) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
		if line == "" {
			continue
		}
		var m map[string]any
		if err := json.Unmarshal([]byte(line), &m); err != nil {
			t.Fatalf("invalid JSON line %q: %v", line, err)
		}
		out = append(out, m)
	}
	return out
}

func TestLogger_WithModule(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, LevelDebug, nil)

	logger.WithModule("decision").Info("triggered", "ratio", 0.7)

	lines := decodeLines(t, buf.Bytes())
	if len(lines) != 1 {
		t.Fatalf("expected 1 line, got %d", len(lines))
	}
	if lines[0]["module"] != "decision" {
		t.Errorf("module = %v, want decision", lines[0]["module"])
	}
	if lines[0]["msg"] != "triggered" {
		t.Errorf("msg = %v, want triggered", lines[0]["msg"])
	}
	if lines[0]["ratio"] != 0.7 {
		t.Errorf("ratio = %v, want 0.7", lines[0]["ratio"])
	}
}

func TestLogger_ChildDoesNotAffectParent(t *testing.T) {
	var buf bytes.Buffer
	parent := New(&buf, LevelInfo, nil)
	child := parent.With("port", "/dev/ttyACM0")

	child.Info("child")
	parent.Info("parent")

	lines := decodeLines(t, buf.Bytes())
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}
	if lines[0]["port"] != "/dev/ttyACM0" {
		t.Error("child line should carry port attribute")
	}
	if _, ok := lines[1]["port"]; ok {
		t.Error("parent line should not carry child attribute")
	}
}

func TestLogger_LevelFiltering(t *testing.T) {
	tests := []struct {
		level string
		want  int
	}{
		{"debug", 4},
		{"INFO", 3},
		{"warn", 2},
		{"ERROR", 1},
		{"bogus", 3},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			var buf bytes.Buffer
			logger := New(&buf, tt.level, nil)
			logger.Debug("d")
			logger.Info("i")
			logger.Warn("w")
			logger.Error("e")

			if got := len(decodeLines(t, buf.Bytes())); got != tt.want {
				t.Errorf("got %d lines, want %d", got, tt.want)
			}
		})
	}
}

func TestNewLogger_FileOutput(t *testing.T) {
	dir := t.TempDir()
	logger, err := NewLogger(Options{Dir: dir, Level: "INFO", Rotation: DefaultRotationConfig()})
	if err != nil {
		t.Fatalf("NewLogger() error = %v", err)
	}

	logger.Info("hello", "k", "v")
	if err := logger.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, FileName))
	if err != nil {
		t.Fatalf("reading log file: %v", err)
	}
	lines := decodeLines(t, data)
	if len(lines) != 1 || lines[0]["k"] != "v" {
		t.Errorf("unexpected log content: %s", data)
	}
}

func TestNopLogger(t *testing.T) {
	logger := NopLogger()
	logger.Error("discarded")
	if err := logger.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}
