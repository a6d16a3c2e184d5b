package config

import (
	"math"
	"strings"
	"testing"
)

func hasFieldError(errs []ValidationError, field string) bool {
	for _, err := range errs {
		if err.Field == field {
			return true
		}
	}
	return false
}

func TestValidationError_Error(t *testing.T) {
	err := ValidationError{
		Field:   "decision.min_frame_ratio",
		Value:   1.5,
		Message: "must be in (0, 1]",
	}

	expected := "decision.min_frame_ratio: must be in (0, 1] (got: 1.5)"
	if err.Error() != expected {
		t.Errorf("Error() = %q, want %q", err.Error(), expected)
	}
}

func TestValidationErrors_Error(t *testing.T) {
	t.Run("empty errors", func(t *testing.T) {
		var errs ValidationErrors
		if errs.Error() != "" {
			t.Errorf("Error() for empty = %q, want empty string", errs.Error())
		}
	})

	t.Run("single error", func(t *testing.T) {
		errs := ValidationErrors{
			{Field: "test.field", Value: 123, Message: "is invalid"},
		}
		expected := "test.field: is invalid (got: 123)"
		if errs.Error() != expected {
			t.Errorf("Error() = %q, want %q", errs.Error(), expected)
		}
	})

	t.Run("multiple errors", func(t *testing.T) {
		errs := ValidationErrors{
			{Field: "field1", Value: "bad", Message: "is invalid"},
			{Field: "field2", Value: -1, Message: "must be positive"},
		}
		result := errs.Error()
		if !strings.Contains(result, "2 validation errors") {
			t.Errorf("Error() should mention 2 errors: %s", result)
		}
		if !strings.Contains(result, "field1") || !strings.Contains(result, "field2") {
			t.Errorf("Error() should mention both fields: %s", result)
		}
	})
}

func TestConfig_Validate_DefaultConfig(t *testing.T) {
	cfg := Default()
	errs := cfg.Validate()
	if len(errs) != 0 {
		t.Errorf("Default config should be valid, got %d errors: %v", len(errs), errs)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"negative frames capacity", func(c *Config) { c.Hub.FramesCapacity = -1 }, "hub.frames_capacity"},
		{"negative errors capacity", func(c *Config) { c.Hub.ErrorsCapacity = -5 }, "hub.errors_capacity"},
		{"zero failure budget", func(c *Config) { c.Module.MaxConsecutiveFailures = 0 }, "module.max_consecutive_failures"},
		{"negative backoff", func(c *Config) { c.Module.FailureBackoffMs = -1 }, "module.failure_backoff_ms"},
		{"zero window", func(c *Config) { c.Decision.TimeWindowSeconds = 0 }, "decision.time_window_seconds"},
		{"NaN window", func(c *Config) { c.Decision.TimeWindowSeconds = math.NaN() }, "decision.time_window_seconds"},
		{"ratio above one", func(c *Config) { c.Decision.MinFrameRatio = 1.2 }, "decision.min_frame_ratio"},
		{"zero ratio", func(c *Config) { c.Decision.MinFrameRatio = 0 }, "decision.min_frame_ratio"},
		{"negative score", func(c *Config) { c.Decision.MinTotalScore = -1 }, "decision.min_total_score"},
		{"negative cooldown", func(c *Config) { c.Decision.CooldownSeconds = -1 }, "decision.cooldown_seconds"},
		{"zero batch", func(c *Config) { c.Decision.MaxBatch = 0 }, "decision.max_batch"},
		{"fov too wide", func(c *Config) { c.Decision.CameraFOVDegrees = 180 }, "decision.camera_fov_degrees"},
		{"empty port", func(c *Config) { c.LoRa.SerialPort = " " }, "lora.serial_port"},
		{"odd baud", func(c *Config) { c.LoRa.SerialBaud = 12345 }, "lora.serial_baud"},
		{"zero lora queue", func(c *Config) { c.LoRa.QueueCapacity = 0 }, "lora.queue_capacity"},
		{"empty db path", func(c *Config) { c.Archive.DBPath = "" }, "archive.db_path"},
		{"unknown image format", func(c *Config) { c.Archive.ImageFormat = "gif" }, "archive.image_format"},
		{"negative retention", func(c *Config) { c.Archive.RetentionDays = -1 }, "archive.retention_days"},
		{"bad broker", func(c *Config) { c.Telemetry.Enabled = true; c.Telemetry.Broker = "localhost" }, "telemetry.broker"},
		{"empty client id", func(c *Config) { c.Telemetry.Enabled = true; c.Telemetry.ClientID = "" }, "telemetry.client_id"},
		{"qos out of range", func(c *Config) { c.Telemetry.EventQoS = 3 }, "telemetry.event_qos"},
		{"zero status interval", func(c *Config) { c.Status.IntervalMs = 0 }, "status.interval_ms"},
		{"unknown log level", func(c *Config) { c.Logging.Level = "verbose" }, "logging.level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			if !hasFieldError(cfg.Validate(), tt.field) {
				t.Errorf("expected validation error for %s", tt.field)
			}
		})
	}
}

func TestConfig_Validate_DisabledSectionsSkipRequiredFields(t *testing.T) {
	cfg := Default()
	cfg.LoRa.Enabled = false
	cfg.LoRa.SerialPort = ""
	cfg.Archive.Enabled = false
	cfg.Archive.DBPath = ""
	cfg.Telemetry.Enabled = false
	cfg.Telemetry.Broker = "not a url"

	if errs := cfg.Validate(); len(errs) != 0 {
		t.Errorf("disabled sections should not require settings, got %v", errs)
	}
}

func TestConfig_Validate_LogLevelCaseInsensitive(t *testing.T) {
	cfg := Default()
	cfg.Logging.Level = "DEBUG"
	if hasFieldError(cfg.Validate(), "logging.level") {
		t.Error("upper-case level should be accepted")
	}
}

func TestConfig_Validate_CollectsAllErrors(t *testing.T) {
	cfg := Default()
	cfg.Hub.FramesCapacity = -1
	cfg.Decision.MinFrameRatio = 2
	cfg.Logging.Level = "loud"

	errs := cfg.Validate()
	if len(errs) != 3 {
		t.Errorf("expected 3 errors, got %d: %v", len(errs), errs)
	}
}
