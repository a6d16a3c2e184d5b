package config

import (
	"fmt"
	"math"
	"net/url"
	"slices"
	"strings"
)

// ValidationError represents a single validation failure
type ValidationError struct {
	Field   string // The config field path (e.g., "decision.min_frame_ratio")
	Value   any    // The invalid value
	Message string // Human-readable error description
}

// Error implements the error interface for ValidationError
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for ValidationErrors
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e)))
	for i, err := range e {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// ValidLogLevels returns the list of valid log levels
func ValidLogLevels() []string {
	return []string{"debug", "info", "warn", "error"}
}

// ValidImageFormats returns the extensions the archive accepts
func ValidImageFormats() []string {
	return []string{"jpg", "jpeg", "png", "bmp", "raw"}
}

// ValidBaudRates returns the serial speeds the bridge firmware supports
func ValidBaudRates() []int {
	return []int{9600, 19200, 38400, 57600, 115200, 230400, 460800, 921600}
}

// Validate checks the Config for invalid values and returns all validation errors found
func (c *Config) Validate() []ValidationError {
	var errors []ValidationError

	errors = append(errors, c.validateHub()...)
	errors = append(errors, c.validateModule()...)
	errors = append(errors, c.validateDecision()...)
	errors = append(errors, c.validateLoRa()...)
	errors = append(errors, c.validateArchive()...)
	errors = append(errors, c.validateTelemetry()...)
	errors = append(errors, c.validateStatus()...)
	errors = append(errors, c.validateLogging()...)

	return errors
}

func nonNegative(field string, v int) []ValidationError {
	if v < 0 {
		return []ValidationError{{Field: field, Value: v, Message: "must be non-negative"}}
	}
	return nil
}

func positive(field string, v int) []ValidationError {
	if v <= 0 {
		return []ValidationError{{Field: field, Value: v, Message: "must be positive"}}
	}
	return nil
}

func positiveFloat(field string, v float64) []ValidationError {
	if math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
		return []ValidationError{{Field: field, Value: v, Message: "must be a positive number"}}
	}
	return nil
}

func nonNegativeFloat(field string, v float64) []ValidationError {
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return []ValidationError{{Field: field, Value: v, Message: "must be a non-negative number"}}
	}
	return nil
}

// validateHub validates the HubConfig
func (c *Config) validateHub() []ValidationError {
	var errors []ValidationError
	errors = append(errors, nonNegative("hub.frames_capacity", c.Hub.FramesCapacity)...)
	errors = append(errors, nonNegative("hub.detections_capacity", c.Hub.DetectionsCapacity)...)
	errors = append(errors, nonNegative("hub.processed_capacity", c.Hub.ProcessedCapacity)...)
	errors = append(errors, nonNegative("hub.errors_capacity", c.Hub.ErrorsCapacity)...)
	return errors
}

// validateModule validates the ModuleConfig
func (c *Config) validateModule() []ValidationError {
	var errors []ValidationError
	errors = append(errors, positive("module.max_consecutive_failures", c.Module.MaxConsecutiveFailures)...)
	errors = append(errors, nonNegative("module.failure_backoff_ms", c.Module.FailureBackoffMs)...)
	return errors
}

// validateDecision validates the DecisionConfig
func (c *Config) validateDecision() []ValidationError {
	var errors []ValidationError
	d := c.Decision

	errors = append(errors, positiveFloat("decision.time_window_seconds", d.TimeWindowSeconds)...)

	if math.IsNaN(d.MinFrameRatio) || d.MinFrameRatio <= 0 || d.MinFrameRatio > 1 {
		errors = append(errors, ValidationError{
			Field:   "decision.min_frame_ratio",
			Value:   d.MinFrameRatio,
			Message: "must be in (0, 1]",
		})
	}

	errors = append(errors, nonNegativeFloat("decision.min_total_score", d.MinTotalScore)...)
	errors = append(errors, nonNegativeFloat("decision.cooldown_seconds", d.CooldownSeconds)...)
	errors = append(errors, nonNegativeFloat("decision.reset_delay_seconds", d.ResetDelaySeconds)...)
	errors = append(errors, nonNegative("decision.min_samples", d.MinSamples)...)
	errors = append(errors, positive("decision.max_batch", d.MaxBatch)...)
	errors = append(errors, nonNegative("decision.queue_timeout_ms", d.QueueTimeoutMs)...)

	if math.IsNaN(d.CameraFOVDegrees) || d.CameraFOVDegrees <= 0 || d.CameraFOVDegrees >= 180 {
		errors = append(errors, ValidationError{
			Field:   "decision.camera_fov_degrees",
			Value:   d.CameraFOVDegrees,
			Message: "must be in (0, 180)",
		})
	}

	return errors
}

// validateLoRa validates the LoRaConfig
func (c *Config) validateLoRa() []ValidationError {
	var errors []ValidationError
	l := c.LoRa

	if l.Enabled && strings.TrimSpace(l.SerialPort) == "" {
		errors = append(errors, ValidationError{
			Field:   "lora.serial_port",
			Value:   l.SerialPort,
			Message: "must be set when lora is enabled",
		})
	}

	if !slices.Contains(ValidBaudRates(), l.SerialBaud) {
		errors = append(errors, ValidationError{
			Field:   "lora.serial_baud",
			Value:   l.SerialBaud,
			Message: fmt.Sprintf("must be one of: %s", joinInts(ValidBaudRates())),
		})
	}

	errors = append(errors, positive("lora.queue_capacity", l.QueueCapacity)...)
	errors = append(errors, nonNegative("lora.min_tx_interval_ms", l.MinTxIntervalMs)...)
	errors = append(errors, positive("lora.write_timeout_ms", l.WriteTimeoutMs)...)
	return errors
}

// validateArchive validates the ArchiveConfig
func (c *Config) validateArchive() []ValidationError {
	var errors []ValidationError
	a := c.Archive

	if a.Enabled {
		if a.DBPath == "" {
			errors = append(errors, ValidationError{Field: "archive.db_path", Value: a.DBPath, Message: "must be set when archive is enabled"})
		}
		if a.ImageDir == "" {
			errors = append(errors, ValidationError{Field: "archive.image_dir", Value: a.ImageDir, Message: "must be set when archive is enabled"})
		}
	}

	if !slices.Contains(ValidImageFormats(), strings.ToLower(a.ImageFormat)) {
		errors = append(errors, ValidationError{
			Field:   "archive.image_format",
			Value:   a.ImageFormat,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidImageFormats(), ", ")),
		})
	}

	errors = append(errors, positive("archive.poll_interval_ms", a.PollIntervalMs)...)
	errors = append(errors, nonNegative("archive.retention_days", a.RetentionDays)...)
	return errors
}

// validateTelemetry validates the TelemetryConfig
func (c *Config) validateTelemetry() []ValidationError {
	var errors []ValidationError
	t := c.Telemetry

	if t.Enabled {
		u, err := url.Parse(t.Broker)
		if err != nil || u.Host == "" || !slices.Contains([]string{"tcp", "ssl", "tls", "ws", "wss", "mqtt", "mqtts"}, u.Scheme) {
			errors = append(errors, ValidationError{
				Field:   "telemetry.broker",
				Value:   t.Broker,
				Message: "must be a broker URL such as tcp://host:1883",
			})
		}
		if t.ClientID == "" {
			errors = append(errors, ValidationError{Field: "telemetry.client_id", Value: t.ClientID, Message: "must be set when telemetry is enabled"})
		}
	}

	for field, qos := range map[string]int{"telemetry.event_qos": t.EventQoS, "telemetry.snapshot_qos": t.SnapshotQoS} {
		if qos < 0 || qos > 2 {
			errors = append(errors, ValidationError{Field: field, Value: qos, Message: "must be 0, 1 or 2"})
		}
	}

	errors = append(errors, nonNegative("telemetry.snapshot_interval_seconds", t.SnapshotIntervalSeconds)...)
	errors = append(errors, positive("telemetry.outbox_capacity", t.OutboxCapacity)...)
	errors = append(errors, positive("telemetry.connect_timeout_seconds", t.ConnectTimeoutSeconds)...)
	return errors
}

// validateStatus validates the StatusConfig
func (c *Config) validateStatus() []ValidationError {
	var errors []ValidationError
	errors = append(errors, positive("status.interval_ms", c.Status.IntervalMs)...)
	return errors
}

// validateLogging validates the LoggingConfig
func (c *Config) validateLogging() []ValidationError {
	var errors []ValidationError

	if c.Logging.Level != "" && !slices.Contains(ValidLogLevels(), strings.ToLower(c.Logging.Level)) {
		errors = append(errors, ValidationError{
			Field:   "logging.level",
			Value:   c.Logging.Level,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidLogLevels(), ", ")),
		})
	}

	errors = append(errors, nonNegative("logging.max_size_mb", c.Logging.MaxSizeMB)...)
	errors = append(errors, nonNegative("logging.max_backups", c.Logging.MaxBackups)...)
	return errors
}

func joinInts(vs []int) string {
	parts := make([]string, len(vs))
	for i, v := range vs {
		parts[i] = fmt.Sprint(v)
	}
	return strings.Join(parts, ", ")
}
