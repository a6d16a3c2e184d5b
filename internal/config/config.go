package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete drid configuration
type Config struct {
	Hub       HubConfig       `mapstructure:"hub" yaml:"hub"`
	Module    ModuleConfig    `mapstructure:"module" yaml:"module"`
	Decision  DecisionConfig  `mapstructure:"decision" yaml:"decision"`
	LoRa      LoRaConfig      `mapstructure:"lora" yaml:"lora"`
	Archive   ArchiveConfig   `mapstructure:"archive" yaml:"archive"`
	Telemetry TelemetryConfig `mapstructure:"telemetry" yaml:"telemetry"`
	Status    StatusConfig    `mapstructure:"status" yaml:"status"`
	Logging   LoggingConfig   `mapstructure:"logging" yaml:"logging"`
}

// HubConfig sizes the hub's core queues. A capacity of 0 makes the queue
// unbounded.
type HubConfig struct {
	// FramesCapacity bounds the raw frame queue (default: 3)
	FramesCapacity int `mapstructure:"frames_capacity" yaml:"frames_capacity"`
	// DetectionsCapacity bounds the detection queue (default: 20)
	DetectionsCapacity int `mapstructure:"detections_capacity" yaml:"detections_capacity"`
	// ProcessedCapacity bounds the annotated frame queue (default: 3)
	ProcessedCapacity int `mapstructure:"processed_capacity" yaml:"processed_capacity"`
	// ErrorsCapacity bounds the error log (default: 200)
	ErrorsCapacity int `mapstructure:"errors_capacity" yaml:"errors_capacity"`
}

// ModuleConfig holds the failure policy shared by every module runner
type ModuleConfig struct {
	// MaxConsecutiveFailures is the budget before a module self-stops (default: 5)
	MaxConsecutiveFailures int `mapstructure:"max_consecutive_failures" yaml:"max_consecutive_failures"`
	// FailureBackoffMs is the pause after a failed step (default: 100)
	FailureBackoffMs int `mapstructure:"failure_backoff_ms" yaml:"failure_backoff_ms"`
}

// DecisionConfig controls the deterrence decision engine
type DecisionConfig struct {
	// TimeWindowSeconds is the length of the sliding window (default: 2.0)
	TimeWindowSeconds float64 `mapstructure:"time_window_seconds" yaml:"time_window_seconds"`
	// MinFrameRatio is the share of frames with a detection needed to trigger (default: 0.6)
	MinFrameRatio float64 `mapstructure:"min_frame_ratio" yaml:"min_frame_ratio"`
	// MinTotalScore is the summed confidence needed to trigger (default: 8.0)
	MinTotalScore float64 `mapstructure:"min_total_score" yaml:"min_total_score"`
	// CooldownSeconds suppresses new triggers after a reset (default: 15)
	CooldownSeconds float64 `mapstructure:"cooldown_seconds" yaml:"cooldown_seconds"`
	// ResetDelaySeconds is how long the flag stays raised (default: 2.0)
	ResetDelaySeconds float64 `mapstructure:"reset_delay_seconds" yaml:"reset_delay_seconds"`
	// MinSamples is the window size below which no trigger happens (default: 3)
	MinSamples int `mapstructure:"min_samples" yaml:"min_samples"`
	// MaxBatch caps how many detections one step drains (default: 20)
	MaxBatch int `mapstructure:"max_batch" yaml:"max_batch"`
	// QueueTimeoutMs is how long an idle step waits for detections (default: 50)
	QueueTimeoutMs int `mapstructure:"queue_timeout_ms" yaml:"queue_timeout_ms"`
	// CameraFOVDegrees maps a box centre to an actuator angle (default: 62.2)
	CameraFOVDegrees float64 `mapstructure:"camera_fov_degrees" yaml:"camera_fov_degrees"`
}

// LoRaConfig controls the LoRa UART bridge
type LoRaConfig struct {
	// Enabled starts the bridge module (default: true)
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
	// SerialPort is the bridge device (default: "/dev/ttyACM0")
	SerialPort string `mapstructure:"serial_port" yaml:"serial_port"`
	// SerialBaud is the bridge speed (default: 115200)
	SerialBaud int `mapstructure:"serial_baud" yaml:"serial_baud"`
	// QueueCapacity bounds lora.tx and lora.rx (default: 10)
	QueueCapacity int `mapstructure:"queue_capacity" yaml:"queue_capacity"`
	// MinTxIntervalMs is the minimum spacing between transmissions (default: 50)
	MinTxIntervalMs int `mapstructure:"min_tx_interval_ms" yaml:"min_tx_interval_ms"`
	// WriteTimeoutMs bounds a single serial write (default: 1000)
	WriteTimeoutMs int `mapstructure:"write_timeout_ms" yaml:"write_timeout_ms"`
	// AlertOnDeterrence sends LOUP_ANGLE alerts when the flag rises (default: true)
	AlertOnDeterrence bool `mapstructure:"alert_on_deterrence" yaml:"alert_on_deterrence"`
}

// ArchiveConfig controls event archiving
type ArchiveConfig struct {
	// Enabled starts the archive module (default: true)
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
	// DBPath is the SQLite database file (default: "<data dir>/events.db")
	DBPath string `mapstructure:"db_path" yaml:"db_path"`
	// ImageDir receives <event_id>_det.<format> files (default: "<data dir>/images")
	ImageDir string `mapstructure:"image_dir" yaml:"image_dir"`
	// ImageFormat is the extension used for archived frames (default: "jpg")
	ImageFormat string `mapstructure:"image_format" yaml:"image_format"`
	// PollIntervalMs is how often the deterrence flag is sampled (default: 200)
	PollIntervalMs int `mapstructure:"poll_interval_ms" yaml:"poll_interval_ms"`
	// RetentionDays deletes older events, 0 = keep forever (default: 30)
	RetentionDays int `mapstructure:"retention_days" yaml:"retention_days"`
}

// TelemetryConfig controls the MQTT publisher
type TelemetryConfig struct {
	// Enabled starts the telemetry module (default: false)
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
	// Broker is the MQTT broker URL (default: "tcp://localhost:1883")
	Broker string `mapstructure:"broker" yaml:"broker"`
	// ClientID identifies this unit to the broker (default: "drid")
	ClientID string `mapstructure:"client_id" yaml:"client_id"`
	// Username and Password are optional broker credentials
	Username string `mapstructure:"username" yaml:"username"`
	Password string `mapstructure:"password" yaml:"password"`
	// TopicPrefix is prepended to every topic (default: "drid")
	TopicPrefix string `mapstructure:"topic_prefix" yaml:"topic_prefix"`
	// EventQoS is used for event messages (default: 1)
	EventQoS int `mapstructure:"event_qos" yaml:"event_qos"`
	// SnapshotQoS is used for periodic health snapshots (default: 0)
	SnapshotQoS int `mapstructure:"snapshot_qos" yaml:"snapshot_qos"`
	// SnapshotIntervalSeconds is the health publish period (default: 10)
	SnapshotIntervalSeconds int `mapstructure:"snapshot_interval_seconds" yaml:"snapshot_interval_seconds"`
	// OutboxCapacity bounds the telemetry.outbox queue (default: 100)
	OutboxCapacity int `mapstructure:"outbox_capacity" yaml:"outbox_capacity"`
	// ConnectTimeoutSeconds bounds connect and publish waits (default: 10)
	ConnectTimeoutSeconds int `mapstructure:"connect_timeout_seconds" yaml:"connect_timeout_seconds"`
}

// StatusConfig controls the status file read by the external watchdog
type StatusConfig struct {
	// Path is the status file (default: "<data dir>/status.json")
	Path string `mapstructure:"path" yaml:"path"`
	// IntervalMs is the write period (default: 1000)
	IntervalMs int `mapstructure:"interval_ms" yaml:"interval_ms"`
}

// LoggingConfig controls logging behavior
type LoggingConfig struct {
	// Level is the log level: "debug", "info", "warn", "error" (default: "info")
	Level string `mapstructure:"level" yaml:"level"`
	// Dir holds drid.log; empty logs to stderr (default: "")
	Dir string `mapstructure:"dir" yaml:"dir"`
	// MaxSizeMB is the maximum log file size before rotation (default: 5)
	MaxSizeMB int `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	// MaxBackups is the number of rotated files to keep (default: 3)
	MaxBackups int `mapstructure:"max_backups" yaml:"max_backups"`
	// Compress gzips rotated files (default: false)
	Compress bool `mapstructure:"compress" yaml:"compress"`
}

// Default returns a Config with the device's default values
func Default() *Config {
	data := DataDir()
	return &Config{
		Hub: HubConfig{
			FramesCapacity:     3,
			DetectionsCapacity: 20,
			ProcessedCapacity:  3,
			ErrorsCapacity:     200,
		},
		Module: ModuleConfig{
			MaxConsecutiveFailures: 5,
			FailureBackoffMs:       100,
		},
		Decision: DecisionConfig{
			TimeWindowSeconds: 2.0,
			MinFrameRatio:     0.6,
			MinTotalScore:     8.0,
			CooldownSeconds:   15.0,
			ResetDelaySeconds: 2.0,
			MinSamples:        3,
			MaxBatch:          20,
			QueueTimeoutMs:    50,
			CameraFOVDegrees:  62.2, // Pi camera v2 horizontal FOV
		},
		LoRa: LoRaConfig{
			Enabled:           true,
			SerialPort:        "/dev/ttyACM0",
			SerialBaud:        115200,
			QueueCapacity:     10,
			MinTxIntervalMs:   50,
			WriteTimeoutMs:    1000,
			AlertOnDeterrence: true,
		},
		Archive: ArchiveConfig{
			Enabled:        true,
			DBPath:         filepath.Join(data, "events.db"),
			ImageDir:       filepath.Join(data, "images"),
			ImageFormat:    "jpg",
			PollIntervalMs: 200,
			RetentionDays:  30,
		},
		Telemetry: TelemetryConfig{
			Enabled:                 false,
			Broker:                  "tcp://localhost:1883",
			ClientID:                "drid",
			TopicPrefix:             "drid",
			EventQoS:                1,
			SnapshotQoS:             0,
			SnapshotIntervalSeconds: 10,
			OutboxCapacity:          100,
			ConnectTimeoutSeconds:   10,
		},
		Status: StatusConfig{
			Path:       filepath.Join(data, "status.json"),
			IntervalMs: 1000,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Dir:        "",
			MaxSizeMB:  5,
			MaxBackups: 3,
			Compress:   false,
		},
	}
}

// FailureBackoff returns the pause after a failed step
func (c *ModuleConfig) FailureBackoff() time.Duration {
	return time.Duration(c.FailureBackoffMs) * time.Millisecond
}

// TimeWindow returns the sliding window length
func (c *DecisionConfig) TimeWindow() time.Duration {
	return seconds(c.TimeWindowSeconds)
}

// Cooldown returns the cooldown period
func (c *DecisionConfig) Cooldown() time.Duration {
	return seconds(c.CooldownSeconds)
}

// ResetDelay returns how long the deterrence flag stays raised
func (c *DecisionConfig) ResetDelay() time.Duration {
	return seconds(c.ResetDelaySeconds)
}

// QueueTimeout returns how long an idle step waits for detections
func (c *DecisionConfig) QueueTimeout() time.Duration {
	return time.Duration(c.QueueTimeoutMs) * time.Millisecond
}

// MinTxInterval returns the minimum spacing between LoRa transmissions
func (c *LoRaConfig) MinTxInterval() time.Duration {
	return time.Duration(c.MinTxIntervalMs) * time.Millisecond
}

// WriteTimeout returns the serial write bound
func (c *LoRaConfig) WriteTimeout() time.Duration {
	return time.Duration(c.WriteTimeoutMs) * time.Millisecond
}

// PollInterval returns how often the archive samples the deterrence flag
func (c *ArchiveConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMs) * time.Millisecond
}

// Retention returns the archive retention (0 means keep forever)
func (c *ArchiveConfig) Retention() time.Duration {
	return time.Duration(c.RetentionDays) * 24 * time.Hour
}

// SnapshotInterval returns the telemetry health publish period
func (c *TelemetryConfig) SnapshotInterval() time.Duration {
	return time.Duration(c.SnapshotIntervalSeconds) * time.Second
}

// ConnectTimeout returns the MQTT connect/publish wait bound
func (c *TelemetryConfig) ConnectTimeout() time.Duration {
	return time.Duration(c.ConnectTimeoutSeconds) * time.Second
}

// Interval returns the status file write period
func (c *StatusConfig) Interval() time.Duration {
	return time.Duration(c.IntervalMs) * time.Millisecond
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// SetDefaults registers default values with viper
func SetDefaults() {
	SetDefaultsOn(viper.GetViper())
}

// SetDefaultsOn registers default values on v. Tests use a private viper
// instance so they do not leak state into the global one.
func SetDefaultsOn(v *viper.Viper) {
	d := Default()

	v.SetDefault("hub.frames_capacity", d.Hub.FramesCapacity)
	v.SetDefault("hub.detections_capacity", d.Hub.DetectionsCapacity)
	v.SetDefault("hub.processed_capacity", d.Hub.ProcessedCapacity)
	v.SetDefault("hub.errors_capacity", d.Hub.ErrorsCapacity)

	v.SetDefault("module.max_consecutive_failures", d.Module.MaxConsecutiveFailures)
	v.SetDefault("module.failure_backoff_ms", d.Module.FailureBackoffMs)

	v.SetDefault("decision.time_window_seconds", d.Decision.TimeWindowSeconds)
	v.SetDefault("decision.min_frame_ratio", d.Decision.MinFrameRatio)
	v.SetDefault("decision.min_total_score", d.Decision.MinTotalScore)
	v.SetDefault("decision.cooldown_seconds", d.Decision.CooldownSeconds)
	v.SetDefault("decision.reset_delay_seconds", d.Decision.ResetDelaySeconds)
	v.SetDefault("decision.min_samples", d.Decision.MinSamples)
	v.SetDefault("decision.max_batch", d.Decision.MaxBatch)
	v.SetDefault("decision.queue_timeout_ms", d.Decision.QueueTimeoutMs)
	v.SetDefault("decision.camera_fov_degrees", d.Decision.CameraFOVDegrees)

	v.SetDefault("lora.enabled", d.LoRa.Enabled)
	v.SetDefault("lora.serial_port", d.LoRa.SerialPort)
	v.SetDefault("lora.serial_baud", d.LoRa.SerialBaud)
	v.SetDefault("lora.queue_capacity", d.LoRa.QueueCapacity)
	v.SetDefault("lora.min_tx_interval_ms", d.LoRa.MinTxIntervalMs)
	v.SetDefault("lora.write_timeout_ms", d.LoRa.WriteTimeoutMs)
	v.SetDefault("lora.alert_on_deterrence", d.LoRa.AlertOnDeterrence)

	v.SetDefault("archive.enabled", d.Archive.Enabled)
	v.SetDefault("archive.db_path", d.Archive.DBPath)
	v.SetDefault("archive.image_dir", d.Archive.ImageDir)
	v.SetDefault("archive.image_format", d.Archive.ImageFormat)
	v.SetDefault("archive.poll_interval_ms", d.Archive.PollIntervalMs)
	v.SetDefault("archive.retention_days", d.Archive.RetentionDays)

	v.SetDefault("telemetry.enabled", d.Telemetry.Enabled)
	v.SetDefault("telemetry.broker", d.Telemetry.Broker)
	v.SetDefault("telemetry.client_id", d.Telemetry.ClientID)
	v.SetDefault("telemetry.username", d.Telemetry.Username)
	v.SetDefault("telemetry.password", d.Telemetry.Password)
	v.SetDefault("telemetry.topic_prefix", d.Telemetry.TopicPrefix)
	v.SetDefault("telemetry.event_qos", d.Telemetry.EventQoS)
	v.SetDefault("telemetry.snapshot_qos", d.Telemetry.SnapshotQoS)
	v.SetDefault("telemetry.snapshot_interval_seconds", d.Telemetry.SnapshotIntervalSeconds)
	v.SetDefault("telemetry.outbox_capacity", d.Telemetry.OutboxCapacity)
	v.SetDefault("telemetry.connect_timeout_seconds", d.Telemetry.ConnectTimeoutSeconds)

	v.SetDefault("status.path", d.Status.Path)
	v.SetDefault("status.interval_ms", d.Status.IntervalMs)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.dir", d.Logging.Dir)
	v.SetDefault("logging.max_size_mb", d.Logging.MaxSizeMB)
	v.SetDefault("logging.max_backups", d.Logging.MaxBackups)
	v.SetDefault("logging.compress", d.Logging.Compress)
}

// Load reads the configuration from viper into a Config struct and validates it
func Load() (*Config, error) {
	return LoadFrom(viper.GetViper())
}

// LoadFrom reads and validates the configuration held by v
func LoadFrom(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}

	return &cfg, nil
}

// Get returns the current configuration (convenience function)
func Get() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// ConfigDir returns the path to the user's config directory
func ConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "drid")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".drid"
	}
	return filepath.Join(home, ".config", "drid")
}

// ConfigFile returns the path to the config file
func ConfigFile() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}

// DataDir returns where runtime data (archive, status file) lives by default
func DataDir() string {
	if xdg := os.Getenv("XDG_STATE_HOME"); xdg != "" {
		return filepath.Join(xdg, "drid")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".drid"
	}
	return filepath.Join(home, ".local", "state", "drid")
}

// ExpandPath expands a leading ~ to the user's home directory
func ExpandPath(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return path
}
