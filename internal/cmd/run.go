package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/yilhu/DRID-modules/internal/config"
	"github.com/yilhu/DRID-modules/internal/event"
	"github.com/yilhu/DRID-modules/internal/logging"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the device core until interrupted",
	Long: `Run creates the data hub, starts the decision engine and every enabled
collaborator (LoRa bridge, event archive, MQTT telemetry, status file) and
keeps them running until SIGINT or SIGTERM.

On shutdown every module is stopped and waited for, a final status file is
written, and only then is the hub closed.

Decision thresholds are re-applied when the config file changes on disk.`,
	Args: cobra.NoArgs,
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func newLogger(cfg config.LoggingConfig) (*logging.Logger, error) {
	return logging.NewLogger(logging.Options{
		Dir:   config.ExpandPath(cfg.Dir),
		Level: cfg.Level,
		Rotation: logging.RotationConfig{
			MaxSizeMB:  cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			Compress:   cfg.Compress,
		},
	})
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger, err := newLogger(cfg.Logging)
	if err != nil {
		return err
	}
	defer logger.Close()

	d, err := buildDevice(cfg, config.RegistryFrom(viper.GetViper()), logger)
	if err != nil {
		logger.Error("device setup failed", "error", err)
		return err
	}

	if path := viper.ConfigFileUsed(); path != "" {
		logger.Info("using config file", "path", path)
		config.Watch(viper.GetViper(), func(next *config.Config) {
			d.engine.UpdateConfig(next.Decision)
			d.hub.Events().Publish(event.NewConfigReloadedEvent(path))
		}, func(err error) {
			logger.Warn("ignoring config change", "path", path, "error", err)
		})
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("device starting", "modules", len(d.sup.Modules()), "status_path", d.writer.Path())
	if err := d.sup.Run(ctx); err != nil {
		logger.Error("device stopped with errors", "error", err)
		return err
	}
	logger.Info("device stopped")
	return nil
}
