package cmd

import (
	"github.com/yilhu/DRID-modules/internal/archive"
	"github.com/yilhu/DRID-modules/internal/config"
	"github.com/yilhu/DRID-modules/internal/decision"
	"github.com/yilhu/DRID-modules/internal/errors"
	"github.com/yilhu/DRID-modules/internal/hub"
	"github.com/yilhu/DRID-modules/internal/logging"
	"github.com/yilhu/DRID-modules/internal/lora"
	"github.com/yilhu/DRID-modules/internal/module"
	"github.com/yilhu/DRID-modules/internal/status"
	"github.com/yilhu/DRID-modules/internal/supervisor"
	"github.com/yilhu/DRID-modules/internal/telemetry"
)

// device is the assembled process: one hub, its modules and the supervisor
// that owns their lifetime.
type device struct {
	hub    *hub.Hub
	sup    *supervisor.Supervisor
	engine *decision.Engine
	writer *status.Writer
	store  *archive.Store
}

// buildDevice creates the hub and every enabled module from cfg. Nothing is
// started. The sensor and actuator producers attach to the returned hub.
func buildDevice(cfg *config.Config, reg *config.Registry, logger *logging.Logger) (*device, error) {
	h := hub.NewFromConfig(cfg, reg, logger)
	d := &device{hub: h}

	runnerOpts := func(extra ...module.Option) []module.Option {
		return append([]module.Option{
			module.WithMaxConsecutiveFailures(cfg.Module.MaxConsecutiveFailures),
			module.WithFailureBackoff(cfg.Module.FailureBackoff()),
			module.WithLogger(logger),
		}, extra...)
	}

	var mods []*module.Module

	d.engine = decision.New(h, cfg.Decision, decision.WithLogger(logger.WithModule(decision.Name)))
	mods = append(mods, module.New(decision.Name, h, d.engine, runnerOpts()...))

	if cfg.LoRa.Enabled {
		bridge, err := lora.New(h, cfg.LoRa, lora.WithLogger(logger.WithModule(lora.Name)))
		if err != nil {
			return nil, errors.Wrap(err, "failed to create LoRa bridge")
		}
		mods = append(mods, module.New(lora.Name, h, bridge, runnerOpts()...))
	}

	if cfg.Archive.Enabled {
		store, err := archive.OpenStore(config.ExpandPath(cfg.Archive.DBPath))
		if err != nil {
			return nil, errors.Wrap(err, "failed to open event archive")
		}
		d.store = store
		archCfg := cfg.Archive
		archCfg.ImageDir = config.ExpandPath(archCfg.ImageDir)
		archiver := archive.New(h, store, archCfg, archive.WithLogger(logger.WithModule(archive.Name)))
		mods = append(mods, module.New(archive.Name, h, archiver,
			runnerOpts(module.WithInterval(cfg.Archive.PollInterval()))...))
	}

	if cfg.Telemetry.Enabled {
		pub := telemetry.NewMQTTPublisher(cfg.Telemetry, logger.WithModule(telemetry.Name))
		t, err := telemetry.New(h, pub, cfg.Telemetry, telemetry.WithLogger(logger.WithModule(telemetry.Name)))
		if err != nil {
			d.closeStore()
			return nil, errors.Wrap(err, "failed to create telemetry")
		}
		mods = append(mods, module.New(telemetry.Name, h, t, runnerOpts()...))
	}

	d.writer = status.NewWriter(h, config.ExpandPath(cfg.Status.Path), status.WithLogger(logger.WithModule(status.Name)))
	mods = append(mods, module.New(status.Name, h, d.writer,
		runnerOpts(module.WithInterval(cfg.Status.Interval()))...))

	d.sup = supervisor.New(h,
		supervisor.WithLogger(logger.WithModule("supervisor")),
		supervisor.WithOnStopped(func() {
			// Leave the watchdog a final picture with every module STOPPED.
			if err := d.writer.Write(); err != nil {
				logger.Warn("final status write failed", "error", err)
			}
		}))
	d.sup.Add(mods...)
	return d, nil
}

// closeStore releases the archive database when the device is abandoned
// before its archive module ran.
func (d *device) closeStore() {
	if d.store != nil {
		_ = d.store.Close()
		d.store = nil
	}
}
