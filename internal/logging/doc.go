// Package logging provides structured logging for the detection unit.
//
// It wraps Go's log/slog with a JSON handler. Every module gets a child
// logger carrying a persistent "module" attribute, so a single log file can
// be filtered per worker after the fact.
//
// # Output
//
// With a log directory configured, lines go to <dir>/drid.log through a
// [RotatingWriter] that rotates by size and keeps a fixed number of backups
// (optionally gzipped). Without one, lines go to stderr.
//
// # Usage
//
//	logger, err := logging.NewLogger(logging.Options{Dir: "/var/log/drid", Level: "INFO"})
//	if err != nil {
//	    return err
//	}
//	defer logger.Close()
//
//	lora := logger.WithModule("lora")
//	lora.Warn("step failed", "error", err, "consecutive_failures", 2)
//
// Output:
//
//	{"time":"...","level":"WARN","msg":"step failed","module":"lora","error":"...","consecutive_failures":2}
//
// # Thread Safety
//
// [Logger] and [RotatingWriter] are safe for concurrent use. Child loggers
// share the parent's writer.
package logging
