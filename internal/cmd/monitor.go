package cmd

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/yilhu/DRID-modules/internal/config"
	"github.com/yilhu/DRID-modules/internal/tui/monitor"
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Watch a running device live",
	Long: `Monitor opens a full-screen view of the status file and refreshes it
periodically. Use the arrow keys to select a module, p to pause, r to
reload immediately and q to quit.`,
	Args: cobra.NoArgs,
	RunE: runMonitor,
}

var (
	monitorPath     string
	monitorInterval time.Duration
	monitorModule   string
)

func init() {
	rootCmd.AddCommand(monitorCmd)

	monitorCmd.Flags().StringVar(&monitorPath, "path", "", "Status file (default: status.path from config)")
	monitorCmd.Flags().DurationVarP(&monitorInterval, "interval", "i", 0, "Reload period (default: status.interval_ms from config)")
	monitorCmd.Flags().StringVarP(&monitorModule, "module", "m", "", "Only show modules matching this glob")
}

func runMonitor(cmd *cobra.Command, args []string) error {
	cfg := config.Get()

	path := monitorPath
	if path == "" {
		path = cfg.Status.Path
	}
	interval := monitorInterval
	if interval <= 0 {
		interval = cfg.Status.Interval()
	}

	return monitor.Run(monitor.Options{
		Path:     config.ExpandPath(path),
		Interval: interval,
		Modules:  monitorModule,
	})
}
