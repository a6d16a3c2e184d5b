package cmd

import (
	"os"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/yilhu/DRID-modules/internal/config"
	"github.com/yilhu/DRID-modules/internal/status"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the status of a running device",
	Long: `Status reads the status file written by 'drid run' and prints the
deterrence flag, the actuator target, module health and queue depths.

Examples:
  # Tables for humans
  drid status

  # Only the serial modules, as YAML
  drid status --module 'lora*' --format yaml

  # Exit non-zero when the file is stale or a module has stopped
  drid status --check --max-age 5s`,
	Args: cobra.NoArgs,
	RunE: runStatus,
}

var (
	statusFormat string
	statusModule string
	statusPath   string
	statusCheck  bool
	statusMaxAge time.Duration
)

func init() {
	rootCmd.AddCommand(statusCmd)

	statusCmd.Flags().StringVarP(&statusFormat, "format", "o", "text", "Output format (text/json/yaml)")
	statusCmd.Flags().StringVarP(&statusModule, "module", "m", "", "Only show modules matching this glob")
	statusCmd.Flags().StringVar(&statusPath, "path", "", "Status file (default: status.path from config)")
	statusCmd.Flags().BoolVar(&statusCheck, "check", false, "Fail if the snapshot is stale or a module is stopped")
	statusCmd.Flags().DurationVar(&statusMaxAge, "max-age", 0, "Staleness limit for --check (default: three write intervals)")
}

func runStatus(cmd *cobra.Command, args []string) error {
	format, err := status.ParseFormat(statusFormat)
	if err != nil {
		return err
	}

	cfg := config.Get()
	path := statusPath
	if path == "" {
		path = cfg.Status.Path
	}

	snap, err := status.Read(config.ExpandPath(path))
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	opts := status.RenderOptions{
		Format:  format,
		Modules: statusModule,
	}
	if f, ok := out.(*os.File); ok {
		opts.Color = status.ColorEnabled(f)
		if w, _, err := term.GetSize(int(f.Fd())); err == nil {
			opts.Width = w
		}
	}
	if err := status.Render(out, snap, opts); err != nil {
		return err
	}

	if !statusCheck {
		return nil
	}
	maxAge := statusMaxAge
	if maxAge <= 0 {
		maxAge = 3 * cfg.Status.Interval()
	}
	return status.Check(snap, time.Now(), maxAge)
}
