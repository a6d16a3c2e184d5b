package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/yilhu/DRID-modules/internal/archive"
	"github.com/yilhu/DRID-modules/internal/config"
	"github.com/yilhu/DRID-modules/internal/status"
	"github.com/yilhu/DRID-modules/internal/util"
)

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "List archived deterrence events",
	Long: `Events lists the deterrence episodes recorded by the archive module,
newest first. Use 'drid events show <id>' for one event in full.`,
	Args: cobra.NoArgs,
	RunE: runEvents,
}

var eventsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show one archived event",
	Args:  cobra.ExactArgs(1),
	RunE:  runEventsShow,
}

var (
	eventsLimit  int
	eventsFormat string
	eventsDB     string
)

func init() {
	rootCmd.AddCommand(eventsCmd)
	eventsCmd.AddCommand(eventsShowCmd)

	eventsCmd.PersistentFlags().StringVarP(&eventsFormat, "format", "o", "text", "Output format (text/json/yaml)")
	eventsCmd.PersistentFlags().StringVar(&eventsDB, "db", "", "Archive database (default: archive.db_path from config)")
	eventsCmd.Flags().IntVarP(&eventsLimit, "limit", "n", 20, "Number of events to list")
}

func openArchive() (*archive.Store, error) {
	path := eventsDB
	if path == "" {
		path = config.Get().Archive.DBPath
	}
	path = config.ExpandPath(path)
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("no event archive at %s: %w", path, err)
	}
	return archive.OpenStore(path)
}

func runEvents(cmd *cobra.Command, args []string) error {
	format, err := status.ParseFormat(eventsFormat)
	if err != nil {
		return err
	}
	store, err := openArchive()
	if err != nil {
		return err
	}
	defer store.Close()

	events, err := store.Recent(cmd.Context(), eventsLimit)
	if err != nil {
		return err
	}
	return writeEvents(cmd.OutOrStdout(), events, format)
}

func runEventsShow(cmd *cobra.Command, args []string) error {
	format, err := status.ParseFormat(eventsFormat)
	if err != nil {
		return err
	}
	store, err := openArchive()
	if err != nil {
		return err
	}
	defer store.Close()

	ev, err := store.Lookup(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	if format == status.FormatText {
		format = status.FormatYAML
	}
	return writeEvents(cmd.OutOrStdout(), ev, format)
}

// writeEvents prints v, either one archive.Event or a slice of them.
func writeEvents(w io.Writer, v any, format status.Format) error {
	switch format {
	case status.FormatJSON:
		data, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(w, "%s\n", data)
		return err
	case status.FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	}

	events, ok := v.([]archive.Event)
	if !ok {
		return fmt.Errorf("cannot render %T as text", v)
	}
	if len(events) == 0 {
		_, err := fmt.Fprintln(w, "No events archived.")
		return err
	}

	fmt.Fprintf(w, "%-8s  %-19s  %-12s  %5s  %7s  %4s  %s\n",
		"ID", "TIME", "LABEL", "CONF", "ANGLE", "DETS", "IMAGE")
	for _, ev := range events {
		fmt.Fprintf(w, "%-8s  %-19s  %-12s  %5.2f  %7.1f  %4d  %s\n",
			shortID(ev.ID),
			ev.OccurredAt.Local().Format("2006-01-02 15:04:05"),
			util.TruncateString(ev.Label, 12),
			ev.Confidence,
			ev.TargetAngle,
			ev.DetectionCount,
			ev.ImagePath)
	}
	return nil
}

// shortID is the prefix shown in listings; uuids are unique well before
// eight characters on a single device.
func shortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}
