package observability

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"regexp"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/gobwas/glob"
	"github.com/spf13/cobra"

	"github.com/yilhu/DRID-modules/internal/config"
	"github.com/yilhu/DRID-modules/internal/logging"
	"github.com/yilhu/DRID-modules/internal/status"
	"github.com/yilhu/DRID-modules/internal/tui/styles"
)

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "View device logs",
	Long: `View and filter the JSON log written by 'drid run'.

The log lives in logging.dir (drid.log). When logging.dir is empty the
device logs to stderr and there is nothing to read here.

Examples:
  # Show last 50 lines
  drid logs

  # Follow the LoRa bridge in real-time
  drid logs -f --module lora

  # Warnings and errors from the last hour
  drid logs --level warn --since 1h

  # Search for specific patterns
  drid logs --grep "TRIGGERED|RESET"`,
	Args: cobra.NoArgs,
	RunE: runLogs,
}

var (
	logsFile   string
	logsTail   int
	logsFollow bool
	logsLevel  string
	logsSince  string
	logsGrep   string
	logsModule string
)

// RegisterLogsCmd adds the logs command to parent.
func RegisterLogsCmd(parent *cobra.Command) {
	parent.AddCommand(logsCmd)

	logsCmd.Flags().StringVar(&logsFile, "file", "", "Log file (default: <logging.dir>/drid.log)")
	logsCmd.Flags().IntVarP(&logsTail, "tail", "n", 50, "Number of lines to show (0 for all)")
	logsCmd.Flags().BoolVarP(&logsFollow, "follow", "f", false, "Follow log output (like tail -f)")
	logsCmd.Flags().StringVar(&logsLevel, "level", "", "Filter by minimum level (debug/info/warn/error)")
	logsCmd.Flags().StringVar(&logsSince, "since", "", "Show logs since duration ago (e.g., 1h, 30m)")
	logsCmd.Flags().StringVar(&logsGrep, "grep", "", "Filter logs matching pattern (regex)")
	logsCmd.Flags().StringVarP(&logsModule, "module", "m", "", "Only show modules matching this glob")
}

// logEntry represents a parsed JSON log line
type logEntry struct {
	Time   time.Time      `json:"time"`
	Level  string         `json:"level"`
	Msg    string         `json:"msg"`
	Module string         `json:"module,omitempty"`
	Extra  map[string]any `json:"-"` // Captures additional fields
}

// UnmarshalJSON implements custom unmarshaling to capture extra fields
func (e *logEntry) UnmarshalJSON(data []byte) error {
	// First, unmarshal known fields using a type alias to avoid recursion
	type Alias logEntry
	aux := &struct {
		*Alias
	}{
		Alias: (*Alias)(e),
	}
	if err := json.Unmarshal(data, aux); err != nil {
		return err
	}

	var all map[string]any
	if err := json.Unmarshal(data, &all); err != nil {
		return err
	}
	for _, k := range []string{"time", "level", "msg", "module"} {
		delete(all, k)
	}
	if len(all) > 0 {
		e.Extra = all
	}
	return nil
}

// filter holds the parsed filter flags.
type filter struct {
	minLevel int
	since    time.Time
	grep     *regexp.Regexp
	module   glob.Glob
}

// levelPriority returns the priority of a log level for filtering
func levelPriority(level string) int {
	switch strings.ToUpper(level) {
	case logging.LevelDebug:
		return 0
	case logging.LevelInfo:
		return 1
	case logging.LevelWarn:
		return 2
	case logging.LevelError:
		return 3
	default:
		return -1
	}
}

func levelStyle(level string) lipgloss.Style {
	switch strings.ToUpper(level) {
	case logging.LevelDebug:
		return styles.Muted
	case logging.LevelInfo:
		return styles.Primary
	case logging.LevelWarn:
		return styles.Warning
	case logging.LevelError:
		return styles.Error
	default:
		return styles.Text
	}
}

func newFilter(level, since, grep, module string, now time.Time) (filter, error) {
	f := filter{minLevel: -1}

	if level != "" {
		if !slices.Contains(logging.ValidLevels(), strings.ToUpper(level)) {
			return f, fmt.Errorf("invalid level %q: expected one of %s",
				level, strings.ToLower(strings.Join(logging.ValidLevels(), ", ")))
		}
		f.minLevel = levelPriority(level)
	}

	if since != "" {
		d, err := time.ParseDuration(since)
		if err != nil {
			return f, fmt.Errorf("invalid duration format: %w", err)
		}
		f.since = now.Add(-d)
	}

	if grep != "" {
		re, err := regexp.Compile(grep)
		if err != nil {
			return f, fmt.Errorf("invalid grep pattern: %w", err)
		}
		f.grep = re
	}

	if module != "" {
		g, err := glob.Compile(module)
		if err != nil {
			return f, fmt.Errorf("invalid module pattern: %w", err)
		}
		f.module = g
	}
	return f, nil
}

// passes checks if a log entry passes all filter criteria
func (f filter) passes(entry *logEntry) bool {
	if f.minLevel >= 0 && levelPriority(entry.Level) < f.minLevel {
		return false
	}
	if !f.since.IsZero() && entry.Time.Before(f.since) {
		return false
	}
	if f.module != nil && !f.module.Match(entry.Module) {
		return false
	}

	// Grep searches the message and extra fields
	if f.grep != nil {
		var sb strings.Builder
		sb.WriteString(entry.Msg)
		for _, v := range entry.Extra {
			fmt.Fprintf(&sb, " %v", v)
		}
		if !f.grep.MatchString(sb.String()) {
			return false
		}
	}
	return true
}

// formatLogEntry formats a log entry for terminal output
func formatLogEntry(entry *logEntry, color bool) string {
	paint := func(st lipgloss.Style, s string) string {
		if !color {
			return s
		}
		return st.Render(s)
	}

	var sb strings.Builder
	sb.WriteString(paint(styles.Muted, "["+entry.Time.Local().Format("15:04:05.000")+"]"))
	sb.WriteString(" ")
	sb.WriteString(paint(levelStyle(entry.Level), "["+strings.ToUpper(entry.Level)+"]"))
	if entry.Module != "" {
		sb.WriteString(" ")
		sb.WriteString(paint(styles.Secondary, entry.Module+":"))
	}
	sb.WriteString(" ")
	sb.WriteString(entry.Msg)

	// Extra fields, sorted so repeated runs line up
	keys := make([]string, 0, len(entry.Extra))
	for k := range entry.Extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		sb.WriteString(" ")
		sb.WriteString(paint(styles.Muted, k+"="))
		fmt.Fprintf(&sb, "%v", entry.Extra[k])
	}
	return sb.String()
}

// formatLine renders one raw line, or returns false if the filter drops it.
// Lines that are not JSON are passed through unchanged.
func formatLine(line string, f filter, color bool) (string, bool) {
	var entry logEntry
	if err := json.Unmarshal([]byte(line), &entry); err != nil {
		return line, true
	}
	if !f.passes(&entry) {
		return "", false
	}
	return formatLogEntry(&entry, color), true
}

func logPath() (string, error) {
	if logsFile != "" {
		return config.ExpandPath(logsFile), nil
	}
	dir := config.Get().Logging.Dir
	if dir == "" {
		return "", fmt.Errorf("logging.dir is not set; the device logs to stderr")
	}
	return filepath.Join(config.ExpandPath(dir), logging.FileName), nil
}

func runLogs(cmd *cobra.Command, args []string) error {
	path, err := logPath()
	if err != nil {
		return err
	}
	f, err := newFilter(logsLevel, logsSince, logsGrep, logsModule, time.Now())
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	color := false
	if file, ok := out.(*os.File); ok {
		color = status.ColorEnabled(file)
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		fmt.Fprintf(out, "No logs found at %s\n", path)
		return nil
	}

	if logsFollow {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()
		return followLogs(ctx, out, path, f, color)
	}
	return displayLogs(out, path, logsTail, f, color)
}

// displayLogs reads the log file and displays filtered entries
func displayLogs(w io.Writer, path string, tail int, f filter, color bool) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer file.Close()

	var entries []string
	scanner := bufio.NewScanner(file)

	// Increase buffer size for potentially long log lines
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		if s, ok := formatLine(line, f, color); ok {
			entries = append(entries, s)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("error reading log file: %w", err)
	}

	if tail > 0 && len(entries) > tail {
		entries = entries[len(entries)-tail:]
	}
	for _, entry := range entries {
		fmt.Fprintln(w, entry)
	}
	if len(entries) == 0 {
		fmt.Fprintln(w, "No matching log entries found.")
	}
	return nil
}

// followLogs implements tail -f behavior until ctx is cancelled. A file
// that shrinks has been rotated and is reopened from the start.
func followLogs(ctx context.Context, w io.Writer, path string, f filter, color bool) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer func() { file.Close() }()

	offset, err := file.Seek(0, io.SeekEnd)
	if err != nil {
		return fmt.Errorf("failed to seek to end: %w", err)
	}

	fmt.Fprintf(w, "Following %s... (Ctrl+C to stop)\n\n", path)

	reader := bufio.NewReader(file)
	var partial string
	for {
		chunk, err := reader.ReadString('\n')
		offset += int64(len(chunk))
		if err == nil {
			line := strings.TrimSpace(partial + chunk)
			partial = ""
			if line == "" {
				continue
			}
			if s, ok := formatLine(line, f, color); ok {
				fmt.Fprintln(w, s)
			}
			continue
		}
		if err != io.EOF {
			return fmt.Errorf("error reading log file: %w", err)
		}
		partial += chunk

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(100 * time.Millisecond):
		}

		if info, statErr := os.Stat(path); statErr == nil && info.Size() < offset {
			next, openErr := os.Open(path)
			if openErr != nil {
				continue
			}
			file.Close()
			file = next
			reader = bufio.NewReader(file)
			offset = 0
			partial = ""
		}
	}
}
