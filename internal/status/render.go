package status

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/gobwas/glob"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"

	"github.com/yilhu/DRID-modules/internal/errors"
	"github.com/yilhu/DRID-modules/internal/hub"
	"github.com/yilhu/DRID-modules/internal/tui/styles"
	"github.com/yilhu/DRID-modules/internal/util"
)

// Format selects the output of Render.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// ParseFormat validates a --format value.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(s)); f {
	case FormatText, FormatJSON, FormatYAML:
		return f, nil
	default:
		return "", errors.NewValidationError("unknown output format").
			WithField("format").
			WithValue(s)
	}
}

// RenderOptions controls Render.
type RenderOptions struct {
	Format Format
	// Modules is a glob over module names; empty keeps all.
	Modules string
	// Color styles text output.
	Color bool
	// Width truncates long text cells; 0 disables truncation.
	Width int
	// Now is used for ages in text output; zero means time.Now.
	Now time.Time
}

// ColorEnabled reports whether f is a terminal and NO_COLOR is unset.
func ColorEnabled(f *os.File) bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	return term.IsTerminal(int(f.Fd()))
}

// Filter keeps only the modules whose name matches pattern.
func Filter(snap hub.Snapshot, pattern string) (hub.Snapshot, error) {
	if pattern == "" {
		return snap, nil
	}
	g, err := glob.Compile(pattern)
	if err != nil {
		return snap, errors.NewValidationError("invalid module pattern").
			WithField("module").
			WithValue(pattern).
			WithCause(err)
	}
	modules := make(map[string]hub.ModuleHealth)
	for name, m := range snap.Modules {
		if g.Match(name) {
			modules[name] = m
		}
	}
	snap.Modules = modules
	return snap, nil
}

// Render writes snap to w in the requested format.
func Render(w io.Writer, snap hub.Snapshot, opts RenderOptions) error {
	snap, err := Filter(snap, opts.Modules)
	if err != nil {
		return err
	}

	switch opts.Format {
	case FormatJSON:
		data, err := snap.MarshalIndent()
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(w, "%s\n", data)
		return err
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(snap); err != nil {
			return err
		}
		return enc.Close()
	case FormatText, "":
		_, err := io.WriteString(w, Text(snap, opts))
		return err
	default:
		_, err := ParseFormat(string(opts.Format))
		return err
	}
}

// Text renders snap as aligned tables.
func Text(snap hub.Snapshot, opts RenderOptions) string {
	paint := func(st lipgloss.Style, s string) string {
		if !opts.Color {
			return s
		}
		return st.Render(s)
	}
	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s  %s\n",
		paint(styles.Title, "DRID status"),
		paint(styles.Muted, fmt.Sprintf("taken %s (%s ago)",
			snap.TakenAt.Local().Format("2006-01-02 15:04:05"), age(now, snap.TakenAt))))

	if snap.DeterrenceFlag {
		fmt.Fprintf(&b, "Deterrence: %s\n", paint(styles.Error, "RAISED"))
	} else {
		fmt.Fprintf(&b, "Deterrence: %s\n", paint(styles.Secondary, "clear"))
	}
	if a := snap.Actuator; !a.UpdatedAt.IsZero() {
		fmt.Fprintf(&b, "Actuator:   %.1f deg", a.TargetAngle)
		if a.Label != "" {
			fmt.Fprintf(&b, " (%s %.2f)", a.Label, a.Confidence)
		}
		fmt.Fprintf(&b, ", %s ago\n", age(now, a.UpdatedAt))
	}

	b.WriteString("\n")
	rows := [][]string{{"MODULE", "STATE", "HEARTBEAT", "OK", "FAIL", "LAST FAILURE"}}
	for _, name := range sortedKeys(snap.Modules) {
		m := snap.Modules[name]
		heartbeat := "-"
		if !m.LastHeartbeat.IsZero() {
			heartbeat = age(now, m.LastHeartbeat)
		}
		rows = append(rows, []string{
			name,
			m.State,
			heartbeat,
			fmt.Sprint(m.SuccessCount),
			fmt.Sprint(m.FailureCount),
			clip(m.LastFailure, opts.Width),
		})
	}
	writeTable(&b, rows, func(row, col int, cell string) string {
		switch {
		case row == 0:
			return paint(styles.TableHead, cell)
		case col == 1:
			return paint(stateStyle(cell), cell)
		case col == 5 && cell != "":
			return paint(styles.Warning, cell)
		}
		return cell
	})

	b.WriteString("\n")
	rows = [][]string{{"QUEUE", "LENGTH", "CAPACITY", "DROPPED"}}
	for _, name := range sortedKeys(snap.Queues) {
		q := snap.Queues[name]
		capacity := "unbounded"
		if q.Capacity > 0 {
			capacity = fmt.Sprint(q.Capacity)
		}
		rows = append(rows, []string{name, fmt.Sprint(q.Length), capacity, fmt.Sprint(q.Dropped)})
	}
	writeTable(&b, rows, func(row, col int, cell string) string {
		switch {
		case row == 0:
			return paint(styles.TableHead, cell)
		case col == 3 && cell != "0":
			return paint(styles.Warning, cell)
		}
		return cell
	})

	if len(snap.Reports) > 0 {
		b.WriteString("\n")
		b.WriteString(paint(styles.TableHead, "REPORTS"))
		b.WriteString("\n")
		for _, key := range sortedKeys(snap.Reports) {
			data, err := json.Marshal(snap.Reports[key])
			if err != nil {
				data = []byte(err.Error())
			}
			fmt.Fprintf(&b, "  %s  %s\n", key, clip(string(data), opts.Width))
		}
	}
	return b.String()
}

func stateStyle(state string) lipgloss.Style {
	return lipgloss.NewStyle().Foreground(styles.StateColor(state))
}

// writeTable pads every column to its widest plain cell, then styles.
func writeTable(b *strings.Builder, rows [][]string, style func(row, col int, cell string) string) {
	var widths []int
	for _, row := range rows {
		for i, cell := range row {
			if i >= len(widths) {
				widths = append(widths, 0)
			}
			widths[i] = max(widths[i], lipgloss.Width(cell))
		}
	}
	for r, row := range rows {
		var line strings.Builder
		for c, cell := range row {
			if c > 0 {
				line.WriteString("  ")
			}
			line.WriteString(style(r, c, cell))
			if c < len(row)-1 {
				line.WriteString(strings.Repeat(" ", widths[c]-lipgloss.Width(cell)))
			}
		}
		b.WriteString(strings.TrimRight(line.String(), " "))
		b.WriteString("\n")
	}
}

func clip(s string, width int) string {
	if width <= 0 {
		return s
	}
	return util.TruncateANSI(s, width)
}

// age formats now-t rounded for display.
func age(now, t time.Time) string {
	d := now.Sub(t)
	switch {
	case d < 0:
		return "0s"
	case d < time.Minute:
		return d.Round(100 * time.Millisecond).String()
	default:
		return d.Round(time.Second).String()
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
