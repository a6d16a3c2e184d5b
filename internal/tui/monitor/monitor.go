// Package monitor is a live terminal view of the status file written by a
// running drid process. It only reads the file, so it can run next to the
// device process or over ssh without touching its state.
package monitor

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/yilhu/DRID-modules/internal/hub"
	"github.com/yilhu/DRID-modules/internal/status"
	"github.com/yilhu/DRID-modules/internal/tui/styles"
	"github.com/yilhu/DRID-modules/internal/util"
)

// Options configures the monitor.
type Options struct {
	// Path is the status file to watch.
	Path string
	// Interval is the reload period (default: 1s).
	Interval time.Duration
	// Modules is a glob over module names; empty shows all.
	Modules string
	// StaleAfter flags the snapshot once it is older than this
	// (default: three intervals).
	StaleAfter time.Duration
}

type tickMsg time.Time

type snapshotMsg struct {
	snap hub.Snapshot
	err  error
}

// Model is the bubbletea model of the monitor.
type Model struct {
	opts Options
	keys keyMap
	help help.Model
	now  func() time.Time

	snap   hub.Snapshot
	names  []string
	loaded bool
	err    error

	cursor int
	paused bool
	width  int
	height int
}

// New creates a monitor model.
func New(opts Options) Model {
	if opts.Interval <= 0 {
		opts.Interval = time.Second
	}
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = 3 * opts.Interval
	}
	return Model{
		opts: opts,
		keys: defaultKeyMap(),
		help: help.New(),
		now:  time.Now,
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.load(), m.tick())
}

func (m Model) tick() tea.Cmd {
	return tea.Tick(m.opts.Interval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m Model) load() tea.Cmd {
	path := m.opts.Path
	return func() tea.Msg {
		snap, err := status.Read(path)
		return snapshotMsg{snap: snap, err: err}
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.help.Width = msg.Width
		return m, nil

	case tickMsg:
		if m.paused {
			return m, m.tick()
		}
		return m, tea.Batch(m.load(), m.tick())

	case snapshotMsg:
		m.apply(msg)
		return m, nil

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Quit):
			return m, tea.Quit
		case key.Matches(msg, m.keys.Up):
			if m.cursor > 0 {
				m.cursor--
			}
		case key.Matches(msg, m.keys.Down):
			if m.cursor < len(m.names)-1 {
				m.cursor++
			}
		case key.Matches(msg, m.keys.Refresh):
			return m, m.load()
		case key.Matches(msg, m.keys.Pause):
			m.paused = !m.paused
		case key.Matches(msg, m.keys.Help):
			m.help.ShowAll = !m.help.ShowAll
		}
	}
	return m, nil
}

// apply installs a freshly read snapshot. A failed read keeps the last
// good snapshot on screen next to the error.
func (m *Model) apply(msg snapshotMsg) {
	if msg.err != nil {
		m.err = msg.err
		return
	}
	snap, err := status.Filter(msg.snap, m.opts.Modules)
	if err != nil {
		m.err = err
		return
	}
	m.err = nil
	m.snap = snap
	m.loaded = true

	names := make([]string, 0, len(snap.Modules))
	for name := range snap.Modules {
		names = append(names, name)
	}
	slices.Sort(names)
	m.names = names
	m.cursor = min(m.cursor, max(len(m.names)-1, 0))
}

func (m Model) View() string {
	var b strings.Builder

	title := "DRID monitor"
	if m.paused {
		title += " (paused)"
	}
	header := styles.Header
	if m.width > 4 {
		header = header.Width(m.width - 4)
	}
	b.WriteString(header.Render(title))
	b.WriteString("\n")
	b.WriteString(styles.Muted.Render(m.opts.Path))
	b.WriteString("\n\n")

	if m.err != nil {
		b.WriteString(styles.ErrorMsg.Render("Error: " + m.clip(m.err.Error(), 8)))
		b.WriteString("\n\n")
	}
	if !m.loaded {
		if m.err == nil {
			b.WriteString("Loading...\n")
		}
		b.WriteString(m.renderHelp())
		return b.String()
	}

	b.WriteString(m.renderBanner())
	b.WriteString("\n\n")
	b.WriteString(m.renderModules())
	b.WriteString("\n")
	if detail := m.renderDetail(); detail != "" {
		b.WriteString(detail)
		b.WriteString("\n")
	}
	b.WriteString(m.renderQueues())
	b.WriteString(m.renderReports())
	b.WriteString(m.renderHelp())
	return b.String()
}

func (m Model) renderBanner() string {
	now := m.now()
	var parts []string
	if m.snap.DeterrenceFlag {
		parts = append(parts, styles.Raised.Render("DETERRENCE RAISED"))
	} else {
		parts = append(parts, styles.Clear.Render("clear"))
	}
	if a := m.snap.Actuator; !a.UpdatedAt.IsZero() {
		parts = append(parts, fmt.Sprintf("target %.1f deg %s", a.TargetAngle, a.Label))
	}
	age := now.Sub(m.snap.TakenAt)
	if age > m.opts.StaleAfter {
		parts = append(parts, styles.WarningMsg.Render(fmt.Sprintf("stale: %s old", age.Round(time.Second))))
	} else {
		parts = append(parts, styles.Muted.Render(fmt.Sprintf("updated %s ago", age.Round(100*time.Millisecond))))
	}
	return strings.Join(parts, "  ")
}

func (m Model) renderModules() string {
	if len(m.names) == 0 {
		return styles.Muted.Render("no modules match") + "\n"
	}
	width := 0
	for _, name := range m.names {
		width = max(width, lipgloss.Width(name))
	}

	var b strings.Builder
	for i, name := range m.names {
		h := m.snap.Modules[name]
		icon := lipgloss.NewStyle().Foreground(styles.StateColor(h.State)).Render(styles.StateIcon(h.State))
		line := fmt.Sprintf("%-*s  %-8s  ok %-6d fail %-4d", width, name, h.State, h.SuccessCount, h.FailureCount)
		if i == m.cursor {
			line = styles.Selected.Render("> " + line)
		} else {
			line = "  " + line
		}
		b.WriteString(icon + " " + line + "\n")
	}
	return b.String()
}

func (m Model) renderDetail() string {
	if len(m.names) == 0 {
		return ""
	}
	h := m.snap.Modules[m.names[m.cursor]]
	now := m.now()

	lines := []string{
		styles.Title.Render(h.Name) + "  " + styles.State(h.State),
		fmt.Sprintf("last step %s, %d consecutive failures", h.LastStepDuration, h.ConsecutiveFailures),
	}
	if !h.LastHeartbeat.IsZero() {
		lines = append(lines, fmt.Sprintf("heartbeat %s ago", now.Sub(h.LastHeartbeat).Round(100*time.Millisecond)))
	}
	if h.LastFailure != "" {
		lines = append(lines, styles.Warning.Render(m.clip("last failure: "+h.LastFailure, 10)))
	}
	return styles.Detail.Render(strings.Join(lines, "\n"))
}

func (m Model) renderQueues() string {
	names := make([]string, 0, len(m.snap.Queues))
	for name := range m.snap.Queues {
		names = append(names, name)
	}
	slices.Sort(names)

	var cells []string
	for _, name := range names {
		q := m.snap.Queues[name]
		cell := fmt.Sprintf("%s %d/%d", name, q.Length, q.Capacity)
		if q.Dropped > 0 {
			cell += styles.Warning.Render(fmt.Sprintf(" -%d", q.Dropped))
		}
		cells = append(cells, cell)
	}
	return styles.Muted.Render("queues  ") + m.clip(strings.Join(cells, "  "), 8) + "\n"
}

func (m Model) renderReports() string {
	if len(m.snap.Reports) == 0 {
		return ""
	}
	keys := make([]string, 0, len(m.snap.Reports))
	for k := range m.snap.Reports {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	var b strings.Builder
	for _, k := range keys {
		data, err := json.Marshal(m.snap.Reports[k])
		if err != nil {
			continue
		}
		b.WriteString(styles.Muted.Render(k+"  ") + m.clip(string(data), lipgloss.Width(k)+2) + "\n")
	}
	return b.String()
}

func (m Model) renderHelp() string {
	return styles.HelpBar.Render(m.help.View(m.keys))
}

// clip truncates s to the window width less indent columns.
func (m Model) clip(s string, indent int) string {
	if m.width <= 0 {
		return s
	}
	return util.TruncateANSI(s, m.width-indent)
}

// Run shows the monitor until the user quits.
func Run(opts Options) error {
	p := tea.NewProgram(New(opts), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
