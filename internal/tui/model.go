// Package tui implements the live status view of aodctl.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"

	"github.com/jmylchreest/aodd/internal/dbus"
	"github.com/jmylchreest/aodd/internal/model"
)

// Source is the daemon as seen by the view. *dbus.Client implements it.
type Source interface {
	ActiveDisplays(ctx context.Context) ([]dbus.DisplayStatus, error)
	Stats(ctx context.Context) (map[string]int64, error)
	Activate(ctx context.Context, id model.DisplayID) error
	Deactivate(ctx context.Context, id model.DisplayID) error
}

const (
	defaultRefresh = 5 * time.Second
	callTimeout    = 5 * time.Second
)

// Messages
type (
	statusLoadedMsg struct {
		report Report
		err    error
	}
	changedMsg struct {
		ids []model.DisplayID
		ok  bool
	}
	tickMsg       time.Time
	actionDoneMsg struct {
		action model.Action
		id     model.DisplayID
		err    error
	}
	statusMsg      string
	clearStatusMsg struct{}
)

// Config configures the watch view.
type Config struct {
	Source  Source
	Changes <-chan []model.DisplayID // optional
	Refresh time.Duration
	// Clipboard command override; detected when empty.
	ClipboardCommand string
}

// Model is the bubbletea model of the watch view.
type Model struct {
	source    Source
	changes   <-chan []model.DisplayID
	refresh   time.Duration
	clipboard string

	keys  KeyMap
	help  help.Model
	input textinput.Model

	report    Report
	lastError error
	updatedAt time.Time
	cursor    int
	entering  bool

	width  int
	height int

	statusMessage string
}

// New creates a new watch view model.
func New(cfg Config) Model {
	ti := textinput.New()
	ti.Placeholder = "display id"
	ti.CharLimit = 10
	ti.Prompt = "activate display: "

	refresh := cfg.Refresh
	if refresh <= 0 {
		refresh = defaultRefresh
	}

	return Model{
		source:    cfg.Source,
		changes:   cfg.Changes,
		refresh:   refresh,
		clipboard: cfg.ClipboardCommand,
		keys:      DefaultKeyMap(),
		help:      help.New(),
		input:     ti,
	}
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.load(), m.tick(), m.waitForChange())
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if m.entering {
			return m.updateInput(msg)
		}
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.help.Width = msg.Width
		return m, nil

	case statusLoadedMsg:
		m.lastError = msg.err
		if msg.err == nil {
			m.report = msg.report
			m.updatedAt = time.Now()
			m.clampCursor()
		}
		return m, nil

	case changedMsg:
		if !msg.ok {
			// Signal stream ended; polling continues
			m.changes = nil
			return m, nil
		}
		return m, tea.Batch(m.load(), m.waitForChange())

	case tickMsg:
		return m, tea.Batch(m.load(), m.tick())

	case actionDoneMsg:
		if msg.err != nil {
			cmd := m.setStatus(fmt.Sprintf("%s %d failed: %v", msg.action, msg.id, msg.err))
			return m, cmd
		}
		cmd := m.setStatus(fmt.Sprintf("%s %d", actionVerb(msg.action), msg.id))
		return m, tea.Batch(m.load(), cmd)

	case statusMsg:
		cmd := m.setStatus(string(msg))
		return m, cmd

	case clearStatusMsg:
		m.statusMessage = ""
		return m, nil
	}

	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		return m, tea.Quit

	case key.Matches(msg, m.keys.Help):
		m.help.ShowAll = !m.help.ShowAll

	case key.Matches(msg, m.keys.Up):
		if m.cursor > 0 {
			m.cursor--
		}

	case key.Matches(msg, m.keys.Down):
		if m.cursor < len(m.report.Displays)-1 {
			m.cursor++
		}

	case key.Matches(msg, m.keys.Refresh):
		return m, m.load()

	case key.Matches(msg, m.keys.Activate):
		m.entering = true
		m.input.SetValue("")
		cmd := m.input.Focus()
		return m, cmd

	case key.Matches(msg, m.keys.Deactivate):
		if d, ok := m.selected(); ok {
			return m, m.apply(model.ActionDeactivate, model.DisplayID(d.ID))
		}
		cmd := m.setStatus("no active display selected")
		return m, cmd

	case key.Matches(msg, m.keys.Copy):
		return m, m.copyReport()
	}

	return m, nil
}

func (m Model) updateInput(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Cancel):
		m.entering = false
		m.input.Blur()
		return m, nil

	case key.Matches(msg, m.keys.Submit):
		m.entering = false
		m.input.Blur()
		id, err := model.ParseDisplayID(strings.TrimSpace(m.input.Value()))
		if err != nil {
			cmd := m.setStatus(err.Error())
			return m, cmd
		}
		return m, m.apply(model.ActionActivate, id)
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *Model) setStatus(text string) tea.Cmd {
	m.statusMessage = text
	return tea.Tick(3*time.Second, func(time.Time) tea.Msg {
		return clearStatusMsg{}
	})
}

func (m *Model) clampCursor() {
	if m.cursor >= len(m.report.Displays) {
		m.cursor = len(m.report.Displays) - 1
	}
	if m.cursor < 0 {
		m.cursor = 0
	}
}

func (m Model) selected() (ReportDisplay, bool) {
	if m.cursor < 0 || m.cursor >= len(m.report.Displays) {
		return ReportDisplay{}, false
	}
	return m.report.Displays[m.cursor], true
}

func (m Model) load() tea.Cmd {
	source := m.source
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
		defer cancel()

		displays, err := source.ActiveDisplays(ctx)
		if err != nil {
			return statusLoadedMsg{err: err}
		}
		stats, err := source.Stats(ctx)
		if err != nil {
			return statusLoadedMsg{err: err}
		}
		return statusLoadedMsg{report: NewReport(displays, stats)}
	}
}

func (m Model) tick() tea.Cmd {
	return tea.Tick(m.refresh, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m Model) waitForChange() tea.Cmd {
	if m.changes == nil {
		return nil
	}
	changes := m.changes
	return func() tea.Msg {
		ids, ok := <-changes
		return changedMsg{ids: ids, ok: ok}
	}
}

func (m Model) apply(action model.Action, id model.DisplayID) tea.Cmd {
	source := m.source
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
		defer cancel()

		var err error
		if action == model.ActionActivate {
			err = source.Activate(ctx, id)
		} else {
			err = source.Deactivate(ctx, id)
		}
		return actionDoneMsg{action: action, id: id, err: err}
	}
}

func (m Model) copyReport() tea.Cmd {
	report := m.report
	clipboard := m.clipboard
	return func() tea.Msg {
		data, err := yaml.Marshal(report)
		if err != nil {
			return statusMsg(fmt.Sprintf("copy failed: %v", err))
		}
		ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
		defer cancel()
		if err := pipeToClipboard(ctx, string(data), clipboard); err != nil {
			return statusMsg(fmt.Sprintf("copy failed: %v", err))
		}
		return statusMsg("copied status to clipboard")
	}
}

// modeLabel renders an unset doze mode as a dash.
func modeLabel(mode string) string {
	if mode == "" {
		return "-"
	}
	return mode
}

func actionVerb(action model.Action) string {
	if action == model.ActionActivate {
		return "activated"
	}
	return "deactivated"
}

// Styles
var (
	titleStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	headerStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("244"))
	selectedStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("229")).Background(lipgloss.Color("57"))
	dimStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	errorStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	statusStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("86"))
)

// View implements tea.Model.
func (m Model) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("aodd"))
	if !m.updatedAt.IsZero() {
		b.WriteString(dimStyle.Render(" updated " + humanize.Time(m.updatedAt)))
	}
	b.WriteString("\n\n")

	if m.lastError != nil {
		b.WriteString(errorStyle.Render("error: " + m.lastError.Error()))
		b.WriteString("\n\n")
	}

	if len(m.report.Displays) == 0 {
		b.WriteString(dimStyle.Render("no displays in AOD"))
		b.WriteString("\n")
	} else {
		b.WriteString(headerStyle.Render(fmt.Sprintf("%-10s %-10s %-6s %s", "DISPLAY", "OWNER", "DOZE", "ACTIVE")))
		b.WriteString("\n")
		for i, d := range m.report.Displays {
			line := fmt.Sprintf("%-10d %-10s %-6s %s", d.ID, d.Owner, modeLabel(d.Mode), humanize.Time(d.ActiveSince))
			if i == m.cursor {
				line = selectedStyle.Render(line)
			}
			b.WriteString(line)
			b.WriteString("\n")
		}
	}

	if names := m.report.StatNames(); len(names) > 0 {
		b.WriteString("\n")
		b.WriteString(headerStyle.Render("STATS"))
		b.WriteString("\n")
		for _, name := range names {
			b.WriteString(dimStyle.Render(fmt.Sprintf("  %-28s %s", name, humanize.Comma(m.report.Stats[name]))))
			b.WriteString("\n")
		}
	}

	b.WriteString("\n")
	if m.entering {
		b.WriteString(m.input.View())
		b.WriteString("\n")
	} else if m.statusMessage != "" {
		b.WriteString(statusStyle.Render(m.statusMessage))
		b.WriteString("\n")
	}

	b.WriteString(m.help.View(m.keys))
	return b.String()
}

// Run starts the watch view and blocks until it exits.
func Run(cfg Config) error {
	p := tea.NewProgram(New(cfg), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
