// Package hostui is the TabHost supervisor's interactive console: a
// live list of running tabs, refreshed on a timer, with a spinner shown
// while the list is empty. Tabs still in their bootstrap handshake are
// not listed, since tabhost.Host.Snapshot only returns bootstrapped tabs.
//
// Grounded on the teacher's own internal/tui.Model: the same Elm
// architecture shape (Model/Init/Update/View/Run, a title bar built
// from the same titleStyle/statusStyle/selectedStyle lipgloss palette,
// tea.WindowSizeMsg tracked for layout, "q"/"ctrl+c" to quit), with the
// hub's per-agent list replaced by TabHost's per-tab list. The
// empty-list spinner is grounded on
// ehrlich-b-wingthing/internal/ui/liveblock.go's spinner.New() +
// spinner.Dot + spinnerStyle construction.
package hostui

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/lipgloss"

	"github.com/viberails/termbroker/internal/tabhost"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205"))

	statusStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240"))

	selectedStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("86"))

	spinnerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("11")).
			Bold(true)
)

const refreshInterval = 500 * time.Millisecond

type tickMsg time.Time

// Model holds the host TUI's state.
type Model struct {
	host     *tabhost.Host
	maxTabs  int
	tabs     []tabhost.Tab
	selected int
	spinner  spinner.Model
	width    int
	quitting bool
}

// New creates a host TUI model over host.
func New(host *tabhost.Host, maxTabs int) Model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = spinnerStyle
	return Model{host: host, maxTabs: maxTabs, spinner: s}
}

// Run starts the TUI in the alternate screen buffer, blocking until the
// operator quits.
func Run(host *tabhost.Host, maxTabs int) error {
	p := tea.NewProgram(New(host, maxTabs), tea.WithAltScreen())
	_, err := p.Run()
	return err
}

func tick() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return tea.Batch(tick(), m.spinner.Tick)
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil

	case tickMsg:
		m.tabs = m.host.Snapshot()
		if m.selected >= len(m.tabs) {
			m.selected = len(m.tabs) - 1
		}
		if m.selected < 0 {
			m.selected = 0
		}
		return m, tick()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit

		case "up", "k":
			if m.selected > 0 {
				m.selected--
			}
			return m, nil

		case "down", "j":
			if m.selected < len(m.tabs)-1 {
				m.selected++
			}
			return m, nil

		case "d":
			if m.selected >= 0 && m.selected < len(m.tabs) {
				tabID := m.tabs[m.selected].TabID
				go m.host.DeleteTab(tabID)
			}
			return m, nil
		}
	}

	return m, nil
}

// View implements tea.Model.
func (m Model) View() string {
	if m.quitting {
		return "Shutting down tab host...\n"
	}

	var b strings.Builder

	title := titleStyle.Render("Terminal Session Broker — TabHost")
	status := statusStyle.Render(fmt.Sprintf(" | tabs: %d/%d", len(m.tabs), m.maxTabs))
	b.WriteString(title + status + "\n\n")

	if len(m.tabs) == 0 {
		b.WriteString(m.spinner.View() + " waiting for tabs...\n")
	} else {
		for i, t := range m.tabs {
			line := fmt.Sprintf("%-36s pid=%-8d port=%-6d started=%s",
				t.TabID, t.PID, t.Port, t.CreatedUTC.Format(time.Kitchen))
			if i == m.selected {
				b.WriteString(selectedStyle.Render("> "+line) + "\n")
			} else {
				b.WriteString("  " + line + "\n")
			}
		}
	}

	b.WriteString("\n")
	b.WriteString(statusStyle.Render("q: quit | up/down: select | d: delete selected tab"))

	return b.String()
}
