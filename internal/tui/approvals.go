// Package tui provides the operator's terminal console for pending
// approval requests: a polling inbox where suspended worker commands are
// approved or rejected.
package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/rwalker-dev/foreman/internal/manager"
	"github.com/rwalker-dev/foreman/pkg/models"
)

// Backend is the approval console's view of the server.
type Backend interface {
	PendingApprovals() ([]manager.PendingApproval, error)
	Resolve(sessionID, requestID string, decision models.Decision) error
}

// pollInterval is how often the console refetches the pending list.
const pollInterval = time.Second

type pendingMsg []manager.PendingApproval

type errMsg struct{ err error }

type tickMsg time.Time

type resolvedMsg struct {
	requestID string
	decision  models.Decision
	err       error
}

// Model is the bubbletea model for the approvals console.
type Model struct {
	backend Backend

	pending []manager.PendingApproval
	cursor  int
	loading bool
	status  string
	err     error

	spinner spinner.Model

	titleStyle    lipgloss.Style
	selectedStyle lipgloss.Style
	rowStyle      lipgloss.Style
	workerStyle   lipgloss.Style
	helpStyle     lipgloss.Style
	errStyle      lipgloss.Style
}

// NewModel creates the approvals console model.
func NewModel(backend Backend) Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot

	return Model{
		backend: backend,
		loading: true,
		spinner: sp,

		titleStyle: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205")).
			Background(lipgloss.Color("236")).
			Padding(0, 2),
		selectedStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("229")).
			Background(lipgloss.Color("57")),
		rowStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("252")),
		workerStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("10")).
			Bold(true),
		helpStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("241")),
		errStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("9")),
	}
}

// Init starts the first fetch, the poll ticker, and the spinner.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.fetch(), m.tick(), m.spinner.Tick)
}

func (m Model) fetch() tea.Cmd {
	return func() tea.Msg {
		pending, err := m.backend.PendingApprovals()
		if err != nil {
			return errMsg{err}
		}
		return pendingMsg(pending)
	}
}

func (m Model) tick() tea.Cmd {
	return tea.Tick(pollInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m Model) resolve(decision models.Decision) tea.Cmd {
	if m.cursor >= len(m.pending) {
		return nil
	}
	req := m.pending[m.cursor]
	return func() tea.Msg {
		err := m.backend.Resolve(req.SessionID, req.ID, decision)
		return resolvedMsg{requestID: req.ID, decision: decision, err: err}
	}
}

// Update handles input and poll results.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		case "up", "k":
			if m.cursor > 0 {
				m.cursor--
			}
		case "down", "j":
			if m.cursor < len(m.pending)-1 {
				m.cursor++
			}
		case "a", "y":
			return m, m.resolve(models.DecisionApprove)
		case "r", "n":
			return m, m.resolve(models.DecisionReject)
		}

	case pendingMsg:
		m.pending = msg
		m.loading = false
		m.err = nil
		if m.cursor >= len(m.pending) && len(m.pending) > 0 {
			m.cursor = len(m.pending) - 1
		}
		if len(m.pending) == 0 {
			m.cursor = 0
		}

	case resolvedMsg:
		if msg.err != nil {
			// A conflict usually means someone else resolved it; the next
			// poll reconciles either way.
			m.status = fmt.Sprintf("resolve %s: %v", msg.requestID, msg.err)
		} else {
			m.status = fmt.Sprintf("%s %s", msg.decision, msg.requestID)
		}
		return m, m.fetch()

	case errMsg:
		m.err = msg.err
		m.loading = false

	case tickMsg:
		return m, tea.Batch(m.fetch(), m.tick())

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

// View renders the console.
func (m Model) View() string {
	var b strings.Builder

	b.WriteString(m.titleStyle.Render("Foreman: pending approvals"))
	b.WriteString("\n\n")

	switch {
	case m.err != nil:
		b.WriteString(m.errStyle.Render("error: " + m.err.Error()))
		b.WriteString("\n")
	case m.loading:
		b.WriteString(m.spinner.View() + " loading...\n")
	case len(m.pending) == 0:
		b.WriteString(m.rowStyle.Render("nothing pending"))
		b.WriteString("\n")
	default:
		for i, req := range m.pending {
			line := fmt.Sprintf("%s  %s  %s",
				m.workerStyle.Render(req.Worker),
				req.SessionID,
				req.Command,
			)
			if i == m.cursor {
				line = m.selectedStyle.Render("> " + line)
			} else {
				line = m.rowStyle.Render("  " + line)
			}
			b.WriteString(line)
			b.WriteString("\n")
		}
	}

	if m.status != "" {
		b.WriteString("\n" + m.helpStyle.Render(m.status) + "\n")
	}
	b.WriteString("\n" + m.helpStyle.Render("a approve · r reject · ↑/↓ move · q quit"))
	b.WriteString("\n")
	return b.String()
}

// Run starts the console and blocks until the operator quits.
func Run(backend Backend) error {
	_, err := tea.NewProgram(NewModel(backend), tea.WithAltScreen()).Run()
	return err
}
