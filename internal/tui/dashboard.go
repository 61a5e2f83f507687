// Package tui is krill's terminal presentation layer: a live Bubble Tea
// service dashboard (`krillctl ps --watch`) plus the toast notification
// widget carried over from the teacher's quick-menu UI. Grounded in the
// teacher's QuickMenuModel (menu.go): a bubbletea.Model holding cursor/
// selection state, re-rendered with lipgloss table/rule helpers on every
// Update, adapted here from a chat/addon command palette into a read-only
// table of service runtime records streamed over krill's IPC socket.
package tui

import (
	"fmt"
	"sort"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/Zero-Robotics/krill/internal/ipc"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("255")).Background(lipgloss.Color("57")).Padding(0, 1)
	ruleStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	rowStyle    = lipgloss.NewStyle().Padding(0, 1)

	stateStyles = map[string]lipgloss.Style{
		"Healthy":   lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true),
		"Running":   lipgloss.NewStyle().Foreground(lipgloss.Color("39")),
		"Degraded":  lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Bold(true),
		"Faulted":   lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true),
		"Starting":  lipgloss.NewStyle().Foreground(lipgloss.Color("75")),
		"Stopping":  lipgloss.NewStyle().Foreground(lipgloss.Color("244")),
		"Stopped":   lipgloss.NewStyle().Foreground(lipgloss.Color("244")),
		"Completed": lipgloss.NewStyle().Foreground(lipgloss.Color("250")),
		"Pending":   lipgloss.NewStyle().Foreground(lipgloss.Color("240")),
	}
)

// row is one service's rendered line in the dashboard table.
type row struct {
	service      string
	state        string
	pid          int
	restarts     int
	lastError    string
	lastObserved time.Time
}

// DashboardModel is the bubbletea.Model for `krillctl ps --watch`. It owns
// no network connection itself — the caller feeds it snapshotMsg/
// eventMsg/errMsg values produced by pumping an ipc.Client, the way the
// teacher's QuickMenuModel is fed SwitchProjectMsg/ExecuteCommandMsg values
// by its own command layer rather than reaching into HTTP clients directly.
type DashboardModel struct {
	rows  map[string]row
	order []string
	toast ToastModel
	err   error
	width int
}

// NewDashboardModel builds an empty dashboard; the first snapshotMsg
// populates it.
func NewDashboardModel() DashboardModel {
	return DashboardModel{rows: make(map[string]row), toast: NewToastModel()}
}

// snapshotMsg carries a full get_snapshot reply.
type snapshotMsg struct{ services []ipc.ServiceSnapshot }

// eventMsg carries one streamed state-change event.
type eventMsg struct{ event ipc.EventPayload }

// errMsg surfaces a client-side error (lost connection, malformed reply).
type errMsg struct{ err error }

func (m DashboardModel) Init() tea.Cmd { return nil }

func (m DashboardModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		}
		return m, nil
	case snapshotMsg:
		m.applySnapshot(msg.services)
		return m, nil
	case eventMsg:
		m.applyEvent(msg.event)
		return m, nil
	case errMsg:
		m.err = msg.err
		return m, showToastCmd(fmt.Sprintf("connection error: %s", msg.err))
	case ShowToastMsg:
		toast, cmd := m.toast.Update(msg)
		m.toast = toast
		return m, cmd
	case HideToastMsg:
		toast, cmd := m.toast.Update(msg)
		m.toast = toast
		return m, cmd
	}
	return m, nil
}

func (m *DashboardModel) applySnapshot(services []ipc.ServiceSnapshot) {
	m.rows = make(map[string]row, len(services))
	m.order = m.order[:0]
	for _, s := range services {
		m.rows[s.Service] = row{
			service:      s.Service,
			state:        s.State,
			pid:          s.PID,
			restarts:     s.RestartCount,
			lastError:    s.LastError,
			lastObserved: time.Now(),
		}
		m.order = append(m.order, s.Service)
	}
	sort.Strings(m.order)
}

func (m *DashboardModel) applyEvent(ev ipc.EventPayload) {
	r, ok := m.rows[ev.Service]
	if !ok {
		r = row{service: ev.Service}
		m.rows[ev.Service] = r
		m.order = append(m.order, ev.Service)
		sort.Strings(m.order)
	}
	r.state = ev.To
	r.lastObserved = time.Now()
	if ev.Reason != "" {
		r.lastError = ev.Reason
	}
	m.rows[ev.Service] = r
}

func (m DashboardModel) View() string {
	var b strings.Builder

	if m.err != nil {
		b.WriteString(fmt.Sprintf("connection error: %s\n", m.err))
	}

	header := fmt.Sprintf("%-20s %-10s %8s %9s  %s", "SERVICE", "STATE", "PID", "RESTARTS", "LAST ERROR")
	b.WriteString(headerStyle.Render(header))
	b.WriteString("\n")
	b.WriteString(ruleStyle.Render(strings.Repeat("─", len(header))))
	b.WriteString("\n")

	for _, name := range m.order {
		r := m.rows[name]
		style := stateStyles[r.state]
		pid := ""
		if r.pid != 0 {
			pid = fmt.Sprintf("%d", r.pid)
		}
		line := fmt.Sprintf("%-20s %-10s %8s %9d  %s", r.service, style.Render(r.state), pid, r.restarts, r.lastError)
		b.WriteString(rowStyle.Render(line))
		b.WriteString("\n")
	}

	if toastView := m.toast.View(); toastView != "" {
		b.WriteString("\n")
		b.WriteString(toastView)
	}
	b.WriteString("\nq to quit\n")

	return b.String()
}
