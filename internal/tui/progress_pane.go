package tui

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/aristath/agentchain/internal/events"
)

// ProgressPaneModel shows protocol status and task counts.
type ProgressPaneModel struct {
	goal      string
	status    string
	stuck     []string
	err       string
	total     int
	completed int
	running   int
	failed    int
	pending   int
	width     int
	height    int
	focused   bool
}

// NewProgressPaneModel creates a new progress pane model.
func NewProgressPaneModel() ProgressPaneModel {
	return ProgressPaneModel{status: "waiting"}
}

// Update handles messages for the progress pane.
func (m ProgressPaneModel) Update(msg tea.Msg) (ProgressPaneModel, tea.Cmd) {
	switch msg := msg.(type) {
	case events.ProgressEvent:
		m.total = msg.Total
		m.completed = msg.Completed
		m.running = msg.Running
		m.failed = msg.Failed
		m.pending = msg.Pending

	case events.ProtocolEvent:
		if msg.Goal != "" {
			m.goal = msg.Goal
		}
		m.status = msg.Status
		m.stuck = msg.Stuck
		m.err = msg.Error
	}

	return m, nil
}

// Status returns the last protocol status seen.
func (m ProgressPaneModel) Status() string { return m.status }

// View renders the progress pane.
func (m ProgressPaneModel) View() string {
	if m.width == 0 || m.height == 0 {
		return ""
	}

	var b strings.Builder

	title := StyleTitle.Render("Protocol")
	b.WriteString(title)
	b.WriteString("\n")
	b.WriteString(strings.Repeat("=", lipgloss.Width(title)))
	b.WriteString("\n\n")

	if m.goal != "" {
		fmt.Fprintf(&b, "Goal:      %s\n", m.goal)
	}
	fmt.Fprintf(&b, "Status:    %s\n\n", statusStyle(m.status).Render(m.status))

	fmt.Fprintf(&b, "Total:     %d\n", m.total)
	fmt.Fprintf(&b, "Completed: %s\n", StyleStatusComplete.Render(fmt.Sprint(m.completed)))
	fmt.Fprintf(&b, "Running:   %s\n", StyleStatusRunning.Render(fmt.Sprint(m.running)))
	fmt.Fprintf(&b, "Failed:    %s\n", StyleStatusFailed.Render(fmt.Sprint(m.failed)))
	fmt.Fprintf(&b, "Pending:   %s\n", StyleStatusPending.Render(fmt.Sprint(m.pending)))
	b.WriteString("\n")

	if m.total > 0 {
		barWidth := min(m.width-4, 40)
		completedWidth := (m.completed * barWidth) / m.total
		failedWidth := (m.failed * barWidth) / m.total
		runningWidth := (m.running * barWidth) / m.total
		pendingWidth := barWidth - completedWidth - failedWidth - runningWidth

		bar := StyleStatusComplete.Render(strings.Repeat("=", max(0, completedWidth)))
		bar += StyleStatusFailed.Render(strings.Repeat("!", max(0, failedWidth)))
		bar += StyleStatusRunning.Render(strings.Repeat("-", max(0, runningWidth)))
		bar += StyleStatusPending.Render(strings.Repeat(".", max(0, pendingWidth)))

		fmt.Fprintf(&b, "[%s]  %d/%d\n", bar, m.completed, m.total)
	}

	if len(m.stuck) > 0 {
		fmt.Fprintf(&b, "\n%s %s\n", StyleStatusFailed.Render("Stuck:"), strings.Join(m.stuck, ", "))
	}
	if m.err != "" {
		fmt.Fprintf(&b, "\n%s\n", StyleStatusFailed.Render(m.err))
	}

	style := StyleUnfocusedBorder
	if m.focused {
		style = StyleFocusedBorder
	}

	return style.
		Width(m.width - 2).
		Height(m.height - 2).
		Render(b.String())
}

func statusStyle(status string) lipgloss.Style {
	switch status {
	case "active":
		return StyleStatusRunning
	case "completed":
		return StyleStatusComplete
	case "failed":
		return StyleStatusFailed
	default:
		return StyleStatusPending
	}
}

// SetSize updates the pane dimensions.
func (m *ProgressPaneModel) SetSize(w, h int) {
	m.width = w
	m.height = h
}

// SetFocused updates the focus state.
func (m *ProgressPaneModel) SetFocused(focused bool) {
	m.focused = focused
}
