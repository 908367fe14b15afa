package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/aristath/agentchain/internal/events"
)

const maxActivityLines = 500

// ActivityPaneModel is a scrolling log of lifecycle, refinement and
// intervention events.
type ActivityPaneModel struct {
	lines    []string
	viewport viewport.Model
	width    int
	height   int
	focused  bool
}

// NewActivityPaneModel creates a new activity pane model.
func NewActivityPaneModel() ActivityPaneModel {
	return ActivityPaneModel{viewport: viewport.New(0, 0)}
}

// Update handles messages for the activity pane.
func (m ActivityPaneModel) Update(msg tea.Msg) (ActivityPaneModel, tea.Cmd) {
	var cmd tea.Cmd

	if key, ok := msg.(tea.KeyMsg); ok {
		if m.focused {
			m.viewport, cmd = m.viewport.Update(key)
		}
		return m, cmd
	}

	if e, ok := msg.(events.Event); ok {
		if line := describe(e); line != "" {
			m.lines = append(m.lines, line)
			if len(m.lines) > maxActivityLines {
				m.lines = m.lines[len(m.lines)-maxActivityLines:]
			}
			m.viewport.SetContent(strings.Join(m.lines, "\n"))
			m.viewport.GotoBottom()
		}
	}
	return m, nil
}

// Lines returns the logged lines.
func (m ActivityPaneModel) Lines() []string { return m.lines }

// describe renders one event as a log line; progress ticks are omitted.
func describe(e events.Event) string {
	switch e := e.(type) {
	case events.ProtocolEvent:
		line := fmt.Sprintf("%s  %s", stamp(e.Timestamp), e.EventType())
		if e.Error != "" {
			line += "  " + StyleStatusFailed.Render(e.Error)
		}
		return line
	case events.TaskStartedEvent:
		return fmt.Sprintf("%s  %s started on %s", stamp(e.Timestamp), e.ID, e.AgentID)
	case events.TaskCompletedEvent:
		return fmt.Sprintf("%s  %s %s", stamp(e.Timestamp), e.ID, StyleStatusComplete.Render("completed"))
	case events.TaskFailedEvent:
		return fmt.Sprintf("%s  %s %s: %s", stamp(e.Timestamp), e.ID, StyleStatusFailed.Render("failed"), e.Error)
	case events.CalibrationEvent:
		return fmt.Sprintf("%s  %s %s iteration %d score %d", stamp(e.Timestamp), e.EventType(), e.AgentID, e.Iteration, e.Score)
	case events.InterventionEvent:
		return fmt.Sprintf("%s  %s %s: %s", stamp(e.Timestamp), e.EventType(), e.TaskID, e.Directive)
	case events.PhaseEvent:
		return fmt.Sprintf("%s  %s %s", stamp(e.Timestamp), StylePhase.Render("["+e.Phase+"]"), e.Message)
	case events.VetoEvent:
		return fmt.Sprintf("%s  %s %s: %s", stamp(e.Timestamp), StyleVeto.Render("VETO"), e.Phase, e.Reason)
	}
	return ""
}

func stamp(t time.Time) string {
	return StyleTimestamp.Render(t.Format("15:04:05"))
}

// View renders the activity pane.
func (m ActivityPaneModel) View() string {
	if m.width == 0 || m.height == 0 {
		return ""
	}

	content := StyleTitle.Render("Activity") + "\n" + m.viewport.View()

	style := StyleUnfocusedBorder
	if m.focused {
		style = StyleFocusedBorder
	}
	return style.
		Width(m.width - 2).
		Height(m.height - 2).
		Render(content)
}

// SetSize updates the pane dimensions.
func (m *ActivityPaneModel) SetSize(w, h int) {
	m.width = w
	m.height = h
	m.viewport.Width = max(w-4, 10)
	m.viewport.Height = max(h-4, 3)
}

// SetFocused updates the focus state.
func (m *ActivityPaneModel) SetFocused(focused bool) {
	m.focused = focused
}
