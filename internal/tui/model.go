package tui

import (
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/aristath/agentchain/internal/events"
)

// PaneID identifies which pane is focused.
type PaneID int

const (
	PaneTasks PaneID = iota
	PaneActivity
	PaneProgress
)

// Controller pauses and resumes the watched protocol.
type Controller interface {
	Pause(id string) (bool, error)
	Resume(id string) (bool, error)
}

// Subscriber is the part of the event bus the TUI reads from.
type Subscriber interface {
	SubscribeAll(bufSize int) <-chan events.Event
}

// busClosedMsg is sent when the event subscription ends.
type busClosedMsg struct{}

// Model is the root Bubble Tea model for the TUI.
type Model struct {
	taskPane     TaskPaneModel
	activityPane ActivityPaneModel
	progressPane ProgressPaneModel
	focusedPane  PaneID
	eventSub     <-chan events.Event
	protocolID   string
	control      Controller
	notice       string
	width        int
	height       int
	quitting     bool
}

// New creates a TUI model watching protocolID. An empty protocolID shows
// every protocol. control may be nil, which disables pause/resume.
func New(bus Subscriber, protocolID string, control Controller) Model {
	return Model{
		taskPane:     NewTaskPaneModel(),
		activityPane: NewActivityPaneModel(),
		progressPane: NewProgressPaneModel(),
		focusedPane:  PaneTasks,
		eventSub:     bus.SubscribeAll(256),
		protocolID:   protocolID,
		control:      control,
	}
}

// Init initializes the model and returns the initial command.
func (m Model) Init() tea.Cmd {
	return waitForEvent(m.eventSub)
}

// waitForEvent returns a command that waits for the next event from the event bus.
func waitForEvent(sub <-chan events.Event) tea.Cmd {
	return func() tea.Msg {
		event, ok := <-sub
		if !ok {
			return busClosedMsg{}
		}
		return event
	}
}

// Update handles messages and updates the model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case KeyQuit, KeyCtrlC:
			m.quitting = true
			return m, tea.Quit

		case KeyTab:
			m.focusedPane = (m.focusedPane + 1) % 3
			m.updateFocusStates()

		case KeyShiftTab:
			m.focusedPane = (m.focusedPane + 2) % 3 // +2 is equivalent to -1 mod 3
			m.updateFocusStates()

		case KeyPane1:
			m.focusedPane = PaneTasks
			m.updateFocusStates()

		case KeyPane2:
			m.focusedPane = PaneActivity
			m.updateFocusStates()

		case KeyPane3:
			m.focusedPane = PaneProgress
			m.updateFocusStates()

		case KeyPause:
			m.notice = m.toggle(true)

		case KeyResume:
			m.notice = m.toggle(false)

		default:
			switch m.focusedPane {
			case PaneTasks:
				var cmd tea.Cmd
				m.taskPane, cmd = m.taskPane.Update(msg)
				cmds = append(cmds, cmd)
			case PaneActivity:
				var cmd tea.Cmd
				m.activityPane, cmd = m.activityPane.Update(msg)
				cmds = append(cmds, cmd)
			}
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.computeLayout()

	case busClosedMsg:
		m.notice = "event stream closed"

	case events.Event:
		if m.watching(msg) {
			var cmd tea.Cmd
			switch msg.(type) {
			case events.TaskStartedEvent, events.TaskCompletedEvent, events.TaskFailedEvent:
				m.taskPane, cmd = m.taskPane.Update(msg)
				cmds = append(cmds, cmd)
			case events.ProgressEvent, events.ProtocolEvent:
				m.progressPane, cmd = m.progressPane.Update(msg)
				cmds = append(cmds, cmd)
			}
			m.activityPane, cmd = m.activityPane.Update(msg)
			cmds = append(cmds, cmd)
		}
		cmds = append(cmds, waitForEvent(m.eventSub))
	}

	return m, tea.Batch(cmds...)
}

// watching reports whether e belongs to the watched protocol. Events that
// carry no protocol id (pillar phases, calibration) are always shown.
func (m Model) watching(e events.Event) bool {
	if m.protocolID == "" {
		return true
	}
	var id string
	switch e := e.(type) {
	case events.ProtocolEvent:
		id = e.ProtocolID
	case events.ProgressEvent:
		id = e.ProtocolID
	case events.TaskStartedEvent:
		id = e.ProtocolID
	case events.TaskCompletedEvent:
		id = e.ProtocolID
	case events.TaskFailedEvent:
		id = e.ProtocolID
	case events.InterventionEvent:
		id = e.ProtocolID
	default:
		return true
	}
	return id == m.protocolID
}

func (m Model) toggle(pause bool) string {
	if m.control == nil || m.protocolID == "" {
		return "no protocol to control"
	}
	op, verb := m.control.Resume, "resumed"
	if pause {
		op, verb = m.control.Pause, "paused"
	}
	changed, err := op(m.protocolID)
	switch {
	case err != nil:
		return err.Error()
	case !changed:
		return "protocol not " + verb + ": state unchanged"
	default:
		return "protocol " + verb
	}
}

// View renders the TUI.
func (m Model) View() string {
	if m.quitting {
		return "Goodbye!\n"
	}

	if m.width == 0 || m.height == 0 {
		return "Initializing..."
	}

	rightPane := lipgloss.JoinVertical(lipgloss.Left, m.activityPane.View(), m.progressPane.View())
	mainContent := lipgloss.JoinHorizontal(lipgloss.Top, m.taskPane.View(), rightPane)

	helpBar := HelpView()
	if m.notice != "" {
		helpBar = StyleNotice.Render(m.notice) + "  " + helpBar
	}

	return lipgloss.JoinVertical(lipgloss.Left, mainContent, helpBar)
}

// computeLayout calculates pane dimensions and updates all child models.
func (m *Model) computeLayout() {
	leftWidth := (m.width * 55) / 100
	rightWidth := m.width - leftWidth
	availableHeight := m.height - 1 // help bar
	rightTopHeight := (availableHeight * 55) / 100
	rightBottomHeight := availableHeight - rightTopHeight

	m.taskPane.SetSize(leftWidth, availableHeight)
	m.activityPane.SetSize(rightWidth, rightTopHeight)
	m.progressPane.SetSize(rightWidth, rightBottomHeight)

	m.updateFocusStates()
}

// updateFocusStates updates the focus state of all panes.
func (m *Model) updateFocusStates() {
	m.taskPane.SetFocused(m.focusedPane == PaneTasks)
	m.activityPane.SetFocused(m.focusedPane == PaneActivity)
	m.progressPane.SetFocused(m.focusedPane == PaneProgress)
}
