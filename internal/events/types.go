package events

import (
	"encoding/json"
	"time"
)

// Event is the base interface for all events.
type Event interface {
	EventType() string
	Topic() string
}

// Broadcaster is the publishing side of the bus.
type Broadcaster interface {
	Broadcast(event Event) int
}

// Discard is a Broadcaster with no subscribers.
var Discard Broadcaster = discard{}

type discard struct{}

func (discard) Broadcast(Event) int { return 0 }

// Topic constants
const (
	TopicProtocol     = "protocol"
	TopicTask         = "task"
	TopicPhase        = "phase"
	TopicVeto         = "veto"
	TopicTelemetry    = "telemetry"
	TopicRefine       = "refine"
	TopicIntervention = "intervention"
)

// Event type constants
const (
	EventTypeProtocolActivated  = "protocol.activated"
	EventTypeProtocolPaused     = "protocol.paused"
	EventTypeProtocolResumed    = "protocol.resumed"
	EventTypeProtocolFinished   = "protocol.finished"
	EventTypeProtocolFailed     = "protocol.failed"
	EventTypeProtocolProgress   = "protocol.progress"
	EventTypeTaskStarted        = "task.started"
	EventTypeTaskCompleted      = "task.completed"
	EventTypeTaskFailed         = "task.failed"
	EventTypePhaseEntered       = "phase.entered"
	EventTypeRunVetoed          = "veto.issued"
	EventTypeTelemetry          = "telemetry.snapshot"
	EventTypeRefineEvaluating   = "refine.evaluating"
	EventTypeRefineRefining     = "refine.refining"
	EventTypeRefineDone         = "refine.done"
	EventTypeInterventionQueued = "intervention.queued"
	EventTypeInterventionUsed   = "intervention.applied"
)

// ProtocolEvent is published on protocol lifecycle transitions.
type ProtocolEvent struct {
	Type       string    `json:"-"`
	ProtocolID string    `json:"protocol_id"`
	Goal       string    `json:"goal"`
	Status     string    `json:"status"`
	Stuck      []string  `json:"stuck,omitempty"`
	Error      string    `json:"error,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

func (e ProtocolEvent) EventType() string { return e.Type }
func (e ProtocolEvent) Topic() string     { return TopicProtocol }

// ProgressEvent is published after every scheduling wave.
type ProgressEvent struct {
	ProtocolID string    `json:"protocol_id"`
	Total      int       `json:"total"`
	Completed  int       `json:"completed"`
	Running    int       `json:"running"`
	Failed     int       `json:"failed"`
	Pending    int       `json:"pending"`
	Timestamp  time.Time `json:"timestamp"`
}

func (e ProgressEvent) EventType() string { return EventTypeProtocolProgress }
func (e ProgressEvent) Topic() string     { return TopicProtocol }

// TaskStartedEvent is published when a task is dispatched.
type TaskStartedEvent struct {
	ProtocolID string    `json:"protocol_id"`
	ID         string    `json:"task_id"`
	AgentID    string    `json:"agent_id"`
	Timestamp  time.Time `json:"timestamp"`
}

func (e TaskStartedEvent) EventType() string { return EventTypeTaskStarted }
func (e TaskStartedEvent) Topic() string     { return TopicTask }

// TaskCompletedEvent is published when a task completes successfully.
type TaskCompletedEvent struct {
	ProtocolID string        `json:"protocol_id"`
	ID         string        `json:"task_id"`
	AgentID    string        `json:"agent_id"`
	Result     string        `json:"result"`
	Duration   time.Duration `json:"duration"`
	Timestamp  time.Time     `json:"timestamp"`
}

func (e TaskCompletedEvent) EventType() string { return EventTypeTaskCompleted }
func (e TaskCompletedEvent) Topic() string     { return TopicTask }

// TaskFailedEvent is published when a task fails.
type TaskFailedEvent struct {
	ProtocolID string        `json:"protocol_id"`
	ID         string        `json:"task_id"`
	AgentID    string        `json:"agent_id"`
	Error      string        `json:"error"`
	Duration   time.Duration `json:"duration"`
	Timestamp  time.Time     `json:"timestamp"`
}

func (e TaskFailedEvent) EventType() string { return EventTypeTaskFailed }
func (e TaskFailedEvent) Topic() string     { return TopicTask }

// PhaseEvent is published when a pillar run enters a phase.
type PhaseEvent struct {
	RunID     string        `json:"run_id"`
	Subject   string        `json:"topic"`
	Phase     string        `json:"phase"`
	Message   string        `json:"message"`
	Elapsed   time.Duration `json:"elapsed"`
	Timestamp time.Time     `json:"timestamp"`
}

func (e PhaseEvent) EventType() string { return EventTypePhaseEntered }
func (e PhaseEvent) Topic() string     { return TopicPhase }

// VetoEvent is published when a gate terminates a pillar run.
type VetoEvent struct {
	RunID      string    `json:"run_id"`
	Subject    string    `json:"topic"`
	Phase      string    `json:"phase"`
	Reason     string    `json:"reason"`
	Violations []string  `json:"violations,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

func (e VetoEvent) EventType() string { return EventTypeRunVetoed }
func (e VetoEvent) Topic() string     { return TopicVeto }

// TelemetryEvent carries per-phase latency for a finished pillar run.
type TelemetryEvent struct {
	RunID     string                   `json:"run_id"`
	Status    string                   `json:"status"`
	Phases    map[string]time.Duration `json:"phases"`
	Total     time.Duration            `json:"total"`
	Timestamp time.Time                `json:"timestamp"`
}

func (e TelemetryEvent) EventType() string { return EventTypeTelemetry }
func (e TelemetryEvent) Topic() string     { return TopicTelemetry }

// CalibrationEvent is published by the refinement loop on every iteration.
type CalibrationEvent struct {
	Type      string    `json:"-"`
	AgentID   string    `json:"agent_id"`
	Iteration int       `json:"iteration"`
	Score     int       `json:"score"`
	Approved  bool      `json:"approved"`
	Critique  string    `json:"critique,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func (e CalibrationEvent) EventType() string { return e.Type }
func (e CalibrationEvent) Topic() string     { return TopicRefine }

// InterventionEvent is published when an executive directive is queued or applied.
type InterventionEvent struct {
	Type       string    `json:"-"`
	ProtocolID string    `json:"protocol_id"`
	TaskID     string    `json:"task_id"`
	Directive  string    `json:"directive"`
	Timestamp  time.Time `json:"timestamp"`
}

func (e InterventionEvent) EventType() string { return e.Type }
func (e InterventionEvent) Topic() string     { return TopicIntervention }

// Envelope is the wire form of an event for external observers.
type Envelope struct {
	Type  string `json:"type"`
	Topic string `json:"topic"`
	Data  Event  `json:"data"`
}

// Marshal encodes an event inside its envelope.
func Marshal(e Event) ([]byte, error) {
	return json.Marshal(Envelope{Type: e.EventType(), Topic: e.Topic(), Data: e})
}
