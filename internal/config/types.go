package config

import (
	"encoding/json"
	"fmt"
	"time"
)

// Duration wraps time.Duration for text unmarshaling (YAML, env vars).
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	if parsed < 0 {
		return fmt.Errorf("duration cannot be negative: %s", text)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration().String()), nil
}

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.Duration().String())
}

// Duration returns the underlying time.Duration.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// ProviderConfig defines a transport layer (CLI command, args, base settings).
// Providers are separate from agents -- multiple agents can share one provider.
type ProviderConfig struct {
	Command string   `koanf:"command" yaml:"command" json:"command"`                                  // CLI binary name
	Args    []string `koanf:"args" yaml:"args,omitempty" json:"args,omitempty"`                       // Default args appended to every invocation
	Type    string   `koanf:"type" yaml:"type" json:"type"`                                           // "cli" or "echo"
	Ground  []string `koanf:"ground_args" yaml:"ground_args,omitempty" json:"ground_args,omitempty"` // Extra args for grounded generation
}

// AgentConfig defines a role that uses a specific provider and model.
type AgentConfig struct {
	Name         string `koanf:"name" yaml:"name,omitempty" json:"name,omitempty"`
	Provider     string `koanf:"provider" yaml:"provider" json:"provider"`
	Model        string `koanf:"model" yaml:"model,omitempty" json:"model,omitempty"`
	SystemPrompt string `koanf:"system_prompt" yaml:"system_prompt,omitempty" json:"system_prompt,omitempty"`
	Grounded     bool   `koanf:"grounded" yaml:"grounded,omitempty" json:"grounded,omitempty"`
}

// WorkflowStepConfig defines one step in a workflow template.
type WorkflowStepConfig struct {
	Agent       string `koanf:"agent" yaml:"agent" json:"agent"`
	Description string `koanf:"description" yaml:"description,omitempty" json:"description,omitempty"`
}

// WorkflowConfig is an ordered list of agent steps turned into a linear protocol.
type WorkflowConfig struct {
	Steps []WorkflowStepConfig `koanf:"steps" yaml:"steps" json:"steps"`
}

// SchedulerConfig tunes the chain manager.
type SchedulerConfig struct {
	Concurrency  int      `koanf:"concurrency" yaml:"concurrency" json:"concurrency"`       // 0 = unlimited per wave
	PollInterval Duration `koanf:"poll_interval" yaml:"poll_interval" json:"poll_interval"` // upper bound on paused/in-flight waits
	CallTimeout  Duration `koanf:"call_timeout" yaml:"call_timeout" json:"call_timeout"`    // per agent call
	MaxFinished  int      `koanf:"max_finished" yaml:"max_finished" json:"max_finished"`    // finished protocols kept in memory
}

// PipelineConfig tunes pillar runs.
type PipelineConfig struct {
	QualityThreshold int      `koanf:"quality_threshold" yaml:"quality_threshold" json:"quality_threshold"`
	HighRiskBelow    int      `koanf:"high_risk_below" yaml:"high_risk_below" json:"high_risk_below"`
	Grounder         string   `koanf:"grounder" yaml:"grounder" json:"grounder"`
	SynthesisAgents  []string `koanf:"synthesis_agents" yaml:"synthesis_agents" json:"synthesis_agents"`
	Refine           bool     `koanf:"refine" yaml:"refine" json:"refine"`
	PhaseTimeout     Duration `koanf:"phase_timeout" yaml:"phase_timeout" json:"phase_timeout"`
}

// AuditConfig selects the agent whose provider grades content.
type AuditConfig struct {
	Agent  string `koanf:"agent" yaml:"agent" json:"agent"`
	Rubric string `koanf:"rubric" yaml:"rubric,omitempty" json:"rubric,omitempty"` // empty = built-in rubric
}

// RefineConfig holds refinement loop defaults.
type RefineConfig struct {
	MaxIterations int `koanf:"max_iterations" yaml:"max_iterations" json:"max_iterations"`
	TargetScore   int `koanf:"target_score" yaml:"target_score" json:"target_score"`
}

// ResilienceConfig configures retry and circuit breaking around providers.
type ResilienceConfig struct {
	MaxRetries       int      `koanf:"max_retries" yaml:"max_retries" json:"max_retries"`
	InitialInterval  Duration `koanf:"initial_interval" yaml:"initial_interval" json:"initial_interval"`
	MaxInterval      Duration `koanf:"max_interval" yaml:"max_interval" json:"max_interval"`
	FailureThreshold uint32   `koanf:"failure_threshold" yaml:"failure_threshold" json:"failure_threshold"`
	OpenTimeout      Duration `koanf:"open_timeout" yaml:"open_timeout" json:"open_timeout"`
}

// StoreConfig selects the document store location. An empty path or
// ":memory:" keeps documents in memory.
type StoreConfig struct {
	Path string `koanf:"path" yaml:"path" json:"path"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr            string   `koanf:"addr" yaml:"addr" json:"addr"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout" yaml:"shutdown_timeout" json:"shutdown_timeout"`
	Heartbeat       Duration `koanf:"heartbeat" yaml:"heartbeat" json:"heartbeat"`
}

// EventsConfig configures the bus and its optional NATS mirror.
type EventsConfig struct {
	NATSURL       string `koanf:"nats_url" yaml:"nats_url,omitempty" json:"nats_url,omitempty"`
	SubjectPrefix string `koanf:"subject_prefix" yaml:"subject_prefix" json:"subject_prefix"`
	Buffer        int    `koanf:"buffer" yaml:"buffer" json:"buffer"`
}

// LogConfig configures the zap logger.
type LogConfig struct {
	Level  string `koanf:"level" yaml:"level" json:"level"`
	Format string `koanf:"format" yaml:"format" json:"format"` // "json" or "console"
}

// Config is the top-level configuration.
type Config struct {
	Providers  map[string]ProviderConfig `koanf:"providers" yaml:"providers" json:"providers"`
	Agents     map[string]AgentConfig    `koanf:"agents" yaml:"agents" json:"agents"`
	Workflows  map[string]WorkflowConfig `koanf:"workflows" yaml:"workflows" json:"workflows"`
	Scheduler  SchedulerConfig           `koanf:"scheduler" yaml:"scheduler" json:"scheduler"`
	Pipeline   PipelineConfig            `koanf:"pipeline" yaml:"pipeline" json:"pipeline"`
	Audit      AuditConfig               `koanf:"audit" yaml:"audit" json:"audit"`
	Refine     RefineConfig              `koanf:"refine" yaml:"refine" json:"refine"`
	Resilience ResilienceConfig          `koanf:"resilience" yaml:"resilience" json:"resilience"`
	Store      StoreConfig               `koanf:"store" yaml:"store" json:"store"`
	Server     ServerConfig              `koanf:"server" yaml:"server" json:"server"`
	Events     EventsConfig              `koanf:"events" yaml:"events" json:"events"`
	Log        LogConfig                 `koanf:"log" yaml:"log" json:"log"`
}

// Validate checks cross-references and ranges.
func (c *Config) Validate() error {
	for name, a := range c.Agents {
		if _, ok := c.Providers[a.Provider]; !ok {
			return fmt.Errorf("agent %q references unknown provider %q", name, a.Provider)
		}
	}
	for name, w := range c.Workflows {
		if len(w.Steps) == 0 {
			return fmt.Errorf("workflow %q has no steps", name)
		}
		for i, s := range w.Steps {
			if _, ok := c.Agents[s.Agent]; !ok {
				return fmt.Errorf("workflow %q step %d references unknown agent %q", name, i, s.Agent)
			}
		}
	}
	for _, ref := range append([]string{c.Pipeline.Grounder, c.Audit.Agent}, c.Pipeline.SynthesisAgents...) {
		if _, ok := c.Agents[ref]; !ok {
			return fmt.Errorf("pipeline references unknown agent %q", ref)
		}
	}
	if c.Scheduler.Concurrency < 0 {
		return fmt.Errorf("scheduler.concurrency must be >= 0, got %d", c.Scheduler.Concurrency)
	}
	if c.Refine.MaxIterations < 1 {
		return fmt.Errorf("refine.max_iterations must be >= 1, got %d", c.Refine.MaxIterations)
	}
	if s := c.Refine.TargetScore; s < 0 || s > 100 {
		return fmt.Errorf("refine.target_score must be within 0-100, got %d", s)
	}
	if s := c.Pipeline.QualityThreshold; s < 0 || s > 100 {
		return fmt.Errorf("pipeline.quality_threshold must be within 0-100, got %d", s)
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		return fmt.Errorf("log.format must be json or console, got %q", c.Log.Format)
	}
	return nil
}
