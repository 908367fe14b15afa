package config

import "time"

// DefaultConfig returns the default configuration with one CLI provider, the
// six built-in agents, and a standard campaign workflow.
func DefaultConfig() *Config {
	return &Config{
		Providers: map[string]ProviderConfig{
			"gemini": {
				Command: "gemini",
				Args:    []string{"-p"},
				Type:    "cli",
				Ground:  []string{"--grounding"},
			},
		},
		Agents: map[string]AgentConfig{
			"sp-01": {
				Name:         "Strategic Intelligence",
				Provider:     "gemini",
				SystemPrompt: "You produce market and positioning strategy: audience, angle, key messages.",
				Grounded:     true,
			},
			"cc-06": {
				Name:         "Content Director",
				Provider:     "gemini",
				SystemPrompt: "You write long-form copy and video scripts from a strategy brief.",
			},
			"da-03": {
				Name:         "Design Architect",
				Provider:     "gemini",
				SystemPrompt: "You turn briefs into visual direction: palette, typography, image prompts.",
			},
			"ra-01": {
				Name:         "Adversarial Auditor",
				Provider:     "gemini",
				SystemPrompt: "You review content for factual, legal and brand risk and list every issue found.",
			},
			"pm-07": {
				Name:         "Mission Manager",
				Provider:     "gemini",
				SystemPrompt: "You turn finished work into a dated distribution and follow-up plan.",
			},
			"ve-01": {
				Name:         "Motion Director",
				Provider:     "gemini",
				SystemPrompt: "You write shot-by-shot storyboards with camera movement and timing.",
			},
		},
		Workflows: map[string]WorkflowConfig{
			"campaign": {
				Steps: []WorkflowStepConfig{
					{Agent: "sp-01"},
					{Agent: "cc-06"},
					{Agent: "ra-01"},
					{Agent: "pm-07"},
				},
			},
		},
		Scheduler: SchedulerConfig{
			Concurrency:  0,
			PollInterval: Duration(time.Second),
			CallTimeout:  Duration(5 * time.Minute),
			MaxFinished:  100,
		},
		Pipeline: PipelineConfig{
			QualityThreshold: 0,
			HighRiskBelow:    40,
			Grounder:         "sp-01",
			SynthesisAgents:  []string{"cc-06", "da-03"},
			PhaseTimeout:     Duration(5 * time.Minute),
		},
		Audit: AuditConfig{
			Agent: "ra-01",
		},
		Refine: RefineConfig{
			MaxIterations: 3,
			TargetScore:   85,
		},
		Resilience: ResilienceConfig{
			MaxRetries:       3,
			InitialInterval:  Duration(time.Second),
			MaxInterval:      Duration(30 * time.Second),
			FailureThreshold: 5,
			OpenTimeout:      Duration(30 * time.Second),
		},
		Store: StoreConfig{
			Path: ".agentchain/agentchain.db",
		},
		Server: ServerConfig{
			Addr:            ":8080",
			ShutdownTimeout: Duration(10 * time.Second),
			Heartbeat:       Duration(15 * time.Second),
		},
		Events: EventsConfig{
			SubjectPrefix: "agentchain",
			Buffer:        256,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}
