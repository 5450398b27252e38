// Package agent – config.go defines the runtime configuration for the
// orchestration engine and its collaborators.
package agent

import (
	"time"

	"github.com/jholhewres/rumpbot/pkg/rumpbot/channels/discord"
)

// TierConfig holds the per-tier assistant call parameters.
type TierConfig struct {
	// Model is the model identifier passed to the CLI. Empty uses the
	// CLI's own default.
	Model string `yaml:"model"`

	// MaxTurns caps tool-use round-trips per call.
	MaxTurns int `yaml:"max_turns"`

	// TimeoutSeconds bounds a single call. 0 = unlimited.
	TimeoutSeconds int `yaml:"timeout_seconds"`
}

// Timeout returns the tier timeout as a duration.
func (t TierConfig) Timeout() time.Duration {
	return time.Duration(t.TimeoutSeconds) * time.Second
}

// TiersConfig groups the three call tiers.
type TiersConfig struct {
	Chat         TierConfig `yaml:"chat"`
	Orchestrator TierConfig `yaml:"orchestrator"`
	Worker       TierConfig `yaml:"worker"`
}

// OrchestratorConfig tunes planning, supervision, and retry behavior.
type OrchestratorConfig struct {
	// MaxWorkers caps the plan size; longer plans are truncated.
	MaxWorkers int `yaml:"max_workers"`

	// MaxResultChars caps each worker result fed into context blocks and
	// the summary prompt.
	MaxResultChars int `yaml:"max_result_chars"`

	// WorkerTimeoutSeconds bounds one worker execution.
	WorkerTimeoutSeconds int `yaml:"worker_timeout_seconds"`

	// HeartbeatSeconds is the interval between still-running updates.
	HeartbeatSeconds int `yaml:"heartbeat_seconds"`

	// StallCheckSeconds is how often worker output silence is checked.
	StallCheckSeconds int `yaml:"stall_check_seconds"`

	// StallWarningSeconds of no output emits a warning update.
	StallWarningSeconds int `yaml:"stall_warning_seconds"`

	// StallKillSeconds of no output kills the worker.
	StallKillSeconds int `yaml:"stall_kill_seconds"`

	// TimeoutMinutes bounds the whole orchestration run.
	TimeoutMinutes int `yaml:"timeout_minutes"`

	// SummaryTimeoutSeconds bounds the summarization call.
	SummaryTimeoutSeconds int `yaml:"summary_timeout_seconds"`

	// RetryBackoffSeconds is the wait before the single transient retry.
	RetryBackoffSeconds int `yaml:"retry_backoff_seconds"`
}

func (o OrchestratorConfig) WorkerTimeout() time.Duration {
	return time.Duration(o.WorkerTimeoutSeconds) * time.Second
}

func (o OrchestratorConfig) Heartbeat() time.Duration {
	return time.Duration(o.HeartbeatSeconds) * time.Second
}

func (o OrchestratorConfig) StallCheck() time.Duration {
	return time.Duration(o.StallCheckSeconds) * time.Second
}

func (o OrchestratorConfig) StallWarning() time.Duration {
	return time.Duration(o.StallWarningSeconds) * time.Second
}

func (o OrchestratorConfig) StallKill() time.Duration {
	return time.Duration(o.StallKillSeconds) * time.Second
}

func (o OrchestratorConfig) Timeout() time.Duration {
	return time.Duration(o.TimeoutMinutes) * time.Minute
}

func (o OrchestratorConfig) SummaryTimeout() time.Duration {
	return time.Duration(o.SummaryTimeoutSeconds) * time.Second
}

func (o OrchestratorConfig) RetryBackoff() time.Duration {
	return time.Duration(o.RetryBackoffSeconds) * time.Second
}

// LoggingConfig configures the slog handler built by the serve command.
type LoggingConfig struct {
	// Level is debug, info, warn, or error.
	Level string `yaml:"level"`

	// Format is "json" or "text".
	Format string `yaml:"format"`
}

// ChannelsConfig configures the chat surface bindings.
type ChannelsConfig struct {
	Discord discord.Config `yaml:"discord"`
}

// Config holds all runtime configuration.
type Config struct {
	// Name is the bot name shown in replies and prompts.
	Name string `yaml:"name"`

	// Binary is the assistant CLI executable.
	Binary string `yaml:"binary"`

	// WorkDir is the working directory assistant calls run in.
	WorkDir string `yaml:"work_dir"`

	// DataDir holds the SQLite database and session file.
	DataDir string `yaml:"data_dir"`

	// Instructions extends the chat-tier system prompt with a persona.
	Instructions string `yaml:"instructions"`

	// RestartServices are the service name tokens checked when deriving
	// whether a completed run asks for a service restart.
	RestartServices []string `yaml:"restart_services"`

	Tiers        TiersConfig        `yaml:"tiers"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
	Logging      LoggingConfig      `yaml:"logging"`
	Channels     ChannelsConfig     `yaml:"channels"`
}

// DefaultConfig returns the defaults the YAML overlay starts from.
func DefaultConfig() *Config {
	return &Config{
		Name:    "rumpbot",
		Binary:  "claude",
		WorkDir: ".",
		DataDir: "./data",
		RestartServices: []string{
			"rumpbot", "bot", "server", "daemon",
		},
		Tiers: TiersConfig{
			Chat:         TierConfig{MaxTurns: 10, TimeoutSeconds: 120},
			Orchestrator: TierConfig{MaxTurns: 1, TimeoutSeconds: 120},
			Worker:       TierConfig{MaxTurns: 30, TimeoutSeconds: 300},
		},
		Orchestrator: OrchestratorConfig{
			MaxWorkers:            10,
			MaxResultChars:        8000,
			WorkerTimeoutSeconds:  300,
			HeartbeatSeconds:      60,
			StallCheckSeconds:     30,
			StallWarningSeconds:   120,
			StallKillSeconds:      300,
			TimeoutMinutes:        60,
			SummaryTimeoutSeconds: 30,
			RetryBackoffSeconds:   3,
		},
		Logging: LoggingConfig{Level: "info", Format: "json"},
	}
}
