// Package config loads handoff's process-wide configuration from a TOML
// file, environment overrides, and defaults, mirroring the teacher's
// internal/common/config (viper-backed YAML with KANDEV_ env overrides;
// here TOML with HANDOFF_ env overrides per spec §6).
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is handoff's process-wide GlobalConfig (spec §3).
type Config struct {
	WorkspaceRoot    string         `mapstructure:"workspaceRoot"`
	AuthorizedUsers  []string       `mapstructure:"authorizedUsers"`
	Stall            StallConfig    `mapstructure:"stall"`
	Retention        RetentionConfig `mapstructure:"retention"`
	ChatDetailLevel  string         `mapstructure:"chatDetailLevel"` // minimal | standard | verbose
	IPC              IPCConfig      `mapstructure:"ipc"`
	Timeouts         TimeoutsConfig `mapstructure:"timeouts"`
	Slack            SlackConfig    `mapstructure:"slack"`
	Database         DatabaseConfig `mapstructure:"database"`
	Logging          LoggingConfig  `mapstructure:"logging"`
	Agent            AgentConfig    `mapstructure:"agent"`
	Transport        TransportConfig `mapstructure:"transport"`
	Policy           PolicyConfig   `mapstructure:"policy"`
}

// PolicyConfig holds server-level guardrails workspace policies cannot
// escalate beyond (spec §4.6): a workspace's allowed_commands is
// intersected against this list at load time.
type PolicyConfig struct {
	GlobalCommandAllowlist []string `mapstructure:"globalCommandAllowlist"`
}

// StallConfig holds the stall detector's thresholds (spec §4.3).
type StallConfig struct {
	InactivitySeconds  int `mapstructure:"inactivitySeconds"`
	EscalationSeconds  int `mapstructure:"escalationSeconds"`
	MaxRetries         int `mapstructure:"maxRetries"`
}

func (s StallConfig) Inactivity() time.Duration {
	return time.Duration(s.InactivitySeconds) * time.Second
}

func (s StallConfig) Escalation() time.Duration {
	return time.Duration(s.EscalationSeconds) * time.Second
}

// RetentionConfig governs the background purge loop (spec §4.5).
type RetentionConfig struct {
	Days                     int  `mapstructure:"days"`
	PeriodMinutes            int  `mapstructure:"periodMinutes"`
	PurgeOrphanedSteering    bool `mapstructure:"purgeOrphanedSteering"`
}

func (r RetentionConfig) Period() time.Duration {
	return time.Duration(r.PeriodMinutes) * time.Minute
}

func (r RetentionConfig) MaxAge() time.Duration {
	return time.Duration(r.Days) * 24 * time.Hour
}

// IPCConfig configures the local companion control channel (spec §4.9).
type IPCConfig struct {
	Name       string `mapstructure:"name"`
	AuthToken  string `mapstructure:"authToken"`
	RuntimeDir string `mapstructure:"runtimeDir"`
}

// TimeoutsConfig holds per-blocking-tool and other process timeouts.
type TimeoutsConfig struct {
	AskApprovalSeconds      int `mapstructure:"askApprovalSeconds"`
	ForwardPromptSeconds    int `mapstructure:"forwardPromptSeconds"`
	WaitForInstructionSeconds int `mapstructure:"waitForInstructionSeconds"`
	TerminationGraceSeconds int `mapstructure:"terminationGraceSeconds"`
	IPCResponseSeconds      int `mapstructure:"ipcResponseSeconds"`
	ChatBackoffCapSeconds   int `mapstructure:"chatBackoffCapSeconds"`
}

func (t TimeoutsConfig) AskApproval() time.Duration {
	return time.Duration(t.AskApprovalSeconds) * time.Second
}
func (t TimeoutsConfig) ForwardPrompt() time.Duration {
	return time.Duration(t.ForwardPromptSeconds) * time.Second
}
func (t TimeoutsConfig) WaitForInstruction() time.Duration {
	return time.Duration(t.WaitForInstructionSeconds) * time.Second
}
func (t TimeoutsConfig) TerminationGrace() time.Duration {
	return time.Duration(t.TerminationGraceSeconds) * time.Second
}
func (t TimeoutsConfig) IPCResponse() time.Duration {
	return time.Duration(t.IPCResponseSeconds) * time.Second
}
func (t TimeoutsConfig) ChatBackoffCap() time.Duration {
	return time.Duration(t.ChatBackoffCapSeconds) * time.Second
}

// SlackConfig holds Socket Mode credentials. Tokens fall back to
// environment variables when unset in the file (credential lookup choice
// itself is an external collaborator per spec §"Out of Scope").
type SlackConfig struct {
	BotToken        string `mapstructure:"botToken"`
	AppToken        string `mapstructure:"appToken"`
	DefaultChannel  string `mapstructure:"defaultChannel"`
}

// DatabaseConfig configures the embedded SQLite store.
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// LoggingConfig configures obslog.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"outputPath"`
}

// AgentConfig configures how the session orchestrator spawns agent hosts.
type AgentConfig struct {
	Runtime string `mapstructure:"runtime"` // "process" (default) | "docker"
	Command string `mapstructure:"command"`
	Image   string `mapstructure:"image"`
}

// TransportConfig configures the tool-protocol entry points (component K).
type TransportConfig struct {
	Stdio      bool   `mapstructure:"stdio"`
	HTTPAddr   string `mapstructure:"httpAddr"`
}

// Load reads configuration from a TOML file (if present), HANDOFF_-prefixed
// environment overrides, and defaults. configPath may be empty to search
// the working directory and /etc/handoff/.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("HANDOFF")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigName("config")
	v.SetConfigType("toml")
	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/handoff/")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("workspaceRoot", ".")
	v.SetDefault("authorizedUsers", []string{})

	v.SetDefault("stall.inactivitySeconds", 300)
	v.SetDefault("stall.escalationSeconds", 120)
	v.SetDefault("stall.maxRetries", 3)

	v.SetDefault("retention.days", 30)
	v.SetDefault("retention.periodMinutes", 60)
	v.SetDefault("retention.purgeOrphanedSteering", true)

	v.SetDefault("chatDetailLevel", "standard")

	v.SetDefault("ipc.name", "handoff")
	v.SetDefault("ipc.authToken", "")
	v.SetDefault("ipc.runtimeDir", "")

	v.SetDefault("timeouts.askApprovalSeconds", 3600)
	v.SetDefault("timeouts.forwardPromptSeconds", 600)
	v.SetDefault("timeouts.waitForInstructionSeconds", 1800)
	v.SetDefault("timeouts.terminationGraceSeconds", 5)
	v.SetDefault("timeouts.ipcResponseSeconds", 10)
	v.SetDefault("timeouts.chatBackoffCapSeconds", 60)

	v.SetDefault("slack.botToken", "")
	v.SetDefault("slack.appToken", "")
	v.SetDefault("slack.defaultChannel", "")

	v.SetDefault("database.path", "./handoff.db")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.outputPath", "stdout")

	v.SetDefault("agent.runtime", "process")
	v.SetDefault("agent.command", "")
	v.SetDefault("agent.image", "")

	v.SetDefault("transport.stdio", true)
	v.SetDefault("transport.httpAddr", "")

	v.SetDefault("policy.globalCommandAllowlist", []string{})
}

func validate(cfg *Config) error {
	var errs []string

	if cfg.WorkspaceRoot == "" {
		errs = append(errs, "workspaceRoot is required")
	}
	validDetail := map[string]bool{"minimal": true, "standard": true, "verbose": true}
	if !validDetail[cfg.ChatDetailLevel] {
		errs = append(errs, "chatDetailLevel must be one of: minimal, standard, verbose")
	}
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(cfg.Logging.Level)] {
		errs = append(errs, "logging.level must be one of: debug, info, warn, error")
	}
	if cfg.Stall.InactivitySeconds <= 0 {
		errs = append(errs, "stall.inactivitySeconds must be positive")
	}
	if cfg.Stall.EscalationSeconds <= 0 {
		errs = append(errs, "stall.escalationSeconds must be positive")
	}
	if cfg.Agent.Runtime != "process" && cfg.Agent.Runtime != "docker" {
		errs = append(errs, "agent.runtime must be one of: process, docker")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}
