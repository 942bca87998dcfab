// Package config provides configuration loading for protocold.
//
// Configuration precedence (highest to lowest):
//  1. PROTOCOLD_* environment variables
//  2. YAML config file
//  3. Built-in defaults
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

// Config is the root configuration for the daemon.
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Store     StoreConfig     `koanf:"store"`
	Git       GitConfig       `koanf:"git"`
	Events    EventsConfig    `koanf:"events"`
	Executor  ExecutorConfig  `koanf:"executor"`
	QA        QAConfig        `koanf:"qa"`
	Logging   LoggingConfig   `koanf:"logging"`
	Recovery  RecoveryConfig  `koanf:"recovery"`
	Workspace WorkspaceConfig `koanf:"workspace"`
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	Port            int           `koanf:"port"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// StoreConfig configures the relational store.
type StoreConfig struct {
	// Path is the SQLite database file. ":memory:" is accepted for tests.
	Path string `koanf:"path"`
}

// GitConfig bounds the workspace lock retry loop.
type GitConfig struct {
	LockMaxRetries int           `koanf:"lock_max_retries"`
	LockRetryDelay time.Duration `koanf:"lock_retry_delay"`
	// StaleLockAge is the minimum age before an index.lock is considered
	// abandoned and reclaimed.
	StaleLockAge time.Duration `koanf:"stale_lock_age"`

	// GithubToken enables pull request creation for completed runs.
	GithubToken string `koanf:"github_token"`
}

// EventsConfig configures the NATS event sink. An empty URL disables
// publishing; the core never depends on subscribers.
type EventsConfig struct {
	URL     string `koanf:"url"`
	Subject string `koanf:"subject"`
}

// ExecutorConfig configures the execution backend.
type ExecutorConfig struct {
	// Backend selects "temporal" or "local".
	Backend string `koanf:"backend"`

	TemporalHostPort  string `koanf:"temporal_host_port"`
	TemporalNamespace string `koanf:"temporal_namespace"`
	TaskQueue         string `koanf:"task_queue"`

	// AgentCommand is the executable a worker invokes per step; the step
	// prompt arrives on stdin.
	AgentCommand []string `koanf:"agent_command"`

	// DispatchRate caps backend dispatches per second; 0 disables the
	// limiter.
	DispatchRate float64 `koanf:"dispatch_rate"`
}

// QAConfig bounds the feedback loop.
type QAConfig struct {
	MaxAutoFixAttempts    int `koanf:"max_auto_fix_attempts"`
	MaxInlineTriggerDepth int `koanf:"max_inline_trigger_depth"`
}

// LoggingConfig configures the zap logger.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// RecoveryConfig configures the periodic stuck-protocol sweep.
type RecoveryConfig struct {
	Interval time.Duration `koanf:"interval"`
	Limit    int           `koanf:"limit"`
}

// WorkspaceConfig locates on-disk repositories.
type WorkspaceConfig struct {
	ProjectsRoot string `koanf:"projects_root"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8321,
			ShutdownTimeout: 10 * time.Second,
		},
		Store: StoreConfig{
			Path: "protocold.db",
		},
		Git: GitConfig{
			LockMaxRetries: 5,
			LockRetryDelay: time.Second,
			StaleLockAge:   5 * time.Minute,
		},
		Events: EventsConfig{
			Subject: "protocold.events",
		},
		Executor: ExecutorConfig{
			Backend:           "temporal",
			TemporalHostPort:  "localhost:7233",
			TemporalNamespace: "default",
			TaskQueue:         "protocold-steps",
			AgentCommand:      []string{"protocold-agent"},
		},
		QA: QAConfig{
			MaxAutoFixAttempts:    3,
			MaxInlineTriggerDepth: 3,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Recovery: RecoveryConfig{
			Interval: time.Minute,
			Limit:    200,
		},
		Workspace: WorkspaceConfig{
			ProjectsRoot: "projects",
		},
	}
}

// Load reads configuration from an optional YAML file, then overrides with
// PROTOCOLD_* environment variables.
//
// Environment variables map onto koanf paths by splitting on the section
// prefix:
//
//	PROTOCOLD_SERVER_PORT          -> server.port
//	PROTOCOLD_GIT_LOCK_MAX_RETRIES -> git.lock_max_retries
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		content, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	if err := k.Load(env.Provider("PROTOCOLD_", ".", envTransform), nil); err != nil {
		return nil, fmt.Errorf("load env config: %w", err)
	}

	cfg := Default()
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

var configSections = []string{
	"server", "store", "git", "events", "executor", "qa", "logging",
	"recovery", "workspace",
}

// envTransform maps PROTOCOLD_SECTION_SOME_KEY to section.some_key.
func envTransform(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, "PROTOCOLD_"))
	for _, section := range configSections {
		if strings.HasPrefix(s, section+"_") {
			return section + "." + strings.TrimPrefix(s, section+"_")
		}
	}
	return s
}

// Validate rejects configurations that cannot be run.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}
	if c.Git.LockMaxRetries < 0 {
		return fmt.Errorf("git.lock_max_retries cannot be negative")
	}
	if c.Git.LockRetryDelay < 0 {
		return fmt.Errorf("git.lock_retry_delay cannot be negative")
	}
	if c.QA.MaxAutoFixAttempts < 0 {
		return fmt.Errorf("qa.max_auto_fix_attempts cannot be negative")
	}
	if c.QA.MaxInlineTriggerDepth < 0 {
		return fmt.Errorf("qa.max_inline_trigger_depth cannot be negative")
	}
	switch c.Executor.Backend {
	case "temporal", "local":
	default:
		return fmt.Errorf("executor.backend must be \"temporal\" or \"local\", got %q", c.Executor.Backend)
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("logging.format must be \"json\" or \"console\", got %q", c.Logging.Format)
	}
	return nil
}
