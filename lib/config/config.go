// Copyright 2026 The Waldo Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the master configuration for the Waldo daemon.
//
// Duration fields are stored as strings ("30s", "10m") so the YAML
// stays human-editable; typed accessors return the parsed values.
type Config struct {
	// Channel configures the Slack channel the daemon serves.
	Channel ChannelConfig `yaml:"channel"`

	// Machine configures this machine's identity and default
	// working directory.
	Machine MachineConfig `yaml:"machine"`

	// Agent configures the code agent invocation.
	Agent AgentConfig `yaml:"agent"`

	// Shell configures shell command execution.
	Shell ShellConfig `yaml:"shell"`

	// Approval configures the reaction-based tool gate.
	Approval ApprovalConfig `yaml:"approval"`

	// Engine configures execution concurrency.
	Engine EngineConfig `yaml:"engine"`

	// Paths configures where state lives on disk.
	Paths PathsConfig `yaml:"paths"`

	// Archive configures the transcript archive.
	Archive ArchiveConfig `yaml:"archive"`
}

// ChannelConfig identifies the Slack channel and how often to poll it.
type ChannelConfig struct {
	// ID is the Slack channel ID (C..., G..., or D...). Required.
	ID string `yaml:"id"`

	// PollInterval is how often conversations.history is polled.
	// Default: 2s.
	PollInterval string `yaml:"poll_interval"`
}

// MachineConfig identifies this machine in channel output.
type MachineConfig struct {
	// Name is the display name used in startup and status messages.
	// Default: the hostname.
	Name string `yaml:"name"`

	// WorkDir is the default working directory for new sessions.
	// Default: the daemon user's home directory.
	WorkDir string `yaml:"work_dir"`
}

// AgentConfig configures how the code agent CLI is invoked.
type AgentConfig struct {
	// Binary is the agent executable. Resolved via PATH if not
	// absolute. Default: claude.
	Binary string `yaml:"binary"`

	// DefaultModel is applied to sessions that have not chosen a
	// model. Empty means the agent CLI's own default.
	DefaultModel string `yaml:"default_model"`

	// Timeout bounds a single agent invocation. Default: 10m.
	Timeout string `yaml:"timeout"`

	// ProgressInterval is how often the threaded progress message is
	// updated while an execution runs. Default: 15s.
	ProgressInterval string `yaml:"progress_interval"`
}

// ShellConfig configures direct shell command execution.
type ShellConfig struct {
	// Binary is the shell used for "!" commands. Default: /bin/sh.
	Binary string `yaml:"binary"`

	// Timeout bounds a single shell command. Default: 30s.
	Timeout string `yaml:"timeout"`
}

// ApprovalConfig configures the reaction-based approval gate.
type ApprovalConfig struct {
	// Timeout is how long a pending approval waits for a reaction
	// before it is denied. Default: 2m.
	Timeout string `yaml:"timeout"`

	// PollInterval is how often reactions.get is polled while an
	// approval is pending. Default: 2s.
	PollInterval string `yaml:"poll_interval"`
}

// EngineConfig bounds concurrent work.
type EngineConfig struct {
	// Concurrency is the global cap on simultaneously running
	// executions across all threads. Default: 4.
	Concurrency int `yaml:"concurrency"`

	// QueueDepth is the per-thread pending queue size. Messages
	// arriving on a thread whose queue is full get a "busy" reply.
	// Default: 4.
	QueueDepth int `yaml:"queue_depth"`
}

// PathsConfig configures on-disk locations.
type PathsConfig struct {
	// StateDir holds the session store, the control socket, sealed
	// credentials, and the transcript archive. Default: ~/.waldo.
	StateDir string `yaml:"state_dir"`

	// PolicyFile is the JSONC tool policy. Default:
	// ${WALDO_STATE}/policy.jsonc (missing file means default policy).
	PolicyFile string `yaml:"policy_file"`
}

// ArchiveConfig configures transcript archival.
type ArchiveConfig struct {
	// Enabled turns transcript archival on. Default: true.
	Enabled bool `yaml:"enabled"`

	// Compression selects the record compression: auto, none, lz4,
	// or zstd. auto probes each record and picks the cheapest
	// encoding that pays for itself. Default: auto.
	Compression string `yaml:"compression"`

	// Encrypt seals archived records with a key derived from the
	// machine identity. Default: false.
	Encrypt bool `yaml:"encrypt"`

	// KeyFile names a file holding an explicit sealing key (64 hex
	// characters), overriding the key derived from the machine
	// identity. Lets sealed archives be read on a machine that never
	// held the identity. Default: unset.
	KeyFile string `yaml:"key_file"`
}

// Default returns the default configuration. These defaults are a
// complete working setup for everything except the channel ID and the
// bot token, which have no sensible defaults.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	hostname, _ := os.Hostname()

	return &Config{
		Channel: ChannelConfig{
			PollInterval: "2s",
		},
		Machine: MachineConfig{
			Name:    hostname,
			WorkDir: homeDir,
		},
		Agent: AgentConfig{
			Binary:           "claude",
			Timeout:          "10m",
			ProgressInterval: "15s",
		},
		Shell: ShellConfig{
			Binary:  "/bin/sh",
			Timeout: "30s",
		},
		Approval: ApprovalConfig{
			Timeout:      "2m",
			PollInterval: "2s",
		},
		Engine: EngineConfig{
			Concurrency: 4,
			QueueDepth:  4,
		},
		Paths: PathsConfig{
			StateDir: filepath.Join(homeDir, ".waldo"),
		},
		Archive: ArchiveConfig{
			Enabled:     true,
			Compression: "auto",
		},
	}
}

// Load loads configuration from path. If path is empty, the
// WALDO_CONFIG environment variable is consulted, then the default
// location (<state-dir>/config.yaml). A missing file at the default
// location is not an error; the daemon can run entirely on defaults
// plus environment variables. An explicitly named file must exist.
//
// Environment variables override file values after loading; see
// applyEnvOverrides for the full list.
func Load(path string) (*Config, error) {
	cfg := Default()

	explicit := path != ""
	if path == "" {
		path = os.Getenv("WALDO_CONFIG")
		explicit = path != ""
	}
	if path == "" {
		stateDir := os.Getenv("WALDO_STATE_DIR")
		if stateDir == "" {
			stateDir = cfg.Paths.StateDir
		}
		path = filepath.Join(stateDir, "config.yaml")
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
	case os.IsNotExist(err) && !explicit:
		// Defaults plus environment only.
	default:
		return nil, fmt.Errorf("reading config: %w", err)
	}

	cfg.applyEnvOverrides()
	cfg.expandVariables()
	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides. Each
// variable, when set and non-empty, replaces the corresponding file
// value.
func (c *Config) applyEnvOverrides() {
	overrides := []struct {
		name   string
		target *string
	}{
		{"WALDO_CHANNEL", &c.Channel.ID},
		{"WALDO_MACHINE_NAME", &c.Machine.Name},
		{"WALDO_WORK_DIR", &c.Machine.WorkDir},
		{"WALDO_SHELL_TIMEOUT", &c.Shell.Timeout},
		{"WALDO_AGENT_TIMEOUT", &c.Agent.Timeout},
		{"WALDO_DEFAULT_MODEL", &c.Agent.DefaultModel},
		{"WALDO_PROGRESS_INTERVAL", &c.Agent.ProgressInterval},
		{"WALDO_APPROVAL_TIMEOUT", &c.Approval.Timeout},
		{"WALDO_STATE_DIR", &c.Paths.StateDir},
	}
	for _, override := range overrides {
		if value := os.Getenv(override.name); value != "" {
			*override.target = value
		}
	}
}

// expandVariables expands ${VAR} and ${VAR:-default} patterns in path
// fields. WALDO_STATE refers to the resolved state directory so the
// policy file can be configured relative to it.
func (c *Config) expandVariables() {
	vars := map[string]string{
		"HOME": os.Getenv("HOME"),
	}

	c.Paths.StateDir = expandVars(c.Paths.StateDir, vars)
	vars["WALDO_STATE"] = c.Paths.StateDir

	c.Paths.PolicyFile = expandVars(c.Paths.PolicyFile, vars)
	c.Machine.WorkDir = expandVars(c.Machine.WorkDir, vars)
	c.Archive.KeyFile = expandVars(c.Archive.KeyFile, vars)
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// expandVars expands ${VAR} and ${VAR:-default} patterns.
func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		name := parts[1]
		defaultValue := ""
		if len(parts) >= 3 {
			defaultValue = parts[2]
		}

		// Check provided vars first, then environment.
		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// channelIDPattern matches Slack conversation IDs: a C (public), G
// (private), or D (direct) prefix followed by uppercase alphanumerics.
var channelIDPattern = regexp.MustCompile(`^[CDG][A-Z0-9]{4,}$`)

// Validate checks the configuration for errors. All problems are
// reported together.
func (c *Config) Validate() error {
	var errs []error

	if c.Channel.ID == "" {
		errs = append(errs, fmt.Errorf("channel.id is required (or set WALDO_CHANNEL)"))
	} else if !channelIDPattern.MatchString(c.Channel.ID) {
		errs = append(errs, fmt.Errorf("channel.id %q is not a Slack channel ID", c.Channel.ID))
	}

	durations := []struct {
		name  string
		value string
	}{
		{"channel.poll_interval", c.Channel.PollInterval},
		{"agent.timeout", c.Agent.Timeout},
		{"agent.progress_interval", c.Agent.ProgressInterval},
		{"shell.timeout", c.Shell.Timeout},
		{"approval.timeout", c.Approval.Timeout},
		{"approval.poll_interval", c.Approval.PollInterval},
	}
	for _, d := range durations {
		if d.value == "" {
			continue
		}
		parsed, err := time.ParseDuration(d.value)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: invalid duration %q", d.name, d.value))
		} else if parsed <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %q", d.name, d.value))
		}
	}

	if c.Agent.Binary == "" {
		errs = append(errs, fmt.Errorf("agent.binary is required"))
	}
	if c.Shell.Binary == "" {
		errs = append(errs, fmt.Errorf("shell.binary is required"))
	}
	if c.Engine.Concurrency < 1 {
		errs = append(errs, fmt.Errorf("engine.concurrency must be at least 1, got %d", c.Engine.Concurrency))
	}
	if c.Engine.QueueDepth < 1 {
		errs = append(errs, fmt.Errorf("engine.queue_depth must be at least 1, got %d", c.Engine.QueueDepth))
	}
	if c.Paths.StateDir == "" {
		errs = append(errs, fmt.Errorf("paths.state_dir is required"))
	}

	switch c.Archive.Compression {
	case "", "auto", "none", "lz4", "zstd":
	default:
		errs = append(errs, fmt.Errorf("archive.compression must be auto, none, lz4, or zstd, got %q", c.Archive.Compression))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// parseDurationOr parses value as a duration, returning fallback for
// empty or unparseable input. Validate reports bad values; the
// accessors stay silent so call sites do not handle errors twice.
func parseDurationOr(value string, fallback time.Duration) time.Duration {
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

// PollInterval returns the channel polling interval.
func (c *Config) PollInterval() time.Duration {
	return parseDurationOr(c.Channel.PollInterval, 2*time.Second)
}

// ShellTimeout returns the shell command timeout.
func (c *Config) ShellTimeout() time.Duration {
	return parseDurationOr(c.Shell.Timeout, 30*time.Second)
}

// AgentTimeout returns the agent invocation timeout.
func (c *Config) AgentTimeout() time.Duration {
	return parseDurationOr(c.Agent.Timeout, 10*time.Minute)
}

// ProgressInterval returns the progress update interval.
func (c *Config) ProgressInterval() time.Duration {
	return parseDurationOr(c.Agent.ProgressInterval, 15*time.Second)
}

// ApprovalTimeout returns how long a pending approval waits before it
// is denied.
func (c *Config) ApprovalTimeout() time.Duration {
	return parseDurationOr(c.Approval.Timeout, 2*time.Minute)
}

// ApprovalPollInterval returns the reaction polling interval.
func (c *Config) ApprovalPollInterval() time.Duration {
	return parseDurationOr(c.Approval.PollInterval, 2*time.Second)
}

// SessionsFile returns the session store path.
func (c *Config) SessionsFile() string {
	return filepath.Join(c.Paths.StateDir, "sessions.json")
}

// SocketPath returns the control socket path.
func (c *Config) SocketPath() string {
	return filepath.Join(c.Paths.StateDir, "daemon.sock")
}

// ArchiveDir returns the transcript archive directory.
func (c *Config) ArchiveDir() string {
	return filepath.Join(c.Paths.StateDir, "archive")
}

// CredentialsFile returns the sealed credentials path.
func (c *Config) CredentialsFile() string {
	return filepath.Join(c.Paths.StateDir, "credentials.age")
}

// IdentityFile returns the age identity path.
func (c *Config) IdentityFile() string {
	return filepath.Join(c.Paths.StateDir, "identity.key")
}

// ResolvedPolicyFile returns the policy file path, defaulting to
// policy.jsonc inside the state directory.
func (c *Config) ResolvedPolicyFile() string {
	if c.Paths.PolicyFile != "" {
		return c.Paths.PolicyFile
	}
	return filepath.Join(c.Paths.StateDir, "policy.jsonc")
}

// EnsurePaths creates the state directory tree. The state directory
// holds sealed credentials and the control socket, so it is not group
// or world readable.
func (c *Config) EnsurePaths() error {
	dirs := []string{c.Paths.StateDir}
	if c.Archive.Enabled {
		dirs = append(dirs, c.ArchiveDir())
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("creating %s: %w", dir, err)
		}
	}
	return nil
}
