// SPDX-License-Identifier: MPL-2.0

package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	// ContainerEngineDocker uses Docker as the environment runtime.
	ContainerEngineDocker ContainerEngine = "docker"
	// ContainerEnginePodman uses Podman as the environment runtime.
	ContainerEnginePodman ContainerEngine = "podman"

	// GeneratorCatalog picks scenarios from the built-in and user catalogs.
	GeneratorCatalog GeneratorProvider = "catalog"
	// GeneratorGenAI asks a Gemini model to write a fresh scenario.
	GeneratorGenAI GeneratorProvider = "genai"

	// LogLevelDebug enables debug output.
	LogLevelDebug LogLevel = "debug"
	// LogLevelInfo is the default level.
	LogLevelInfo LogLevel = "info"
	// LogLevelWarn shows warnings and errors only.
	LogLevelWarn LogLevel = "warn"
	// LogLevelError shows errors only.
	LogLevelError LogLevel = "error"

	// LogFormatText renders human-readable log lines.
	LogFormatText LogFormat = "text"
	// LogFormatJSON renders one JSON object per line.
	LogFormatJSON LogFormat = "json"
)

var (
	// ErrInvalidContainerEngine is returned for unknown container engines.
	ErrInvalidContainerEngine = errors.New("invalid container engine")
	// ErrInvalidGeneratorProvider is returned for unknown generator providers.
	ErrInvalidGeneratorProvider = errors.New("invalid generator provider")
	// ErrInvalidLogLevel is returned for unknown log levels.
	ErrInvalidLogLevel = errors.New("invalid log level")
	// ErrInvalidLogFormat is returned for unknown log formats.
	ErrInvalidLogFormat = errors.New("invalid log format")
	// ErrInvalidConfig is the sentinel wrapped by Config.Validate errors.
	ErrInvalidConfig = errors.New("invalid config")
)

type (
	// ContainerEngine specifies which container runtime to use.
	ContainerEngine string

	// GeneratorProvider selects where new scenarios come from.
	GeneratorProvider string

	// LogLevel is the minimum level that is logged.
	LogLevel string

	// LogFormat selects the log renderer.
	LogFormat string

	// Config is the complete faultlab configuration.
	Config struct {
		// ContainerEngine is the preferred engine; the other one is used as
		// fallback when it is not available.
		ContainerEngine ContainerEngine `json:"container_engine" mapstructure:"container_engine"`
		Generator       GeneratorConfig `json:"generator" mapstructure:"generator"`
		Execution       ExecutionConfig `json:"execution" mapstructure:"execution"`
		Verification    VerifyConfig    `json:"verification" mapstructure:"verification"`
		Provision       ProvisionConfig `json:"provision" mapstructure:"provision"`
		Server          ServerConfig    `json:"server" mapstructure:"server"`
		SSH             SSHConfig       `json:"ssh" mapstructure:"ssh"`
		Ledger          LedgerConfig    `json:"ledger" mapstructure:"ledger"`
		Log             LogConfig       `json:"log" mapstructure:"log"`
	}

	// GeneratorConfig configures scenario generation.
	GeneratorConfig struct {
		Provider GeneratorProvider `json:"provider" mapstructure:"provider"`
		// Model is the Gemini model used by the genai provider.
		Model string `json:"model" mapstructure:"model"`
		// APIKey overrides GEMINI_API_KEY / GOOGLE_API_KEY.
		APIKey string `json:"api_key,omitempty" mapstructure:"api_key"`
		// MaxAttempts bounds regeneration after a structurally invalid issue.
		MaxAttempts int `json:"max_attempts" mapstructure:"max_attempts"`
		// CatalogDir holds extra *.toml scenario files.
		CatalogDir string `json:"catalog_dir,omitempty" mapstructure:"catalog_dir"`
		// WatchCatalog reloads CatalogDir on change while serving.
		WatchCatalog bool `json:"watch_catalog" mapstructure:"watch_catalog"`
	}

	// ExecutionConfig configures command execution inside environments.
	ExecutionConfig struct {
		CommandTimeout time.Duration `json:"command_timeout" mapstructure:"command_timeout"`
		VerifyTimeout  time.Duration `json:"verify_timeout" mapstructure:"verify_timeout"`
		// HistoryLimit bounds the command history kept per session.
		HistoryLimit int `json:"history_limit" mapstructure:"history_limit"`
		// ShellFallback runs lines with pipes, redirects or expansions through
		// the shell instead of rejecting them.
		ShellFallback bool `json:"shell_fallback" mapstructure:"shell_fallback"`
		// TimeoutProgram enforces CommandTimeout inside the environment.
		// Empty leaves only the host-side wait.
		TimeoutProgram string `json:"timeout_program" mapstructure:"timeout_program"`
	}

	// VerifyConfig configures the verification protocol.
	VerifyConfig struct {
		// Cleanup removes the local and in-environment script copies afterwards.
		Cleanup    bool   `json:"cleanup" mapstructure:"cleanup"`
		RemotePath string `json:"remote_path" mapstructure:"remote_path"`
		Shell      string `json:"shell" mapstructure:"shell"`
	}

	// ProvisionConfig configures environment provisioning.
	ProvisionConfig struct {
		BuildTimeout time.Duration `json:"build_timeout" mapstructure:"build_timeout"`
		ToolPackages []string      `json:"tool_packages" mapstructure:"tool_packages"`
		// KeepImages keeps scenario images after a session ends so replaying
		// the same scenario skips the build.
		KeepImages bool `json:"keep_images" mapstructure:"keep_images"`

		BuildAttempts int `json:"build_attempts" mapstructure:"build_attempts"`
	}

	// ServerConfig configures the HTTP API.
	ServerConfig struct {
		Address        string   `json:"address" mapstructure:"address"`
		AllowedOrigins []string `json:"allowed_origins" mapstructure:"allowed_origins"`
	}

	// SSHConfig configures the optional SSH practice terminal.
	SSHConfig struct {
		// Address enables the terminal when set.
		Address     string `json:"address,omitempty" mapstructure:"address"`
		HostKeyPath string `json:"host_key_path" mapstructure:"host_key_path"`
		// PasswordHash is a bcrypt hash; empty accepts every login.
		PasswordHash string `json:"password_hash,omitempty" mapstructure:"password_hash"`
	}

	// LedgerConfig configures the environment journal.
	LedgerConfig struct {
		// Path is the SQLite database file. Empty disables the ledger.
		Path string `json:"path" mapstructure:"path"`
		// ReapOnStart removes environments left behind by a previous process.
		ReapOnStart bool `json:"reap_on_start" mapstructure:"reap_on_start"`
	}

	// LogConfig configures logging.
	LogConfig struct {
		Level  LogLevel  `json:"level" mapstructure:"level"`
		Format LogFormat `json:"format" mapstructure:"format"`
	}
)

// String returns the string representation of the ContainerEngine.
func (e ContainerEngine) String() string { return string(e) }

// Validate returns an error if e is not docker or podman.
func (e ContainerEngine) Validate() error {
	switch e {
	case ContainerEngineDocker, ContainerEnginePodman:
		return nil
	default:
		return fmt.Errorf("%w: %q (valid: docker, podman)", ErrInvalidContainerEngine, string(e))
	}
}

// String returns the string representation of the GeneratorProvider.
func (p GeneratorProvider) String() string { return string(p) }

// Validate returns an error if p is not catalog or genai.
func (p GeneratorProvider) Validate() error {
	switch p {
	case GeneratorCatalog, GeneratorGenAI:
		return nil
	default:
		return fmt.Errorf("%w: %q (valid: catalog, genai)", ErrInvalidGeneratorProvider, string(p))
	}
}

// Validate returns an error if l is not a known level.
func (l LogLevel) Validate() error {
	switch l {
	case LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError:
		return nil
	default:
		return fmt.Errorf("%w: %q (valid: debug, info, warn, error)", ErrInvalidLogLevel, string(l))
	}
}

// Validate returns an error if f is not text or json.
func (f LogFormat) Validate() error {
	switch f {
	case LogFormatText, LogFormatJSON:
		return nil
	default:
		return fmt.Errorf("%w: %q (valid: text, json)", ErrInvalidLogFormat, string(f))
	}
}

// Validate checks the values the schema cannot see, such as ones coming
// from environment variables. All problems are reported together.
func (c *Config) Validate() error {
	var errs []error
	for _, err := range []error{
		c.ContainerEngine.Validate(),
		c.Generator.Provider.Validate(),
		c.Log.Level.Validate(),
		c.Log.Format.Validate(),
	} {
		if err != nil {
			errs = append(errs, err)
		}
	}

	if c.Generator.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("generator.max_attempts must be at least 1, got %d", c.Generator.MaxAttempts))
	}
	if c.Provision.BuildAttempts < 1 {
		errs = append(errs, fmt.Errorf("provision.build_attempts must be at least 1, got %d", c.Provision.BuildAttempts))
	}
	if c.Execution.HistoryLimit < 0 {
		errs = append(errs, fmt.Errorf("execution.history_limit must not be negative, got %d", c.Execution.HistoryLimit))
	}
	for _, d := range []struct {
		key   string
		value time.Duration
	}{
		{"execution.command_timeout", c.Execution.CommandTimeout},
		{"execution.verify_timeout", c.Execution.VerifyTimeout},
		{"provision.build_timeout", c.Provision.BuildTimeout},
	} {
		if d.value < 0 {
			errs = append(errs, fmt.Errorf("%s must not be negative, got %s", d.key, d.value))
		}
	}
	if strings.TrimSpace(c.Server.Address) == "" {
		errs = append(errs, errors.New("server.address must not be empty"))
	}
	if c.SSH.Address != "" && c.SSH.PasswordHash != "" && !strings.HasPrefix(c.SSH.PasswordHash, "$2") {
		errs = append(errs, errors.New("ssh.password_hash must be a bcrypt hash"))
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
}
