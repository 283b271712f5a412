// SPDX-License-Identifier: MPL-2.0

package config

import (
	"context"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/faultlab/faultlab/internal/cueutil"
	"github.com/faultlab/faultlab/internal/failure"
	"github.com/faultlab/faultlab/internal/generator"
	"github.com/faultlab/faultlab/internal/provision"
	fruntime "github.com/faultlab/faultlab/internal/runtime"
	"github.com/faultlab/faultlab/internal/session"

	"github.com/spf13/viper"
)

const (
	// AppName is the application name.
	AppName = "faultlab"
	// ConfigFileName is the name of the config file (without extension).
	ConfigFileName = "config"
	// ConfigFileExt is the config file extension.
	ConfigFileExt = "cue"
	// EnvPrefix prefixes environment overrides, e.g. FAULTLAB_SERVER_ADDRESS.
	EnvPrefix = "FAULTLAB"
	// LedgerFileName is the default ledger database file name.
	LedgerFileName = "ledger.db"
	// HostKeyFileName is the default SSH host key file name.
	HostKeyFileName = "ssh_host_ed25519"
)

//go:embed config_schema.cue
var configSchema []byte

// ConfigDir returns the faultlab configuration directory: $XDG_CONFIG_HOME
// (defaulting to ~/.config) on Linux, ~/Library/Application Support on macOS
// and %APPDATA% on Windows.
//
//nolint:revive // ConfigDir is more descriptive than Dir for external callers
func ConfigDir() (string, error) {
	if configDirOverride != "" {
		return configDirOverride, nil
	}

	var base string
	switch runtime.GOOS {
	case "windows":
		base = os.Getenv("APPDATA")
		if base == "" {
			base = filepath.Join(os.Getenv("USERPROFILE"), "AppData", "Roaming")
		}
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		base = filepath.Join(home, "Library", "Application Support")
	default:
		base = os.Getenv("XDG_CONFIG_HOME")
		if base == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", fmt.Errorf("failed to get home directory: %w", err)
			}
			base = filepath.Join(home, ".config")
		}
	}

	return filepath.Join(base, AppName), nil
}

// StateDir returns the directory for runtime state such as the ledger:
// $XDG_STATE_HOME/faultlab, defaulting to ~/.local/state/faultlab. On macOS
// and Windows state lives next to the configuration.
func StateDir() (string, error) {
	if stateDirOverride != "" {
		return stateDirOverride, nil
	}

	switch runtime.GOOS {
	case "windows", "darwin":
		return ConfigDir()
	}

	base := os.Getenv("XDG_STATE_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		base = filepath.Join(home, ".local", "state")
	}
	return filepath.Join(base, AppName), nil
}

// DefaultConfig returns the built-in defaults. The ledger and host key paths
// are empty when no state directory can be determined.
func DefaultConfig() *Config {
	ledgerPath, hostKeyPath := "", ""
	if dir, err := StateDir(); err == nil {
		ledgerPath = filepath.Join(dir, LedgerFileName)
		hostKeyPath = filepath.Join(dir, HostKeyFileName)
	}

	rt := fruntime.DefaultConfig()
	prov := provision.DefaultConfig()

	return &Config{
		ContainerEngine: ContainerEngineDocker,
		Generator: GeneratorConfig{
			Provider:     GeneratorCatalog,
			Model:        generator.DefaultModel,
			MaxAttempts:  2,
			WatchCatalog: true,
		},
		Execution: ExecutionConfig{
			CommandTimeout: rt.CommandTimeout,
			VerifyTimeout:  rt.VerifyTimeout,
			HistoryLimit:   session.DefaultHistoryLimit,
			ShellFallback:  rt.ShellFallback,
			TimeoutProgram: rt.TimeoutProgram,
		},
		Verification: VerifyConfig{
			Cleanup:    rt.Cleanup,
			RemotePath: rt.RemotePath,
			Shell:      rt.Shell,
		},
		Provision: ProvisionConfig{
			BuildTimeout:  prov.BuildTimeout,
			ToolPackages:  prov.ToolPackages,
			KeepImages:    true,
			BuildAttempts: prov.BuildAttempts,
		},
		Server: ServerConfig{
			Address:        "127.0.0.1:5000",
			AllowedOrigins: []string{"*"},
		},
		SSH: SSHConfig{
			HostKeyPath: hostKeyPath,
		},
		Ledger: LedgerConfig{
			Path:        ledgerPath,
			ReapOnStart: true,
		},
		Log: LogConfig{
			Level:  LogLevelInfo,
			Format: LogFormatText,
		},
	}
}

// setDefaults registers every key so AutomaticEnv can override it.
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("container_engine", string(d.ContainerEngine))

	v.SetDefault("generator.provider", string(d.Generator.Provider))
	v.SetDefault("generator.model", d.Generator.Model)
	v.SetDefault("generator.api_key", d.Generator.APIKey)
	v.SetDefault("generator.max_attempts", d.Generator.MaxAttempts)
	v.SetDefault("generator.catalog_dir", d.Generator.CatalogDir)
	v.SetDefault("generator.watch_catalog", d.Generator.WatchCatalog)

	v.SetDefault("execution.command_timeout", d.Execution.CommandTimeout)
	v.SetDefault("execution.verify_timeout", d.Execution.VerifyTimeout)
	v.SetDefault("execution.history_limit", d.Execution.HistoryLimit)
	v.SetDefault("execution.shell_fallback", d.Execution.ShellFallback)
	v.SetDefault("execution.timeout_program", d.Execution.TimeoutProgram)

	v.SetDefault("verification.cleanup", d.Verification.Cleanup)
	v.SetDefault("verification.remote_path", d.Verification.RemotePath)
	v.SetDefault("verification.shell", d.Verification.Shell)

	v.SetDefault("provision.build_timeout", d.Provision.BuildTimeout)
	v.SetDefault("provision.tool_packages", d.Provision.ToolPackages)
	v.SetDefault("provision.keep_images", d.Provision.KeepImages)
	v.SetDefault("provision.build_attempts", d.Provision.BuildAttempts)

	v.SetDefault("server.address", d.Server.Address)
	v.SetDefault("server.allowed_origins", d.Server.AllowedOrigins)

	v.SetDefault("ssh.address", d.SSH.Address)
	v.SetDefault("ssh.host_key_path", d.SSH.HostKeyPath)
	v.SetDefault("ssh.password_hash", d.SSH.PasswordHash)

	v.SetDefault("ledger.path", d.Ledger.Path)
	v.SetDefault("ledger.reap_on_start", d.Ledger.ReapOnStart)

	v.SetDefault("log.level", string(d.Log.Level))
	v.SetDefault("log.format", string(d.Log.Format))
}

// loadWithOptions resolves the config file, layers it over defaults and
// environment overrides, and validates the result. The returned path is
// empty when only defaults were used.
func loadWithOptions(ctx context.Context, opts LoadOptions) (*Config, string, error) {
	select {
	case <-ctx.Done():
		return nil, "", fmt.Errorf("load config canceled: %w", ctx.Err())
	default:
	}

	v := viper.New()
	setDefaults(v, DefaultConfig())
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	path, explicit, err := resolvePath(opts)
	if err != nil {
		return nil, "", err
	}

	switch {
	case path != "" && fileExists(path):
		if err := loadCUEIntoViper(v, path); err != nil {
			return nil, "", failure.NewErrorContext().
				WithKind(failure.KindInvalidInput).
				WithOperation("load configuration").
				WithResource(path).
				WithSuggestion("Check that the file contains valid CUE syntax").
				WithSuggestion("Verify the configuration values match the expected schema").
				WithSuggestion("Run 'faultlab config show' to see the effective configuration").
				Wrap(err).
				BuildError()
		}
	case explicit:
		return nil, "", failure.NewErrorContext().
			WithKind(failure.KindNotFound).
			WithOperation("load configuration").
			WithResource(path).
			WithSuggestion("Verify the file path is correct").
			WithSuggestion("Run 'faultlab config init' to create a default configuration").
			Wrap(fmt.Errorf("config file not found: %s", path)).
			BuildError()
	default:
		path = ""
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, "", fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", failure.NewErrorContext().
			WithKind(failure.KindInvalidInput).
			WithOperation("validate configuration").
			WithResource(path).
			WithSuggestion("Check FAULTLAB_* environment variables for typos").
			Wrap(err).
			BuildError()
	}

	return &cfg, path, nil
}

// resolvePath picks the config file: an explicit path, else config.cue in the
// config directory, else config.cue in the working directory. explicit reports
// whether the caller demanded the path.
func resolvePath(opts LoadOptions) (path string, explicit bool, err error) {
	if opts.ConfigFilePath != "" {
		return opts.ConfigFilePath, true, nil
	}

	dir := opts.ConfigDirPath
	if dir == "" {
		if dir, err = ConfigDir(); err != nil {
			return "", false, err
		}
	}

	name := ConfigFileName + "." + ConfigFileExt
	if p := filepath.Join(dir, name); fileExists(p) {
		return p, false, nil
	}
	if fileExists(name) {
		return name, false, nil
	}
	return filepath.Join(dir, name), false, nil
}

// FilePath returns the config file Load would read, or where Init would
// create one when none exists yet.
func FilePath(opts LoadOptions) (string, error) {
	path, _, err := resolvePath(opts)
	return path, err
}

// loadCUEIntoViper validates the file against #Config and merges it over the
// defaults. Fields stay optional, so the decode goes through a map rather than
// the Config struct.
func loadCUEIntoViper(v *viper.Viper, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	configMap, err := cueutil.DecodeMap(configSchema, data, "#Config", path)
	if err != nil {
		return err
	}

	if err := v.MergeConfigMap(configMap); err != nil {
		return fmt.Errorf("failed to merge config: %w", err)
	}
	return nil
}

// Init writes a default config file unless one already exists and returns
// its path together with whether it was created.
func Init(opts LoadOptions) (path string, created bool, err error) {
	path = opts.ConfigFilePath
	if path == "" {
		dir := opts.ConfigDirPath
		if dir == "" {
			if dir, err = ConfigDir(); err != nil {
				return "", false, err
			}
		}
		path = filepath.Join(dir, ConfigFileName+"."+ConfigFileExt)
	}

	if fileExists(path) {
		return path, false, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", false, fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(GenerateCUE(DefaultConfig())), 0o644); err != nil {
		return "", false, fmt.Errorf("failed to write config file: %w", err)
	}
	return path, true, nil
}

// GenerateCUE renders cfg as a CUE document accepted by the schema. The API
// key is written only when set.
func GenerateCUE(cfg *Config) string {
	var sb strings.Builder
	q := strconv.Quote

	sb.WriteString("// faultlab configuration\n")
	sb.WriteString("// See 'faultlab config --help' for details.\n\n")

	fmt.Fprintf(&sb, "container_engine: %s\n\n", q(string(cfg.ContainerEngine)))

	sb.WriteString("generator: {\n")
	fmt.Fprintf(&sb, "\tprovider:     %s\n", q(string(cfg.Generator.Provider)))
	fmt.Fprintf(&sb, "\tmodel:        %s\n", q(cfg.Generator.Model))
	if cfg.Generator.APIKey != "" {
		fmt.Fprintf(&sb, "\tapi_key:      %s\n", q(cfg.Generator.APIKey))
	}
	fmt.Fprintf(&sb, "\tmax_attempts: %d\n", cfg.Generator.MaxAttempts)
	if cfg.Generator.CatalogDir != "" {
		fmt.Fprintf(&sb, "\tcatalog_dir:  %s\n", q(cfg.Generator.CatalogDir))
	}
	fmt.Fprintf(&sb, "\twatch_catalog: %t\n", cfg.Generator.WatchCatalog)
	sb.WriteString("}\n\n")

	sb.WriteString("execution: {\n")
	fmt.Fprintf(&sb, "\tcommand_timeout: %s\n", quoteDuration(cfg.Execution.CommandTimeout))
	fmt.Fprintf(&sb, "\tverify_timeout:  %s\n", quoteDuration(cfg.Execution.VerifyTimeout))
	fmt.Fprintf(&sb, "\thistory_limit:   %d\n", cfg.Execution.HistoryLimit)
	fmt.Fprintf(&sb, "\tshell_fallback:  %t\n", cfg.Execution.ShellFallback)
	fmt.Fprintf(&sb, "\ttimeout_program: %s\n", q(cfg.Execution.TimeoutProgram))
	sb.WriteString("}\n\n")

	sb.WriteString("verification: {\n")
	fmt.Fprintf(&sb, "\tcleanup:     %t\n", cfg.Verification.Cleanup)
	fmt.Fprintf(&sb, "\tremote_path: %s\n", q(cfg.Verification.RemotePath))
	fmt.Fprintf(&sb, "\tshell:       %s\n", q(cfg.Verification.Shell))
	sb.WriteString("}\n\n")

	sb.WriteString("provision: {\n")
	fmt.Fprintf(&sb, "\tbuild_timeout:  %s\n", quoteDuration(cfg.Provision.BuildTimeout))
	fmt.Fprintf(&sb, "\ttool_packages:  %s\n", quoteList(cfg.Provision.ToolPackages))
	fmt.Fprintf(&sb, "\tkeep_images:    %t\n", cfg.Provision.KeepImages)
	fmt.Fprintf(&sb, "\tbuild_attempts: %d\n", cfg.Provision.BuildAttempts)
	sb.WriteString("}\n\n")

	sb.WriteString("server: {\n")
	fmt.Fprintf(&sb, "\taddress:         %s\n", q(cfg.Server.Address))
	fmt.Fprintf(&sb, "\tallowed_origins: %s\n", quoteList(cfg.Server.AllowedOrigins))
	sb.WriteString("}\n\n")

	sb.WriteString("ssh: {\n")
	if cfg.SSH.Address != "" {
		fmt.Fprintf(&sb, "\taddress:       %s\n", q(cfg.SSH.Address))
	}
	fmt.Fprintf(&sb, "\thost_key_path: %s\n", q(cfg.SSH.HostKeyPath))
	if cfg.SSH.PasswordHash != "" {
		fmt.Fprintf(&sb, "\tpassword_hash: %s\n", q(cfg.SSH.PasswordHash))
	}
	sb.WriteString("}\n\n")

	sb.WriteString("ledger: {\n")
	fmt.Fprintf(&sb, "\tpath:          %s\n", q(cfg.Ledger.Path))
	fmt.Fprintf(&sb, "\treap_on_start: %t\n", cfg.Ledger.ReapOnStart)
	sb.WriteString("}\n\n")

	sb.WriteString("log: {\n")
	fmt.Fprintf(&sb, "\tlevel:  %s\n", q(string(cfg.Log.Level)))
	fmt.Fprintf(&sb, "\tformat: %s\n", q(string(cfg.Log.Format)))
	sb.WriteString("}\n")

	return sb.String()
}

func quoteDuration(d time.Duration) string {
	return strconv.Quote(d.String())
}

func quoteList(items []string) string {
	quoted := make([]string, len(items))
	for i, s := range items {
		quoted[i] = strconv.Quote(s)
	}
	return "[" + strings.Join(quoted, ", ") + "]"
}

// fileExists checks if a file exists and is not a directory.
func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
