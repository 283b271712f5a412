// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"errors"
	"io"
	"os"

	"golang.org/x/term"

	appsvc "github.com/faultlab/faultlab/internal/app"
	"github.com/faultlab/faultlab/internal/catalog"
	"github.com/faultlab/faultlab/internal/config"
	"github.com/faultlab/faultlab/internal/container"
	"github.com/faultlab/faultlab/internal/failure"
	"github.com/faultlab/faultlab/internal/generator"
	"github.com/faultlab/faultlab/internal/hint"
	"github.com/faultlab/faultlab/internal/ledger"
	"github.com/faultlab/faultlab/internal/logging"
	"github.com/faultlab/faultlab/internal/provision"
	"github.com/faultlab/faultlab/internal/runtime"
	"github.com/faultlab/faultlab/internal/session"
)

type (
	// App wires configuration and service collaborators for the CLI. Every
	// command handler receives the App and builds what it needs through it.
	App struct {
		Config ConfigProvider

		engine    container.Engine
		generator generator.Generator
		stdin     io.Reader
		stdout    io.Writer
		stderr    io.Writer
		plain     bool

		verbose    bool
		configPath string
	}

	// Dependencies are the injection points for NewApp. Nil fields get
	// production defaults: the file-backed config provider, the engine
	// named by container_engine, the configured generator and the process
	// standard streams.
	Dependencies struct {
		Config    ConfigProvider
		Engine    container.Engine
		Generator generator.Generator
		Stdin     io.Reader
		Stdout    io.Writer
		Stderr    io.Writer
		// Plain disables Markdown rendering. It defaults to true when
		// Stdout is not a terminal.
		Plain *bool
	}

	// ConfigProvider loads configuration using explicit options.
	ConfigProvider interface {
		Load(ctx context.Context, opts config.LoadOptions) (*config.Config, error)
	}

	// runtimeDeps are the collaborators built for one command run.
	runtimeDeps struct {
		cfg       *config.Config
		engine    container.Engine
		generator generator.Generator
		service   *appsvc.Service
		ledger    ledger.Ledger
	}
)

// NewApp creates an App with defaults for omitted dependencies.
func NewApp(deps Dependencies) *App {
	if deps.Config == nil {
		deps.Config = config.NewProvider()
	}
	if deps.Stdin == nil {
		deps.Stdin = os.Stdin
	}
	if deps.Stdout == nil {
		deps.Stdout = os.Stdout
	}
	if deps.Stderr == nil {
		deps.Stderr = os.Stderr
	}
	plain := !isTerminal(deps.Stdout)
	if deps.Plain != nil {
		plain = *deps.Plain
	}
	return &App{
		Config:    deps.Config,
		engine:    deps.Engine,
		generator: deps.Generator,
		stdin:     deps.Stdin,
		stdout:    deps.Stdout,
		stderr:    deps.Stderr,
		plain:     plain,
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func (a *App) loadOptions() config.LoadOptions {
	return config.LoadOptions{ConfigFilePath: a.configPath}
}

// loadConfig reads the configuration and installs the process logger.
func (a *App) loadConfig(ctx context.Context) (*config.Config, error) {
	cfg, err := a.Config.Load(ctx, a.loadOptions())
	if err != nil {
		return nil, err
	}
	if _, err := logging.Setup(a.stderr, logging.Options{
		Level:   string(cfg.Log.Level),
		Format:  string(cfg.Log.Format),
		Verbose: a.verbose,
	}); err != nil {
		return nil, failure.Wrap(err, failure.KindInvalidInput, "configure logging")
	}
	return cfg, nil
}

// openEngine returns the injected engine or the configured one, falling
// back to the other engine when the preferred CLI is missing.
func (a *App) openEngine(cfg *config.Config) (container.Engine, error) {
	if a.engine != nil {
		return a.engine, nil
	}
	engine, err := container.NewEngine(container.EngineType(cfg.ContainerEngine))
	if err != nil {
		if errors.Is(err, container.ErrEngineUnavailable) {
			return nil, failure.NewErrorContext().
				WithKind(failure.KindProvisioning).
				WithOperation("connect to container engine").
				WithResource(string(cfg.ContainerEngine)).
				WithSuggestions(
					"Install Docker or Podman and make sure the daemon is running",
					"Run 'faultlab doctor' to check the engine",
				).
				Wrap(err).
				BuildError()
		}
		return nil, err
	}
	return engine, nil
}

func (a *App) openGenerator(ctx context.Context, cfg *config.Config) (generator.Generator, error) {
	if a.generator != nil {
		return a.generator, nil
	}
	switch cfg.Generator.Provider {
	case config.GeneratorGenAI:
		g, err := generator.NewGenAI(ctx, generator.GenAIConfig{
			APIKey: cfg.Generator.APIKey,
			Model:  cfg.Generator.Model,
		})
		if err != nil {
			return nil, failure.NewErrorContext().
				WithKind(failure.KindGeneration).
				WithOperation("create scenario generator").
				WithResource("genai").
				WithSuggestion("Export GEMINI_API_KEY or switch generator.provider to \"catalog\"").
				Wrap(err).
				BuildError()
		}
		return g, nil
	default:
		c, err := catalog.Open(cfg.Generator.CatalogDir)
		if err != nil {
			return nil, err
		}
		return generator.NewFromCatalog(c), nil
	}
}

// openCatalog returns the catalog named by the configuration.
func (a *App) openCatalog(cfg *config.Config) (*catalog.Catalog, error) {
	return catalog.Open(cfg.Generator.CatalogDir)
}

// buildService wires a Service from cfg. The returned close function
// releases the ledger; it does not end sessions.
func (a *App) buildService(ctx context.Context, cfg *config.Config, buildOutput io.Writer) (*runtimeDeps, func(), error) {
	engine, err := a.openEngine(cfg)
	if err != nil {
		return nil, nil, err
	}
	gen, err := a.openGenerator(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}

	led, err := ledger.Open(ctx, cfg.Ledger.Path)
	if err != nil {
		return nil, nil, failure.NewErrorContext().
			WithKind(failure.KindInternal).
			WithOperation("open environment ledger").
			WithResource(cfg.Ledger.Path).
			WithSuggestion("Set ledger.path to a writable location, or to \"\" to disable the ledger").
			Wrap(err).
			BuildError()
	}
	closeLedger := func() { _ = led.Close() }

	provCfg := provision.DefaultConfig()
	provCfg.Apply(
		provision.WithToolPackages(cfg.Provision.ToolPackages),
		provision.WithBuildAttempts(cfg.Provision.BuildAttempts, provCfg.BuildBackoff),
		provision.WithBuildTimeout(cfg.Provision.BuildTimeout),
		provision.WithBuildOutput(buildOutput),
	)
	if err := provCfg.Validate(); err != nil {
		closeLedger()
		return nil, nil, failure.Wrap(err, failure.KindInvalidInput, "configure provisioner")
	}

	rtCfg := runtime.DefaultConfig()
	rtCfg.CommandTimeout = cfg.Execution.CommandTimeout
	rtCfg.VerifyTimeout = cfg.Execution.VerifyTimeout
	rtCfg.ShellFallback = cfg.Execution.ShellFallback
	rtCfg.TimeoutProgram = cfg.Execution.TimeoutProgram
	rtCfg.Cleanup = cfg.Verification.Cleanup
	rtCfg.RemotePath = cfg.Verification.RemotePath
	rtCfg.Shell = cfg.Verification.Shell
	exec, err := runtime.NewExecutor(engine, rtCfg)
	if err != nil {
		closeLedger()
		return nil, nil, failure.Wrap(err, failure.KindInvalidInput, "configure executor")
	}

	svc, err := appsvc.New(appsvc.Dependencies{
		Generator:   gen,
		Provisioner: provision.NewImageProvisioner(engine, provCfg),
		Runner:      exec,
		Store:       session.NewStore(session.WithHistoryLimit(cfg.Execution.HistoryLimit)),
		Hints:       hint.NewSequencer(),
		Ledger:      led,
		EngineName:  engine.Name(),
	},
		appsvc.WithMaxAttempts(cfg.Generator.MaxAttempts),
		appsvc.WithKeepImages(cfg.Provision.KeepImages),
	)
	if err != nil {
		closeLedger()
		return nil, nil, err
	}

	return &runtimeDeps{cfg: cfg, engine: engine, generator: gen, service: svc, ledger: led}, closeLedger, nil
}
