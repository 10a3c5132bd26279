package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/stevenijones/reactcarwashsim/internal/app"
	"github.com/stevenijones/reactcarwashsim/internal/config"
	"github.com/stevenijones/reactcarwashsim/internal/logging"
	"github.com/stevenijones/reactcarwashsim/internal/params"
	"github.com/stevenijones/reactcarwashsim/internal/run"
	"github.com/stevenijones/reactcarwashsim/internal/service"
	"github.com/stevenijones/reactcarwashsim/internal/storage"
)

// errRunFailed signals a failed headless run whose message was already printed.
var errRunFailed = errors.New("run failed")

type cliOptions struct {
	envFile        string
	engineURL      string
	engineCmd      string
	runsDir        string
	logFile        string
	logLevel       string
	logFormat      string
	requestTimeout time.Duration
	paramsPath     string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	root := newRootCmd(&cliOptions{})
	if err := root.ExecuteContext(ctx); err != nil {
		if !errors.Is(err, errRunFailed) {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
		stop()
		os.Exit(1)
	}
}

func newRootCmd(opts *cliOptions) *cobra.Command {
	root := &cobra.Command{
		Use:   "carwash-tui",
		Short: "Terminal front end for the car wash queue simulation",
		Long: `carwash-tui edits the car wash simulation parameters, submits runs to the
simulation engine and shows the reneged-car and wait-time metrics together
with the queue, wash and lost-car series.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runTUI(cmd, opts)
		},
	}

	defaults := config.Default()
	flags := root.PersistentFlags()
	flags.StringVar(&opts.envFile, "env-file", ".env", "dotenv file with CARWASH_* settings (ignored when missing)")
	flags.StringVar(&opts.engineURL, "engine-url", defaults.EngineURL, "simulation engine base URL")
	flags.StringVar(&opts.engineCmd, "engine-cmd", "", "command that starts a local engine for this session")
	flags.StringVar(&opts.runsDir, "runs-dir", defaults.RunsDir, "directory for saved run bundles")
	flags.StringVar(&opts.logFile, "log-file", defaults.LogFile, "log file used while the TUI owns the terminal")
	flags.StringVar(&opts.logLevel, "log-level", defaults.LogLevel, "log level: debug, info, warn, error")
	flags.StringVar(&opts.logFormat, "log-format", defaults.LogFormat, "log format: text or json")
	flags.DurationVar(&opts.requestTimeout, "timeout", defaults.RequestTimeout, "per-run request timeout (0 disables)")
	root.Flags().StringVar(&opts.paramsPath, "params", "", "JSON file of parameters to preload")

	root.AddCommand(newRunCmd(opts), newHistoryCmd(opts))
	return root
}

// resolveConfig layers defaults, the dotenv file, the environment and the
// flags the user set explicitly, in that order.
func resolveConfig(cmd *cobra.Command, opts *cliOptions) (config.Config, error) {
	if err := config.LoadEnvFile(opts.envFile); err != nil {
		return config.Config{}, err
	}
	cfg, err := config.FromEnv(config.Default(), os.Getenv)
	if err != nil {
		return config.Config{}, err
	}

	flags := cmd.Flags()
	if flags.Changed("engine-url") {
		cfg.EngineURL = opts.engineURL
	}
	if flags.Changed("engine-cmd") {
		cfg.EngineCmd = opts.engineCmd
	}
	if flags.Changed("runs-dir") {
		cfg.RunsDir = opts.runsDir
	}
	if flags.Changed("log-file") {
		cfg.LogFile = opts.logFile
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = opts.logLevel
	}
	if flags.Changed("log-format") {
		cfg.LogFormat = opts.logFormat
	}
	if flags.Changed("timeout") {
		cfg.RequestTimeout = opts.requestTimeout
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func resolveStartupParams(path string) (map[params.Field]string, string, error) {
	if path == "" {
		return nil, "", nil
	}
	return app.LoadParamsFile(path)
}

// startEngine connects to the engine, launching it first when a command is
// configured. A managed engine that fails to come up is fatal; an external
// one that is not reachable yet only produces a warning, since every run
// reports its own transport failure.
func startEngine(ctx context.Context, cfg config.Config, stderr io.Writer) (*service.Manager, error) {
	logger := logging.FromContext(ctx)
	svc := service.NewManager(service.Options{
		BaseURL:       cfg.EngineURL,
		LaunchCommand: cfg.EngineCommand(),
		Logger:        logger,
	})

	startCtx := ctx
	if cfg.HealthTimeout > 0 {
		var cancel context.CancelFunc
		startCtx, cancel = context.WithTimeout(ctx, cfg.HealthTimeout)
		defer cancel()
	}
	if err := svc.Start(startCtx); err != nil {
		if svc.Managed() {
			if logDump := svc.Logs(); logDump != "" {
				fmt.Fprintln(stderr, "engine logs:")
				fmt.Fprintln(stderr, logDump)
			}
			_ = svc.Stop()
			return nil, fmt.Errorf("start simulation engine: %w", err)
		}
		logger.Warn("engine not reachable", "url", cfg.EngineURL, "error", err)
		fmt.Fprintf(stderr, "warning: simulation engine at %s is not reachable: %v\n", cfg.EngineURL, err)
	}
	return svc, nil
}

func runTUI(cmd *cobra.Command, opts *cliOptions) error {
	cfg, err := resolveConfig(cmd, opts)
	if err != nil {
		return err
	}
	initial, source, err := resolveStartupParams(opts.paramsPath)
	if err != nil {
		return fmt.Errorf("load startup params: %w", err)
	}

	logFile, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer logFile.Close()
	logger := logging.New(cfg.LogLevel, cfg.LogFormat, logFile)
	ctx := logging.WithLogger(cmd.Context(), logger)

	svc, err := startEngine(ctx, cfg, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer func() {
		_ = svc.Stop()
	}()

	store, err := storage.NewStore(cfg.RunsDir)
	if err != nil {
		return fmt.Errorf("initialize run storage: %w", err)
	}

	paramStore := params.NewStore()
	controller := run.NewController(svc, paramStore,
		run.WithTimeout(cfg.RequestTimeout),
		run.WithLogger(logger),
	)
	model := app.NewModelWithOptions(controller, paramStore, store, app.ModelOptions{
		InitialParams:     initial,
		InitialParamsPath: source,
		EngineLabel:       cfg.EngineURL,
		Logger:            logger,
	})

	logger.Info("tui starting", "engine_url", cfg.EngineURL, "managed_engine", svc.Managed(), "runs_dir", store.RunsDir())
	program := tea.NewProgram(model, tea.WithAltScreen(), tea.WithMouseCellMotion(), tea.WithContext(ctx))
	if _, err := program.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return fmt.Errorf("tui exited with error: %w", err)
	}
	return nil
}
