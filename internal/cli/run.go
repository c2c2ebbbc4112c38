package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/LeonWang0735/s3s-conformance/internal/backend"
	"github.com/LeonWang0735/s3s-conformance/internal/config"
	"github.com/LeonWang0735/s3s-conformance/internal/harness"
	"github.com/LeonWang0735/s3s-conformance/internal/report"
	"github.com/LeonWang0735/s3s-conformance/internal/scenario"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	configFile      string
	backends        []string
	scenarioName    string
	scenarioCmd     string
	readyTimeout    time.Duration
	scenarioTimeout time.Duration
	concurrency     int
	historyDB       string
	jsonOutput      bool
	logLevel        string
)

// NewRunCmd creates the run command.
func NewRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run [-- scenario args...]",
		Short: "Run the scenario against the configured backends",
		Long: "Launch each configured backend, wait until it accepts connections, run the\n" +
			"scenario against it, and tear it down. Results are reported per backend;\n" +
			"the exit code is non-zero if any backend fails.",
		RunE: runRun,
	}

	cmd.Flags().StringVarP(&configFile, "config", "c", "", "config file path")
	cmd.Flags().StringArrayVarP(&backends, "backend", "b", nil, "backend to run (repeatable, default all)")
	cmd.Flags().StringVarP(&scenarioName, "scenario", "s", "", fmt.Sprintf("built-in scenario %v", scenario.BuiltinNames()))
	cmd.Flags().StringVar(&scenarioCmd, "scenario-cmd", "", "external scenario executable (overrides --scenario)")
	cmd.Flags().DurationVar(&readyTimeout, "ready-timeout", 0, "readiness polling budget per backend")
	cmd.Flags().DurationVar(&scenarioTimeout, "scenario-timeout", 0, "scenario execution budget per backend")
	cmd.Flags().IntVar(&concurrency, "concurrency", 0, "backend pipelines to run at once")
	cmd.Flags().StringVar(&historyDB, "history", "", "sqlite file to append run history to")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "emit the report as JSON")
	cmd.Flags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")

	return cmd
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	// Override with command line flags
	if readyTimeout > 0 {
		cfg.Harness.ReadyTimeout = readyTimeout
	}
	if scenarioTimeout > 0 {
		cfg.Harness.ScenarioTimeout = scenarioTimeout
	}
	if concurrency > 0 {
		cfg.Harness.Concurrency = concurrency
	}
	if scenarioName != "" {
		cfg.Harness.Scenario = scenarioName
	}
	if historyDB != "" {
		cfg.Harness.HistoryDB = historyDB
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}

	setupLogging(cfg.Logging)

	descriptors, err := cfg.Descriptors(backends)
	if err != nil {
		return err
	}

	sc, err := resolveScenario(cfg, args)
	if err != nil {
		return err
	}

	log.Info().
		Int("backends", len(descriptors)).
		Str("scenario", sc.Name()).
		Msg("Starting conformance run")

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	h := harness.New(backend.NewLauncher(cfg.Harness.StateDir), sc, harness.Options{
		ReadyTimeout:    cfg.Harness.ReadyTimeout,
		ScenarioTimeout: cfg.Harness.ScenarioTimeout,
		Concurrency:     cfg.Harness.Concurrency,
	})
	rep := h.Run(ctx, descriptors)

	if jsonOutput {
		if err := rep.WriteJSON(os.Stdout); err != nil {
			return err
		}
	} else {
		rep.Write(os.Stdout)
	}

	if cfg.Harness.HistoryDB != "" {
		if err := recordHistory(cfg.Harness.HistoryDB, rep); err != nil {
			log.Warn().Err(err).Msg("Failed to record run history")
		}
	}

	if !rep.OK() {
		return errRunFailed
	}
	return nil
}

func loadConfig() (*config.Config, error) {
	if configFile != "" {
		return config.LoadFromFile(configFile)
	}
	return config.Load()
}

func resolveScenario(cfg *config.Config, extraArgs []string) (scenario.Scenario, error) {
	if scenarioCmd != "" {
		return &scenario.Command{
			Path:    scenarioCmd,
			Args:    extraArgs,
			Timeout: cfg.Harness.ScenarioTimeout,
		}, nil
	}
	sc, ok := scenario.Builtin(cfg.Harness.Scenario)
	if !ok {
		return nil, &backend.ConfigError{
			Reason: fmt.Sprintf("unknown scenario %q, built-ins are %v", cfg.Harness.Scenario, scenario.BuiltinNames()),
		}
	}
	return sc, nil
}

func recordHistory(dbPath string, rep harness.Report) error {
	store, err := report.Open(dbPath)
	if err != nil {
		return err
	}
	defer store.Close()

	// The run context may already be cancelled by an interrupt; history is
	// recorded regardless of how the run ended.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return store.Record(ctx, rep)
}

func setupLogging(cfg config.LoggingConfig) {
	// Set log level
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	// Set log format
	if cfg.Format == "console" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
}
