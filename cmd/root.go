package cmd

import (
	"context"
	"fmt"
	"maps"
	"os"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/s0up4200/smartfolder/cache"
	"github.com/s0up4200/smartfolder/config"
	"github.com/s0up4200/smartfolder/engine"
	"github.com/s0up4200/smartfolder/filter"
	"github.com/s0up4200/smartfolder/items"
	"github.com/s0up4200/smartfolder/optimizer"
	"github.com/s0up4200/smartfolder/perf"
	"github.com/s0up4200/smartfolder/rule"
)

var (
	cfgFile  string
	cfg      *config.Config
	logger   zerolog.Logger
	eng      *engine.Engine
	registry *prometheus.Registry

	// Command flags
	itemsPath string

	version   = "dev"
	buildTime = "unknown"
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "smartfolder",
	Short: "Evaluate saved smart folders over item collections",
	Long: `smartfolder evaluates rule-based smart folders against a collection of items
loaded from a YAML or JSON file. Folders, custom operators and engine tuning
live in the config file.`,
	PersistentPreRunE: initializeApp,
	SilenceUsage:      true,
}

// SetVersion sets the version information reported by --version
func SetVersion(v, bt string) {
	version = v
	buildTime = bt
	rootCmd.Version = fmt.Sprintf("%s (built %s)", version, buildTime)
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	err := rootCmd.Execute()
	shutdown()

	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")
	rootCmd.PersistentFlags().StringVarP(&itemsPath, "items", "i", "", "items file (overrides items.path)")

	// Add subcommands
	rootCmd.AddCommand(queryCmd)
	rootCmd.AddCommand(foldersCmd)
	rootCmd.AddCommand(statsCmd)
}

// initializeApp loads the configuration and builds the engine
func initializeApp(cmd *cobra.Command, args []string) error {
	// Load configuration
	var err error
	cfg, err = config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Setup logger
	logger = setupLogger(cfg.Logging)

	if cmd.Flags().Changed("items") {
		cfg.Items.Path = itemsPath
	}

	eng, err = newEngine(cfg, logger)
	if err != nil {
		return err
	}

	folders, err := cfg.SmartFolders()
	if err != nil {
		return fmt.Errorf("invalid folder definition: %w", err)
	}
	if err := eng.RegisterFolders(folders); err != nil {
		return fmt.Errorf("failed to register folders: %w", err)
	}

	logger.Debug().
		Int("folders", len(folders)).
		Int("operators", len(cfg.Operators)).
		Msg("Engine initialized")

	return nil
}

// newEngine wires the engine and its components from configuration
func newEngine(cfg *config.Config, logger zerolog.Logger) (*engine.Engine, error) {
	evaluator := filter.NewExprEvaluator(
		filter.NewEvaluator(),
		filter.WithCache(cfg.Engine.ExprCacheSize),
		filter.WithExprLogger(logger),
	)
	if err := evaluator.RegisterAll(cfg.Operators); err != nil {
		return nil, fmt.Errorf("failed to register custom operators: %w", err)
	}

	costs := optimizer.DefaultFieldCosts()
	maps.Copy(costs, cfg.Engine.FieldCosts)

	monitorOpts := []perf.Option{perf.WithLogger(logger)}
	if cfg.Engine.Metrics {
		registry = prometheus.NewRegistry()
		monitorOpts = append(monitorOpts, perf.WithRegisterer(registry))
	}

	failureMode, err := engine.ParseFailureMode(cfg.Engine.FailureMode)
	if err != nil {
		return nil, err
	}

	opts := []engine.Option{
		engine.WithLogger(logger),
		engine.WithEvaluator(evaluator),
		engine.WithOptimizer(optimizer.New(optimizer.WithFieldCosts(costs))),
		engine.WithMonitor(perf.New(monitorOpts...)),
		engine.WithCache(
			cache.WithCapacity(cfg.Engine.CacheCapacity),
			cache.WithTTL(cfg.Engine.CacheTTL),
		),
		engine.WithBatch(cfg.Engine.BatchSize, cfg.Engine.Concurrency),
		engine.WithFailureMode(failureMode),
		engine.WithAutoIndex(cfg.Engine.AutoIndex),
	}
	if cfg.Engine.Workers > 0 {
		opts = append(opts, engine.WithWorkers(cfg.Engine.Workers))
	}

	return engine.New(opts...), nil
}

// loadItems reads the configured item file and builds configured indexes
func loadItems() ([]rule.Item, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	loaded, err := items.Load(cfg.Items.Path, items.Options{
		IDField:    cfg.Items.IDField,
		DateFields: cfg.Items.DateFields,
		Location:   loc,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load items: %w", err)
	}

	if len(cfg.Engine.IndexFields) > 0 {
		eng.BuildIndexes(loaded, cfg.Engine.IndexFields)
	}

	logger.Debug().
		Str("path", cfg.Items.Path).
		Int("items", len(loaded)).
		Msg("Items loaded")

	return loaded, nil
}

// shutdown stops the engine's workers
func shutdown() {
	if eng == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := eng.Close(ctx); err != nil {
		logger.Warn().Err(err).Msg("Engine did not shut down cleanly")
	}
	eng = nil
}

// setupLogger configures the zerolog logger
func setupLogger(cfg config.LoggingConfig) zerolog.Logger {
	// Set log level
	level := zerolog.InfoLevel
	switch strings.ToLower(cfg.Level) {
	case "trace":
		level = zerolog.TraceLevel
	case "debug":
		level = zerolog.DebugLevel
	case "warn":
		level = zerolog.WarnLevel
	case "error":
		level = zerolog.ErrorLevel
	}

	zerolog.SetGlobalLevel(level)

	// Configure output format
	if cfg.Format == "json" {
		return zerolog.New(os.Stderr).With().Timestamp().Logger()
	}

	// Console format, colour only on a terminal
	output := zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: time.RFC3339,
		NoColor:    !cfg.Color || !isatty.IsTerminal(os.Stderr.Fd()),
	}

	return zerolog.New(output).With().Timestamp().Logger()
}
