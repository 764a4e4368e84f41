package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/pilltrail/pilltrail/internal/adherence"
	"github.com/pilltrail/pilltrail/internal/api"
	"github.com/pilltrail/pilltrail/internal/clock"
	"github.com/pilltrail/pilltrail/internal/config"
	"github.com/pilltrail/pilltrail/internal/interaction"
	"github.com/pilltrail/pilltrail/internal/medication"
	"github.com/pilltrail/pilltrail/internal/refill"
	"github.com/pilltrail/pilltrail/internal/scheduler"
	"github.com/pilltrail/pilltrail/internal/store"
	"github.com/pilltrail/pilltrail/internal/tracker"
)

var (
	configPath = flag.String("config", "", "Path to config file")
	dataDir    = flag.String("data", "", "Path to data directory")
	port       = flag.Int("port", 0, "Override server port")
	version    = "dev"
)

// App holds the application components
type App struct {
	config    *config.Config
	store     *store.Store
	tracker   *tracker.Tracker
	scheduler *scheduler.Runner
	logger    *zap.Logger
}

func main() {
	// Handle subcommands before flag parsing
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "status":
			handleStatusCommand()
			return
		case "meds":
			handleMedsCommand()
			return
		case "config":
			handleConfigCommand(os.Args[2:])
			return
		case "help", "--help", "-h":
			printExtendedHelp()
			return
		case "version", "--version", "-v":
			fmt.Printf("PillTrail version %s\n", version)
			return
		}
	}

	flag.Parse()

	// Initialize logger
	logger, err := zap.NewDevelopment()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("Starting PillTrail", zap.String("version", version))

	// Load configuration
	cfg, err := config.Load(*configPath, *dataDir)
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}

	// Initialize data store
	st, err := store.New(cfg)
	if err != nil {
		logger.Fatal("Failed to initialize store", zap.Error(err))
	}
	defer st.Close()

	app, err := buildApp(cfg, st, logger)
	if err != nil {
		logger.Fatal("Failed to initialize application", zap.Error(err))
	}

	app.runServer()
}

// buildApp wires the engines together on top of an open store.
func buildApp(cfg *config.Config, st *store.Store, logger *zap.Logger) (*App, error) {
	clk := clock.NewSystem()

	meds, err := medication.NewStore(st.DB())
	if err != nil {
		return nil, fmt.Errorf("failed to initialize medication store: %w", err)
	}

	ledger := adherence.NewLedger(st, clk, cfg.Adherence, logger)
	predictor := refill.NewPredictor(ledger, clk, cfg.Refill, logger)

	pairs, err := interaction.DefaultKnownPairs()
	if err != nil {
		return nil, fmt.Errorf("failed to load interaction pairs: %w", err)
	}

	var classifier interaction.Classifier
	if cfg.Interaction.LookupBaseURL != "" {
		classifier = interaction.NewLookupClient(cfg.Interaction, logger)
	} else {
		logger.Warn("External drug lookup disabled, using known pairs only")
	}

	checkTimeout := time.Duration(cfg.Interaction.LookupTimeout) * time.Second
	checker := interaction.NewChecker(pairs, classifier, checkTimeout, logger)

	tr := tracker.New(meds, ledger, predictor, checker, clk, logger)

	return &App{
		config:    cfg,
		store:     st,
		tracker:   tr,
		scheduler: scheduler.NewRunner(cfg.Scheduler, tr, logger),
		logger:    logger,
	}, nil
}

func (app *App) runServer() {
	if err := app.scheduler.Start(); err != nil {
		app.logger.Fatal("Failed to start scheduler", zap.Error(err))
	}

	// Run an initial interaction and refill pass so the first request
	// already sees fresh state.
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := app.tracker.RefreshNow(ctx); err != nil {
		app.logger.Warn("Initial refresh failed", zap.Error(err))
	}
	cancel()

	server := api.New(app.config, app.tracker, app.logger)

	go func() {
		if err := server.Start(); err != nil {
			app.logger.Fatal("Server error", zap.Error(err))
		}
	}()

	app.logger.Info("Server started",
		zap.String("address", app.config.Server.Address),
		zap.Int("port", app.config.Server.Port),
		zap.String("url", fmt.Sprintf("http://localhost:%d", app.config.Server.Port)),
	)

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	app.logger.Info("Shutting down...")

	if err := server.Shutdown(); err != nil {
		app.logger.Error("Server shutdown error", zap.Error(err))
	}
	app.scheduler.Stop()
	app.tracker.Close()
}

// handleStatusCommand shows current adherence and refill status
func handleStatusCommand() {
	logger := zap.NewNop()

	cfg, err := config.Load("", "")
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}

	st, err := store.New(cfg)
	if err != nil {
		fmt.Printf("Error opening store: %v\n", err)
		os.Exit(1)
	}
	defer st.Close()

	app, err := buildApp(cfg, st, logger)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	defer app.tracker.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := app.tracker.RefreshNow(ctx); err != nil {
		fmt.Printf("Warning: refresh failed: %v\n", err)
	}

	today := app.tracker.TodayAdherence()
	streak := app.tracker.Streak()

	fmt.Println("PillTrail Status")
	fmt.Println("================")
	fmt.Println()
	fmt.Printf("Version: %s\n", version)
	fmt.Printf("Data:    %s\n", cfg.Storage.DataDir)
	fmt.Println()
	fmt.Println("Today:")
	fmt.Printf("  Doses taken: %d of %d (%.0f%%)\n", today.TotalTaken, today.TotalScheduled, today.AdherencePercentage)
	fmt.Printf("  Level: %s\n", today.Level)
	fmt.Printf("  Streak: %d day(s)\n", streak)
	fmt.Println()

	alerts := app.tracker.RefillAlerts()
	if len(alerts) == 0 {
		fmt.Println("Refills: no alerts")
		return
	}
	fmt.Println("Refill Alerts:")
	for _, a := range alerts {
		fmt.Printf("  [%s] %s: %d pill(s), ~%.1f day(s) left, refill by %s\n",
			a.Level, a.MedicationName, a.PillsRemaining, a.DaysRemaining,
			a.RecommendedRefillDate.Format("2006-01-02"))
	}
}

// handleMedsCommand lists tracked medications
func handleMedsCommand() {
	logger := zap.NewNop()

	cfg, err := config.Load("", "")
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}

	st, err := store.New(cfg)
	if err != nil {
		fmt.Printf("Error opening store: %v\n", err)
		os.Exit(1)
	}
	defer st.Close()

	app, err := buildApp(cfg, st, logger)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	defer app.tracker.Close()

	meds, err := app.tracker.Medications()
	if err != nil {
		fmt.Printf("Error listing medications: %v\n", err)
		os.Exit(1)
	}

	if len(meds) == 0 {
		fmt.Println("No medications tracked yet. Add one through the API:")
		fmt.Println("  POST /api/medications")
		return
	}

	fmt.Println("Medications:")
	fmt.Println("============")
	for _, m := range meds {
		taken := " "
		if m.IsTaken {
			taken = "x"
		}
		fmt.Printf("[%s] %s %s", taken, m.Name, m.Dose)
		if len(m.Conflicts) > 0 {
			fmt.Printf("  (interacts with: %v)", m.Conflicts)
		}
		fmt.Println()
	}
}

// handleConfigCommand manages configuration
func handleConfigCommand(args []string) {
	if len(args) == 0 {
		printConfigHelp()
		return
	}

	cfg, err := config.Load("", "")
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}
	configFile := cfg.Storage.DataDir + "/pilltrail.yaml"

	switch args[0] {
	case "get":
		if len(args) < 2 {
			fmt.Println("Usage: pilltrail config get <key>")
			fmt.Println("Example: pilltrail config get server.port")
			os.Exit(1)
		}
		printConfigValue(cfg, args[1])

	case "path":
		fmt.Println(configFile)

	case "show", "view":
		data, err := os.ReadFile(configFile)
		if err != nil {
			fmt.Printf("Error reading config: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(string(data))

	default:
		printConfigHelp()
	}
}

func printConfigHelp() {
	fmt.Println("Config Commands:")
	fmt.Println()
	fmt.Println("  pilltrail config get <key>   Get configuration value")
	fmt.Println("  pilltrail config path        Show config file path")
	fmt.Println("  pilltrail config show        Display full config")
	fmt.Println()
}

func printConfigValue(cfg *config.Config, key string) {
	switch key {
	case "server.port":
		fmt.Println(cfg.Server.Port)
	case "server.address":
		fmt.Println(cfg.Server.Address)
	case "storage.data_dir":
		fmt.Println(cfg.Storage.DataDir)
	case "adherence.streak_window_days":
		fmt.Println(cfg.Adherence.StreakWindowDays)
	case "refill.warning_days":
		fmt.Println(cfg.Refill.WarningDays)
	case "interaction.lookup_base_url":
		fmt.Println(cfg.Interaction.LookupBaseURL)
	default:
		fmt.Printf("Unknown key: %s\n", key)
		fmt.Println("Available keys: server.port, server.address, storage.data_dir, adherence.streak_window_days, refill.warning_days, interaction.lookup_base_url")
	}
}

func printExtendedHelp() {
	fmt.Println("PillTrail - Personal Medication Tracker")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  pilltrail                    Run the server (default)")
	fmt.Println("  pilltrail status             Show adherence and refill status")
	fmt.Println("  pilltrail meds               List tracked medications")
	fmt.Println()
	fmt.Println("Configuration:")
	fmt.Println("  pilltrail config get <key>   Get configuration value")
	fmt.Println("  pilltrail config path        Show config file path")
	fmt.Println("  pilltrail config show        Display full config")
	fmt.Println()
	fmt.Println("Flags:")
	fmt.Println("  --config <path>              Path to config file")
	fmt.Println("  --data <path>                Path to data directory")
	fmt.Println("  --port <port>                Override server port")
	fmt.Println("  --help, -h                   Show this help")
	fmt.Println("  --version, -v                Show version")
	fmt.Println()
	fmt.Println("Examples:")
	fmt.Println("  pilltrail --port 9090        # Serve on a different port")
	fmt.Println("  PILLTRAIL_SECURITY_ADMIN_PASSWORD=secret pilltrail")
	fmt.Println()
}
