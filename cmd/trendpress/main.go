package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ckoehler/trendpress/internal/config"
	"github.com/ckoehler/trendpress/internal/database"
	"github.com/ckoehler/trendpress/internal/dedup"
	"github.com/ckoehler/trendpress/internal/generate"
	"github.com/ckoehler/trendpress/internal/ingest"
	"github.com/ckoehler/trendpress/internal/jobs"
	"github.com/ckoehler/trendpress/internal/plan"
	"github.com/ckoehler/trendpress/internal/quota"
	"github.com/ckoehler/trendpress/internal/scheduler"
	"github.com/ckoehler/trendpress/internal/server"
)

var version = "dev"

var (
	verbose    bool
	configPath string
	cfg        *config.Config
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "trendpress",
	Short:   "Automated articles from trending searches",
	Long:    "Trendpress watches trending searches, plans a daily article queue, and generates articles on a budgeted schedule.",
	Version: version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if verbose {
			log.SetFlags(log.LstdFlags | log.Lshortfile)
		} else {
			log.SetFlags(log.LstdFlags)
		}

		// Skip config loading for init and version
		if cmd.Name() == "init" || cmd.Name() == "version" {
			return nil
		}

		path, err := config.ResolveConfigPath(configPath)
		if err != nil {
			return err
		}
		cfg, err = config.Load(path)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(cycleCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(generateCmd)
	rootCmd.AddCommand(serveCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("trendpress", version)
	},
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration in ~/.config/trendpress/",
	RunE: func(cmd *cobra.Command, args []string) error {
		target := filepath.Join(config.ConfigDir(), "config.yaml")
		if _, err := os.Stat(target); err == nil {
			fmt.Printf("Config already exists: %s\n", target)
			return nil
		}

		if err := os.MkdirAll(config.ConfigDir(), 0o755); err != nil {
			return fmt.Errorf("creating config directory: %w", err)
		}

		if err := os.WriteFile(target, config.DefaultConfigYAML, 0o644); err != nil {
			return fmt.Errorf("writing config: %w", err)
		}

		fmt.Printf("Created config: %s\n", target)
		fmt.Println("Edit it to set API keys, the schedule window, and quota limits.")
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show database and system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		stats, err := db.GetStats()
		if err != nil {
			return fmt.Errorf("getting stats: %w", err)
		}

		today := database.Today()
		fmt.Printf("Today: %s\n\n", today)
		fmt.Println("Trends:")
		fmt.Printf("  Total seen: %d\n", stats.TotalTrends)
		fmt.Printf("  Articles generated: %d\n", stats.GeneratedTrends)
		fmt.Println("\nJobs:")
		fmt.Printf("  Pending: %d\n", stats.PendingJobs)
		fmt.Printf("  Generating: %d\n", stats.GeneratingJobs)
		fmt.Printf("  Completed: %d\n", stats.CompletedJobs)
		fmt.Printf("  Failed: %d\n", stats.FailedJobs)
		fmt.Println("\nOutput:")
		fmt.Printf("  Plans: %d\n", stats.Plans)
		fmt.Printf("  Articles: %d\n", stats.Articles)

		arbiter := quota.NewArbiter(db, cfg.Trends.DailyLimit, cfg.Trends.MonthlyLimit)
		usage, err := arbiter.Usage()
		if err != nil {
			return fmt.Errorf("reading quota: %w", err)
		}
		fmt.Println("\nTrend API quota:")
		fmt.Printf("  Today: %d/%d\n", usage.DailyCount, usage.DailyLimit)
		fmt.Printf("  Month: %d/%d\n", usage.MonthlyCount, usage.MonthlyLimit)

		p, err := db.GetPlan(today)
		if err != nil {
			return err
		}
		if p == nil {
			fmt.Println("\nNo plan for today yet.")
			return nil
		}
		fmt.Printf("\nPlan for %s (%d jobs):\n", database.FormatDateDisplay(today), len(p.Jobs))
		for _, j := range p.Jobs {
			line := fmt.Sprintf("  %2d. [%s] %s at %s", j.Position, j.Status, j.TrendID, j.ScheduledAt)
			if j.Error != nil {
				line += " (" + *j.Error + ")"
			}
			fmt.Println(line)
		}
		return nil
	},
}

// --- cycle command ---

var cycleCmd = &cobra.Command{
	Use:   "cycle",
	Short: "Run one update cycle: ingest -> plan -> execute",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		sched, _ := buildScheduler(db)
		result := sched.RunCycle(context.Background())

		for i, step := range result.Steps {
			fmt.Printf("\nStep %d/3: %s\n", i+1, step.Name)
			if step.Err != nil {
				fmt.Printf("  Error: %v\n", step.Err)
			} else {
				fmt.Printf("  %s\n", step.Summary)
			}
		}
		fmt.Printf("\nCycle complete for %s.\n", result.Date)
		return nil
	},
}

// --- run command ---

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the scheduler daemon with the web interface",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		sched, executor := buildScheduler(db)
		if err := sched.Start(); err != nil {
			return err
		}

		arbiter := quota.NewArbiter(db, cfg.Trends.DailyLimit, cfg.Trends.MonthlyLimit)
		go func() {
			if err := server.Serve(db, sched, executor, arbiter, cfg.Server.Port); err != nil {
				log.Printf("Server stopped: %v", err)
			}
		}()

		fmt.Printf("Scheduler running, web interface at http://localhost:%d\n", cfg.Server.Port)
		fmt.Println("Press Ctrl+C to stop")

		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
		<-sig

		fmt.Println("\nShutting down...")
		return sched.Stop()
	},
}

// --- generate command ---

var generateCmd = &cobra.Command{
	Use:   "generate [position]",
	Short: "Force-generate the article for one plan position today",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		position, err := strconv.Atoi(args[0])
		if err != nil || position < 1 {
			return fmt.Errorf("invalid position: %s", args[0])
		}

		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		_, executor := buildScheduler(db)
		date := database.Today()
		if err := executor.ForceGenerate(context.Background(), date, position); err != nil {
			return err
		}

		job, err := db.GetJob(date, position)
		if err != nil {
			return err
		}
		fmt.Printf("Generated article %d for position %d.\n", *job.ArticleID, position)
		return nil
	},
}

// --- serve command ---

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the web interface without the scheduler",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		_, executor := buildScheduler(db)
		arbiter := quota.NewArbiter(db, cfg.Trends.DailyLimit, cfg.Trends.MonthlyLimit)

		fmt.Printf("Starting server at http://localhost:%d\n", servePort)
		fmt.Println("Press Ctrl+C to stop")
		return server.Serve(db, nil, executor, arbiter, servePort)
	},
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 8000, "Port to run server on")
}

// buildScheduler wires the full component stack from config.
func buildScheduler(db *database.DB) (*scheduler.Scheduler, *jobs.Executor) {
	arbiter := quota.NewArbiter(db, cfg.Trends.DailyLimit, cfg.Trends.MonthlyLimit)

	var primary ingest.Source
	serpapi := ingest.NewSerpAPIClient(cfg.Trends.Endpoint, cfg.Trends.APIKeyEnv)
	if serpapi.IsConfigured() {
		primary = serpapi
	} else {
		log.Printf("Trend API key not set (%s), primary source disabled", cfg.Trends.APIKeyEnv)
	}
	fallback := ingest.NewRSSFallback(cfg.Trends.RSSURL)
	ingestor := ingest.New(db, arbiter, primary, fallback)

	deduper := dedup.New(db, cfg.DedupLookback())

	startMin, endMin := cfg.ActiveWindow()
	builder := plan.New(db, cfg.Scheduler.PlanSize, startMin, endMin)

	writer := generate.NewLLMWriter(db, cfg.Generation.Endpoint, cfg.Generation.Model, cfg.Generation.APIKeyEnv, cfg.Generation.MaxTokens)
	if !writer.IsConfigured() {
		log.Printf("Generation API key not set (%s), jobs will fail until it is", cfg.Generation.APIKeyEnv)
	}
	lease := jobs.NewStoreLease(db, "generate", leaseHolder(), 2*cfg.StuckTimeout())
	executor := jobs.New(db, writer, lease, cfg.StuckTimeout())

	return scheduler.New(cfg, ingestor, deduper, builder, executor), executor
}

func leaseHolder() string {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	return fmt.Sprintf("%s-%d", host, os.Getpid())
}

func openDB() (*database.DB, error) {
	dataDir := cfg.GetDataDir()
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	dbPath := filepath.Join(dataDir, "trendpress.db")
	return database.Open(dbPath)
}
