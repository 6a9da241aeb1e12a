// Command jobsubstrate runs the job execution substrate: the
// Execution Engine, the Worker Pool it dispatches into, the
// Supervisor Controller that polices worker deadlines, and the
// periodic cleanup loop, all fronted by a Prometheus /metrics
// endpoint. Modeled on the host CLI's cobra root command with
// persistent logging flags and cobra.OnInitialize, trimmed to the one
// long-running "serve" subcommand this substrate needs.
package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cuemby/jobsubstrate/internal/config"
	"github.com/cuemby/jobsubstrate/pkg/engine"
	"github.com/cuemby/jobsubstrate/pkg/jobmetrics"
	"github.com/cuemby/jobsubstrate/pkg/jobtypes"
	"github.com/cuemby/jobsubstrate/pkg/joblog"
	"github.com/cuemby/jobsubstrate/pkg/statusstore"
	"github.com/cuemby/jobsubstrate/pkg/supervisor"
	"github.com/cuemby/jobsubstrate/pkg/workerpool"
)

var (
	Version = "dev"
	Commit  = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "jobsubstrate",
	Short:   "Job execution substrate: worker-pool engine with supervised deadlines",
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("jobsubstrate version %s\nCommit: %s\n", Version, Commit))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	cobra.OnInitialize(initLogging)

	serveCmd.Flags().String("config", "", "Path to YAML config file")
	serveCmd.Flags().String("worker-binary", "jobworker", "Path to the jobworker executable")
	rootCmd.AddCommand(serveCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")

	joblog.Init(joblog.Config{
		Level:      joblog.Level(logLevel),
		JSONOutput: logJSON,
	})
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the execution engine until terminated",
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, _ := cmd.Flags().GetString("config")
		workerBinary, _ := cmd.Flags().GetString("worker-binary")

		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		cfg.WorkerBinary = workerBinary

		return run(cfg)
	},
}

func run(cfg jobtypes.Config) error {
	log := joblog.WithComponent("main")

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	if err := os.MkdirAll(cfg.WorkDir, 0755); err != nil {
		return fmt.Errorf("create work dir: %w", err)
	}

	store, err := statusstore.Open(cfg.LogStorage, cfg.DataDir)
	if err != nil {
		return fmt.Errorf("open status store: %w", err)
	}
	defer store.Close()
	if err := store.InitSession(); err != nil {
		return fmt.Errorf("init status store session: %w", err)
	}

	supervisorAddr := supervisor.Address(cfg.DataDir)

	pool, err := workerpool.New(workerpool.Config{
		WorkerBinary:      cfg.WorkerBinary,
		Size:              cfg.ParallelProcesses,
		ProcessLifecycle:  cfg.ProcessLifecycle,
		SocketDir:         cfg.DataDir,
		SupervisorAddress: supervisorAddr,
		DataDir:           cfg.DataDir,
		StatusBackend:     cfg.LogStorage,
	})
	if err != nil {
		return fmt.Errorf("start worker pool: %w", err)
	}
	defer pool.Shutdown()

	controller, err := supervisor.NewController(supervisorAddr, cfg.SupervisorTimeout, pool.KillPID)
	if err != nil {
		return fmt.Errorf("start supervisor controller: %w", err)
	}
	go controller.Run()
	defer controller.Stop()

	eng := engine.New(engine.Config{
		WorkDir:            cfg.WorkDir,
		CleanupInterval:    cfg.CleanupInterval,
		ResponseExpiration: cfg.ResponseExpiration,
	}, store, engine.PoolAdapter{Pool: pool})
	go eng.Run()
	defer eng.Stop()

	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", jobmetrics.Handler())
		srv := &http.Server{Addr: cfg.MetricsAddr, Handler: mux}
		go func() {
			log.Info().Str("addr", cfg.MetricsAddr).Msg("serving metrics")
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error().Err(err).Msg("metrics server failed")
			}
		}()
		defer srv.Close()
	}

	log.Info().
		Int("parallel_processes", cfg.ParallelProcesses).
		Str("status_backend", cfg.LogStorage).
		Msg("job execution substrate started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info().Msg("shutting down")
	return nil
}
