// Command conductord runs the orchestration core's HTTP server: the
// plan dispatcher, agent executor, retry controller, health store, and
// lifecycle log, fronted by a chi router with bearer authentication.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/shayc/conductor/internal/agentexec"
	"github.com/shayc/conductor/internal/authn"
	"github.com/shayc/conductor/internal/concurrency"
	"github.com/shayc/conductor/internal/config"
	"github.com/shayc/conductor/internal/dispatch"
	"github.com/shayc/conductor/internal/httpapi"
	"github.com/shayc/conductor/internal/planner"
	"github.com/shayc/conductor/internal/registry"
	"github.com/shayc/conductor/internal/retrycontrol"
	"github.com/shayc/conductor/internal/store"
	"github.com/shayc/conductor/internal/telemetry"
)

var configDir string
var dbPath string

var rootCmd = &cobra.Command{
	Use:   "conductord",
	Short: "Orchestration core: plan dispatch, agent execution, and retry control",
	Long: `conductord accepts chat requests, plans them onto a registered agent,
and drives that agent to completion through an exponential-backoff retry
loop, recording every state transition in a durable lifecycle log and
tripping a per-agent circuit breaker on repeated failure.`,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configDir, "config-dir", "configs", "directory holding config.yaml and config.<env>.yaml")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "conductor.db", "path to the SQLite lifecycle/health database")
	rootCmd.AddCommand(serveCmd)
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	if err := rootCmd.Execute(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func serve() error {
	cfg, err := config.Load(configDir)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	db, err := store.Open(dbPath)
	if err != nil {
		return fmt.Errorf("store: %w", err)
	}
	defer db.Close()

	lifecycle := store.NewLifecycleStore(db)
	health := store.NewHealthStore(db)
	governor := concurrency.NewGovernor(cfg.Concurrency.MaxInFlight)

	reg, err := registry.LoadDir(cfg.Registry.BinDir)
	if err != nil {
		return fmt.Errorf("registry: %w", err)
	}
	slog.Info("registry loaded", "bin_dir", cfg.Registry.BinDir, "agents", reg.Names())

	metrics := telemetry.Default()

	executor := agentexec.New(reg)
	controller := retrycontrol.New(executor, lifecycle, health, governor)
	controller.SetMetrics(metrics)

	rules := make([]planner.Rule, 0, len(cfg.Routing.Rules))
	for _, rule := range cfg.Routing.Rules {
		rules = append(rules, planner.Rule{Agent: rule.Agent, Keywords: rule.Keywords})
	}
	p := planner.NewKeywordPlanner(reg, cfg.Routing.DefaultAgent, rules...)

	dispatcher := dispatch.New(p, lifecycle, health, controller, cfg.Agents)
	dispatcher.SetMetrics(metrics)

	handlers := &httpapi.Handlers{Dispatcher: dispatcher, Lifecycle: lifecycle, Health: health, DB: db}

	var verifier authn.Verifier
	if len(cfg.Auth.Tokens) > 0 {
		verifier = authn.NewStaticTokenVerifier(cfg.Auth.Tokens)
	}

	router := httpapi.NewRouter(handlers, verifier)

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	go func() {
		slog.Info("starting server", "addr", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	return srv.Shutdown(shutdownCtx)
}
