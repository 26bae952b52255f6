package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/EthDevOps/k8s-service-trigger/internal/config"
	"github.com/EthDevOps/k8s-service-trigger/internal/kube"
	"github.com/EthDevOps/k8s-service-trigger/internal/trigger"
	"github.com/EthDevOps/k8s-service-trigger/internal/watcher"
)

func main() {
	cfg := config.Load()

	// Tunables can be overridden on the command line; the GitHub settings
	// come from the environment only (see internal/config).
	flag.DurationVar(&cfg.CooldownWindow, "cooldown-window", cfg.CooldownWindow, "Minimum time between two successful workflow dispatches.")
	cooldownScope := flag.String("cooldown-scope", string(cfg.CooldownScope), "Cooldown granularity: 'global' or 'per-service'.")
	flag.DurationVar(&cfg.RestartDelay, "restart-delay", cfg.RestartDelay, "Wait between a watch failure and the next attempt.")
	flag.StringVar(&cfg.MetricsAddr, "metrics-bind-address", cfg.MetricsAddr, "The address the metrics and health endpoints bind to.")
	flag.Parse()

	if *cooldownScope == string(trigger.ScopePerService) {
		cfg.CooldownScope = trigger.ScopePerService
	} else {
		cfg.CooldownScope = trigger.ScopeGlobal
	}

	// Setup logger
	logConfig := zap.NewProductionConfig()
	logConfig.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, err := logConfig.Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := cfg.Validate(); err != nil {
		logger.Error("Invalid configuration", zap.Error(err))
		logger.Sync()
		os.Exit(1)
	}

	if err := run(cfg, logger); err != nil {
		logger.Fatal("Service trigger exited", zap.Error(err))
	}
}

// run contains the main application logic, separated from main() for clarity.
func run(cfg config.Config, logger *zap.Logger) error {
	logger.Info("Starting k8s-service-trigger",
		zap.String("version", "dev"),
		zap.String("repo", cfg.GitHubRepo),
		zap.String("workflow_file", cfg.WorkflowFile),
		zap.String("ref", cfg.WorkflowRef),
		zap.Duration("cooldown_window", cfg.CooldownWindow),
		zap.String("cooldown_scope", string(cfg.CooldownScope)),
		zap.Duration("restart_delay", cfg.RestartDelay),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go serveMetrics(ctx, logger, cfg.MetricsAddr)

	limiter := trigger.NewLimiter(cfg.CooldownWindow, cfg.CooldownScope)
	dispatcher := trigger.NewGitHubDispatcher(logger, cfg.GitHubToken, trigger.GitHubDispatcherConfig{
		Repo:         cfg.GitHubRepo,
		WorkflowFile: cfg.WorkflowFile,
		Ref:          cfg.WorkflowRef,
		Tenant:       cfg.Tenant,
		Project:      cfg.Project,
	})

	w := watcher.New(logger, kube.NewClient, limiter, dispatcher)
	sup := watcher.NewSupervisor(logger, w.Run, watcher.SupervisorOptions{
		RestartDelay: cfg.RestartDelay,
	})
	return sup.Run(ctx)
}

// serveMetrics exposes Prometheus metrics and a liveness endpoint until the
// context is cancelled.
func serveMetrics(ctx context.Context, logger *zap.Logger, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("Metrics endpoint listening", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Metrics server failed", zap.Error(err))
	}
}
