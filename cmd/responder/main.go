package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/opsignal/responder/internal/adapters"
	"github.com/opsignal/responder/internal/api"
	"github.com/opsignal/responder/internal/config"
	"github.com/opsignal/responder/internal/correlator"
	"github.com/opsignal/responder/internal/dispatcher"
	"github.com/opsignal/responder/internal/engine"
	"github.com/opsignal/responder/internal/metrics"
	"github.com/opsignal/responder/internal/models"
	"github.com/opsignal/responder/internal/normalizer"
	"github.com/opsignal/responder/internal/services"
	"github.com/opsignal/responder/internal/store"
	"github.com/opsignal/responder/internal/utils"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("failed to load config", slog.String("path", configPath), slog.Any("error", err))
		os.Exit(1)
	}

	logger := utils.NewLogger(cfg.Logging.Level, cfg.Logging.JSON)
	logger.Info("starting responder", slog.String("address", cfg.Server.Address))

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		logger.Error("failed to register metrics", slog.Any("error", err))
		os.Exit(1)
	}

	st, err := store.NewBoltStore(cfg.Store.Path)
	if err != nil {
		logger.Error("failed to open store", slog.String("path", cfg.Store.Path), slog.Any("error", err))
		os.Exit(1)
	}
	defer st.Close()

	ruleEngine, err := engine.NewRuleEngine(cfg.Rules.Path)
	if err != nil {
		logger.Error("failed to load rule pack", slog.String("path", cfg.Rules.Path), slog.Any("error", err))
		os.Exit(1)
	}

	pool := engine.NewPool(logger, []engine.Engine{
		ruleEngine,
		engine.NewPatternEngine(),
		engine.NewForecastEngine(),
		engine.NewPlatformEngine(),
	}, cfg.Engines.PoolDeadline, cfg.Engines.EngineTimeout)

	fuser := engine.NewFuser(engine.Weights{
		engine.KindRuleBased: cfg.Engines.Weights.RuleBased,
		engine.KindPattern:   cfg.Engines.Weights.Pattern,
		engine.KindForecast:  cfg.Engines.Weights.Forecast,
		engine.KindPlatform:  cfg.Engines.Weights.Platform,
	})

	registry := adapters.Registry{
		models.ActionTicketCreate: adapters.NewTrackerAdapter(cfg.Adapters.Tracker.BaseURL, cfg.Adapters.Tracker.Token, cfg.Adapters.Tracker.Timeout),
		models.ActionComment:      adapters.NewReviewAdapter(cfg.Adapters.Review.BaseURL, cfg.Adapters.Review.Token, cfg.Adapters.Review.Repo, cfg.Adapters.Review.Timeout),
		models.ActionLabel:        adapters.NewReviewAdapter(cfg.Adapters.Review.BaseURL, cfg.Adapters.Review.Token, cfg.Adapters.Review.Repo, cfg.Adapters.Review.Timeout),
		models.ActionNotify:       adapters.NewChatAdapter(cfg.Adapters.Chat.BaseURL, cfg.Adapters.Chat.Timeout),
		models.ActionRollback:     adapters.NewPipelineAdapter(cfg.Adapters.Pipeline.BaseURL, cfg.Adapters.Pipeline.Token, cfg.Adapters.Pipeline.Timeout),
		models.ActionConfigFix:    adapters.NewPipelineAdapter(cfg.Adapters.Pipeline.BaseURL, cfg.Adapters.Pipeline.Token, cfg.Adapters.Pipeline.Timeout),
	}

	disp := dispatcher.New(logger, st, registry, cfg.Dispatch)

	corr := correlator.New(logger, st, pool, fuser, disp, cfg.Correlator)
	corr.Start(context.Background())
	defer corr.Stop()

	svc := services.NewResponderService(logger, st, normalizer.New(), corr)
	server := api.NewServer(logger, svc, cfg.Server.Address)

	metricsServer := &http.Server{
		Addr:    cfg.Server.MetricsAddress,
		Handler: promhttp.Handler(),
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics listener failed", slog.Any("error", err))
		}
	}()

	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http listener failed", slog.Any("error", err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", slog.Any("error", err))
	}
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("metrics shutdown", slog.Any("error", err))
	}
}
