package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/lendcore/lendcore/internal/app"
	"github.com/lendcore/lendcore/internal/loans"
	"github.com/lendcore/lendcore/internal/observability"
	"github.com/lendcore/lendcore/internal/platform/cache"
	"github.com/lendcore/lendcore/internal/platform/db"
	"github.com/lendcore/lendcore/jobs"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	var summaryCache *loans.SummaryCache
	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		// Summaries degrade to direct reads without Redis.
		logger.Warn("redis unavailable, summary cache disabled", slog.Any("error", err))
	} else {
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close", slog.Any("error", err))
			}
		}()
		summaryCache = loans.NewSummaryCache(redisClient, cfg.SummaryCacheTTL)
	}

	queueClient := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := queueClient.Close(); err != nil {
			logger.Warn("queue client close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()
	repo := loans.NewRepository(pool)
	notifier := jobs.NewExpenseNotifier(queueClient)
	service := loans.NewService(repo, summaryCache, notifier, metrics, logger)
	summarizer := loans.NewSummarizer(repo, summaryCache)
	handler := loans.NewHandler(logger, service, summarizer)

	router := app.NewRouter(app.RouterParams{
		Logger:      logger,
		Config:      cfg,
		LoanHandler: handler,
		Metrics:     metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
