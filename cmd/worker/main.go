package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmrestrepo/expedientes-rag/internal/bootstrap"
	"github.com/jmrestrepo/expedientes-rag/internal/config"
	"github.com/jmrestrepo/expedientes-rag/internal/core/domain"
	"github.com/jmrestrepo/expedientes-rag/internal/observability/logging"
	"github.com/jmrestrepo/expedientes-rag/internal/observability/metrics"
)

func main() {
	cfg := config.Load()
	logger := logging.NewJSONLogger("worker", cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("bootstrap error: %v", err)
	}
	defer app.Close()

	m := metrics.NewWorkerMetrics("worker")
	metricsServer := &http.Server{
		Addr:    ":" + cfg.WorkerMetricsPort,
		Handler: m.Handler(),
	}
	go func() {
		logger.Info("worker metrics listening", "port", cfg.WorkerMetricsPort)
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("worker metrics server error", "error", err)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}()

	logger.Info("worker subscribed", "subject", cfg.NATSSubject)
	err = app.Queue.SubscribeAnswerRecords(ctx, func(handlerCtx context.Context, rec domain.AnswerRecord) error {
		m.StartPersist()
		m.ObserveQueueLag("worker", time.Since(rec.Timestamp))

		persistCtx, cancel := context.WithTimeout(handlerCtx, 30*time.Second)
		defer cancel()

		start := time.Now()
		err := app.TraceStore.SaveRecord(persistCtx, rec)
		m.FinishPersist("worker", time.Since(start), err)
		if err != nil {
			logger.Error("persist answer record", "query_id", rec.QueryID, "error", err)
		}
		return err
	})
	if err != nil {
		log.Fatalf("worker subscribe error: %v", err)
	}
}
