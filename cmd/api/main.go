package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	httpadapter "github.com/jmrestrepo/expedientes-rag/internal/adapters/http"
	"github.com/jmrestrepo/expedientes-rag/internal/bootstrap"
	"github.com/jmrestrepo/expedientes-rag/internal/config"
	"github.com/jmrestrepo/expedientes-rag/internal/observability/logging"
	"github.com/jmrestrepo/expedientes-rag/internal/observability/metrics"
)

func main() {
	cfg := config.Load()
	logger := logging.NewJSONLogger("api", cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("bootstrap error: %v", err)
	}
	defer app.Close()

	m := metrics.NewHTTPServerMetrics("api")
	app.EmbedCache.SetObserver(func(hit bool) { m.RecordEmbedCache("api", hit) })
	app.AnswerUC.SetTraceFallbackObserver(func() { m.RecordTraceFallback("api") })
	router := httpadapter.NewRouter(
		app.AnswerUC,
		app.HealthUC,
		app.CaseRepo,
		app.Searcher,
		app.TraceStore,
		app.Graph,
		m,
		httpadapter.RouterOptions{
			Service:        "api",
			RateLimitRPS:   cfg.RateLimitRPS,
			RateLimitBurst: cfg.RateLimitBurst,
			MaxInFlight:    cfg.MaxInFlight,
		},
	).Handler()

	server := &http.Server{
		Addr:         ":" + cfg.APIPort,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("api listening", "port", cfg.APIPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("api server error: %v", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("api shutdown error", "error", err)
	}
}
