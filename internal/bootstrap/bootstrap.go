package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmrestrepo/expedientes-rag/internal/config"
	"github.com/jmrestrepo/expedientes-rag/internal/core/ports"
	"github.com/jmrestrepo/expedientes-rag/internal/core/usecase"
	"github.com/jmrestrepo/expedientes-rag/internal/infrastructure/embedding"
	"github.com/jmrestrepo/expedientes-rag/internal/infrastructure/graph/neo4j"
	"github.com/jmrestrepo/expedientes-rag/internal/infrastructure/llm/azopenai"
	"github.com/jmrestrepo/expedientes-rag/internal/infrastructure/places"
	"github.com/jmrestrepo/expedientes-rag/internal/infrastructure/queue/nats"
	"github.com/jmrestrepo/expedientes-rag/internal/infrastructure/repository/postgres"
	"github.com/jmrestrepo/expedientes-rag/internal/infrastructure/resilience"
	"github.com/jmrestrepo/expedientes-rag/internal/infrastructure/search/cognitive"
	"github.com/jmrestrepo/expedientes-rag/internal/observability/logging"
)

type App struct {
	Config config.Config
	Logger *slog.Logger

	CaseRepo   ports.CaseRepository
	TraceStore ports.TraceStore
	Searcher   ports.ChunkSearcher
	Embedder   ports.Embedder
	EmbedCache *embedding.CachedEmbedder
	Generator  ports.AnswerGenerator
	Queue      ports.TraceQueue
	Graph      ports.GraphStore

	AnswerUC *usecase.AnswerUseCase
	HealthUC *usecase.HealthUseCase

	closeFns []func()
}

func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*App, error) {
	app := &App{Config: cfg, Logger: logger}

	db, err := postgres.OpenDB(cfg.PostgresDSN())
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	app.closeFns = append(app.closeFns, func() { _ = db.Close() })

	caseRepo := postgres.NewCaseRepository(db)
	traceRepo := postgres.NewTraceRepository(db)
	if err := traceRepo.EnsureSchema(ctx); err != nil {
		app.Close()
		return nil, fmt.Errorf("ensure trace schema: %w", err)
	}
	app.CaseRepo = caseRepo
	app.TraceStore = traceRepo

	executor := resilience.NewExecutorWithLogger(resilience.DefaultConfig(), logging.WithComponent(logger, "resilience"))

	llmClient := azopenai.New(azopenai.Config{
		Endpoint:        cfg.LLMEndpoint,
		EmbedEndpoint:   cfg.EmbedEndpoint,
		APIKey:          cfg.LLMAPIKey,
		ChatDeployment:  cfg.LLMDeployment,
		EmbedDeployment: cfg.EmbedDeployment,
		APIVersion:      cfg.LLMAPIVersion,
		Temperature:     cfg.LLMTemperature,
	}, executor)
	app.Generator = llmClient

	cachedEmbedder, err := embedding.NewCachedEmbedder(
		llmClient,
		cfg.EmbedCacheSize,
		cfg.EmbedCachePath,
		cfg.EmbedCacheFlushEvery,
		logging.WithComponent(logger, "embed_cache"),
	)
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("init embedding cache: %w", err)
	}
	app.closeFns = append(app.closeFns, func() { _ = cachedEmbedder.Close() })
	app.Embedder = cachedEmbedder
	app.EmbedCache = cachedEmbedder

	searcher := cognitive.New(cognitive.Config{
		Endpoint:   cfg.SearchEndpoint,
		APIKey:     cfg.SearchAPIKey,
		DocIndex:   cfg.SearchIndexDocs,
		ChunkIndex: cfg.SearchIndexChunks,
		Threshold:  cfg.SimThreshold,
	}, cachedEmbedder, executor, logging.WithComponent(logger, "search"))
	app.Searcher = searcher

	queue, err := nats.NewWithOptions(cfg.NATSURL, cfg.NATSSubject, nats.Options{
		ResilienceExecutor: executor,
	})
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("init trace queue: %w", err)
	}
	app.closeFns = append(app.closeFns, queue.Close)
	app.Queue = queue

	if cfg.GraphEnabled() {
		graph, err := neo4j.New(ctx, neo4j.Config{
			URI:      cfg.Neo4jURI,
			User:     cfg.Neo4jUser,
			Password: cfg.Neo4jPassword,
			Database: cfg.Neo4jDatabase,
		}, logging.WithComponent(logger, "graph"))
		if err != nil {
			// the graph view is auxiliary; start degraded instead of failing
			logger.Warn("graph store unavailable, continuing without it", "error", err)
		} else {
			app.closeFns = append(app.closeFns, func() { _ = graph.Close(context.Background()) })
			app.Graph = graph
		}
	}

	catalog, err := places.Load(cfg.PlacesCatalogPath)
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("load places catalog: %w", err)
	}

	decomposer := usecase.NewDecomposer(catalog)
	router := usecase.NewRouter(caseRepo, searcher, usecase.RouterConfig{
		TopKChunks:   cfg.TopKChunks,
		TopKDocs:     cfg.TopKDocs,
		ListPageSize: cfg.ListPageSize,
		SQLTimeout:   time.Duration(cfg.SQLTimeoutMS) * time.Millisecond,
		IndexTimeout: time.Duration(cfg.IndexTimeoutMS) * time.Millisecond,
	}, logging.WithComponent(logger, "router"))

	app.AnswerUC = usecase.NewAnswerUseCase(
		decomposer,
		router,
		llmClient,
		queue,
		traceRepo,
		usecase.AnswerConfig{
			LatencyBudget: time.Duration(cfg.LatencyBudget) * time.Millisecond,
		},
		logging.WithComponent(logger, "answer"),
	)
	app.HealthUC = usecase.NewHealthUseCase(caseRepo, searcher, cachedEmbedder, llmClient)

	return app, nil
}

func (a *App) Close() {
	for i := len(a.closeFns) - 1; i >= 0; i-- {
		a.closeFns[i]()
	}
	a.closeFns = nil
}
