package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/kirillkom/knowledge-pipeline/internal/config"
	"github.com/kirillkom/knowledge-pipeline/internal/core/domain"
	"github.com/kirillkom/knowledge-pipeline/internal/core/ports"
	"github.com/kirillkom/knowledge-pipeline/internal/core/usecase"
	"github.com/kirillkom/knowledge-pipeline/internal/infrastructure/chunking"
	"github.com/kirillkom/knowledge-pipeline/internal/infrastructure/embedding"
	"github.com/kirillkom/knowledge-pipeline/internal/infrastructure/extraction"
	"github.com/kirillkom/knowledge-pipeline/internal/infrastructure/graph"
	"github.com/kirillkom/knowledge-pipeline/internal/infrastructure/graph/neo4j"
	"github.com/kirillkom/knowledge-pipeline/internal/infrastructure/llm/ollama"
	natsq "github.com/kirillkom/knowledge-pipeline/internal/infrastructure/queue/nats"
	"github.com/kirillkom/knowledge-pipeline/internal/infrastructure/repository/postgres"
	"github.com/kirillkom/knowledge-pipeline/internal/infrastructure/resilience"
	"github.com/kirillkom/knowledge-pipeline/internal/infrastructure/storage/localfs"
	"github.com/kirillkom/knowledge-pipeline/internal/infrastructure/storage/s3"
	"github.com/kirillkom/knowledge-pipeline/internal/infrastructure/vector/qdrant"
	"github.com/kirillkom/knowledge-pipeline/internal/observability/logging"
	"github.com/kirillkom/knowledge-pipeline/internal/observability/metrics"
)

// App wires the worker's dependency graph.
type App struct {
	Config  config.Config
	Logger  *slog.Logger
	Metrics *metrics.PipelineMetrics

	Queue *natsq.Queue

	Registrar ports.DocumentRegistrar
	Ingestor  ports.DocumentIngestor
	Recoverer ports.StaleRecoverer
	Reindexer ports.ReindexService
	Deleter   ports.DocumentDeleter

	closeFn func()
}

func New(ctx context.Context, cfg config.Config) (*App, error) {
	log := logging.NewJSONLogger("worker", cfg.LogLevel)
	pipelineMetrics := metrics.NewPipelineMetrics("worker")

	db, err := postgres.OpenDB(cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	docRepo := postgres.NewDocumentRepository(db)
	if err := docRepo.EnsureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	chunkRepo := postgres.NewChunkRepository(db)
	tenantRepo := postgres.NewTenantRepository(db)

	var storage ports.ObjectStorage
	switch cfg.StorageBackend {
	case "s3":
		storage, err = s3.New(ctx, s3.Options{
			Bucket:    cfg.S3Bucket,
			Region:    cfg.S3Region,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
		})
	default:
		storage, err = localfs.New(cfg.StoragePath)
	}
	if err != nil {
		return nil, fmt.Errorf("init object storage: %w", err)
	}

	executor := resilience.NewExecutor(resilience.Policy{
		RetryMaxAttempts: 3,
		BreakerEnabled:   true,
	}, log)

	queue, err := natsq.NewWithOptions(cfg.NATSURL, cfg.NATSIngestSubject, natsq.Options{
		ResilienceExecutor: executor,
		Logger:             log,
	})
	if err != nil {
		return nil, fmt.Errorf("init task queue: %w", err)
	}
	notifier := natsq.NotifierFromQueue(queue, cfg.NATSProgressTopic)

	ollamaClient := ollama.New(cfg.OllamaURL, cfg.OllamaGenModel, cfg.OllamaEmbedModel, executor)
	classifier := ollama.NewClassifier(ollamaClient)
	entityExtractor := ollama.NewEntityExtractor(ollamaClient)
	enricher := ollama.NewEnricher(ollamaClient)

	registry := embedding.NewRegistry()
	registry.Register(ollama.NewProvider(ollamaClient))

	vectorIndex := qdrant.New(cfg.QdrantURL, cfg.QdrantSharedCollection, cfg.QdrantCollectionPrefix)

	graphStore, err := neo4j.New(ctx, cfg.Neo4jURI, cfg.Neo4jUser, cfg.Neo4jPassword)
	if err != nil {
		queue.Close()
		return nil, fmt.Errorf("connect neo4j: %w", err)
	}
	enrichEngine := graph.NewEngine(graphStore, vectorIndex, cfg.SimilarityThreshold, cfg.SimilarityFanOut, log)

	meter := embedding.NewMeter(log, pipelineMetrics)
	pipeline := embedding.NewPipeline(
		registry,
		vectorIndex,
		meter,
		domain.EmbeddingConfig{
			Provider:   cfg.DefaultEmbedProvider,
			Model:      cfg.DefaultEmbedModel,
			Dimensions: cfg.DefaultEmbedDims,
		},
		log,
		embedding.WithParallelism(cfg.EmbedBatchParallel),
		embedding.WithRatePerSecond(cfg.EmbedRatePerSecond),
	)

	profiles, err := config.LoadChunkProfiles(cfg.ChunkProfilesPath)
	if err != nil {
		log.Warn("chunk profiles fell back to defaults", "error", err)
	}
	counter := chunking.NewTokenCounter(cfg.DefaultEmbedModel)
	grader := chunking.NewQualityScorer()
	chunkerFor := func(docDomain string) usecase.Chunker {
		profile := profiles.ForDomain(docDomain)
		return chunking.NewSemanticSplitter(profile.ChunkSize, profile.ChunkOverlap, counter)
	}

	extractorChain := extraction.NewChain(extraction.Options{
		LayoutPDFEnabled: cfg.LayoutPDFEnabled,
		RemoteOCREnabled: cfg.RemoteOCREnabled,
		RemoteOCRURL:     cfg.RemoteOCRURL,
		RemoteOCRAPIKey:  cfg.RemoteOCRAPIKey,
	}, log)

	entityPool, err := ants.NewPool(cfg.EntityPoolSize)
	if err != nil {
		queue.Close()
		return nil, fmt.Errorf("init entity pool: %w", err)
	}

	ingestor := usecase.NewIngestDocumentUseCase(usecase.IngestDeps{
		Docs:       docRepo,
		Chunks:     chunkRepo,
		Tenants:    tenantRepo,
		Storage:    storage,
		Extractor:  extractorChain,
		Classifier: classifier,
		ChunkerFor: chunkerFor,
		Grader:     grader,
		Embedder:   pipeline,
		Graph:      enrichEngine,
		Entities:   entityExtractor,
		Enricher:   enricher,
		Notifier:   notifier,
		Metrics:    pipelineMetrics,
		EntityPool: entityPool,
		Logger:     log,
	})

	registrar := usecase.NewRegisterDocumentUseCase(docRepo, tenantRepo, storage, queue, log)
	recoverer := usecase.NewRecoverStaleUseCase(docRepo, notifier, pipelineMetrics, cfg.RecoveryBatchSize, log)
	reindexer := usecase.NewReindexUseCase(tenantRepo, docRepo, chunkRepo, vectorIndex, enrichEngine, queue, pipeline, log)
	deleter := usecase.NewDeleteDocumentUseCase(docRepo, tenantRepo, storage, vectorIndex, enrichEngine, chunkRepo, log)

	return &App{
		Config:  cfg,
		Logger:  log,
		Metrics: pipelineMetrics,

		Queue: queue,

		Registrar: registrar,
		Ingestor:  ingestor,
		Recoverer: recoverer,
		Reindexer: reindexer,
		Deleter:   deleter,

		closeFn: func() {
			entityPool.Release()
			queue.Close()
			closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = graphStore.Close(closeCtx)
			_ = db.Close()
		},
	}, nil
}

func (a *App) Close() {
	if a.closeFn != nil {
		a.closeFn()
	}
}
