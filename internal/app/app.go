// Package app builds the shared component graph used by the API server and the CLI.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"paperqa/internal/config"
	"paperqa/internal/indexer"
	"paperqa/internal/llm"
	"paperqa/internal/metrics"
	"paperqa/internal/rag"
	"paperqa/internal/storage"
	"paperqa/internal/vectorstore"
)

// LocalProviderName names the llama.cpp-style provider built from LLM_BASE_URL.
const LocalProviderName = "local"

// App holds every long-lived component.
type App struct {
	Config    *config.Config
	Metrics   *metrics.Metrics
	DB        *sql.DB
	Documents *storage.DocumentRepo
	Passages  *storage.PassageRepo
	Embedder  *llm.EmbeddingsClient
	Index     vectorstore.Index
	Flat      *vectorstore.FlatIndex // Set when VECTOR_BACKEND=flat
	Cache     *llm.RedisCache        // Set when REDIS_URL is configured
	LLM       *llm.Router
	Ingest    *indexer.Pipeline
	Engine    *rag.Pipeline

	closers []func() error
}

// New opens the catalog and the vector index and wires the pipelines. Index load
// failures (dimension or model mismatch, corrupt snapshot) are returned as-is.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	a := &App{
		Config:  cfg,
		Metrics: metrics.New(),
	}
	if err := a.init(ctx); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) init(ctx context.Context) error {
	cfg := a.Config

	db, err := storage.New(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	a.DB = db
	a.closers = append(a.closers, db.Close)

	if err := storage.Migrate(db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Info("Database initialized", "path", cfg.DBPath)

	a.Documents = storage.NewDocumentRepo(db)
	a.Passages = storage.NewPassageRepo(db)

	a.Embedder = llm.NewEmbeddingsClient(cfg.EmbeddingBaseURL, cfg.EmbeddingAPIKey, cfg.EmbeddingModelName, cfg.EmbeddingDim)

	if err := a.openIndex(ctx); err != nil {
		return err
	}

	if cfg.RedisURL != "" {
		cache, err := llm.NewRedisCache(ctx, cfg.RedisURL, cfg.LLMCacheTTL)
		if err != nil {
			// The cache is an optimization; run without it.
			slog.Warn("Response cache disabled", "error", err)
		} else {
			a.Cache = cache
			a.closers = append(a.closers, cache.Close)
			slog.Info("Response cache connected", "ttl", cfg.LLMCacheTTL)
		}
	}

	router, err := llm.NewRouter(Providers(cfg), a.routerOptions())
	if err != nil {
		return fmt.Errorf("failed to create llm router: %w", err)
	}
	a.LLM = router
	slog.Info("LLM router initialized", "providers", router.Providers(), "preferred", cfg.LLMPreferredProvider)

	chunker := indexer.NewPaperChunker(indexer.ChunkerOptions{
		ChunkSize:       cfg.Chunking.ChunkSize,
		Overlap:         cfg.Chunking.Overlap,
		MinChunkSize:    cfg.Chunking.MinChunkSize,
		RespectSections: cfg.Chunking.RespectSections,
	})
	a.Ingest = indexer.NewPipeline(a.Index, a.Documents, a.Passages, chunker, a.Metrics)

	a.Engine = rag.NewPipeline(a.Index, a.reranker(), a.LLM, a.Metrics, rag.Options{
		TopK:               cfg.Retrieval.TopK,
		CandidatePool:      cfg.Retrieval.CandidatePool,
		EvidenceCharBudget: cfg.Retrieval.EvidenceCharBudget,
		ContextWindow:      cfg.Retrieval.ContextWindow,
		DraftTemperature:   cfg.Retrieval.DraftTemperature,
		DraftMaxTokens:     cfg.Retrieval.DraftMaxTokens,
		CheckMaxTokens:     cfg.Retrieval.CheckMaxTokens,
		UseCache:           cfg.Retrieval.UseCache && a.Cache != nil,
		PreferredProvider:  cfg.LLMPreferredProvider,
	})
	return nil
}

func (a *App) openIndex(ctx context.Context) error {
	cfg := a.Config
	switch cfg.VectorBackend {
	case "qdrant":
		qx, err := vectorstore.NewQdrantIndex(ctx, a.Embedder, vectorstore.QdrantOptions{
			URL:        cfg.QdrantURL,
			Collection: cfg.QdrantCollection,
			Dim:        cfg.EmbeddingDim,
		})
		if err != nil {
			return fmt.Errorf("failed to open qdrant index: %w", err)
		}
		a.Index = qx
		a.closers = append(a.closers, qx.Close)
		slog.Info("Qdrant collection ready", "collection", cfg.QdrantCollection, "vector_size", cfg.EmbeddingDim)
	default:
		fx, err := vectorstore.NewFlatIndex(a.Embedder, vectorstore.FlatOptions{
			Dim:   cfg.EmbeddingDim,
			Model: cfg.EmbeddingModelName,
			Dir:   cfg.IndexPath,
		})
		if err != nil {
			return fmt.Errorf("failed to open index at %s: %w", cfg.IndexPath, err)
		}
		a.Index = fx
		a.Flat = fx
		stats, _ := fx.Stats(ctx)
		a.Metrics.SetIndexRows(stats.Live, stats.Tombstoned)
		slog.Info("Flat index loaded", "path", cfg.IndexPath, "live", stats.Live, "tombstoned", stats.Tombstoned, "documents", stats.Documents)
	}
	return nil
}

func (a *App) routerOptions() llm.RouterOptions {
	opts := llm.RouterOptions{
		MaxRetries:         a.Config.LLMMaxRetries,
		RetryBaseDelay:     a.Config.LLMRetryBaseDelay,
		QuotaCooldown:      a.Config.LLMQuotaCooldown,
		MinRequestInterval: a.Config.LLMMinRequestInterval,
		CallTimeout:        a.Config.LLMCallTimeout,
		Metrics:            a.Metrics,
	}
	// Leave the interface nil rather than holding a nil *RedisCache.
	if a.Cache != nil {
		opts.Cache = a.Cache
	}
	return opts
}

// reranker returns the cross-encoder client, the lexical fallback, or nil when disabled.
func (a *App) reranker() *rag.Reranker {
	cfg := a.Config
	switch {
	case !cfg.RerankEnabled:
		return nil
	case cfg.RerankBaseURL != "":
		return rag.NewReranker(llm.NewRerankClient(cfg.RerankBaseURL, cfg.EmbeddingAPIKey, cfg.RerankModel))
	default:
		return rag.NewReranker(rag.LexicalScorer{})
	}
}

// Providers builds the generation providers in fallback order: the local server first,
// then the OpenAI-compatible provider when an API key is configured.
func Providers(cfg *config.Config) []llm.Provider {
	var providers []llm.Provider
	if cfg.LLMBaseURL != "" {
		providers = append(providers, llm.NewClient(LocalProviderName, cfg.LLMBaseURL, cfg.LLMAPIKey, cfg.LLMModelName))
	}
	if cfg.OpenAIAPIKey != "" {
		providers = append(providers, llm.NewOpenAIProvider(cfg.OpenAIProviderName, cfg.OpenAIBaseURL, cfg.OpenAIAPIKey, cfg.OpenAIModel))
	}
	return providers
}

// CheckEmbedder embeds a sample text and verifies the vector size against EMBEDDING_DIM.
func (a *App) CheckEmbedder(ctx context.Context) error {
	vectors, err := a.Embedder.EmbedTexts(ctx, []string{"test"})
	if err != nil {
		return fmt.Errorf("failed to validate embedding client: %w", err)
	}
	if len(vectors) == 0 || len(vectors[0]) != a.Config.EmbeddingDim {
		got := 0
		if len(vectors) > 0 {
			got = len(vectors[0])
		}
		return fmt.Errorf("%w: expected %d, got %d", vectorstore.ErrDimensionMismatch, a.Config.EmbeddingDim, got)
	}
	return nil
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
