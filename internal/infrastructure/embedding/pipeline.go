package embedding

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/kirillkom/knowledge-pipeline/internal/core/domain"
	"github.com/kirillkom/knowledge-pipeline/internal/core/ports"
)

// ProgressFunc reports granular completion so the orchestrator can
// surface percentage updates.
type ProgressFunc = domain.ProgressFunc

// Attempt is one tagged provider try during a batch embed, kept as data
// so failover behavior is inspectable.
type Attempt struct {
	Provider string
	Err      error
}

// Pipeline vectorizes chunk batches against the tenant's resolved
// provider, writes sparse lexical vectors alongside, and upserts the
// combined record set into the tenant's active collection in one batched
// write.
type Pipeline struct {
	registry *Registry
	index    ports.VectorIndex
	meter    ports.UsageMeter
	defaults domain.EmbeddingConfig
	parallel int
	failover bool
	perToken float64
	log      *slog.Logger

	limiterMu sync.Mutex
	limiters  map[string]*rate.Limiter
	rps       int
}

type Option func(*Pipeline)

// WithFailoverDisabled pins every batch to the resolved primary
// provider. Used in controlled contexts such as determinism testing.
func WithFailoverDisabled() Option {
	return func(p *Pipeline) { p.failover = false }
}

func WithParallelism(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.parallel = n
		}
	}
}

func WithRatePerSecond(rps int) Option {
	return func(p *Pipeline) {
		if rps > 0 {
			p.rps = rps
		}
	}
}

// WithTokenCost sets the metered cost per embedded token.
func WithTokenCost(perToken float64) Option {
	return func(p *Pipeline) { p.perToken = perToken }
}

func NewPipeline(
	registry *Registry,
	index ports.VectorIndex,
	meter ports.UsageMeter,
	defaults domain.EmbeddingConfig,
	log *slog.Logger,
	opts ...Option,
) *Pipeline {
	p := &Pipeline{
		registry: registry,
		index:    index,
		meter:    meter,
		defaults: defaults,
		parallel: 4,
		failover: true,
		perToken: 0.0000001,
		log:      log,
		limiters: make(map[string]*rate.Limiter),
		rps:      10,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Resolve applies tenant overrides on top of the system defaults.
func (p *Pipeline) Resolve(tenant *domain.Tenant) domain.EmbeddingConfig {
	cfg := p.defaults
	if tenant.EmbeddingProvider != "" {
		cfg.Provider = tenant.EmbeddingProvider
	}
	if tenant.EmbeddingModel != "" {
		cfg.Model = tenant.EmbeddingModel
		if tenant.EmbeddingProvider == "" {
			cfg.Provider = InferProvider(tenant.EmbeddingModel)
		}
	}
	if tenant.EmbeddingDimensions > 0 {
		cfg.Dimensions = tenant.EmbeddingDimensions
	}
	return cfg
}

// ProbeDimensions resolves dimensionality dynamically by embedding a
// probe string, for models whose size is not known up front.
func (p *Pipeline) ProbeDimensions(ctx context.Context, cfg domain.EmbeddingConfig) (int, error) {
	provider, err := p.registry.Get(cfg.Provider)
	if err != nil {
		return 0, err
	}
	vectors, err := provider.Embed(ctx, cfg.Model, []string{"dimensionality probe"})
	if err != nil {
		return 0, fmt.Errorf("probe embed: %w", err)
	}
	if len(vectors) == 0 || len(vectors[0]) == 0 {
		return 0, fmt.Errorf("probe embed returned no vector")
	}
	return len(vectors[0]), nil
}

// EmbedChunks embeds all chunks for one document and upserts the
// combined dense+sparse records. Chunk order is preserved in the
// returned records. Sparse encoding failures degrade to an empty sparse
// vector and never abort the batch.
func (p *Pipeline) EmbedChunks(
	ctx context.Context,
	tenant *domain.Tenant,
	doc *domain.Document,
	chunks []*domain.Chunk,
	progress ProgressFunc,
) ([]domain.VectorRecord, error) {
	if len(chunks) == 0 {
		return nil, nil
	}

	cfg := p.Resolve(tenant)
	providers := p.registry.Ranked(cfg.Provider)
	if len(providers) == 0 {
		return nil, fmt.Errorf("no embedding providers registered")
	}
	if !p.failover {
		providers = providers[:1]
	}

	// Failover resends a batch to lower-ranked providers as-is, so the
	// split must respect the smallest ceiling in the ranked list, not
	// just the primary's.
	batches := splitBatches(chunks, minBatchTokens(providers))
	records := make([]domain.VectorRecord, len(chunks))
	totalTokens := 0
	for _, c := range chunks {
		totalTokens += c.TokenCount
	}

	var completed int
	var completedMu sync.Mutex

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(p.parallel)

	for _, batch := range batches {
		group.Go(func() error {
			texts := make([]string, len(batch.chunks))
			for i, c := range batch.chunks {
				texts[i] = c.Content
			}

			vectors, attempts, err := p.embedBatch(groupCtx, cfg, providers, texts)
			if err != nil {
				p.log.Error("embed_batch_failed", "document_id", doc.ID, "attempts", len(attempts), "error", err)
				return err
			}
			if len(vectors) != len(batch.chunks) {
				return domain.WrapError(domain.ErrInvalidInput, "embed batch",
					fmt.Errorf("vectors/chunks mismatch: %d/%d", len(vectors), len(batch.chunks)))
			}

			for i, c := range batch.chunks {
				records[batch.offset+i] = domain.VectorRecord{
					ChunkID:    c.ID,
					DocumentID: doc.ID,
					TenantID:   tenant.ID,
					Content:    c.Content,
					ChunkIndex: c.Index,
					Dense:      vectors[i],
					Sparse:     p.encodeSparseSafe(c.Content, doc.Filename),
					Metadata:   c.Metadata,
				}
			}

			completedMu.Lock()
			completed += len(batch.chunks)
			done := completed
			completedMu.Unlock()
			if progress != nil {
				progress(done, len(chunks))
			}
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		return nil, err
	}

	if err := p.index.EnsureCollection(ctx, tenant, len(records[0].Dense)); err != nil {
		return nil, fmt.Errorf("ensure collection: %w", err)
	}
	if err := p.index.UpsertChunks(ctx, tenant, records); err != nil {
		return nil, fmt.Errorf("upsert vectors: %w", err)
	}

	if p.meter != nil {
		p.meter.Record(ctx, domain.UsageRecord{
			TenantID:      tenant.ID,
			Provider:      cfg.Provider,
			Model:         cfg.Model,
			TotalTokens:   totalTokens,
			EstimatedCost: float64(totalTokens) * p.perToken,
		})
	}

	return records, nil
}

// embedBatch walks the ranked provider list, tagging every attempt. The
// last error is returned wrapped with the provider that produced it.
func (p *Pipeline) embedBatch(
	ctx context.Context,
	cfg domain.EmbeddingConfig,
	providers []ports.EmbeddingProvider,
	texts []string,
) ([][]float32, []Attempt, error) {
	var attempts []Attempt
	var lastErr error

	for _, provider := range providers {
		if err := p.limiter(provider.Name()).Wait(ctx); err != nil {
			return nil, attempts, err
		}

		vectors, err := provider.Embed(ctx, cfg.Model, texts)
		attempts = append(attempts, Attempt{Provider: provider.Name(), Err: err})
		if err == nil {
			return vectors, attempts, nil
		}
		lastErr = err
		p.log.Warn("embed_attempt_failed", "provider", provider.Name(), "error", err)
	}

	return nil, attempts, lastErr
}

func (p *Pipeline) encodeSparseSafe(content, title string) (sparse domain.SparseVector) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Warn("sparse_encode_panic", "recovered", r)
			sparse = domain.SparseVector{}
		}
	}()
	return EncodeSparse(content, title)
}

func (p *Pipeline) limiter(provider string) *rate.Limiter {
	p.limiterMu.Lock()
	defer p.limiterMu.Unlock()
	if l, ok := p.limiters[provider]; ok {
		return l
	}
	l := rate.NewLimiter(rate.Limit(p.rps), p.rps)
	p.limiters[provider] = l
	return l
}

type chunkBatch struct {
	offset int
	chunks []*domain.Chunk
}

// minBatchTokens returns the tightest positive per-request token
// ceiling among the providers a batch may be sent to. Zero means no
// provider declares a ceiling.
func minBatchTokens(providers []ports.EmbeddingProvider) int {
	ceiling := 0
	for _, p := range providers {
		if t := p.MaxBatchTokens(); t > 0 && (ceiling == 0 || t < ceiling) {
			ceiling = t
		}
	}
	return ceiling
}

// splitBatches packs chunks into sub-batches respecting the provider's
// per-request token ceiling. An oversized single chunk still ships as
// its own batch.
func splitBatches(chunks []*domain.Chunk, maxTokens int) []chunkBatch {
	if maxTokens <= 0 {
		return []chunkBatch{{offset: 0, chunks: chunks}}
	}

	var batches []chunkBatch
	start := 0
	tokens := 0
	for i, c := range chunks {
		if i > start && tokens+c.TokenCount > maxTokens {
			batches = append(batches, chunkBatch{offset: start, chunks: chunks[start:i]})
			start = i
			tokens = 0
		}
		tokens += c.TokenCount
	}
	if start < len(chunks) {
		batches = append(batches, chunkBatch{offset: start, chunks: chunks[start:]})
	}
	return batches
}
