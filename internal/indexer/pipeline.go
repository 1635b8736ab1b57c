package indexer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"

	"paperqa/internal/contextutil"
	"paperqa/internal/extract"
	"paperqa/internal/library"
	"paperqa/internal/metrics"
	"paperqa/internal/paper"
	"paperqa/internal/storage"
	"paperqa/internal/vectorstore"
)

// ErrNoContent is returned when a document yields no text or no passages.
var ErrNoContent = errors.New("no extractable text")

// Pipeline ingests documents: hash, chunk, index, then record in the catalog.
// Ingest and DeleteDocument are serialized.
type Pipeline struct {
	index     vectorstore.Index
	documents storage.DocumentStore
	passages  storage.PassageStore
	chunker   *PaperChunker
	metrics   *metrics.Metrics

	mu sync.Mutex
}

// NewPipeline creates a new ingestion pipeline. m may be nil.
func NewPipeline(
	index vectorstore.Index,
	documents storage.DocumentStore,
	passages storage.PassageStore,
	chunker *PaperChunker,
	m *metrics.Metrics,
) *Pipeline {
	if chunker == nil {
		chunker = NewPaperChunker(DefaultChunkerOptions())
	}
	return &Pipeline{
		index:     index,
		documents: documents,
		passages:  passages,
		chunker:   chunker,
		metrics:   m,
	}
}

// DocumentID returns the content hash identifying a document's extracted text.
func DocumentID(pages []paper.Page) string {
	h := sha256.New()
	for _, p := range pages {
		h.Write([]byte(pageText(p)))
		h.Write([]byte(pageSeparator))
	}
	return hex.EncodeToString(h.Sum(nil))
}

func hasText(pages []paper.Page) bool {
	for _, p := range pages {
		if strings.TrimSpace(pageText(p)) != "" {
			return true
		}
	}
	return false
}

// Ingest indexes one document. Content already indexed is skipped. A document that
// fails after hashing is recorded in the catalog with status failed.
func (p *Pipeline) Ingest(ctx context.Context, req IngestRequest) (IngestResult, error) {
	logger := contextutil.LoggerFromContext(ctx).With("component", "ingest", "filename", req.Filename)

	p.mu.Lock()
	defer p.mu.Unlock()

	if !hasText(req.Pages) {
		p.metrics.ObserveIngest("failed", 0)
		return IngestResult{}, fmt.Errorf("%w: %s", ErrNoContent, req.Filename)
	}

	id := DocumentID(req.Pages)
	logger = logger.With("document_id", id)

	existing, err := p.documents.Get(ctx, id)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return IngestResult{}, fmt.Errorf("failed to check existing document: %w", err)
	}
	if existing != nil && existing.Status == storage.StatusIndexed {
		logger.DebugContext(ctx, "skipping already indexed document")
		p.metrics.ObserveIngest("skipped", 0)
		return IngestResult{
			DocumentID: id,
			Title:      existing.Title,
			Passages:   existing.ChunkCount,
			Pages:      existing.Pages,
			Skipped:    true,
		}, nil
	}

	meta := ExtractMetadata(req.Pages)
	title := strings.TrimSpace(req.Title)
	if title == "" {
		title = meta.Title
	}
	if title == "" {
		title = extract.TitleFromFilename(req.Filename)
	}

	passages := p.chunker.Chunk(ctx, req.Pages)
	if len(passages) == 0 {
		p.fail(ctx, id, req.Filename, ErrNoContent)
		return IngestResult{}, fmt.Errorf("%w: %s", ErrNoContent, req.Filename)
	}
	for i := range passages {
		passages[i].DocumentID = id
		passages[i].Title = title
		passages[i].Year = meta.Year
	}

	if existing != nil {
		// A previous failed attempt may have left passages behind.
		if err := p.passages.DeleteByDocument(ctx, id); err != nil {
			return IngestResult{}, fmt.Errorf("failed to clear previous passages: %w", err)
		}
		if _, err := p.index.Delete(ctx, id); err != nil {
			return IngestResult{}, fmt.Errorf("failed to clear previous index rows: %w", err)
		}
	}

	if err := p.addToIndex(ctx, id, passages); err != nil {
		p.fail(ctx, id, req.Filename, err)
		return IngestResult{}, fmt.Errorf("failed to index document: %w", err)
	}

	record := &storage.DocumentRecord{
		ID:         id,
		Filename:   req.Filename,
		Title:      title,
		Abstract:   meta.Abstract,
		Year:       meta.Year,
		Pages:      len(req.Pages),
		ChunkCount: len(passages),
		Status:     storage.StatusIndexed,
	}
	if err := p.record(ctx, record, passages); err != nil {
		if _, delErr := p.index.Delete(ctx, id); delErr != nil {
			logger.ErrorContext(ctx, "failed to roll back index after catalog error", "error", delErr)
		}
		p.fail(ctx, id, req.Filename, err)
		return IngestResult{}, err
	}

	stats := ComputePassageTokenStats(passages)
	p.metrics.ObserveIngest("indexed", len(passages))
	p.refreshIndexRows(ctx)

	logger.InfoContext(ctx, "indexed document",
		"title", title,
		"pages", len(req.Pages),
		"passages", len(passages),
		"tokens_min", stats.Min,
		"tokens_max", stats.Max,
		"tokens_mean", stats.Mean,
		"tokens_p95", stats.P95,
	)

	return IngestResult{
		DocumentID: id,
		Title:      title,
		Passages:   len(passages),
		Pages:      len(req.Pages),
		TokenStats: stats,
	}, nil
}

// addToIndex adds passages under id. Rows the catalog does not know about,
// left by an interrupted ingest, are dropped and the add is retried once.
func (p *Pipeline) addToIndex(ctx context.Context, id string, passages []paper.Passage) error {
	err := p.index.Add(ctx, id, passages)
	if !errors.Is(err, vectorstore.ErrDocumentExists) {
		return err
	}
	contextutil.LoggerFromContext(ctx).WarnContext(ctx, "index holds uncatalogued rows, replacing them", "document_id", id)
	if _, err := p.index.Delete(ctx, id); err != nil {
		return fmt.Errorf("failed to clear stale index rows: %w", err)
	}
	return p.index.Add(ctx, id, passages)
}

func (p *Pipeline) record(ctx context.Context, record *storage.DocumentRecord, passages []paper.Passage) error {
	if err := p.documents.Upsert(ctx, record); err != nil {
		return fmt.Errorf("failed to upsert document: %w", err)
	}
	if err := p.passages.InsertBatch(ctx, record.ID, passages); err != nil {
		return fmt.Errorf("failed to insert passages: %w", err)
	}
	return nil
}

func (p *Pipeline) fail(ctx context.Context, id, filename string, cause error) {
	logger := contextutil.LoggerFromContext(ctx).With("component", "ingest")
	p.metrics.ObserveIngest("failed", 0)
	if err := p.documents.MarkFailed(ctx, id, filename, cause.Error()); err != nil {
		logger.ErrorContext(ctx, "failed to record failed ingestion", "document_id", id, "error", err)
	}
}

func (p *Pipeline) refreshIndexRows(ctx context.Context) {
	if p.metrics == nil {
		return
	}
	stats, err := p.index.Stats(ctx)
	if err != nil {
		contextutil.LoggerFromContext(ctx).WarnContext(ctx, "failed to read index stats", "component", "ingest", "error", err)
		return
	}
	p.metrics.SetIndexRows(stats.Live, stats.Tombstoned)
}

// DeleteDocument tombstones a document in the index and removes it from the catalog.
// Returns vectorstore.ErrDocumentNotFound when neither knows the id.
func (p *Pipeline) DeleteDocument(ctx context.Context, id string) error {
	logger := contextutil.LoggerFromContext(ctx).With("component", "ingest", "document_id", id)

	p.mu.Lock()
	defer p.mu.Unlock()

	found, err := p.index.Delete(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to delete from index: %w", err)
	}

	err = p.documents.Delete(ctx, id)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		if !found {
			return fmt.Errorf("%w: %s", vectorstore.ErrDocumentNotFound, id)
		}
		logger.WarnContext(ctx, "document was indexed but missing from catalog")
	case err != nil:
		return fmt.Errorf("failed to delete from catalog: %w", err)
	}

	p.refreshIndexRows(ctx)
	logger.InfoContext(ctx, "deleted document", "in_index", found)
	return nil
}

// DirectoryResult summarizes a bulk ingestion.
type DirectoryResult struct {
	Files   int `json:"files"`
	Indexed int `json:"indexed"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
}

// IngestDirectory scans a library and ingests every supported file.
// Errors for individual files are logged but don't stop the run.
func (p *Pipeline) IngestDirectory(ctx context.Context, lib *library.Library) (DirectoryResult, error) {
	logger := contextutil.LoggerFromContext(ctx).With("component", "ingest")

	files, err := lib.Scan(ctx)
	if err != nil {
		return DirectoryResult{}, fmt.Errorf("failed to scan library: %w", err)
	}

	logger.InfoContext(ctx, "starting directory ingestion", "root", lib.Root(), "total_files", len(files))

	res := DirectoryResult{Files: len(files)}
	for _, file := range files {
		select {
		case <-ctx.Done():
			return res, ctx.Err()
		default:
		}

		pages, err := extract.File(file.AbsPath)
		if err != nil {
			res.Failed++
			logger.ErrorContext(ctx, "failed to extract file", "rel_path", file.RelPath, "error", err)
			continue
		}

		out, err := p.Ingest(ctx, IngestRequest{Filename: file.RelPath, Pages: pages})
		if err != nil {
			res.Failed++
			logger.ErrorContext(ctx, "failed to ingest file", "rel_path", file.RelPath, "error", err)
			continue
		}
		if out.Skipped {
			res.Skipped++
		} else {
			res.Indexed++
		}
	}

	logger.InfoContext(ctx, "directory ingestion completed",
		"total_files", res.Files,
		"indexed", res.Indexed,
		"skipped", res.Skipped,
		"errors", res.Failed,
	)

	if res.Failed > 0 {
		return res, fmt.Errorf("ingestion completed with %d errors", res.Failed)
	}
	return res, nil
}
