package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"paperqa/internal/contextutil"
	"paperqa/internal/paper"
)

const (
	// filterExpansion widens the raw neighbor breadth when a document filter is applied.
	filterExpansion = 3
	defaultTopK     = 5
	// contextScoreFactor scales the score of neighbors returned by Neighbors.
	contextScoreFactor = 0.7
)

// DocumentRecord is the document-level entry of the index.
type DocumentRecord struct {
	DocumentID string    `json:"document_id"`
	Title      string    `json:"title,omitempty"`
	Rows       []int     `json:"-"`
	ChunkCount int       `json:"chunk_count"`
	AddedAt    time.Time `json:"added_at"`
}

// FlatOptions configures a FlatIndex.
type FlatOptions struct {
	Dim   int    // Vector dimension, fixed for the index lifetime
	Model string // Embedding model name recorded in the snapshot
	Dir   string // Snapshot directory; empty keeps the index in memory only
}

// FlatIndex is an exhaustive inner-product index over L2-normalized vectors.
//
// Rows live in an append-only arena addressed by position. Deleting a document
// tombstones its rows; the arena only shrinks through Rebuild. Every mutation
// rewrites the snapshot atomically while holding the write lock, so vectors and
// metadata rows never diverge on disk or in memory.
type FlatIndex struct {
	mu       sync.RWMutex
	dim      int
	model    string
	path     string
	embedder Embedder

	vectors []float32 // row i occupies vectors[i*dim : (i+1)*dim]
	rows    []paper.Passage
	deleted []bool
	docs    map[string]*DocumentRecord
}

// NewFlatIndex creates an index and loads an existing snapshot from opts.Dir.
// A snapshot with a different dimension or model fails with ErrDimensionMismatch or
// ErrModelMismatch; an inconsistent one fails with ErrCorruptIndex.
func NewFlatIndex(embedder Embedder, opts FlatOptions) (*FlatIndex, error) {
	if opts.Dim <= 0 {
		return nil, fmt.Errorf("dimension must be positive, got %d", opts.Dim)
	}

	x := &FlatIndex{
		dim:      opts.Dim,
		model:    opts.Model,
		embedder: embedder,
		docs:     make(map[string]*DocumentRecord),
	}
	if opts.Dir == "" {
		return x, nil
	}

	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create index directory: %w", err)
	}
	x.path = snapshotPath(opts.Dir)

	snap, err := readSnapshot(x.path)
	if errors.Is(err, os.ErrNotExist) {
		return x, nil
	}
	if err != nil {
		return nil, err
	}
	if err := snap.validate(opts.Dim, opts.Model); err != nil {
		return nil, err
	}
	x.restore(snap)
	return x, nil
}

func (x *FlatIndex) embed(ctx context.Context, texts []string) ([][]float32, error) {
	if x.embedder == nil {
		return nil, fmt.Errorf("no embedder configured")
	}
	vecs, err := x.embedder.EmbedTexts(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("failed to embed texts: %w", err)
	}
	if len(vecs) != len(texts) {
		return nil, fmt.Errorf("embedder returned %d vectors for %d texts", len(vecs), len(texts))
	}
	out := make([][]float32, len(vecs))
	for i, v := range vecs {
		if len(v) != x.dim {
			return nil, fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(v), x.dim)
		}
		c := make([]float32, len(v))
		copy(c, v)
		l2normalize(c)
		out[i] = c
	}
	return out, nil
}

// Add embeds passages and appends them under documentID, keeping their chunk indices,
// which must be strictly increasing. A document is added once; adding it again returns
// ErrDocumentExists until it is deleted. On any failure the index is left unchanged.
func (x *FlatIndex) Add(ctx context.Context, documentID string, passages []paper.Passage) error {
	logger := contextutil.LoggerFromContext(ctx).With("component", "flat_index")

	if documentID == "" {
		return fmt.Errorf("document id is required")
	}
	if len(passages) == 0 {
		return nil
	}
	texts := make([]string, len(passages))
	for i, p := range passages {
		if strings.TrimSpace(p.Text) == "" {
			return fmt.Errorf("passage %d has empty text", i)
		}
		if i > 0 && p.ChunkIndex <= passages[i-1].ChunkIndex {
			return fmt.Errorf("passage %d: chunk index %d is not after %d", i, p.ChunkIndex, passages[i-1].ChunkIndex)
		}
		texts[i] = p.Text
	}
	if x.has(documentID) {
		return fmt.Errorf("%w: %s", ErrDocumentExists, documentID)
	}

	// Embedding happens outside the lock; only the arena write is serialized.
	vecs, err := x.embed(ctx, texts)
	if err != nil {
		return err
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	// Checked again under the write lock; another writer may have added it meanwhile.
	if _, ok := x.docs[documentID]; ok {
		return fmt.Errorf("%w: %s", ErrDocumentExists, documentID)
	}

	prevRows := len(x.rows)
	rec := &DocumentRecord{DocumentID: documentID, AddedAt: time.Now().UTC()}
	for i, p := range passages {
		p.DocumentID = documentID
		if rec.Title == "" {
			rec.Title = p.Title
		}
		x.rows = append(x.rows, p)
		x.vectors = append(x.vectors, vecs[i]...)
		x.deleted = append(x.deleted, false)
		rec.Rows = append(rec.Rows, prevRows+i)
	}
	rec.ChunkCount = len(rec.Rows)
	x.docs[documentID] = rec

	if err := x.persistLocked(); err != nil {
		x.rows = x.rows[:prevRows]
		x.vectors = x.vectors[:prevRows*x.dim]
		x.deleted = x.deleted[:prevRows]
		delete(x.docs, documentID)
		logger.ErrorContext(ctx, "failed to persist index, add rolled back", "document_id", documentID, "error", err)
		return fmt.Errorf("failed to persist index: %w", err)
	}

	logger.InfoContext(ctx, "added passages", "document_id", documentID, "count", len(passages), "rows", len(x.rows))
	return nil
}

func (x *FlatIndex) has(documentID string) bool {
	x.mu.RLock()
	defer x.mu.RUnlock()
	_, ok := x.docs[documentID]
	return ok
}

// Search returns at most opts.TopK live passages by descending inner product.
// An empty index yields no hits and no error.
func (x *FlatIndex) Search(ctx context.Context, query string, opts SearchOptions) ([]Hit, error) {
	logger := contextutil.LoggerFromContext(ctx).With("component", "flat_index")

	x.mu.RLock()
	empty := len(x.rows) == 0
	x.mu.RUnlock()
	if empty || strings.TrimSpace(query) == "" {
		return nil, nil
	}

	vecs, err := x.embed(ctx, []string{query})
	if err != nil {
		return nil, err
	}

	x.mu.RLock()
	defer x.mu.RUnlock()
	hits := x.searchLocked(vecs[0], opts)

	logger.DebugContext(ctx, "search completed", "top_k", opts.TopK, "filter", len(opts.DocumentIDs), "hits", len(hits))
	return hits, nil
}

func (x *FlatIndex) searchLocked(query []float32, opts SearchOptions) []Hit {
	n := len(x.rows)
	if n == 0 {
		return nil
	}
	topK := opts.TopK
	if topK <= 0 {
		topK = defaultTopK
	}

	var filter map[string]bool
	if len(opts.DocumentIDs) > 0 {
		filter = make(map[string]bool, len(opts.DocumentIDs))
		for _, id := range opts.DocumentIDs {
			filter[id] = true
		}
	}

	breadth := max(topK, opts.CandidatePool)
	if filter != nil {
		breadth *= filterExpansion
	}

	scores := make([]float32, n)
	for i := 0; i < n; i++ {
		scores[i] = dot(query, x.vectors[i*x.dim:(i+1)*x.dim])
	}
	order := argsortDesc(scores)

	// Widen the breadth until enough live, matching rows are found or the arena is exhausted.
	for {
		limit := min(breadth, n)
		hits := make([]Hit, 0, topK)
		for _, row := range order[:limit] {
			if x.deleted[row] || x.rows[row].Tombstoned() {
				continue
			}
			if filter != nil && !filter[x.rows[row].DocumentID] {
				continue
			}
			hits = append(hits, Hit{Row: row, Passage: x.rows[row], Score: float64(scores[row])})
			if len(hits) == topK {
				break
			}
		}
		if len(hits) == topK || limit == n {
			return hits
		}
		breadth *= 2
	}
}

// Delete tombstones all rows of documentID and removes its document record.
func (x *FlatIndex) Delete(ctx context.Context, documentID string) (bool, error) {
	logger := contextutil.LoggerFromContext(ctx).With("component", "flat_index")

	x.mu.Lock()
	defer x.mu.Unlock()

	rec, ok := x.docs[documentID]
	if !ok {
		return false, nil
	}

	saved := make([]paper.Passage, len(rec.Rows))
	for i, row := range rec.Rows {
		saved[i] = x.rows[row]
		x.rows[row].DocumentID = ""
		x.rows[row].Text = ""
		x.deleted[row] = true
	}
	delete(x.docs, documentID)

	if err := x.persistLocked(); err != nil {
		for i, row := range rec.Rows {
			x.rows[row] = saved[i]
			x.deleted[row] = false
		}
		x.docs[documentID] = rec
		logger.ErrorContext(ctx, "failed to persist index, delete rolled back", "document_id", documentID, "error", err)
		return false, fmt.Errorf("failed to persist index: %w", err)
	}

	logger.InfoContext(ctx, "tombstoned document", "document_id", documentID, "rows", len(rec.Rows))
	return true, nil
}

// Stats reports row and document counts.
func (x *FlatIndex) Stats(_ context.Context) (Stats, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()

	s := Stats{Dim: x.dim, Rows: len(x.rows), Documents: len(x.docs)}
	for _, d := range x.deleted {
		if d {
			s.Tombstoned++
		}
	}
	s.Live = s.Rows - s.Tombstoned
	return s, nil
}

// Document returns the record of one document.
func (x *FlatIndex) Document(documentID string) (DocumentRecord, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	rec, ok := x.docs[documentID]
	if !ok {
		return DocumentRecord{}, false
	}
	out := *rec
	out.Rows = append([]int(nil), rec.Rows...)
	return out, true
}

// Neighbors returns live passages of the same document within window chunk indices
// of hit, scored at a fraction of the hit's score.
func (x *FlatIndex) Neighbors(_ context.Context, hit Hit, window int) []Hit {
	if window <= 0 {
		return nil
	}
	x.mu.RLock()
	defer x.mu.RUnlock()

	rec, ok := x.docs[hit.Passage.DocumentID]
	if !ok {
		return nil
	}
	var out []Hit
	for _, row := range rec.Rows {
		if x.deleted[row] {
			continue
		}
		p := x.rows[row]
		d := p.ChunkIndex - hit.Passage.ChunkIndex
		if d == 0 || d < -window || d > window {
			continue
		}
		out = append(out, Hit{Row: row, Passage: p, Score: hit.Score * contextScoreFactor, IsContext: true})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Passage.ChunkIndex < out[j].Passage.ChunkIndex })
	return out
}

// RebuildResult reports the effect of a compaction.
type RebuildResult struct {
	RowsBefore int `json:"rows_before"`
	RowsAfter  int `json:"rows_after"`
}

// Rebuild compacts the arena, dropping tombstoned rows and renumbering positions.
// It is the only operation that shrinks the index.
func (x *FlatIndex) Rebuild(ctx context.Context) (RebuildResult, error) {
	logger := contextutil.LoggerFromContext(ctx).With("component", "flat_index")

	x.mu.Lock()
	defer x.mu.Unlock()

	res := RebuildResult{RowsBefore: len(x.rows)}

	oldVectors, oldRows, oldDeleted, oldDocs := x.vectors, x.rows, x.deleted, x.docs

	remap := make(map[int]int, len(x.rows))
	vectors := make([]float32, 0, len(x.vectors))
	rows := make([]paper.Passage, 0, len(x.rows))
	for i, p := range x.rows {
		if x.deleted[i] {
			continue
		}
		remap[i] = len(rows)
		rows = append(rows, p)
		vectors = append(vectors, x.vectors[i*x.dim:(i+1)*x.dim]...)
	}
	docs := make(map[string]*DocumentRecord, len(x.docs))
	for id, rec := range x.docs {
		r := *rec
		r.Rows = make([]int, 0, len(rec.Rows))
		for _, row := range rec.Rows {
			if nr, ok := remap[row]; ok {
				r.Rows = append(r.Rows, nr)
			}
		}
		r.ChunkCount = len(r.Rows)
		docs[id] = &r
	}

	x.vectors, x.rows, x.deleted, x.docs = vectors, rows, make([]bool, len(rows)), docs
	if err := x.persistLocked(); err != nil {
		x.vectors, x.rows, x.deleted, x.docs = oldVectors, oldRows, oldDeleted, oldDocs
		return RebuildResult{}, fmt.Errorf("failed to persist rebuilt index: %w", err)
	}

	res.RowsAfter = len(x.rows)
	logger.InfoContext(ctx, "rebuilt index", "rows_before", res.RowsBefore, "rows_after", res.RowsAfter)
	return res, nil
}

func (x *FlatIndex) persistLocked() error {
	if x.path == "" {
		return nil
	}
	return writeSnapshot(x.path, x.snapshotLocked())
}
