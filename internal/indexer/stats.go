package indexer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"sort"
	"unicode/utf8"

	"paperqa/internal/paper"
	"paperqa/internal/storage"
	"paperqa/internal/vectorstore"
)

const (
	// ChunkerVersion identifies the chunker implementation.
	// Update this when chunking logic changes significantly.
	ChunkerVersion = "v2.0"
	// TokensPerRune is an approximation for token counting (4 chars per token).
	TokensPerRune = 4.0
)

// CoverageStats summarizes the catalog and the index.
type CoverageStats struct {
	// DocsProcessed is the number of documents in the catalog, failed ones included.
	DocsProcessed int `json:"docs_processed"`
	// DocsFailed is the number of documents whose last ingestion failed.
	DocsFailed int `json:"docs_failed"`
	// PassagesCataloged is the total chunk_count of indexed documents.
	PassagesCataloged int `json:"passages_cataloged"`
	// ChunkTokenStats contains statistics about token counts per passage.
	ChunkTokenStats ChunkTokenStats `json:"chunk_token_stats"`
	// Index reports row and document counts of the vector index.
	Index vectorstore.Stats `json:"index"`
	// ChunkerVersion is the version of the chunker used.
	ChunkerVersion string `json:"chunker_version"`
	// IndexVersion is a hash identifying the index build (chunker + embedding model + params).
	IndexVersion string `json:"index_version"`
}

// ChunkTokenStats contains statistics about token counts in passages.
type ChunkTokenStats struct {
	Min  int     `json:"min"`
	Max  int     `json:"max"`
	Mean float64 `json:"mean"`
	P95  int     `json:"p95"`
}

// CoverageStats computes catalog and index statistics.
func (p *Pipeline) CoverageStats(ctx context.Context, embeddingModel string) (*CoverageStats, error) {
	docs, err := p.documents.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}

	stats := &CoverageStats{
		DocsProcessed:  len(docs),
		ChunkerVersion: ChunkerVersion,
		IndexVersion:   IndexVersion(embeddingModel, p.chunker.Options()),
	}

	var counts []int
	for _, doc := range docs {
		if doc.Status != storage.StatusIndexed {
			stats.DocsFailed++
			continue
		}
		passages, err := p.passages.ListByDocument(ctx, doc.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to list passages of %s: %w", doc.ID, err)
		}
		counts = append(counts, tokenCounts(passages)...)
	}
	stats.ChunkTokenStats = computeTokenStats(counts)

	total, err := p.documents.TotalChunks(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count passages: %w", err)
	}
	stats.PassagesCataloged = total

	indexStats, err := p.index.Stats(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read index stats: %w", err)
	}
	stats.Index = indexStats

	return stats, nil
}

// IndexVersion hashes the chunker version, embedding model and chunking parameters.
func IndexVersion(embeddingModel string, opts ChunkerOptions) string {
	input := fmt.Sprintf("%s|%s|chunkSize=%d|overlap=%d|minChunkSize=%d|respectSections=%t",
		ChunkerVersion, embeddingModel, opts.ChunkSize, opts.Overlap, opts.MinChunkSize, opts.RespectSections)
	hash := sha256.Sum256([]byte(input))
	return hex.EncodeToString(hash[:])[:16] // 16 hex chars = 64 bits
}

// ComputePassageTokenStats estimates token statistics of passages.
func ComputePassageTokenStats(passages []paper.Passage) ChunkTokenStats {
	return computeTokenStats(tokenCounts(passages))
}

func tokenCounts(passages []paper.Passage) []int {
	counts := make([]int, 0, len(passages))
	for _, p := range passages {
		n := int(math.Round(float64(utf8.RuneCountInString(p.Text)) / TokensPerRune))
		counts = append(counts, max(n, 1))
	}
	return counts
}

// computeTokenStats computes min, max, mean, and p95 from token counts.
func computeTokenStats(tokenCounts []int) ChunkTokenStats {
	if len(tokenCounts) == 0 {
		return ChunkTokenStats{}
	}

	sorted := make([]int, len(tokenCounts))
	copy(sorted, tokenCounts)
	sort.Ints(sorted)

	sum := 0
	for _, count := range sorted {
		sum += count
	}
	mean := float64(sum) / float64(len(sorted))

	p95Index := int(math.Ceil(float64(len(sorted)) * 0.95))
	if p95Index >= len(sorted) {
		p95Index = len(sorted) - 1
	}

	return ChunkTokenStats{
		Min:  sorted[0],
		Max:  sorted[len(sorted)-1],
		Mean: math.Round(mean*100) / 100, // Round to 2 decimal places
		P95:  sorted[p95Index],
	}
}
