package vectorstore

//go:generate go run go.uber.org/mock/mockgen@latest -destination=mocks/mock_index.go -package=mocks paperqa/internal/vectorstore Index

import (
	"context"
	"errors"

	"paperqa/internal/paper"
)

var (
	// ErrDimensionMismatch is returned when a vector or a persisted index does not match the configured dimension.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
	// ErrModelMismatch is returned when a persisted index was built with a different embedding model.
	ErrModelMismatch = errors.New("embedding model mismatch")
	// ErrCorruptIndex is returned when persisted index state is inconsistent.
	ErrCorruptIndex = errors.New("corrupt index state")
	// ErrDocumentNotFound is returned when a document has no passages in the index.
	ErrDocumentNotFound = errors.New("document not found")
	// ErrDocumentExists is returned by Add when the index already holds passages of the document.
	ErrDocumentExists = errors.New("document already indexed")
)

// Embedder turns texts into vectors of a fixed dimension.
type Embedder interface {
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
}

// SearchOptions configures a nearest-neighbor search.
type SearchOptions struct {
	TopK          int      // Maximum number of hits returned
	DocumentIDs   []string // Restrict hits to these documents; empty means all
	CandidatePool int      // Raw neighbors considered before filtering; defaults to TopK
}

// Hit is one search result.
type Hit struct {
	Row       int           // Arena position, -1 for remote backends
	Passage   paper.Passage // Passage metadata, never a tombstone
	Score     float64       // Raw inner-product similarity
	IsContext bool          // Neighbor added for context rather than matched
}

// Handle returns a stable identifier for the hit's passage.
func (h Hit) Handle() string {
	return PassageID(h.Passage.DocumentID, h.Passage.ChunkIndex)
}

// Stats summarizes an index.
type Stats struct {
	Dim        int `json:"dim"`
	Rows       int `json:"rows"`
	Live       int `json:"live"`
	Tombstoned int `json:"tombstoned"`
	Documents  int `json:"documents"`
}

// Index stores passage vectors and answers filtered nearest-neighbor queries.
// Add and Delete are serialized per instance; Search may run concurrently.
type Index interface {
	// Add embeds and appends passages of one document. It either fully succeeds or leaves the index unchanged.
	Add(ctx context.Context, documentID string, passages []paper.Passage) error
	// Search embeds query and returns at most opts.TopK live hits by descending similarity.
	Search(ctx context.Context, query string, opts SearchOptions) ([]Hit, error)
	// Delete tombstones every passage of the document. It reports whether the document existed.
	Delete(ctx context.Context, documentID string) (bool, error)
	// Stats reports row and document counts.
	Stats(ctx context.Context) (Stats, error)
}

// NeighborLister is implemented by indexes that can return passages adjacent to a hit.
type NeighborLister interface {
	Neighbors(ctx context.Context, hit Hit, window int) []Hit
}
