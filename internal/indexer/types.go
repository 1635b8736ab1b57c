package indexer

import "paperqa/internal/paper"

// ChunkerOptions controls passage sizing. Sizes are measured in characters (runes).
type ChunkerOptions struct {
	ChunkSize       int  // Target upper bound for a passage
	Overlap         int  // Budget for trailing sentences carried into the next passage; 0 disables overlap
	MinChunkSize    int  // A final passage shorter than this is dropped unless it is the only one
	RespectSections bool // Start a new passage whenever the section changes
}

// DefaultChunkerOptions returns 512/128/100 token budgets at 4 characters per token.
func DefaultChunkerOptions() ChunkerOptions {
	return ChunkerOptions{
		ChunkSize:       2048,
		Overlap:         512,
		MinChunkSize:    400,
		RespectSections: true,
	}
}

// IngestRequest is one document to ingest.
type IngestRequest struct {
	Filename string       // Original file name, informational
	Title    string       // Optional title; recovered from the pages when empty
	Pages    []paper.Page // Extracted pages in reading order
}

// IngestResult reports the outcome of an ingestion.
type IngestResult struct {
	DocumentID string          `json:"document_id"`
	Title      string          `json:"title"`
	Passages   int             `json:"passages"`
	Pages      int             `json:"pages"`
	Skipped    bool            `json:"skipped"` // Content already indexed
	TokenStats ChunkTokenStats `json:"token_stats"`
}
