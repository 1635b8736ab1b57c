package storage

import "time"

// DocumentStatus is the ingestion outcome recorded for a document.
type DocumentStatus string

const (
	StatusIndexed DocumentStatus = "indexed"
	StatusFailed  DocumentStatus = "failed"
)

// DocumentRecord is one ingested paper in the catalog.
type DocumentRecord struct {
	ID         string         `json:"id"` // SHA256 hex of the extracted text
	Filename   string         `json:"filename"`
	Title      string         `json:"title"`
	Abstract   string         `json:"abstract,omitempty"`
	Year       int            `json:"year,omitempty"`
	Pages      int            `json:"pages"`
	ChunkCount int            `json:"chunk_count"`
	Status     DocumentStatus `json:"status"`
	Error      string         `json:"error,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}
