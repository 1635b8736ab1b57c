package rag

//go:generate go run go.uber.org/mock/mockgen@latest -destination=mocks/mock_engine.go -package=mocks paperqa/internal/rag Engine

import (
	"context"
	"errors"

	"paperqa/internal/paper"
)

// ErrEmptyQuestion is returned when a query has no question text.
var ErrEmptyQuestion = errors.New("question is required")

// NoEvidenceAnswer is returned when retrieval finds nothing to ground an answer on.
const NoEvidenceAnswer = "I don't have any relevant information in my knowledge base to answer your question. Please upload some research papers first."

// Engine answers questions over the indexed papers.
type Engine interface {
	// Ask runs the answer pipeline. Generation failures are reported on Answer.Error,
	// not as an error return.
	Ask(ctx context.Context, q Query) (Answer, error)
}

// Query is a question plus retrieval constraints.
type Query struct {
	// Question is the user's question to answer.
	Question string `json:"question"`
	// DocumentIDs restricts retrieval to these documents. If empty, all documents are searched.
	DocumentIDs []string `json:"document_ids,omitempty"`
	// TopK optionally overrides the number of evidence passages.
	TopK int `json:"top_k,omitempty"`
	// PreferredProvider optionally names the generation provider to try first.
	PreferredProvider string `json:"preferred_provider,omitempty"`
}

// SectionMatch records how a candidate's section relates to the query's target sections.
type SectionMatch string

const (
	MatchExact   SectionMatch = "exact"
	MatchRelated SectionMatch = "related"
	MatchNone    SectionMatch = "none"
)

// Candidate is a passage moving through retrieval.
type Candidate struct {
	Passage        paper.Passage
	Score          float64      // Current ranking score
	RetrievalScore float64      // Raw similarity from the index
	RerankLogit    float64      // Pairwise logit, valid when Reranked
	Reranked       bool         // Score was replaced by the normalized rerank score
	Match          SectionMatch // Section boost applied
	IsContext      bool         // Neighbor added for context
}

// Evidence is a candidate selected for the prompt under an enumerated handle.
type Evidence struct {
	Handle    string // c1, c2, ...
	Candidate Candidate
	Text      string // Possibly compressed text shown to the model
	Truncated bool
}

// UnsupportedSpan is a part of the answer the grounding check found no support for.
type UnsupportedSpan struct {
	Text   string `json:"text"`
	Reason string `json:"reason"`
}

// CitedEvidence is an evidence passage the answer cites.
type CitedEvidence struct {
	Handle     string            `json:"handle"`
	DocumentID string            `json:"document_id"`
	Title      string            `json:"title,omitempty"`
	Text       string            `json:"text"`
	Score      float64           `json:"score"`
	PageNumber int               `json:"page_number"`
	ChunkIndex int               `json:"chunk_index"`
	Section    paper.SectionType `json:"section_type"`
}

// Answer is the pipeline's final result. Confidence is a soft grounding signal produced
// by the generation model grading its own draft; it is not a guarantee of factual accuracy.
type Answer struct {
	Question         string            `json:"question"`
	Answer           string            `json:"answer"`
	Citations        []CitedEvidence   `json:"citations"`
	Confidence       float64           `json:"confidence"`
	UnsupportedSpans []UnsupportedSpan `json:"unsupported_spans"`
	TargetSections   []string          `json:"target_sections,omitempty"`
	EvidenceCount    int               `json:"evidence_count"`
	Error            string            `json:"error,omitempty"`
}
