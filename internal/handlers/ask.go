package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"paperqa/internal/contextutil"
	"paperqa/internal/rag"
)

const maxTopK = 20

// AskHandler handles HTTP requests for grounded questions.
type AskHandler struct {
	engine rag.Engine
}

// NewAskHandler creates a new AskHandler.
func NewAskHandler(engine rag.Engine) *AskHandler {
	return &AskHandler{engine: engine}
}

// AskRequest represents the HTTP request payload for questions.
type AskRequest struct {
	Question          string   `json:"question"`
	DocumentIDs       []string `json:"document_ids,omitempty"`
	TopK              int      `json:"top_k,omitempty"`
	PreferredProvider string   `json:"preferred_provider,omitempty"`
}

// ServeHTTP answers a question from the indexed papers.
//
// The response is the pipeline's Answer: text, cited evidence, and a confidence in
// [0, 1]. Generation failures still return 200 with the error field set, since the
// caller gets a well-formed answer with confidence 0.
func (h *AskHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := contextutil.LoggerFromContext(ctx)

	if r.Method != http.MethodPost {
		logger.WarnContext(ctx, "method not allowed", "method", r.Method)
		writeError(ctx, w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var req AskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.WarnContext(ctx, "invalid request body", "error", err)
		writeError(ctx, w, http.StatusBadRequest, "Invalid request body")
		return
	}

	req.Question = strings.TrimSpace(req.Question)
	if req.Question == "" {
		handleError(ctx, w, &ValidationError{Field: "question", Message: "Question is required"})
		return
	}
	if req.TopK < 0 {
		handleError(ctx, w, &ValidationError{Field: "top_k", Message: "top_k must not be negative"})
		return
	}
	if req.TopK > maxTopK {
		req.TopK = maxTopK
	}

	answer, err := h.engine.Ask(ctx, rag.Query{
		Question:          req.Question,
		DocumentIDs:       req.DocumentIDs,
		TopK:              req.TopK,
		PreferredProvider: req.PreferredProvider,
	})
	if err != nil {
		handleError(ctx, w, err)
		return
	}

	writeJSON(ctx, w, http.StatusOK, answer)
}
