package handlers

import (
	"context"
	"net/http"
	"time"

	"paperqa/internal/contextutil"
	"paperqa/internal/vectorstore"
)

// HealthHandler handles HTTP requests for health checks.
type HealthHandler struct {
	index              vectorstore.Index
	healthCheckTimeout time.Duration
}

// NewHealthHandler creates a new HealthHandler.
func NewHealthHandler(index vectorstore.Index) *HealthHandler {
	return &HealthHandler{
		index:              index,
		healthCheckTimeout: 5 * time.Second,
	}
}

// HealthResponse represents the health check response.
type HealthResponse struct {
	// Overall health status: "healthy" or "unhealthy"
	Status string `json:"status"`

	// Timestamp of the health check
	Timestamp string `json:"timestamp"`

	// Individual check results
	Checks map[string]string `json:"checks"`

	// Index row and document counts, present when the index answered
	Index *vectorstore.Stats `json:"index,omitempty"`

	// List of issues (only present if status is unhealthy)
	Issues []string `json:"issues,omitempty"`
}

// ServeHTTP reports liveness and index statistics.
// Returns 200 OK if healthy, 503 Service Unavailable otherwise.
func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := contextutil.LoggerFromContext(ctx)

	if r.Method != http.MethodGet {
		logger.WarnContext(ctx, "method not allowed", "method", r.Method)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	checkCtx, cancel := context.WithTimeout(ctx, h.healthCheckTimeout)
	defer cancel()

	response := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Checks:    map[string]string{},
	}
	httpStatus := http.StatusOK

	stats, err := h.index.Stats(checkCtx)
	if err != nil {
		logger.WarnContext(ctx, "vector index health check failed", "error", err)
		response.Checks["vector_index"] = "error"
		response.Issues = append(response.Issues, "vector_index_unavailable")
		response.Status = "unhealthy"
		httpStatus = http.StatusServiceUnavailable
	} else {
		response.Checks["vector_index"] = "ok"
		response.Index = &stats
	}

	writeJSON(ctx, w, httpStatus, response)
}
