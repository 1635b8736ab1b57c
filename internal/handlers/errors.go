package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"paperqa/internal/contextutil"
	"paperqa/internal/extract"
	"paperqa/internal/indexer"
	"paperqa/internal/llm"
	"paperqa/internal/rag"
	"paperqa/internal/storage"
	"paperqa/internal/vectorstore"
)

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

// ValidationError represents a validation error with a field name.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error on field %s: %s", e.Field, e.Message)
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	var validationErr *ValidationError
	var statusErr *llm.StatusError
	switch {
	case errors.As(err, &validationErr), errors.Is(err, rag.ErrEmptyQuestion):
		return http.StatusBadRequest
	case errors.Is(err, storage.ErrNotFound), errors.Is(err, vectorstore.ErrDocumentNotFound):
		return http.StatusNotFound
	case errors.Is(err, indexer.ErrNoContent), errors.Is(err, extract.ErrUnsupportedFormat):
		return http.StatusUnprocessableEntity
	case errors.Is(err, llm.ErrAllProvidersFailed), errors.Is(err, llm.ErrQuotaExhausted), errors.As(err, &statusErr):
		return http.StatusBadGateway
	case errors.Is(err, vectorstore.ErrDimensionMismatch),
		errors.Is(err, vectorstore.ErrModelMismatch),
		errors.Is(err, vectorstore.ErrCorruptIndex):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// publicMessage returns the message shown to clients for err.
func publicMessage(status int, err error) string {
	switch status {
	case http.StatusBadRequest, http.StatusNotFound, http.StatusUnprocessableEntity:
		return err.Error()
	case http.StatusBadGateway:
		return "External service error"
	case http.StatusServiceUnavailable:
		return "Vector index unavailable"
	default:
		return "Internal server error"
	}
}

// handleError logs err and writes the mapped status.
func handleError(ctx context.Context, w http.ResponseWriter, err error) {
	logger := contextutil.LoggerFromContext(ctx)
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		logger.ErrorContext(ctx, "request failed", "status", status, "error", err)
	} else {
		logger.WarnContext(ctx, "request rejected", "status", status, "error", err)
	}

	resp := ErrorResponse{Error: publicMessage(status, err)}
	var validationErr *ValidationError
	if errors.As(err, &validationErr) {
		resp.Error = validationErr.Message
		resp.Field = validationErr.Field
	}
	writeJSON(ctx, w, status, resp)
}

// writeError writes an error response.
func writeError(ctx context.Context, w http.ResponseWriter, statusCode int, message string) {
	writeJSON(ctx, w, statusCode, ErrorResponse{Error: message})
}

func writeJSON(ctx context.Context, w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		contextutil.LoggerFromContext(ctx).ErrorContext(ctx, "failed to encode response", "error", err)
	}
}
