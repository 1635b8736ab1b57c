package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"paperqa/internal/extract"
	"paperqa/internal/indexer"
	"paperqa/internal/llm"
	"paperqa/internal/rag"
	"paperqa/internal/storage"
	"paperqa/internal/vectorstore"
)

func TestStatusFor(t *testing.T) {
	wrap := func(err error) error { return fmt.Errorf("failed to do thing: %w", err) }

	tests := []struct {
		name string
		err  error
		want int
	}{
		{"validation", &ValidationError{Field: "f", Message: "m"}, http.StatusBadRequest},
		{"wrapped validation", wrap(&ValidationError{Field: "f", Message: "m"}), http.StatusBadRequest},
		{"empty question", rag.ErrEmptyQuestion, http.StatusBadRequest},
		{"catalog not found", wrap(storage.ErrNotFound), http.StatusNotFound},
		{"index not found", wrap(vectorstore.ErrDocumentNotFound), http.StatusNotFound},
		{"no content", wrap(indexer.ErrNoContent), http.StatusUnprocessableEntity},
		{"unsupported format", wrap(extract.ErrUnsupportedFormat), http.StatusUnprocessableEntity},
		{"providers failed", wrap(llm.ErrAllProvidersFailed), http.StatusBadGateway},
		{"quota", llm.ErrQuotaExhausted, http.StatusBadGateway},
		{"provider status", wrap(&llm.StatusError{Code: 500, Body: "boom"}), http.StatusBadGateway},
		{"dimension mismatch", wrap(vectorstore.ErrDimensionMismatch), http.StatusServiceUnavailable},
		{"model mismatch", vectorstore.ErrModelMismatch, http.StatusServiceUnavailable},
		{"corrupt index", wrap(vectorstore.ErrCorruptIndex), http.StatusServiceUnavailable},
		{"unknown", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := statusFor(tt.err); got != tt.want {
				t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
			}
		})
	}
}

func TestHandleError_HidesInternalDetails(t *testing.T) {
	w := httptest.NewRecorder()
	handleError(t.Context(), w, errors.New("sqlite: disk I/O error at /var/lib/paperqa.db"))

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", w.Code)
	}
	var resp ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Error != "Internal server error" {
		t.Errorf("error = %q, want generic message", resp.Error)
	}
}
