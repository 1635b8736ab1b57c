package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/mock/gomock"

	"paperqa/internal/vectorstore"
	vectorstore_mocks "paperqa/internal/vectorstore/mocks"
)

func TestHealthHandler(t *testing.T) {
	tests := []struct {
		name           string
		method         string
		stats          vectorstore.Stats
		statsErr       error
		expectStats    bool
		expectedStatus int
		expectedHealth string
	}{
		{
			name:           "healthy",
			method:         http.MethodGet,
			stats:          vectorstore.Stats{Dim: 4, Rows: 5, Live: 3, Tombstoned: 2, Documents: 1},
			expectStats:    true,
			expectedStatus: http.StatusOK,
			expectedHealth: "healthy",
		},
		{
			name:           "index unavailable",
			method:         http.MethodGet,
			statsErr:       errors.New("connection refused"),
			expectStats:    true,
			expectedStatus: http.StatusServiceUnavailable,
			expectedHealth: "unhealthy",
		},
		{
			name:           "wrong method",
			method:         http.MethodPost,
			expectedStatus: http.StatusMethodNotAllowed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			index := vectorstore_mocks.NewMockIndex(ctrl)
			if tt.expectStats {
				index.EXPECT().Stats(gomock.Any()).Return(tt.stats, tt.statsErr)
			}

			w := httptest.NewRecorder()
			NewHealthHandler(index).ServeHTTP(w, httptest.NewRequest(tt.method, "/api/health", nil))

			if w.Code != tt.expectedStatus {
				t.Fatalf("status = %d, want %d", w.Code, tt.expectedStatus)
			}
			if tt.expectedHealth == "" {
				return
			}

			var resp HealthResponse
			if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
				t.Fatalf("failed to decode response: %v", err)
			}
			if resp.Status != tt.expectedHealth {
				t.Errorf("status = %q, want %q", resp.Status, tt.expectedHealth)
			}
			if tt.statsErr == nil {
				if resp.Index == nil || *resp.Index != tt.stats {
					t.Errorf("index = %+v, want %+v", resp.Index, tt.stats)
				}
			} else if len(resp.Issues) != 1 || resp.Checks["vector_index"] != "error" {
				t.Errorf("response = %+v", resp)
			}
		})
	}
}
