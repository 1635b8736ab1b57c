package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"paperqa/internal/handlers"
	"paperqa/internal/metrics"
	"paperqa/internal/rag"
	"paperqa/internal/storage"
	"paperqa/internal/vectorstore"
)

// Deps holds dependencies for the HTTP router.
type Deps struct {
	Engine    rag.Engine
	Ingester  handlers.Ingester
	Documents storage.DocumentStore
	Passages  storage.PassageStore
	Index     vectorstore.Index
	Metrics   *metrics.Metrics // Optional
}

// NewRouter creates a new HTTP router with the provided dependencies.
func NewRouter(deps *Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(Metrics(deps.Metrics))
	r.Use(LoggerMiddleware)
	r.Use(RequestLogger)
	r.Use(middleware.Recoverer)
	r.Use(CORS)

	askHandler := handlers.NewAskHandler(deps.Engine)
	healthHandler := handlers.NewHealthHandler(deps.Index)
	documentsHandler := handlers.NewDocumentsHandler(deps.Ingester, deps.Documents, deps.Passages)

	r.Route("/api", func(r chi.Router) {
		r.Method(http.MethodGet, "/health", healthHandler)

		r.Route("/v1", func(r chi.Router) {
			r.Method(http.MethodPost, "/ask", askHandler)

			r.Route("/documents", func(r chi.Router) {
				r.Get("/", documentsHandler.List)
				r.Post("/", documentsHandler.Ingest)
				r.Post("/upload", documentsHandler.Upload)
				r.Get("/{id}/passages", documentsHandler.Passages)
				r.Delete("/{id}", documentsHandler.Delete)
			})
		})
	})

	r.Method(http.MethodGet, "/metrics", deps.Metrics.Handler())

	return r
}
