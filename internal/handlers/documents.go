package handlers

//go:generate go run go.uber.org/mock/mockgen@latest -destination=mocks/mock_ingester.go -package=mocks paperqa/internal/handlers Ingester

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"

	"paperqa/internal/contextutil"
	"paperqa/internal/extract"
	"paperqa/internal/indexer"
	"paperqa/internal/paper"
	"paperqa/internal/storage"
)

// maxUploadBytes bounds multipart uploads.
const maxUploadBytes = 32 << 20

// Ingester indexes and removes documents.
type Ingester interface {
	Ingest(ctx context.Context, req indexer.IngestRequest) (indexer.IngestResult, error)
	DeleteDocument(ctx context.Context, id string) error
}

// DocumentsHandler serves the document catalog: ingest, upload, list, passages, delete.
type DocumentsHandler struct {
	ingester  Ingester
	documents storage.DocumentStore
	passages  storage.PassageStore
}

// NewDocumentsHandler creates a new DocumentsHandler.
func NewDocumentsHandler(ingester Ingester, documents storage.DocumentStore, passages storage.PassageStore) *DocumentsHandler {
	return &DocumentsHandler{
		ingester:  ingester,
		documents: documents,
		passages:  passages,
	}
}

// TextRunRequest is a styled span of a page.
type TextRunRequest struct {
	Text     string  `json:"text"`
	FontSize float64 `json:"font_size"`
	Bold     bool    `json:"bold"`
}

// PageRequest is one extracted page.
type PageRequest struct {
	PageNumber int              `json:"page_number"`
	Text       string           `json:"text"`
	Runs       []TextRunRequest `json:"runs,omitempty"`
}

// IngestRequest represents the HTTP request payload for ingesting pre-extracted pages.
type IngestRequest struct {
	Filename string        `json:"filename"`
	Title    string        `json:"title,omitempty"`
	Pages    []PageRequest `json:"pages"`
}

// PassageResponse is one cataloged passage.
type PassageResponse struct {
	ChunkIndex      int               `json:"chunk_index"`
	PageNumber      int               `json:"page_number"`
	Section         string            `json:"section,omitempty"`
	SectionType     paper.SectionType `json:"section_type"`
	Text            string            `json:"text"`
	SemanticDensity float64           `json:"semantic_density"`
	HasCitation     bool              `json:"has_citation"`
	HasEquation     bool              `json:"has_equation"`
	HasTableRef     bool              `json:"has_table_ref"`
	HasFigureRef    bool              `json:"has_figure_ref"`
}

// Ingest handles POST /api/v1/documents.
func (h *DocumentsHandler) Ingest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req IngestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		contextutil.LoggerFromContext(ctx).WarnContext(ctx, "invalid request body", "error", err)
		writeError(ctx, w, http.StatusBadRequest, "Invalid request body")
		return
	}

	pages, err := toPages(req.Pages)
	if err != nil {
		handleError(ctx, w, err)
		return
	}
	if strings.TrimSpace(req.Filename) == "" {
		handleError(ctx, w, &ValidationError{Field: "filename", Message: "filename is required"})
		return
	}

	h.ingest(ctx, w, indexer.IngestRequest{
		Filename: req.Filename,
		Title:    req.Title,
		Pages:    pages,
	})
}

// Upload handles POST /api/v1/documents/upload with a multipart "file" field.
func (h *DocumentsHandler) Upload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	file, header, err := r.FormFile("file")
	if err != nil {
		handleError(ctx, w, &ValidationError{Field: "file", Message: "multipart field file is required"})
		return
	}
	defer file.Close()

	name := filepath.Base(header.Filename)
	if !extract.Supported(name) {
		handleError(ctx, w, fmt.Errorf("%w: %s", extract.ErrUnsupportedFormat, name))
		return
	}

	content, err := io.ReadAll(file)
	if err != nil {
		handleError(ctx, w, fmt.Errorf("failed to read upload: %w", err))
		return
	}
	pages, err := extract.Bytes(name, content)
	if err != nil {
		handleError(ctx, w, err)
		return
	}

	h.ingest(ctx, w, indexer.IngestRequest{
		Filename: name,
		Title:    r.FormValue("title"),
		Pages:    pages,
	})
}

func (h *DocumentsHandler) ingest(ctx context.Context, w http.ResponseWriter, req indexer.IngestRequest) {
	res, err := h.ingester.Ingest(ctx, req)
	if err != nil {
		handleError(ctx, w, err)
		return
	}
	status := http.StatusCreated
	if res.Skipped {
		status = http.StatusOK
	}
	writeJSON(ctx, w, status, res)
}

// List handles GET /api/v1/documents.
func (h *DocumentsHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	docs, err := h.documents.List(ctx)
	if err != nil {
		handleError(ctx, w, err)
		return
	}
	writeJSON(ctx, w, http.StatusOK, docs)
}

// Passages handles GET /api/v1/documents/{id}/passages.
func (h *DocumentsHandler) Passages(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	if _, err := h.documents.Get(ctx, id); err != nil {
		handleError(ctx, w, err)
		return
	}
	passages, err := h.passages.ListByDocument(ctx, id)
	if err != nil {
		handleError(ctx, w, err)
		return
	}

	resp := make([]PassageResponse, 0, len(passages))
	for _, p := range passages {
		resp = append(resp, PassageResponse{
			ChunkIndex:      p.ChunkIndex,
			PageNumber:      p.PageNumber,
			Section:         p.Section,
			SectionType:     p.SectionType,
			Text:            p.Text,
			SemanticDensity: p.SemanticDensity,
			HasCitation:     p.Flags.Citation,
			HasEquation:     p.Flags.Equation,
			HasTableRef:     p.Flags.TableRef,
			HasFigureRef:    p.Flags.FigureRef,
		})
	}
	writeJSON(ctx, w, http.StatusOK, resp)
}

// Delete handles DELETE /api/v1/documents/{id}.
func (h *DocumentsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	if err := h.ingester.DeleteDocument(ctx, id); err != nil {
		handleError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func toPages(in []PageRequest) ([]paper.Page, error) {
	if len(in) == 0 {
		return nil, &ValidationError{Field: "pages", Message: "at least one page is required"}
	}
	pages := make([]paper.Page, 0, len(in))
	for i, p := range in {
		number := p.PageNumber
		if number == 0 {
			number = i + 1
		}
		if number < 0 {
			return nil, &ValidationError{Field: "pages", Message: fmt.Sprintf("page %d has a negative page_number", i)}
		}
		page := paper.Page{Number: number, Text: p.Text}
		for _, run := range p.Runs {
			page.Runs = append(page.Runs, paper.TextRun{Text: run.Text, FontSize: run.FontSize, Bold: run.Bold})
		}
		pages = append(pages, page)
	}
	return pages, nil
}
