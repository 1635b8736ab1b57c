package indexer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/mock/gomock"

	"paperqa/internal/library"
	"paperqa/internal/metrics"
	"paperqa/internal/paper"
	"paperqa/internal/storage"
	storage_mocks "paperqa/internal/storage/mocks"
	"paperqa/internal/vectorstore"
	vectorstore_mocks "paperqa/internal/vectorstore/mocks"
)

func testChunker() *PaperChunker {
	return NewPaperChunker(ChunkerOptions{ChunkSize: 2048, MinChunkSize: 10, RespectSections: true})
}

func testPages() []paper.Page {
	return []paper.Page{
		{Number: 1, Text: "Sparse Retrieval for Papers\nAbstract\nWe study retrieval for question answering in 2021. It works."},
		{Number: 2, Text: "Results\nOur system reaches accuracy 95% on the benchmark. It beats the baseline."},
	}
}

type pipelineMocks struct {
	index    *vectorstore_mocks.MockIndex
	docs     *storage_mocks.MockDocumentStore
	passages *storage_mocks.MockPassageStore
}

func newMockPipeline(t *testing.T) (*Pipeline, pipelineMocks) {
	ctrl := gomock.NewController(t)
	m := pipelineMocks{
		index:    vectorstore_mocks.NewMockIndex(ctrl),
		docs:     storage_mocks.NewMockDocumentStore(ctrl),
		passages: storage_mocks.NewMockPassageStore(ctrl),
	}
	return NewPipeline(m.index, m.docs, m.passages, testChunker(), nil), m
}

func TestDocumentID(t *testing.T) {
	a := DocumentID(testPages())
	if a != DocumentID(testPages()) {
		t.Error("DocumentID() is not deterministic")
	}
	if len(a) != 64 {
		t.Errorf("DocumentID() length = %d, want 64 hex chars", len(a))
	}
	other := testPages()
	other[1].Text += " Extra."
	if a == DocumentID(other) {
		t.Error("DocumentID() ignores page content")
	}
	split := []paper.Page{{Number: 1, Text: "ab"}, {Number: 2, Text: "c"}}
	joined := []paper.Page{{Number: 1, Text: "a"}, {Number: 2, Text: "bc"}}
	if DocumentID(split) == DocumentID(joined) {
		t.Error("DocumentID() ignores page boundaries")
	}
}

func TestPipeline_Ingest(t *testing.T) {
	p, m := newMockPipeline(t)
	ctx := context.Background()
	id := DocumentID(testPages())

	m.docs.EXPECT().Get(ctx, id).Return(nil, storage.ErrNotFound)
	m.index.EXPECT().Add(ctx, id, gomock.Any()).DoAndReturn(
		func(_ context.Context, _ string, passages []paper.Passage) error {
			// Title line, abstract and results each become a passage.
			if len(passages) != 3 {
				t.Fatalf("Add() got %d passages, want 3", len(passages))
			}
			for _, ps := range passages {
				if ps.DocumentID != id || ps.Title != "Sparse Retrieval for Papers" || ps.Year != 2021 {
					t.Errorf("passage metadata = (%q, %q, %d)", ps.DocumentID, ps.Title, ps.Year)
				}
			}
			return nil
		})
	m.docs.EXPECT().Upsert(ctx, gomock.Any()).DoAndReturn(
		func(_ context.Context, doc *storage.DocumentRecord) error {
			if doc.ID != id || doc.Filename != "paper.md" || doc.Pages != 2 || doc.ChunkCount != 3 || doc.Status != storage.StatusIndexed {
				t.Errorf("Upsert() record = %+v", doc)
			}
			return nil
		})
	m.passages.EXPECT().InsertBatch(ctx, id, gomock.Len(3)).Return(nil)

	res, err := p.Ingest(ctx, IngestRequest{Filename: "paper.md", Pages: testPages()})
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	if res.DocumentID != id || res.Passages != 3 || res.Pages != 2 || res.Skipped {
		t.Errorf("Ingest() = %+v", res)
	}
	if res.TokenStats.Min < 1 || res.TokenStats.Max < res.TokenStats.Min {
		t.Errorf("TokenStats = %+v", res.TokenStats)
	}
}

func TestPipeline_Ingest_TitleOverride(t *testing.T) {
	p, m := newMockPipeline(t)

	m.docs.EXPECT().Get(gomock.Any(), gomock.Any()).Return(nil, storage.ErrNotFound)
	m.index.EXPECT().Add(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil)
	m.docs.EXPECT().Upsert(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, doc *storage.DocumentRecord) error {
			if doc.Title != "Given Title" {
				t.Errorf("Title = %q, want request title", doc.Title)
			}
			return nil
		})
	m.passages.EXPECT().InsertBatch(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil)

	if _, err := p.Ingest(context.Background(), IngestRequest{Filename: "x.md", Title: " Given Title ", Pages: testPages()}); err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
}

func TestPipeline_Ingest_SkipsIndexed(t *testing.T) {
	p, m := newMockPipeline(t)
	id := DocumentID(testPages())

	m.docs.EXPECT().Get(gomock.Any(), id).Return(&storage.DocumentRecord{
		ID: id, Title: "Known", ChunkCount: 2, Pages: 2, Status: storage.StatusIndexed,
	}, nil)

	res, err := p.Ingest(context.Background(), IngestRequest{Filename: "paper.md", Pages: testPages()})
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	if !res.Skipped || res.Title != "Known" || res.Passages != 2 {
		t.Errorf("Ingest() = %+v, want skipped result from catalog", res)
	}
}

func TestPipeline_Ingest_NoContent(t *testing.T) {
	tests := []struct {
		name  string
		pages []paper.Page
	}{
		{"no pages", nil},
		{"blank pages", []paper.Page{{Number: 1, Text: "  \n "}, {Number: 2, Runs: []paper.TextRun{{Text: " "}}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, _ := newMockPipeline(t) // no store calls expected
			_, err := p.Ingest(context.Background(), IngestRequest{Filename: "empty.txt", Pages: tt.pages})
			if !errors.Is(err, ErrNoContent) {
				t.Errorf("Ingest() error = %v, want ErrNoContent", err)
			}
		})
	}
}

func TestPipeline_Ingest_Failures(t *testing.T) {
	boom := errors.New("boom")
	id := DocumentID(testPages())

	tests := []struct {
		name  string
		setup func(m pipelineMocks)
	}{
		{
			name: "index add fails",
			setup: func(m pipelineMocks) {
				m.docs.EXPECT().Get(gomock.Any(), id).Return(nil, storage.ErrNotFound)
				m.index.EXPECT().Add(gomock.Any(), id, gomock.Any()).Return(boom)
				m.docs.EXPECT().MarkFailed(gomock.Any(), id, "paper.md", "boom").Return(nil)
			},
		},
		{
			name: "catalog write fails and index is rolled back",
			setup: func(m pipelineMocks) {
				m.docs.EXPECT().Get(gomock.Any(), id).Return(nil, storage.ErrNotFound)
				gomock.InOrder(
					m.index.EXPECT().Add(gomock.Any(), id, gomock.Any()).Return(nil),
					m.docs.EXPECT().Upsert(gomock.Any(), gomock.Any()).Return(nil),
					m.passages.EXPECT().InsertBatch(gomock.Any(), id, gomock.Any()).Return(boom),
					m.index.EXPECT().Delete(gomock.Any(), id).Return(true, nil),
					m.docs.EXPECT().MarkFailed(gomock.Any(), id, "paper.md", gomock.Any()).Return(nil),
				)
			},
		},
		{
			name: "catalog lookup fails",
			setup: func(m pipelineMocks) {
				m.docs.EXPECT().Get(gomock.Any(), id).Return(nil, boom)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, m := newMockPipeline(t)
			tt.setup(m)
			_, err := p.Ingest(context.Background(), IngestRequest{Filename: "paper.md", Pages: testPages()})
			if !errors.Is(err, boom) {
				t.Errorf("Ingest() error = %v, want wrapped %v", err, boom)
			}
		})
	}
}

func TestPipeline_Ingest_RetriesFailedDocument(t *testing.T) {
	p, m := newMockPipeline(t)
	id := DocumentID(testPages())

	m.docs.EXPECT().Get(gomock.Any(), id).Return(&storage.DocumentRecord{ID: id, Status: storage.StatusFailed}, nil)
	gomock.InOrder(
		m.passages.EXPECT().DeleteByDocument(gomock.Any(), id).Return(nil),
		m.index.EXPECT().Delete(gomock.Any(), id).Return(true, nil),
		m.index.EXPECT().Add(gomock.Any(), id, gomock.Any()).Return(nil),
		m.docs.EXPECT().Upsert(gomock.Any(), gomock.Any()).Return(nil),
		m.passages.EXPECT().InsertBatch(gomock.Any(), id, gomock.Any()).Return(nil),
	)

	res, err := p.Ingest(context.Background(), IngestRequest{Filename: "paper.md", Pages: testPages()})
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	if res.Skipped {
		t.Error("a failed document must be re-ingested, not skipped")
	}
}

func TestPipeline_Ingest_ReplacesUncataloguedIndexRows(t *testing.T) {
	p, m := newMockPipeline(t)
	id := DocumentID(testPages())

	m.docs.EXPECT().Get(gomock.Any(), id).Return(nil, storage.ErrNotFound)
	gomock.InOrder(
		m.index.EXPECT().Add(gomock.Any(), id, gomock.Any()).Return(vectorstore.ErrDocumentExists),
		m.index.EXPECT().Delete(gomock.Any(), id).Return(true, nil),
		m.index.EXPECT().Add(gomock.Any(), id, gomock.Any()).DoAndReturn(
			func(_ context.Context, _ string, passages []paper.Passage) error {
				for i, ps := range passages {
					if ps.ChunkIndex != i {
						t.Errorf("passage %d ChunkIndex = %d, want %d", i, ps.ChunkIndex, i)
					}
				}
				return nil
			}),
		m.docs.EXPECT().Upsert(gomock.Any(), gomock.Any()).Return(nil),
		m.passages.EXPECT().InsertBatch(gomock.Any(), id, gomock.Any()).Return(nil),
	)

	if _, err := p.Ingest(context.Background(), IngestRequest{Filename: "paper.md", Pages: testPages()}); err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
}

func TestPipeline_Ingest_StaleRowsDeleteFails(t *testing.T) {
	p, m := newMockPipeline(t)
	id := DocumentID(testPages())

	m.docs.EXPECT().Get(gomock.Any(), id).Return(nil, storage.ErrNotFound)
	m.index.EXPECT().Add(gomock.Any(), id, gomock.Any()).Return(vectorstore.ErrDocumentExists)
	m.index.EXPECT().Delete(gomock.Any(), id).Return(false, errors.New("disk full"))
	m.docs.EXPECT().MarkFailed(gomock.Any(), id, "paper.md", gomock.Any()).Return(nil)

	if _, err := p.Ingest(context.Background(), IngestRequest{Filename: "paper.md", Pages: testPages()}); err == nil {
		t.Fatal("Ingest() error = nil, want error")
	}
}

func TestPipeline_DeleteDocument(t *testing.T) {
	tests := []struct {
		name       string
		inIndex    bool
		catalogErr error
		wantErr    error
	}{
		{name: "in index and catalog", inIndex: true},
		{name: "catalog only", inIndex: false},
		{name: "index only", inIndex: true, catalogErr: storage.ErrNotFound},
		{name: "unknown", inIndex: false, catalogErr: storage.ErrNotFound, wantErr: vectorstore.ErrDocumentNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, m := newMockPipeline(t)
			m.index.EXPECT().Delete(gomock.Any(), "doc").Return(tt.inIndex, nil)
			m.docs.EXPECT().Delete(gomock.Any(), "doc").Return(tt.catalogErr)

			err := p.DeleteDocument(context.Background(), "doc")
			if tt.wantErr == nil && err != nil {
				t.Errorf("DeleteDocument() error = %v", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("DeleteDocument() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

type fixedEmbedder struct{}

func (fixedEmbedder) EmbedTexts(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = []float32{1, float32(len(text) % 7), 0, 0.5}
	}
	return out, nil
}

func TestPipeline_IngestDirectory(t *testing.T) {
	dir := t.TempDir()
	files := map[string]string{
		"attention.md":   "# Attention Models\n\n## Abstract\n\nWe study attention for translation tasks.\n\n## Results\n\nBLEU improves by two points.",
		"nlp/sparse.txt": "Sparse Retrieval\nAbstract\nSparse methods are fast and accurate enough.\fResults\nRecall reaches 90% on the benchmark.",
		"nlp/empty.md":   "   \n",
	}
	for rel, content := range files {
		full := filepath.Join(dir, rel)
		if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
			t.Fatalf("MkdirAll() error = %v", err)
		}
		if err := os.WriteFile(full, []byte(content), 0644); err != nil {
			t.Fatalf("WriteFile() error = %v", err)
		}
	}

	db, err := storage.New(filepath.Join(t.TempDir(), "catalog.db"))
	if err != nil {
		t.Fatalf("storage.New() error = %v", err)
	}
	defer func() {
		_ = db.Close()
	}()
	if err := storage.Migrate(db); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}

	index, err := vectorstore.NewFlatIndex(fixedEmbedder{}, vectorstore.FlatOptions{Dim: 4})
	if err != nil {
		t.Fatalf("NewFlatIndex() error = %v", err)
	}
	docs := storage.NewDocumentRepo(db)
	p := NewPipeline(index, docs, storage.NewPassageRepo(db), testChunker(), metrics.New())

	lib, err := library.New(dir)
	if err != nil {
		t.Fatalf("library.New() error = %v", err)
	}
	ctx := context.Background()

	res, err := p.IngestDirectory(ctx, lib)
	if err == nil {
		t.Error("IngestDirectory() expected error for the empty file")
	}
	if res != (DirectoryResult{Files: 3, Indexed: 2, Failed: 1}) {
		t.Errorf("IngestDirectory() = %+v", res)
	}

	// A second run skips everything already indexed.
	res, _ = p.IngestDirectory(ctx, lib)
	if res.Skipped != 2 || res.Indexed != 0 {
		t.Errorf("second IngestDirectory() = %+v, want 2 skipped", res)
	}

	list, err := docs.List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("catalog has %d documents, want 2", len(list))
	}
	stats, err := index.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}
	if stats.Documents != 2 {
		t.Errorf("index documents = %d, want 2", stats.Documents)
	}

	for _, doc := range list {
		if err := p.DeleteDocument(ctx, doc.ID); err != nil {
			t.Fatalf("DeleteDocument() error = %v", err)
		}
	}
	if err := p.DeleteDocument(ctx, list[0].ID); !errors.Is(err, vectorstore.ErrDocumentNotFound) {
		t.Errorf("second DeleteDocument() error = %v, want ErrDocumentNotFound", err)
	}
}
