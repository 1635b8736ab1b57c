package storage

//go:generate go run go.uber.org/mock/mockgen@latest -destination=mocks/mock_document_store.go -package=mocks paperqa/internal/storage DocumentStore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a record is not found.
	ErrNotFound = errors.New("record not found")
)

// DocumentStore defines the interface for document catalog operations.
type DocumentStore interface {
	// Upsert inserts a document or replaces every field but created_at.
	Upsert(ctx context.Context, doc *DocumentRecord) error
	// Get returns a document by id. Returns ErrNotFound if not found.
	Get(ctx context.Context, id string) (*DocumentRecord, error)
	// List returns all documents, oldest first.
	List(ctx context.Context) ([]*DocumentRecord, error)
	// Delete removes a document and its passages. Returns ErrNotFound if not found.
	Delete(ctx context.Context, id string) error
	// MarkFailed records a failed ingestion.
	MarkFailed(ctx context.Context, id, filename, reason string) error
	// TotalChunks sums chunk_count over indexed documents.
	TotalChunks(ctx context.Context) (int, error)
}

// DocumentRepo implements DocumentStore on SQLite.
type DocumentRepo struct {
	db *sql.DB
}

// NewDocumentRepo creates a new DocumentRepo.
func NewDocumentRepo(db *sql.DB) *DocumentRepo {
	return &DocumentRepo{db: db}
}

const documentColumns = "id, filename, title, abstract, year, pages, chunk_count, status, error, created_at"

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (*DocumentRecord, error) {
	var (
		doc       DocumentRecord
		title     sql.NullString
		abstract  sql.NullString
		errText   sql.NullString
		status    string
		createdAt string
	)
	if err := row.Scan(&doc.ID, &doc.Filename, &title, &abstract, &doc.Year, &doc.Pages,
		&doc.ChunkCount, &status, &errText, &createdAt); err != nil {
		return nil, err
	}
	doc.Title = title.String
	doc.Abstract = abstract.String
	doc.Error = errText.String
	doc.Status = DocumentStatus(status)

	created, err := parseTimestamp(createdAt)
	if err != nil {
		return nil, fmt.Errorf("failed to parse created_at timestamp: %w", err)
	}
	doc.CreatedAt = created
	return &doc, nil
}

// Upsert inserts a document or replaces every field but created_at.
func (r *DocumentRepo) Upsert(ctx context.Context, doc *DocumentRecord) error {
	if doc.Status == "" {
		doc.Status = StatusIndexed
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO documents (id, filename, title, abstract, year, pages, chunk_count, status, error, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		 ON CONFLICT (id) DO UPDATE SET
		 filename = excluded.filename, title = excluded.title, abstract = excluded.abstract,
		 year = excluded.year, pages = excluded.pages, chunk_count = excluded.chunk_count,
		 status = excluded.status, error = excluded.error`,
		doc.ID, doc.Filename, doc.Title, doc.Abstract, doc.Year, doc.Pages, doc.ChunkCount, string(doc.Status), doc.Error,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert document: %w", err)
	}
	return nil
}

// Get returns a document by id. Returns ErrNotFound if not found.
func (r *DocumentRepo) Get(ctx context.Context, id string) (*DocumentRecord, error) {
	doc, err := scanDocument(r.db.QueryRowContext(ctx,
		"SELECT "+documentColumns+" FROM documents WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query document: %w", err)
	}
	return doc, nil
}

// List returns all documents, oldest first.
func (r *DocumentRepo) List(ctx context.Context) ([]*DocumentRecord, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT "+documentColumns+" FROM documents ORDER BY created_at, id")
	if err != nil {
		return nil, fmt.Errorf("failed to query documents: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	docs := []*DocumentRecord{}
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return docs, nil
}

// Delete removes a document. Passages go with it through the cascading foreign key.
func (r *DocumentRepo) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, "DELETE FROM documents WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkFailed records a failed ingestion, keeping an existing filename when none is given.
func (r *DocumentRepo) MarkFailed(ctx context.Context, id, filename, reason string) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO documents (id, filename, status, error, created_at)
		 VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP)
		 ON CONFLICT (id) DO UPDATE SET
		 filename = CASE WHEN excluded.filename = '' THEN documents.filename ELSE excluded.filename END,
		 status = excluded.status, error = excluded.error, chunk_count = 0`,
		id, filename, string(StatusFailed), reason,
	)
	if err != nil {
		return fmt.Errorf("failed to mark document failed: %w", err)
	}
	return nil
}

// TotalChunks sums chunk_count over indexed documents.
func (r *DocumentRepo) TotalChunks(ctx context.Context) (int, error) {
	var total int
	err := r.db.QueryRowContext(ctx,
		"SELECT COALESCE(SUM(chunk_count), 0) FROM documents WHERE status = ?", string(StatusIndexed),
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("failed to sum chunk counts: %w", err)
	}
	return total, nil
}
