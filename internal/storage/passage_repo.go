package storage

//go:generate go run go.uber.org/mock/mockgen@latest -destination=mocks/mock_passage_store.go -package=mocks paperqa/internal/storage PassageStore

import (
	"context"
	"database/sql"
	"fmt"

	"paperqa/internal/paper"
)

// PassageStore defines the interface for passage catalog operations.
type PassageStore interface {
	// InsertBatch stores passages of one document in a single transaction.
	InsertBatch(ctx context.Context, documentID string, passages []paper.Passage) error
	// ListByDocument returns the passages of a document ordered by chunk index.
	// Returns an empty slice if the document has none (not an error).
	ListByDocument(ctx context.Context, documentID string) ([]paper.Passage, error)
	// DeleteByDocument removes every passage of a document.
	DeleteByDocument(ctx context.Context, documentID string) error
}

// PassageRepo implements PassageStore on SQLite.
type PassageRepo struct {
	db *sql.DB
}

// NewPassageRepo creates a new PassageRepo.
func NewPassageRepo(db *sql.DB) *PassageRepo {
	return &PassageRepo{db: db}
}

// InsertBatch stores passages of one document in a single transaction.
// The document row must exist.
func (r *PassageRepo) InsertBatch(ctx context.Context, documentID string, passages []paper.Passage) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO passages (document_id, chunk_index, page_number, section, section_type, text,
		 semantic_density, has_citation, has_equation, has_table_ref, has_figure_ref)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare passage insert: %w", err)
	}
	defer func() {
		_ = stmt.Close()
	}()

	for _, p := range passages {
		_, err := stmt.ExecContext(ctx, documentID, p.ChunkIndex, p.PageNumber, p.Section, string(p.SectionType),
			p.Text, p.SemanticDensity, p.Flags.Citation, p.Flags.Equation, p.Flags.TableRef, p.Flags.FigureRef)
		if err != nil {
			return fmt.Errorf("failed to insert passage %d: %w", p.ChunkIndex, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit passages: %w", err)
	}
	return nil
}

// ListByDocument returns the passages of a document ordered by chunk index,
// with title and year filled from the document row.
func (r *PassageRepo) ListByDocument(ctx context.Context, documentID string) ([]paper.Passage, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT p.chunk_index, p.page_number, p.section, p.section_type, p.text, p.semantic_density,
		 p.has_citation, p.has_equation, p.has_table_ref, p.has_figure_ref, d.title, d.year
		 FROM passages p JOIN documents d ON d.id = p.document_id
		 WHERE p.document_id = ? ORDER BY p.chunk_index`,
		documentID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query passages: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	passages := []paper.Passage{}
	for rows.Next() {
		var (
			p           paper.Passage
			section     sql.NullString
			sectionType string
			title       sql.NullString
		)
		if err := rows.Scan(&p.ChunkIndex, &p.PageNumber, &section, &sectionType, &p.Text, &p.SemanticDensity,
			&p.Flags.Citation, &p.Flags.Equation, &p.Flags.TableRef, &p.Flags.FigureRef, &title, &p.Year); err != nil {
			return nil, fmt.Errorf("failed to scan passage: %w", err)
		}
		p.DocumentID = documentID
		p.Section = section.String
		p.SectionType = paper.SectionType(sectionType)
		p.Title = title.String
		passages = append(passages, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return passages, nil
}

// DeleteByDocument removes every passage of a document.
func (r *PassageRepo) DeleteByDocument(ctx context.Context, documentID string) error {
	if _, err := r.db.ExecContext(ctx, "DELETE FROM passages WHERE document_id = ?", documentID); err != nil {
		return fmt.Errorf("failed to delete passages by document: %w", err)
	}
	return nil
}
