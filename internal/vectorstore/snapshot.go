package vectorstore

import (
	"bufio"
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"paperqa/internal/paper"
)

const (
	snapshotVersion  = 1
	snapshotFileName = "index.gob"
)

// snapshot is the on-disk form of a FlatIndex. It is always written whole.
type snapshot struct {
	Version int
	Dim     int
	Model   string
	SavedAt time.Time
	Vectors []float32
	Rows    []paper.Passage
	Deleted []bool
	Docs    map[string]DocumentRecord
}

func snapshotPath(dir string) string {
	return filepath.Join(dir, snapshotFileName)
}

func (x *FlatIndex) snapshotLocked() *snapshot {
	docs := make(map[string]DocumentRecord, len(x.docs))
	for id, rec := range x.docs {
		docs[id] = *rec
	}
	return &snapshot{
		Version: snapshotVersion,
		Dim:     x.dim,
		Model:   x.model,
		SavedAt: time.Now().UTC(),
		Vectors: x.vectors,
		Rows:    x.rows,
		Deleted: x.deleted,
		Docs:    docs,
	}
}

func (x *FlatIndex) restore(s *snapshot) {
	x.vectors = s.Vectors
	x.rows = s.Rows
	x.deleted = s.Deleted
	x.docs = make(map[string]*DocumentRecord, len(s.Docs))
	for id, rec := range s.Docs {
		r := rec
		x.docs[id] = &r
	}
	if x.model == "" {
		x.model = s.Model
	}
}

// validate checks a loaded snapshot against the configured dimension and model and
// verifies that vectors, rows, tombstones and document records agree.
func (s *snapshot) validate(dim int, model string) error {
	if s.Version != snapshotVersion {
		return fmt.Errorf("%w: unsupported snapshot version %d", ErrCorruptIndex, s.Version)
	}
	if s.Dim != dim {
		return fmt.Errorf("%w: index has %d, configured %d", ErrDimensionMismatch, s.Dim, dim)
	}
	if model != "" && s.Model != "" && s.Model != model {
		return fmt.Errorf("%w: index built with %q, configured %q", ErrModelMismatch, s.Model, model)
	}
	if len(s.Vectors) != len(s.Rows)*s.Dim {
		return fmt.Errorf("%w: %d vector values for %d rows", ErrCorruptIndex, len(s.Vectors), len(s.Rows))
	}
	if len(s.Deleted) != len(s.Rows) {
		return fmt.Errorf("%w: %d tombstone bits for %d rows", ErrCorruptIndex, len(s.Deleted), len(s.Rows))
	}
	for id, rec := range s.Docs {
		for _, row := range rec.Rows {
			if row < 0 || row >= len(s.Rows) {
				return fmt.Errorf("%w: document %s references row %d", ErrCorruptIndex, id, row)
			}
			if s.Deleted[row] || s.Rows[row].DocumentID != id {
				return fmt.Errorf("%w: document %s owns row %d it does not match", ErrCorruptIndex, id, row)
			}
		}
	}
	return nil
}

// writeSnapshot writes to a .tmp file first and renames on success.
func writeSnapshot(path string, s *snapshot) error {
	tmpPath := path + ".tmp"

	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("failed to create snapshot file: %w", err)
	}

	w := bufio.NewWriter(f)
	if err := gob.NewEncoder(w).Encode(s); err != nil {
		_ = f.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}
	if err := w.Flush(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to flush snapshot: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to sync snapshot: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to close snapshot: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to rename snapshot: %w", err)
	}
	return nil
}

// readSnapshot loads a snapshot. A missing file is reported as os.ErrNotExist.
func readSnapshot(path string) (*snapshot, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, os.ErrNotExist
		}
		return nil, fmt.Errorf("failed to open snapshot: %w", err)
	}
	defer func() {
		_ = f.Close()
	}()

	var s snapshot
	if err := gob.NewDecoder(bufio.NewReader(f)).Decode(&s); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptIndex, err)
	}
	return &s, nil
}
