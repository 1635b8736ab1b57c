// Package library finds paper files under a directory tree.
package library

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"paperqa/internal/extract"
)

// ScannedFile is a paper file found during a scan.
type ScannedFile struct {
	RelPath string // Relative path from the library root, forward slashes
	Folder  string // Folder part of RelPath, empty at the root
	AbsPath string
	Size    int64
}

// Library is a directory of paper files.
type Library struct {
	root string
}

// New returns a library rooted at dir. The directory must exist.
func New(dir string) (*Library, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve library path %s: %w", dir, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("failed to open library %s: %w", dir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("library path %s is not a directory", dir)
	}
	return &Library{root: abs}, nil
}

// Root returns the absolute library root.
func (l *Library) Root() string {
	return l.root
}

// AbsPath returns the absolute path of a file given its relative path.
func (l *Library) AbsPath(relPath string) string {
	return filepath.Join(l.root, filepath.FromSlash(relPath))
}

// Scan walks the library and returns every supported paper file, sorted by path.
// Hidden files and directories are skipped.
func (l *Library) Scan(ctx context.Context) ([]ScannedFile, error) {
	var files []ScannedFile

	err := filepath.WalkDir(l.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return fmt.Errorf("failed to access path %s: %w", path, err)
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		hidden := strings.HasPrefix(d.Name(), ".") && path != l.root
		if d.IsDir() {
			if hidden {
				return filepath.SkipDir
			}
			return nil
		}
		if hidden || !extract.Supported(path) {
			return nil
		}

		relPath, err := filepath.Rel(l.root, path)
		if err != nil {
			return fmt.Errorf("failed to compute relative path for %s: %w", path, err)
		}
		relPath = filepath.ToSlash(relPath)

		folder := filepath.ToSlash(filepath.Dir(relPath))
		if folder == "." {
			folder = ""
		}

		info, err := d.Info()
		if err != nil {
			return fmt.Errorf("failed to stat %s: %w", path, err)
		}

		files = append(files, ScannedFile{
			RelPath: relPath,
			Folder:  folder,
			AbsPath: path,
			Size:    info.Size(),
		})
		return nil
	})
	if err != nil {
		return files, fmt.Errorf("failed to scan library %s: %w", l.root, err)
	}

	sort.Slice(files, func(i, j int) bool { return files[i].RelPath < files[j].RelPath })
	return files, nil
}
