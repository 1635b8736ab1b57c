// Package extract turns paper files into pages of text for the chunker.
package extract

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	"paperqa/internal/paper"
)

// ErrUnsupportedFormat is returned for files no extractor handles.
var ErrUnsupportedFormat = errors.New("unsupported file format")

// pageBreak separates pages in both markdown and plain text sources.
const pageBreak = "\f"

var defaultMarkdown = NewMarkdown()

// Supported reports whether a file name has an extension with an extractor.
func Supported(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".md", ".markdown", ".txt":
		return true
	}
	return false
}

// Bytes extracts pages from content, choosing the extractor by the name's extension.
func Bytes(name string, content []byte) ([]paper.Page, error) {
	content = []byte(strings.ToValidUTF8(string(content), "�"))
	switch strings.ToLower(filepath.Ext(name)) {
	case ".md", ".markdown":
		return defaultMarkdown.Extract(content), nil
	case ".txt":
		return PlainText(content), nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Ext(name))
}

// File reads and extracts a file from disk.
func File(path string) ([]paper.Page, error) {
	if !Supported(path) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Ext(path))
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file %s: %w", path, err)
	}
	return Bytes(path, content)
}

// TitleFromFilename derives a title from a file name by removing the extension
// and capitalizing words.
func TitleFromFilename(filename string) string {
	name := filepath.Base(filename)
	if ext := filepath.Ext(name); ext != "" {
		name = name[:len(name)-len(ext)]
	}
	name = strings.NewReplacer("_", " ", "-", " ").Replace(name)

	words := strings.Fields(name)
	for i, word := range words {
		runes := []rune(word)
		runes[0] = unicode.ToUpper(runes[0])
		words[i] = string(runes)
	}
	return strings.Join(words, " ")
}

// splitPages splits source text on form feeds. Page numbers follow source order,
// so a blank page still consumes a number.
func splitPages(content string) []string {
	return strings.Split(content, pageBreak)
}
