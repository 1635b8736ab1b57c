package extract

import (
	"strings"

	"paperqa/internal/paper"
)

// PlainText splits text into pages on form feeds. Blank pages are dropped.
func PlainText(content []byte) []paper.Page {
	var pages []paper.Page
	for i, text := range splitPages(string(content)) {
		if strings.TrimSpace(text) == "" {
			continue
		}
		pages = append(pages, paper.Page{Number: i + 1, Text: strings.TrimRight(text, " \t\r\n")})
	}
	return pages
}
