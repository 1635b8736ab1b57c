package indexer

import (
	"regexp"
	"strconv"
	"strings"

	"paperqa/internal/paper"
)

const (
	maxTitleLen    = 200
	maxAbstractLen = 2000
)

var yearPattern = regexp.MustCompile(`\b(19[5-9]\d|20[0-4]\d)\b`)

// ExtractMetadata recovers title, abstract and year from the first pages of a paper.
// Title is the largest-font run on the first page, or its first short line.
func ExtractMetadata(pages []paper.Page) paper.Metadata {
	var meta paper.Metadata
	if len(pages) == 0 {
		return meta
	}

	first := pages[0]
	for _, p := range pages {
		if strings.TrimSpace(pageText(p)) != "" {
			first = p
			break
		}
	}
	meta.Title = extractTitle(first)

	if m := yearPattern.FindString(pageText(first)); m != "" {
		meta.Year, _ = strconv.Atoi(m)
	}

	lay := buildLayout(pages)
	for i, h := range lay.headers {
		if h.section != paper.SectionAbstract {
			continue
		}
		end := len(lay.text)
		if i+1 < len(lay.headers) {
			end = lay.headers[i+1].offset
		}
		body := strings.TrimSpace(lay.text[h.offset+len(h.text) : end])
		meta.Abstract = truncateRunes(paper.NormalizeSpace(body), maxAbstractLen)
		break
	}
	return meta
}

func extractTitle(page paper.Page) string {
	if len(page.Runs) > 0 {
		best := ""
		bestSize := 0.0
		for _, r := range page.Runs {
			t := strings.TrimSpace(r.Text)
			if t == "" || len(t) > maxTitleLen {
				continue
			}
			if r.FontSize > bestSize {
				best, bestSize = t, r.FontSize
			}
		}
		if best != "" {
			return best
		}
	}
	for _, line := range strings.Split(pageText(page), "\n") {
		t := strings.TrimSpace(line)
		if t != "" && len(t) <= maxTitleLen {
			return t
		}
	}
	return ""
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
