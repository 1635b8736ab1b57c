package rag

import (
	"strings"
	"unicode/utf8"

	"paperqa/internal/paper"
)

const dedupPrefixLen = 100

// dedupEvidence drops candidates whose first dedupPrefixLen characters repeat an earlier one.
func dedupEvidence(cands []Candidate) []Candidate {
	seen := make(map[string]bool, len(cands))
	out := make([]Candidate, 0, len(cands))
	for _, c := range cands {
		key := prefixRunes(strings.TrimSpace(c.Passage.Text), dedupPrefixLen)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, c)
	}
	return out
}

func prefixRunes(s string, n int) string {
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}

// compressEvidence fits candidates into budget characters. Whole passages are taken in
// order until one does not fit; that one is cut after its last sentence that fits and
// nothing follows it. A budget of zero or less disables compression.
func compressEvidence(cands []Candidate, budget int) []Evidence {
	out := make([]Evidence, 0, len(cands))
	if budget <= 0 {
		for _, c := range cands {
			out = append(out, Evidence{Candidate: c, Text: c.Passage.Text})
		}
		return out
	}

	remaining := budget
	for _, c := range cands {
		n := utf8.RuneCountInString(c.Passage.Text)
		if n <= remaining {
			out = append(out, Evidence{Candidate: c, Text: c.Passage.Text})
			remaining -= n
			continue
		}
		if partial := truncateAtSentence(c.Passage.Text, remaining); partial != "" {
			out = append(out, Evidence{Candidate: c, Text: partial, Truncated: true})
		}
		break
	}
	return out
}

// truncateAtSentence returns the longest run of leading whole sentences of text that fits
// in limit characters, or "" if not even the first sentence fits.
func truncateAtSentence(text string, limit int) string {
	end := 0
	for _, sp := range paper.SplitSentences(text) {
		if utf8.RuneCountInString(text[:sp.End]) > limit {
			break
		}
		end = sp.End
	}
	return strings.TrimSpace(text[:end])
}
