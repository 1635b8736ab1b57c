package rag

import (
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"paperqa/internal/paper"
)

const (
	exactSectionBoost   = 2.0
	relatedSectionBoost = 1.3

	// Candidates within this many chunk indices on the same page count as one location.
	diversityWindow = 3
	// The diversity filter stops once it holds this multiple of the requested count.
	diversityOversample = 3
)

// sectionGroups maps query keywords to the sections likely to answer them.
var sectionGroups = []struct {
	keywords []string
	sections []paper.SectionType
}{
	{
		keywords: []string{"result", "accuracy", "metric", "performance", "score", "outperform", "precision", "recall", "f1", "benchmark", "finding", "achiev"},
		sections: []paper.SectionType{paper.SectionResults, paper.SectionExperiments},
	},
	{
		keywords: []string{"method", "algorithm", "approach", "architecture", "technique", "procedure", "implement", "train", "model design"},
		sections: []paper.SectionType{paper.SectionMethodology, paper.SectionExperiments},
	},
	{
		keywords: []string{"background", "motivation", "problem", "challenge", "preliminar"},
		sections: []paper.SectionType{paper.SectionIntroduction, paper.SectionBackground},
	},
	{
		keywords: []string{"related work", "prior work", "previous work", "literature", "existing work", "compared to other"},
		sections: []paper.SectionType{paper.SectionRelatedWork, paper.SectionBackground},
	},
	{
		keywords: []string{"discuss", "limitation", "implication", "interpret", "weakness", "threat"},
		sections: []paper.SectionType{paper.SectionDiscussion, paper.SectionConclusion},
	},
	{
		keywords: []string{"conclu", "summary", "summar", "contribution", "future work", "takeaway"},
		sections: []paper.SectionType{paper.SectionConclusion, paper.SectionFutureWork, paper.SectionAbstract},
	},
	{
		keywords: []string{"dataset", "data set", "corpus", "corpora", "training data", "samples"},
		sections: []paper.SectionType{paper.SectionExperiments, paper.SectionMethodology},
	},
}

var defaultTargetSections = []paper.SectionType{
	paper.SectionIntroduction,
	paper.SectionMethodology,
	paper.SectionResults,
}

// relatedClusters are groups of sections that tend to carry overlapping content.
var relatedClusters = [][]paper.SectionType{
	{paper.SectionResults, paper.SectionExperiments, paper.SectionDiscussion},
	{paper.SectionMethodology, paper.SectionExperiments},
	{paper.SectionIntroduction, paper.SectionBackground, paper.SectionRelatedWork, paper.SectionAbstract},
	{paper.SectionDiscussion, paper.SectionConclusion, paper.SectionFutureWork},
	{paper.SectionAbstract, paper.SectionConclusion},
}

// DetectTargetSections returns the union of section groups whose keywords appear in the query,
// in table order, or introduction/methodology/results when nothing matches.
func DetectTargetSections(query string) []paper.SectionType {
	q := strings.ToLower(query)

	var out []paper.SectionType
	seen := make(map[paper.SectionType]bool)
	for _, g := range sectionGroups {
		if !containsAny(q, g.keywords) {
			continue
		}
		for _, s := range g.sections {
			if !seen[s] {
				seen[s] = true
				out = append(out, s)
			}
		}
	}
	if len(out) == 0 {
		return append([]paper.SectionType(nil), defaultTargetSections...)
	}
	return out
}

// containsAny reports whether any needle starts a word in s. Needles are word
// prefixes, so "achiev" matches "achieved" but "train" does not match "constraint".
func containsAny(s string, needles []string) bool {
	for _, n := range needles {
		if hasWordPrefix(s, n) {
			return true
		}
	}
	return false
}

func hasWordPrefix(s, prefix string) bool {
	for from := 0; from < len(s); {
		i := strings.Index(s[from:], prefix)
		if i < 0 {
			return false
		}
		i += from
		if i == 0 {
			return true
		}
		r, _ := utf8.DecodeLastRuneInString(s[:i])
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			return true
		}
		from = i + 1
	}
	return false
}

// classifyMatch reports how section relates to the targets.
func classifyMatch(section paper.SectionType, targets []paper.SectionType) SectionMatch {
	section = paper.Canonical(string(section))
	for _, t := range targets {
		if paper.Canonical(string(t)) == section {
			return MatchExact
		}
	}
	for _, cluster := range relatedClusters {
		if !clusterHas(cluster, section) {
			continue
		}
		for _, t := range targets {
			if clusterHas(cluster, paper.Canonical(string(t))) {
				return MatchRelated
			}
		}
	}
	return MatchNone
}

func clusterHas(cluster []paper.SectionType, s paper.SectionType) bool {
	for _, c := range cluster {
		if c == s {
			return true
		}
	}
	return false
}

// ScoreBySection boosts candidates whose section matches the targets and re-sorts by score.
// The input slice is not modified.
func ScoreBySection(cands []Candidate, targets []paper.SectionType) []Candidate {
	out := make([]Candidate, len(cands))
	for i, c := range cands {
		c.Match = classifyMatch(c.Passage.SectionType, targets)
		switch c.Match {
		case MatchExact:
			c.Score *= exactSectionBoost
		case MatchRelated:
			c.Score *= relatedSectionBoost
		}
		out[i] = c
	}
	sortByScore(out)
	return out
}

// locationKey groups candidates into buckets of diversityWindow adjacent chunks on one page.
type locationKey struct {
	documentID string
	page       int
	bucket     int
}

func locationOf(c Candidate) locationKey {
	return locationKey{
		documentID: c.Passage.DocumentID,
		page:       c.Passage.PageNumber,
		bucket:     c.Passage.ChunkIndex / diversityWindow,
	}
}

// DiversityFilter walks candidates in score order and keeps the first candidate of
// each (document, page, chunk_index / diversityWindow) bucket.
// It stops once diversityOversample*want candidates are kept.
func DiversityFilter(cands []Candidate, want int) []Candidate {
	limit := diversityOversample * want
	if want <= 0 {
		limit = len(cands)
	}

	taken := make(map[locationKey]bool)
	kept := make([]Candidate, 0, min(limit, len(cands)))
	for _, c := range cands {
		if len(kept) >= limit {
			break
		}
		loc := locationOf(c)
		if taken[loc] {
			continue
		}
		taken[loc] = true
		kept = append(kept, c)
	}
	return kept
}

func sortByScore(cands []Candidate) {
	sort.SliceStable(cands, func(i, j int) bool {
		return cands[i].Score > cands[j].Score
	})
}
