package paper

import (
	"regexp"
	"strings"
)

// SectionType is the canonical section a passage belongs to.
type SectionType string

const (
	SectionAbstract     SectionType = "abstract"
	SectionIntroduction SectionType = "introduction"
	SectionRelatedWork  SectionType = "related_work"
	SectionBackground   SectionType = "background"
	SectionMethodology  SectionType = "methodology"
	SectionExperiments  SectionType = "experiments"
	SectionResults      SectionType = "results"
	SectionDiscussion   SectionType = "discussion"
	SectionConclusion   SectionType = "conclusion"
	SectionFutureWork   SectionType = "future_work"
	SectionReferences   SectionType = "references"
	SectionAppendix     SectionType = "appendix"
	SectionBody         SectionType = "body"
)

// hierarchyEntry maps a header spelling to its canonical section.
// Order matters: substring matching walks the table top to bottom.
type hierarchyEntry struct {
	key     string
	section SectionType
}

var hierarchy = []hierarchyEntry{
	{"abstract", SectionAbstract},
	{"introduction", SectionIntroduction},
	{"related_work", SectionRelatedWork},
	{"background", SectionBackground},
	{"literature_review", SectionRelatedWork},
	{"methodology", SectionMethodology},
	{"methods", SectionMethodology},
	{"approach", SectionMethodology},
	{"experiments", SectionExperiments},
	{"experimental_setup", SectionExperiments},
	{"results", SectionResults},
	{"evaluation", SectionResults},
	{"discussion", SectionDiscussion},
	{"analysis", SectionDiscussion},
	{"conclusion", SectionConclusion},
	{"future_work", SectionFutureWork},
	{"references", SectionReferences},
	{"bibliography", SectionReferences},
	{"appendix", SectionAppendix},
}

// keywordFallbacks is consulted when neither an exact nor a substring match applies.
var keywordFallbacks = []struct {
	needles []string
	section SectionType
}{
	{[]string{"intro"}, SectionIntroduction},
	{[]string{"method", "approach"}, SectionMethodology},
	{[]string{"result", "finding"}, SectionResults},
	{[]string{"discuss"}, SectionDiscussion},
	{[]string{"conclusion", "concluding"}, SectionConclusion},
	{[]string{"related", "prior"}, SectionRelatedWork},
	{[]string{"experiment"}, SectionExperiments},
	{[]string{"reference", "bibliograph"}, SectionReferences},
}

var (
	leadingNumbering = regexp.MustCompile(`^(?:\d+(?:\.\d+)*\.?\s*|[IVXLC]+\.\s*|[IVXLC]+\s+)`)
	spaceRun         = regexp.MustCompile(`[\s\-]+`)
)

// normalizeHeader lower-cases a header, strips its numbering and joins words with underscores.
func normalizeHeader(text string) string {
	clean := strings.TrimSpace(text)
	clean = leadingNumbering.ReplaceAllString(clean, "")
	clean = strings.ToLower(strings.TrimSpace(clean))
	clean = strings.Trim(clean, ".:")
	return spaceRun.ReplaceAllString(clean, "_")
}

// ClassifyHeader maps header text to the nearest section in the hierarchy:
// exact match, then substring match, then keyword heuristics, else SectionBody.
func ClassifyHeader(text string) SectionType {
	clean := normalizeHeader(text)
	if clean == "" {
		return SectionBody
	}

	for _, e := range hierarchy {
		if clean == e.key {
			return e.section
		}
	}

	for _, e := range hierarchy {
		if strings.Contains(clean, e.key) || (len(clean) >= 4 && strings.Contains(e.key, clean)) {
			return e.section
		}
	}

	for _, fb := range keywordFallbacks {
		for _, n := range fb.needles {
			if strings.Contains(clean, n) {
				return fb.section
			}
		}
	}

	return SectionBody
}

// IsSectionKeyword reports whether text, once numbering is stripped, names a known section exactly.
func IsSectionKeyword(text string) bool {
	clean := normalizeHeader(text)
	for _, e := range hierarchy {
		if clean == e.key {
			return true
		}
	}
	return false
}

// Canonical maps an alias such as "methods" or "evaluation" onto its canonical section.
// Unknown names map to SectionBody.
func Canonical(name string) SectionType {
	clean := normalizeHeader(name)
	for _, e := range hierarchy {
		if clean == e.key {
			return e.section
		}
	}
	return SectionBody
}

// AllSections lists the canonical section types in document order.
func AllSections() []SectionType {
	return []SectionType{
		SectionAbstract, SectionIntroduction, SectionRelatedWork, SectionBackground,
		SectionMethodology, SectionExperiments, SectionResults, SectionDiscussion,
		SectionConclusion, SectionFutureWork, SectionReferences, SectionAppendix, SectionBody,
	}
}
