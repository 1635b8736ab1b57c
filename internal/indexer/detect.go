package indexer

import (
	"math"
	"regexp"

	"paperqa/internal/paper"
)

var (
	citationPatterns = []*regexp.Regexp{
		regexp.MustCompile(`\[\d+\]`),
		regexp.MustCompile(`\[[\d,\s]+\]`),
		regexp.MustCompile(`\([A-Z][a-z]+\s+et\s+al\.,?\s+\d{4}\)`),
		regexp.MustCompile(`\([A-Z][a-z]+\s+and\s+[A-Z][a-z]+,?\s+\d{4}\)`),
	}
	equationPatterns = []*regexp.Regexp{
		regexp.MustCompile(`[∑∏∫∂∇α-ωΑ-Ω]`),
		regexp.MustCompile(`\$[^$]+\$`),
		regexp.MustCompile(`\\[a-zA-Z]+\{`),
	}
	tablePattern     = regexp.MustCompile(`(?i)\btable\s+\d+`)
	figurePattern    = regexp.MustCompile(`(?i)\bfig(?:ure)?\.?\s+\d+`)
	numberPattern    = regexp.MustCompile(`\b\d+(?:\.\d+)?%?`)
	technicalPattern = regexp.MustCompile(`\b[A-Z][a-z]*[A-Z]\w+\b`)
)

// Density weights per detector. Citations weigh the most.
const (
	weightCitation  = 0.3
	weightEquation  = 0.2
	weightNumbers   = 0.1
	weightTable     = 0.15
	weightFigure    = 0.15
	weightTechTerm  = 0.02
	maxTechTermGain = 0.1
)

func matchesAny(patterns []*regexp.Regexp, text string) bool {
	for _, p := range patterns {
		if p.MatchString(text) {
			return true
		}
	}
	return false
}

// detectContent tags a passage with content flags and derives its semantic density in [0,1].
func detectContent(text string) (paper.Flags, float64) {
	flags := paper.Flags{
		Citation:  matchesAny(citationPatterns, text),
		Equation:  matchesAny(equationPatterns, text),
		TableRef:  tablePattern.MatchString(text),
		FigureRef: figurePattern.MatchString(text),
	}

	density := 0.0
	if flags.Citation {
		density += weightCitation
	}
	if flags.Equation {
		density += weightEquation
	}
	if numberPattern.MatchString(text) {
		density += weightNumbers
	}
	if flags.TableRef {
		density += weightTable
	}
	if flags.FigureRef {
		density += weightFigure
	}
	terms := len(technicalPattern.FindAllString(text, -1))
	density += math.Min(maxTechTermGain, float64(terms)*weightTechTerm)

	return flags, math.Min(1.0, density)
}
