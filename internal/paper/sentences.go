package paper

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Span is a half-open byte range [Start, End) into a text.
type Span struct {
	Start int
	End   int
}

// Len returns the span length in bytes.
func (s Span) Len() int { return s.End - s.Start }

// abbreviations never end a sentence when followed by a period.
var abbreviations = map[string]bool{
	"al": true, "approx": true, "cf": true, "ch": true, "dr": true, "eq": true,
	"eqs": true, "fig": true, "figs": true, "mr": true, "mrs": true, "ms": true,
	"no": true, "nos": true, "pp": true, "prof": true, "ref": true, "refs": true,
	"resp": true, "sec": true, "sect": true, "tab": true, "vol": true, "vs": true,
	"st": true, "jr": true, "sr": true,
}

// SplitSentences splits text into sentence spans.
//
// A boundary follows '.', '?' or '!' (plus any closing quotes or brackets) when the
// next non-space character is an upper-case letter or an opening quote. A period
// after a single-letter initial, a dotted abbreviation such as "e.g." or a word in
// the abbreviation table does not end a sentence. Returned spans are trimmed of
// surrounding whitespace and never empty.
func SplitSentences(text string) []Span {
	var spans []Span
	start := 0

	for i := 0; i < len(text); i++ {
		c := text[i]
		if c != '.' && c != '?' && c != '!' {
			continue
		}

		j := i + 1
		for j < len(text) && strings.IndexByte(".?!\"')]", text[j]) >= 0 {
			j++
		}
		k := j
		for k < len(text) && isSpaceByte(text[k]) {
			k++
		}
		if k == j || k >= len(text) {
			continue
		}

		next, _ := utf8.DecodeRuneInString(text[k:])
		if !unicode.IsUpper(next) && next != '"' && next != '“' {
			continue
		}
		if c == '.' && endsWithAbbreviation(text[start:i]) {
			continue
		}

		if sp, ok := trimSpan(text, Span{Start: start, End: j}); ok {
			spans = append(spans, sp)
		}
		start = k
		i = k - 1
	}

	if sp, ok := trimSpan(text, Span{Start: start, End: len(text)}); ok {
		spans = append(spans, sp)
	}
	return spans
}

// endsWithAbbreviation inspects the word immediately before a period.
func endsWithAbbreviation(prefix string) bool {
	end := len(prefix)
	begin := end
	for begin > 0 {
		r, size := utf8.DecodeLastRuneInString(prefix[:begin])
		if !unicode.IsLetter(r) && r != '.' {
			break
		}
		begin -= size
	}
	word := prefix[begin:end]
	if word == "" {
		return false
	}

	// Single-letter initial: "J. Smith".
	if r, size := utf8.DecodeRuneInString(word); size == len(word) && unicode.IsUpper(r) {
		return true
	}
	// Dotted forms: "e.g", "i.e", "U.S".
	if strings.Contains(word, ".") {
		return true
	}
	return abbreviations[strings.ToLower(word)]
}

func trimSpan(text string, sp Span) (Span, bool) {
	for sp.Start < sp.End && isSpaceByte(text[sp.Start]) {
		sp.Start++
	}
	for sp.End > sp.Start && isSpaceByte(text[sp.End-1]) {
		sp.End--
	}
	return sp, sp.End > sp.Start
}

func isSpaceByte(b byte) bool {
	return b == ' ' || b == '\n' || b == '\t' || b == '\r' || b == '\f' || b == '\v'
}

// NormalizeSpace collapses every whitespace run to a single space.
func NormalizeSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// Sentences returns the normalized sentence strings of text.
func Sentences(text string) []string {
	spans := SplitSentences(text)
	out := make([]string, 0, len(spans))
	for _, sp := range spans {
		out = append(out, NormalizeSpace(text[sp.Start:sp.End]))
	}
	return out
}
