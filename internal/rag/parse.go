package rag

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// parseTier names the parser in the fallback chain that accepted a model reply.
type parseTier string

const (
	tierStrict parseTier = "strict"
	tierFenced parseTier = "fenced"
	tierBraces parseTier = "braces"
	tierRaw    parseTier = "raw"
)

var (
	fencedBlock   = regexp.MustCompile("(?s)```(?:json|JSON)?[ \t]*\n?(.*?)```")
	handlePattern = regexp.MustCompile(`(?i)\bc(\d+)\b`)
)

// decodeLenient decodes raw into T, trying in order: the whole reply, each fenced code
// block, then each brace-balanced object in the text. valid rejects decodes that parsed
// but lack required fields.
func decodeLenient[T any](raw string, valid func(T) bool) (T, parseTier, bool) {
	if v, ok := decodeStrict(raw, valid); ok {
		return v, tierStrict, true
	}
	if v, ok := decodeFenced(raw, valid); ok {
		return v, tierFenced, true
	}
	if v, ok := decodeBraces(raw, valid); ok {
		return v, tierBraces, true
	}
	var zero T
	return zero, tierRaw, false
}

func decodeStrict[T any](raw string, valid func(T) bool) (T, bool) {
	var v T
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &v); err != nil {
		return v, false
	}
	return v, valid(v)
}

func decodeFenced[T any](raw string, valid func(T) bool) (T, bool) {
	for _, m := range fencedBlock.FindAllStringSubmatch(raw, -1) {
		if v, ok := decodeStrict(m[1], valid); ok {
			return v, true
		}
	}
	var zero T
	return zero, false
}

func decodeBraces[T any](raw string, valid func(T) bool) (T, bool) {
	for from := 0; from < len(raw); {
		obj, end, ok := nextObject(raw, from)
		if !ok {
			break
		}
		if v, ok := decodeStrict(obj, valid); ok {
			return v, true
		}
		from = end
	}
	var zero T
	return zero, false
}

// nextObject finds the first brace-balanced {...} span at or after from, honoring JSON
// string quoting. end is the offset just past the opening brace so callers can resume
// the scan inside a rejected object.
func nextObject(s string, from int) (obj string, end int, ok bool) {
	for start := strings.IndexByte(s[from:], '{'); start >= 0; {
		start += from
		depth := 0
		inString, escaped := false, false
		for i := start; i < len(s); i++ {
			c := s[i]
			switch {
			case escaped:
				escaped = false
			case inString && c == '\\':
				escaped = true
			case c == '"':
				inString = !inString
			case inString:
			case c == '{':
				depth++
			case c == '}':
				depth--
				if depth == 0 {
					return s[start : i+1], start + 1, true
				}
			}
		}
		// Unbalanced from this brace; try the next one.
		from = start + 1
		start = strings.IndexByte(s[from:], '{')
	}
	return "", len(s), false
}

// draftReply is the expected shape of a draft answer.
type draftReply struct {
	Answer    string `json:"answer"`
	Citations []any  `json:"citations"`
}

// checkReply is the expected shape of a grounding check.
type checkReply struct {
	Supported   *float64 `json:"supported"`
	Total       *float64 `json:"total"`
	Unsupported []checkSpan `json:"unsupported"`
}

// parseDraft extracts the answer text and the cited handles, keeping only handles that
// name one of n evidence passages, in first-mention order.
func parseDraft(raw string, n int) (string, []string, parseTier) {
	reply, tier, ok := decodeLenient(raw, func(r draftReply) bool {
		return strings.TrimSpace(r.Answer) != ""
	})
	if !ok {
		answer := strings.TrimSpace(raw)
		return answer, recoverHandles(answer, n), tierRaw
	}

	var handles []string
	for _, c := range reply.Citations {
		switch v := c.(type) {
		case string:
			handles = append(handles, recoverHandles(v, n)...)
			if num, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
				handles = append(handles, validHandle(num, n)...)
			}
		case float64:
			handles = append(handles, validHandle(int(v), n)...)
		}
	}
	if len(handles) == 0 {
		handles = recoverHandles(reply.Answer, n)
	}
	return strings.TrimSpace(reply.Answer), uniqueHandles(handles), tier
}

// checkSpan accepts an unsupported span either as {"text", "reason"} or as a bare string.
// Any other JSON value decodes to an empty span.
type checkSpan UnsupportedSpan

func (c *checkSpan) UnmarshalJSON(data []byte) error {
	var text string
	if err := json.Unmarshal(data, &text); err == nil {
		*c = checkSpan{Text: text}
		return nil
	}
	var obj struct {
		Text     string `json:"text"`
		Sentence string `json:"sentence"`
		Reason   string `json:"reason"`
	}
	if err := json.Unmarshal(data, &obj); err == nil {
		if obj.Text == "" {
			obj.Text = obj.Sentence
		}
		*c = checkSpan{Text: obj.Text, Reason: obj.Reason}
		return nil
	}
	*c = checkSpan{}
	return nil
}

func toUnsupportedSpans(in []checkSpan) []UnsupportedSpan {
	out := make([]UnsupportedSpan, 0, len(in))
	for _, c := range in {
		text := strings.TrimSpace(c.Text)
		if text == "" {
			continue
		}
		out = append(out, UnsupportedSpan{Text: text, Reason: strings.TrimSpace(c.Reason)})
	}
	return out
}

// parseCheck returns the supported fraction in [0,1] and the unsupported spans.
func parseCheck(raw string) (float64, []UnsupportedSpan, bool) {
	reply, _, ok := decodeLenient(raw, func(r checkReply) bool {
		return r.Supported != nil && r.Total != nil && *r.Total > 0 && *r.Supported >= 0
	})
	if !ok {
		return 0, nil, false
	}
	return clamp01(*reply.Supported / *reply.Total), toUnsupportedSpans(reply.Unsupported), true
}

// recoverHandles scans free text for c<N> handles.
func recoverHandles(text string, n int) []string {
	var out []string
	for _, m := range handlePattern.FindAllStringSubmatch(text, -1) {
		num, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		out = append(out, validHandle(num, n)...)
	}
	return uniqueHandles(out)
}

func validHandle(num, n int) []string {
	if num < 1 || num > n {
		return nil
	}
	return []string{handleFor(num - 1)}
}

func handleFor(i int) string {
	return fmt.Sprintf("c%d", i+1)
}

func uniqueHandles(hs []string) []string {
	seen := make(map[string]bool, len(hs))
	out := make([]string, 0, len(hs))
	for _, h := range hs {
		if !seen[h] {
			seen[h] = true
			out = append(out, h)
		}
	}
	return out
}

func clamp01(x float64) float64 {
	switch {
	case x < 0:
		return 0
	case x > 1:
		return 1
	}
	return x
}
