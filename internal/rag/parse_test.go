package rag

import (
	"reflect"
	"testing"
)

func TestParseDraft(t *testing.T) {
	tests := []struct {
		name       string
		raw        string
		n          int
		wantAnswer string
		wantCited  []string
		wantTier   parseTier
	}{
		{
			name:       "strict json",
			raw:        `{"answer": "Accuracy was 95% [c2].", "citations": ["c2"]}`,
			n:          3,
			wantAnswer: "Accuracy was 95% [c2].",
			wantCited:  []string{"c2"},
			wantTier:   tierStrict,
		},
		{
			name:       "fenced block",
			raw:        "Here you go:\n```json\n{\"answer\": \"It uses attention [c1].\", \"citations\": [\"c1\"]}\n```\nThanks.",
			n:          2,
			wantAnswer: "It uses attention [c1].",
			wantCited:  []string{"c1"},
			wantTier:   tierFenced,
		},
		{
			name:       "fence without language tag",
			raw:        "```\n{\"answer\": \"Yes [c1].\", \"citations\": [\"c1\"]}\n```",
			n:          1,
			wantAnswer: "Yes [c1].",
			wantCited:  []string{"c1"},
			wantTier:   tierFenced,
		},
		{
			name:       "brace scan skips braces inside strings",
			raw:        `Sure! {"answer": "The set {a, b} is used [c3].", "citations": ["c3", "c1"]} Hope that helps.`,
			n:          3,
			wantAnswer: "The set {a, b} is used [c3].",
			wantCited:  []string{"c3", "c1"},
			wantTier:   tierBraces,
		},
		{
			name:       "brace scan passes over an invalid object",
			raw:        `{"note": "thinking"} then {"answer": "Done [c1].", "citations": []}`,
			n:          1,
			wantAnswer: "Done [c1].",
			wantCited:  []string{"c1"},
			wantTier:   tierBraces,
		},
		{
			name:       "numeric and bracketed citations",
			raw:        `{"answer": "Two sources agree.", "citations": [1, "[c2]", "3"]}`,
			n:          3,
			wantAnswer: "Two sources agree.",
			wantCited:  []string{"c1", "c2", "c3"},
			wantTier:   tierStrict,
		},
		{
			name:       "raw text with handle recovery",
			raw:        "The model reaches 95% accuracy [c2], beating the baseline (C1). See also c9.",
			n:          3,
			wantAnswer: "The model reaches 95% accuracy [c2], beating the baseline (C1). See also c9.",
			wantCited:  []string{"c2", "c1"},
			wantTier:   tierRaw,
		},
		{
			name:       "out of range handles dropped",
			raw:        `{"answer": "Claim.", "citations": ["c0", "c4", "c2", "c2"]}`,
			n:          3,
			wantAnswer: "Claim.",
			wantCited:  []string{"c2"},
			wantTier:   tierStrict,
		},
		{
			name:       "empty answer field falls back to raw",
			raw:        `{"answer": "", "citations": ["c1"]}`,
			n:          1,
			wantAnswer: `{"answer": "", "citations": ["c1"]}`,
			wantCited:  []string{"c1"},
			wantTier:   tierRaw,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			answer, cited, tier := parseDraft(tt.raw, tt.n)
			if answer != tt.wantAnswer {
				t.Errorf("answer = %q, want %q", answer, tt.wantAnswer)
			}
			if !reflect.DeepEqual(cited, tt.wantCited) {
				t.Errorf("cited = %v, want %v", cited, tt.wantCited)
			}
			if tier != tt.wantTier {
				t.Errorf("tier = %s, want %s", tier, tt.wantTier)
			}
		})
	}
}

func TestParseCheck(t *testing.T) {
	tests := []struct {
		name            string
		raw             string
		wantConf        float64
		wantUnsupported []UnsupportedSpan
		wantOK          bool
	}{
		{
			name:     "strict with reasons",
			raw:      `{"supported": 3, "total": 4, "unsupported": [{"text": "It is the best model.", "reason": "no passage compares models"}]}`,
			wantConf: 0.75,
			wantUnsupported: []UnsupportedSpan{
				{Text: "It is the best model.", Reason: "no passage compares models"},
			},
			wantOK: true,
		},
		{
			name:            "bare strings become spans without reason",
			raw:             `{"supported": 3, "total": 4, "unsupported": ["It is the best model."]}`,
			wantConf:        0.75,
			wantUnsupported: []UnsupportedSpan{{Text: "It is the best model."}},
			wantOK:          true,
		},
		{
			name:     "mixed forms, empty and odd entries dropped",
			raw:      `{"supported": 1, "total": 3, "unsupported": ["First claim.", {"sentence": "Second claim.", "reason": "not stated"}, 7, ""]}`,
			wantConf: 1.0 / 3,
			wantUnsupported: []UnsupportedSpan{
				{Text: "First claim."},
				{Text: "Second claim.", Reason: "not stated"},
			},
			wantOK: true,
		},
		{
			name:     "fenced",
			raw:      "```json\n{\"supported\": 2, \"total\": 2, \"unsupported\": []}\n```",
			wantConf: 1,
			wantOK:   true,
		},
		{
			name:     "over-reported support is clamped",
			raw:      `{"supported": 5, "total": 4}`,
			wantConf: 1,
			wantOK:   true,
		},
		{
			name:   "zero total",
			raw:    `{"supported": 0, "total": 0}`,
			wantOK: false,
		},
		{
			name:   "missing fields",
			raw:    `{"verdict": "fine"}`,
			wantOK: false,
		},
		{
			name:   "prose",
			raw:    "All sentences are supported.",
			wantOK: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conf, unsupported, ok := parseCheck(tt.raw)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if !ok {
				return
			}
			if conf != tt.wantConf {
				t.Errorf("confidence = %v, want %v", conf, tt.wantConf)
			}
			if len(tt.wantUnsupported) == 0 {
				if len(unsupported) != 0 {
					t.Errorf("unsupported = %v, want none", unsupported)
				}
				return
			}
			if !reflect.DeepEqual(unsupported, tt.wantUnsupported) {
				t.Errorf("unsupported = %+v, want %+v", unsupported, tt.wantUnsupported)
			}
		})
	}
}

func TestNextObject(t *testing.T) {
	tests := []struct {
		in     string
		want   string
		wantOK bool
	}{
		{`x {"a": {"b": 1}} y`, `{"a": {"b": 1}}`, true},
		{`{"a": "}"}`, `{"a": "}"}`, true},
		{`{"a": "\"}"}`, `{"a": "\"}"}`, true},
		{`{ unbalanced {"ok": 1}`, `{"ok": 1}`, true},
		{`no braces`, "", false},
	}
	for _, tt := range tests {
		got, _, ok := nextObject(tt.in, 0)
		if ok != tt.wantOK || got != tt.want {
			t.Errorf("nextObject(%q) = %q, %v, want %q, %v", tt.in, got, ok, tt.want, tt.wantOK)
		}
	}
}
