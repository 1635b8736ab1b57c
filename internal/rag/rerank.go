package rag

import (
	"context"
	"fmt"
	"math"
	"strings"
	"unicode"
)

// PairScorer returns one relevance logit per (query, text) pair, aligned with texts.
type PairScorer interface {
	ScorePairs(ctx context.Context, query string, texts []string) ([]float64, error)
}

// Reranker replaces retrieval scores with logistic-normalized pairwise scores.
type Reranker struct {
	scorer PairScorer
}

// NewReranker creates a reranker over scorer.
func NewReranker(scorer PairScorer) *Reranker {
	return &Reranker{scorer: scorer}
}

// Rerank scores every candidate against query, maps logits to [0,1], sorts descending and
// truncates to topN (0 keeps all). The raw retrieval score is kept on RetrievalScore.
func (r *Reranker) Rerank(ctx context.Context, query string, cands []Candidate, topN int) ([]Candidate, error) {
	if len(cands) == 0 {
		return nil, nil
	}

	texts := make([]string, len(cands))
	for i, c := range cands {
		texts[i] = c.Passage.Text
	}
	logits, err := r.scorer.ScorePairs(ctx, query, texts)
	if err != nil {
		return nil, fmt.Errorf("failed to score pairs: %w", err)
	}
	if len(logits) != len(cands) {
		return nil, fmt.Errorf("scorer returned %d scores for %d candidates", len(logits), len(cands))
	}

	out := make([]Candidate, len(cands))
	for i, c := range cands {
		c.RerankLogit = logits[i]
		c.Score = sigmoid(logits[i])
		c.Reranked = true
		out[i] = c
	}
	sortByScore(out)
	if topN > 0 && len(out) > topN {
		out = out[:topN]
	}
	return out, nil
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}

const (
	lexicalLengthScale = 10.0
	maxLexicalScore    = 0.4
	// Maps lexical scores in [0, maxLexicalScore] onto logits in [-2.5, 2.5].
	lexicalLogitScale  = 12.5
	lexicalLogitOffset = 2.5
)

var lexicalStopwords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {}, "be": {}, "but": {}, "by": {},
	"did": {}, "do": {}, "does": {}, "for": {}, "from": {}, "has": {}, "have": {}, "how": {},
	"in": {}, "is": {}, "it": {}, "of": {}, "on": {}, "or": {}, "the": {}, "this": {}, "to": {},
	"was": {}, "were": {}, "what": {}, "which": {}, "with": {},
}

// LexicalScorer is a PairScorer used when no cross-encoder is configured. It scores term
// overlap normalized by passage length.
type LexicalScorer struct{}

// ScorePairs implements PairScorer.
func (LexicalScorer) ScorePairs(_ context.Context, query string, texts []string) ([]float64, error) {
	out := make([]float64, len(texts))
	for i, t := range texts {
		out[i] = lexicalScore(query, t)*lexicalLogitScale - lexicalLogitOffset
	}
	return out, nil
}

// lexicalScore is in [0, maxLexicalScore].
func lexicalScore(query, text string) float64 {
	queryTokens := filterStopwords(tokenize(query))
	if len(queryTokens) == 0 {
		return 0
	}
	textTokens := tokenize(text)
	if len(textTokens) == 0 {
		return 0
	}

	freq := make(map[string]int, len(textTokens))
	for _, token := range textTokens {
		freq[token]++
	}
	var matches int
	for _, token := range queryTokens {
		matches += freq[token]
	}

	score := float64(matches) / (1 + float64(len(textTokens))) * lexicalLengthScale
	return math.Min(score, maxLexicalScore)
}

func tokenize(text string) []string {
	if text == "" {
		return nil
	}
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range strings.ToLower(text) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		} else {
			b.WriteRune(' ')
		}
	}
	return strings.Fields(b.String())
}

func filterStopwords(tokens []string) []string {
	out := tokens[:0:0]
	for _, token := range tokens {
		if _, stop := lexicalStopwords[token]; !stop {
			out = append(out, token)
		}
	}
	return out
}
