package rag

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"paperqa/internal/contextutil"
	"paperqa/internal/llm"
	"paperqa/internal/metrics"
	"paperqa/internal/paper"
	"paperqa/internal/vectorstore"
)

// Stage is a step of the answer pipeline.
type Stage string

const (
	StageRetrieve Stage = "retrieve"
	StageDraft    Stage = "draft"
	StageValidate Stage = "validate"
	StageDone     Stage = "done"
)

const (
	maxTopK = 20

	noCitationConfidence = 0.2
	neutralConfidence    = 0.5
)

var errEmptyDraft = errors.New("model returned an empty answer")

// Options tunes retrieval and generation.
type Options struct {
	TopK               int     // Evidence passages per answer
	CandidatePool      int     // Raw neighbors fetched before reranking and filtering
	EvidenceCharBudget int     // Character budget for evidence text; 0 disables compression
	ContextWindow      int     // Adjacent chunks added around each hit; 0 disables
	DraftTemperature   float32 // Sampling temperature of the draft call
	DraftMaxTokens     int
	CheckTemperature   float32 // Sampling temperature of the grounding check
	CheckMaxTokens     int
	UseCache           bool   // Allow cached completions
	PreferredProvider  string // Default provider when the query names none
}

// DefaultOptions returns the default pipeline options.
func DefaultOptions() Options {
	return Options{
		TopK:               5,
		CandidatePool:      20,
		EvidenceCharBudget: 6000,
		DraftTemperature:   0.2,
		DraftMaxTokens:     1024,
		CheckTemperature:   0,
		CheckMaxTokens:     512,
		UseCache:           true,
	}
}

// State is the record each stage transforms. Stages return a new State and never
// mutate the slices of the one they receive.
type State struct {
	Query        Query
	Stage        Stage
	Targets      []paper.SectionType
	Candidates   []Candidate
	Evidence     []Evidence
	RetrievalErr error
	Draft        string
	Cited        []string
	DraftParser  string
	DraftErr     error
	CheckErr     error
	CheckSkipped bool
	Confidence   float64
	Unsupported  []UnsupportedSpan
	Answer       Answer
}

// Pipeline runs RETRIEVE, DRAFT, VALIDATE and DONE over an index and a completer.
type Pipeline struct {
	index     vectorstore.Index
	reranker  *Reranker
	completer llm.Completer
	metrics   *metrics.Metrics
	opts      Options
}

// NewPipeline creates a pipeline. reranker may be nil to rank by similarity alone.
func NewPipeline(index vectorstore.Index, reranker *Reranker, completer llm.Completer, m *metrics.Metrics, opts Options) *Pipeline {
	def := DefaultOptions()
	if opts.TopK <= 0 {
		opts.TopK = def.TopK
	}
	if opts.CandidatePool <= 0 {
		opts.CandidatePool = def.CandidatePool
	}
	if opts.DraftMaxTokens <= 0 {
		opts.DraftMaxTokens = def.DraftMaxTokens
	}
	if opts.CheckMaxTokens <= 0 {
		opts.CheckMaxTokens = def.CheckMaxTokens
	}
	return &Pipeline{
		index:     index,
		reranker:  reranker,
		completer: completer,
		metrics:   m,
		opts:      opts,
	}
}

// Ask implements Engine.
func (p *Pipeline) Ask(ctx context.Context, q Query) (Answer, error) {
	logger := contextutil.LoggerFromContext(ctx).With("component", "answer_pipeline")

	q.Question = strings.TrimSpace(q.Question)
	if q.Question == "" {
		return Answer{}, ErrEmptyQuestion
	}

	logger.InfoContext(ctx, "answer pipeline started", "question_length", len(q.Question), "document_ids", q.DocumentIDs, "top_k", q.TopK)
	s := p.Run(ctx, q)

	outcome := "answered"
	switch {
	case s.Answer.Error != "":
		outcome = "error"
	case len(s.Evidence) == 0:
		outcome = "no_evidence"
	}
	p.metrics.ObserveQuery(outcome, s.Answer.Confidence, len(s.Evidence))

	logger.InfoContext(ctx, "answer pipeline completed",
		"outcome", outcome,
		"evidence", len(s.Evidence),
		"cited", len(s.Cited),
		"confidence", s.Answer.Confidence,
	)
	return s.Answer, nil
}

// Run executes the stages in order and returns the final state. Each stage names its
// successor; a stage that cannot produce input for the next one jumps to DONE.
func (p *Pipeline) Run(ctx context.Context, q Query) State {
	s := State{Query: q, Stage: StageRetrieve}

	stages := map[Stage]func(context.Context, State) State{
		StageRetrieve: p.retrieve,
		StageDraft:    p.draft,
		StageValidate: p.validate,
	}
	for i := 0; i < len(stages) && s.Stage != StageDone; i++ {
		name := s.Stage
		start := time.Now()
		s = stages[name](ctx, s)
		p.metrics.ObserveStage(string(name), time.Since(start))
	}
	return assemble(s)
}

func (p *Pipeline) topK(q Query) int {
	k := q.TopK
	if k <= 0 {
		k = p.opts.TopK
	}
	return min(k, maxTopK)
}

func (p *Pipeline) retrieve(ctx context.Context, s State) State {
	logger := contextutil.LoggerFromContext(ctx).With("component", "answer_pipeline", "stage", StageRetrieve)

	topK := p.topK(s.Query)
	pool := max(p.opts.CandidatePool, topK)
	s.Targets = DetectTargetSections(s.Query.Question)
	s.Stage = StageDone

	hits, err := p.index.Search(ctx, s.Query.Question, vectorstore.SearchOptions{
		TopK:          pool,
		DocumentIDs:   s.Query.DocumentIDs,
		CandidatePool: pool,
	})
	if err != nil {
		logger.ErrorContext(ctx, "index search failed", "error", err)
		s.RetrievalErr = err
		return s
	}
	if len(hits) == 0 {
		logger.InfoContext(ctx, "no candidates found")
		return s
	}

	cands := make([]Candidate, len(hits))
	for i, h := range hits {
		cands[i] = Candidate{Passage: h.Passage, Score: h.Score, RetrievalScore: h.Score, IsContext: h.IsContext}
	}

	if p.reranker != nil {
		reranked, err := p.reranker.Rerank(ctx, s.Query.Question, cands, 0)
		if err != nil {
			logger.WarnContext(ctx, "rerank failed, keeping similarity order", "error", err)
		} else {
			cands = reranked
		}
	}

	cands = ScoreBySection(cands, s.Targets)
	cands = DiversityFilter(cands, topK)
	if len(cands) > topK {
		cands = cands[:topK]
	}
	cands = p.withNeighbors(ctx, cands)
	cands = dedupEvidence(cands)

	evidence := compressEvidence(cands, p.opts.EvidenceCharBudget)
	for i := range evidence {
		evidence[i].Handle = handleFor(i)
	}

	logger.DebugContext(ctx, "retrieval completed",
		"hits", len(hits),
		"candidates", len(cands),
		"evidence", len(evidence),
		"targets", s.Targets,
	)

	s.Candidates = cands
	s.Evidence = evidence
	if len(evidence) > 0 {
		s.Stage = StageDraft
	}
	return s
}

// withNeighbors appends adjacent passages of each candidate when the index supports it.
func (p *Pipeline) withNeighbors(ctx context.Context, cands []Candidate) []Candidate {
	lister, ok := p.index.(vectorstore.NeighborLister)
	if !ok || p.opts.ContextWindow <= 0 {
		return cands
	}

	seen := make(map[string]bool, len(cands))
	for _, c := range cands {
		seen[vectorstore.PassageID(c.Passage.DocumentID, c.Passage.ChunkIndex)] = true
	}
	out := append([]Candidate(nil), cands...)
	for _, c := range cands {
		hit := vectorstore.Hit{Row: -1, Passage: c.Passage, Score: c.Score}
		for _, n := range lister.Neighbors(ctx, hit, p.opts.ContextWindow) {
			id := n.Handle()
			if seen[id] {
				continue
			}
			seen[id] = true
			out = append(out, Candidate{
				Passage:        n.Passage,
				Score:          n.Score,
				RetrievalScore: n.Score,
				Match:          MatchNone,
				IsContext:      true,
			})
		}
	}
	return out
}

func (p *Pipeline) completionOptions(q Query, temperature float32, maxTokens int) llm.CompletionOptions {
	provider := q.PreferredProvider
	if provider == "" {
		provider = p.opts.PreferredProvider
	}
	return llm.CompletionOptions{
		Temperature:       temperature,
		MaxTokens:         maxTokens,
		PreferredProvider: provider,
		UseCache:          p.opts.UseCache,
	}
}

func (p *Pipeline) draft(ctx context.Context, s State) State {
	logger := contextutil.LoggerFromContext(ctx).With("component", "answer_pipeline", "stage", StageDraft)

	raw, err := p.completer.Complete(ctx, draftMessages(s.Query.Question, s.Evidence),
		p.completionOptions(s.Query, p.opts.DraftTemperature, p.opts.DraftMaxTokens))
	if err == nil && strings.TrimSpace(raw) == "" {
		err = errEmptyDraft
	}
	if err != nil {
		logger.ErrorContext(ctx, "draft generation failed", "error", err)
		s.DraftErr = err
		s.Stage = StageDone
		return s
	}

	answer, cited, tier := parseDraft(raw, len(s.Evidence))
	logger.DebugContext(ctx, "draft parsed", "parser", tier, "cited", cited, "answer_length", len(answer))

	s.Draft = answer
	s.Cited = cited
	s.DraftParser = string(tier)
	s.Stage = StageValidate
	return s
}

func (p *Pipeline) validate(ctx context.Context, s State) State {
	logger := contextutil.LoggerFromContext(ctx).With("component", "answer_pipeline", "stage", StageValidate)
	s.Stage = StageDone

	if len(s.Cited) == 0 {
		s.CheckSkipped = true
		s.Confidence = noCitationConfidence
		return s
	}

	raw, err := p.completer.Complete(ctx, checkMessages(s.Draft, citedEvidence(s.Evidence, s.Cited)),
		p.completionOptions(s.Query, p.opts.CheckTemperature, p.opts.CheckMaxTokens))
	if err != nil {
		logger.WarnContext(ctx, "grounding check failed, using neutral confidence", "error", err)
		s.CheckErr = err
		s.Confidence = neutralConfidence
		return s
	}

	conf, unsupported, ok := parseCheck(raw)
	if !ok {
		logger.WarnContext(ctx, "grounding check unparseable, using neutral confidence")
		s.CheckErr = fmt.Errorf("unparseable grounding check reply")
		s.Confidence = neutralConfidence
		return s
	}
	s.Confidence = conf
	s.Unsupported = unsupported
	return s
}

func citedEvidence(ev []Evidence, handles []string) []Evidence {
	byHandle := make(map[string]Evidence, len(ev))
	for _, e := range ev {
		byHandle[e.Handle] = e
	}
	out := make([]Evidence, 0, len(handles))
	for _, h := range handles {
		if e, ok := byHandle[h]; ok {
			out = append(out, e)
		}
	}
	return out
}

// assemble builds the final Answer from the state.
func assemble(s State) State {
	a := Answer{
		Question:         s.Query.Question,
		Citations:        []CitedEvidence{},
		UnsupportedSpans: []UnsupportedSpan{},
		EvidenceCount:    len(s.Evidence),
	}
	for _, t := range s.Targets {
		a.TargetSections = append(a.TargetSections, string(t))
	}

	switch {
	case len(s.Evidence) == 0:
		a.Answer = NoEvidenceAnswer
		a.Confidence = 0
		if s.RetrievalErr != nil {
			a.Error = fmt.Sprintf("retrieval failed: %v", s.RetrievalErr)
		}
	case s.DraftErr != nil:
		a.Answer = ""
		a.Confidence = 0
		a.Error = fmt.Sprintf("generation failed: %v", s.DraftErr)
	default:
		a.Answer = s.Draft
		a.Confidence = clamp01(s.Confidence)
		for _, e := range citedEvidence(s.Evidence, s.Cited) {
			p := e.Candidate.Passage
			a.Citations = append(a.Citations, CitedEvidence{
				Handle:     e.Handle,
				DocumentID: p.DocumentID,
				Title:      p.Title,
				Text:       p.Text,
				Score:      e.Candidate.Score,
				PageNumber: p.PageNumber,
				ChunkIndex: p.ChunkIndex,
				Section:    p.SectionType,
			})
		}
		if len(a.Citations) == 0 {
			a.Confidence = min(a.Confidence, noCitationConfidence)
		}
		if s.Unsupported != nil {
			a.UnsupportedSpans = s.Unsupported
		}
	}

	s.Stage = StageDone
	s.Answer = a
	return s
}
