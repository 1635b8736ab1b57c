package indexer

import (
	"context"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"paperqa/internal/contextutil"
	"paperqa/internal/paper"
)

const (
	// headerFontRatio is how much larger than the document average a run must be to count as a header.
	headerFontRatio = 1.2
	minHeaderLen    = 3
	maxHeaderLen    = 100
	maxHeaderWords  = 8
	pageSeparator   = "\n\n"
)

var numberedHeading = regexp.MustCompile(`^\d+(?:\.\d+)*\.?\s+[A-Z]`)

// PaperChunker splits extracted paper pages into section-aware passages.
type PaperChunker struct {
	opts ChunkerOptions
}

// NewPaperChunker creates a chunker. Invalid sizes fall back to the defaults.
func NewPaperChunker(opts ChunkerOptions) *PaperChunker {
	def := DefaultChunkerOptions()
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = def.ChunkSize
	}
	if opts.Overlap < 0 {
		opts.Overlap = 0
	}
	if opts.Overlap >= opts.ChunkSize {
		opts.Overlap = opts.ChunkSize / 4
	}
	if opts.MinChunkSize < 0 {
		opts.MinChunkSize = 0
	}
	return &PaperChunker{opts: opts}
}

// Options returns the effective options.
func (c *PaperChunker) Options() ChunkerOptions {
	return c.opts
}

// header is a detected section header located in the concatenated text.
type header struct {
	offset  int
	text    string
	section paper.SectionType
}

// pageStart maps a byte offset in the concatenated text to a page number.
type pageStart struct {
	offset int
	number int
}

// layout is the concatenated document with its page and header maps.
type layout struct {
	text    string
	pages   []pageStart
	headers []header
}

// sentence is one unit of accumulation.
type sentence struct {
	text    string
	length  int // runes
	page    int
	section int // index into layout.headers, -1 before the first header
}

// Chunk turns pages into ordered passages. DocumentID is left empty for the caller to set.
// An empty or blank input yields zero passages.
func (c *PaperChunker) Chunk(ctx context.Context, pages []paper.Page) []paper.Passage {
	logger := contextutil.LoggerFromContext(ctx).With("component", "chunker")

	lay := buildLayout(pages)
	if strings.TrimSpace(lay.text) == "" {
		logger.DebugContext(ctx, "no text to chunk", "pages", len(pages))
		return nil
	}

	sentences := c.sentences(lay)
	passages := c.accumulate(lay, sentences)

	logger.DebugContext(ctx, "chunked document",
		"pages", len(pages),
		"headers", len(lay.headers),
		"sentences", len(sentences),
		"passages", len(passages),
	)
	return passages
}

// buildLayout concatenates page texts, recording page offsets and headers.
// Pages with runs use font metadata; pages without fall back to line heuristics.
func buildLayout(pages []paper.Page) layout {
	avgFont := averageFontSize(pages)

	var b strings.Builder
	var lay layout
	for _, page := range pages {
		text := pageText(page)
		if strings.TrimSpace(text) == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString(pageSeparator)
		}
		base := b.Len()
		lay.pages = append(lay.pages, pageStart{offset: base, number: page.Number})

		if len(page.Runs) > 0 {
			for _, run := range page.Runs {
				t := strings.TrimSpace(run.Text)
				if t == "" {
					continue
				}
				if b.Len() > base {
					b.WriteByte('\n')
				}
				if isHeaderRun(run, t, avgFont) {
					lay.headers = append(lay.headers, header{offset: b.Len(), text: t, section: paper.ClassifyHeader(t)})
				}
				b.WriteString(t)
			}
			continue
		}

		offset := 0
		for _, line := range strings.SplitAfter(text, "\n") {
			t := strings.TrimSpace(line)
			if t != "" && isHeaderLine(t) {
				lead := strings.Index(line, t)
				lay.headers = append(lay.headers, header{offset: base + offset + lead, text: t, section: paper.ClassifyHeader(t)})
			}
			offset += len(line)
		}
		b.WriteString(text)
	}
	lay.text = b.String()
	return lay
}

func pageText(page paper.Page) string {
	if len(page.Runs) == 0 {
		return page.Text
	}
	parts := make([]string, 0, len(page.Runs))
	for _, r := range page.Runs {
		parts = append(parts, r.Text)
	}
	return strings.Join(parts, "\n")
}

func averageFontSize(pages []paper.Page) float64 {
	var sum float64
	var n int
	for _, page := range pages {
		for _, r := range page.Runs {
			if r.FontSize > 0 && strings.TrimSpace(r.Text) != "" {
				sum += r.FontSize
				n++
			}
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

func headerShaped(t string) bool {
	return len(t) > minHeaderLen && len(t) < maxHeaderLen
}

func looksNumbered(t string) bool {
	return numberedHeading.MatchString(t) &&
		len(strings.Fields(t)) <= maxHeaderWords &&
		!strings.HasSuffix(t, ".")
}

func isHeaderRun(run paper.TextRun, t string, avgFont float64) bool {
	if !headerShaped(t) {
		return false
	}
	if avgFont > 0 && run.FontSize > avgFont*headerFontRatio {
		return true
	}
	if run.Bold && paper.IsSectionKeyword(t) {
		return true
	}
	return looksNumbered(t)
}

// isHeaderLine is the regex-only heuristic for pages without font metadata.
func isHeaderLine(t string) bool {
	if !headerShaped(t) {
		return false
	}
	return paper.IsSectionKeyword(t) || looksNumbered(t)
}

// sentences splits the layout text into sentences, forcing a boundary at every header
// and hard-splitting any sentence longer than the chunk budget.
func (c *PaperChunker) sentences(lay layout) []sentence {
	spans := paper.SplitSentences(lay.text)
	spans = splitAtOffsets(lay.text, spans, headerOffsets(lay.headers))

	out := make([]sentence, 0, len(spans))
	for _, sp := range spans {
		text := paper.NormalizeSpace(lay.text[sp.Start:sp.End])
		if text == "" {
			continue
		}
		page := lay.pageAt(sp.Start)
		section := lay.headerAt(sp.Start)
		for _, piece := range hardSplit(text, c.opts.ChunkSize) {
			out = append(out, sentence{
				text:    piece,
				length:  utf8.RuneCountInString(piece),
				page:    page,
				section: section,
			})
		}
	}
	return out
}

func headerOffsets(headers []header) []int {
	offsets := make([]int, 0, len(headers))
	for _, h := range headers {
		offsets = append(offsets, h.offset)
	}
	return offsets
}

// splitAtOffsets cuts spans at the given offsets. Offsets must be ascending.
func splitAtOffsets(text string, spans []paper.Span, offsets []int) []paper.Span {
	if len(offsets) == 0 {
		return spans
	}
	out := make([]paper.Span, 0, len(spans)+len(offsets))
	for _, sp := range spans {
		start := sp.Start
		for _, off := range offsets {
			if off <= start || off >= sp.End {
				continue
			}
			if piece := strings.TrimSpace(text[start:off]); piece != "" {
				out = append(out, paper.Span{Start: start, End: off})
			}
			start = off
		}
		out = append(out, paper.Span{Start: start, End: sp.End})
	}
	return out
}

// hardSplit breaks text longer than limit runes at word boundaries.
func hardSplit(text string, limit int) []string {
	if limit <= 0 || utf8.RuneCountInString(text) <= limit {
		return []string{text}
	}
	var pieces []string
	var cur strings.Builder
	curLen := 0
	for _, word := range strings.Fields(text) {
		wl := utf8.RuneCountInString(word)
		for wl > limit {
			if curLen > 0 {
				pieces = append(pieces, cur.String())
				cur.Reset()
				curLen = 0
			}
			r := []rune(word)
			pieces = append(pieces, string(r[:limit]))
			word = string(r[limit:])
			wl = len(r) - limit
		}
		if wl == 0 {
			continue
		}
		if curLen > 0 && curLen+1+wl > limit {
			pieces = append(pieces, cur.String())
			cur.Reset()
			curLen = 0
		}
		if curLen > 0 {
			cur.WriteByte(' ')
			curLen++
		}
		cur.WriteString(word)
		curLen += wl
	}
	if curLen > 0 {
		pieces = append(pieces, cur.String())
	}
	return pieces
}

func (l layout) pageAt(offset int) int {
	i := sort.Search(len(l.pages), func(i int) bool { return l.pages[i].offset > offset })
	if i == 0 {
		if len(l.pages) == 0 {
			return 0
		}
		return l.pages[0].number
	}
	return l.pages[i-1].number
}

func (l layout) headerAt(offset int) int {
	i := sort.Search(len(l.headers), func(i int) bool { return l.headers[i].offset > offset })
	return i - 1
}

// accumulate greedily packs sentences into passages.
func (c *PaperChunker) accumulate(lay layout, sentences []sentence) []paper.Passage {
	var (
		passages []paper.Passage
		cur      []sentence
		curLen   int
		fresh    int // index in cur of the first sentence not carried over as overlap
	)

	emit := func() {
		texts := make([]string, len(cur))
		for i, s := range cur {
			texts[i] = s.text
		}
		owner := cur[fresh]
		passages = append(passages, c.newPassage(lay, strings.Join(texts, " "), owner, len(passages)))
	}

	for _, s := range sentences {
		if len(cur) > fresh {
			sectionChange := c.opts.RespectSections && s.section != cur[fresh].section
			tooLong := curLen+1+s.length > c.opts.ChunkSize
			if sectionChange || tooLong {
				emit()
				if !sectionChange && c.opts.Overlap > 0 {
					cur = overlapTail(cur, c.opts.Overlap, c.opts.ChunkSize-s.length-1)
				} else {
					cur = nil
				}
				fresh = len(cur)
				curLen = joinedLen(cur)
			}
		}
		if len(cur) > 0 {
			curLen++
		}
		cur = append(cur, s)
		curLen += s.length
	}
	if len(cur) > fresh {
		emit()
	}

	if len(passages) > 1 {
		last := passages[len(passages)-1]
		if utf8.RuneCountInString(last.Text) < c.opts.MinChunkSize {
			passages = passages[:len(passages)-1]
		}
	}
	return passages
}

func joinedLen(ss []sentence) int {
	if len(ss) == 0 {
		return 0
	}
	n := len(ss) - 1
	for _, s := range ss {
		n += s.length
	}
	return n
}

// overlapTail returns the longest run of trailing sentences whose joined length fits
// both the overlap budget and the room left for the next sentence.
func overlapTail(cur []sentence, budget, room int) []sentence {
	limit := budget
	if room < limit {
		limit = room
	}
	if limit <= 0 {
		return nil
	}
	n := 0
	total := 0
	for i := len(cur) - 1; i >= 0; i-- {
		add := cur[i].length
		if n > 0 {
			add++
		}
		if total+add > limit {
			break
		}
		total += add
		n++
	}
	if n == 0 {
		return nil
	}
	tail := make([]sentence, n)
	copy(tail, cur[len(cur)-n:])
	return tail
}

func (c *PaperChunker) newPassage(lay layout, text string, owner sentence, index int) paper.Passage {
	p := paper.Passage{
		Text:        text,
		PageNumber:  owner.page,
		ChunkIndex:  index,
		SectionType: paper.SectionBody,
	}
	if owner.section >= 0 {
		h := lay.headers[owner.section]
		p.Section = h.text
		p.SectionType = h.section
	}
	p.Flags, p.SemanticDensity = detectContent(text)
	return p
}
