package extract

import (
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	east "github.com/yuin/goldmark/extension/ast"
	"github.com/yuin/goldmark/text"

	"paperqa/internal/paper"
)

// Font sizes assigned to runs so the chunker's font heuristics see markdown
// headings the way it sees larger type in a typeset paper.
const (
	bodyFontSize  = 10.0
	minHeaderSize = 11.0
)

var headingFontSizes = map[int]float64{1: 20, 2: 16, 3: 13}

func headingSize(level int) float64 {
	if s, ok := headingFontSizes[level]; ok {
		return s
	}
	return minHeaderSize
}

// Markdown extracts pages of text runs from markdown using the goldmark AST.
// Headings become bold runs with a larger font size; every other block becomes
// one body run. A paragraph that is entirely strong emphasis is marked bold.
type Markdown struct {
	md goldmark.Markdown
}

// NewMarkdown creates a markdown extractor with table support.
func NewMarkdown() *Markdown {
	return &Markdown{
		md: goldmark.New(
			goldmark.WithExtensions(extension.Table),
		),
	}
}

// Extract parses content into pages split on form feeds. Pages without text are dropped.
func (m *Markdown) Extract(content []byte) []paper.Page {
	var pages []paper.Page
	for i, src := range splitPages(string(content)) {
		if strings.TrimSpace(src) == "" {
			continue
		}
		source := []byte(src)
		doc := m.md.Parser().Parse(text.NewReader(source))

		var runs []paper.TextRun
		collectRuns(doc, source, &runs)
		if len(runs) == 0 {
			continue
		}
		pages = append(pages, paper.Page{Number: i + 1, Runs: runs})
	}
	return pages
}

func collectRuns(n ast.Node, source []byte, runs *[]paper.TextRun) {
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		switch node := c.(type) {
		case *ast.Heading:
			appendRun(runs, paper.TextRun{Text: inlineText(node, source), FontSize: headingSize(node.Level), Bold: true})
		case *ast.Paragraph, *ast.TextBlock:
			appendRun(runs, paper.TextRun{Text: inlineText(node, source), FontSize: bodyFontSize, Bold: allStrong(node)})
		case *ast.FencedCodeBlock, *ast.CodeBlock:
			appendRun(runs, paper.TextRun{Text: blockLines(node, source), FontSize: bodyFontSize})
		case *east.Table:
			for row := node.FirstChild(); row != nil; row = row.NextSibling() {
				appendRun(runs, paper.TextRun{Text: tableRowText(row, source), FontSize: bodyFontSize})
			}
		case *ast.HTMLBlock, *ast.ThematicBreak:
			// skipped
		default:
			collectRuns(c, source, runs)
		}
	}
}

func appendRun(runs *[]paper.TextRun, run paper.TextRun) {
	run.Text = strings.TrimSpace(run.Text)
	if run.Text == "" {
		return
	}
	*runs = append(*runs, run)
}

// inlineText concatenates the text of a node's inline descendants.
func inlineText(n ast.Node, source []byte) string {
	var b strings.Builder
	_ = ast.Walk(n, func(node ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch v := node.(type) {
		case *ast.Text:
			b.Write(v.Segment.Value(source))
			if v.SoftLineBreak() || v.HardLineBreak() {
				b.WriteByte(' ')
			}
		case *ast.String:
			b.Write(v.Value)
		case *ast.RawHTML:
			return ast.WalkSkipChildren, nil
		}
		return ast.WalkContinue, nil
	})
	return b.String()
}

func blockLines(n ast.Node, source []byte) string {
	var b strings.Builder
	lines := n.Lines()
	for i := 0; i < lines.Len(); i++ {
		line := lines.At(i)
		b.Write(line.Value(source))
	}
	return b.String()
}

func tableRowText(row ast.Node, source []byte) string {
	var cells []string
	for cell := row.FirstChild(); cell != nil; cell = cell.NextSibling() {
		cells = append(cells, strings.TrimSpace(inlineText(cell, source)))
	}
	return strings.Join(cells, " | ")
}

// allStrong reports whether a paragraph consists of one strong emphasis span.
func allStrong(n ast.Node) bool {
	if n.ChildCount() != 1 {
		return false
	}
	em, ok := n.FirstChild().(*ast.Emphasis)
	return ok && em.Level >= 2
}
