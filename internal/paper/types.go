package paper

// TextRun is a span of extracted text sharing one font.
type TextRun struct {
	Text     string  `json:"text"`
	FontSize float64 `json:"font_size,omitempty"`
	Bold     bool    `json:"bold,omitempty"`
}

// Page is the extracted content of one page. Runs is optional; when present
// the page text is rebuilt from the runs and Text is ignored.
type Page struct {
	Number int       `json:"page_number"`
	Text   string    `json:"text,omitempty"`
	Runs   []TextRun `json:"runs,omitempty"`
}

// Passage is one retrieval unit produced by the chunker.
// A passage with an empty Text and DocumentID is a tombstone.
type Passage struct {
	DocumentID      string      `json:"document_id"`
	Text            string      `json:"text"`
	PageNumber      int         `json:"page_number"`
	ChunkIndex      int         `json:"chunk_index"`
	Section         string      `json:"section,omitempty"` // Header text the passage falls under
	SectionType     SectionType `json:"section_type"`
	SemanticDensity float64     `json:"semantic_density"`
	Flags           Flags       `json:"flags"`
	Title           string      `json:"title,omitempty"`
	Year            int         `json:"year,omitempty"`
}

// Flags records which content detectors fired for a passage.
type Flags struct {
	Citation  bool `json:"contains_citation"`
	Equation  bool `json:"contains_equation"`
	TableRef  bool `json:"contains_table_ref"`
	FigureRef bool `json:"contains_figure_ref"`
}

// Tombstoned reports whether the passage has been soft-deleted.
func (p Passage) Tombstoned() bool {
	return p.DocumentID == "" && p.Text == ""
}

// Metadata holds document-level fields recovered from the first pages.
type Metadata struct {
	Title    string `json:"title,omitempty"`
	Abstract string `json:"abstract,omitempty"`
	Year     int    `json:"year,omitempty"`
}
