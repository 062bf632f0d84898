package models

import (
	"fmt"
	"regexp"
	"time"
)

// Chunk is one indexed window of report text. Text carries the citation
// marker inline so the chunk is self-describing wherever it ends up.
type Chunk struct {
	Text   string
	Source string
	Page   int
	Seq    int
}

// ScoredChunk pairs a retrieved chunk with its similarity to the query.
type ScoredChunk struct {
	Chunk      Chunk
	Similarity float32
}

// ChartKind enumerates the chart types the prompt contract allows.
type ChartKind string

const (
	ChartKindBar  ChartKind = "bar"
	ChartKindLine ChartKind = "line"
)

// Valid reports whether k is one of the allowed chart kinds.
func (k ChartKind) Valid() bool {
	return k == ChartKindBar || k == ChartKindLine
}

// ChartPoint is one labeled value in a chart series.
type ChartPoint struct {
	Label string  `json:"label"`
	Value float64 `json:"value"`
}

// ChartPayload is a validated visualization descriptor extracted from
// model output.
type ChartPayload struct {
	Kind   ChartKind    `json:"type"`
	Title  string       `json:"title"`
	XLabel string       `json:"x_label"`
	YLabel string       `json:"y_label"`
	Points []ChartPoint `json:"data"`
}

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatTurn is one message in a session's history. Citations and Charts are
// only ever set on assistant turns.
type ChatTurn struct {
	Role      string         `json:"role"`
	Content   string         `json:"content"`
	Citations []string       `json:"sources,omitempty"`
	Charts    []ChartPayload `json:"chart_data,omitempty"`
}

// Session is one analysis unit: the uploaded reports, the directory of the
// session's isolated vector index, and the conversation so far.
type Session struct {
	ID            string         `json:"id"`
	Title         string         `json:"title"`
	SourceFiles   []string       `json:"source_files"`
	IndexDir      string         `json:"db_path"`
	CreatedAt     time.Time      `json:"created_at"`
	Turns         []ChatTurn     `json:"messages"`
	InitialCharts []ChartPayload `json:"initial_charts"`
}

// SessionSummary is the listing view of a session.
type SessionSummary struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
}

// Answer is the result of one retrieval-augmented chat turn.
type Answer struct {
	Text      string         `json:"answer"`
	Citations []string       `json:"sources"`
	Charts    []ChartPayload `json:"charts"`
}

// Marker builds the citation marker prepended to every chunk. The model is
// instructed to echo these tags verbatim in its answers.
func Marker(source string, page int) string {
	return fmt.Sprintf("[Källa: %s | Sida %d]", source, page)
}

// MarkerRegex matches any well-formed citation marker.
var MarkerRegex = regexp.MustCompile(`\[Källa: [^|\]]+ \| Sida \d+\]`)
