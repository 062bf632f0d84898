package segmenter

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/nguyenthenguyen/docx"
	"github.com/rs/zerolog/log"
	"github.com/tealeg/xlsx"

	"github.com/jManniCode/finans-ai/internal/config"
	"github.com/jManniCode/finans-ai/internal/models"
)

const (
	defaultChunkSize    = 1000 // characters
	defaultChunkOverlap = 200  // characters
)

// IngestionError reports a file that could not be parsed at all. A page
// without extractable text is not an error, it just yields no chunks.
type IngestionError struct {
	File string
	Err  error
}

func (e *IngestionError) Error() string {
	return fmt.Sprintf("cannot ingest %s: %v", e.File, e.Err)
}

func (e *IngestionError) Unwrap() error { return e.Err }

// Segmenter splits report files into overlapping, citation-tagged chunks.
type Segmenter struct {
	chunkSize int
	overlap   int
}

func New(cfg config.RAGConfig) *Segmenter {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = defaultChunkSize
	}
	if cfg.ChunkOverlap < 0 || cfg.ChunkOverlap >= cfg.ChunkSize {
		cfg.ChunkOverlap = defaultChunkOverlap
	}
	return &Segmenter{chunkSize: cfg.ChunkSize, overlap: cfg.ChunkOverlap}
}

// SegmentFile parses one report and returns its ordered chunks. The chunk
// text is prefixed with a [Källa: <file> | Sida <page>] marker so every
// chunk names its own provenance.
func (s *Segmenter) SegmentFile(path string) ([]models.Chunk, error) {
	source := filepath.Base(path)
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".pdf":
		return s.segmentPDF(path, source)
	case ".docx":
		return s.segmentDOCX(path, source)
	case ".xlsx":
		return s.segmentXLSX(path, source)
	default:
		return nil, &IngestionError{File: source, Err: fmt.Errorf("unsupported file format: %s", ext)}
	}
}

func (s *Segmenter) segmentPDF(path, source string) ([]models.Chunk, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &IngestionError{File: source, Err: err}
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return nil, &IngestionError{File: source, Err: err}
	}

	reader, err := pdf.NewReader(f, stat.Size())
	if err != nil {
		return nil, &IngestionError{File: source, Err: err}
	}

	var chunks []models.Chunk
	seq := 0
	numPages := reader.NumPage()
	for i := 1; i <= numPages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		pageText, err := page.GetPlainText(nil)
		if err != nil {
			// Scanned or damaged page: no chunks, not a fatal error.
			log.Debug().Str("file", source).Int("page", i).Err(err).Msg("No extractable text on page")
			continue
		}
		chunks = append(chunks, s.chunksFor(pageText, source, i, &seq)...)
	}
	return chunks, nil
}

func (s *Segmenter) segmentDOCX(path, source string) ([]models.Chunk, error) {
	r, err := docx.ReadDocxFile(path)
	if err != nil {
		return nil, &IngestionError{File: source, Err: err}
	}
	defer r.Close()

	content := r.Editable().GetContent()
	seq := 0
	// DOCX has no page numbers, the whole document counts as page 1.
	return s.chunksFor(content, source, 1, &seq), nil
}

func (s *Segmenter) segmentXLSX(path, source string) ([]models.Chunk, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, &IngestionError{File: source, Err: err}
	}

	var chunks []models.Chunk
	seq := 0
	for sheetNum, sheet := range f.Sheets {
		var text strings.Builder
		text.WriteString(fmt.Sprintf("Sheet: %s\n", sheet.Name))
		for _, row := range sheet.Rows {
			for _, cell := range row.Cells {
				text.WriteString(cell.String() + "\t")
			}
			text.WriteString("\n")
		}
		// Sheet index stands in for the page number.
		chunks = append(chunks, s.chunksFor(text.String(), source, sheetNum+1, &seq)...)
	}
	return chunks, nil
}

// chunksFor windows one page's text and tags each window with its marker.
func (s *Segmenter) chunksFor(content, source string, page int, seq *int) []models.Chunk {
	var chunks []models.Chunk
	for _, window := range s.windows(content) {
		chunks = append(chunks, models.Chunk{
			Text:   models.Marker(source, page) + " " + window,
			Source: source,
			Page:   page,
			Seq:    *seq,
		})
		*seq++
	}
	return chunks
}

// windows cuts content into chunkSize-character slices. Each window starts
// exactly overlap characters before the previous one ended, so statements
// spanning a boundary stay fully readable in at least one window. Offsets
// are rune positions, never byte positions: report text is Swedish and a
// byte cut would split å/ä/ö mid-rune.
func (s *Segmenter) windows(content string) []string {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil
	}
	runes := []rune(content)
	if len(runes) <= s.chunkSize {
		return []string{content}
	}

	var out []string
	start := 0
	for start < len(runes) {
		end := min(start+s.chunkSize, len(runes))

		// Prefer a clean break near the end of the window.
		if end < len(runes) {
			lookBack := min(s.chunkSize/10, end-start)
			for i := end - 1; i >= end-lookBack && i > start; i-- {
				if runes[i] == ' ' || runes[i] == '\n' || runes[i] == '.' {
					end = i + 1
					break
				}
			}
		}

		out = append(out, string(runes[start:end]))
		if end == len(runes) {
			break
		}
		next := end - s.overlap
		if next <= start {
			next = start + 1
		}
		start = next
	}
	return out
}
