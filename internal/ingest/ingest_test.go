package ingest

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/tealeg/xlsx"
	"github.com/tmc/langchaingo/llms"

	"github.com/jManniCode/finans-ai/internal/config"
	"github.com/jManniCode/finans-ai/internal/responder"
	"github.com/jManniCode/finans-ai/internal/segmenter"
	"github.com/jManniCode/finans-ai/internal/session"
	"github.com/jManniCode/finans-ai/internal/vectorindex"
)

type mockLLM struct {
	response string
	err      error
}

func (m *mockLLM) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	if m.err != nil {
		return nil, m.err
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: m.response}}}, nil
}

func (m *mockLLM) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return m.response, m.err
}

func fakeEmbed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, 4)
	lower := strings.ToLower(text)
	for i, k := range []string{"revenue", "profit", "year"} {
		vec[i] = float32(strings.Count(lower, k))
	}
	vec[3] = 0.1
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	n := float32(math.Sqrt(norm))
	for i := range vec {
		vec[i] /= n
	}
	return vec, nil
}

func writeReportXLSX(t *testing.T, dir string) string {
	t.Helper()
	file := xlsx.NewFile()
	sheet, err := file.AddSheet("Income")
	if err != nil {
		t.Fatal(err)
	}
	for _, line := range []string{"Revenue 2023: 100", "Revenue 2024: 150"} {
		cell := sheet.AddRow().AddCell()
		cell.Value = line
	}
	path := filepath.Join(dir, "annual-report.xlsx")
	if err := file.Save(path); err != nil {
		t.Fatal(err)
	}
	return path
}

func newIngestor(t *testing.T, llm llms.Model, embed func(context.Context, string) ([]float32, error)) (*Ingestor, *session.Store, string) {
	t.Helper()
	root := t.TempDir()
	store, err := session.NewStore(root)
	if err != nil {
		t.Fatal(err)
	}
	registry := vectorindex.NewRegistry(embed)
	seg := segmenter.New(config.RAGConfig{ChunkSize: 1000, ChunkOverlap: 200})
	resp := responder.New(llm, store, registry, 5, time.Minute)
	indexRoot := filepath.Join(root, "chroma_data")
	return New(seg, store, registry, resp, embed, indexRoot), store, indexRoot
}

func TestIngestCreatesSessionWithOverviewCharts(t *testing.T) {
	llm := &mockLLM{response: "Key figures follow.\n```json\n{\"type\": \"bar\", \"title\": \"Revenue\", " +
		"\"data\": [{\"label\": \"2023\", \"value\": 100}, {\"label\": \"2024\", \"value\": 150}]}\n```"}
	ing, store, indexRoot := newIngestor(t, llm, fakeEmbed)

	path := writeReportXLSX(t, t.TempDir())
	sess, err := ing.Ingest(context.Background(), []string{path})
	if err != nil {
		t.Fatal(err)
	}

	if sess.Title != "annual-report.xlsx" {
		t.Errorf("session title should be the first filename, got %q", sess.Title)
	}
	if len(sess.InitialCharts) != 1 || sess.InitialCharts[0].Title != "Revenue" {
		t.Errorf("expected the overview chart on the session, got %+v", sess.InitialCharts)
	}
	if !strings.HasPrefix(sess.IndexDir, indexRoot) {
		t.Errorf("index dir %q not under %q", sess.IndexDir, indexRoot)
	}
	if _, err := os.Stat(sess.IndexDir); err != nil {
		t.Errorf("index storage missing: %v", err)
	}

	persisted, err := store.Get(sess.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(persisted.InitialCharts) != 1 {
		t.Errorf("initial charts not persisted: %+v", persisted.InitialCharts)
	}
	if len(persisted.Turns) != 0 {
		t.Errorf("ingestion must not create chat turns, got %d", len(persisted.Turns))
	}
}

func TestIngestUnsupportedFileFailsCleanly(t *testing.T) {
	ing, store, indexRoot := newIngestor(t, &mockLLM{response: "x"}, fakeEmbed)

	dir := t.TempDir()
	path := filepath.Join(dir, "report.txt")
	if err := os.WriteFile(path, []byte("plain text"), 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := ing.Ingest(context.Background(), []string{path})
	var ingErr *segmenter.IngestionError
	if !errors.As(err, &ingErr) {
		t.Fatalf("expected IngestionError, got %v", err)
	}

	summaries, _ := store.List()
	if len(summaries) != 0 {
		t.Error("failed ingestion must not leave a session behind")
	}
	assertEmptyDir(t, indexRoot)
}

func TestIngestEmbeddingFailureLeavesNothing(t *testing.T) {
	failing := func(context.Context, string) ([]float32, error) {
		return nil, fmt.Errorf("service unavailable")
	}
	ing, store, indexRoot := newIngestor(t, &mockLLM{response: "x"}, failing)

	path := writeReportXLSX(t, t.TempDir())
	_, err := ing.Ingest(context.Background(), []string{path})
	var embErr *vectorindex.EmbeddingServiceError
	if !errors.As(err, &embErr) {
		t.Fatalf("expected EmbeddingServiceError, got %v", err)
	}

	summaries, _ := store.List()
	if len(summaries) != 0 {
		t.Error("failed ingestion must not leave a session behind")
	}
	assertEmptyDir(t, indexRoot)
}

func TestIngestOverviewFailureLeavesNothing(t *testing.T) {
	ing, store, indexRoot := newIngestor(t, &mockLLM{err: fmt.Errorf("quota exceeded")}, fakeEmbed)

	path := writeReportXLSX(t, t.TempDir())
	_, err := ing.Ingest(context.Background(), []string{path})
	var respErr *responder.ResponderError
	if !errors.As(err, &respErr) {
		t.Fatalf("expected ResponderError, got %v", err)
	}

	summaries, _ := store.List()
	if len(summaries) != 0 {
		t.Error("failed ingestion must not leave a session behind")
	}
	assertEmptyDir(t, indexRoot)
}

func assertEmptyDir(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return
		}
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("expected no index directories, found %d", len(entries))
	}
}
