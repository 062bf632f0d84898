// Package responder runs one retrieval-augmented chat turn: retrieve the
// nearest chunks from the session's index, assemble the constrained
// prompt, call the chat model and post-process its output into an answer,
// citations and chart payloads.
package responder

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/llms"

	"github.com/jManniCode/finans-ai/internal/chartparse"
	"github.com/jManniCode/finans-ai/internal/models"
	"github.com/jManniCode/finans-ai/internal/session"
	"github.com/jManniCode/finans-ai/internal/vectorindex"
)

// ResponderError reports a failed or timed-out chat model call. No turn is
// persisted when it occurs.
type ResponderError struct {
	Err error
}

func (e *ResponderError) Error() string {
	return fmt.Sprintf("chat model: %v", e.Err)
}

func (e *ResponderError) Unwrap() error { return e.Err }

type Responder struct {
	llm      llms.Model
	store    *session.Store
	registry *vectorindex.Registry
	topK     int
	timeout  time.Duration
}

func New(llm llms.Model, store *session.Store, registry *vectorindex.Registry, topK int, timeout time.Duration) *Responder {
	if topK <= 0 {
		topK = 5
	}
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &Responder{llm: llm, store: store, registry: registry, topK: topK, timeout: timeout}
}

// Answer retrieves context for the question, generates a response and
// appends the exchange to the session. On any failure the session history
// is left untouched.
func (r *Responder) Answer(ctx context.Context, sessionID, question string) (*models.Answer, error) {
	sess, err := r.store.Get(sessionID)
	if err != nil {
		return nil, err
	}
	ix, err := r.registry.Get(sess.ID, sess.IndexDir)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	retrieved, err := ix.Query(ctx, question, r.topK)
	if err != nil {
		return nil, err
	}

	answer, err := r.generate(ctx, retrieved, sess.Turns, question)
	if err != nil {
		return nil, err
	}

	err = r.store.AppendTurns(sessionID,
		models.ChatTurn{Role: models.RoleUser, Content: question},
		models.ChatTurn{
			Role:      models.RoleAssistant,
			Content:   answer.Text,
			Citations: answer.Citations,
			Charts:    answer.Charts,
		},
	)
	if err != nil {
		return nil, err
	}
	return answer, nil
}

// Overview runs the fixed ingestion-time overview question against a
// freshly built index and returns the charts it yields. Nothing is
// appended to the session history.
func (r *Responder) Overview(ctx context.Context, ix *vectorindex.Index) ([]models.ChartPayload, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	retrieved, err := ix.Query(ctx, models.OverviewQuestion, r.topK)
	if err != nil {
		return nil, err
	}
	answer, err := r.generate(ctx, retrieved, nil, models.OverviewQuestion)
	if err != nil {
		return nil, err
	}
	return answer.Charts, nil
}

func (r *Responder) generate(ctx context.Context, retrieved []models.ScoredChunk, history []models.ChatTurn, question string) (*models.Answer, error) {
	messages := buildMessages(retrieved, history, question)

	resp, err := r.llm.GenerateContent(ctx, messages)
	if err != nil {
		return nil, &ResponderError{Err: err}
	}
	if len(resp.Choices) == 0 {
		return nil, &ResponderError{Err: fmt.Errorf("empty completion")}
	}
	raw := resp.Choices[0].Content

	charts, text := chartparse.Extract(raw)
	citations := extractCitations(text, retrieved)

	log.Debug().
		Int("retrieved", len(retrieved)).
		Int("citations", len(citations)).
		Int("charts", len(charts)).
		Msg("Generated answer")

	return &models.Answer{Text: text, Citations: citations, Charts: charts}, nil
}

// buildMessages assembles the prompt: fixed system instruction with the
// retrieved excerpts stuffed in (markers intact), then the conversation so
// far, then the new question. An empty retrieval gets an explicit
// no-context notice so the model declines instead of guessing.
func buildMessages(retrieved []models.ScoredChunk, history []models.ChatTurn, question string) []llms.MessageContent {
	var excerpts strings.Builder
	if len(retrieved) == 0 {
		excerpts.WriteString(models.NoContextNotice)
	} else {
		for i, sc := range retrieved {
			if i > 0 {
				excerpts.WriteString("\n\n")
			}
			excerpts.WriteString(sc.Chunk.Text)
		}
	}

	messages := []llms.MessageContent{
		{
			Role:  llms.ChatMessageTypeSystem,
			Parts: []llms.ContentPart{llms.TextContent{Text: models.SystemPrompt + "\n\nRetrieved excerpts:\n\n" + excerpts.String()}},
		},
	}
	for _, turn := range history {
		role := llms.ChatMessageTypeHuman
		if turn.Role == models.RoleAssistant {
			role = llms.ChatMessageTypeAI
		}
		messages = append(messages, llms.MessageContent{
			Role:  role,
			Parts: []llms.ContentPart{llms.TextContent{Text: turn.Content}},
		})
	}
	return append(messages, llms.MessageContent{
		Role:  llms.ChatMessageTypeHuman,
		Parts: []llms.ContentPart{llms.TextContent{Text: question}},
	})
}

// extractCitations keeps the markers of retrieved chunks that the model
// echoed in its answer, deduplicated in retrieval order and paired with
// the full source passage. Markers the model invented are ignored because
// only retrieved chunks are consulted.
func extractCitations(answer string, retrieved []models.ScoredChunk) []string {
	seen := make(map[string]bool)
	var citations []string
	for _, sc := range retrieved {
		marker := models.Marker(sc.Chunk.Source, sc.Chunk.Page)
		if seen[marker] || !strings.Contains(answer, marker) {
			continue
		}
		seen[marker] = true
		citations = append(citations, fmt.Sprintf("**%s**\n%s", marker, sc.Chunk.Text))
	}
	return citations
}
