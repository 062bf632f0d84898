// Package vectorindex wraps chromem-go with one persistent store per
// analysis session. Stores never share a directory, so deleting or
// querying one session cannot touch another's vectors.
package vectorindex

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"sort"
	"strconv"

	"github.com/philippgille/chromem-go"
	"github.com/rs/zerolog/log"

	"github.com/jManniCode/finans-ai/internal/models"
)

const (
	collectionName = "report_chunks"
	compress       = false
)

// EmbeddingServiceError reports a failed call to the embedding service.
// Build aborts on it rather than persisting a partial index.
type EmbeddingServiceError struct {
	Err error
}

func (e *EmbeddingServiceError) Error() string {
	return fmt.Sprintf("embedding service: %v", e.Err)
}

func (e *EmbeddingServiceError) Unwrap() error { return e.Err }

// Index is one session's isolated vector store.
type Index struct {
	collection *chromem.Collection
	dir        string
}

// Build creates a new persistent index at dir, embedding every chunk. On
// any failure the directory is removed so a half-built index never
// survives to be queried.
func Build(ctx context.Context, dir string, chunks []models.Chunk, embed chromem.EmbeddingFunc) (*Index, error) {
	ix, err := Open(dir, embed)
	if err != nil {
		return nil, err
	}

	docs := make([]chromem.Document, 0, len(chunks))
	for _, chunk := range chunks {
		docs = append(docs, chromem.Document{
			ID:      fmt.Sprintf("%s-p%d-c%d", chunk.Source, chunk.Page, chunk.Seq),
			Content: chunk.Text,
			Metadata: map[string]string{
				"source": chunk.Source,
				"page":   strconv.Itoa(chunk.Page),
				"seq":    strconv.Itoa(chunk.Seq),
			},
		})
	}

	log.Info().Int("chunks", len(docs)).Str("dir", dir).Msg("Building vector index")

	if err := ix.collection.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
		if rmErr := os.RemoveAll(dir); rmErr != nil {
			log.Warn().Err(rmErr).Str("dir", dir).Msg("Could not remove partial index")
		}
		return nil, &EmbeddingServiceError{Err: err}
	}
	return ix, nil
}

// Open loads the index persisted at dir, creating the directory if needed.
func Open(dir string, embed chromem.EmbeddingFunc) (*Index, error) {
	db, err := chromem.NewPersistentDB(dir, compress)
	if err != nil {
		return nil, fmt.Errorf("opening vector store %s: %w", dir, err)
	}
	collection, err := db.GetOrCreateCollection(collectionName, nil, embed)
	if err != nil {
		return nil, fmt.Errorf("opening collection in %s: %w", dir, err)
	}
	return &Index{collection: collection, dir: dir}, nil
}

// Dir returns the storage directory backing this index.
func (ix *Index) Dir() string { return ix.dir }

// Count returns the number of indexed chunks.
func (ix *Index) Count() int { return ix.collection.Count() }

// Query returns up to k chunks nearest to the question, highest similarity
// first, ties broken by original chunk sequence. An empty index yields an
// empty result, not an error.
func (ix *Index) Query(ctx context.Context, question string, k int) ([]models.ScoredChunk, error) {
	count := ix.collection.Count()
	if count == 0 || k <= 0 {
		return nil, nil
	}
	if k > count {
		k = count
	}

	results, err := ix.collection.Query(ctx, question, k, nil, nil)
	if err != nil {
		return nil, &EmbeddingServiceError{Err: err}
	}

	scored := make([]models.ScoredChunk, 0, len(results))
	for _, r := range results {
		page, _ := strconv.Atoi(r.Metadata["page"])
		seq, _ := strconv.Atoi(r.Metadata["seq"])
		scored = append(scored, models.ScoredChunk{
			Chunk: models.Chunk{
				Text:   r.Content,
				Source: r.Metadata["source"],
				Page:   page,
				Seq:    seq,
			},
			Similarity: r.Similarity,
		})
	}

	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Similarity != scored[j].Similarity {
			return scored[i].Similarity > scored[j].Similarity
		}
		return scored[i].Chunk.Seq < scored[j].Chunk.Seq
	})
	return scored, nil
}
