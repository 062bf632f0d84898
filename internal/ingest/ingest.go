// Package ingest turns uploaded report files into a ready analysis
// session: segment, build the isolated vector index, run the overview
// question and persist the session record.
package ingest

import (
	"context"
	"errors"
	"os"
	"path/filepath"

	"github.com/philippgille/chromem-go"
	"github.com/rs/zerolog/log"

	"github.com/jManniCode/finans-ai/internal/helper"
	"github.com/jManniCode/finans-ai/internal/models"
	"github.com/jManniCode/finans-ai/internal/responder"
	"github.com/jManniCode/finans-ai/internal/segmenter"
	"github.com/jManniCode/finans-ai/internal/session"
	"github.com/jManniCode/finans-ai/internal/vectorindex"
)

// ErrNoText means none of the uploaded files yielded extractable text.
var ErrNoText = errors.New("no text extracted from the uploaded reports")

type Ingestor struct {
	seg       *segmenter.Segmenter
	store     *session.Store
	registry  *vectorindex.Registry
	responder *responder.Responder
	embed     chromem.EmbeddingFunc
	indexRoot string
}

func New(seg *segmenter.Segmenter, store *session.Store, registry *vectorindex.Registry, resp *responder.Responder, embed chromem.EmbeddingFunc, indexRoot string) *Ingestor {
	return &Ingestor{
		seg:       seg,
		store:     store,
		registry:  registry,
		responder: resp,
		embed:     embed,
		indexRoot: indexRoot,
	}
}

// Ingest processes the saved upload files at paths and returns the new
// session with its initial overview charts set. On any failure nothing
// durable is left behind: no session record and no index directory.
func (ing *Ingestor) Ingest(ctx context.Context, paths []string) (*models.Session, error) {
	var chunks []models.Chunk
	var names []string
	for _, path := range paths {
		fileChunks, err := ing.seg.SegmentFile(path)
		if err != nil {
			return nil, err
		}
		log.Info().Str("file", filepath.Base(path)).Int("chunks", len(fileChunks)).Msg("Segmented report")
		chunks = append(chunks, fileChunks...)
		names = append(names, filepath.Base(path))
	}
	if len(chunks) == 0 {
		return nil, ErrNoText
	}

	id, err := helper.GenerateUUID()
	if err != nil {
		return nil, err
	}
	dir := filepath.Join(ing.indexRoot, "session_"+id)

	ix, err := vectorindex.Build(ctx, dir, chunks, ing.embed)
	if err != nil {
		return nil, err
	}

	charts, err := ing.responder.Overview(ctx, ix)
	if err != nil {
		ing.discard(dir)
		return nil, err
	}

	sess, err := ing.store.Create(names[0], names, dir, charts)
	if err != nil {
		ing.discard(dir)
		return nil, err
	}

	ing.registry.Put(sess.ID, ix)
	log.Info().Str("session", sess.ID).Strs("files", names).Msg("Created analysis session")
	return sess, nil
}

func (ing *Ingestor) discard(dir string) {
	if err := os.RemoveAll(dir); err != nil {
		log.Warn().Err(err).Str("dir", dir).Msg("Could not remove abandoned index")
	}
}
