// Package server is the HTTP boundary around the engine. Handlers stay
// thin: decode the request, call into the core packages, map the error
// taxonomy to status codes.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/jManniCode/finans-ai/internal/helper"
	"github.com/jManniCode/finans-ai/internal/ingest"
	"github.com/jManniCode/finans-ai/internal/models"
	"github.com/jManniCode/finans-ai/internal/responder"
	"github.com/jManniCode/finans-ai/internal/segmenter"
	"github.com/jManniCode/finans-ai/internal/session"
	"github.com/jManniCode/finans-ai/internal/vectorindex"
)

const maxUploadBytes = 64 << 20

type Server struct {
	store     *session.Store
	registry  *vectorindex.Registry
	responder *responder.Responder
	ingestor  *ingest.Ingestor
	tempRoot  string
	addr      string
}

func New(store *session.Store, registry *vectorindex.Registry, resp *responder.Responder, ingestor *ingest.Ingestor, tempRoot, addr string) *Server {
	return &Server{
		store:     store,
		registry:  registry,
		responder: resp,
		ingestor:  ingestor,
		tempRoot:  tempRoot,
		addr:      addr,
	}
}

// Start runs the HTTP server until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleRoot)
	mux.HandleFunc("POST /api/upload", s.handleUpload)
	mux.HandleFunc("POST /api/chat/{id}", s.handleChat)
	mux.HandleFunc("GET /api/sessions", s.handleListSessions)
	mux.HandleFunc("GET /api/sessions/{id}", s.handleGetSession)
	mux.HandleFunc("DELETE /api/sessions/{id}", s.handleDeleteSession)

	srv := &http.Server{
		Addr:         s.addr,
		Handler:      corsMiddleware(loggingMiddleware(mux)),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("Server shutdown")
		}
	}()

	log.Info().Str("addr", s.addr).Msg("Finans-AI backend listening")
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": "Finans-AI backend is running"})
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeDetail(w, http.StatusBadRequest, "Malformed upload request")
		return
	}
	files := r.MultipartForm.File["files"]
	if len(files) == 0 {
		writeDetail(w, http.StatusBadRequest, "No files uploaded")
		return
	}

	uploadID, err := helper.GenerateUUID()
	if err != nil {
		s.writeError(w, err)
		return
	}
	stagingDir := filepath.Join(s.tempRoot, uploadID)
	if err := helper.CreateFolder(stagingDir); err != nil {
		s.writeError(w, err)
		return
	}
	defer func() {
		if err := os.RemoveAll(stagingDir); err != nil {
			log.Warn().Err(err).Str("dir", stagingDir).Msg("Could not remove upload staging dir")
		}
	}()

	var paths []string
	for _, fh := range files {
		dst := filepath.Join(stagingDir, filepath.Base(fh.Filename))
		if err := saveUpload(fh, dst); err != nil {
			s.writeError(w, err)
			return
		}
		paths = append(paths, dst)
	}

	sess, err := s.ingestor.Ingest(r.Context(), paths)
	if err != nil {
		s.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"session_id":     sess.ID,
		"initial_charts": chartsOrEmpty(sess.InitialCharts),
		"message":        "Files processed successfully",
	})
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Prompt string `json:"prompt"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Prompt == "" {
		writeDetail(w, http.StatusBadRequest, "A prompt is required")
		return
	}

	answer, err := s.responder.Answer(r.Context(), r.PathValue("id"), req.Prompt)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if answer.Citations == nil {
		answer.Citations = []string{}
	}
	answer.Charts = chartsOrEmpty(answer.Charts)
	writeJSON(w, http.StatusOK, answer)
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	summaries, err := s.store.List()
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summaries)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.store.Get(r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.store.Delete(id); err != nil {
		s.writeError(w, err)
		return
	}
	s.registry.Evict(id)
	writeJSON(w, http.StatusOK, map[string]string{"message": "Session deleted"})
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	var ingErr *segmenter.IngestionError
	var embErr *vectorindex.EmbeddingServiceError
	var respErr *responder.ResponderError

	switch {
	case errors.Is(err, session.ErrSessionNotFound):
		writeDetail(w, http.StatusNotFound, "Session not found")
	case errors.Is(err, ingest.ErrNoText):
		writeDetail(w, http.StatusBadRequest, "No text could be extracted from the uploaded files")
	case errors.As(err, &ingErr):
		writeDetail(w, http.StatusBadRequest, fmt.Sprintf("Could not read %s. Is it a valid report file?", ingErr.File))
	case errors.As(err, &embErr):
		log.Error().Err(err).Msg("Embedding service failure")
		writeDetail(w, http.StatusBadGateway, "The embedding service is unavailable. Please try again.")
	case errors.As(err, &respErr):
		log.Error().Err(err).Msg("Chat model failure")
		writeDetail(w, http.StatusBadGateway, "The answer could not be generated. Please try again.")
	default:
		log.Error().Err(err).Msg("Unhandled request error")
		writeDetail(w, http.StatusInternalServerError, "Internal server error")
	}
}

func saveUpload(fh *multipart.FileHeader, dst string) error {
	src, err := fh.Open()
	if err != nil {
		return err
	}
	defer src.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, src)
	return err
}

func chartsOrEmpty(charts []models.ChartPayload) []models.ChartPayload {
	if charts == nil {
		return []models.ChartPayload{}
	}
	return charts
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("Could not encode response")
	}
}

func writeDetail(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"detail": msg})
}
