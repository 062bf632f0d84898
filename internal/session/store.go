// Package session is the flat-file store for analysis sessions: one JSON
// record per session plus a durable list of vector-store directories whose
// removal had to be deferred.
package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/jManniCode/finans-ai/internal/helper"
	"github.com/jManniCode/finans-ai/internal/models"
)

// ErrSessionNotFound is returned for unknown session ids.
var ErrSessionNotFound = errors.New("session not found")

// StorageLockError reports an index directory that could not be removed,
// usually because another handle still holds files in it. It is absorbed
// by Delete and never surfaced to the caller.
type StorageLockError struct {
	Dir string
	Err error
}

func (e *StorageLockError) Error() string {
	return fmt.Sprintf("index storage %s locked: %v", e.Dir, e.Err)
}

func (e *StorageLockError) Unwrap() error { return e.Err }

const (
	sessionsDir     = "sessions"
	pendingFileName = "pending_deletes.json"
)

// Store persists session records under root. Records are written atomically
// via a temp file and rename, so readers never see a torn record. Creation,
// listing and deletion share a store-level RWMutex; turn appends are
// serialized per session only, so appends to different sessions proceed
// in parallel.
type Store struct {
	root string

	mu sync.RWMutex

	appendMu sync.Mutex
	appends  map[string]*sync.Mutex
}

func NewStore(root string) (*Store, error) {
	if err := helper.CreateFolder(filepath.Join(root, sessionsDir)); err != nil {
		return nil, err
	}
	return &Store{root: root, appends: make(map[string]*sync.Mutex)}, nil
}

// Create writes a new session record, complete with its ingestion-time
// overview charts, and returns it. Writing everything in one shot means a
// failed creation never leaves a partial record behind.
func (s *Store) Create(title string, sourceFiles []string, indexDir string, initialCharts []models.ChartPayload) (*models.Session, error) {
	id, err := helper.GenerateUUID()
	if err != nil {
		return nil, err
	}
	if initialCharts == nil {
		initialCharts = []models.ChartPayload{}
	}
	sess := &models.Session{
		ID:            id,
		Title:         title,
		SourceFiles:   sourceFiles,
		IndexDir:      indexDir,
		CreatedAt:     time.Now().UTC(),
		Turns:         []models.ChatTurn{},
		InitialCharts: initialCharts,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.write(sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// Get loads one session record.
func (s *Store) Get(id string) (*models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read(id)
}

// List returns session summaries, most recently created first.
func (s *Store) List() ([]models.SessionSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, err := os.ReadDir(filepath.Join(s.root, sessionsDir))
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}

	summaries := make([]models.SessionSummary, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		sess, err := s.read(strings.TrimSuffix(e.Name(), ".json"))
		if err != nil {
			log.Warn().Err(err).Str("file", e.Name()).Msg("Skipping unreadable session record")
			continue
		}
		summaries = append(summaries, models.SessionSummary{
			ID:        sess.ID,
			Title:     sess.Title,
			CreatedAt: sess.CreatedAt,
		})
	}

	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].CreatedAt.After(summaries[j].CreatedAt)
	})
	return summaries, nil
}

// AppendTurns appends turns to one session's history. Appends for the same
// session are serialized; different sessions proceed independently.
func (s *Store) AppendTurns(id string, turns ...models.ChatTurn) error {
	mu := s.appendLock(id)
	mu.Lock()
	defer mu.Unlock()

	sess, err := s.read(id)
	if err != nil {
		return err
	}
	sess.Turns = append(sess.Turns, turns...)
	return s.write(sess)
}

// Delete removes the session record and attempts to remove its index
// storage. A locked index directory is queued for the next startup sweep;
// the delete still succeeds from the caller's point of view.
func (s *Store) Delete(id string) error {
	// Taking the append lock first means an in-flight append cannot
	// rewrite the record after it has been removed.
	mu := s.appendLock(id)
	mu.Lock()
	defer mu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := s.read(id)
	if err != nil {
		return err
	}
	if err := os.Remove(s.recordPath(id)); err != nil {
		return fmt.Errorf("removing session record: %w", err)
	}

	if sess.IndexDir != "" {
		if err := os.RemoveAll(sess.IndexDir); err != nil {
			lockErr := &StorageLockError{Dir: sess.IndexDir, Err: err}
			log.Warn().Err(lockErr).Msg("Deferring index storage removal")
			s.queuePending(sess.IndexDir)
		}
	}
	return nil
}

// SweepPending retries every deferred index removal, dropping the ones
// that succeed. Called once at process start.
func (s *Store) SweepPending() {
	s.mu.Lock()
	defer s.mu.Unlock()

	pending := s.readPending()
	if len(pending) == 0 {
		return
	}

	var remaining []string
	for _, dir := range pending {
		if err := os.RemoveAll(dir); err != nil {
			log.Warn().Err(err).Str("dir", dir).Msg("Index storage still locked")
			remaining = append(remaining, dir)
			continue
		}
		log.Info().Str("dir", dir).Msg("Reclaimed deferred index storage")
	}
	s.writePending(remaining)
}

func (s *Store) appendLock(id string) *sync.Mutex {
	s.appendMu.Lock()
	defer s.appendMu.Unlock()
	mu, ok := s.appends[id]
	if !ok {
		mu = &sync.Mutex{}
		s.appends[id] = mu
	}
	return mu
}

func (s *Store) recordPath(id string) string {
	return filepath.Join(s.root, sessionsDir, id+".json")
}

func (s *Store) read(id string) (*models.Session, error) {
	if strings.ContainsAny(id, `/\`) || id == "" {
		return nil, ErrSessionNotFound
	}
	data, err := os.ReadFile(s.recordPath(id))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("reading session %s: %w", id, err)
	}
	var sess models.Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("decoding session %s: %w", id, err)
	}
	return &sess, nil
}

func (s *Store) write(sess *models.Session) error {
	data, err := json.MarshalIndent(sess, "", "    ")
	if err != nil {
		return fmt.Errorf("encoding session %s: %w", sess.ID, err)
	}
	path := s.recordPath(sess.ID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing session %s: %w", sess.ID, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("writing session %s: %w", sess.ID, err)
	}
	return nil
}

func (s *Store) pendingPath() string {
	return filepath.Join(s.root, pendingFileName)
}

func (s *Store) readPending() []string {
	data, err := os.ReadFile(s.pendingPath())
	if err != nil {
		return nil
	}
	var pending []string
	if err := json.Unmarshal(data, &pending); err != nil {
		log.Warn().Err(err).Msg("Resetting unreadable pending-deletes list")
		return nil
	}
	return pending
}

func (s *Store) writePending(pending []string) {
	if pending == nil {
		pending = []string{}
	}
	data, err := json.MarshalIndent(pending, "", "    ")
	if err != nil {
		log.Warn().Err(err).Msg("Could not encode pending-deletes list")
		return
	}
	if err := os.WriteFile(s.pendingPath(), data, 0o644); err != nil {
		log.Warn().Err(err).Msg("Could not write pending-deletes list")
	}
}

func (s *Store) queuePending(dir string) {
	pending := s.readPending()
	for _, d := range pending {
		if d == dir {
			return
		}
	}
	s.writePending(append(pending, dir))
}
