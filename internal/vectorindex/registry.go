package vectorindex

import (
	"sync"

	"github.com/philippgille/chromem-go"
)

// Registry caches open index handles keyed by session id, with an explicit
// create/evict lifecycle instead of a process-wide ambient handle.
type Registry struct {
	embed chromem.EmbeddingFunc

	mu   sync.Mutex
	open map[string]*Index
}

func NewRegistry(embed chromem.EmbeddingFunc) *Registry {
	return &Registry{embed: embed, open: make(map[string]*Index)}
}

// Get returns the cached handle for sessionID, opening the store at dir on
// first use.
func (r *Registry) Get(sessionID, dir string) (*Index, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if ix, ok := r.open[sessionID]; ok {
		return ix, nil
	}
	ix, err := Open(dir, r.embed)
	if err != nil {
		return nil, err
	}
	r.open[sessionID] = ix
	return ix, nil
}

// Put registers a freshly built index under its session id.
func (r *Registry) Put(sessionID string, ix *Index) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.open[sessionID] = ix
}

// Evict drops the cached handle so a deleted session's storage can be
// reclaimed.
func (r *Registry) Evict(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.open, sessionID)
}
