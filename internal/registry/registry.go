// Package registry maps session identifiers to their live worker handle.
//
// The registry only stores handles; it never signals processes. Callers that
// replace an entry are responsible for retiring the previous handle first.
package registry

import (
	"sort"
	"sync"
	"time"

	"github.com/randomizedcoder/go-room-agent-supervisor/internal/worker"
)

// Entry is a point-in-time view of one registered worker.
type Entry struct {
	SessionID string        `json:"session_id"`
	PID       int           `json:"pid"`
	State     string        `json:"state"`
	StartedAt time.Time     `json:"started_at"`
	Uptime    time.Duration `json:"uptime_ns"`
}

// Registry is an in-memory session → worker map. It is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	workers map[string]*worker.Handle
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		workers: make(map[string]*worker.Handle),
	}
}

// Get returns the handle registered for sessionID, if any.
func (r *Registry) Get(sessionID string) (*worker.Handle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.workers[sessionID]
	return h, ok
}

// Put stores h under sessionID, overwriting any previous entry.
func (r *Registry) Put(sessionID string, h *worker.Handle) {
	r.mu.Lock()
	r.workers[sessionID] = h
	r.mu.Unlock()
}

// PutIfAbsent stores h for sessionID only if the session has no entry.
// Returns true if h was stored.
func (r *Registry) PutIfAbsent(sessionID string, h *worker.Handle) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.workers[sessionID]; ok {
		return false
	}
	r.workers[sessionID] = h
	return true
}

// Remove deletes the entry for sessionID. No-op if absent.
func (r *Registry) Remove(sessionID string) {
	r.mu.Lock()
	delete(r.workers, sessionID)
	r.mu.Unlock()
}

// Take removes and returns the entry for sessionID in one step.
func (r *Registry) Take(sessionID string) (*worker.Handle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.workers[sessionID]
	if ok {
		delete(r.workers, sessionID)
	}
	return h, ok
}

// CompareAndRemove deletes the entry for sessionID only if it is still h.
// Returns true if the entry was removed.
func (r *Registry) CompareAndRemove(sessionID string, h *worker.Handle) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.workers[sessionID]; ok && cur == h {
		delete(r.workers, sessionID)
		return true
	}
	return false
}

// Len returns the number of registered workers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.workers)
}

// PIDs returns the process IDs of all registered workers.
func (r *Registry) PIDs() []int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	pids := make([]int, 0, len(r.workers))
	for _, h := range r.workers {
		pids = append(pids, h.PID())
	}
	return pids
}

// SessionIDs returns the registered session identifiers, sorted.
func (r *Registry) SessionIDs() []string {
	r.mu.RLock()
	ids := make([]string, 0, len(r.workers))
	for id := range r.workers {
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

// Snapshot returns a view of every entry, sorted by session ID.
func (r *Registry) Snapshot() []Entry {
	r.mu.RLock()
	entries := make([]Entry, 0, len(r.workers))
	for id, h := range r.workers {
		entries = append(entries, entryFor(id, h))
	}
	r.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].SessionID < entries[j].SessionID
	})
	return entries
}

// Lookup returns the view of a single entry.
func (r *Registry) Lookup(sessionID string) (Entry, bool) {
	h, ok := r.Get(sessionID)
	if !ok {
		return Entry{}, false
	}
	return entryFor(sessionID, h), true
}

func entryFor(sessionID string, h *worker.Handle) Entry {
	return Entry{
		SessionID: sessionID,
		PID:       h.PID(),
		State:     h.State().String(),
		StartedAt: h.StartedAt(),
		Uptime:    h.Uptime(),
	}
}
