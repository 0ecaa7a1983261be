package hub

import "sync"

// Handle is one live realtime connection.
type Handle interface {
	ID() string
	Emit(event string, payload any) error
	Close() error
}

// Registry binds principal ids to at most one handle each. The inverse
// index makes Disconnect an exact O(1) removal keyed by the handle.
type Registry struct {
	mu          sync.RWMutex
	byPrincipal map[string]Handle
	byHandle    map[string]string
}

func NewRegistry() *Registry {
	return &Registry{
		byPrincipal: make(map[string]Handle),
		byHandle:    make(map[string]string),
	}
}

// Identify binds principalID to h, replacing any earlier binding on either
// side (last write wins).
func (r *Registry) Identify(principalID string, h Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.byHandle[h.ID()]; ok && prev != principalID {
		delete(r.byPrincipal, prev)
	}
	if old, ok := r.byPrincipal[principalID]; ok && old.ID() != h.ID() {
		delete(r.byHandle, old.ID())
	}
	r.byPrincipal[principalID] = h
	r.byHandle[h.ID()] = principalID
}

// Disconnect drops whatever binding h holds. Unknown handles are a no-op.
func (r *Registry) Disconnect(h Handle) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	principalID, ok := r.byHandle[h.ID()]
	if !ok {
		return "", false
	}
	delete(r.byHandle, h.ID())
	if cur, ok := r.byPrincipal[principalID]; ok && cur.ID() == h.ID() {
		delete(r.byPrincipal, principalID)
	}
	return principalID, true
}

func (r *Registry) Resolve(principalID string) (Handle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	h, ok := r.byPrincipal[principalID]
	return h, ok
}

// PrincipalOf is the inverse lookup.
func (r *Registry) PrincipalOf(h Handle) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byHandle[h.ID()]
	return id, ok
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byPrincipal)
}
