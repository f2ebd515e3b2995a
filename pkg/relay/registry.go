package relay

import (
	"sort"
	"strings"
	"sync"

	"github.com/sourcegraph/conc"
)

// Registry maps session ids to their single active relay.
type Registry struct {
	mu       sync.RWMutex
	relays   map[string]*Relay
	newRelay func(id string) *Relay
}

// NewRegistry creates a registry that builds relays with newRelay.
func NewRegistry(newRelay func(id string) *Relay) *Registry {
	return &Registry{
		relays:   make(map[string]*Relay),
		newRelay: newRelay,
	}
}

// Create registers a new relay for id. It fails with ErrConflict, leaving the
// existing relay in place, when id is already active.
func (r *Registry) Create(id string) (*Relay, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, ErrInvalidSessionID
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.relays[id]; exists {
		return nil, ErrConflict
	}
	rel := r.newRelay(id)
	r.relays[id] = rel
	return rel, nil
}

// Get returns the active relay for id.
func (r *Registry) Get(id string) (*Relay, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rel, exists := r.relays[strings.TrimSpace(id)]
	if !exists {
		return nil, ErrNotFound
	}
	return rel, nil
}

// Remove unregisters id, then closes its upstream and flushes its audio.
func (r *Registry) Remove(id string) (Teardown, error) {
	id = strings.TrimSpace(id)

	r.mu.Lock()
	rel, exists := r.relays[id]
	if exists {
		delete(r.relays, id)
	}
	r.mu.Unlock()

	if !exists {
		return Teardown{}, ErrNotFound
	}
	return rel.Shutdown(), nil
}

// Discard removes rel if it is still the relay registered for id and shuts it down.
func (r *Registry) Discard(id string, rel *Relay) {
	r.mu.Lock()
	if current, ok := r.relays[id]; ok && current == rel {
		delete(r.relays, id)
	}
	r.mu.Unlock()
	rel.Shutdown()
}

// Count returns the number of active relays.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.relays)
}

// IDs returns the active session ids in sorted order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	ids := make([]string, 0, len(r.relays))
	for id := range r.relays {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	sort.Strings(ids)
	return ids
}

// CloseAll removes every relay and shuts them down concurrently.
func (r *Registry) CloseAll() map[string]Teardown {
	r.mu.Lock()
	relays := r.relays
	r.relays = make(map[string]*Relay)
	r.mu.Unlock()

	var (
		mu      sync.Mutex
		results = make(map[string]Teardown, len(relays))
		wg      conc.WaitGroup
	)
	for id, rel := range relays {
		wg.Go(func() {
			td := rel.Shutdown()
			mu.Lock()
			results[id] = td
			mu.Unlock()
		})
	}
	wg.Wait()
	return results
}
