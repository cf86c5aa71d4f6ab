package permission

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Registry binds entity types to their [Vocabulary]. At most one vocabulary
// exists per entity type. Registry is safe for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	types  map[string]*Vocabulary
	frozen bool
}

// NewRegistry creates an empty [Registry].
func NewRegistry() *Registry {
	return &Registry{
		types: make(map[string]*Vocabulary),
	}
}

// Register builds a vocabulary from names and binds it to entityType.
// A second registration of the same type fails with [ErrAlreadyRegistered];
// callers that want idempotent setup check for it with errors.Is and ignore it.
func (r *Registry) Register(entityType string, names ...string) (*Vocabulary, error) {
	if strings.TrimSpace(entityType) == "" {
		return nil, ErrEmptyEntityType
	}

	vocab, err := NewVocabulary(names...)
	if err != nil {
		return nil, fmt.Errorf("register %q: %w", entityType, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return nil, ErrRegistryFrozen
	}
	if _, exists := r.types[entityType]; exists {
		return nil, fmt.Errorf("%w: %q", ErrAlreadyRegistered, entityType)
	}

	r.types[entityType] = vocab
	return vocab, nil
}

// Unregister removes the binding of entityType.
func (r *Registry) Unregister(entityType string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return ErrRegistryFrozen
	}
	if _, exists := r.types[entityType]; !exists {
		return fmt.Errorf("%w: %q", ErrNotRegistered, entityType)
	}

	delete(r.types, entityType)
	return nil
}

// Lookup returns the vocabulary bound to entityType.
func (r *Registry) Lookup(entityType string) (*Vocabulary, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	vocab, ok := r.types[entityType]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotRegistered, entityType)
	}
	return vocab, nil
}

// Registered reports whether entityType is bound.
func (r *Registry) Registered(entityType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.types[entityType]
	return ok
}

// Types returns the bound entity types sorted by name.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.types))
	for t := range r.types {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Freeze prevents further Register and Unregister calls.
func (r *Registry) Freeze() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frozen = true
}

// Count returns the number of bound entity types.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.types)
}
