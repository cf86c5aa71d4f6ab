package record

import (
	"context"
	"sort"
	"sync"

	"github.com/MrEthical07/objperm/permission"
)

// MemoryStore is an in-process [Store]. Every mutation runs under one mutex,
// which makes Or and AndNot atomic per key.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[Key]permission.Mask
}

// NewMemoryStore creates an empty [MemoryStore].
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[Key]permission.Mask),
	}
}

func (s *MemoryStore) Get(_ context.Context, key Key) (Record, error) {
	if err := key.Validate(); err != nil {
		return Record{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	return Record{Key: key, Mask: s.records[key]}, nil
}

func (s *MemoryStore) GetMany(_ context.Context, keys []Key) ([]Record, error) {
	for _, key := range keys {
		if err := key.Validate(); err != nil {
			return nil, err
		}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Record, len(keys))
	for i, key := range keys {
		out[i] = Record{Key: key, Mask: s.records[key]}
	}
	return out, nil
}

func (s *MemoryStore) Or(_ context.Context, key Key, bits permission.Mask) (Mutation, error) {
	if err := key.Validate(); err != nil {
		return Mutation{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	prev, existed := s.records[key]
	next := prev | bits
	s.records[key] = next

	return Mutation{
		Record:   Record{Key: key, Mask: next},
		Previous: prev,
		Existed:  existed,
	}, nil
}

func (s *MemoryStore) AndNot(_ context.Context, key Key, bits permission.Mask) (Mutation, error) {
	if err := key.Validate(); err != nil {
		return Mutation{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	prev, existed := s.records[key]
	if !existed {
		return Mutation{Record: Record{Key: key}}, nil
	}

	next := prev &^ bits
	s.records[key] = next

	return Mutation{
		Record:   Record{Key: key, Mask: next},
		Previous: prev,
		Existed:  true,
	}, nil
}

func (s *MemoryStore) DeleteIfZero(_ context.Context, key Key) (bool, error) {
	if err := key.Validate(); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	mask, ok := s.records[key]
	if !ok || mask != 0 {
		return false, nil
	}
	delete(s.records, key)
	return true, nil
}

func (s *MemoryStore) ListByInstance(_ context.Context, entityType, instanceID string) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Record
	for key, mask := range s.records {
		if key.EntityType == entityType && key.InstanceID == instanceID {
			out = append(out, Record{Key: key, Mask: mask})
		}
	}
	SortRecords(out)
	return out, nil
}

// Len returns the number of stored records, zero-mask ones included.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// MemoryMembership is an in-process [Membership].
type MemoryMembership struct {
	mu      sync.RWMutex
	byActor map[string]map[string]struct{}
}

// NewMemoryMembership creates an empty [MemoryMembership].
func NewMemoryMembership() *MemoryMembership {
	return &MemoryMembership{
		byActor: make(map[string]map[string]struct{}),
	}
}

// AddMember puts actorID into groupID.
func (m *MemoryMembership) AddMember(_ context.Context, groupID, actorID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	groups, ok := m.byActor[actorID]
	if !ok {
		groups = make(map[string]struct{})
		m.byActor[actorID] = groups
	}
	groups[groupID] = struct{}{}
	return nil
}

// RemoveMember takes actorID out of groupID.
func (m *MemoryMembership) RemoveMember(_ context.Context, groupID, actorID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	groups, ok := m.byActor[actorID]
	if !ok {
		return nil
	}
	delete(groups, groupID)
	if len(groups) == 0 {
		delete(m.byActor, actorID)
	}
	return nil
}

func (m *MemoryMembership) Groups(_ context.Context, actorID string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	groups := m.byActor[actorID]
	out := make([]string, 0, len(groups))
	for g := range groups {
		out = append(out, g)
	}
	sort.Strings(out)
	return out, nil
}

// SortRecords orders records actors first, then by subject ID.
func SortRecords(records []Record) {
	sort.Slice(records, func(i, j int) bool {
		a, b := records[i].Key, records[j].Key
		if a.Kind != b.Kind {
			return a.Kind < b.Kind
		}
		return a.SubjectID < b.SubjectID
	})
}
