package character

import (
	"context"
	"errors"
	"slices"
	"sync"
)

// Store persists characters. Implementations must be safe for concurrent
// use.
type Store interface {
	// Get returns the character with id, or [ErrNotFound].
	Get(ctx context.Context, id string) (Character, error)

	// List returns every character in insertion order.
	List(ctx context.Context) ([]Character, error)

	// Put validates c and creates or replaces it.
	Put(ctx context.Context, c Character) error

	// Delete removes the character with id. Deleting an unknown id is not an
	// error.
	Delete(ctx context.Context, id string) error
}

// MemStore is an in-memory [Store].
type MemStore struct {
	mu    sync.RWMutex
	order []string
	byID  map[string]Character
}

var _ Store = (*MemStore)(nil)

// NewMemStore returns a store seeded with chars. Invalid seeds are skipped
// and reported in the returned error.
func NewMemStore(chars ...Character) (*MemStore, error) {
	s := &MemStore{byID: make(map[string]Character, len(chars))}
	var errs []error
	for _, c := range chars {
		if err := s.Put(context.Background(), c); err != nil {
			errs = append(errs, err)
		}
	}
	return s, errors.Join(errs...)
}

// Get implements Store.
func (s *MemStore) Get(_ context.Context, id string) (Character, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.byID[id]
	if !ok {
		return Character{}, ErrNotFound
	}
	return clone(c), nil
}

// List implements Store.
func (s *MemStore) List(context.Context) ([]Character, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Character, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, clone(s.byID[id]))
	}
	return out, nil
}

// Put implements Store.
func (s *MemStore) Put(_ context.Context, c Character) error {
	if err := c.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[c.ID]; !ok {
		s.order = append(s.order, c.ID)
	}
	s.byID[c.ID] = clone(c)
	return nil
}

// Delete implements Store.
func (s *MemStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[id]; !ok {
		return nil
	}
	delete(s.byID, id)
	s.order = slices.DeleteFunc(s.order, func(v string) bool { return v == id })
	return nil
}

// Replace swaps the whole content of the store for chars, e.g. after the
// seed list in the config file changed.
func (s *MemStore) Replace(chars []Character) error {
	for _, c := range chars {
		if err := c.Validate(); err != nil {
			return err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.order = s.order[:0]
	clear(s.byID)
	for _, c := range chars {
		if _, ok := s.byID[c.ID]; !ok {
			s.order = append(s.order, c.ID)
		}
		s.byID[c.ID] = clone(c)
	}
	return nil
}

func clone(c Character) Character {
	c.CustomInstructions = slices.Clone(c.CustomInstructions)
	return c
}
