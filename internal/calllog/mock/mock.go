// Package mock provides a test double for calllog.Store.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/animetalk/internal/calllog"
)

var _ calllog.Store = (*Store)(nil)

// Store records appended entries in call order.
type Store struct {
	mu      sync.Mutex
	entries []calllog.Entry

	// AppendErr, if non-nil, is returned by Append after recording.
	AppendErr error
}

// Append records e.
func (s *Store) Append(_ context.Context, e calllog.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, e)
	return s.AppendErr
}

// List returns the recorded entries, newest first.
func (s *Store) List(context.Context) ([]calllog.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]calllog.Entry, 0, len(s.entries))
	for i := len(s.entries) - 1; i >= 0; i-- {
		out = append(out, s.entries[i])
	}
	return out, nil
}

// Clear drops the recorded entries.
func (s *Store) Clear(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = nil
	return nil
}

// Entries returns a copy of the entries in append order.
func (s *Store) Entries() []calllog.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]calllog.Entry(nil), s.entries...)
}
