package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/cognicore/usermodel/pkg/usermodel/events"
	"github.com/cognicore/usermodel/pkg/usermodel/internalerr"
	"github.com/cognicore/usermodel/pkg/usermodel/state"
	"github.com/cognicore/usermodel/pkg/usermodel/store"
)

// Store is an in-memory implementation of store.Store for tests.
type Store struct {
	mu       sync.RWMutex
	profiles map[string]state.Snapshot
	events   []events.Event
	eventIDs map[string]struct{}
}

// New creates a new in-memory store.
func New() *Store {
	return &Store{
		profiles: make(map[string]state.Snapshot),
		eventIDs: make(map[string]struct{}),
	}
}

// Close implements store.Store.
func (s *Store) Close() error { return nil }

// SaveState stores a deep copy of snap.
func (s *Store) SaveState(ctx context.Context, profile string, snap state.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[store.ProfileName(profile)] = snap.Clone()
	return nil
}

// LoadState returns a copy of the saved snapshot.
func (s *Store) LoadState(ctx context.Context, profile string) (state.Snapshot, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.profiles[store.ProfileName(profile)]
	if !ok {
		return state.Snapshot{}, false, nil
	}
	return snap.Clone(), true, nil
}

// DeleteState removes profile.
func (s *Store) DeleteState(ctx context.Context, profile string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	name := store.ProfileName(profile)
	if _, ok := s.profiles[name]; !ok {
		return fmt.Errorf("profile %s: %w", name, internalerr.ErrNotFound)
	}
	delete(s.profiles, name)
	return nil
}

// Profiles lists saved profile names in order.
func (s *Store) Profiles(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.profiles))
	for name := range s.profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// AppendEvent records e once per id.
func (s *Store) AppendEvent(ctx context.Context, e events.Event) error {
	if e.ID == "" {
		return fmt.Errorf("event %q without id: %w", e.Tag, internalerr.ErrInvalidInput)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.eventIDs[e.ID]; dup {
		return nil
	}
	s.eventIDs[e.ID] = struct{}{}
	s.events = append(s.events, e)
	return nil
}

// RecentEvents returns up to limit events, newest first.
func (s *Store) RecentEvents(ctx context.Context, limit int) ([]events.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 20
	}
	out := append([]events.Event(nil), s.events...)
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].At.Equal(out[j].At) {
			return out[i].At.After(out[j].At)
		}
		return out[i].ID > out[j].ID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

var _ store.Store = (*Store)(nil)
