package session

import (
	"context"
	"sync"

	"sync-client/internal/models"
)

// MemoryStore is an in-process session store. It backs tests and embedded
// use where no shared store is available; watcher fan-out stands in for the
// cross-client storage events the redis store gets from pub/sub.
type MemoryStore struct {
	keys Keys

	mu       sync.RWMutex
	values   map[string]string
	profile  *models.UserRef
	watchers map[chan struct{}]struct{}
}

func NewMemoryStore(keys Keys) *MemoryStore {
	return &MemoryStore{
		keys:     keys,
		values:   make(map[string]string),
		watchers: make(map[chan struct{}]struct{}),
	}
}

func (s *MemoryStore) Token(ctx context.Context) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if tok := s.values[s.keys.Token]; tok != "" {
		return tok, true
	}
	if tok := s.values[s.keys.LegacyToken]; tok != "" {
		return tok, true
	}
	return "", false
}

func (s *MemoryStore) RefreshToken(ctx context.Context) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tok := s.values[s.keys.Refresh]
	return tok, tok != ""
}

func (s *MemoryStore) Profile(ctx context.Context) (*models.UserRef, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.profile == nil {
		return nil, false
	}
	cp := *s.profile
	return &cp, true
}

func (s *MemoryStore) Watch(ctx context.Context) <-chan struct{} {
	ch := make(chan struct{}, 1)
	s.mu.Lock()
	s.watchers[ch] = struct{}{}
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		delete(s.watchers, ch)
		s.mu.Unlock()
		close(ch)
	}()
	return ch
}

// SetToken writes the primary access token slot.
func (s *MemoryStore) SetToken(tok string) {
	s.set(s.keys.Token, tok)
}

// SetLegacyToken writes the legacy access token slot.
func (s *MemoryStore) SetLegacyToken(tok string) {
	s.set(s.keys.LegacyToken, tok)
}

func (s *MemoryStore) SetRefreshToken(tok string) {
	s.set(s.keys.Refresh, tok)
}

func (s *MemoryStore) SetProfile(u *models.UserRef) {
	s.mu.Lock()
	s.profile = u
	s.mu.Unlock()
	s.notify()
}

// Clear wipes the session, the logout transition.
func (s *MemoryStore) Clear() {
	s.mu.Lock()
	s.values = make(map[string]string)
	s.profile = nil
	s.mu.Unlock()
	s.notify()
}

func (s *MemoryStore) set(key, val string) {
	s.mu.Lock()
	if val == "" {
		delete(s.values, key)
	} else {
		s.values[key] = val
	}
	s.mu.Unlock()
	s.notify()
}

func (s *MemoryStore) notify() {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for ch := range s.watchers {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}
