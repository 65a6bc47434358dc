// ABOUTME: Per-user conversation anchors remembered across turns
// ABOUTME: Concurrent turns for the same user race benignly; the last write wins

package backend

import "sync"

// AnchorStore maps a user ID to the backend's conversation ID.
type AnchorStore struct {
	mu      sync.RWMutex
	anchors map[string]string
}

// NewAnchorStore creates an empty store.
func NewAnchorStore() *AnchorStore {
	return &AnchorStore{anchors: make(map[string]string)}
}

// Get returns the anchor for userID, if any.
func (s *AnchorStore) Get(userID string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.anchors[userID]
	return id, ok
}

// Set records the anchor for userID. Empty values are ignored.
func (s *AnchorStore) Set(userID, anchor string) {
	if userID == "" || anchor == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.anchors[userID] = anchor
}

// Forget drops the anchor for userID so the next turn starts a new
// conversation.
func (s *AnchorStore) Forget(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.anchors, userID)
}

