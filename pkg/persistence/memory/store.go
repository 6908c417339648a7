// Package memory provides an in-memory implementation of persistence.Store.
package memory

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/aquasecurity/vuln-tracker/pkg/persistence"
)

// Store keeps the encoded snapshot in memory. Suitable for dev/testing.
// Keeping the encoding rather than the value means callers never share
// vulnerability lists with the store.
type Store struct {
	mu   sync.RWMutex
	data []byte
}

func NewStore() *Store {
	return &Store{}
}

func (s *Store) Load(_ context.Context) (*persistence.Snapshot, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.data == nil {
		return nil, false, nil
	}
	snapshot := persistence.NewSnapshot()
	if err := json.Unmarshal(s.data, snapshot); err != nil {
		return nil, false, persistence.Corrupted(err)
	}
	return snapshot, true, nil
}

func (s *Store) Save(_ context.Context, snapshot *persistence.Snapshot) error {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return persistence.WriteFailed(err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = data
	return nil
}
