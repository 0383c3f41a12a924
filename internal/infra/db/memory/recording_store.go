package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/InahHwang/d-care-console-sub007/internal/domain/calls"
)

type RecordingStore struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

func NewRecordingStore() *RecordingStore {
	return &RecordingStore{blobs: make(map[string][]byte)}
}

// Put keeps the first write for a key.
func (s *RecordingStore) Put(_ context.Context, blob calls.RecordingBlob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.blobs[blob.Key]; ok {
		return nil
	}
	s.blobs[blob.Key] = append([]byte(nil), blob.Data...)
	return nil
}

func (s *RecordingStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.blobs[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", calls.ErrNoRecording, key)
	}
	return append([]byte(nil), b...), nil
}
