package preview

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/example/mammo-check/internal/upload"
)

// MemoryStore keeps previews in process memory.
type MemoryStore struct {
	mu    sync.RWMutex
	items map[string]*Preview
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[string]*Preview)}
}

func (s *MemoryStore) Put(_ context.Context, sessionID string, file *upload.File) (Handle, error) {
	h := newHandle(uuid.NewString(), sessionID, file, time.Now().UTC())
	data := append([]byte(nil), file.Data...)

	s.mu.Lock()
	s.items[h.ID] = &Preview{Handle: h, Data: data}
	s.mu.Unlock()
	return h, nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*Preview, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *MemoryStore) Release(_ context.Context, id string) error {
	s.mu.Lock()
	delete(s.items, id)
	s.mu.Unlock()
	return nil
}

// Len reports how many previews are held.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}
