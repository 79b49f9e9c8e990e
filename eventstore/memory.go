package eventstore

import (
	"context"
	"sync"
)

const defaultPackSize = 1000

// memoryStore is the non-durable ring-style backend: a plain FIFO slice
// guarded by one mutex, modeled on the teacher's append-and-scan Store
// type but shaped as a pack queue instead of a time-ranged event log.
type memoryStore struct {
	mu       sync.Mutex
	queue    [][]byte
	pending  [][]byte
	packSize int
}

func newMemoryStore(config map[string]any) (Store, error) {
	packSize := defaultPackSize
	if v, ok := config["packSize"].(float64); ok && v > 0 {
		packSize = int(v)
	}
	return &memoryStore{packSize: packSize}, nil
}

func init() {
	Register("memory", newMemoryStore)
}

func (s *memoryStore) Put(ctx context.Context, record []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := append([]byte(nil), record...)
	s.queue = append(s.queue, cp)
	return true
}

func (s *memoryStore) GetEventPack(ctx context.Context) ([][]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.pending) > 0 {
		return s.pending, nil
	}
	if len(s.queue) == 0 {
		return nil, nil
	}

	n := s.packSize
	if n > len(s.queue) {
		n = len(s.queue)
	}
	s.pending = s.queue[:n]
	s.queue = s.queue[n:]
	return s.pending, nil
}

func (s *memoryStore) EventPackProcessingDone(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = nil
	return nil
}

func (s *memoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue) + len(s.pending)
}

func (s *memoryStore) Stop() error { return nil }
