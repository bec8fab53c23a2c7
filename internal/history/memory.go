package history

import (
	"context"
	"sync"

	"github.com/speedwagon-io/vmc/internal/model"
)

const defaultCapacity = 100

// MemoryStore keeps the most recent snapshots in a bounded buffer.
type MemoryStore struct {
	mu       sync.RWMutex
	buffer   []*model.Snapshot
	capacity int
}

func NewMemoryStore(capacity int) *MemoryStore {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	return &MemoryStore{
		buffer:   make([]*model.Snapshot, 0, capacity),
		capacity: capacity,
	}
}

func (s *MemoryStore) Name() string {
	return "history"
}

func (s *MemoryStore) Consume(_ context.Context, snapshot *model.Snapshot) error {
	s.Add(snapshot)
	return nil
}

func (s *MemoryStore) Add(snapshot *model.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.buffer) >= s.capacity {
		copy(s.buffer, s.buffer[1:])
		s.buffer = s.buffer[:len(s.buffer)-1]
	}
	s.buffer = append(s.buffer, snapshot)
}

// GetRecent returns up to count snapshots, oldest first.
func (s *MemoryStore) GetRecent(count int) []*model.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if count <= 0 || count > len(s.buffer) {
		count = len(s.buffer)
	}
	result := make([]*model.Snapshot, count)
	copy(result, s.buffer[len(s.buffer)-count:])
	return result
}

func (s *MemoryStore) GetAll() []*model.Snapshot {
	return s.GetRecent(0)
}

// Latest returns the newest snapshot or nil.
func (s *MemoryStore) Latest(_ context.Context) (*model.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.buffer) == 0 {
		return nil, nil
	}
	return s.buffer[len(s.buffer)-1], nil
}
