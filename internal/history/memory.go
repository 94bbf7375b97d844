package history

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-process store for tests and local runs.
type MemoryStore struct {
	mu    sync.RWMutex
	seq   int64
	turns map[int64][]Turn
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{turns: make(map[int64][]Turn)}
}

func (s *MemoryStore) Append(_ context.Context, userID int64, role Role, content string) (Turn, error) {
	if !role.Valid() {
		return Turn{}, fmt.Errorf("%w: %q", ErrInvalidRole, role)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	t := Turn{
		Seq:       s.seq,
		UserID:    userID,
		Role:      role,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}
	s.turns[userID] = append(s.turns[userID], t)
	return t, nil
}

func (s *MemoryStore) Recent(ctx context.Context, userID int64, limit int) ([]Turn, error) {
	return s.Before(ctx, userID, math.MaxInt64, limit)
}

func (s *MemoryStore) Before(_ context.Context, userID int64, seq int64, limit int) ([]Turn, error) {
	if limit <= 0 {
		return nil, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	arr := s.turns[userID]
	end := sort.Search(len(arr), func(i int) bool { return arr[i].Seq >= seq })
	start := end - limit
	if start < 0 {
		start = 0
	}
	out := make([]Turn, end-start)
	copy(out, arr[start:end])
	return out, nil
}

func (s *MemoryStore) Count(_ context.Context, userID int64) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.turns[userID]), nil
}

func (s *MemoryStore) Close() error { return nil }
