package checkpoint

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore 将检查点保存在进程内存中，用于测试和单机演示。
type MemoryStore struct {
	mu    sync.RWMutex
	byID  map[string]*Snapshot
	byRun map[string][]*Snapshot
}

// NewMemoryStore 创建内存检查点存储。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:  make(map[string]*Snapshot),
		byRun: make(map[string][]*Snapshot),
	}
}

func (s *MemoryStore) Save(_ context.Context, snapshot *Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *snapshot
	s.byID[cp.ID] = &cp
	s.byRun[cp.RunID] = append(s.byRun[cp.RunID], &cp)
	sort.Slice(s.byRun[cp.RunID], func(i, j int) bool {
		return s.byRun[cp.RunID][i].Version < s.byRun[cp.RunID][j].Version
	})
	return nil
}

func (s *MemoryStore) Load(_ context.Context, snapshotID string) (*Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snapshot, ok := s.byID[snapshotID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *snapshot
	return &cp, nil
}

func (s *MemoryStore) LoadLatest(_ context.Context, runID string) (*Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	versions := s.byRun[runID]
	if len(versions) == 0 {
		return nil, ErrNotFound
	}
	cp := *versions[len(versions)-1]
	return &cp, nil
}

func (s *MemoryStore) List(_ context.Context, runID string) ([]*Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Snapshot, 0, len(s.byRun[runID]))
	for _, snapshot := range s.byRun[runID] {
		cp := *snapshot
		out = append(out, &cp)
	}
	return out, nil
}

func (s *MemoryStore) Delete(_ context.Context, snapshotID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot, ok := s.byID[snapshotID]
	if !ok {
		return ErrNotFound
	}
	delete(s.byID, snapshotID)

	versions := s.byRun[snapshot.RunID]
	for i, v := range versions {
		if v.ID == snapshotID {
			s.byRun[snapshot.RunID] = append(versions[:i], versions[i+1:]...)
			break
		}
	}
	return nil
}

func (s *MemoryStore) DeleteRun(_ context.Context, runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, snapshot := range s.byRun[runID] {
		delete(s.byID, snapshot.ID)
	}
	delete(s.byRun, runID)
	return nil
}
