package persistence

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/taskmesh/taskmesh/types"
)

// MemoryStore is an in-process archive, mainly for tests and small
// deployments without a database.
type MemoryStore struct {
	mu     sync.RWMutex
	tasks  map[string]*TaskRecord
	closed bool
}

// NewMemoryStore creates an empty in-memory archive.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tasks: make(map[string]*TaskRecord)}
}

// SaveTask stores or replaces a record by task id.
func (s *MemoryStore) SaveTask(_ context.Context, rec *TaskRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return types.NewError(types.ErrStoreClosed, "save task")
	}
	cp := *rec
	s.tasks[rec.TaskID] = &cp
	return nil
}

// GetTask retrieves a record by task id.
func (s *MemoryStore) GetTask(_ context.Context, taskID string) (*TaskRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, types.NewError(types.ErrStoreClosed, "get task")
	}
	rec, ok := s.tasks[taskID]
	if !ok {
		return nil, types.NewError(types.ErrTaskNotFound, "archive lookup").WithTask(taskID)
	}
	cp := *rec
	return &cp, nil
}

// ListTasks returns records matching the filter, newest first.
func (s *MemoryStore) ListTasks(_ context.Context, filter Filter) ([]*TaskRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, types.NewError(types.ErrStoreClosed, "list tasks")
	}

	var out []*TaskRecord
	for _, rec := range s.tasks {
		if !matches(rec, filter) {
			continue
		}
		cp := *rec
		out = append(out, &cp)
	}
	sortBySettledDesc(out)
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// Cleanup removes records settled before the retention window.
func (s *MemoryStore) Cleanup(_ context.Context, olderThan time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, types.NewError(types.ErrStoreClosed, "cleanup")
	}

	cutoff := time.Now().Add(-olderThan)
	removed := 0
	for id, rec := range s.tasks {
		if rec.SettledAt.Before(cutoff) {
			delete(s.tasks, id)
			removed++
		}
	}
	return removed, nil
}

// Stats summarizes the archive contents.
func (s *MemoryStore) Stats(_ context.Context) (*Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, types.NewError(types.ErrStoreClosed, "stats")
	}

	stats := &Stats{
		StatusCounts: make(map[string]int64),
		WorkerCounts: make(map[string]int64),
	}
	for _, rec := range s.tasks {
		stats.TotalTasks++
		stats.StatusCounts[rec.Status]++
		if rec.AssignedWorker != "" {
			stats.WorkerCounts[rec.AssignedWorker]++
		}
		stats.TotalHandoffs += int64(rec.Handoffs)
		settled := rec.SettledAt
		if stats.OldestSettled == nil || settled.Before(*stats.OldestSettled) {
			t := settled
			stats.OldestSettled = &t
		}
		if stats.NewestSettled == nil || settled.After(*stats.NewestSettled) {
			t := settled
			stats.NewestSettled = &t
		}
	}
	return stats, nil
}

// Close marks the store closed.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func matches(rec *TaskRecord, filter Filter) bool {
	if filter.Status != "" && rec.Status != filter.Status {
		return false
	}
	if filter.Worker != "" && rec.AssignedWorker != filter.Worker {
		return false
	}
	if filter.Priority != "" && rec.Priority != filter.Priority {
		return false
	}
	if filter.SettledAfter != nil && rec.SettledAt.Before(*filter.SettledAfter) {
		return false
	}
	if filter.SettledBefore != nil && rec.SettledAt.After(*filter.SettledBefore) {
		return false
	}
	return true
}

func sortBySettledDesc(recs []*TaskRecord) {
	sort.Slice(recs, func(i, j int) bool {
		return recs[i].SettledAt.After(recs[j].SettledAt)
	})
}
