package service

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/South-Winder12138/mineru-service/model"
)

// TaskStore is the task registry. Implementations must be safe for concurrent
// use and must hand out copies, never their own entries.
type TaskStore interface {
	Insert(task *model.Task) error
	Get(id string) (model.Task, bool)
	List(offset, limit int) ([]model.Task, int)
	Delete(id string) (model.Task, bool)
	MarkProcessing(id string, at time.Time) error
	Complete(id string, result *model.ExtractionResult, at time.Time) error
	Fail(id, message string, at time.Time) error
	Count() int
}

type storedTask struct {
	task *model.Task
	seq  uint64
}

// MemoryTaskStore keeps tasks in process memory; they are lost on restart
type MemoryTaskStore struct {
	tasks map[string]*storedTask
	seq   uint64
	mu    sync.RWMutex
}

func NewMemoryTaskStore() *MemoryTaskStore {
	return &MemoryTaskStore{tasks: make(map[string]*storedTask)}
}

func (s *MemoryTaskStore) Insert(task *model.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tasks[task.ID]; exists {
		return fmt.Errorf("task %s already exists", task.ID)
	}
	s.seq++
	stored := task.Clone()
	s.tasks[task.ID] = &storedTask{task: &stored, seq: s.seq}
	return nil
}

func (s *MemoryTaskStore) Get(id string) (model.Task, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.tasks[id]
	if !ok {
		return model.Task{}, false
	}
	return st.task.Clone(), true
}

// List returns one page of tasks, newest first, and the total count
func (s *MemoryTaskStore) List(offset, limit int) ([]model.Task, int) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := make([]*storedTask, 0, len(s.tasks))
	for _, st := range s.tasks {
		all = append(all, st)
	}
	sort.Slice(all, func(i, j int) bool {
		a, b := all[i], all[j]
		if !a.task.CreatedAt.Equal(b.task.CreatedAt) {
			return a.task.CreatedAt.After(b.task.CreatedAt)
		}
		return a.seq > b.seq
	})

	total := len(all)
	if offset >= total {
		return []model.Task{}, total
	}
	end := min(offset+limit, total)

	page := make([]model.Task, 0, end-offset)
	for _, st := range all[offset:end] {
		page = append(page, st.task.Clone())
	}
	return page, total
}

func (s *MemoryTaskStore) Delete(id string) (model.Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.tasks[id]
	if !ok {
		return model.Task{}, false
	}
	delete(s.tasks, id)
	return *st.task, true
}

func (s *MemoryTaskStore) MarkProcessing(id string, at time.Time) error {
	return s.transition(id, model.StatusProcessing, func(t *model.Task) {
		t.StartedAt = &at
	})
}

func (s *MemoryTaskStore) Complete(id string, result *model.ExtractionResult, at time.Time) error {
	return s.transition(id, model.StatusCompleted, func(t *model.Task) {
		t.Result = result.Clone()
		t.CompletedAt = &at
	})
}

func (s *MemoryTaskStore) Fail(id, message string, at time.Time) error {
	return s.transition(id, model.StatusFailed, func(t *model.Task) {
		t.ErrorMessage = message
		t.CompletedAt = &at
	})
}

// transition applies a status change and its fields atomically
func (s *MemoryTaskStore) transition(id string, next model.TaskStatus, apply func(*model.Task)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.tasks[id]
	if !ok {
		return ErrTaskNotFound
	}
	if !st.task.Status.CanTransition(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, st.task.Status, next)
	}
	st.task.Status = next
	apply(st.task)
	return nil
}

// Count returns the number of tasks in the store
func (s *MemoryTaskStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tasks)
}
