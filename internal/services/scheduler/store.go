package scheduler

import (
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/quantfold/dealer/internal/domain"
)

// TaskJournal persists task state. Every mutation writes the full task so
// recovery only needs the last record per id.
type TaskJournal interface {
	Save(task *domain.ScheduledTask) error
	Load() (map[string]*domain.ScheduledTask, error)
	Close() error
}

// TaskStore holds all scheduled tasks in memory and journals every state
// transition. It is the only component allowed to mutate task status.
type TaskStore struct {
	mu      sync.RWMutex
	tasks   map[string]*domain.ScheduledTask
	journal TaskJournal
	logger  *zap.Logger
}

// NewTaskStore loads persisted tasks and recovers tasks stranded in
// executing by a crash: their real outcome is unknown, so they are failed
// with an annotation instead of being silently re-armed.
func NewTaskStore(journal TaskJournal, logger *zap.Logger) (*TaskStore, error) {
	loaded, err := journal.Load()
	if err != nil {
		return nil, errors.Wrap(err, "load tasks")
	}

	store := &TaskStore{
		tasks:   loaded,
		journal: journal,
		logger:  logger,
	}

	for _, task := range loaded {
		if task.Status != domain.TaskStatusExecuting {
			continue
		}
		task.Status = domain.TaskStatusFailed
		task.Result = "execution interrupted by restart, verify manually"
		if err := journal.Save(task); err != nil {
			return nil, errors.Wrapf(err, "recover task %s", task.ID)
		}
		logger.Warn("recovered task stranded in executing",
			zap.String("task", task.ID))
	}

	return store, nil
}

// Create validates and persists a new task.
func (s *TaskStore) Create(task *domain.ScheduledTask) error {
	if err := task.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tasks[task.ID]; exists {
		return errors.Errorf("task %s already exists", task.ID)
	}
	if err := s.journal.Save(task); err != nil {
		return errors.Wrap(err, "persist task")
	}
	s.tasks[task.ID] = task

	return nil
}

// Get returns a copy of the task, so callers cannot mutate stored state.
func (s *TaskStore) Get(id string) (*domain.ScheduledTask, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	task, ok := s.tasks[id]
	if !ok {
		return nil, false
	}
	clone := *task
	return &clone, true
}

// ActiveSnapshot returns copies of all tasks currently in active status.
func (s *TaskStore) ActiveSnapshot() []*domain.ScheduledTask {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var active []*domain.ScheduledTask
	for _, task := range s.tasks {
		if task.Status != domain.TaskStatusActive {
			continue
		}
		clone := *task
		active = append(active, &clone)
	}
	return active
}

// All returns copies of every task, including terminal ones kept for audit.
func (s *TaskStore) All() []*domain.ScheduledTask {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := make([]*domain.ScheduledTask, 0, len(s.tasks))
	for _, task := range s.tasks {
		clone := *task
		all = append(all, &clone)
	}
	return all
}

// Claim atomically transitions a task from active to executing. Returns
// false if the task is gone or not active, so a second tick can never claim
// a task already in flight.
func (s *TaskStore) Claim(id string) (*domain.ScheduledTask, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[id]
	if !ok || task.Status != domain.TaskStatusActive {
		return nil, false
	}

	task.Status = domain.TaskStatusExecuting
	if err := s.journal.Save(task); err != nil {
		task.Status = domain.TaskStatusActive
		s.logger.Error("failed to persist task claim",
			zap.String("task", id),
			zap.Error(err))
		return nil, false
	}

	clone := *task
	return &clone, true
}

// Complete marks an executing task as completed with a result message.
func (s *TaskStore) Complete(id, result string) error {
	return s.finish(id, domain.TaskStatusCompleted, result)
}

// Fail marks an executing task as failed with a result message.
func (s *TaskStore) Fail(id, result string) error {
	return s.finish(id, domain.TaskStatusFailed, result)
}

func (s *TaskStore) finish(id string, status domain.TaskStatus, result string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[id]
	if !ok {
		return errors.Errorf("task %s not found", id)
	}
	if task.Status != domain.TaskStatusExecuting {
		return errors.Errorf("task %s is %s, expected executing", id, task.Status)
	}

	now := time.Now()
	task.Status = status
	task.LastExecuted = &now
	task.Result = result

	return errors.Wrap(s.journal.Save(task), "persist task result")
}

// Close flushes the journal.
func (s *TaskStore) Close() error {
	return s.journal.Close()
}
