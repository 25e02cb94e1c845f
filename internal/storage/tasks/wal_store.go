// Package tasks persists scheduled tasks in a WAL. Each write records the
// full task state keyed by task id; recovery keeps the last write per id.
package tasks

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/vadiminshakov/gowal"

	"github.com/quantfold/dealer/internal/domain"
)

const (
	DefaultDir   = "./wal/tasks"
	segmentLimit = 1000
	maxSegments  = 100

	taskKeyPrefix = "task_"
)

// WALStore persists scheduled tasks in a WAL.
type WALStore struct {
	wal *gowal.Wal
	mu  sync.Mutex
}

// NewWALStore initializes a WAL-backed task store.
func NewWALStore(dir string) (*WALStore, error) {
	if dir == "" {
		dir = DefaultDir
	}

	cfg := gowal.Config{
		Dir:              dir,
		Prefix:           "log_",
		SegmentThreshold: segmentLimit,
		MaxSegments:      maxSegments,
		IsInSyncDiskMode: true,
	}

	wal, err := gowal.NewWAL(cfg)
	if err != nil {
		return nil, errors.Wrap(err, "init task WAL")
	}

	return &WALStore{wal: wal}, nil
}

// Save writes the task's current state. Called on creation and on every
// status transition, so the WAL always holds the latest state last.
func (s *WALStore) Save(task *domain.ScheduledTask) error {
	if s == nil || s.wal == nil {
		return errors.New("task store is not initialized")
	}
	if task.ID == "" {
		return errors.New("task id is required")
	}

	payload, err := json.Marshal(task)
	if err != nil {
		return errors.Wrap(err, "marshal task")
	}

	key := fmt.Sprintf("%s%s", taskKeyPrefix, task.ID)

	s.mu.Lock()
	defer s.mu.Unlock()

	nextIndex := s.wal.CurrentIndex() + 1
	return s.wal.Write(nextIndex, key, payload)
}

// Load replays the WAL and returns the latest state of every task.
func (s *WALStore) Load() (map[string]*domain.ScheduledTask, error) {
	if s == nil || s.wal == nil {
		return nil, errors.New("task store is not initialized")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tasks := make(map[string]*domain.ScheduledTask)
	for msg := range s.wal.Iterator() {
		if !strings.HasPrefix(msg.Key, taskKeyPrefix) {
			continue
		}

		var task domain.ScheduledTask
		if err := json.Unmarshal(msg.Value, &task); err != nil {
			return nil, errors.Wrapf(err, "decode task %s", msg.Key)
		}
		tasks[task.ID] = &task
	}

	return tasks, nil
}

// Close closes the underlying WAL.
func (s *WALStore) Close() error {
	if s == nil || s.wal == nil {
		return errors.New("task store is not initialized")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.wal.Close()
}
