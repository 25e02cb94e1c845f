// Package cyclehistory keeps a bounded rolling history of dealer cycles,
// keyed by dealer type, for feeding condensed context into future cycles.
package cyclehistory

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
	DefaultDir   = "./wal/cycles"
	segmentLimit = 100
	maxSegments  = 10

	cycleKeyPrefix = "cycle_"
)

// WALStore persists cycle records in a WAL, bounded to the last
// domain.CycleHistoryDepth entries per dealer type.
type WALStore struct {
	wal *gowal.Wal
	mu  sync.Mutex

	// recent mirrors the WAL tail so reads don't replay segments.
	recent map[string][]domain.CycleRecord
}

// NewWALStore initializes the cycle history store, replaying existing
// records into the in-memory tail.
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
		return nil, errors.Wrap(err, "init cycle history WAL")
	}

	s := &WALStore{
		wal:    wal,
		recent: make(map[string][]domain.CycleRecord),
	}

	for msg := range wal.Iterator() {
		if !strings.HasPrefix(msg.Key, cycleKeyPrefix) {
			continue
		}
		dealerType := strings.TrimPrefix(msg.Key, cycleKeyPrefix)

		var record domain.CycleRecord
		if err := json.Unmarshal(msg.Value, &record); err != nil {
			continue
		}
		s.recent[dealerType] = appendBounded(s.recent[dealerType], record)
	}

	return s, nil
}

// Append records a completed cycle for the dealer type.
func (s *WALStore) Append(dealerType string, record domain.CycleRecord) error {
	if s == nil || s.wal == nil {
		return errors.New("cycle history store is not initialized")
	}
	if dealerType == "" {
		return errors.New("dealer type is required")
	}

	payload, err := json.Marshal(record)
	if err != nil {
		return errors.Wrap(err, "marshal cycle record")
	}

	key := fmt.Sprintf("%s%s", cycleKeyPrefix, dealerType)

	s.mu.Lock()
	defer s.mu.Unlock()

	nextIndex := s.wal.CurrentIndex() + 1
	if err := s.wal.Write(nextIndex, key, payload); err != nil {
		return errors.Wrap(err, "write cycle record")
	}

	s.recent[dealerType] = appendBounded(s.recent[dealerType], record)
	return nil
}

// Recent returns up to the last domain.CycleHistoryDepth cycle records for
// the dealer type, oldest first.
func (s *WALStore) Recent(dealerType string) []domain.CycleRecord {
	if s == nil {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	records := s.recent[dealerType]
	out := make([]domain.CycleRecord, len(records))
	copy(out, records)
	return out
}

// Close closes the underlying WAL.
func (s *WALStore) Close() error {
	if s == nil || s.wal == nil {
		return errors.New("cycle history store is not initialized")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.wal.Close()
}

func appendBounded(records []domain.CycleRecord, record domain.CycleRecord) []domain.CycleRecord {
	records = append(records, record)
	if len(records) > domain.CycleHistoryDepth {
		records = records[len(records)-domain.CycleHistoryDepth:]
	}
	return records
}
