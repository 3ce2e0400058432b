package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/i474232898/ensemble-forecast/internal/weather"
)

// recordHistory holds the issue-ordered forecast records of one location.
type recordHistory struct {
	records []weather.ForecastRecord
}

// MemoryStore is a concurrency-safe in-memory forecast record sink.
type MemoryStore struct {
	mu sync.RWMutex

	// key: location id, value: history
	data map[string]*recordHistory

	maxHistory int           // max number of records per location
	maxAge     time.Duration // max age of a record, by issue time
	now        func() time.Time
}

// NewMemoryStore creates a new MemoryStore with optional limits.
// If maxHistory is <= 0, it is treated as unlimited.
func NewMemoryStore(maxHistory int, maxAge time.Duration) *MemoryStore {
	return &MemoryStore{
		data:       make(map[string]*recordHistory),
		maxHistory: maxHistory,
		maxAge:     maxAge,
		now:        time.Now,
	}
}

// SaveRecords appends records to their locations' histories and enforces
// retention.
func (s *MemoryStore) SaveRecords(_ context.Context, records []weather.ForecastRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	touched := make(map[string]*recordHistory)
	for _, r := range records {
		history, ok := s.data[r.LocationID]
		if !ok {
			history = &recordHistory{}
			s.data[r.LocationID] = history
		}
		history.records = append(history.records, r)
		touched[r.LocationID] = history
	}

	for _, history := range touched {
		s.retain(history)
	}
	return nil
}

func (s *MemoryStore) retain(history *recordHistory) {
	if s.maxHistory > 0 && len(history.records) > s.maxHistory {
		over := len(history.records) - s.maxHistory
		history.records = history.records[over:]
	}

	if s.maxAge > 0 {
		cutoff := s.now().Add(-s.maxAge)
		i := 0
		for ; i < len(history.records); i++ {
			if !history.records[i].IssuedAt.Before(cutoff) {
				break
			}
		}
		history.records = history.records[i:]
	}
}

// Records returns the records of a location whose target time lies in
// [from, to], ordered by target time.
func (s *MemoryStore) Records(_ context.Context, locationID string, from, to time.Time) ([]weather.ForecastRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	history, ok := s.data[locationID]
	if !ok || len(history.records) == 0 {
		return nil, ErrNotFound
	}

	var result []weather.ForecastRecord
	for _, r := range history.records {
		if inRange(r.TargetTime, from, to) {
			result = append(result, r)
		}
	}

	if len(result) == 0 {
		return nil, ErrNotFound
	}
	sortRecords(result)
	return result, nil
}

func inRange(t, from, to time.Time) bool {
	return !t.Before(from) && !t.After(to)
}

// sortRecords orders by target time, then issue time, keeping insertion order
// for ties.
func sortRecords(records []weather.ForecastRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		if !records[i].TargetTime.Equal(records[j].TargetTime) {
			return records[i].TargetTime.Before(records[j].TargetTime)
		}
		return records[i].IssuedAt.Before(records[j].IssuedAt)
	})
}
