package pipeline

import (
	"sort"
	"sync"
	"time"
)

// Stats collects record counts of a run. Units of a wave report into it
// under their own key; it is safe for concurrent use.
type Stats struct {
	mu      sync.Mutex
	read    map[string]int64
	written map[string]int64
	started time.Time
}

// NewStats creates empty stats starting now.
func NewStats() *Stats {
	return &Stats{
		read:    make(map[string]int64),
		written: make(map[string]int64),
		started: time.Now(),
	}
}

// RecordRead sets the staged record count of a dataset. A retried read
// replaces the count of the failed attempt.
func (s *Stats) RecordRead(dataset string, n int64) {
	s.mu.Lock()
	s.read[dataset] = n
	s.mu.Unlock()
}

// RecordWritten sets the written record count of a target/dataset pair.
func (s *Stats) RecordWritten(key string, n int64) {
	s.mu.Lock()
	s.written[key] = n
	s.mu.Unlock()
}

// Summary is a point-in-time copy of Stats.
type Summary struct {
	Read         map[string]int64 `json:"read"`
	Written      map[string]int64 `json:"written"`
	RecordsRead  int64            `json:"records_read"`
	RecordsWrote int64            `json:"records_written"`
	Elapsed      time.Duration    `json:"elapsed"`
}

// Summary returns a copy of the current counts.
func (s *Stats) Summary() Summary {
	s.mu.Lock()
	defer s.mu.Unlock()

	sum := Summary{
		Read:    make(map[string]int64, len(s.read)),
		Written: make(map[string]int64, len(s.written)),
		Elapsed: time.Since(s.started),
	}
	for k, v := range s.read {
		sum.Read[k] = v
		sum.RecordsRead += v
	}
	for k, v := range s.written {
		sum.Written[k] = v
		sum.RecordsWrote += v
	}
	return sum
}

// Keys returns the sorted keys of m.
func Keys(m map[string]int64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
