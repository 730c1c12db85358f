// Package stats persists per-symbol cycle statistics: every completed
// round trip, the running profit total and the cycle counter that gives
// new cycles their ids across restarts.
package stats

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// TradeRecord is one completed cycle in the persistent history
type TradeRecord struct {
	CycleID     int       `json:"cycle_id"`
	EntryPrice  float64   `json:"entry_price"`
	ExitPrice   float64   `json:"exit_price"`
	Quantity    float64   `json:"quantity"`
	Profit      float64   `json:"profit"`
	Emergency   bool      `json:"emergency,omitempty"`
	CompletedAt time.Time `json:"completed_at"`
}

// symbolStats is the on-disk shape of the per-symbol record
type symbolStats struct {
	Symbol           string        `json:"symbol"`
	TotalCycles      int           `json:"total_cycles"`
	SuccessfulCycles int           `json:"successful_cycles"`
	TotalProfit      float64       `json:"total_profit"`
	Trades           []TradeRecord `json:"trades"`
	UpdatedAt        time.Time     `json:"updated_at"`
}

// Store loads, mutates and atomically persists the stats file for one
// symbol. Writes go through a temp file and rename so a crash mid-write
// can never corrupt the history.
type Store struct {
	mu    sync.Mutex
	path  string
	stats symbolStats
}

// NewStore opens (or initializes) the stats file for a symbol under dir
func NewStore(dir, symbol string) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create stats directory: %w", err)
	}

	s := &Store{
		path:  filepath.Join(dir, fmt.Sprintf("%s_stats.json", symbol)),
		stats: symbolStats{Symbol: symbol},
	}

	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read stats file: %w", err)
	}
	if err := json.Unmarshal(data, &s.stats); err != nil {
		return nil, fmt.Errorf("stats file %s is corrupt: %w", s.path, err)
	}
	return s, nil
}

// NextCycleID returns the id the next cycle should carry. Ids continue
// across restarts because they derive from the persisted counter.
func (s *Store) NextCycleID() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats.TotalCycles + 1
}

// RecordCycle appends a completed cycle and persists immediately
func (s *Store) RecordCycle(record TradeRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if record.CompletedAt.IsZero() {
		record.CompletedAt = time.Now()
	}

	s.stats.TotalCycles++
	if record.Profit > 0 {
		s.stats.SuccessfulCycles++
	}
	s.stats.TotalProfit += record.Profit
	s.stats.Trades = append(s.stats.Trades, record)
	s.stats.UpdatedAt = time.Now()

	return s.saveLocked()
}

// TotalCycles returns the number of completed cycles on record
func (s *Store) TotalCycles() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats.TotalCycles
}

// TotalProfit returns the cumulative realized profit
func (s *Store) TotalProfit() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats.TotalProfit
}

// SuccessfulCycles returns the number of cycles that closed in profit
func (s *Store) SuccessfulCycles() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats.SuccessfulCycles
}

// Trades returns a copy of the trade history
func (s *Store) Trades() []TradeRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	trades := make([]TradeRecord, len(s.stats.Trades))
	copy(trades, s.stats.Trades)
	return trades
}

// Path returns the location of the stats file
func (s *Store) Path() string {
	return s.path
}

// saveLocked writes the stats atomically. Caller holds the mutex.
func (s *Store) saveLocked() error {
	data, err := json.MarshalIndent(&s.stats, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal stats: %w", err)
	}

	tempFile := s.path + ".tmp"
	if err := os.WriteFile(tempFile, data, 0644); err != nil {
		return fmt.Errorf("failed to write temp stats file: %w", err)
	}
	if err := os.Rename(tempFile, s.path); err != nil {
		return fmt.Errorf("failed to replace stats file: %w", err)
	}
	return nil
}
