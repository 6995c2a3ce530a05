// Package store provides an in-memory dispatch.Repository.
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/warp/tanker-dispatch/dispatch"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory stores deep copies, so callers can never mutate stored state
// through a returned pointer.
type Memory struct {
	mu      sync.RWMutex
	days    map[string]*dispatch.TankerDay
	tankers map[string]dispatch.Tanker
}

func NewMemory() *Memory {
	return &Memory{
		days:    make(map[string]*dispatch.TankerDay),
		tankers: make(map[string]dispatch.Tanker),
	}
}

// Create inserts day with Version 1.
func (m *Memory) Create(_ context.Context, day *dispatch.TankerDay) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.days[day.ID]; exists {
		return fmt.Errorf("tanker day for %s on %s: %w",
			day.TankerID, day.Date.Format(dispatch.DateLayout), dispatch.ErrAlreadyExists)
	}
	day.Version = 1
	m.days[day.ID] = day.Clone()
	return nil
}

func (m *Memory) Load(_ context.Context, id string) (*dispatch.TankerDay, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	day, ok := m.days[id]
	if !ok {
		return nil, fmt.Errorf("tanker day %s: %w", id, dispatch.ErrNotFound)
	}
	return day.Clone(), nil
}

// Save is a compare-and-swap on Version.
func (m *Memory) Save(_ context.Context, day *dispatch.TankerDay, expectedVersion int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.days[day.ID]
	if !ok {
		return fmt.Errorf("tanker day %s: %w", day.ID, dispatch.ErrNotFound)
	}
	if current.Version != expectedVersion {
		return fmt.Errorf("tanker day %s at version %d, expected %d: %w",
			day.ID, current.Version, expectedVersion, dispatch.ErrConcurrentModification)
	}
	if len(day.Timeline) < len(current.Timeline) {
		return fmt.Errorf("tanker day %s: timeline is append-only", day.ID)
	}
	day.Version = expectedVersion + 1
	m.days[day.ID] = day.Clone()
	return nil
}

func (m *Memory) ListByDate(ctx context.Context, date time.Time) ([]dispatch.TankerDay, error) {
	return m.ListInRange(ctx, date, date)
}

func (m *Memory) ListInRange(_ context.Context, from, to time.Time) ([]dispatch.TankerDay, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	from, to = dispatch.DateOf(from), dispatch.DateOf(to)
	var result []dispatch.TankerDay
	for _, d := range m.days {
		if d.Date.Before(from) || d.Date.After(to) {
			continue
		}
		result = append(result, *d.Clone())
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].Date.Equal(result[j].Date) {
			return result[i].Date.Before(result[j].Date)
		}
		return result[i].TankerID < result[j].TankerID
	})
	return result, nil
}

// =============================================================================
// TANKER DIRECTORY
// =============================================================================

func (m *Memory) GetTanker(_ context.Context, id string) (*dispatch.Tanker, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.tankers[id]
	if !ok {
		return nil, fmt.Errorf("%s: %w", id, dispatch.ErrTankerNotFound)
	}
	t.Compartments = append([]dispatch.Compartment(nil), t.Compartments...)
	return &t, nil
}

func (m *Memory) ListTankers(_ context.Context) ([]dispatch.Tanker, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]dispatch.Tanker, 0, len(m.tankers))
	for _, t := range m.tankers {
		t.Compartments = append([]dispatch.Compartment(nil), t.Compartments...)
		result = append(result, t)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result, nil
}

func (m *Memory) SaveTanker(_ context.Context, t dispatch.Tanker) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t.Compartments = append([]dispatch.Compartment(nil), t.Compartments...)
	m.tankers[t.ID] = t
	return nil
}

// Reset clears all data (for testing/demo).
func (m *Memory) Reset(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.days = make(map[string]*dispatch.TankerDay)
	m.tankers = make(map[string]dispatch.Tanker)
	return nil
}
