// Package selector provides weighted random selection of user tasks.
package selector

import (
	"cmp"
	"crypto/rand"
	"errors"
	"math/big"
	"slices"
	"sync"
)

// Errors returned by the selector package.
var (
	// ErrNoTasks is returned when there is nothing with a positive weight to select.
	ErrNoTasks = errors.New("selector: no tasks available")
	// ErrInvalidWeight is returned when a task has a negative weight.
	ErrInvalidWeight = errors.New("selector: invalid weight")
	// ErrEmptyName is returned when a task is registered without a name.
	ErrEmptyName = errors.New("selector: task name is required")
)

// weightedEntry is one slot of the cumulative weight table.
type weightedEntry[T any] struct {
	name             string
	item             T
	cumulativeWeight int
}

type registration[T any] struct {
	item   T
	weight int
}

// WeightedSelector picks registered items at random in proportion to their
// weights. Items with weight 0 are kept but never selected. It is safe for
// concurrent use.
type WeightedSelector[T any] struct {
	mu sync.RWMutex

	items       map[string]registration[T]
	entries     []weightedEntry[T]
	totalWeight int
}

// NewWeightedSelector creates an empty selector.
func NewWeightedSelector[T any]() *WeightedSelector[T] {
	return &WeightedSelector[T]{
		items: make(map[string]registration[T]),
	}
}

// Register adds or replaces an item under name.
func (s *WeightedSelector[T]) Register(name string, weight int, item T) error {
	if name == "" {
		return ErrEmptyName
	}
	if weight < 0 {
		return ErrInvalidWeight
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.items[name] = registration[T]{item: item, weight: weight}
	s.rebuild()
	return nil
}

// rebuild recomputes the cumulative table. Entries are ordered by name so
// the table is stable across map iteration. Caller must hold the lock.
func (s *WeightedSelector[T]) rebuild() {
	names := make([]string, 0, len(s.items))
	for name := range s.items {
		names = append(names, name)
	}
	slices.SortFunc(names, cmp.Compare[string])

	s.entries = s.entries[:0]
	s.totalWeight = 0
	for _, name := range names {
		reg := s.items[name]
		if reg.weight == 0 {
			continue
		}
		s.totalWeight += reg.weight
		s.entries = append(s.entries, weightedEntry[T]{
			name:             name,
			item:             reg.item,
			cumulativeWeight: s.totalWeight,
		})
	}
}

// Select returns a random item and its name.
func (s *WeightedSelector[T]) Select() (string, T, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var zero T
	if len(s.entries) == 0 || s.totalWeight == 0 {
		return "", zero, ErrNoTasks
	}

	// Generate random number in range [0, totalWeight)
	n, err := rand.Int(rand.Reader, big.NewInt(int64(s.totalWeight)))
	if err != nil {
		return "", zero, err
	}
	target := int(n.Int64())

	// Binary search for the entry
	low, high := 0, len(s.entries)-1
	for low < high {
		mid := (low + high) / 2
		if s.entries[mid].cumulativeWeight <= target {
			low = mid + 1
		} else {
			high = mid
		}
	}

	e := s.entries[low]
	return e.name, e.item, nil
}
