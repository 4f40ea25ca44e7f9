// Package generator provides data generation capabilities for the load generator.
package generator

import (
	"errors"
	"fmt"
	"strings"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
)

// ErrInvalidConfig is returned when a generator is configured with an empty range.
var ErrInvalidConfig = errors.New("generator: invalid configuration")

// ValueGenerator produces integer-valued floats drawn uniformly from
// [Min, Max). It is not safe for concurrent use; each user owns one.
type ValueGenerator struct {
	faker *gofakeit.Faker
	min   int
	max   int
}

// NewValueGenerator creates a generator over [minValue, maxValue).
func NewValueGenerator(minValue, maxValue int) (*ValueGenerator, error) {
	if maxValue <= minValue {
		return nil, fmt.Errorf("%w: empty range [%d, %d)", ErrInvalidConfig, minValue, maxValue)
	}
	return &ValueGenerator{
		faker: gofakeit.New(0), // Random seed
		min:   minValue,
		max:   maxValue,
	}, nil
}

// NewSeededValueGenerator is NewValueGenerator with a fixed seed, for
// reproducible runs.
func NewSeededValueGenerator(minValue, maxValue int, seed uint64) (*ValueGenerator, error) {
	g, err := NewValueGenerator(minValue, maxValue)
	if err != nil {
		return nil, err
	}
	g.faker = gofakeit.New(seed)
	return g, nil
}

// Next returns the next value.
func (g *ValueGenerator) Next() float64 {
	// IntRange is inclusive on both ends
	return float64(g.faker.IntRange(g.min, g.max-1))
}

// Range returns the configured bounds.
func (g *ValueGenerator) Range() (int, int) {
	return g.min, g.max
}

// NewUserID returns a fresh identifier for a simulated user.
func NewUserID() string {
	return uuid.NewString()
}

// NewSessionID returns a session identifier in the form the stickyapp
// service issues: "enc" or "open" followed by a dashless UUID.
func NewSessionID(encrypted bool) string {
	prefix := "open"
	if encrypted {
		prefix = "enc"
	}
	return prefix + strings.ReplaceAll(uuid.NewString(), "-", "")
}
