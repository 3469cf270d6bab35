// Package idgenerator hands out provisional connection ids. Zero is reserved
// to mean "no id", so the generator never returns it, even on wraparound.
package idgenerator

import "sync/atomic"

// IdGenerator generates increasing, non-zero uint32 ids in a
// concurrency-safe manner. The first Id() returns startValue+1.
type IdGenerator struct {
	id atomic.Uint32
}

// NewIdGenerator creates an IdGenerator whose first id is startValue+1
// (or 1 when that would be zero).
//
// Parameters:
//   - startValue: The value to initialize the counter to
//
// Returns:
//   - A new IdGenerator instance
func NewIdGenerator(startValue uint32) *IdGenerator {
	gen := &IdGenerator{}
	gen.id.Store(startValue)
	return gen
}

// Id returns the next id, skipping zero when the counter wraps.
//
// Returns:
//   - The next non-zero uint32 id
func (l *IdGenerator) Id() uint32 {
	for {
		if id := l.id.Add(1); id != 0 {
			return id
		}
	}
}
