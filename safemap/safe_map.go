// Package safemap provides a type-safe, concurrent map built on sync.Map,
// including the atomic compare-and-swap operations needed to implement
// identity policies such as "replace only if the current occupant is stale".
package safemap

import "sync"

// SafeMap is a concurrent map that is safe for use by multiple goroutines.
// It wraps sync.Map and exposes a generic, type-safe API.
//
// SafeMap must not be copied after first use. CompareAndSwap and
// CompareAndDelete require V values that are comparable at runtime (pointers,
// ids); they panic otherwise, as sync.Map does.
type SafeMap[K comparable, V any] struct {
	m sync.Map
}

// NewSafeMap returns a new, empty SafeMap.
//
// Returns:
//   - A pointer to a new SafeMap[K, V]
func NewSafeMap[K comparable, V any]() *SafeMap[K, V] {
	return &SafeMap[K, V]{}
}

// Store sets the value for key k, overwriting any existing value.
//
// Parameters:
//   - k: The key to store
//   - v: The value to associate with k
func (m *SafeMap[K, V]) Store(k K, v V) {
	m.m.Store(k, v)
}

// Load returns the value for key k and whether it was present.
//
// Parameters:
//   - k: The key to look up
//
// Returns:
//   - The value associated with k, or the zero value of V if not found
//   - true if the key was present, false otherwise
func (m *SafeMap[K, V]) Load(k K) (V, bool) {
	v, found := m.m.Load(k)
	if !found {
		var empty V
		return empty, false
	}

	return v.(V), true
}

// LoadOrStore returns the existing value for k if present. Otherwise it
// stores v and returns it.
//
// Parameters:
//   - k: The key to look up or claim
//   - v: The value to store when k is absent
//
// Returns:
//   - The value now associated with k
//   - true if the value was already present (v was not stored)
func (m *SafeMap[K, V]) LoadOrStore(k K, v V) (V, bool) {
	actual, loaded := m.m.LoadOrStore(k, v)
	return actual.(V), loaded
}

// CompareAndSwap replaces the value for k with next only if it currently
// equals prev.
//
// Returns:
//   - true if the swap happened
func (m *SafeMap[K, V]) CompareAndSwap(k K, prev, next V) bool {
	return m.m.CompareAndSwap(k, prev, next)
}

// CompareAndDelete deletes the entry for k only if its value equals v. It
// lets an owner remove its own entry without clobbering a replacement.
//
// Returns:
//   - true if the entry was deleted
func (m *SafeMap[K, V]) CompareAndDelete(k K, v V) bool {
	return m.m.CompareAndDelete(k, v)
}

// Delete removes the entry for key k. Deleting a missing key is a no-op.
//
// Parameters:
//   - k: The key to delete
func (m *SafeMap[K, V]) Delete(k K) {
	m.m.Delete(k)
}

// Range calls f sequentially for each key and value present in the map.
// If f returns false, Range stops the iteration.
//
// Parameters:
//   - f: Function called for each entry; return false to stop iteration
func (m *SafeMap[K, V]) Range(f func(k K, v V) bool) {
	m.m.Range(func(k, v any) bool {
		return f(k.(K), v.(V))
	})
}

// Len returns the number of entries in the map. It iterates over all
// entries; use sparingly on large maps.
//
// Returns:
//   - The number of key-value pairs in the map
func (m *SafeMap[K, V]) Len() int {
	length := 0
	m.Range(func(K, V) bool {
		length++
		return true
	})

	return length
}
