// Package bufferpool provides size-classed byte buffers for staging frame
// headers and payloads. Buffers are rented for a single read or write and
// returned immediately afterwards.
package bufferpool

import (
	"math/bits"
	"sync"
)

const (
	minClassShift = 6  // 64 bytes
	maxClassShift = 20 // 1 MiB
	classCount    = maxClassShift - minClassShift + 1
)

var classes [classCount]sync.Pool

func init() {
	for i := range classes {
		size := 1 << (minClassShift + i)
		classes[i].New = func() any {
			b := make([]byte, size)
			return &b
		}
	}
}

// classFor returns the index of the smallest class holding size bytes, or
// -1 when size is larger than the biggest class.
func classFor(size int) int {
	if size <= 1<<minClassShift {
		return 0
	}

	shift := bits.Len(uint(size - 1))
	if shift > maxClassShift {
		return -1
	}

	return shift - minClassShift
}

// Rent returns a buffer of exactly size bytes. Its contents are undefined.
// Sizes above 1 MiB are allocated directly and never pooled.
//
// Parameters:
//   - size: Number of bytes needed
//
// Returns:
//   - A byte slice with len == size
func Rent(size int) []byte {
	c := classFor(size)
	if c < 0 {
		return make([]byte, size)
	}

	bp := classes[c].Get().(*[]byte)
	return (*bp)[:size]
}

// Return gives a buffer obtained from Rent back to the pool. The caller must
// not touch the buffer afterwards. Buffers whose capacity is not an exact
// class size are dropped.
//
// Parameters:
//   - b: The buffer to recycle
func Return(b []byte) {
	c := cap(b)
	if c < 1<<minClassShift || c > 1<<maxClassShift || c&(c-1) != 0 {
		return
	}

	b = b[:c]
	classes[classFor(c)].Put(&b)
}
