package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPutFixedLengthString(t *testing.T) {
	t.Run("short string is zero-padded", func(t *testing.T) {
		dst := []byte{9, 9, 9, 9, 9}
		n := PutFixedLengthString(dst, "ab")
		assert.Equal(t, 2, n)
		assert.Equal(t, []byte{'a', 'b', 0, 0, 0}, dst)
	})

	t.Run("exact length unchanged", func(t *testing.T) {
		dst := make([]byte, 5)
		n := PutFixedLengthString(dst, "hello")
		assert.Equal(t, 5, n)
		assert.Equal(t, []byte("hello"), dst)
	})

	t.Run("long string is truncated", func(t *testing.T) {
		dst := make([]byte, 5)
		n := PutFixedLengthString(dst, "hello world")
		assert.Equal(t, 5, n)
		assert.Equal(t, []byte("hello"), dst)
	})

	t.Run("truncation keeps whole runes", func(t *testing.T) {
		// "é" is two bytes; it cannot fit in the last byte of a 4-byte field.
		dst := make([]byte, 4)
		n := PutFixedLengthString(dst, "abcé")
		assert.Equal(t, 3, n)
		assert.Equal(t, "abc", ReadStringFromBytes(dst))
	})
}
