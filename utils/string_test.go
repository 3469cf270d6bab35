package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestReadStringFromBytes(t *testing.T) {
	t.Run("stops at null byte", func(t *testing.T) {
		buf := []byte("hello\x00world")
		assert.Equal(t, "hello", ReadStringFromBytes(buf))
	})

	t.Run("no null returns full buffer", func(t *testing.T) {
		buf := []byte("hello")
		assert.Equal(t, "hello", ReadStringFromBytes(buf))
	})

	t.Run("null at start returns empty", func(t *testing.T) {
		buf := []byte("\x00rest")
		assert.Equal(t, "", ReadStringFromBytes(buf))
	})

	t.Run("invalid utf-8 is replaced", func(t *testing.T) {
		buf := []byte{'a', 0xff, 'b', 0}
		assert.Equal(t, "a\uFFFDb", ReadStringFromBytes(buf))
	})

	t.Run("empty buffer returns empty", func(t *testing.T) {
		assert.Equal(t, "", ReadStringFromBytes(nil))
		assert.Equal(t, "", ReadStringFromBytes([]byte{}))
	})
}

func TestGenerateRandomString(t *testing.T) {
	for _, n := range []int{0, 1, 16, 64} {
		got := GenerateRandomString(n)
		assert.Len(t, got, n)
		assert.Regexp(t, `^[a-zA-Z0-9]*$`, got)
	}

	// 62^32 possibilities; a collision here means the source is not random.
	assert.NotEqual(t, GenerateRandomString(32), GenerateRandomString(32))
}
