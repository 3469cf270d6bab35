package utils

import (
	"bytes"
	"math/rand"
	"strings"
	"unicode/utf8"
)

var charset = []byte("abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789")

// ReadStringFromBytes interprets a fixed-size field as a null-terminated
// string. Invalid UTF-8 sequences are replaced with U+FFFD so the result is
// always safe to re-encode as text.
//
// Parameters:
//   - buffer: The fixed-size field to read from
//
// Returns:
//   - The string content before the first null byte, or the whole buffer
func ReadStringFromBytes(buffer []byte) string {
	if i := bytes.IndexByte(buffer, 0); i != -1 {
		buffer = buffer[:i]
	}

	if utf8.Valid(buffer) {
		return string(buffer)
	}

	return strings.ToValidUTF8(string(buffer), string(utf8.RuneError))
}

// GenerateRandomString creates a string of the given length consisting of
// random alphanumeric characters (a-z, A-Z, 0-9).
//
// Parameters:
//   - length: The desired length of the output string
//
// Returns:
//   - A random alphanumeric string of length characters
func GenerateRandomString(length int) string {
	b := make([]byte, length)
	for i := range b {
		b[i] = charset[rand.Intn(len(charset))]
	}

	return string(b)
}
