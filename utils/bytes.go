// Package utils provides small byte and string helpers used by the fixed
// layout packet codecs and the command-line tools.
package utils

import "unicode/utf8"

// PutFixedLengthString copies str into dst and zero-fills the remainder of
// dst. Strings longer than dst are cut at the last complete UTF-8 sequence
// that fits, so a later ReadStringFromBytes never yields a broken rune.
//
// Parameters:
//   - dst: The fixed-size field to fill
//   - str: The string to store
//
// Returns:
//   - The number of string bytes written (excluding padding)
func PutFixedLengthString(dst []byte, str string) int {
	n := len(str)
	if n > len(dst) {
		n = len(dst)
		for n > 0 && !utf8.RuneStart(str[n]) {
			n--
		}
	}

	copy(dst, str[:n])
	clear(dst[n:])
	return n
}
