package protocol

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrUnalignedSize is returned when a read window is not a whole number
	// of 32-bit words.
	ErrUnalignedSize = errors.New("size is not a multiple of 4 bytes")

	// ErrMalformedWord is returned when a single-word read does not yield
	// exactly eight digits.
	ErrMalformedWord = errors.New("malformed word")
)

// CheckAligned reports whether size can be read word by word.
func CheckAligned(size uint32) error {
	if size%WordSize != 0 {
		return fmt.Errorf("%w: %d", ErrUnalignedSize, size)
	}
	return nil
}

// SwapWord reverses the byte order of an 8-digit hex word, turning the value
// printed by rw into the byte sequence printed by hcflashread.
//
//	SwapWord("12345678") == "78563412"
func SwapWord(h string) (string, error) {
	if len(h) != 2*WordSize {
		return "", fmt.Errorf("%w: %q", ErrMalformedWord, h)
	}

	var b strings.Builder
	b.Grow(len(h))
	for i := len(h) - 2; i >= 0; i -= 2 {
		b.WriteString(h[i : i+2])
	}
	return b.String(), nil
}

// GroupWords joins swapped words into the lines hcflashread prints: eight
// words per line, with a shorter final line for any remainder.
func GroupWords(words []string) []string {
	lines := make([]string, 0, (len(words)+WordsPerLine-1)/WordsPerLine)
	for start := 0; start < len(words); start += WordsPerLine {
		end := start + WordsPerLine
		if end > len(words) {
			end = len(words)
		}
		lines = append(lines, strings.Join(words[start:end], ""))
	}
	return lines
}

// FormatLine renders raw flash bytes the way hcflashread prints them.
func FormatLine(data []byte) string {
	return fmt.Sprintf("%x", data)
}
