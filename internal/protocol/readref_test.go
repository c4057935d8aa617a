package protocol

import (
	"errors"
	"strings"
	"testing"
)

func TestSwapWord(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"ABCDEFGH", "GHEFCDAB"},
		{"12345678", "78563412"},
		{"deadbeef", "efbeadde"},
		{"00000000", "00000000"},
	}

	for _, tc := range tests {
		result, err := SwapWord(tc.input)
		if err != nil {
			t.Errorf("SwapWord(%q) error = %v", tc.input, err)
			continue
		}
		if result != tc.expected {
			t.Errorf("SwapWord(%q) = %q, want %q", tc.input, result, tc.expected)
		}
	}
}

func TestSwapWord_Malformed(t *testing.T) {
	for _, input := range []string{"", "1234", "123456789", "deadbee"} {
		if _, err := SwapWord(input); !errors.Is(err, ErrMalformedWord) {
			t.Errorf("SwapWord(%q) error = %v, want ErrMalformedWord", input, err)
		}
	}
}

func TestGroupWords_NineWords(t *testing.T) {
	words := make([]string, 9)
	for i := range words {
		words[i] = strings.Repeat(string(rune('0'+i)), 8)
	}

	lines := GroupWords(words)
	if len(lines) != 2 {
		t.Fatalf("GroupWords(9 words) = %d lines, want 2", len(lines))
	}
	if len(lines[0]) != 64 {
		t.Errorf("first line length = %d, want 64", len(lines[0]))
	}
	if lines[0] != strings.Join(words[:8], "") {
		t.Errorf("first line = %q, want words 0-7", lines[0])
	}
	if lines[1] != words[8] {
		t.Errorf("second line = %q, want %q", lines[1], words[8])
	}
}

func TestGroupWords_Counts(t *testing.T) {
	tests := []struct {
		words int
		lines int
	}{
		{0, 0},
		{1, 1},
		{8, 1},
		{16, 2},
		{17, 3},
	}

	for _, tc := range tests {
		words := make([]string, tc.words)
		for i := range words {
			words[i] = "00112233"
		}
		if got := len(GroupWords(words)); got != tc.lines {
			t.Errorf("GroupWords(%d words) = %d lines, want %d", tc.words, got, tc.lines)
		}
	}
}

func TestCheckAligned(t *testing.T) {
	for _, size := range []uint32{0, 4, 36, 4096} {
		if err := CheckAligned(size); err != nil {
			t.Errorf("CheckAligned(%d) = %v, want nil", size, err)
		}
	}
	for _, size := range []uint32{1, 2, 3, 35, 4097} {
		if err := CheckAligned(size); !errors.Is(err, ErrUnalignedSize) {
			t.Errorf("CheckAligned(%d) = %v, want ErrUnalignedSize", size, err)
		}
	}
}

func TestFormatLine(t *testing.T) {
	got := FormatLine([]byte{0x00, 0x0f, 0xa0, 0xff})
	if got != "000fa0ff" {
		t.Errorf("FormatLine() = %q, want %q", got, "000fa0ff")
	}
}
