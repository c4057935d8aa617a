package flashtest

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/bigbag/ec-flash-tester/internal/protocol"
)

// fakeHelper records commands and waits and answers WaitMatch from canned
// values keyed by the last command sent.
type fakeHelper struct {
	commands  []string
	waits     []string
	flashSize string
	roSize    string
	words     map[uint32]string
	waitErr   error
	matchErr  error
}

func (f *fakeHelper) ECCommand(ctx context.Context, cmd string) error {
	f.commands = append(f.commands, cmd)
	return nil
}

func (f *fakeHelper) WaitOutput(ctx context.Context, literal string) error {
	f.waits = append(f.waits, literal)
	return f.waitErr
}

func (f *fakeHelper) WaitMatch(ctx context.Context, re *regexp.Regexp) (map[string]string, error) {
	if f.matchErr != nil {
		return nil, f.matchErr
	}
	last := f.commands[len(f.commands)-1]
	switch re {
	case protocol.FlashSizePattern:
		return map[string]string{protocol.GroupFlashSize: f.flashSize}, nil
	case protocol.ROSizePattern:
		return map[string]string{protocol.GroupROSize: f.roSize}, nil
	case protocol.ReadWordPattern:
		var addr uint32
		if _, err := fmt.Sscanf(last, "rw %d", &addr); err != nil {
			return nil, err
		}
		return map[string]string{protocol.GroupWord: f.words[addr]}, nil
	}
	return nil, fmt.Errorf("unexpected pattern %s", re)
}

func newFakeTester(h *fakeHelper) *Tester {
	return New(h, FixedParams{Seed: 2, Mult: 3, Add: 4}, nil)
}

func TestFlashSize(t *testing.T) {
	h := &fakeHelper{flashSize: "131072"}
	size, err := newFakeTester(h).FlashSize(context.Background())
	if err != nil {
		t.Fatalf("FlashSize() error = %v", err)
	}
	if size != 131072 {
		t.Errorf("FlashSize() = %d, want 131072", size)
	}
	if diff := cmp.Diff([]string{"hcflashinfo"}, h.commands); diff != "" {
		t.Errorf("commands mismatch (-want +got):\n%s", diff)
	}
}

func TestFlashSize_Overflow(t *testing.T) {
	h := &fakeHelper{flashSize: "99999999999"}
	_, err := newFakeTester(h).FlashSize(context.Background())

	var parseErr *ParseError
	if !errors.As(err, &parseErr) {
		t.Fatalf("FlashSize() error = %v, want ParseError", err)
	}
	if parseErr.Field != "flash_size" {
		t.Errorf("ParseError.Field = %q, want flash_size", parseErr.Field)
	}
}

func TestROSize_Hex(t *testing.T) {
	h := &fakeHelper{roSize: "0x1f000"}
	size, err := newFakeTester(h).ROSize(context.Background())
	if err != nil {
		t.Fatalf("ROSize() error = %v", err)
	}
	if size != 0x1f000 {
		t.Errorf("ROSize() = 0x%X, want 0x1F000", size)
	}
	if h.commands[0] != "rosize" {
		t.Errorf("command = %q, want rosize", h.commands[0])
	}
}

func TestQuery_PropagatesWaitFailure(t *testing.T) {
	waitErr := errors.New("timeout")
	h := &fakeHelper{matchErr: waitErr}
	_, err := newFakeTester(h).ROSize(context.Background())
	if !errors.Is(err, waitErr) {
		t.Errorf("ROSize() error = %v, want wrapped %v", err, waitErr)
	}
}

func TestTestErase(t *testing.T) {
	h := &fakeHelper{}
	if err := newFakeTester(h).TestErase(context.Background(), 4096, 1024); err != nil {
		t.Fatalf("TestErase() error = %v", err)
	}

	if diff := cmp.Diff([]string{"hcflasherase 4096 1024"}, h.commands); diff != "" {
		t.Errorf("commands mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"Flash erase at 1000 size 400"}, h.waits); diff != "" {
		t.Errorf("waits mismatch (-want +got):\n%s", diff)
	}
}

func TestTestWrite_WaitsForExactChecksum(t *testing.T) {
	h := &fakeHelper{}
	// seed 2, mult 3, add 4 emits 2, 10, ... so two bytes XOR to 8.
	p, err := newFakeTester(h).TestWrite(context.Background(), 0x10000, 2, false)
	if err != nil {
		t.Fatalf("TestWrite() error = %v", err)
	}

	if p != (protocol.StreamParams{Seed: 2, Mult: 3, Add: 4}) {
		t.Errorf("TestWrite() params = %+v", p)
	}
	if diff := cmp.Diff([]string{"hcflashwrite 65536 2 2 3 4"}, h.commands); diff != "" {
		t.Errorf("commands mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"Flash write at 10000 size 2 XOR 8"}, h.waits); diff != "" {
		t.Errorf("waits mismatch (-want +got):\n%s", diff)
	}
}

func TestTestWrite_ChecksumMatchesXorSum(t *testing.T) {
	fixed := FixedParams{Seed: 9001, Mult: 4242, Add: 17}
	h := &fakeHelper{}
	tester := New(h, fixed, nil)

	if _, err := tester.TestWrite(context.Background(), 0x8000, 4096, false); err != nil {
		t.Fatalf("TestWrite() error = %v", err)
	}

	want := protocol.WriteAck(0x8000, 4096, protocol.XorSum(4096, protocol.StreamParams(fixed)))
	if h.waits[0] != want {
		t.Errorf("waited for %q, want %q", h.waits[0], want)
	}
}

func TestTestWrite_ExpectFail(t *testing.T) {
	h := &fakeHelper{}
	if _, err := newFakeTester(h).TestWrite(context.Background(), 0, 64, true); err != nil {
		t.Fatalf("TestWrite() error = %v", err)
	}
	if diff := cmp.Diff([]string{"Command returned error"}, h.waits); diff != "" {
		t.Errorf("waits mismatch (-want +got):\n%s", diff)
	}
}

func TestTestWrite_PropagatesWaitFailure(t *testing.T) {
	waitErr := errors.New("no ack")
	h := &fakeHelper{waitErr: waitErr}
	_, err := newFakeTester(h).TestWrite(context.Background(), 0, 64, false)
	if !errors.Is(err, waitErr) {
		t.Errorf("TestWrite() error = %v, want wrapped %v", err, waitErr)
	}
}

func TestTestWrite_ReproducibleAcrossSessions(t *testing.T) {
	run := func() []string {
		h := &fakeHelper{}
		tester := New(h, NewRandomParams(DefaultSeed), nil)
		for i := 0; i < 3; i++ {
			if _, err := tester.TestWrite(context.Background(), uint32(i)*1024, 1024, false); err != nil {
				t.Fatalf("TestWrite() error = %v", err)
			}
		}
		return h.commands
	}

	if diff := cmp.Diff(run(), run()); diff != "" {
		t.Errorf("sessions with the same seed differ (-first +second):\n%s", diff)
	}
}

func TestReadReference_Unaligned(t *testing.T) {
	for _, size := range []uint32{1, 2, 3, 35} {
		h := &fakeHelper{}
		_, err := newFakeTester(h).ReadReference(context.Background(), 0, size)
		if !errors.Is(err, protocol.ErrUnalignedSize) {
			t.Errorf("ReadReference(size %d) error = %v, want ErrUnalignedSize", size, err)
		}
		if len(h.commands) != 0 {
			t.Errorf("ReadReference(size %d) sent %v before failing", size, h.commands)
		}
	}

	h := &fakeHelper{}
	if err := newFakeTester(h).TestRead(context.Background(), 0, 6); !errors.Is(err, protocol.ErrUnalignedSize) {
		t.Errorf("TestRead(size 6) error = %v, want ErrUnalignedSize", err)
	}
	if len(h.commands) != 0 {
		t.Errorf("TestRead(size 6) sent %v before failing", h.commands)
	}
}

func wordsFrom(offset uint32, count int) map[uint32]string {
	words := make(map[uint32]string, count)
	for i := 0; i < count; i++ {
		words[offset+uint32(i)*4] = fmt.Sprintf("%08x", 0x11223300+i)
	}
	return words
}

func TestReadReference_NineWords(t *testing.T) {
	h := &fakeHelper{words: wordsFrom(0x100, 9)}
	tester := newFakeTester(h)

	var progress []int
	tester.SetProgressCallback(func(current, total int) {
		if total != 9 {
			t.Errorf("progress total = %d, want 9", total)
		}
		progress = append(progress, current)
	})

	lines, err := tester.ReadReference(context.Background(), 0x100, 36)
	if err != nil {
		t.Fatalf("ReadReference() error = %v", err)
	}

	if len(lines) != 2 {
		t.Fatalf("ReadReference() = %d lines, want 2", len(lines))
	}
	wantFirst := "00332211" + "01332211" + "02332211" + "03332211" +
		"04332211" + "05332211" + "06332211" + "07332211"
	if lines[0] != wantFirst {
		t.Errorf("line 0 = %q, want %q", lines[0], wantFirst)
	}
	if lines[1] != "08332211" {
		t.Errorf("line 1 = %q, want %q", lines[1], "08332211")
	}

	if len(h.commands) != 9 || h.commands[0] != "rw 256" || h.commands[8] != "rw 288" {
		t.Errorf("commands = %v, want rw 256 .. rw 288", h.commands)
	}
	if diff := cmp.Diff([]int{1, 2, 3, 4, 5, 6, 7, 8, 9}, progress); diff != "" {
		t.Errorf("progress mismatch (-want +got):\n%s", diff)
	}
}

func TestReadReference_MalformedWord(t *testing.T) {
	h := &fakeHelper{words: map[uint32]string{0: "abc"}}
	_, err := newFakeTester(h).ReadReference(context.Background(), 0, 4)
	if !errors.Is(err, protocol.ErrMalformedWord) {
		t.Errorf("ReadReference() error = %v, want ErrMalformedWord", err)
	}
}

func TestTestRead_WaitsForEachLineInOrder(t *testing.T) {
	h := &fakeHelper{words: wordsFrom(0, 17)}
	if err := newFakeTester(h).TestRead(context.Background(), 0, 68); err != nil {
		t.Fatalf("TestRead() error = %v", err)
	}

	if last := h.commands[len(h.commands)-1]; last != "hcflashread 0 68" {
		t.Errorf("last command = %q, want hcflashread 0 68", last)
	}
	if len(h.waits) != 3 {
		t.Fatalf("waited for %d lines, want 3", len(h.waits))
	}
	if len(h.waits[0]) != 64 || len(h.waits[1]) != 64 || len(h.waits[2]) != 8 {
		t.Errorf("line lengths = %d, %d, %d", len(h.waits[0]), len(h.waits[1]), len(h.waits[2]))
	}
	if !strings.HasPrefix(h.waits[1], "08332211") {
		t.Errorf("second line = %q, want to start with word 8", h.waits[1])
	}
}
