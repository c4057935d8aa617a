// Package ecsim simulates the flash-related part of an EC console.
//
// A Sim behaves like the serial side of a real EC: commands written to it
// are executed when their line is complete, and their output (with echo and
// prompt) becomes available to ReadWithTimeout. It keeps an in-memory flash
// with a write-protectable RO region.
package ecsim

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/bigbag/ec-flash-tester/internal/protocol"
)

// EC error codes printed by the console.
const (
	ErrCodeInvalid      = 5
	ErrCodeAccessDenied = 7
)

// Prompt is printed after every command.
const Prompt = "> "

// Sim is a simulated EC console. It is safe for concurrent use.
type Sim struct {
	mu           sync.Mutex
	flash        []byte
	roSize       uint32
	eraseSize    uint32
	writeProtect bool
	echo         bool
	line         []byte
	out          bytes.Buffer
	commands     []string
}

// New creates a simulator with erased flash.
func New(opts ...Option) *Sim {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	if cfg.roSize > cfg.flashSize {
		cfg.roSize = cfg.flashSize
	}

	flash := make([]byte, cfg.flashSize)
	for i := range flash {
		flash[i] = 0xff
	}

	return &Sim{
		flash:        flash,
		roSize:       cfg.roSize,
		eraseSize:    cfg.eraseSize,
		writeProtect: cfg.writeProtect,
		echo:         cfg.echo,
	}
}

// Write feeds console input. Complete lines are executed immediately.
func (s *Sim) Write(data []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, c := range data {
		switch c {
		case '\r':
		case '\n':
			line := string(s.line)
			s.line = s.line[:0]
			if s.echo {
				s.out.WriteString(line + "\r\n")
			}
			s.execute(strings.TrimSpace(line))
			s.out.WriteString(Prompt)
		default:
			s.line = append(s.line, c)
		}
	}
	return len(data), nil
}

// ReadWithTimeout returns pending console output. With nothing pending it
// waits for timeout like an idle serial line and returns 0, nil.
func (s *Sim) ReadWithTimeout(buf []byte, timeout time.Duration) (int, error) {
	s.mu.Lock()
	if s.out.Len() > 0 {
		defer s.mu.Unlock()
		return s.out.Read(buf)
	}
	s.mu.Unlock()

	time.Sleep(timeout)
	return 0, nil
}

// Close satisfies io.Closer.
func (s *Sim) Close() error {
	return nil
}

// Flush discards pending output.
func (s *Sim) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.out.Reset()
	return nil
}

// Commands returns the command lines executed so far.
func (s *Sim) Commands() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.commands...)
}

// Flash returns a copy of flash contents in [offset, offset+size).
func (s *Sim) Flash(offset, size uint32) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]byte(nil), s.flash[offset:offset+size]...)
}

// Corrupt flips the bits of one flash byte. The bulk read path and the
// word read path then both see the corrupted byte.
func (s *Sim) Corrupt(offset uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flash[offset] ^= 0xff
}

// SetWriteProtect enables or disables RO protection.
func (s *Sim) SetWriteProtect(enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writeProtect = enabled
}

func (s *Sim) execute(line string) {
	if line == "" {
		return
	}
	s.commands = append(s.commands, line)

	argv := strings.Fields(line)
	args, perr := parseArgs(argv[1:])

	var code int
	switch argv[0] {
	case protocol.CmdFlashInfo:
		s.printf("flash_size = %d\n", len(s.flash))
		s.printf("erase_size = %d\n", s.eraseSize)
		s.printf("protect = %s\n", onOff(s.writeProtect))
		return
	case protocol.CmdROSize:
		s.printf("RO image size = 0x%x\n", s.roSize)
		return
	case protocol.CmdFlashErase:
		code = s.withArgs(args, perr, 2, func() int { return s.erase(args[0], args[1]) })
	case protocol.CmdFlashWrite:
		code = s.withArgs(args, perr, 5, func() int {
			return s.write(args[0], args[1], protocol.StreamParams{Seed: args[2], Mult: args[3], Add: args[4]})
		})
	case protocol.CmdFlashRead:
		code = s.withArgs(args, perr, 2, func() int { return s.read(args[0], args[1]) })
	case protocol.CmdReadWord:
		code = s.withArgs(args, perr, 1, func() int { return s.readWord(args[0]) })
	default:
		s.printf("Command '%s' not found or ambiguous.\n", argv[0])
		return
	}

	if code != 0 {
		s.printf("%s %d\n", protocol.CommandError, code)
	}
}

// withArgs validates the argument count before running fn. A bad argument
// is reported the way the EC reports EC_ERROR_PARAMn.
func (s *Sim) withArgs(args []uint32, perr *paramError, want int, fn func() int) int {
	if perr != nil {
		s.printf("Parameter %d invalid.\n", perr.index+1)
		return 0
	}
	if len(args) != want {
		return ErrCodeInvalid
	}
	return fn()
}

func (s *Sim) erase(offset, size uint32) int {
	if code := s.checkRange(offset, size); code != 0 {
		return code
	}
	if offset%s.eraseSize != 0 || size%s.eraseSize != 0 {
		return ErrCodeInvalid
	}

	for i := offset; i < offset+size; i++ {
		s.flash[i] = 0xff
	}
	s.printf("Flash erase at %x size %x\n", offset, size)
	return 0
}

// write programs the stream into flash. Programming can only clear bits, so
// writing over unerased flash stores the AND of old and new data.
func (s *Sim) write(offset, size uint32, p protocol.StreamParams) int {
	if code := s.checkRange(offset, size); code != 0 {
		return code
	}

	data := make([]byte, size)
	if _, err := io.ReadFull(protocol.NewStream(p), data); err != nil {
		return ErrCodeInvalid
	}

	var sum byte
	for i, b := range data {
		sum ^= b
		s.flash[offset+uint32(i)] &= b
	}
	s.printf("Flash write at %x size %x XOR %x\n", offset, size, sum)
	return 0
}

func (s *Sim) read(offset, size uint32) int {
	if uint64(offset)+uint64(size) > uint64(len(s.flash)) {
		return ErrCodeInvalid
	}

	data := s.flash[offset : offset+size]
	for start := 0; start < len(data); start += protocol.LineSize {
		end := min(start+protocol.LineSize, len(data))
		s.printf("%s\n", protocol.FormatLine(data[start:end]))
	}
	return 0
}

func (s *Sim) readWord(addr uint32) int {
	if uint64(addr)+protocol.WordSize > uint64(len(s.flash)) {
		return ErrCodeInvalid
	}
	value := binary.LittleEndian.Uint32(s.flash[addr : addr+protocol.WordSize])
	s.printf("read 0x%08x = 0x%08x\n", addr, value)
	return 0
}

func (s *Sim) checkRange(offset, size uint32) int {
	if uint64(offset)+uint64(size) > uint64(len(s.flash)) {
		return ErrCodeInvalid
	}
	if s.writeProtect && offset < s.roSize && size > 0 {
		return ErrCodeAccessDenied
	}
	return 0
}

func (s *Sim) printf(format string, args ...any) {
	fmt.Fprintf(&s.out, format, args...)
}

type paramError struct {
	index int
}

func parseArgs(argv []string) ([]uint32, *paramError) {
	args := make([]uint32, 0, len(argv))
	for i, a := range argv {
		v, err := strconv.ParseUint(a, 0, 32)
		if err != nil {
			return nil, &paramError{index: i}
		}
		args = append(args, uint32(v))
	}
	return args, nil
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}
