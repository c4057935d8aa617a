package protocol

import (
	"fmt"
	"regexp"
)

// EC console commands used by the flash tests.
const (
	CmdFlashInfo  = "hcflashinfo"
	CmdROSize     = "rosize"
	CmdFlashErase = "hcflasherase"
	CmdFlashWrite = "hcflashwrite"
	CmdFlashRead  = "hcflashread"
	CmdReadWord   = "rw"
)

// Capture group names of the response patterns.
const (
	GroupFlashSize = "f"
	GroupROSize    = "ro"
	GroupWord      = "h"
)

// Response patterns. The named groups are part of the contract: callers look
// results up by the Group* names above.
var (
	FlashSizePattern = regexp.MustCompile(`flash_size = (?P<f>\d+)`)
	ROSizePattern    = regexp.MustCompile(`RO image size = (?P<ro>0x[0-9a-f]+)`)
	ReadWordPattern  = regexp.MustCompile(`read.*=\s+0x(?P<h>[0-9a-f]+)`)
)

// CommandError is the literal acknowledgment the EC console prints when a
// command handler returns a non-zero error code.
const CommandError = "Command returned error"

// Flash geometry used by the read verification.
const (
	WordSize     = 4
	WordsPerLine = 8
	LineSize     = WordSize * WordsPerLine // 32 bytes per hcflashread line
)

// EraseCommand returns the command that erases [offset, offset+size).
func EraseCommand(offset, size uint32) string {
	return fmt.Sprintf("%s %d %d", CmdFlashErase, offset, size)
}

// EraseAck returns the confirmation printed after a successful erase.
func EraseAck(offset, size uint32) string {
	return fmt.Sprintf("Flash erase at %x size %x", offset, size)
}

// WriteCommand returns the command that makes the EC generate and write the
// stream described by p.
func WriteCommand(offset, size uint32, p StreamParams) string {
	return fmt.Sprintf("%s %d %d %d %d %d", CmdFlashWrite, offset, size, p.Seed, p.Mult, p.Add)
}

// WriteAck returns the confirmation printed after a successful write.
func WriteAck(offset, size uint32, sum byte) string {
	return fmt.Sprintf("Flash write at %x size %x XOR %x", offset, size, sum)
}

// ReadCommand returns the bulk read command.
func ReadCommand(offset, size uint32) string {
	return fmt.Sprintf("%s %d %d", CmdFlashRead, offset, size)
}

// ReadWordCommand returns the single-word read command.
func ReadWordCommand(offset uint32) string {
	return fmt.Sprintf("%s %d", CmdReadWord, offset)
}
