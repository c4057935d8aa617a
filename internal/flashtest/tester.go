// Package flashtest verifies EC flash operations over the EC console.
//
// Writes are verified without reading the data back: the EC regenerates a
// deterministic stream from three parameters and reports its XOR checksum,
// which the host computes independently. Reads are verified by comparing the
// bulk read output against a reference built from single-word reads.
package flashtest

import (
	"context"
	"fmt"
	"regexp"
	"strconv"

	"go.uber.org/zap"

	"github.com/bigbag/ec-flash-tester/internal/protocol"
)

// Helper sends console commands to the EC and waits for its output.
//
// WaitMatch returns the text of every named capture group in re.
// Timeouts and transport failures are the Helper's to report.
type Helper interface {
	ECCommand(ctx context.Context, cmd string) error
	WaitOutput(ctx context.Context, literal string) error
	WaitMatch(ctx context.Context, re *regexp.Regexp) (map[string]string, error)
}

// ProgressCallback is called to report read reference progress in words.
type ProgressCallback func(current, total int)

// Tester runs flash tests against one EC.
// It is not safe for concurrent use.
type Tester struct {
	helper   Helper
	params   ParamSource
	logger   *zap.Logger
	progress ProgressCallback
}

// New creates a Tester. A nil logger disables logging.
func New(helper Helper, params ParamSource, logger *zap.Logger) *Tester {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tester{
		helper: helper,
		params: params,
		logger: logger,
	}
}

// SetProgressCallback sets the progress callback function.
func (t *Tester) SetProgressCallback(cb ProgressCallback) {
	t.progress = cb
}

// reportProgress calls the progress callback if set.
func (t *Tester) reportProgress(current, total int) {
	if t.progress != nil {
		t.progress(current, total)
	}
}

// FlashSize returns the flash size reported by hcflashinfo.
func (t *Tester) FlashSize(ctx context.Context) (uint32, error) {
	text, err := t.query(ctx, protocol.CmdFlashInfo, protocol.FlashSizePattern, protocol.GroupFlashSize)
	if err != nil {
		return 0, err
	}

	size, err := strconv.ParseUint(text, 10, 32)
	if err != nil {
		return 0, &ParseError{Field: "flash_size", Text: text, Err: err}
	}
	return uint32(size), nil
}

// ROSize returns the RO image size reported by rosize.
func (t *Tester) ROSize(ctx context.Context) (uint32, error) {
	text, err := t.query(ctx, protocol.CmdROSize, protocol.ROSizePattern, protocol.GroupROSize)
	if err != nil {
		return 0, err
	}

	size, err := strconv.ParseUint(text, 0, 32)
	if err != nil {
		return 0, &ParseError{Field: "ro", Text: text, Err: err}
	}
	return uint32(size), nil
}

// TestErase erases [offset, offset+size) and waits for the EC to confirm it.
func (t *Tester) TestErase(ctx context.Context, offset, size uint32) error {
	if err := t.helper.ECCommand(ctx, protocol.EraseCommand(offset, size)); err != nil {
		return fmt.Errorf("failed to send erase: %w", err)
	}
	if err := t.helper.WaitOutput(ctx, protocol.EraseAck(offset, size)); err != nil {
		return fmt.Errorf("erase at 0x%X size 0x%X not confirmed: %w", offset, size, err)
	}

	t.logger.Info("flash erase verified",
		zap.Uint32("offset", offset),
		zap.Uint32("size", size))
	return nil
}

// TestWrite makes the EC write a generated stream to [offset, offset+size)
// and checks the XOR checksum it reports. With expectFail set, the EC must
// reject the write instead; any error acknowledgment satisfies it.
//
// Each call consumes one draw from the Tester's ParamSource. The parameters
// used are returned so the write can be reproduced.
func (t *Tester) TestWrite(ctx context.Context, offset, size uint32, expectFail bool) (protocol.StreamParams, error) {
	p := t.params.Draw()

	if err := t.helper.ECCommand(ctx, protocol.WriteCommand(offset, size, p)); err != nil {
		return p, fmt.Errorf("failed to send write: %w", err)
	}

	if expectFail {
		if err := t.helper.WaitOutput(ctx, protocol.CommandError); err != nil {
			return p, fmt.Errorf("write at 0x%X size 0x%X was expected to fail: %w", offset, size, err)
		}
		t.logger.Info("flash write rejected as expected",
			zap.Uint32("offset", offset),
			zap.Uint32("size", size))
		return p, nil
	}

	sum := protocol.XorSum(size, p)
	if err := t.helper.WaitOutput(ctx, protocol.WriteAck(offset, size, sum)); err != nil {
		return p, fmt.Errorf("write at 0x%X size 0x%X (seed %d mult %d add %d) not confirmed with XOR 0x%02X: %w",
			offset, size, p.Seed, p.Mult, p.Add, sum, err)
	}

	t.logger.Info("flash write verified",
		zap.Uint32("offset", offset),
		zap.Uint32("size", size),
		zap.Uint32("seed", p.Seed),
		zap.Uint32("mult", p.Mult),
		zap.Uint32("add", p.Add),
		zap.Uint8("xor", sum))
	return p, nil
}

// ReadReference builds the lines hcflashread is expected to print for
// [offset, offset+size) by reading each word with rw. size must be a
// multiple of 4; otherwise nothing is sent to the EC.
func (t *Tester) ReadReference(ctx context.Context, offset, size uint32) ([]string, error) {
	if err := protocol.CheckAligned(size); err != nil {
		return nil, err
	}

	total := int(size / protocol.WordSize)
	words := make([]string, 0, total)

	for i := 0; i < total; i++ {
		addr := offset + uint32(i)*protocol.WordSize

		text, err := t.query(ctx, protocol.ReadWordCommand(addr), protocol.ReadWordPattern, protocol.GroupWord)
		if err != nil {
			return nil, fmt.Errorf("word at 0x%X: %w", addr, err)
		}

		word, err := protocol.SwapWord(text)
		if err != nil {
			return nil, fmt.Errorf("word at 0x%X: %w", addr, err)
		}
		words = append(words, word)

		t.reportProgress(i+1, total)
	}

	return protocol.GroupWords(words), nil
}

// TestRead reads [offset, offset+size) in bulk and checks every output line
// against the single-word reference, in order.
func (t *Tester) TestRead(ctx context.Context, offset, size uint32) error {
	ref, err := t.ReadReference(ctx, offset, size)
	if err != nil {
		return fmt.Errorf("failed to build read reference: %w", err)
	}

	if err := t.helper.ECCommand(ctx, protocol.ReadCommand(offset, size)); err != nil {
		return fmt.Errorf("failed to send read: %w", err)
	}

	for i, line := range ref {
		if err := t.helper.WaitOutput(ctx, line); err != nil {
			return fmt.Errorf("read at 0x%X: line %d of %d mismatch: %w",
				offset+uint32(i*protocol.LineSize), i+1, len(ref), err)
		}
	}

	t.logger.Info("flash read verified",
		zap.Uint32("offset", offset),
		zap.Uint32("size", size),
		zap.Int("lines", len(ref)))
	return nil
}

// query sends cmd and returns the named group of the first match of re.
func (t *Tester) query(ctx context.Context, cmd string, re *regexp.Regexp, group string) (string, error) {
	if err := t.helper.ECCommand(ctx, cmd); err != nil {
		return "", fmt.Errorf("failed to send %s: %w", cmd, err)
	}

	groups, err := t.helper.WaitMatch(ctx, re)
	if err != nil {
		return "", fmt.Errorf("no response to %s: %w", cmd, err)
	}

	text, ok := groups[group]
	if !ok {
		return "", &ParseError{Field: group, Text: "", Err: errMissingGroup}
	}
	return text, nil
}
