// Package console talks to an EC over its line-oriented text console.
//
// A Console sends commands and waits for output lines, either a literal
// substring or a regular expression with named groups. Waits only look at
// complete lines and consume output up to the end of the matched line, so a
// sequence of waits observes the device output in order.
package console

import (
	"bytes"
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Port is the transport under a Console. *serial.Port satisfies it.
type Port interface {
	Write(data []byte) (int, error)
	ReadWithTimeout(buf []byte, timeout time.Duration) (int, error)
}

// Console implements command/response exchanges with an EC.
// It is not safe for concurrent use.
type Console struct {
	port    Port
	cfg     config
	pending []byte
	buf     []byte
}

// New creates a Console over port.
func New(port Port, opts ...Option) *Console {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Console{
		port: port,
		cfg:  cfg,
		buf:  make([]byte, 256),
	}
}

// ECCommand sends a command line to the EC.
func (c *Console) ECCommand(ctx context.Context, cmd string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.cfg.logger.Debug("ec command", zap.String("cmd", cmd))

	if _, err := c.port.Write([]byte(cmd + "\n")); err != nil {
		return fmt.Errorf("failed to send %q: %w", cmd, err)
	}
	return nil
}

// WaitOutput blocks until a complete output line contains literal.
func (c *Console) WaitOutput(ctx context.Context, literal string) error {
	_, err := c.wait(ctx, literal, func(out []byte) []int {
		i := bytes.Index(out, []byte(literal))
		if i < 0 {
			return nil
		}
		return []int{i, i + len(literal)}
	})
	return err
}

// WaitMatch blocks until re matches complete output and returns the text of
// each named capture group.
func (c *Console) WaitMatch(ctx context.Context, re *regexp.Regexp) (map[string]string, error) {
	loc, err := c.wait(ctx, re.String(), re.FindSubmatchIndex)
	if err != nil {
		return nil, err
	}

	groups := make(map[string]string)
	for i, name := range re.SubexpNames() {
		if name == "" || 2*i+1 >= len(loc.index) || loc.index[2*i] < 0 {
			continue
		}
		groups[name] = string(loc.text[loc.index[2*i]:loc.index[2*i+1]])
	}
	return groups, nil
}

// Collect reads output for d and returns everything received, including
// any partial line. Pending output is consumed.
func (c *Console) Collect(ctx context.Context, d time.Duration) (string, error) {
	deadline := time.Now().Add(d)
	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			break
		}
		if err := c.fill(min(c.cfg.poll, remaining)); err != nil {
			return "", err
		}
	}

	out := string(c.pending)
	c.pending = c.pending[:0]
	return out, nil
}

type match struct {
	text  []byte
	index []int
}

func (c *Console) wait(ctx context.Context, pattern string, find func([]byte) []int) (match, error) {
	deadline := time.Now().Add(c.cfg.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	for {
		if m, ok := c.take(find); ok {
			return m, nil
		}

		if err := ctx.Err(); err != nil {
			return match{}, err
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			c.cfg.logger.Warn("console wait timed out",
				zap.String("pattern", pattern),
				zap.Duration("timeout", c.cfg.timeout))
			return match{}, &TimeoutError{Pattern: pattern, Output: c.tail()}
		}

		if err := c.fill(min(c.cfg.poll, remaining)); err != nil {
			return match{}, err
		}
	}
}

// take runs find over the complete lines in pending. On a match it consumes
// output through the end of the matched line.
func (c *Console) take(find func([]byte) []int) (match, bool) {
	last := bytes.LastIndexByte(c.pending, '\n')
	if last < 0 {
		return match{}, false
	}
	complete := c.pending[:last+1]

	loc := find(complete)
	if loc == nil {
		return match{}, false
	}

	end := loc[1]
	if nl := bytes.IndexByte(complete[end:], '\n'); nl >= 0 {
		end += nl + 1
	}

	text := make([]byte, len(complete))
	copy(text, complete)
	c.pending = append(c.pending[:0], c.pending[end:]...)

	return match{text: text, index: loc}, true
}

func (c *Console) fill(timeout time.Duration) error {
	n, err := c.port.ReadWithTimeout(c.buf, timeout)
	if n > 0 {
		c.pending = append(c.pending, c.buf[:n]...)
		c.trim()
	}
	if err != nil {
		return fmt.Errorf("failed to read console: %w", err)
	}
	return nil
}

// trim drops the oldest complete lines once pending grows past maxPending.
func (c *Console) trim() {
	if len(c.pending) <= maxPending {
		return
	}
	cut := len(c.pending) - maxPending
	if nl := bytes.IndexByte(c.pending[cut:], '\n'); nl >= 0 {
		cut += nl + 1
	}
	c.pending = append(c.pending[:0], c.pending[cut:]...)
}

// tail returns the last unmatched line for error messages.
func (c *Console) tail() string {
	out := strings.TrimRight(string(c.pending), "\r\n> ")
	if i := strings.LastIndexByte(out, '\n'); i >= 0 {
		out = out[i+1:]
	}
	return strings.TrimSpace(out)
}
