// Package detect finds EC consoles on the host's serial ports.
package detect

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/bigbag/ec-flash-tester/internal/console"
	"github.com/bigbag/ec-flash-tester/internal/protocol"
	"github.com/bigbag/ec-flash-tester/internal/serial"
)

// ProbeTimeout bounds the wait for an answer to hcflashinfo.
const ProbeTimeout = 500 * time.Millisecond

// ErrNoDevice is returned when no port answers like an EC console.
var ErrNoDevice = errors.New("no EC console found")

// Result represents a detected EC console.
type Result struct {
	Port      string
	FlashSize uint32
}

// Detector probes serial ports.
type Detector struct {
	baudRate int
	timeout  time.Duration
	logger   *zap.Logger
}

// New creates a Detector. A nil logger disables logging.
func New(baudRate int, logger *zap.Logger) *Detector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Detector{baudRate: baudRate, timeout: ProbeTimeout, logger: logger}
}

// DetectDevice returns the first port with an EC console.
func (d *Detector) DetectDevice(ctx context.Context) (*Result, error) {
	ports, err := serial.ListPorts()
	if err != nil {
		return nil, fmt.Errorf("failed to list ports: %w", err)
	}

	if len(ports) == 0 {
		return nil, fmt.Errorf("%w: no serial ports found", ErrNoDevice)
	}

	var lastErr error
	for _, portName := range ports {
		result, err := d.DetectOnPort(ctx, portName)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = err
			continue
		}
		return result, nil
	}

	return nil, fmt.Errorf("%w (last error: %w)", ErrNoDevice, lastErr)
}

// DetectOnPort checks for an EC console on a specific port.
func (d *Detector) DetectOnPort(ctx context.Context, portName string) (*Result, error) {
	port, err := serial.Open(portName, d.baudRate, 0)
	if err != nil {
		return nil, err
	}
	defer port.Close()

	// Drop boot banners and a stale prompt.
	if err := port.Flush(); err != nil {
		return nil, fmt.Errorf("failed to flush %s: %w", portName, err)
	}

	size, err := Probe(ctx, port, d.timeout)
	if err != nil {
		d.logger.Debug("port did not answer", zap.String("port", portName), zap.Error(err))
		return nil, fmt.Errorf("%s: %w", portName, err)
	}

	d.logger.Info("ec console found", zap.String("port", portName), zap.Uint32("flash_size", size))
	return &Result{Port: portName, FlashSize: size}, nil
}

// ListDevices scans all ports and returns every EC console found.
func (d *Detector) ListDevices(ctx context.Context) ([]Result, error) {
	ports, err := serial.ListPorts()
	if err != nil {
		return nil, fmt.Errorf("failed to list ports: %w", err)
	}

	var results []Result
	for _, portName := range ports {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		result, err := d.DetectOnPort(ctx, portName)
		if err == nil {
			results = append(results, *result)
		}
	}

	return results, nil
}

// Probe sends hcflashinfo over port and returns the reported flash size.
func Probe(ctx context.Context, port console.Port, timeout time.Duration) (uint32, error) {
	c := console.New(port, console.WithTimeout(timeout))

	if err := c.ECCommand(ctx, protocol.CmdFlashInfo); err != nil {
		return 0, err
	}
	groups, err := c.WaitMatch(ctx, protocol.FlashSizePattern)
	if err != nil {
		return 0, err
	}

	size, err := strconv.ParseUint(groups[protocol.GroupFlashSize], 10, 32)
	if err != nil {
		return 0, fmt.Errorf("bad flash_size %q: %w", groups[protocol.GroupFlashSize], err)
	}
	return uint32(size), nil
}
