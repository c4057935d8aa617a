package console

import (
	"time"

	"go.uber.org/zap"
)

// Default timings.
const (
	DefaultTimeout      = 5 * time.Second
	DefaultPollInterval = 50 * time.Millisecond
)

// maxPending bounds how much unmatched output is kept.
const maxPending = 64 * 1024

type config struct {
	timeout time.Duration
	poll    time.Duration
	logger  *zap.Logger
}

func defaultConfig() config {
	return config{
		timeout: DefaultTimeout,
		poll:    DefaultPollInterval,
		logger:  zap.NewNop(),
	}
}

// Option configures a Console.
type Option func(*config)

// WithTimeout sets how long a single wait may block.
func WithTimeout(timeout time.Duration) Option {
	return func(c *config) {
		if timeout > 0 {
			c.timeout = timeout
		}
	}
}

// WithPollInterval sets the timeout of each underlying port read.
func WithPollInterval(poll time.Duration) Option {
	return func(c *config) {
		if poll > 0 {
			c.poll = poll
		}
	}
}

// WithLogger sets the logger used for sent commands and timeouts.
func WithLogger(logger *zap.Logger) Option {
	return func(c *config) {
		if logger != nil {
			c.logger = logger
		}
	}
}
