package ecsim

// Default geometry: 128 KiB of flash, the lower half holding the RO image.
const (
	DefaultFlashSize = 128 * 1024
	DefaultROSize    = 64 * 1024
	DefaultEraseSize = 1024
)

type config struct {
	flashSize    uint32
	roSize       uint32
	eraseSize    uint32
	writeProtect bool
	echo         bool
}

func defaultConfig() config {
	return config{
		flashSize:    DefaultFlashSize,
		roSize:       DefaultROSize,
		eraseSize:    DefaultEraseSize,
		writeProtect: true,
		echo:         true,
	}
}

// Option configures a Sim.
type Option func(*config)

// WithFlashSize sets the flash size in bytes.
func WithFlashSize(size uint32) Option {
	return func(c *config) {
		if size > 0 {
			c.flashSize = size
		}
	}
}

// WithROSize sets the size of the RO region reported by rosize.
func WithROSize(size uint32) Option {
	return func(c *config) {
		c.roSize = size
	}
}

// WithEraseSize sets the erase block size. Erases must be aligned to it.
func WithEraseSize(size uint32) Option {
	return func(c *config) {
		if size > 0 {
			c.eraseSize = size
		}
	}
}

// WithWriteProtect sets whether the RO region rejects erases and writes.
// Protection is on by default.
func WithWriteProtect(enabled bool) Option {
	return func(c *config) {
		c.writeProtect = enabled
	}
}

// WithEcho sets whether input lines are echoed back. Echo is on by default.
func WithEcho(enabled bool) Option {
	return func(c *config) {
		c.echo = enabled
	}
}
