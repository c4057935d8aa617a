package protocol

// Range of each generator parameter drawn for a write test (inclusive).
const (
	MinStreamParam = 2
	MaxStreamParam = 10000
)

// StreamParams describes a deterministic byte stream. The EC regenerates the
// same stream from these three values, so only they travel over the console.
type StreamParams struct {
	Seed uint32 `json:"seed"`
	Mult uint32 `json:"mult"`
	Add  uint32 `json:"add"`
}

// Stream generates the write test payload.
//
// Each call to Next emits the low byte of the state and then advances it with
// state = state*Mult + Add. The state wraps at 32 bits; since only the low
// byte is ever emitted the output does not depend on the wrap width.
type Stream struct {
	state uint32
	mult  uint32
	add   uint32
}

// NewStream returns a stream positioned at its first byte.
func NewStream(p StreamParams) *Stream {
	return &Stream{state: p.Seed, mult: p.Mult, add: p.Add}
}

// Next returns the next payload byte.
func (s *Stream) Next() byte {
	b := byte(s.state)
	s.state = s.state*s.mult + s.add
	return b
}

// Read fills buf with payload bytes. It never fails.
func (s *Stream) Read(buf []byte) (int, error) {
	for i := range buf {
		buf[i] = s.Next()
	}
	return len(buf), nil
}

// XorSum returns the XOR of the first size bytes of the stream p.
func XorSum(size uint32, p StreamParams) byte {
	s := NewStream(p)
	var sum byte
	for i := uint32(0); i < size; i++ {
		sum ^= s.Next()
	}
	return sum
}
