package flashtest

import (
	"math/rand/v2"
	"sync"

	"github.com/bigbag/ec-flash-tester/internal/protocol"
)

// DefaultSeed seeds the parameter source of a test session.
const DefaultSeed = 1234

// ParamSource supplies the generator parameters for each write test.
type ParamSource interface {
	Draw() protocol.StreamParams
}

// RandomParams draws parameters uniformly from
// [protocol.MinStreamParam, protocol.MaxStreamParam]. The same seed yields the
// same sequence of draws, so a test session can be replayed exactly as long
// as writes happen in the same order. Draws are serialized; concurrent
// callers get a consistent source but an unspecified interleaving.
type RandomParams struct {
	mu   sync.Mutex
	rng  *rand.Rand
	seed uint64
}

// NewRandomParams creates a source seeded with seed.
func NewRandomParams(seed uint64) *RandomParams {
	return &RandomParams{
		rng:  rand.New(rand.NewPCG(seed, 0)),
		seed: seed,
	}
}

// Seed returns the seed the source was created with.
func (r *RandomParams) Seed() uint64 {
	return r.seed
}

// Draw returns the next seed, multiplier and additive constant, drawn in
// that order.
func (r *RandomParams) Draw() protocol.StreamParams {
	r.mu.Lock()
	defer r.mu.Unlock()

	return protocol.StreamParams{
		Seed: r.next(),
		Mult: r.next(),
		Add:  r.next(),
	}
}

func (r *RandomParams) next() uint32 {
	return uint32(protocol.MinStreamParam + r.rng.IntN(protocol.MaxStreamParam-protocol.MinStreamParam+1))
}

// FixedParams always returns the same parameters.
type FixedParams protocol.StreamParams

// Draw returns p.
func (p FixedParams) Draw() protocol.StreamParams {
	return protocol.StreamParams(p)
}
