package flashtest

import (
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/bigbag/ec-flash-tester/internal/protocol"
)

func TestRandomParams_Range(t *testing.T) {
	src := NewRandomParams(DefaultSeed)
	for i := 0; i < 10000; i++ {
		p := src.Draw()
		for _, v := range []uint32{p.Seed, p.Mult, p.Add} {
			if v < protocol.MinStreamParam || v > protocol.MaxStreamParam {
				t.Fatalf("draw %d = %+v, value %d out of range", i, p, v)
			}
		}
	}
}

func TestRandomParams_SameSeedSameSequence(t *testing.T) {
	a := NewRandomParams(42)
	b := NewRandomParams(42)
	for i := 0; i < 100; i++ {
		if pa, pb := a.Draw(), b.Draw(); pa != pb {
			t.Fatalf("draw %d: %+v != %+v", i, pa, pb)
		}
	}
	if a.Seed() != 42 {
		t.Errorf("Seed() = %d, want 42", a.Seed())
	}
}

func TestRandomParams_DifferentSeeds(t *testing.T) {
	a := NewRandomParams(1)
	b := NewRandomParams(2)
	same := 0
	for i := 0; i < 20; i++ {
		if a.Draw() == b.Draw() {
			same++
		}
	}
	if same == 20 {
		t.Error("different seeds produced identical sequences")
	}
}

// Concurrent draws must still hand out exactly the sequential draws,
// only in some interleaving.
func TestRandomParams_ConcurrentDraws(t *testing.T) {
	const workers, perWorker = 8, 50

	want := make(map[protocol.StreamParams]int)
	seq := NewRandomParams(7)
	for i := 0; i < workers*perWorker; i++ {
		want[seq.Draw()]++
	}

	src := NewRandomParams(7)
	var mu sync.Mutex
	got := make(map[protocol.StreamParams]int)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				p := src.Draw()
				mu.Lock()
				got[p]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("concurrent draws differ from sequential draws (-want +got):\n%s", diff)
	}
}

func TestFixedParams(t *testing.T) {
	p := FixedParams{Seed: 5, Mult: 1, Add: 0}
	for i := 0; i < 3; i++ {
		if got := p.Draw(); got != (protocol.StreamParams{Seed: 5, Mult: 1, Add: 0}) {
			t.Errorf("Draw() = %+v", got)
		}
	}
}
