package playback

import (
	"math"
	"math/rand"
	"sync"

	"github.com/bcistream/pkg/wire"
)

// NoiseConfig parameterizes the optional spike perturbation stage.
type NoiseConfig struct {
	// Std is the standard deviation of the additive Gaussian noise.
	Std float64
	// DriftAmplitude scales the slow multiplicative sinusoidal drift.
	DriftAmplitude float64
	// DriftPeriodSeconds is the drift period (neural fatigue scale).
	DriftPeriodSeconds float64
	NoiseEnabled       bool
	DriftEnabled       bool
	// Seed makes the stage reproducible; 0 seeds from entropy.
	Seed int64
}

// NoiseStage perturbs packet spike counts to imitate recording drift:
// additive Gaussian noise plus a per-channel phase-offset sinusoid.
// Output counts are clamped to non-negative integers.
type NoiseStage struct {
	cfg NoiseConfig

	mu     sync.Mutex
	rng    *rand.Rand
	phases []float64 // drawn lazily on first Apply after a Reset
}

func NewNoiseStage(cfg NoiseConfig) *NoiseStage {
	if cfg.DriftPeriodSeconds <= 0 {
		cfg.DriftPeriodSeconds = 60
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = rand.Int63()
	}
	return &NoiseStage{cfg: cfg, rng: rand.New(rand.NewSource(seed))}
}

// Apply rewrites pkt's spike counts in place. elapsed is the playback
// time in seconds used to advance the drift oscillation.
func (n *NoiseStage) Apply(pkt *wire.StreamPacket, elapsed float64) {
	n.mu.Lock()
	defer n.mu.Unlock()

	counts := pkt.Spikes.SpikeCounts
	if len(n.phases) != len(counts) {
		n.phases = make([]float64, len(counts))
		for c := range n.phases {
			n.phases[c] = 2 * math.Pi * n.rng.Float64()
		}
	}

	for c, count := range counts {
		v := float64(count)
		if n.cfg.DriftEnabled {
			drift := n.cfg.DriftAmplitude *
				math.Sin(2*math.Pi*elapsed/n.cfg.DriftPeriodSeconds+n.phases[c])
			v *= 1 + drift
		}
		if n.cfg.NoiseEnabled {
			v += n.rng.NormFloat64() * n.cfg.Std
		}
		out := int(math.Round(v))
		if out < 0 {
			out = 0
		}
		counts[c] = out
	}
}

// Reset discards the per-channel phases; the next Apply redraws them.
func (n *NoiseStage) Reset() {
	n.mu.Lock()
	n.phases = nil
	n.mu.Unlock()
}
