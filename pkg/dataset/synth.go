package dataset

import (
	"math"
	"math/rand"
)

// SynthConfig controls the synthetic dataset generator. Zero fields
// take the defaults below.
type SynthConfig struct {
	Name            string
	Channels        int
	DurationSeconds float64
	BehaviorRate    float64
	NumTargets      int
	Seed            int64
}

func (c *SynthConfig) applyDefaults() {
	if c.Name == "" {
		c.Name = "synthetic"
	}
	if c.Channels <= 0 {
		c.Channels = 32
	}
	if c.DurationSeconds <= 0 {
		c.DurationSeconds = 60
	}
	if c.BehaviorRate <= 0 {
		c.BehaviorRate = 100
	}
	if c.NumTargets <= 0 {
		c.NumTargets = 8
	}
	if c.Seed == 0 {
		c.Seed = 42
	}
}

const (
	synthTrialLen   = 2.0  // seconds per reach
	synthTrialGap   = 0.5  // inter-trial interval
	synthTargetDist = 10.0 // target ring radius, cm
)

// Synthesize generates a deterministic center-out reaching dataset:
// sinusoid-modulated Poisson spike trains per channel, smooth reaches
// from center to a rotating ring target, and a back-to-back trial
// table. Reproducible for a given seed.
func Synthesize(cfg SynthConfig) *Mem {
	cfg.applyDefaults()
	rng := rand.New(rand.NewSource(cfg.Seed))

	trials := synthTrials(cfg, rng)
	x, y, vx, vy := synthBehavior(cfg, trials)
	spikeTimes := synthSpikes(cfg, rng)

	m, err := NewMem(cfg.Name, spikeTimes, cfg.BehaviorRate, x, y, vx, vy, cfg.DurationSeconds, trials)
	if err != nil {
		// Only reachable with a broken generator; the inputs above are
		// constructed to satisfy NewMem's checks.
		panic(err)
	}
	return m
}

func synthTrials(cfg SynthConfig, rng *rand.Rand) []Trial {
	targetX := make([]float64, cfg.NumTargets)
	targetY := make([]float64, cfg.NumTargets)
	for k := 0; k < cfg.NumTargets; k++ {
		angle := 2 * math.Pi * float64(k) / float64(cfg.NumTargets)
		targetX[k] = synthTargetDist * math.Cos(angle)
		targetY[k] = synthTargetDist * math.Sin(angle)
	}

	var trials []Trial
	t := synthTrialGap
	for id := 0; t+synthTrialLen <= cfg.DurationSeconds; id++ {
		goCue := t + 0.3
		onset := t + 0.5
		trials = append(trials, Trial{
			TrialID:      id,
			StartTime:    t,
			StopTime:     t + synthTrialLen,
			Success:      rng.Float64() > 0.2,
			NumTargets:   cfg.NumTargets,
			ActiveTarget: id % cfg.NumTargets,
			TargetX:      targetX,
			TargetY:      targetY,
			GoCueTime:    &goCue,
			MoveOnset:    &onset,
		})
		t += synthTrialLen + synthTrialGap
	}
	return trials
}

// smoothstep eases 0..1 with zero velocity at both ends.
func smoothstep(p float64) float64 {
	if p <= 0 {
		return 0
	}
	if p >= 1 {
		return 1
	}
	return p * p * (3 - 2*p)
}

func synthBehavior(cfg SynthConfig, trials []Trial) (x, y, vx, vy []float64) {
	n := int(cfg.DurationSeconds * cfg.BehaviorRate)
	x = make([]float64, n)
	y = make([]float64, n)
	vx = make([]float64, n)
	vy = make([]float64, n)

	trialIdx := 0
	for i := 0; i < n; i++ {
		t := float64(i) / cfg.BehaviorRate
		for trialIdx < len(trials) && t >= trials[trialIdx].StopTime {
			trialIdx++
		}
		if trialIdx < len(trials) && t >= trials[trialIdx].StartTime {
			tr := &trials[trialIdx]
			tx, ty, _ := tr.TargetPosition()
			p := smoothstep((t - tr.StartTime) / (tr.StopTime - tr.StartTime))
			x[i] = tx * p
			y[i] = ty * p
		}
		// Between trials the cursor sits at the previous sample's
		// position; the easing pulls it back near center anyway.
		if x[i] == 0 && y[i] == 0 && i > 0 && (trialIdx >= len(trials) || t < trials[trialIdx].StartTime) {
			x[i] = x[i-1] * 0.95
			y[i] = y[i-1] * 0.95
		}
	}
	for i := 1; i < n; i++ {
		vx[i] = (x[i] - x[i-1]) * cfg.BehaviorRate
		vy[i] = (y[i] - y[i-1]) * cfg.BehaviorRate
	}
	return x, y, vx, vy
}

// synthSpikes draws each channel as an inhomogeneous Poisson process
// by thinning: candidates at the peak rate, accepted in proportion to
// a per-channel sinusoidal rate profile.
func synthSpikes(cfg SynthConfig, rng *rand.Rand) [][]float64 {
	spikeTimes := make([][]float64, cfg.Channels)
	for c := 0; c < cfg.Channels; c++ {
		base := 5.0 + 20.0*rng.Float64()  // Hz
		depth := 0.5 + 0.4*rng.Float64()  // modulation depth
		freq := 0.2 + 0.8*rng.Float64()   // Hz
		phase := 2 * math.Pi * rng.Float64()
		peak := base * (1 + depth)

		var times []float64
		t := rng.ExpFloat64() / peak
		for t < cfg.DurationSeconds {
			rate := base * (1 + depth*math.Sin(2*math.Pi*freq*t+phase))
			if rng.Float64()*peak < rate {
				times = append(times, t)
			}
			t += rng.ExpFloat64() / peak
		}
		spikeTimes[c] = times
	}
	return spikeTimes
}
