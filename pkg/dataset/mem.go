package dataset

import (
	"fmt"
	"sort"
)

// Mem is the memory-resident dataset implementation backing both the
// parquet adapter and the synthetic generator. All fields are frozen
// after construction, so reads need no locking.
type Mem struct {
	name         string
	spikeTimes   [][]float64 // per channel, sorted ascending
	behaviorRate float64
	x, y, vx, vy []float64
	duration     float64
	trials       []Trial
}

// NewMem builds a dataset from raw arrays. Spike time arrays are
// sorted in place; trials must already be ordered and non-overlapping.
func NewMem(name string, spikeTimes [][]float64, behaviorRate float64,
	x, y, vx, vy []float64, duration float64, trials []Trial) (*Mem, error) {
	if behaviorRate <= 0 {
		return nil, fmt.Errorf("behavior rate must be positive, got %g", behaviorRate)
	}
	if len(x) != len(y) || len(x) != len(vx) || len(x) != len(vy) {
		return nil, fmt.Errorf("behavior arrays are not parallel: x=%d y=%d vx=%d vy=%d",
			len(x), len(y), len(vx), len(vy))
	}
	for c := range spikeTimes {
		sort.Float64s(spikeTimes[c])
	}
	if duration <= 0 && len(x) > 0 {
		duration = float64(len(x)) / behaviorRate
	}
	return &Mem{
		name:         name,
		spikeTimes:   spikeTimes,
		behaviorRate: behaviorRate,
		x:            x, y: y, vx: vx, vy: vy,
		duration: duration,
		trials:   trials,
	}, nil
}

func (m *Mem) Name() string             { return m.name }
func (m *Mem) NumChannels() int         { return len(m.spikeTimes) }
func (m *Mem) DurationSeconds() float64 { return m.duration }
func (m *Mem) BehaviorRate() float64    { return m.behaviorRate }
func (m *Mem) NumTimesteps() int        { return len(m.x) }
func (m *Mem) Close() error             { return nil }

func (m *Mem) BinnedSpikes(t0, t1, binMS float64) ([][]int, error) {
	if binMS <= 0 {
		return nil, fmt.Errorf("bin size must be positive, got %gms", binMS)
	}
	binS := binMS / 1000.0
	numBins := int((t1 - t0) / binS)
	if numBins < 1 {
		numBins = 1
	}
	counts := make([][]int, numBins)
	for b := range counts {
		counts[b] = make([]int, len(m.spikeTimes))
	}
	for c, times := range m.spikeTimes {
		lo := sort.SearchFloat64s(times, t0)
		for i := lo; i < len(times) && times[i] < t1; i++ {
			b := int((times[i] - t0) / binS)
			if b < 0 {
				b = 0
			} else if b >= numBins {
				b = numBins - 1
			}
			counts[b][c]++
		}
	}
	return counts, nil
}

func (m *Mem) Kinematics(t0, t1 float64) (BehaviorSlice, error) {
	i0 := int(t0 * m.behaviorRate)
	i1 := int(t1 * m.behaviorRate)
	n := len(m.x)
	if i0 < 0 {
		i0 = 0
	}
	if i1 > n {
		i1 = n
	}
	if i0 >= i1 || i0 >= n {
		return BehaviorSlice{}, nil
	}
	return BehaviorSlice{
		VX: m.vx[i0:i1],
		VY: m.vy[i0:i1],
		X:  m.x[i0:i1],
		Y:  m.y[i0:i1],
	}, nil
}

func (m *Mem) Trials() []Trial { return m.trials }

func (m *Mem) TrialAt(t float64) *Trial {
	// Trials are ordered by start time; find the last trial starting
	// at or before t and check containment.
	i := sort.Search(len(m.trials), func(i int) bool {
		return m.trials[i].StartTime > t
	})
	if i == 0 {
		return nil
	}
	tr := &m.trials[i-1]
	if t >= tr.StartTime && t < tr.StopTime {
		return tr
	}
	return nil
}

func (m *Mem) TrialsForTarget(k int) []Trial {
	var out []Trial
	for _, tr := range m.trials {
		if tr.ActiveTarget == k {
			out = append(out, tr)
		}
	}
	return out
}
