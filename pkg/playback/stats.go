package playback

import (
	"math"
	"sync"

	"gonum.org/v1/gonum/stat"
)

// ringSize bounds the statistics rings: only the most recent samples
// contribute to the reported summaries.
const ringSize = 1000

// Summary is the mean/std/max digest reported for a statistics ring.
type Summary struct {
	Mean float64 `json:"mean"`
	Std  float64 `json:"std"`
	Max  float64 `json:"max"`
}

// ring is a fixed-capacity sample buffer safe for one writer and many
// readers.
type ring struct {
	mu   sync.Mutex
	buf  []float64
	next int
	n    int
}

func newRing() *ring {
	return &ring{buf: make([]float64, ringSize)}
}

func (r *ring) push(v float64) {
	r.mu.Lock()
	r.buf[r.next] = v
	r.next = (r.next + 1) % len(r.buf)
	if r.n < len(r.buf) {
		r.n++
	}
	r.mu.Unlock()
}

func (r *ring) snapshot() []float64 {
	r.mu.Lock()
	out := make([]float64, r.n)
	if r.n < len(r.buf) {
		copy(out, r.buf[:r.n])
	} else {
		copy(out, r.buf[r.next:])
		copy(out[len(r.buf)-r.next:], r.buf[:r.next])
	}
	r.mu.Unlock()
	return out
}

func (r *ring) summary() Summary {
	vals := r.snapshot()
	if len(vals) == 0 {
		return Summary{}
	}
	var maxAbs float64
	for _, v := range vals {
		if a := math.Abs(v); a > maxAbs {
			maxAbs = a
		}
	}
	s := Summary{Mean: stat.Mean(vals, nil), Max: maxAbs}
	if len(vals) > 1 {
		s.Std = stat.StdDev(vals, nil)
	}
	return s
}

// memoryBytes estimates the ring's resident size for the metrics
// surface.
func (r *ring) memoryBytes() int {
	return len(r.buf) * 8
}
