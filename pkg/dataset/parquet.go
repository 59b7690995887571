package dataset

import (
	"bytes"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/segmentio/parquet-go"
)

// On-disk layout: three parquet tables per dataset under one directory.
//
//	<name>.spikes.parquet    one row per spike event
//	<name>.behavior.parquet  one row per behavior sample
//	<name>.trials.parquet    one row per trial
//
// The spike and behavior tables are sorted by time at write time; the
// loader re-sorts spikes per channel anyway so out-of-order files work.

type spikeRow struct {
	Channel int32   `parquet:"channel"`
	Time    float64 `parquet:"time"`
}

type behaviorRow struct {
	Time float64 `parquet:"time"`
	X    float64 `parquet:"x"`
	Y    float64 `parquet:"y"`
	VX   float64 `parquet:"vx"`
	VY   float64 `parquet:"vy"`
}

func spikesPath(dir, name string) string   { return filepath.Join(dir, name+".spikes.parquet") }
func behaviorPath(dir, name string) string { return filepath.Join(dir, name+".behavior.parquet") }
func trialsPath(dir, name string) string   { return filepath.Join(dir, name+".trials.parquet") }

// Exists reports whether all three tables are present on disk.
func Exists(dir, name string) bool {
	for _, p := range []string{spikesPath(dir, name), behaviorPath(dir, name), trialsPath(dir, name)} {
		if _, err := os.Stat(p); err != nil {
			return false
		}
	}
	return true
}

// Open loads the three parquet tables of a dataset into a resident
// Mem dataset. File bytes are memory-mapped on linux.
func Open(dir, name string) (*Mem, error) {
	if !Exists(dir, name) {
		return nil, fmt.Errorf("%w: %s in %s", ErrNotFound, name, dir)
	}

	spikes, err := readTable[spikeRow](spikesPath(dir, name))
	if err != nil {
		return nil, fmt.Errorf("reading spikes table: %w", err)
	}
	behavior, err := readTable[behaviorRow](behaviorPath(dir, name))
	if err != nil {
		return nil, fmt.Errorf("reading behavior table: %w", err)
	}
	trials, err := readTable[Trial](trialsPath(dir, name))
	if err != nil {
		return nil, fmt.Errorf("reading trials table: %w", err)
	}
	if len(behavior) < 2 {
		return nil, fmt.Errorf("behavior table too short: %d samples", len(behavior))
	}

	numChannels := 0
	for _, s := range spikes {
		if int(s.Channel) >= numChannels {
			numChannels = int(s.Channel) + 1
		}
	}
	spikeTimes := make([][]float64, numChannels)
	for _, s := range spikes {
		spikeTimes[s.Channel] = append(spikeTimes[s.Channel], s.Time)
	}

	x := make([]float64, len(behavior))
	y := make([]float64, len(behavior))
	vx := make([]float64, len(behavior))
	vy := make([]float64, len(behavior))
	for i, b := range behavior {
		x[i], y[i], vx[i], vy[i] = b.X, b.Y, b.VX, b.VY
	}

	rate := detectRate(behavior)
	duration := behavior[len(behavior)-1].Time

	return NewMem(name, spikeTimes, rate, x, y, vx, vy, duration, trials)
}

// detectRate estimates the behavior sampling rate from the first ~100
// inter-sample gaps, the same way the recording timestamps would be
// inspected by hand.
func detectRate(rows []behaviorRow) float64 {
	n := len(rows)
	if n > 101 {
		n = 101
	}
	var sum float64
	var count int
	for i := 1; i < n; i++ {
		d := rows[i].Time - rows[i-1].Time
		if d > 0 {
			sum += d
			count++
		}
	}
	if count == 0 || sum == 0 {
		return 40.0
	}
	rate := float64(count) / sum
	if math.IsInf(rate, 0) || math.IsNaN(rate) {
		return 40.0
	}
	return rate
}

func readTable[T any](path string) ([]T, error) {
	data, closeMap, err := mapFile(path)
	if err != nil {
		return nil, err
	}
	defer closeMap()
	rows, err := parquet.Read[T](bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return rows, nil
}
