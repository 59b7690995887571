package dataset

import (
	"fmt"
	"os"

	"github.com/segmentio/parquet-go"
)

// WriteParquet materializes the dataset as the three-table parquet
// layout Open expects, tagging each file with the dataset name.
func (m *Mem) WriteParquet(dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	spikes := make([]spikeRow, 0, 1024)
	for c, times := range m.spikeTimes {
		for _, t := range times {
			spikes = append(spikes, spikeRow{Channel: int32(c), Time: t})
		}
	}
	if err := writeTable(spikesPath(dir, m.name), m.name, spikes); err != nil {
		return fmt.Errorf("writing spikes table: %w", err)
	}

	behavior := make([]behaviorRow, len(m.x))
	for i := range m.x {
		behavior[i] = behaviorRow{
			Time: float64(i) / m.behaviorRate,
			X:    m.x[i], Y: m.y[i], VX: m.vx[i], VY: m.vy[i],
		}
	}
	if err := writeTable(behaviorPath(dir, m.name), m.name, behavior); err != nil {
		return fmt.Errorf("writing behavior table: %w", err)
	}

	if err := writeTable(trialsPath(dir, m.name), m.name, m.trials); err != nil {
		return fmt.Errorf("writing trials table: %w", err)
	}
	return nil
}

func writeTable[T any](path, name string, rows []T) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	w := parquet.NewGenericWriter[T](f, parquet.KeyValueMetadata("dataset", name))
	if _, err := w.Write(rows); err != nil {
		f.Close()
		return err
	}
	if err := w.Close(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
