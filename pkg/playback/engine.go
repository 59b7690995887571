// Package playback implements the tick-accurate replay engine: one
// 25ms bin of time-aligned spike, kinematics and trial data per tick,
// with pause/resume/seek/loop controls and bounded timing drift.
package playback

import (
	"context"
	"errors"
	"log"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bcistream/pkg/dataset"
	"github.com/bcistream/pkg/wire"
)

// ErrStreamActive is returned by Stream while another consumer owns
// the session's cursor.
var ErrStreamActive = errors.New("playback: stream already active")

// EmitResult classifies the outcome of synthesizing one bin.
type EmitResult int

const (
	// EmitOK means the packet is valid and should go on the wire.
	EmitOK EmitResult = iota
	// EmitSkipped means the bin does not match an active filter. The
	// cursor advances but the sequence number does not.
	EmitSkipped
	// EmitDropped means a dataset read failed for this bin; it counts
	// against dropped_packets and playback continues.
	EmitDropped
	// EmitEndOfStream means the cursor has run past the last bin.
	EmitEndOfStream
)

// Config parameterizes an engine. One engine exists per session.
type Config struct {
	// FrequencyHz is the tick rate; 40 gives the canonical 25ms bin.
	FrequencyHz int
	// Noise optionally perturbs spike counts before emission.
	Noise *NoiseStage
}

// StreamOptions are fixed for the lifetime of one Stream call.
type StreamOptions struct {
	// Loop wraps the cursor to bin 0 at end-of-stream instead of
	// closing the channel.
	Loop bool
	// TrialFilter restricts emission to bins inside the given trial.
	TrialFilter *int
	// TargetFilter restricts emission to bins whose trial reaches for
	// the given target index.
	TargetFilter *int
}

// Engine owns one session's playback cursor and statistics. The
// producer goroutine started by Stream is the only writer of the
// cursor; control calls post flags the producer observes at the top of
// its tick loop, keeping the hot path lock-free.
type Engine struct {
	ds       dataset.Dataset
	interval time.Duration
	freq     int
	numBins  int
	noise    *NoiseStage

	channelIDs []int

	running     atomic.Bool
	paused      atomic.Bool
	pendingSeek atomic.Int64 // target bin index; -1 when no seek is queued

	currentIndex atomic.Int64
	packetsSent  atomic.Uint64
	dropped      atomic.Uint64

	timingErrors *ring
	netLatencies *ring

	// streamMu serializes producers: one Stream call at a time owns
	// the cursor.
	streamMu sync.Mutex
}

// Stats is the per-session statistics snapshot for the metrics
// surface.
type Stats struct {
	PacketsSent      uint64  `json:"packets_sent"`
	DroppedPackets   uint64  `json:"dropped_packets"`
	CurrentIndex     int     `json:"current_index"`
	IsRunning        bool    `json:"is_running"`
	IsPaused         bool    `json:"is_paused"`
	TimingErrorMS    Summary `json:"timing_error_ms"`
	NetworkLatencyMS Summary `json:"network_latency_ms"`
	MemoryUsageMB    float64 `json:"memory_usage_mb"`
}

// NewEngine builds an engine over a shared read-only dataset.
func NewEngine(ds dataset.Dataset, cfg Config) *Engine {
	freq := cfg.FrequencyHz
	if freq <= 0 {
		freq = 40
	}
	channelIDs := make([]int, ds.NumChannels())
	for i := range channelIDs {
		channelIDs[i] = i
	}
	e := &Engine{
		ds:           ds,
		freq:         freq,
		interval:     time.Second / time.Duration(freq),
		numBins:      int(ds.DurationSeconds() * float64(freq)),
		noise:        cfg.Noise,
		channelIDs:   channelIDs,
		timingErrors: newRing(),
		netLatencies: newRing(),
	}
	e.pendingSeek.Store(-1)
	return e
}

// TotalPackets is the number of bins in one full pass of the dataset.
func (e *Engine) TotalPackets() int { return e.numBins }

// Metadata describes the stream for the initial connection frame.
func (e *Engine) Metadata() wire.StreamMetadata {
	return wire.StreamMetadata{
		Dataset:         e.ds.Name(),
		TotalPackets:    e.numBins,
		FrequencyHz:     e.freq,
		NumChannels:     e.ds.NumChannels(),
		DurationSeconds: e.ds.DurationSeconds(),
		NumTrials:       len(e.ds.Trials()),
	}
}

// PacketAt synthesizes the packet for one bin index. The sequence
// number is stamped by the caller since filters advance the cursor
// without consuming sequence numbers.
func (e *Engine) PacketAt(index int, seq uint64, opts StreamOptions) (wire.StreamPacket, EmitResult) {
	if index >= e.numBins {
		return wire.StreamPacket{}, EmitEndOfStream
	}

	binS := e.interval.Seconds()
	t0 := float64(index) * binS
	t1 := t0 + binS

	trial := e.ds.TrialAt(t0)
	if opts.TrialFilter != nil && (trial == nil || trial.TrialID != *opts.TrialFilter) {
		return wire.StreamPacket{}, EmitSkipped
	}
	if opts.TargetFilter != nil && (trial == nil || trial.ActiveTarget != *opts.TargetFilter) {
		return wire.StreamPacket{}, EmitSkipped
	}

	binned, err := e.ds.BinnedSpikes(t0, t1, binS*1000)
	if err != nil {
		log.Printf("playback: spike read failed for bin %d: %v", index, err)
		return wire.StreamPacket{}, EmitDropped
	}
	counts := make([]int, e.ds.NumChannels())
	if len(binned) > 0 {
		copy(counts, binned[0])
	}

	kin, err := e.ds.Kinematics(t0, t1)
	if err != nil {
		log.Printf("playback: kinematics read failed for bin %d: %v", index, err)
		return wire.StreamPacket{}, EmitDropped
	}
	var k wire.Kinematics
	// An empty slice at the recording edge is not a failure; the
	// packet carries zeroed kinematics.
	if len(kin.X) > 0 {
		k = wire.Kinematics{VX: kin.VX[0], VY: kin.VY[0], X: kin.X[0], Y: kin.Y[0]}
	}

	var intention wire.TargetIntention
	var trialID *int
	var trialTimeMS *float64
	if trial != nil {
		id := trial.TrialID
		trialID = &id
		tms := (t0 - trial.StartTime) * 1000
		trialTimeMS = &tms
		if tx, ty, ok := trial.TargetPosition(); ok {
			target := trial.ActiveTarget
			dist := math.Hypot(k.X-tx, k.Y-ty)
			intention = wire.TargetIntention{
				TargetID:         &target,
				TargetX:          &tx,
				TargetY:          &ty,
				DistanceToTarget: &dist,
			}
		}
	}

	pkt := wire.StreamPacket{
		Timestamp:      float64(time.Now().UnixNano()) / 1e9,
		SequenceNumber: seq,
		Spikes: wire.SpikeData{
			ChannelIDs:  e.channelIDs,
			SpikeCounts: counts,
			BinSizeMS:   binS * 1000,
		},
		Kinematics:  k,
		Intention:   intention,
		TrialID:     trialID,
		TrialTimeMS: trialTimeMS,
	}
	if e.noise != nil {
		e.noise.Apply(&pkt, t0)
	}
	return pkt, EmitOK
}

// Stream starts the producer and returns its packet channel. The
// channel is unbuffered, so exactly one packet is ever in flight per
// consumer; a slow consumer shows up as timing slip, not queue growth.
// The channel closes on end-of-stream (loop disabled), Stop, or
// context cancellation. The cursor has a single owner: a second
// Stream call while a producer is live fails with ErrStreamActive.
func (e *Engine) Stream(ctx context.Context, opts StreamOptions) (<-chan wire.StreamPacket, error) {
	if !e.streamMu.TryLock() {
		return nil, ErrStreamActive
	}
	ch := make(chan wire.StreamPacket)
	go e.produce(ctx, opts, ch)
	return ch, nil
}

func (e *Engine) produce(ctx context.Context, opts StreamOptions, ch chan<- wire.StreamPacket) {
	defer close(ch)
	defer e.streamMu.Unlock()

	e.running.Store(true)
	defer e.running.Store(false)

	cursor := 0
	var seq uint64
	e.currentIndex.Store(0)
	start := time.Now()
	filtered := opts.TrialFilter != nil || opts.TargetFilter != nil
	emittedThisPass := false
	idled := false

	for {
		if ctx.Err() != nil {
			return
		}
		if !e.running.Load() {
			log.Printf("playback: stopped after %d packets", e.packetsSent.Load())
			return
		}
		if e.paused.Load() {
			idled = true
			select {
			case <-ctx.Done():
				return
			case <-time.After(100 * time.Millisecond):
			}
			continue
		}
		if idled {
			idled = false
			// Resume on a fresh schedule; bursting through every
			// deadline missed while paused would break the cadence
			// contract.
			start = time.Now().Add(-time.Duration(seq) * e.interval)
		}
		if idx := e.pendingSeek.Swap(-1); idx >= 0 {
			cursor = int(idx)
			e.currentIndex.Store(idx)
			// Re-base so the next expected emission time is now while
			// the sequence number stays monotone.
			start = time.Now().Add(-time.Duration(seq) * e.interval)
		}

		if cursor >= e.numBins {
			if !opts.Loop {
				return
			}
			// A filter that matched nothing in a full pass will never
			// match; wrapping would spin forever.
			if filtered && !emittedThisPass {
				log.Printf("playback: filter matched no bins in a full pass, ending stream")
				return
			}
			cursor = 0
			emittedThisPass = false
			continue
		}

		pkt, res := e.PacketAt(cursor, seq, opts)
		switch res {
		case EmitSkipped:
			cursor++
			e.currentIndex.Store(int64(cursor))
			continue
		case EmitDropped:
			e.dropped.Add(1)
			cursor++
			e.currentIndex.Store(int64(cursor))
			continue
		case EmitEndOfStream:
			continue
		}

		expected := start.Add(time.Duration(seq) * e.interval)
		select {
		case ch <- pkt:
		case <-ctx.Done():
			return
		}
		cursor++
		seq++
		e.currentIndex.Store(int64(cursor))
		sent := e.packetsSent.Add(1)
		emittedThisPass = true

		now := time.Now()
		e.timingErrors.push(float64(now.Sub(expected).Microseconds()) / 1000.0)
		if sent%1000 == 0 {
			s := e.timingErrors.summary()
			log.Printf("playback: %d packets, timing error %.3f±%.3fms", sent, s.Mean, s.Std)
		}

		next := start.Add(time.Duration(seq) * e.interval)
		wait := time.Until(next)
		if wait > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
			}
		} else if -wait > e.interval/2 {
			// Timing is the contract, not count: proceed immediately
			// rather than emitting back-to-back to catch up.
			log.Printf("playback: timing slip %.2fms behind schedule", float64(-wait.Microseconds())/1000.0)
		}
	}
}

// Pause idles the tick loop without advancing the cursor. Pausing an
// already paused engine is a no-op.
func (e *Engine) Pause() { e.paused.Store(true) }

// Resume clears the pause flag.
func (e *Engine) Resume() { e.paused.Store(false) }

// Stop terminates the producer at its next check.
func (e *Engine) Stop() { e.running.Store(false) }

// Seek queues a jump to the bin containing the given position. The
// producer picks it up at the top of its tick loop.
func (e *Engine) Seek(positionSeconds float64) {
	idx := int64(positionSeconds * float64(e.freq))
	if idx < 0 {
		idx = 0
	}
	if last := int64(e.numBins - 1); idx > last {
		idx = last
	}
	e.pendingSeek.Store(idx)
}

// RecordLatency feeds the network latency ring (wall time between
// packet generation and socket write completion).
func (e *Engine) RecordLatency(d time.Duration) {
	e.netLatencies.push(float64(d.Microseconds()) / 1000.0)
}

// RecordDrop counts a packet lost on the send path.
func (e *Engine) RecordDrop() { e.dropped.Add(1) }

func (e *Engine) IsRunning() bool    { return e.running.Load() }
func (e *Engine) IsPaused() bool     { return e.paused.Load() }
func (e *Engine) CurrentIndex() int  { return int(e.currentIndex.Load()) }
func (e *Engine) PacketsSent() uint64 { return e.packetsSent.Load() }

// Stats snapshots the engine counters and ring summaries.
func (e *Engine) Stats() Stats {
	memBytes := e.timingErrors.memoryBytes() + e.netLatencies.memoryBytes() +
		len(e.channelIDs)*8
	return Stats{
		PacketsSent:      e.packetsSent.Load(),
		DroppedPackets:   e.dropped.Load(),
		CurrentIndex:     int(e.currentIndex.Load()),
		IsRunning:        e.running.Load(),
		IsPaused:         e.paused.Load(),
		TimingErrorMS:    e.timingErrors.summary(),
		NetworkLatencyMS: e.netLatencies.summary(),
		MemoryUsageMB:    float64(memBytes) / (1024 * 1024),
	}
}
