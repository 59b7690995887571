// Package sidebus mirrors emitted packets onto a research-community
// neural streaming bus. The hand-off is fire-and-forget: a missing,
// failed or slow bus never disturbs the primary wire stream.
package sidebus

import (
	"log"
	"sync"
	"sync/atomic"

	"github.com/bcistream/pkg/wire"
)

// Publisher is the injectable sink the fan-out layer feeds.
type Publisher interface {
	// Publish hands off one packet. It must never block the caller.
	Publish(sessionCode string, pkt *wire.StreamPacket)
	Close() error
}

// Sample is the flattened bus payload: the three sections the
// community tooling expects (neural counts, kinematics, intention
// markers) in one message.
type Sample struct {
	Session     string     `msgpack:"session"`
	Timestamp   float64    `msgpack:"timestamp"`
	Sequence    uint64     `msgpack:"sequence"`
	SpikeCounts []int      `msgpack:"spike_counts"`
	Kinematics  [4]float64 `msgpack:"kinematics"` // vx, vy, x, y
	Intention   [4]float64 `msgpack:"intention"`  // target_id, target_x, target_y, trial_id (-1 outside trials)
}

// StreamInfo is announced once so consumers can resolve the stream.
type StreamInfo struct {
	Name         string  `msgpack:"name"`
	Type         string  `msgpack:"type"`
	SourceID     string  `msgpack:"source_id"`
	ChannelCount int     `msgpack:"channel_count"`
	NominalSRate float64 `msgpack:"nominal_srate"`
}

// Outlet is the transport behind the relay.
type Outlet interface {
	Announce(info StreamInfo) error
	Push(s *Sample) error
	Close() error
}

type nop struct{}

func (nop) Publish(string, *wire.StreamPacket) {}
func (nop) Close() error                       { return nil }

// Nop is the publisher used when the bus is disabled or failed to
// initialize.
func Nop() Publisher { return nop{} }

// Relay decouples the tick loop from the outlet with a bounded
// channel. Publish never blocks: when the worker falls behind, the
// side-bus copy is dropped and counted.
type Relay struct {
	out     Outlet
	ch      chan *Sample
	done    chan struct{}
	dropped atomic.Uint64
	once    sync.Once
}

// NewRelay starts the relay worker. buffer bounds the in-flight
// samples awaiting the outlet.
func NewRelay(out Outlet, buffer int) *Relay {
	if buffer <= 0 {
		buffer = 64
	}
	r := &Relay{
		out:  out,
		ch:   make(chan *Sample, buffer),
		done: make(chan struct{}),
	}
	go r.work()
	return r
}

func (r *Relay) work() {
	defer close(r.done)
	var failures uint64
	for s := range r.ch {
		if err := r.out.Push(s); err != nil {
			// Per-call failures are tolerated; log the first few and
			// go quiet.
			failures++
			if failures <= 3 {
				log.Printf("sidebus: push failed: %v", err)
			}
		}
	}
}

// Publish converts and enqueues the packet, dropping when full.
func (r *Relay) Publish(sessionCode string, pkt *wire.StreamPacket) {
	s := flatten(sessionCode, pkt)
	select {
	case r.ch <- s:
	default:
		r.dropped.Add(1)
	}
}

// Dropped reports how many side-bus copies were discarded.
func (r *Relay) Dropped() uint64 { return r.dropped.Load() }

// Close drains the relay and closes the outlet.
func (r *Relay) Close() error {
	r.once.Do(func() { close(r.ch) })
	<-r.done
	return r.out.Close()
}

func flatten(sessionCode string, pkt *wire.StreamPacket) *Sample {
	s := &Sample{
		Session:     sessionCode,
		Timestamp:   pkt.Timestamp,
		Sequence:    pkt.SequenceNumber,
		SpikeCounts: pkt.Spikes.SpikeCounts,
		Kinematics: [4]float64{
			pkt.Kinematics.VX, pkt.Kinematics.VY,
			pkt.Kinematics.X, pkt.Kinematics.Y,
		},
		Intention: [4]float64{-1, 0, 0, -1},
	}
	if pkt.Intention.TargetID != nil {
		s.Intention[0] = float64(*pkt.Intention.TargetID)
	}
	if pkt.Intention.TargetX != nil {
		s.Intention[1] = *pkt.Intention.TargetX
	}
	if pkt.Intention.TargetY != nil {
		s.Intention[2] = *pkt.Intention.TargetY
	}
	if pkt.TrialID != nil {
		s.Intention[3] = float64(*pkt.TrialID)
	}
	return s
}
