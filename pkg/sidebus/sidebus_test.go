package sidebus

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/bcistream/pkg/wire"
)

func busPacket(seq uint64) *wire.StreamPacket {
	target := 2
	tx, ty := 10.0, 0.0
	trial := 5
	return &wire.StreamPacket{
		Timestamp:      123.456,
		SequenceNumber: seq,
		Spikes:         wire.SpikeData{SpikeCounts: []int{1, 0, 4}},
		Kinematics:     wire.Kinematics{VX: 1, VY: 2, X: 3, Y: 4},
		Intention:      wire.TargetIntention{TargetID: &target, TargetX: &tx, TargetY: &ty},
		TrialID:        &trial,
	}
}

func TestFlatten(t *testing.T) {
	s := flatten("swift-brain-1", busPacket(9))
	if s.Session != "swift-brain-1" || s.Sequence != 9 {
		t.Fatalf("identity lost: %+v", s)
	}
	if s.Kinematics != [4]float64{1, 2, 3, 4} {
		t.Errorf("kinematics order must be vx,vy,x,y: %v", s.Kinematics)
	}
	if s.Intention != [4]float64{2, 10, 0, 5} {
		t.Errorf("intention order must be target,x,y,trial: %v", s.Intention)
	}

	// Outside a trial the sentinel is -1, not zero.
	bare := flatten("s", &wire.StreamPacket{Spikes: wire.SpikeData{SpikeCounts: []int{0}}})
	if bare.Intention[0] != -1 || bare.Intention[3] != -1 {
		t.Errorf("expected -1 sentinels outside trials: %v", bare.Intention)
	}
}

// blockingOutlet never completes a push until released.
type blockingOutlet struct {
	release chan struct{}
	pushed  int
	mu      sync.Mutex
}

func (o *blockingOutlet) Announce(StreamInfo) error { return nil }
func (o *blockingOutlet) Close() error              { return nil }
func (o *blockingOutlet) Push(*Sample) error {
	<-o.release
	o.mu.Lock()
	o.pushed++
	o.mu.Unlock()
	return nil
}

func TestRelayNeverBlocksPublisher(t *testing.T) {
	out := &blockingOutlet{release: make(chan struct{})}
	r := NewRelay(out, 4)

	// The worker takes one sample and blocks; 4 fit in the buffer; the
	// rest must be dropped without stalling Publish.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 20; i++ {
			r.Publish("code", busPacket(uint64(i)))
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on a slow outlet")
	}

	time.Sleep(50 * time.Millisecond) // let the worker park on Push
	if r.Dropped() == 0 {
		t.Error("expected dropped samples with a wedged outlet")
	}

	close(out.release)
	if err := r.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestNopPublisher(t *testing.T) {
	p := Nop()
	p.Publish("x", busPacket(0)) // must not panic
	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestUDPOutlet(t *testing.T) {
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer pc.Close()

	out, err := NewUDPOutlet(pc.LocalAddr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer out.Close()

	info := StreamInfo{Name: "test-stream", Type: "EEG", ChannelCount: 3, NominalSRate: 40}
	if err := out.Announce(info); err != nil {
		t.Fatalf("Announce: %v", err)
	}
	if err := out.Push(flatten("code", busPacket(1))); err != nil {
		t.Fatalf("Push: %v", err)
	}

	buf := make([]byte, 64*1024)
	pc.SetReadDeadline(time.Now().Add(2 * time.Second))

	n, _, err := pc.ReadFrom(buf)
	if err != nil {
		t.Fatal(err)
	}
	var announce map[string]interface{}
	if err := msgpack.Unmarshal(buf[:n], &announce); err != nil {
		t.Fatalf("announce decode: %v", err)
	}
	if announce["type"] != "announce" {
		t.Errorf("first datagram type %v, want announce", announce["type"])
	}

	n, _, err = pc.ReadFrom(buf)
	if err != nil {
		t.Fatal(err)
	}
	var sample map[string]interface{}
	if err := msgpack.Unmarshal(buf[:n], &sample); err != nil {
		t.Fatalf("sample decode: %v", err)
	}
	if sample["type"] != "sample" {
		t.Errorf("second datagram type %v, want sample", sample["type"])
	}
}
