// Package wire defines the packet types and frame envelopes of the
// streaming protocol, together with the text (JSON) and binary
// (MessagePack) encodings of them. Both encodings produce the same
// object shape; clients pick one by endpoint.
package wire

// Frame types carried in the envelope "type" field.
const (
	TypeMetadata = "metadata"
	TypeData     = "data"
)

// SpikeData holds binned spike counts for the full channel array.
// channel_ids is identical across every packet of a session.
type SpikeData struct {
	ChannelIDs  []int   `json:"channel_ids" msgpack:"channel_ids"`
	SpikeCounts []int   `json:"spike_counts" msgpack:"spike_counts"`
	BinSizeMS   float64 `json:"bin_size_ms" msgpack:"bin_size_ms"`
}

// Kinematics is the cursor/hand behavioral ground truth for one bin.
type Kinematics struct {
	VX float64 `json:"vx" msgpack:"vx"`
	VY float64 `json:"vy" msgpack:"vy"`
	X  float64 `json:"x" msgpack:"x"`
	Y  float64 `json:"y" msgpack:"y"`
}

// TargetIntention is the reach-target ground truth. All fields are nil
// outside of a trial.
type TargetIntention struct {
	TargetID         *int     `json:"target_id" msgpack:"target_id"`
	TargetX          *float64 `json:"target_x" msgpack:"target_x"`
	TargetY          *float64 `json:"target_y" msgpack:"target_y"`
	DistanceToTarget *float64 `json:"distance_to_target" msgpack:"distance_to_target"`
}

// StreamPacket is the unit of wire output: one 25ms bin of spikes
// time-aligned with behavior and trial context.
type StreamPacket struct {
	Timestamp      float64         `json:"timestamp" msgpack:"timestamp"`
	SequenceNumber uint64          `json:"sequence_number" msgpack:"sequence_number"`
	Spikes         SpikeData       `json:"spikes" msgpack:"spikes"`
	Kinematics     Kinematics      `json:"kinematics" msgpack:"kinematics"`
	Intention      TargetIntention `json:"intention" msgpack:"intention"`
	TrialID        *int            `json:"trial_id" msgpack:"trial_id"`
	TrialTimeMS    *float64        `json:"trial_time_ms" msgpack:"trial_time_ms"`
}

// StreamMetadata describes the dataset behind a stream. Sent once as
// the first frame of every connection.
type StreamMetadata struct {
	Dataset         string  `json:"dataset" msgpack:"dataset"`
	TotalPackets    int     `json:"total_packets" msgpack:"total_packets"`
	FrequencyHz     int     `json:"frequency_hz" msgpack:"frequency_hz"`
	NumChannels     int     `json:"num_channels" msgpack:"num_channels"`
	DurationSeconds float64 `json:"duration_seconds" msgpack:"duration_seconds"`
	NumTrials       int     `json:"num_trials" msgpack:"num_trials"`
}

// SessionRef identifies the session a stream belongs to.
type SessionRef struct {
	Code string `json:"code" msgpack:"code"`
	URL  string `json:"url" msgpack:"url"`
}

// Envelope is the outer frame: {"type": ..., "data": ...} with an
// optional session block on metadata frames.
type Envelope struct {
	Type    string      `json:"type" msgpack:"type"`
	Data    interface{} `json:"data" msgpack:"data"`
	Session *SessionRef `json:"session,omitempty" msgpack:"session,omitempty"`
}

// MetadataFrame builds the first frame of a connection.
func MetadataFrame(meta StreamMetadata, session *SessionRef) Envelope {
	return Envelope{Type: TypeMetadata, Data: meta, Session: session}
}

// DataFrame wraps a packet for the wire.
func DataFrame(pkt *StreamPacket) Envelope {
	return Envelope{Type: TypeData, Data: pkt}
}
