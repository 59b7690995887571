package wire

import (
	"github.com/segmentio/encoding/json"
	"github.com/vmihailenco/msgpack/v5"
)

// Encoder marshals envelopes for one of the two wire formats.
type Encoder interface {
	// Name is the format tag used in logs and URLs ("text", "binary").
	Name() string
	// Binary reports whether frames should go out as binary websocket
	// messages rather than UTF-8 text.
	Binary() bool
	Marshal(v interface{}) ([]byte, error)
	Unmarshal(data []byte, v interface{}) error
}

type jsonEncoder struct{}

func (jsonEncoder) Name() string   { return "text" }
func (jsonEncoder) Binary() bool   { return false }
func (jsonEncoder) Marshal(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}
func (jsonEncoder) Unmarshal(data []byte, v interface{}) error {
	return json.Unmarshal(data, v)
}

type msgpackEncoder struct{}

func (msgpackEncoder) Name() string { return "binary" }
func (msgpackEncoder) Binary() bool { return true }
func (msgpackEncoder) Marshal(v interface{}) ([]byte, error) {
	return msgpack.Marshal(v)
}
func (msgpackEncoder) Unmarshal(data []byte, v interface{}) error {
	return msgpack.Unmarshal(data, v)
}

// JSON is the text wire encoding.
var JSON Encoder = jsonEncoder{}

// Msgpack is the binary wire encoding.
var Msgpack Encoder = msgpackEncoder{}
