package sidebus

import (
	"fmt"
	"net"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// UDPOutlet pushes msgpack-encoded samples as UDP datagrams, the
// lightweight stand-in for a Lab Streaming Layer outlet. The announce
// datagram carries the stream resolution metadata consumers need.
type UDPOutlet struct {
	conn net.Conn
	addr string
}

// DefaultAddr is the conventional LSL data port on loopback.
const DefaultAddr = "127.0.0.1:16571"

// NewUDPOutlet dials the bus address. Initialization failure is
// surfaced so the caller can fall back to the Nop publisher.
func NewUDPOutlet(addr string) (*UDPOutlet, error) {
	if addr == "" {
		addr = DefaultAddr
	}
	conn, err := net.DialTimeout("udp", addr, 2*time.Second)
	if err != nil {
		return nil, fmt.Errorf("sidebus: dialing %s: %w", addr, err)
	}
	return &UDPOutlet{conn: conn, addr: addr}, nil
}

// Announce publishes the stream info datagram.
func (o *UDPOutlet) Announce(info StreamInfo) error {
	payload, err := msgpack.Marshal(map[string]interface{}{
		"type": "announce",
		"info": info,
	})
	if err != nil {
		return err
	}
	_, err = o.conn.Write(payload)
	return err
}

// Push publishes one sample datagram.
func (o *UDPOutlet) Push(s *Sample) error {
	payload, err := msgpack.Marshal(map[string]interface{}{
		"type":   "sample",
		"sample": s,
	})
	if err != nil {
		return err
	}
	_, err = o.conn.Write(payload)
	return err
}

func (o *UDPOutlet) Close() error { return o.conn.Close() }
