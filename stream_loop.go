package main

import (
	"context"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/bcistream/pkg/playback"
	"github.com/bcistream/pkg/wire"
)

// writeDeadline bounds each socket write; a client that cannot drain a
// frame for this long is disconnected rather than backpressuring the
// tick loop.
const writeDeadline = 10 * time.Second

// handleStream is the websocket fan-out loop: upgrade, send the
// metadata frame, then relay engine packets at the tick rate until the
// engine or the client ends the stream. Text and binary endpoints
// share this path and differ only in encoder and message type.
func (s *server) handleStream(w http.ResponseWriter, r *http.Request, binary bool) {
	if s.manager == nil {
		http.Error(w, "session manager not initialized", 503)
		return
	}
	opts := playback.StreamOptions{Loop: true}
	if v := r.URL.Query().Get("trial_id"); v != "" {
		id, err := strconv.Atoi(v)
		if err != nil {
			http.Error(w, "invalid trial_id", 400)
			return
		}
		opts.TrialFilter = &id
	}
	if v := r.URL.Query().Get("target_id"); v != "" {
		id, err := strconv.Atoi(v)
		if err != nil {
			http.Error(w, "invalid target_id", 400)
			return
		}
		opts.TargetFilter = &id
	}

	// Connecting to an unknown code creates the session on the spot, so
	// a bare websocket client needs no control-API round trip first.
	code := s.manager.Create(r.PathValue("code"))
	engine, ok := s.manager.Get(code)
	if !ok {
		http.Error(w, "session "+code+" not found", 404)
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Claim the cursor before upgrading so a second consumer gets a
	// clear refusal instead of a stalled socket.
	packets, err := engine.Stream(ctx, opts)
	if err != nil {
		http.Error(w, "session "+code+" already has an active stream", 409)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	enc := wire.JSON
	msgType := websocket.TextMessage
	if binary {
		enc = wire.Msgpack
		msgType = websocket.BinaryMessage
	}

	clientID := uuid.NewString()[:8]
	s.manager.IncrementConnections(code)
	s.activeConns.Add(1)
	s.prom.connectionsActive.Inc()
	defer func() {
		s.manager.DecrementConnections(code)
		s.activeConns.Add(-1)
		s.prom.connectionsActive.Dec()
		log.Printf("client %s disconnected from session %s", clientID, code)
	}()
	log.Printf("client %s connected to session %s (%s encoding)", clientID, code, enc.Name())

	// Inbound messages are drained and ignored; the read loop exists to
	// notice the close handshake and dead peers.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	meta := wire.MetadataFrame(engine.Metadata(), &wire.SessionRef{
		Code: code,
		URL:  s.streamURL(code),
	})
	if err := s.writeFrame(conn, msgType, enc, meta); err != nil {
		log.Printf("client %s: metadata frame failed: %v", clientID, err)
		return
	}

	for pkt := range packets {
		if err := s.writeFrame(conn, msgType, enc, wire.DataFrame(&pkt)); err != nil {
			engine.RecordDrop()
			s.prom.droppedPackets.Inc()
			log.Printf("client %s: write failed, closing: %v", clientID, err)
			return
		}
		engine.RecordLatency(time.Since(time.Unix(0, int64(pkt.Timestamp*1e9))))
		s.prom.packetsSent.Inc()
		s.bus.Publish(code, &pkt)
	}
}

func (s *server) writeFrame(conn *websocket.Conn, msgType int, enc wire.Encoder, env wire.Envelope) error {
	payload, err := enc.Marshal(env)
	if err != nil {
		return err
	}
	conn.SetWriteDeadline(time.Now().Add(writeDeadline))
	return conn.WriteMessage(msgType, payload)
}
