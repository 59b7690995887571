package main

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/bcistream/pkg/dataset"
	"github.com/bcistream/pkg/playback"
	"github.com/bcistream/pkg/session"
	"github.com/bcistream/pkg/sidebus"
	"github.com/bcistream/pkg/wire"
)

func newTestServer(t *testing.T) (*server, *httptest.Server) {
	t.Helper()
	ds := dataset.Synthesize(dataset.SynthConfig{
		Name: "e2e", Channels: 4, DurationSeconds: 5, Seed: 21,
	})
	cfg := Settings{
		Host: "127.0.0.1", Port: 8000,
		StreamFrequencyHz: 200,
		MaxConnections:    10,
		SessionTTLSeconds: 3600,
	}
	manager := session.NewManager(ds, session.Config{
		MaxSessions: cfg.MaxConnections,
		TTL:         time.Hour,
		Engine:      playback.Config{FrequencyHz: cfg.StreamFrequencyHz},
	})
	srv := newServer(cfg, manager, sidebus.Nop())
	ts := httptest.NewServer(srv.routes())
	t.Cleanup(func() {
		ts.Close()
		manager.Shutdown()
	})
	return srv, ts
}

func getJSON(t *testing.T, url string, out interface{}) int {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	if out != nil && resp.StatusCode == 200 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decoding %s: %v", url, err)
		}
	}
	return resp.StatusCode
}

func postJSON(t *testing.T, url string, out interface{}) int {
	t.Helper()
	resp, err := http.Post(url, "", nil)
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	defer resp.Body.Close()
	if out != nil && resp.StatusCode == 200 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decoding %s: %v", url, err)
		}
	}
	return resp.StatusCode
}

func TestHealthAndRoot(t *testing.T) {
	_, ts := newTestServer(t)

	var health struct {
		Status string `json:"status"`
	}
	if code := getJSON(t, ts.URL+"/health", &health); code != 200 {
		t.Fatalf("/health status %d", code)
	}
	if health.Status != "healthy" {
		t.Errorf("status %q, want healthy", health.Status)
	}

	var root struct {
		Service string `json:"service"`
	}
	getJSON(t, ts.URL+"/", &root)
	if root.Service != serviceName {
		t.Errorf("service %q, want %q", root.Service, serviceName)
	}
}

func TestMetadataEndpoint(t *testing.T) {
	_, ts := newTestServer(t)

	var meta struct {
		Dataset         string  `json:"dataset"`
		NumChannels     int     `json:"num_channels"`
		DurationSeconds float64 `json:"duration_seconds"`
		TotalPackets    int     `json:"total_packets"`
		FrequencyHz     int     `json:"frequency_hz"`
		NumTrials       int     `json:"num_trials"`
	}
	getJSON(t, ts.URL+"/api/metadata", &meta)
	if meta.Dataset != "e2e" || meta.NumChannels != 4 {
		t.Errorf("unexpected metadata: %+v", meta)
	}
	if meta.TotalPackets != int(meta.DurationSeconds*float64(meta.FrequencyHz)) {
		t.Errorf("total packets %d inconsistent with %gs at %dHz",
			meta.TotalPackets, meta.DurationSeconds, meta.FrequencyHz)
	}
	if meta.NumTrials == 0 {
		t.Error("expected trials in the synthetic dataset")
	}
}

func TestTrialEndpoints(t *testing.T) {
	_, ts := newTestServer(t)

	var trials struct {
		Count  int             `json:"count"`
		Trials []dataset.Trial `json:"trials"`
	}
	getJSON(t, ts.URL+"/api/trials", &trials)
	if trials.Count == 0 || trials.Count != len(trials.Trials) {
		t.Fatalf("bad trial listing: count=%d len=%d", trials.Count, len(trials.Trials))
	}

	var one dataset.Trial
	if code := getJSON(t, ts.URL+"/api/trials/0", &one); code != 200 {
		t.Fatalf("/api/trials/0 status %d", code)
	}
	if one.TrialID != 0 {
		t.Errorf("trial 0 has id %d", one.TrialID)
	}

	if code := getJSON(t, ts.URL+"/api/trials/9999", nil); code != 404 {
		t.Errorf("unknown trial status %d, want 404", code)
	}
	if code := getJSON(t, ts.URL+"/api/trials/xyz", nil); code != 400 {
		t.Errorf("malformed trial id status %d, want 400", code)
	}

	var byTarget struct {
		Count       int `json:"count"`
		TargetIndex int `json:"target_index"`
	}
	getJSON(t, ts.URL+"/api/trials/by-target/0", &byTarget)
	if byTarget.TargetIndex != 0 || byTarget.Count == 0 {
		t.Errorf("by-target listing: %+v", byTarget)
	}
}

func TestSessionLifecycle(t *testing.T) {
	_, ts := newTestServer(t)

	var created struct {
		SessionCode string `json:"session_code"`
		StreamURL   string `json:"stream_url"`
	}
	if code := postJSON(t, ts.URL+"/api/sessions/create", &created); code != 200 {
		t.Fatalf("create status %d", code)
	}
	if created.SessionCode == "" || !strings.Contains(created.StreamURL, created.SessionCode) {
		t.Fatalf("bad create response: %+v", created)
	}

	var listing struct {
		Sessions []session.Info `json:"sessions"`
	}
	getJSON(t, ts.URL+"/api/sessions", &listing)
	if len(listing.Sessions) != 1 || listing.Sessions[0].SessionCode != created.SessionCode {
		t.Fatalf("listing does not show the created session: %+v", listing)
	}

	var info session.Info
	if code := getJSON(t, ts.URL+"/api/sessions/"+created.SessionCode, &info); code != 200 {
		t.Fatalf("get session status %d", code)
	}
	if code := getJSON(t, ts.URL+"/api/sessions/no-such", nil); code != 404 {
		t.Errorf("unknown session status %d, want 404", code)
	}

	req, _ := http.NewRequest(http.MethodDelete, ts.URL+"/api/sessions/"+created.SessionCode, nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != 200 {
		t.Fatalf("delete status %d", resp.StatusCode)
	}
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != 404 {
		t.Errorf("second delete status %d, want 404", resp.StatusCode)
	}
}

func TestCustomSessionCode(t *testing.T) {
	_, ts := newTestServer(t)

	var created struct {
		SessionCode string `json:"session_code"`
	}
	postJSON(t, ts.URL+"/api/sessions/create?custom_code=lab-rig-7", &created)
	if created.SessionCode != "lab-rig-7" {
		t.Errorf("custom code not honored: %q", created.SessionCode)
	}
}

func TestControlEndpoints(t *testing.T) {
	srv, ts := newTestServer(t)

	if code := postJSON(t, ts.URL+"/api/control/ghost/pause", nil); code != 404 {
		t.Errorf("pause unknown session status %d, want 404", code)
	}

	var created struct {
		SessionCode string `json:"session_code"`
	}
	postJSON(t, ts.URL+"/api/sessions/create", &created)

	var ctl struct {
		Status string `json:"status"`
	}
	postJSON(t, ts.URL+"/api/control/"+created.SessionCode+"/pause", &ctl)
	if ctl.Status != "paused" {
		t.Errorf("status %q, want paused", ctl.Status)
	}
	engine, _ := srv.manager.Get(created.SessionCode)
	if !engine.IsPaused() {
		t.Error("engine not paused after control call")
	}

	postJSON(t, ts.URL+"/api/control/"+created.SessionCode+"/resume", &ctl)
	if ctl.Status != "resumed" || engine.IsPaused() {
		t.Error("resume did not clear the pause")
	}

	if code := postJSON(t, ts.URL+"/api/control/"+created.SessionCode+"/seek", nil); code != 400 {
		t.Errorf("seek without position status %d, want 400", code)
	}
	var seek struct {
		Status          string  `json:"status"`
		PositionSeconds float64 `json:"position_seconds"`
	}
	postJSON(t, ts.URL+"/api/control/"+created.SessionCode+"/seek?position_seconds=2.5", &seek)
	if seek.Status != "seeked" || seek.PositionSeconds != 2.5 {
		t.Errorf("bad seek response: %+v", seek)
	}
}

func TestMetricsEndpoints(t *testing.T) {
	_, ts := newTestServer(t)
	postJSON(t, ts.URL+"/api/sessions/create", nil)

	var snap struct {
		Service string          `json:"service"`
		Version string          `json:"version"`
		Metrics session.Metrics `json:"metrics"`
	}
	if code := getJSON(t, ts.URL+"/metrics", &snap); code != 200 {
		t.Fatalf("/metrics status %d", code)
	}
	if snap.Service != serviceName || snap.Version != serviceVersion {
		t.Errorf("identity missing from snapshot: %+v", snap)
	}
	if snap.Metrics.TotalSessions != 1 {
		t.Errorf("snapshot shows %d sessions, want 1", snap.Metrics.TotalSessions)
	}

	if code := getJSON(t, ts.URL+"/metrics/prometheus", nil); code != 200 {
		t.Errorf("/metrics/prometheus status %d", code)
	}
}

func wsURL(ts *httptest.Server, path string) string {
	return "ws" + strings.TrimPrefix(ts.URL, "http") + path
}

type textFrame struct {
	Type    string `json:"type"`
	Session *struct {
		Code string `json:"code"`
	} `json:"session"`
	Data json.RawMessage `json:"data"`
}

func readTextFrame(t *testing.T, c *websocket.Conn) textFrame {
	t.Helper()
	c.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, payload, err := c.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var f textFrame
	if err := json.Unmarshal(payload, &f); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return f
}

func TestStreamTextEndpoint(t *testing.T) {
	_, ts := newTestServer(t)

	c, _, err := websocket.DefaultDialer.Dial(wsURL(ts, "/stream/ws-text-test"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.Close()

	meta := readTextFrame(t, c)
	if meta.Type != wire.TypeMetadata {
		t.Fatalf("first frame type %q, want metadata", meta.Type)
	}
	if meta.Session == nil || meta.Session.Code != "ws-text-test" {
		t.Fatalf("metadata frame lacks the session block: %+v", meta)
	}

	for want := uint64(0); want < 5; want++ {
		f := readTextFrame(t, c)
		if f.Type != wire.TypeData {
			t.Fatalf("frame type %q, want data", f.Type)
		}
		var pkt struct {
			SequenceNumber uint64 `json:"sequence_number"`
		}
		if err := json.Unmarshal(f.Data, &pkt); err != nil {
			t.Fatal(err)
		}
		if pkt.SequenceNumber != want {
			t.Fatalf("sequence %d, want %d", pkt.SequenceNumber, want)
		}
	}
}

func TestStreamBinaryEndpoint(t *testing.T) {
	_, ts := newTestServer(t)

	c, _, err := websocket.DefaultDialer.Dial(wsURL(ts, "/stream/binary/ws-bin-test"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.Close()

	c.SetReadDeadline(time.Now().Add(5 * time.Second))
	msgType, payload, err := c.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if msgType != websocket.BinaryMessage {
		t.Fatalf("message type %d, want binary", msgType)
	}
	var env struct {
		Type string `msgpack:"type"`
	}
	if err := wire.Msgpack.Unmarshal(payload, &env); err != nil {
		t.Fatalf("msgpack decode: %v", err)
	}
	if env.Type != wire.TypeMetadata {
		t.Errorf("first frame type %q, want metadata", env.Type)
	}
}

func TestPauseIsolation(t *testing.T) {
	_, ts := newTestServer(t)

	a, _, err := websocket.DefaultDialer.Dial(wsURL(ts, "/stream/iso-a"), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close()
	b, _, err := websocket.DefaultDialer.Dial(wsURL(ts, "/stream/iso-b"), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer b.Close()

	readTextFrame(t, a)
	readTextFrame(t, b)
	readTextFrame(t, a)
	readTextFrame(t, b)

	postJSON(t, ts.URL+"/api/control/iso-a/pause", nil)

	// a may have up to a couple of frames already in flight, then must
	// go quiet; b keeps streaming.
	inFlight := 0
	for {
		a.SetReadDeadline(time.Now().Add(400 * time.Millisecond))
		if _, _, err := a.ReadMessage(); err != nil {
			break
		}
		inFlight++
		if inFlight > 3 {
			t.Fatal("paused session kept streaming")
		}
	}

	f := readTextFrame(t, b)
	if f.Type != wire.TypeData {
		t.Errorf("unpaused session frame type %q, want data", f.Type)
	}
}

func TestStreamRejectsSecondConsumer(t *testing.T) {
	_, ts := newTestServer(t)

	first, _, err := websocket.DefaultDialer.Dial(wsURL(ts, "/stream/solo"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer first.Close()
	readTextFrame(t, first)

	// The session's cursor has one owner; a second consumer is refused
	// at the handshake instead of being left to hang.
	_, resp, err := websocket.DefaultDialer.Dial(wsURL(ts, "/stream/solo"), nil)
	if err == nil {
		t.Fatal("second consumer was accepted")
	}
	if resp == nil || resp.StatusCode != 409 {
		t.Fatalf("second consumer handshake status %v, want 409", resp)
	}

	// The first consumer is unaffected.
	if f := readTextFrame(t, first); f.Type != wire.TypeData {
		t.Errorf("first consumer frame type %q after refusal", f.Type)
	}
}

func scrapeProm(t *testing.T, ts *httptest.Server) string {
	t.Helper()
	resp, err := http.Get(ts.URL + "/metrics/prometheus")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	return string(body)
}

func TestPrometheusPerServer(t *testing.T) {
	_, tsA := newTestServer(t)
	_, tsB := newTestServer(t)

	postJSON(t, tsB.URL+"/api/sessions/create", nil)

	// Each server carries its own registry: B's session must not show
	// up in A's gauge.
	if body := scrapeProm(t, tsB); !strings.Contains(body, "bci_sessions_active 1") {
		t.Errorf("server B gauge missing its session:\n%s", body)
	}
	if body := scrapeProm(t, tsA); !strings.Contains(body, "bci_sessions_active 0") {
		t.Errorf("server A gauge counts another server's session:\n%s", body)
	}
}

func TestStreamRejectsBadFilter(t *testing.T) {
	_, ts := newTestServer(t)
	resp, err := http.Get(ts.URL + "/stream/bad-filter?trial_id=abc")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != 400 {
		t.Errorf("status %d, want 400 for a malformed trial filter", resp.StatusCode)
	}
}
