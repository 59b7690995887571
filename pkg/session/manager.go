// Package session manages isolated playback sessions over a single
// shared dataset: readable codes, LRU soft-cap eviction, idle TTL
// cleanup, and per-session connection counting.
package session

import (
	"container/list"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bcistream/pkg/dataset"
	"github.com/bcistream/pkg/playback"
)

var (
	// ErrNotFound is returned when a session code is unknown.
	ErrNotFound = errors.New("session not found")
	// ErrBusy is returned when an operation needs a session with no
	// live connections.
	ErrBusy = errors.New("session has active connections")
)

// Config parameterizes the manager.
type Config struct {
	// MaxSessions is the soft capacity cap: exceeding it evicts the
	// least-recently-active session that has zero connections, and
	// never disconnects a live client.
	MaxSessions int
	// TTL removes sessions idle longer than this with no connections.
	TTL time.Duration
	// Engine is the template applied to every session's engine.
	Engine playback.Config
	// NoiseFactory, when set, installs a fresh noise stage per engine
	// so sessions drift independently.
	NoiseFactory func() *playback.NoiseStage
}

type entry struct {
	code        string
	engine      *playback.Engine
	created     time.Time
	lastActive  time.Time
	connections int
	elem        *list.Element
}

// Manager owns the shared dataset for the process lifetime and the
// code → engine map. The order list doubles as the LRU: front is the
// least recently active.
type Manager struct {
	mu       sync.Mutex
	ds       dataset.Dataset
	cfg      Config
	sessions map[string]*entry
	order    *list.List
	rng      *rand.Rand
}

// Info is the public listing shape for one session.
type Info struct {
	SessionCode  string  `json:"session_code"`
	Created      float64 `json:"created"`
	LastActive   float64 `json:"last_active"`
	AgeSeconds   float64 `json:"age_seconds"`
	IdleSeconds  float64 `json:"idle_seconds"`
	Connections  int     `json:"connections"`
	IsRunning    bool    `json:"is_running"`
	IsPaused     bool    `json:"is_paused"`
	CurrentIndex int     `json:"current_index"`
	PacketsSent  uint64  `json:"packets_sent"`
}

// Stats is the aggregate manager snapshot.
type Stats struct {
	TotalSessions     int     `json:"total_sessions"`
	MaxSessions       int     `json:"max_sessions"`
	SessionTTLSeconds float64 `json:"session_ttl_seconds"`
	ActiveConnections int     `json:"active_connections"`
	RunningSessions   int     `json:"running_sessions"`
	DatasetChannels   int     `json:"dataset_channels"`
	DatasetTrials     int     `json:"dataset_trials"`
}

// SessionMetrics is one session's slice of the /metrics snapshot.
type SessionMetrics struct {
	PacketsSent      uint64           `json:"packets_sent"`
	DroppedPackets   uint64           `json:"dropped_packets"`
	NetworkLatencyMS playback.Summary `json:"network_latency_ms"`
	TimingErrorMS    playback.Summary `json:"timing_error_ms"`
	MemoryUsageMB    float64          `json:"memory_usage_mb"`
	IsRunning        bool             `json:"is_running"`
	IsPaused         bool             `json:"is_paused"`
	Connections      int              `json:"connections"`
}

// Metrics is the sessions block of the /metrics snapshot.
type Metrics struct {
	TotalSessions    int                       `json:"total_sessions"`
	ActiveSessions   int                       `json:"active_sessions"`
	TotalConnections int                       `json:"total_connections"`
	Sessions         map[string]SessionMetrics `json:"sessions"`
}

// NewManager wraps the shared dataset. The manager closes the dataset
// on Shutdown.
func NewManager(ds dataset.Dataset, cfg Config) *Manager {
	if cfg.MaxSessions <= 0 {
		cfg.MaxSessions = 100
	}
	if cfg.TTL <= 0 {
		cfg.TTL = time.Hour
	}
	log.Printf("session manager ready: dataset %q, %d channels, %.1fs, %d trials",
		ds.Name(), ds.NumChannels(), ds.DurationSeconds(), len(ds.Trials()))
	return &Manager{
		ds:       ds,
		cfg:      cfg,
		sessions: make(map[string]*entry),
		order:    list.New(),
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Dataset exposes the shared read-only dataset for the HTTP surface.
func (m *Manager) Dataset() dataset.Dataset { return m.ds }

// Create returns the engine code for the given session, creating it if
// needed. An empty code draws a fresh readable one. Creating an
// existing code touches it and returns it unchanged.
func (m *Manager) Create(code string) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	if code == "" {
		for tries := 0; ; tries++ {
			code = generateCode(m.rng)
			if _, exists := m.sessions[code]; !exists {
				break
			}
			if tries >= 32 {
				// Readable namespace exhausted under load; fall back
				// to a unique suffix.
				code = fmt.Sprintf("%s-%s", code, uuid.NewString()[:4])
				break
			}
		}
	}

	if ent, exists := m.sessions[code]; exists {
		m.touchLocked(ent)
		return code
	}

	if len(m.sessions) >= m.cfg.MaxSessions {
		m.evictOldestLocked()
	}

	engCfg := m.cfg.Engine
	if m.cfg.NoiseFactory != nil {
		engCfg.Noise = m.cfg.NoiseFactory()
	}
	now := time.Now()
	ent := &entry{
		code:       code,
		engine:     playback.NewEngine(m.ds, engCfg),
		created:    now,
		lastActive: now,
	}
	ent.elem = m.order.PushBack(ent)
	m.sessions[code] = ent
	log.Printf("created session %s (total sessions: %d)", code, len(m.sessions))
	return code
}

// Get returns the session's engine and touches its activity.
func (m *Manager) Get(code string) (*playback.Engine, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ent, ok := m.sessions[code]
	if !ok {
		return nil, false
	}
	m.touchLocked(ent)
	return ent.engine, true
}

func (m *Manager) touchLocked(ent *entry) {
	ent.lastActive = time.Now()
	m.order.MoveToBack(ent.elem)
}

// Delete stops a session's engine and removes it. Sessions with live
// connections are refused.
func (m *Manager) Delete(code string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deleteLocked(code)
}

func (m *Manager) deleteLocked(code string) error {
	ent, ok := m.sessions[code]
	if !ok {
		return ErrNotFound
	}
	if ent.connections > 0 {
		log.Printf("cannot delete session %s: %d active connections", code, ent.connections)
		return ErrBusy
	}
	ent.engine.Stop()
	m.order.Remove(ent.elem)
	delete(m.sessions, code)
	log.Printf("deleted session %s (remaining: %d)", code, len(m.sessions))
	return nil
}

// evictOldestLocked removes the least-recently-active session with no
// connections. If every candidate is busy nothing is evicted: the cap
// is soft and never disconnects a live client.
func (m *Manager) evictOldestLocked() {
	for el := m.order.Front(); el != nil; el = el.Next() {
		ent := el.Value.(*entry)
		if ent.connections == 0 {
			log.Printf("evicting least-recently-active session %s", ent.code)
			_ = m.deleteLocked(ent.code)
			return
		}
	}
	log.Printf("session cap %d exceeded but all sessions have live connections", m.cfg.MaxSessions)
}

// IncrementConnections records a new streaming consumer on a session.
func (m *Manager) IncrementConnections(code string) {
	m.mu.Lock()
	if ent, ok := m.sessions[code]; ok {
		ent.connections++
	}
	m.mu.Unlock()
}

// DecrementConnections records a departed consumer. The session stays
// alive and resumable at zero connections.
func (m *Manager) DecrementConnections(code string) {
	m.mu.Lock()
	if ent, ok := m.sessions[code]; ok && ent.connections > 0 {
		ent.connections--
	}
	m.mu.Unlock()
}

// CleanupExpired removes sessions idle beyond the TTL with no
// connections and returns how many were removed.
func (m *Manager) CleanupExpired() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	var expired []string
	for code, ent := range m.sessions {
		if now.Sub(ent.lastActive) > m.cfg.TTL && ent.connections == 0 {
			expired = append(expired, code)
		}
	}
	for _, code := range expired {
		log.Printf("cleaning up expired session %s (idle beyond %s)", code, m.cfg.TTL)
		_ = m.deleteLocked(code)
	}
	return len(expired)
}

// List returns session infos in LRU order (least recent first).
func (m *Manager) List() []Info {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	out := make([]Info, 0, len(m.sessions))
	for el := m.order.Front(); el != nil; el = el.Next() {
		ent := el.Value.(*entry)
		out = append(out, Info{
			SessionCode:  ent.code,
			Created:      float64(ent.created.UnixNano()) / 1e9,
			LastActive:   float64(ent.lastActive.UnixNano()) / 1e9,
			AgeSeconds:   now.Sub(ent.created).Seconds(),
			IdleSeconds:  now.Sub(ent.lastActive).Seconds(),
			Connections:  ent.connections,
			IsRunning:    ent.engine.IsRunning(),
			IsPaused:     ent.engine.IsPaused(),
			CurrentIndex: ent.engine.CurrentIndex(),
			PacketsSent:  ent.engine.PacketsSent(),
		})
	}
	return out
}

// Stats aggregates the manager state.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := Stats{
		TotalSessions:     len(m.sessions),
		MaxSessions:       m.cfg.MaxSessions,
		SessionTTLSeconds: m.cfg.TTL.Seconds(),
		DatasetChannels:   m.ds.NumChannels(),
		DatasetTrials:     len(m.ds.Trials()),
	}
	for _, ent := range m.sessions {
		s.ActiveConnections += ent.connections
		if ent.engine.IsRunning() {
			s.RunningSessions++
		}
	}
	return s
}

// SessionCount returns the number of live sessions.
func (m *Manager) SessionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// ConnectionCount returns the total live streaming connections.
func (m *Manager) ConnectionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, ent := range m.sessions {
		n += ent.connections
	}
	return n
}

// Metrics builds the sessions block of the /metrics snapshot.
func (m *Manager) Metrics() Metrics {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := Metrics{
		TotalSessions: len(m.sessions),
		Sessions:      make(map[string]SessionMetrics, len(m.sessions)),
	}
	for code, ent := range m.sessions {
		st := ent.engine.Stats()
		if st.IsRunning {
			out.ActiveSessions++
		}
		out.TotalConnections += ent.connections
		out.Sessions[code] = SessionMetrics{
			PacketsSent:      st.PacketsSent,
			DroppedPackets:   st.DroppedPackets,
			NetworkLatencyMS: st.NetworkLatencyMS,
			TimingErrorMS:    st.TimingErrorMS,
			MemoryUsageMB:    st.MemoryUsageMB,
			IsRunning:        st.IsRunning,
			IsPaused:         st.IsPaused,
			Connections:      ent.connections,
		}
	}
	return out
}

// Shutdown stops every engine regardless of connections and closes the
// shared dataset.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()

	log.Printf("shutting down session manager (%d sessions)", len(m.sessions))
	for code, ent := range m.sessions {
		ent.engine.Stop()
		m.order.Remove(ent.elem)
		delete(m.sessions, code)
	}
	if err := m.ds.Close(); err != nil {
		log.Printf("closing dataset: %v", err)
	}
}
