package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/bcistream/pkg/session"
)

// Control-plane handlers. The streaming hot path lives in
// stream_loop.go; everything here is plain request/response JSON.

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

// ready guards every handler against a missing manager (dataset failed
// to open): 503 on every request thereafter.
func (s *server) ready(w http.ResponseWriter) bool {
	if s.manager == nil {
		http.Error(w, "session manager not initialized", 503)
		return false
	}
	return true
}

func (s *server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]interface{}{
		"service":     serviceName,
		"version":     serviceVersion,
		"description": "mock BCI data server: deterministic 40Hz replay of recorded neural data",
		"endpoints": map[string]string{
			"create_session": "POST /api/sessions/create",
			"list_sessions":  "GET /api/sessions",
			"metadata":       "GET /api/metadata",
			"trials":         "GET /api/trials",
			"metrics":        "GET /metrics",
			"stream":         "ws://.../stream/{session_code}",
			"stream_binary":  "ws://.../stream/binary/{session_code}",
		},
	})
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	sessions := 0
	if s.manager != nil {
		sessions = s.manager.SessionCount()
	} else {
		status = "degraded"
	}
	writeJSON(w, map[string]interface{}{
		"status":             status,
		"active_connections": s.activeConns.Load(),
		"active_sessions":    sessions,
	})
}

func (s *server) handleMetadata(w http.ResponseWriter, r *http.Request) {
	if !s.ready(w) {
		return
	}
	ds := s.manager.Dataset()
	writeJSON(w, map[string]interface{}{
		"dataset":          ds.Name(),
		"num_channels":     ds.NumChannels(),
		"duration_seconds": ds.DurationSeconds(),
		"total_packets":    int(ds.DurationSeconds() * float64(s.cfg.StreamFrequencyHz)),
		"frequency_hz":     s.cfg.StreamFrequencyHz,
		"num_trials":       len(ds.Trials()),
	})
}

func (s *server) handleTrials(w http.ResponseWriter, r *http.Request) {
	if !s.ready(w) {
		return
	}
	trials := s.manager.Dataset().Trials()
	writeJSON(w, map[string]interface{}{
		"trials": trials,
		"count":  len(trials),
	})
}

func (s *server) handleTrial(w http.ResponseWriter, r *http.Request) {
	if !s.ready(w) {
		return
	}
	id, err := strconv.Atoi(r.PathValue("id"))
	if err != nil {
		http.Error(w, "invalid trial id", 400)
		return
	}
	trials := s.manager.Dataset().Trials()
	if id < 0 || id >= len(trials) {
		http.Error(w, "trial not found", 404)
		return
	}
	writeJSON(w, trials[id])
}

func (s *server) handleTrialsByTarget(w http.ResponseWriter, r *http.Request) {
	if !s.ready(w) {
		return
	}
	target, err := strconv.Atoi(r.PathValue("target"))
	if err != nil {
		http.Error(w, "invalid target index", 400)
		return
	}
	trials := s.manager.Dataset().TrialsForTarget(target)
	writeJSON(w, map[string]interface{}{
		"trials":       trials,
		"count":        len(trials),
		"target_index": target,
	})
}

func (s *server) handleSessionCreate(w http.ResponseWriter, r *http.Request) {
	if !s.ready(w) {
		return
	}
	code := s.manager.Create(r.URL.Query().Get("custom_code"))
	writeJSON(w, map[string]interface{}{
		"session_code": code,
		"stream_url":   s.streamURL(code),
		"created":      float64(time.Now().UnixNano()) / 1e9,
		"message":      "Session created. Use this code to stream independent neural data.",
	})
}

func (s *server) handleSessionList(w http.ResponseWriter, r *http.Request) {
	if !s.ready(w) {
		return
	}
	writeJSON(w, map[string]interface{}{
		"sessions": s.manager.List(),
		"stats":    s.manager.Stats(),
	})
}

func (s *server) handleSessionGet(w http.ResponseWriter, r *http.Request) {
	if !s.ready(w) {
		return
	}
	code := r.PathValue("code")
	var found *session.Info
	for _, info := range s.manager.List() {
		if info.SessionCode == code {
			found = &info
			break
		}
	}
	if found == nil {
		http.Error(w, "session "+code+" not found", 404)
		return
	}
	writeJSON(w, found)
}

func (s *server) handleSessionDelete(w http.ResponseWriter, r *http.Request) {
	if !s.ready(w) {
		return
	}
	code := r.PathValue("code")
	switch err := s.manager.Delete(code); {
	case errors.Is(err, session.ErrNotFound):
		http.Error(w, "session "+code+" not found", 404)
	case errors.Is(err, session.ErrBusy):
		http.Error(w, "session "+code+" has active connections", 409)
	default:
		writeJSON(w, map[string]interface{}{"message": "session " + code + " deleted"})
	}
}

func (s *server) handleSessionCleanup(w http.ResponseWriter, r *http.Request) {
	if !s.ready(w) {
		return
	}
	n := s.manager.CleanupExpired()
	writeJSON(w, map[string]interface{}{
		"cleaned_up": n,
		"message":    "removed " + strconv.Itoa(n) + " expired sessions",
	})
}

// control verbs

func (s *server) handleControlPause(w http.ResponseWriter, r *http.Request) {
	s.control(w, r, "paused", func(code string) bool {
		engine, ok := s.manager.Get(code)
		if ok {
			engine.Pause()
		}
		return ok
	})
}

func (s *server) handleControlResume(w http.ResponseWriter, r *http.Request) {
	s.control(w, r, "resumed", func(code string) bool {
		engine, ok := s.manager.Get(code)
		if ok {
			engine.Resume()
		}
		return ok
	})
}

func (s *server) handleControlStop(w http.ResponseWriter, r *http.Request) {
	s.control(w, r, "stopped", func(code string) bool {
		engine, ok := s.manager.Get(code)
		if ok {
			engine.Stop()
		}
		return ok
	})
}

func (s *server) handleControlSeek(w http.ResponseWriter, r *http.Request) {
	if !s.ready(w) {
		return
	}
	code := r.PathValue("code")
	pos, err := strconv.ParseFloat(r.URL.Query().Get("position_seconds"), 64)
	if err != nil {
		http.Error(w, "invalid or missing position_seconds", 400)
		return
	}
	engine, ok := s.manager.Get(code)
	if !ok {
		http.Error(w, "session "+code+" not found", 404)
		return
	}
	engine.Seek(pos)
	writeJSON(w, map[string]interface{}{
		"status":           "seeked",
		"position_seconds": pos,
		"session_code":     code,
	})
}

func (s *server) control(w http.ResponseWriter, r *http.Request, status string, op func(code string) bool) {
	if !s.ready(w) {
		return
	}
	code := r.PathValue("code")
	if !op(code) {
		http.Error(w, "session "+code+" not found", 404)
		return
	}
	writeJSON(w, map[string]interface{}{
		"status":       status,
		"session_code": code,
	})
}
