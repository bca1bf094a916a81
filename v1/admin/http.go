// Package admin exposes the read-mostly HTTP surface over the lock
// subsystem: statistics, cleanup status, per-key inspection, a health probe,
// the two administrative write endpoints (force cleanup, metrics reset) and
// a live event stream over SSE or WebSocket.
package admin

import (
	"encoding/json"
	"net/http"

	"github.com/mirkobrombin/go-latch/v1/cleanup"
	"github.com/mirkobrombin/go-latch/v1/events"
	"github.com/mirkobrombin/go-latch/v1/lock"
	"github.com/mirkobrombin/go-latch/v1/metrics"
)

type statusResponse struct {
	Stats   metrics.Snapshot `json:"stats"`
	Cleanup cleanup.Status   `json:"cleanup"`
}

type keyResponse struct {
	Key          string  `json:"key"`
	Locked       bool    `json:"locked"`
	Owner        string  `json:"owner,omitempty"`
	RemainingTTL float64 `json:"remaining_ttl_seconds"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// StatusHandler returns the combined statistics and cleanup snapshot.
func StatusHandler(stats *metrics.Stats, svc *cleanup.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st, err := svc.Status(r.Context())
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadGateway)
			return
		}
		writeJSON(w, http.StatusOK, statusResponse{Stats: stats.Snapshot(), Cleanup: st})
	}
}

// StatsHandler returns the process-local counters.
func StatsHandler(stats *metrics.Stats) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, stats.Snapshot())
	}
}

// CleanupStatusHandler returns the cleanup configuration and count snapshot.
func CleanupStatusHandler(svc *cleanup.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st, err := svc.Status(r.Context())
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadGateway)
			return
		}
		writeJSON(w, http.StatusOK, st)
	}
}

// KeyHandler inspects one lock. The logical key is taken from the "key"
// query parameter. Diagnostics only; never a gate for acquisition.
func KeyHandler(l lock.Locker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := r.URL.Query().Get("key")
		if key == "" {
			http.Error(w, "missing key", http.StatusBadRequest)
			return
		}
		ttl, held, err := l.RemainingTTL(r.Context(), key)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadGateway)
			return
		}
		resp := keyResponse{Key: key, Locked: held}
		if held {
			owner, err := l.Owner(r.Context(), key)
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadGateway)
				return
			}
			resp.Owner = owner
			if ttl == lock.NoExpiry {
				resp.RemainingTTL = -1
			} else {
				resp.RemainingTTL = ttl.Seconds()
			}
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// ForceCleanupHandler deletes every lock record. Destructive, POST only,
// meant to sit behind operator authentication.
func ForceCleanupHandler(svc *cleanup.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		removed, err := svc.ForceCleanupAll(r.Context())
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadGateway)
			return
		}
		writeJSON(w, http.StatusOK, map[string]int{"removed": removed})
	}
}

// ResetHandler zeroes the process-local counters. POST only, operator/test
// use.
func ResetHandler(stats *metrics.Stats) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		stats.Reset()
		w.WriteHeader(http.StatusNoContent)
	}
}

// HealthHandler reports UP when statistics can be derived from the store,
// DOWN otherwise. Shaped for load-balancer probes.
func HealthHandler(stats *metrics.Stats) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, err := stats.ActualActiveLockCount(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "DOWN"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "UP"})
	}
}

// NewMux assembles the full admin surface on a fresh ServeMux.
func NewMux(l lock.Locker, stats *metrics.Stats, svc *cleanup.Service, bus events.Bus) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/locks/status", StatusHandler(stats, svc))
	mux.HandleFunc("/locks/stats", StatsHandler(stats))
	mux.HandleFunc("/locks/cleanup", CleanupStatusHandler(svc))
	mux.HandleFunc("/locks/key", KeyHandler(l))
	mux.HandleFunc("/locks/cleanup/force", ForceCleanupHandler(svc))
	mux.HandleFunc("/locks/stats/reset", ResetHandler(stats))
	mux.HandleFunc("/locks/health", HealthHandler(stats))
	if bus != nil {
		mux.HandleFunc("/locks/events/sse", EventsSSEHandler(bus))
		mux.HandleFunc("/locks/events/ws", EventsWebSocketHandler(bus))
	}
	return mux
}
