package observability

import (
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"
)

// HealthChecker manages liveness and readiness state. Readiness is the AND
// of named conditions (postgres, nats, replay) so the /readyz body names the
// one that is blocking.
type HealthChecker struct {
	mu         sync.RWMutex
	conditions map[string]bool
	startTime  time.Time
}

func NewHealthChecker(conditions ...string) *HealthChecker {
	m := make(map[string]bool, len(conditions))
	for _, c := range conditions {
		m[c] = false
	}
	return &HealthChecker{
		conditions: m,
		startTime:  time.Now(),
	}
}

// SetCondition marks one readiness condition. Unknown names are added, so a
// late-registered condition starts blocking readiness immediately.
func (h *HealthChecker) SetCondition(name string, ok bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conditions[name] = ok
}

// IsReady returns whether every condition is satisfied.
func (h *HealthChecker) IsReady() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ok := range h.conditions {
		if !ok {
			return false
		}
	}
	return true
}

func (h *HealthChecker) blocking() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	var out []string
	for name, ok := range h.conditions {
		if !ok {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// LivenessHandler returns HTTP 200 if the process is alive.
func (h *HealthChecker) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status": "alive",
		"uptime": time.Since(h.startTime).String(),
	})
}

// ReadinessHandler returns HTTP 200 if the service is ready, 503 with the
// blocking conditions otherwise.
func (h *HealthChecker) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if blocking := h.blocking(); len(blocking) > 0 {
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status":   "not_ready",
			"blocking": blocking,
		})
		return
	}
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status": "ready",
	})
}
