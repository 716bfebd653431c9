package http

import (
	"fmt"
	"net/http"
	"sync/atomic"
	"time"
)

// handleHealth reports process liveness.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"uptime":    time.Since(s.startTime).String(),
	})
}

// handleReady reports readiness: the server is ready once the database
// answers a ping.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if err := s.repo.DB().PingContext(r.Context()); err != nil {
		respondJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not ready",
			"reason": "database unreachable",
		})
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

// handleMetrics exposes a small plain-text snapshot of internal counters.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprintf(w, "uptime_seconds %d\n", int64(time.Since(s.startTime).Seconds()))
	fmt.Fprintf(w, "rate_limit_hits %d\n", atomic.LoadInt64(&s.metrics.rateLimitHits))
	fmt.Fprintf(w, "suspicious_requests %d\n", atomic.LoadInt64(&s.metrics.suspiciousRequests))
	fmt.Fprintf(w, "rate_limit_active_clients %d\n", s.rateLimiter.activeClients())
	fmt.Fprintf(w, "members_cache_entries %d\n", s.membersCache.Size())
	fmt.Fprintf(w, "stock_cache_entries %d\n", s.stockCache.Size())
}
