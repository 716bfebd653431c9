// Package http exposes the mess ledger over a JSON API: member and stock
// management, meal and drink recording, report queries and the month-end
// closing workflow.
package http

import (
	"context"
	"net/http"
	"sync"
	"time"

	"messbook/internal/cache"
	"messbook/internal/closing"
	"messbook/internal/core"
	applog "messbook/internal/log"
	"messbook/internal/reports"
	"messbook/internal/storage"
)

// Server wraps http.Server with the ledger dependencies and the request
// guards (rate limiting, security headers) applied to mutating routes.
type Server struct {
	http.Server

	repo    *storage.Repository
	closer  *closing.Closer
	reports *reports.Service
	logger  *applog.Logger

	rateLimiter *rateLimiter
	metrics     *securityMetrics

	// Read-side caches. Invalidated on every write that touches them.
	membersCache *cache.LRUCache[[]core.Member]
	stockCache   *cache.LRUCache[[]core.StockItem]

	startTime        time.Time
	stopCacheCleanup chan struct{}
	shutdownOnce     sync.Once
}

const (
	membersCacheKey = "members"
	stockCacheKey   = "stock"
)

// NewServer configures all routes and returns a ready-to-run server.
func NewServer(addr string, repo *storage.Repository, closer *closing.Closer, reportsSvc *reports.Service, logger *applog.Logger) *Server {
	mux := http.NewServeMux()

	s := &Server{
		Server: http.Server{
			Addr:         addr,
			Handler:      applog.Middleware(logger)(mux),
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		repo:             repo,
		closer:           closer,
		reports:          reportsSvc,
		logger:           logger.WithComponent(applog.ComponentHTTP),
		rateLimiter:      newRateLimiter(),
		metrics:          &securityMetrics{},
		membersCache:     cache.NewLRUCache[[]core.Member](4, 2*time.Minute),
		stockCache:       cache.NewLRUCache[[]core.StockItem](4, 2*time.Minute),
		startTime:        time.Now(),
		stopCacheCleanup: make(chan struct{}),
	}

	go s.startCacheCleanup()

	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/readyz", s.handleReady)
	mux.HandleFunc("/metrics", s.handleMetrics)

	// Ledger operations
	mux.HandleFunc("/api/members", s.withGuards(s.handleMembers))
	mux.HandleFunc("/api/members/contributions", s.withGuards(s.handleAddContribution))
	mux.HandleFunc("/api/stock", s.withGuards(s.handleStock))
	mux.HandleFunc("/api/stock/consume", s.withGuards(s.handleConsumeStock))
	mux.HandleFunc("/api/stock/remaining", s.withGuards(s.handleRemainingStock))
	mux.HandleFunc("/api/meals", s.withGuards(s.handleMeals))
	mux.HandleFunc("/api/drinks", s.withGuards(s.handleDrinks))
	mux.HandleFunc("/api/expenses", s.withGuards(s.handleExpenses))

	// Closing workflow
	mux.HandleFunc("/api/closing/run", s.withGuards(s.handleRunClosing))
	mux.HandleFunc("/api/closing/archive", s.withGuards(s.handleCompleteArchival))
	mux.HandleFunc("/api/closures/summaries", s.withGuards(s.handleClosureSummaries))

	// Archive queries
	mux.HandleFunc("/api/archives", s.withGuards(s.handleArchiveKeys))
	mux.HandleFunc("/api/archives/summaries", s.withGuards(s.handleArchivedSummaries))
	mux.HandleFunc("/api/archives/totals", s.withGuards(s.handleArchivedTotals))

	return s
}

// withGuards applies rate limiting, suspicious-request rejection and
// security headers. Health endpoints bypass it so probes are never limited.
func (s *Server) withGuards(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		clientIP := extractClientIP(r)

		if detectSuspiciousRequest(r, s.metrics) {
			s.logger.WarnContext(r.Context(), "Suspicious request rejected",
				applog.FieldClientIP, clientIP,
				applog.FieldPath, r.URL.Path)
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}

		// Mutating requests are rate limited per client.
		if r.Method != http.MethodGet && !s.rateLimiter.allow(clientIP, s.metrics) {
			s.logger.WarnContext(r.Context(), "Rate limit exceeded",
				applog.FieldClientIP, clientIP,
				applog.FieldMethod, r.Method,
				applog.FieldPath, r.URL.Path)
			w.Header().Set("Retry-After", "60")
			http.Error(w, "Rate limit exceeded", http.StatusTooManyRequests)
			return
		}

		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")

		next(w, r)
	}
}

// startCacheCleanup evicts expired read-cache entries in the background.
func (s *Server) startCacheCleanup() {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			removed := s.membersCache.CleanExpired() + s.stockCache.CleanExpired()
			if removed > 0 {
				s.logger.Debug("Cache cleanup completed", "entries_removed", removed)
			}
		case <-s.stopCacheCleanup:
			return
		}
	}
}

// invalidateLedgerCaches drops the read caches after any ledger write.
func (s *Server) invalidateLedgerCaches() {
	s.membersCache.Delete(membersCacheKey)
	s.stockCache.Delete(stockCacheKey)
}

// Shutdown stops the background routines before shutting down the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error

	s.shutdownOnce.Do(func() {
		if s.stopCacheCleanup != nil {
			close(s.stopCacheCleanup)
		}
		if s.rateLimiter != nil {
			s.rateLimiter.stop()
		}
		shutdownErr = s.Server.Shutdown(ctx)
	})

	return shutdownErr
}
