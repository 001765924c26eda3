// Package server exposes the inventory, catalog, project and scanning HTTP
// API.
package server

import (
	"context"
	"errors"
	"net/http"
	"runtime"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/toricodesthings/flossstock/internal/auth"
	"github.com/toricodesthings/flossstock/internal/blob"
	"github.com/toricodesthings/flossstock/internal/config"
	"github.com/toricodesthings/flossstock/internal/scan"
	"github.com/toricodesthings/flossstock/internal/store"
)

const version = "1.0.0"

type Server struct {
	cfg      config.Config
	log      *zap.Logger
	store    *store.Store
	sessions *auth.Manager
	blobs    *blob.FS
	scanner  *scan.Scanner

	requestSem *semaphore.Weighted
	scanSem    *semaphore.Weighted

	limiters *limiterSet
	metrics  *serverMetrics
}

type serverMetrics struct {
	mu            sync.RWMutex
	totalRequests int64
	activeReqs    int64
	scans         int64
}

func (m *serverMetrics) incActive() {
	m.mu.Lock()
	m.activeReqs++
	m.totalRequests++
	m.mu.Unlock()
}

func (m *serverMetrics) decActive() {
	m.mu.Lock()
	m.activeReqs--
	m.mu.Unlock()
}

func (m *serverMetrics) incScans() {
	m.mu.Lock()
	m.scans++
	m.mu.Unlock()
}

func (m *serverMetrics) get() (total, active, scans int64) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.totalRequests, m.activeReqs, m.scans
}

// New wires a Server. scanner may be nil, in which case project scans
// answer 503.
func New(cfg config.Config, log *zap.Logger, st *store.Store, blobs *blob.FS, scanner *scan.Scanner) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{
		cfg:        cfg,
		log:        log,
		store:      st,
		sessions:   auth.NewManager(st, cfg.SessionActiveTTL, cfg.SessionIdleTTL, cfg.SecureCookies),
		blobs:      blobs,
		scanner:    scanner,
		requestSem: semaphore.NewWeighted(max(1, cfg.MaxConcurrentRequests)),
		scanSem:    semaphore.NewWeighted(max(1, cfg.MaxConcurrentScans)),
		limiters:   newLimiterSet(cfg.RateLimitEvery, cfg.RateLimitBurst),
		metrics:    &serverMetrics{},
	}
}

// Sessions exposes the session manager, mainly for tests.
func (s *Server) Sessions() *auth.Manager { return s.sessions }

// api wraps an API handler in the per-request chain.
func (s *Server) api(h authedHandler) http.HandlerFunc {
	return s.withRateLimit(s.withConcurrencyLimit(s.withAuth(h)))
}

// user is api plus a signed-in requirement.
func (s *Server) user(h authedHandler) http.HandlerFunc {
	return s.api(requireUser(h))
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", withMethod(http.MethodGet, s.handleHealth))
	mux.HandleFunc("/metrics", withMethod(http.MethodGet, s.withInternalAuth(s.handleMetrics)))
	mux.HandleFunc("GET /api/health", s.api(s.handleAPIHealth))

	mux.HandleFunc("POST /api/auth/register", s.api(s.handleRegister))
	mux.HandleFunc("POST /api/auth/login", s.api(s.handleLogin))
	mux.HandleFunc("POST /api/auth/logout", s.api(s.handleLogout))
	mux.HandleFunc("GET /api/auth/whoami", s.api(s.handleWhoami))

	mux.HandleFunc("GET /api/account", s.user(s.handleAccount))
	mux.HandleFunc("POST /api/account/profile", s.user(s.handleProfile))
	mux.HandleFunc("POST /api/account/password", s.user(s.handlePassword))
	mux.HandleFunc("POST /api/account/avatar", s.user(s.handleAvatarUpload))
	mux.HandleFunc("GET /api/account/avatar/{key...}", s.api(s.handleAvatarGet))

	mux.HandleFunc("GET /api/colors", s.api(s.handleColors))
	mux.HandleFunc("GET /api/colors/{color_id}/projects", s.api(s.handleColorProjects))

	mux.HandleFunc("GET /api/inventory", s.api(s.handleInventoryList))
	mux.HandleFunc("POST /api/inventory", s.user(s.handleInventoryUpsert))
	mux.HandleFunc("PATCH /api/inventory/{color_id}", s.user(s.handleInventoryPatch))
	mux.HandleFunc("DELETE /api/inventory/{color_id}", s.user(s.handleInventoryDelete))

	mux.HandleFunc("GET /api/wishlist", s.api(s.handleWishlistList))
	mux.HandleFunc("POST /api/wishlist", s.user(s.handleWishlistAdd))
	mux.HandleFunc("DELETE /api/wishlist", s.user(s.handleWishlistDelete))
	mux.HandleFunc("DELETE /api/wishlist/{color_id}", s.user(s.handleWishlistDelete))

	mux.HandleFunc("GET /api/projects", s.api(s.handleProjectList))
	mux.HandleFunc("POST /api/projects", s.user(s.handleProjectCreate))
	mux.HandleFunc("DELETE /api/projects/{project_id}", s.user(s.handleProjectDelete))
	mux.HandleFunc("GET /api/projects/{project_id}/file", s.user(s.handleProjectFile))
	mux.HandleFunc("GET /api/projects/{project_id}/colors", s.user(s.handleProjectColors))
	mux.HandleFunc("POST /api/projects/{project_id}/colors", s.user(s.handleProjectColorsAdd))
	mux.HandleFunc("DELETE /api/projects/{project_id}/colors", s.user(s.handleProjectColorsRemove))
	mux.HandleFunc("POST /api/projects/{project_id}/scan", s.user(s.handleProjectScan))

	mux.HandleFunc("POST /api/scan-dmc", s.user(s.handleScanDMC))

	mux.HandleFunc("GET /api/stash", s.api(s.handleStashGet))
	mux.HandleFunc("POST /api/stash", s.api(s.handleStashSet))

	return s.withLogging(s.withRecovery(mux))
}

// Run serves until ctx is canceled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	maxHeaderBytes := 1 << 20
	if s.cfg.MaxHeaderBytes > 0 {
		maxHeaderBytes = s.cfg.MaxHeaderBytes
	}

	srv := &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.Handler(),
		ReadHeaderTimeout: s.cfg.ReadHeaderTimeout,
		ReadTimeout:       s.cfg.ReadTimeout,
		WriteTimeout:      s.cfg.WriteTimeout,
		IdleTimeout:       s.cfg.IdleTimeout,
		MaxHeaderBytes:    maxHeaderBytes,
	}

	if strings.TrimSpace(s.cfg.MistralAPIKey) == "" {
		s.log.Warn("MISTRAL_API_KEY not set, scans of image-only PDFs will report needsOcr")
	}

	hkCtx, stopHK := context.WithCancel(ctx)
	defer stopHK()
	go s.housekeeping(hkCtx)

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("flossstock listening",
			zap.String("addr", srv.Addr),
			zap.Int64("maxConcurrent", s.cfg.MaxConcurrentRequests),
			zap.Int64("maxScans", s.cfg.MaxConcurrentScans))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	s.log.Info("shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}

// housekeeping logs stats, drops idle rate limiters and purges expired
// sessions every CleanupInterval.
func (s *Server) housekeeping(ctx context.Context) {
	interval := s.cfg.CleanupInterval
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.sweep(ctx, now)
		}
	}
}

func (s *Server) sweep(ctx context.Context, now time.Time) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	total, active, scans := s.metrics.get()

	pruned := s.limiters.prune(now, 2*s.cfg.CleanupInterval)
	expired, err := s.store.DeleteExpiredSessions(ctx, now.Unix())
	if err != nil {
		s.log.Warn("purge sessions", zap.Error(err))
	}

	s.log.Info("stats",
		zap.Int64("active", active),
		zap.Int64("total", total),
		zap.Int64("scans", scans),
		zap.Int("goroutines", runtime.NumGoroutine()),
		zap.Uint64("memMB", m.Alloc/(1<<20)),
		zap.Int("limitersPruned", pruned),
		zap.Int64("sessionsExpired", expired))
}

// ---------- Health ----------

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	_, active, _ := s.metrics.get()
	status := "healthy"
	code := http.StatusOK

	ratio := s.cfg.HealthDegradeRatio
	if ratio <= 0 || ratio > 1 {
		ratio = 0.9
	}

	if active >= int64(float64(s.cfg.MaxConcurrentRequests)*ratio) {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}

	writeJSON(w, code, map[string]any{
		"status":  status,
		"active":  active,
		"version": version,
	})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	total, active, scans := s.metrics.get()

	writeJSON(w, http.StatusOK, map[string]any{
		"activeRequests": active,
		"totalRequests":  total,
		"scans":          scans,
		"rateLimiters":   s.limiters.len(),
		"goroutines":     runtime.NumGoroutine(),
		"memAllocMB":     m.Alloc / (1 << 20),
		"memSysMB":       m.Sys / (1 << 20),
	})
}

func (s *Server) handleAPIHealth(w http.ResponseWriter, r *http.Request, _ auth.Context) {
	dbOK := true
	if err := s.store.Ping(r.Context()); err != nil {
		s.log.Error("health: db check failed", zap.Error(err))
		dbOK = false
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"dbOk":   dbOK,
		"authOk": s.sessions != nil,
	})
}
