package server

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/toricodesthings/flossstock/internal/auth"
)

// authedHandler receives the request's authentication state explicitly.
type authedHandler func(w http.ResponseWriter, r *http.Request, ac auth.Context)

func withMethod(method string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != method {
			w.Header().Set("Allow", method)
			writeErr(w, http.StatusMethodNotAllowed, "method_not_allowed", "Method must be "+method)
			return
		}
		next(w, r)
	}
}

// withInternalAuth guards operator endpoints. An unset secret locks them.
func (s *Server) withInternalAuth(next http.HandlerFunc) http.HandlerFunc {
	shared := s.cfg.InternalSharedSecret
	return func(w http.ResponseWriter, r *http.Request) {
		got := r.Header.Get("X-Internal-Auth")
		if shared == "" || subtle.ConstantTimeCompare([]byte(got), []byte(shared)) != 1 {
			writeErr(w, http.StatusUnauthorized, "unauthorized", "Invalid authentication")
			return
		}
		next(w, r)
	}
}

func (s *Server) withConcurrencyLimit(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := s.requestSem.Acquire(r.Context(), 1); err != nil {
			writeErr(w, http.StatusServiceUnavailable, "capacity", "Service at capacity")
			return
		}
		defer s.requestSem.Release(1)

		s.metrics.incActive()
		defer s.metrics.decActive()

		next(w, r)
	}
}

func (s *Server) withRateLimit(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ip := getClientIP(r)
		if !s.limiters.get(ip, time.Now()).Allow() {
			w.Header().Set("Retry-After", "60")
			writeErr(w, http.StatusTooManyRequests, "rate_limit", "Rate limit exceeded")
			return
		}
		next(w, r)
	}
}

// withAuth resolves the session cookie once and hands the result to next.
// Renewed sessions get a new cookie; dead ones get a blank cookie.
func (s *Server) withAuth(next authedHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var ac auth.Context
		id := auth.SessionID(r)
		if id != "" {
			sess, user, fresh, err := s.sessions.Validate(r.Context(), id)
			switch {
			case err == nil:
				ac = auth.Context{User: &user, Session: &sess, Fresh: fresh}
				if fresh {
					http.SetCookie(w, s.sessions.Cookie(sess))
				}
			case errors.Is(err, auth.ErrInvalidSession):
				http.SetCookie(w, s.sessions.BlankCookie())
			default:
				s.log.Error("validate session", zap.Error(err))
			}
		}
		next(w, r, ac)
	}
}

func requireUser(next authedHandler) authedHandler {
	return func(w http.ResponseWriter, r *http.Request, ac auth.Context) {
		if !ac.SignedIn() {
			writeErr(w, http.StatusUnauthorized, "unauthorized", "Not signed in")
			return
		}
		next(w, r, ac)
	}
}

func (s *Server) withRecovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				s.log.Error("panic", zap.Any("error", err), zap.String("path", sanitizeLogString(r.URL.Path)))
				writeErr(w, http.StatusInternalServerError, "internal_error", "Internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &wrapWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(ww, r)

		s.log.Info("request",
			zap.String("method", r.Method),
			zap.String("path", sanitizeLogString(r.URL.Path)),
			zap.Int("status", ww.status),
			zap.Duration("elapsed", time.Since(start)))
	})
}

type wrapWriter struct {
	http.ResponseWriter
	status int
}

func (w *wrapWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// limiterSet holds one token bucket per client IP with its last use.
type limiterSet struct {
	every time.Duration
	burst int
	m     sync.Map // ip -> *limiterEntry
}

type limiterEntry struct {
	lim      *rate.Limiter
	mu       sync.Mutex
	lastSeen time.Time
}

func newLimiterSet(every time.Duration, burst int) *limiterSet {
	if every <= 0 {
		every = 600 * time.Millisecond // ~100/min
	}
	if burst <= 0 {
		burst = 20
	}
	return &limiterSet{every: every, burst: burst}
}

func (l *limiterSet) get(ip string, now time.Time) *rate.Limiter {
	v, ok := l.m.Load(ip)
	if !ok {
		v, _ = l.m.LoadOrStore(ip, &limiterEntry{lim: rate.NewLimiter(rate.Every(l.every), l.burst)})
	}
	e := v.(*limiterEntry)
	e.mu.Lock()
	e.lastSeen = now
	e.mu.Unlock()
	return e.lim
}

// prune drops limiters unused for longer than idle.
func (l *limiterSet) prune(now time.Time, idle time.Duration) int {
	if idle <= 0 {
		idle = 10 * time.Minute
	}
	n := 0
	l.m.Range(func(k, v any) bool {
		e := v.(*limiterEntry)
		e.mu.Lock()
		stale := now.Sub(e.lastSeen) > idle
		e.mu.Unlock()
		if stale {
			l.m.Delete(k)
			n++
		}
		return true
	})
	return n
}

func (l *limiterSet) len() int {
	n := 0
	l.m.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}
