package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/toricodesthings/flossstock/internal/store"
)

const CookieName = "auth_session"

var ErrInvalidSession = errors.New("invalid session")

// SessionStore is the persistence the Manager needs.
type SessionStore interface {
	CreateSession(ctx context.Context, sess store.Session) error
	SessionByID(ctx context.Context, id string) (store.Session, error)
	ExtendSession(ctx context.Context, id string, activeExpires, idleExpires int64) error
	DeleteSession(ctx context.Context, id string) error
	UserByID(ctx context.Context, id string) (store.User, error)
}

// Manager issues and validates cookie sessions. A session is usable until
// its idle expiry; once the active period lapses it is renewed on the next
// validation.
type Manager struct {
	store  SessionStore
	active time.Duration
	idle   time.Duration
	secure bool
	now    func() time.Time
}

func NewManager(st SessionStore, active, idle time.Duration, secure bool) *Manager {
	return &Manager{store: st, active: active, idle: idle, secure: secure, now: time.Now}
}

// SetClock replaces the time source.
func (m *Manager) SetClock(now func() time.Time) { m.now = now }

func newSessionID() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// Create starts a session for userID.
func (m *Manager) Create(ctx context.Context, userID string) (store.Session, error) {
	id, err := newSessionID()
	if err != nil {
		return store.Session{}, fmt.Errorf("session id: %w", err)
	}
	now := m.now()
	sess := store.Session{
		ID:            id,
		UserID:        userID,
		ActiveExpires: now.Add(m.active).Unix(),
		IdleExpires:   now.Add(m.idle).Unix(),
	}
	if err := m.store.CreateSession(ctx, sess); err != nil {
		return store.Session{}, err
	}
	return sess, nil
}

// Validate resolves a session id to its session and user. Sessions past
// their idle expiry are deleted and reported as ErrInvalidSession. A
// renewed session comes back with fresh set.
func (m *Manager) Validate(ctx context.Context, id string) (sess store.Session, user store.User, fresh bool, err error) {
	if id == "" {
		return sess, user, false, ErrInvalidSession
	}
	sess, err = m.store.SessionByID(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return sess, user, false, ErrInvalidSession
	}
	if err != nil {
		return sess, user, false, err
	}

	now := m.now()
	if now.Unix() >= sess.IdleExpires {
		_ = m.store.DeleteSession(ctx, id)
		return store.Session{}, user, false, ErrInvalidSession
	}

	user, err = m.store.UserByID(ctx, sess.UserID)
	if errors.Is(err, store.ErrNotFound) {
		_ = m.store.DeleteSession(ctx, id)
		return store.Session{}, user, false, ErrInvalidSession
	}
	if err != nil {
		return sess, user, false, err
	}

	if now.Unix() >= sess.ActiveExpires {
		sess.ActiveExpires = now.Add(m.active).Unix()
		sess.IdleExpires = now.Add(m.idle).Unix()
		if err := m.store.ExtendSession(ctx, sess.ID, sess.ActiveExpires, sess.IdleExpires); err != nil {
			return sess, user, false, fmt.Errorf("renew session: %w", err)
		}
		fresh = true
	}
	return sess, user, fresh, nil
}

func (m *Manager) Invalidate(ctx context.Context, id string) error {
	if id == "" {
		return nil
	}
	return m.store.DeleteSession(ctx, id)
}

// Cookie returns the session cookie, expiring with the idle period.
func (m *Manager) Cookie(sess store.Session) *http.Cookie {
	return &http.Cookie{
		Name:     CookieName,
		Value:    sess.ID,
		Path:     "/",
		Expires:  time.Unix(sess.IdleExpires, 0),
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	}
}

// BlankCookie clears the session cookie.
func (m *Manager) BlankCookie() *http.Cookie {
	return &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	}
}

// SessionID reads the session cookie from r.
func SessionID(r *http.Request) string {
	c, err := r.Cookie(CookieName)
	if err != nil {
		return ""
	}
	return c.Value
}
