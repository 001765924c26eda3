package server

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/toricodesthings/flossstock/internal/auth"
	"github.com/toricodesthings/flossstock/internal/blob"
	"github.com/toricodesthings/flossstock/internal/image"
	"github.com/toricodesthings/flossstock/internal/store"
	"github.com/toricodesthings/flossstock/internal/types"
)

const (
	minPasswordLen = 8
	minUsernameLen = 3
)

// ---------- Auth ----------

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request, _ auth.Context) {
	creds, err := readCreds(w, r, s.cfg.MaxJSONBodyBytes)
	if err != nil {
		writeErr(w, http.StatusBadRequest, "bad_request", sanitizeError(err))
		return
	}
	email := store.NormalizeEmail(creds.Email)
	if email == "" || creds.Password == "" {
		writeErr(w, http.StatusBadRequest, "missing_credentials", "Missing credentials")
		return
	}
	if len(creds.Password) < minPasswordLen {
		writeErr(w, http.StatusBadRequest, "weak_password", "Password must be at least 8 characters")
		return
	}

	ctx := r.Context()
	if _, _, err := s.store.PasswordHash(ctx, email); err == nil {
		writeErr(w, http.StatusConflict, "conflict", "Email already registered")
		return
	} else if !errors.Is(err, store.ErrNotFound) {
		s.log.Error("register: lookup", zap.Error(err))
		writeStoreErr(w, err)
		return
	}

	user, err := s.store.EnsureUser(ctx, email)
	if err != nil {
		s.log.Error("register: user", zap.Error(err))
		writeStoreErr(w, err)
		return
	}
	hash, err := auth.HashPassword(creds.Password)
	if err != nil {
		s.log.Error("register: hash", zap.Error(err))
		writeErr(w, http.StatusInternalServerError, "internal_error", "Internal server error")
		return
	}
	if err := s.store.SetPasswordHash(ctx, user.ID, email, hash); err != nil {
		s.log.Error("register: set password", zap.Error(err))
		writeStoreErr(w, err)
		return
	}

	s.signIn(w, r, user.ID)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request, _ auth.Context) {
	creds, err := readCreds(w, r, s.cfg.MaxJSONBodyBytes)
	if err != nil {
		writeErr(w, http.StatusBadRequest, "bad_request", sanitizeError(err))
		return
	}
	email := store.NormalizeEmail(creds.Email)
	if email == "" || creds.Password == "" {
		writeErr(w, http.StatusBadRequest, "missing_credentials", "Missing credentials")
		return
	}

	ctx := r.Context()
	userID, hash, err := s.store.PasswordHash(ctx, email)
	if errors.Is(err, store.ErrNotFound) {
		writeErr(w, http.StatusUnauthorized, "invalid_credentials", "Invalid credentials")
		return
	}
	if err != nil {
		s.log.Error("login: lookup", zap.Error(err))
		writeStoreErr(w, err)
		return
	}
	if !auth.VerifyPassword(creds.Password, hash) {
		writeErr(w, http.StatusUnauthorized, "invalid_credentials", "Invalid credentials")
		return
	}

	if auth.NeedsRehash(hash) {
		if upgraded, err := auth.HashPassword(creds.Password); err == nil {
			if err := s.store.SetPasswordHash(ctx, userID, email, upgraded); err != nil {
				s.log.Warn("login: rehash", zap.Error(err))
			}
		}
	}

	s.signIn(w, r, userID)
}

func (s *Server) signIn(w http.ResponseWriter, r *http.Request, userID string) {
	sess, err := s.sessions.Create(r.Context(), userID)
	if err != nil {
		s.log.Error("create session", zap.Error(err))
		writeErr(w, http.StatusInternalServerError, "internal_error", "Internal server error")
		return
	}
	http.SetCookie(w, s.sessions.Cookie(sess))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request, ac auth.Context) {
	id := auth.SessionID(r)
	if ac.Session != nil {
		id = ac.Session.ID
	}
	if err := s.sessions.Invalidate(r.Context(), id); err != nil {
		s.log.Warn("logout: invalidate", zap.Error(err))
	}
	http.SetCookie(w, s.sessions.BlankCookie())
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (s *Server) handleWhoami(w http.ResponseWriter, r *http.Request, ac auth.Context) {
	var user any
	if ac.SignedIn() {
		user = map[string]string{"id": ac.User.ID, "email": ac.User.Email}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user":       user,
		"hasSession": ac.Session != nil,
	})
}

// ---------- Account ----------

func accountOf(u store.User) types.Account {
	a := types.Account{
		ID:          u.ID,
		Email:       u.Email,
		Username:    u.Username,
		AvatarURL:   u.AvatarURL,
		AvatarKey:   u.AvatarKey,
		GravatarURL: auth.GravatarURL(u.Email, 0),
	}
	switch {
	case u.AvatarKey != "":
		a.AvatarSrc = "/api/account/avatar/" + strings.TrimPrefix(u.AvatarKey, "avatars/")
	case u.AvatarURL != "":
		a.AvatarSrc = u.AvatarURL
	default:
		a.AvatarSrc = a.GravatarURL
	}
	return a
}

func (s *Server) handleAccount(w http.ResponseWriter, r *http.Request, ac auth.Context) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "user": accountOf(*ac.User)})
}

func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request, ac auth.Context) {
	req, err := parseJSON[types.ProfileRequest](r, s.cfg.MaxJSONBodyBytes)
	if err != nil {
		writeErr(w, http.StatusBadRequest, "bad_request", sanitizeError(err))
		return
	}
	username := strings.TrimSpace(req.Username)
	avatarURL := strings.TrimSpace(req.AvatarURL)
	if username != "" && len([]rune(username)) < minUsernameLen {
		writeErr(w, http.StatusBadRequest, "validation_failed", "Username must be at least 3 characters")
		return
	}
	if avatarURL != "" && !strings.HasPrefix(avatarURL, "https://") && !strings.HasPrefix(avatarURL, "http://") {
		writeErr(w, http.StatusBadRequest, "validation_failed", "avatarUrl must be http/https")
		return
	}

	ctx := r.Context()
	if err := s.store.UpdateProfile(ctx, ac.UserID(), username, avatarURL); err != nil {
		if errors.Is(err, store.ErrConflict) {
			writeErr(w, http.StatusConflict, "username_taken", "Username already taken")
			return
		}
		s.log.Error("update profile", zap.Error(err))
		writeStoreErr(w, err)
		return
	}
	u, err := s.store.UserByID(ctx, ac.UserID())
	if err != nil {
		writeStoreErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "user": accountOf(u)})
}

func (s *Server) handlePassword(w http.ResponseWriter, r *http.Request, ac auth.Context) {
	req, err := parseJSON[types.PasswordChangeRequest](r, s.cfg.MaxJSONBodyBytes)
	if err != nil {
		writeErr(w, http.StatusBadRequest, "bad_request", sanitizeError(err))
		return
	}
	if req.CurrentPassword == "" || req.NewPassword == "" || req.ConfirmPassword == "" {
		writeErr(w, http.StatusBadRequest, "validation_failed", "All password fields are required")
		return
	}
	if len(req.NewPassword) < minPasswordLen {
		writeErr(w, http.StatusBadRequest, "weak_password", "Password must be at least 8 characters")
		return
	}
	if req.NewPassword != req.ConfirmPassword {
		writeErr(w, http.StatusBadRequest, "validation_failed", "Passwords do not match")
		return
	}

	ctx := r.Context()
	_, hash, err := s.store.PasswordHash(ctx, ac.User.Email)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		writeStoreErr(w, err)
		return
	}
	if err != nil || !auth.VerifyPassword(req.CurrentPassword, hash) {
		writeErr(w, http.StatusBadRequest, "invalid_password", "Current password is incorrect")
		return
	}

	newHash, err := auth.HashPassword(req.NewPassword)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, "internal_error", "Internal server error")
		return
	}
	if err := s.store.SetPasswordHash(ctx, ac.UserID(), ac.User.Email, newHash); err != nil {
		s.log.Error("set password", zap.Error(err))
		writeStoreErr(w, err)
		return
	}
	n, err := s.store.DeleteUserSessions(ctx, ac.UserID(), ac.Session.ID)
	if err != nil {
		s.log.Warn("revoke sessions", zap.Error(err))
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "sessionsRevoked": n})
}

func (s *Server) handleAvatarUpload(w http.ResponseWriter, r *http.Request, ac auth.Context) {
	maxBytes := s.cfg.MaxAvatarBytes
	if maxBytes <= 0 {
		maxBytes = image.DefaultMaxAvatarBytes
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes+(1<<20))
	if err := r.ParseMultipartForm(maxBytes); err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			writeErr(w, http.StatusRequestEntityTooLarge, "too_large", "File too large")
			return
		}
		writeErr(w, http.StatusBadRequest, "bad_request", "Expected multipart form")
		return
	}
	file, hdr, err := r.FormFile("file")
	if err != nil {
		writeErr(w, http.StatusBadRequest, "bad_request", "file required")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, maxBytes+1))
	if err != nil {
		writeErr(w, http.StatusBadRequest, "bad_request", sanitizeError(err))
		return
	}
	av, err := image.ValidateAvatar(data, hdr.Header.Get("Content-Type"), maxBytes)
	if err != nil {
		writeErr(w, image.Status(err), "invalid_image", err.Error())
		return
	}

	ctx := r.Context()
	key := blob.AvatarKey(ac.UserID(), time.Now().UnixMilli(), av.Ext)
	if _, err := s.blobs.Put(ctx, key, bytes.NewReader(data), blob.Meta{
		ContentType:  av.ContentType,
		CacheControl: image.AvatarCacheControl,
	}); err != nil {
		s.log.Error("store avatar", zap.Error(err))
		writeErr(w, http.StatusInternalServerError, "storage_error", "Could not store avatar")
		return
	}

	prev, err := s.store.SetAvatarKey(ctx, ac.UserID(), key)
	if err != nil {
		_ = s.blobs.Delete(ctx, key)
		writeStoreErr(w, err)
		return
	}
	if prev != "" && prev != key {
		if err := s.blobs.Delete(ctx, prev); err != nil && !errors.Is(err, blob.ErrNotFound) {
			s.log.Warn("delete old avatar", zap.String("key", prev), zap.Error(err))
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "key": key})
}

// handleAvatarGet serves stored avatars. The key is always resolved under
// avatars/ so other objects cannot be fetched through this route.
func (s *Server) handleAvatarGet(w http.ResponseWriter, r *http.Request, _ auth.Context) {
	key := "avatars/" + strings.TrimPrefix(r.PathValue("key"), "avatars/")
	if err := blob.ValidateKey(key); err != nil {
		writeErr(w, http.StatusBadRequest, "bad_request", "Invalid key")
		return
	}
	rc, meta, err := s.blobs.Get(r.Context(), key)
	if errors.Is(err, blob.ErrNotFound) {
		writeErr(w, http.StatusNotFound, "not_found", "Not found")
		return
	}
	if err != nil {
		s.log.Error("read avatar", zap.Error(err))
		writeErr(w, http.StatusInternalServerError, "storage_error", "Could not read avatar")
		return
	}
	defer rc.Close()

	ct := meta.ContentType
	if ct == "" {
		ct = "application/octet-stream"
	}
	cc := meta.CacheControl
	if cc == "" {
		cc = image.AvatarCacheControl
	}
	w.Header().Set("Content-Type", ct)
	w.Header().Set("Cache-Control", cc)
	if meta.Size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(meta.Size, 10))
	}
	w.WriteHeader(http.StatusOK)
	_, _ = io.Copy(w, rc)
}
