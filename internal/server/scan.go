package server

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/toricodesthings/flossstock/internal/auth"
	"github.com/toricodesthings/flossstock/internal/dmc"
	"github.com/toricodesthings/flossstock/internal/types"
)

const (
	defaultScanTimeout = 90 * time.Second

	stashCookie = "stash_codes_v1"
	stashMaxAge = 60 * 60 * 24 * 365 * 2
)

// handleScanDMC matches codes found in client-extracted PDF text against
// the catalog and splits them by whether the user owns any.
func (s *Server) handleScanDMC(w http.ResponseWriter, r *http.Request, ac auth.Context) {
	req, err := parseJSON[types.ScanRequest](r, s.cfg.MaxJSONBodyBytes)
	if err != nil {
		writeErr(w, http.StatusBadRequest, "bad_request", "Invalid JSON")
		return
	}
	text, err := dmc.ParseText(req.Text)
	if err != nil {
		writeErr(w, http.StatusBadRequest, "missing_text", "Missing text")
		return
	}

	codes, err := dmc.Extract(text, dmc.ParseItems(req.Items))
	if errors.Is(err, dmc.ErrMissingText) {
		writeErr(w, http.StatusBadRequest, "missing_text", "Missing text")
		return
	}
	if err != nil {
		writeErr(w, http.StatusBadRequest, "bad_request", sanitizeError(err))
		return
	}
	if len(codes) == 0 {
		writeJSON(w, http.StatusOK, types.NewScanResponse(nil))
		return
	}

	matches, err := s.store.LookupCodes(r.Context(), ac.UserID(), codes)
	if err != nil {
		s.log.Error("lookup codes", zap.Error(err))
		writeStoreErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, types.NewScanResponse(matches))
}

// dedupeCodes trims codes and drops blanks, repeats and anything that
// cannot live in the comma-joined cookie.
func dedupeCodes(codes []string) []string {
	out := []string{}
	seen := map[string]bool{}
	for _, c := range codes {
		c = strings.TrimSpace(c)
		if c == "" || strings.ContainsAny(c, ",;\"\\") || seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	return out
}

func stashFromCookie(r *http.Request) []string {
	c, err := r.Cookie(stashCookie)
	if err != nil {
		return []string{}
	}
	return dedupeCodes(strings.Split(c.Value, ","))
}

func (s *Server) handleStashGet(w http.ResponseWriter, r *http.Request, ac auth.Context) {
	if !ac.SignedIn() {
		writeJSON(w, http.StatusOK, map[string]any{"codes": stashFromCookie(r)})
		return
	}
	codes, err := s.store.Stash(r.Context(), ac.UserID())
	if err != nil {
		s.log.Error("load stash", zap.Error(err))
		writeStoreErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"codes": codes})
}

func (s *Server) handleStashSet(w http.ResponseWriter, r *http.Request, ac auth.Context) {
	req, err := parseOptionalJSON[types.StashRequest](r, s.cfg.MaxJSONBodyBytes)
	if err != nil {
		writeErr(w, http.StatusBadRequest, "bad_request", sanitizeError(err))
		return
	}
	codes := dedupeCodes(req.Codes)

	if ac.SignedIn() {
		if err := s.store.SetStash(r.Context(), ac.UserID(), codes); err != nil {
			s.log.Error("save stash", zap.Error(err))
			writeStoreErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "count": len(codes), "source": "db"})
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     stashCookie,
		Value:    strings.Join(codes, ","),
		Path:     "/",
		MaxAge:   stashMaxAge,
		HttpOnly: true,
		Secure:   s.cfg.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "count": len(codes), "source": "cookie"})
}
