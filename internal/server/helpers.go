package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"os"
	"strings"

	"github.com/toricodesthings/flossstock/internal/store"
	"github.com/toricodesthings/flossstock/internal/types"
)

func getClientIP(r *http.Request) string {
	if ip := r.Header.Get("X-Forwarded-For"); ip != "" {
		if idx := strings.Index(ip, ","); idx > 0 {
			return strings.TrimSpace(ip[:idx])
		}
		return strings.TrimSpace(ip)
	}
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return strings.TrimSpace(ip)
	}

	host, _, _ := net.SplitHostPort(r.RemoteAddr)
	return host
}

func sanitizeError(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	msg = strings.ReplaceAll(msg, os.TempDir(), "[tmp]")
	if len(msg) > 300 {
		msg = msg[:300] + "..."
	}
	return msg
}

func sanitizeLogString(s string) string {
	s = strings.ReplaceAll(s, "\n", "")
	s = strings.ReplaceAll(s, "\r", "")
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	return s
}

// parseJSON decodes exactly one JSON value. Unknown fields are accepted
// because browser clients send extra keys.
func parseJSON[T any](r *http.Request, limit int64) (T, error) {
	var out T
	dec := json.NewDecoder(io.LimitReader(r.Body, limit))

	if err := dec.Decode(&out); err != nil {
		return out, err
	}

	if err := dec.Decode(new(any)); err != io.EOF {
		if err == nil {
			return out, fmt.Errorf("unexpected trailing data")
		}
		return out, err
	}

	return out, nil
}

// parseOptionalJSON is parseJSON where an empty body yields the zero value.
func parseOptionalJSON[T any](r *http.Request, limit int64) (T, error) {
	out, err := parseJSON[T](r, limit)
	if errors.Is(err, io.EOF) {
		var zero T
		return zero, nil
	}
	return out, err
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"ok":    false,
		"error": message,
		"code":  code,
	})
}

// writeStoreErr maps store errors to responses.
func writeStoreErr(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeErr(w, http.StatusNotFound, "not_found", "Not found")
	case errors.Is(err, store.ErrUnknownColor):
		writeErr(w, http.StatusBadRequest, "unknown_color", sanitizeError(err))
	case errors.Is(err, store.ErrConflict):
		writeErr(w, http.StatusConflict, "conflict", sanitizeError(err))
	default:
		writeErr(w, http.StatusInternalServerError, "internal_error", "Internal server error")
	}
}

// readCreds accepts credentials as JSON or as a urlencoded/multipart form.
func readCreds(w http.ResponseWriter, r *http.Request, limit int64) (types.Credentials, error) {
	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if ct == "application/json" {
		return parseJSON[types.Credentials](r, limit)
	}

	r.Body = http.MaxBytesReader(w, r.Body, limit)
	var err error
	if ct == "multipart/form-data" {
		err = r.ParseMultipartForm(limit)
	} else {
		err = r.ParseForm()
	}
	if err != nil {
		return types.Credentials{}, err
	}
	return types.Credentials{
		Email:    r.FormValue("email"),
		Password: r.FormValue("password"),
		Username: r.FormValue("username"),
	}, nil
}

// validatePDFMagic checks that a file starts with %PDF (the PDF magic bytes).
func validatePDFMagic(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open for validation: %w", err)
	}
	defer f.Close()

	header := make([]byte, 5)
	n, err := io.ReadFull(f, header)
	if err != nil || n < 5 {
		return fmt.Errorf("stored file is too small to be a valid PDF")
	}

	if string(header[:4]) != "%PDF" {
		return fmt.Errorf("stored file is not a PDF (starts with %q)", string(header[:n]))
	}
	return nil
}

func hasPDFMagic(b []byte) bool {
	return len(b) >= 4 && string(b[:4]) == "%PDF"
}
