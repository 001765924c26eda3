package server

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/toricodesthings/flossstock/internal/auth"
	"github.com/toricodesthings/flossstock/internal/blob"
	"github.com/toricodesthings/flossstock/internal/scan"
	"github.com/toricodesthings/flossstock/internal/store"
	"github.com/toricodesthings/flossstock/internal/types"
)

const pendingPrefix = "pending:"

func (s *Server) handleProjectList(w http.ResponseWriter, r *http.Request, ac auth.Context) {
	if !ac.SignedIn() {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "projects": []store.Project{}})
		return
	}
	projects, err := s.store.ListProjects(r.Context(), ac.UserID())
	if err != nil {
		s.log.Error("list projects", zap.Error(err))
		writeStoreErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "projects": projects})
}

func contentDisposition(name string) string {
	name = strings.Map(func(r rune) rune {
		if r == '"' || r == '\\' || r < 0x20 {
			return '_'
		}
		return r
	}, name)
	return `inline; filename="` + name + `"`
}

func (s *Server) handleProjectCreate(w http.ResponseWriter, r *http.Request, ac auth.Context) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxPDFBytes+(1<<20))
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			writeErr(w, http.StatusRequestEntityTooLarge, "too_large", "PDF too large")
			return
		}
		writeErr(w, http.StatusBadRequest, "bad_request", "Expected multipart form")
		return
	}
	if r.MultipartForm != nil {
		defer r.MultipartForm.RemoveAll()
	}

	name := strings.TrimSpace(r.FormValue("name"))
	if name == "" {
		writeErr(w, http.StatusBadRequest, "validation_failed", "Project name required")
		return
	}
	file, hdr, err := r.FormFile("file")
	if err != nil {
		writeErr(w, http.StatusBadRequest, "validation_failed", "PDF file required")
		return
	}
	defer file.Close()

	head := make([]byte, 5)
	n, _ := io.ReadFull(file, head)
	head = head[:n]
	if !hasPDFMagic(head) {
		writeErr(w, http.StatusBadRequest, "validation_failed", "File is not a PDF")
		return
	}

	pdfName := hdr.Filename
	if pdfName == "" {
		pdfName = "pattern.pdf"
	}

	ctx := r.Context()
	p := store.Project{ID: uuid.NewString(), UserID: ac.UserID(), Name: name, PDFName: pdfName}
	p.PDFPath = blob.ProjectKey(p.UserID, p.ID)
	size, err := s.blobs.Put(ctx, p.PDFPath, io.MultiReader(bytes.NewReader(head), file), blob.Meta{
		ContentType:        "application/pdf",
		ContentDisposition: contentDisposition(pdfName),
	})
	if err != nil {
		s.log.Error("store project pdf", zap.Error(err))
		writeErr(w, http.StatusInternalServerError, "storage_error", "Could not store PDF")
		return
	}
	if size > s.cfg.MaxPDFBytes {
		_ = s.blobs.Delete(ctx, p.PDFPath)
		writeErr(w, http.StatusRequestEntityTooLarge, "too_large", "PDF too large")
		return
	}
	p.PDFSize = size

	if err := s.store.CreateProject(ctx, &p); err != nil {
		_ = s.blobs.Delete(ctx, p.PDFPath)
		s.log.Error("create project", zap.Error(err))
		writeStoreErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"ok": true, "project": p})
}

// ownedProject loads the path's project for the signed-in user. Missing
// projects are 404; someone else's project answers foreignStatus.
func (s *Server) ownedProject(w http.ResponseWriter, r *http.Request, ac auth.Context, foreignStatus int) (store.Project, bool) {
	id := strings.TrimSpace(r.PathValue("project_id"))
	p, err := s.store.ProjectByID(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeErr(w, http.StatusNotFound, "not_found", "Project not found")
		return p, false
	}
	if err != nil {
		s.log.Error("load project", zap.Error(err))
		writeStoreErr(w, err)
		return p, false
	}
	if p.UserID != ac.UserID() {
		if foreignStatus == http.StatusForbidden {
			writeErr(w, http.StatusForbidden, "forbidden", "Forbidden")
		} else {
			writeErr(w, http.StatusNotFound, "not_found", "Project not found")
		}
		return p, false
	}
	return p, true
}

// pdfKeys lists where a project's PDF may live: the stored key first, then
// the deterministic key.
func pdfKeys(p store.Project) []string {
	var keys []string
	if p.PDFPath != "" && !strings.HasPrefix(p.PDFPath, pendingPrefix) {
		keys = append(keys, p.PDFPath)
	}
	if k := blob.ProjectKey(p.UserID, p.ID); len(keys) == 0 || keys[0] != k {
		keys = append(keys, k)
	}
	return keys
}

func (s *Server) handleProjectDelete(w http.ResponseWriter, r *http.Request, ac auth.Context) {
	p, ok := s.ownedProject(w, r, ac, http.StatusNotFound)
	if !ok {
		return
	}
	ctx := r.Context()
	for _, key := range pdfKeys(p) {
		if err := s.blobs.Delete(ctx, key); err != nil && !errors.Is(err, blob.ErrNotFound) {
			s.log.Warn("delete project pdf", zap.String("key", key), zap.Error(err))
		}
	}
	if err := s.store.DeleteProject(ctx, ac.UserID(), p.ID); err != nil {
		writeStoreErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "deleted": p.ID})
}

// openProjectPDF returns the first readable candidate key.
func (s *Server) openProjectPDF(ctx context.Context, p store.Project) (io.ReadCloser, blob.Meta, string, error) {
	for _, key := range pdfKeys(p) {
		rc, meta, err := s.blobs.Get(ctx, key)
		if errors.Is(err, blob.ErrNotFound) || errors.Is(err, blob.ErrInvalidKey) {
			continue
		}
		if err != nil {
			return nil, blob.Meta{}, "", err
		}
		return rc, meta, key, nil
	}
	return nil, blob.Meta{}, "", blob.ErrNotFound
}

func (s *Server) handleProjectFile(w http.ResponseWriter, r *http.Request, ac auth.Context) {
	p, ok := s.ownedProject(w, r, ac, http.StatusNotFound)
	if !ok {
		return
	}
	rc, meta, _, err := s.openProjectPDF(r.Context(), p)
	if errors.Is(err, blob.ErrNotFound) {
		writeErr(w, http.StatusNotFound, "not_found", "PDF not found")
		return
	}
	if err != nil {
		s.log.Error("open project pdf", zap.Error(err))
		writeErr(w, http.StatusInternalServerError, "storage_error", "Could not read PDF")
		return
	}
	defer rc.Close()

	disp := meta.ContentDisposition
	if disp == "" {
		disp = contentDisposition(p.PDFName)
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", disp)
	w.Header().Set("Cache-Control", "public, max-age=3600")
	if meta.Size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(meta.Size, 10))
	}
	w.WriteHeader(http.StatusOK)
	_, _ = io.Copy(w, rc)
}

func (s *Server) handleProjectColors(w http.ResponseWriter, r *http.Request, ac auth.Context) {
	p, ok := s.ownedProject(w, r, ac, http.StatusForbidden)
	if !ok {
		return
	}
	colors, err := s.store.ProjectColors(r.Context(), ac.UserID(), p.ID)
	if err != nil {
		s.log.Error("project colors", zap.Error(err))
		writeStoreErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok": true,
		"project": map[string]any{
			"id":         p.ID,
			"name":       p.Name,
			"pdf_path":   p.PDFPath,
			"created_at": p.CreatedAt,
		},
		"colors": colors,
	})
}

func (s *Server) handleProjectColorsAdd(w http.ResponseWriter, r *http.Request, ac auth.Context) {
	p, ok := s.ownedProject(w, r, ac, http.StatusForbidden)
	if !ok {
		return
	}
	req, err := parseOptionalJSON[types.ProjectColorsRequest](r, s.cfg.MaxJSONBodyBytes)
	if err != nil {
		writeErr(w, http.StatusBadRequest, "bad_request", sanitizeError(err))
		return
	}
	ids := req.IDs()
	if len(ids) == 0 {
		writeErr(w, http.StatusBadRequest, "validation_failed", "color_id or color_ids required")
		return
	}
	if err := s.store.AddProjectColors(r.Context(), p.ID, ids); err != nil {
		writeStoreErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "added": len(ids)})
}

func (s *Server) handleProjectColorsRemove(w http.ResponseWriter, r *http.Request, ac auth.Context) {
	p, ok := s.ownedProject(w, r, ac, http.StatusForbidden)
	if !ok {
		return
	}
	colorID := strings.TrimSpace(r.URL.Query().Get("color_id"))
	if colorID == "" {
		req, err := parseOptionalJSON[types.ProjectColorsRequest](r, s.cfg.MaxJSONBodyBytes)
		if err != nil {
			writeErr(w, http.StatusBadRequest, "bad_request", sanitizeError(err))
			return
		}
		colorID = strings.TrimSpace(req.ColorID)
	}
	if colorID == "" {
		writeErr(w, http.StatusBadRequest, "validation_failed", "color_id required")
		return
	}
	if err := s.store.RemoveProjectColor(r.Context(), p.ID, colorID); err != nil {
		writeStoreErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "deleted": 1})
}

type projectScanResponse struct {
	OK bool `json:"ok"`
	scan.Result
	types.ScanResponse
	Attached int `json:"attached"`
}

// handleProjectScan runs the extraction pipeline over the project's stored
// PDF. With ?attach=1 every matched color is linked to the project.
func (s *Server) handleProjectScan(w http.ResponseWriter, r *http.Request, ac auth.Context) {
	if s.scanner == nil {
		writeErr(w, http.StatusServiceUnavailable, "scan_unavailable", "Scanning is not configured")
		return
	}
	p, ok := s.ownedProject(w, r, ac, http.StatusForbidden)
	if !ok {
		return
	}

	var pdfPath string
	for _, key := range pdfKeys(p) {
		if exists, err := s.blobs.Exists(r.Context(), key); err == nil && exists {
			pdfPath, _ = s.blobs.Path(key)
			break
		}
	}
	if pdfPath == "" {
		writeErr(w, http.StatusNotFound, "not_found", "PDF not found")
		return
	}
	if err := validatePDFMagic(pdfPath); err != nil {
		writeErr(w, http.StatusUnprocessableEntity, "invalid_pdf", sanitizeError(err))
		return
	}

	timeout := s.cfg.ScanTimeout
	if timeout <= 0 {
		timeout = defaultScanTimeout
	}
	ctx, cancel := context.WithTimeout(r.Context(), timeout)
	defer cancel()

	if err := s.scanSem.Acquire(ctx, 1); err != nil {
		writeErr(w, http.StatusServiceUnavailable, "scan_capacity", "Scanner at capacity")
		return
	}
	defer s.scanSem.Release(1)
	s.metrics.incScans()

	res, err := s.scanner.ScanFile(ctx, pdfPath)
	if err != nil {
		s.log.Warn("scan failed", zap.String("project", p.ID), zap.Error(err))
		writeErr(w, http.StatusUnprocessableEntity, "scan_failed", sanitizeError(err))
		return
	}

	matches, err := s.store.LookupCodes(ctx, ac.UserID(), res.Candidates)
	if err != nil {
		writeStoreErr(w, err)
		return
	}
	out := projectScanResponse{OK: true, Result: res, ScanResponse: types.NewScanResponse(matches)}

	if r.URL.Query().Get("attach") == "1" && len(matches) > 0 {
		ids := make([]string, 0, len(matches))
		for _, m := range matches {
			ids = append(ids, m.ColorID)
		}
		if err := s.store.AddProjectColors(ctx, p.ID, ids); err != nil {
			writeStoreErr(w, err)
			return
		}
		out.Attached = len(ids)
	}

	s.log.Info("project scanned",
		zap.String("project", p.ID),
		zap.String("method", res.Method),
		zap.Int("pages", res.TotalPages),
		zap.Int("candidates", len(res.Candidates)),
		zap.Int("matched", len(matches)))
	writeJSON(w, http.StatusOK, out)
}
