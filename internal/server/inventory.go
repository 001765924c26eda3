package server

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/toricodesthings/flossstock/internal/auth"
	"github.com/toricodesthings/flossstock/internal/store"
	"github.com/toricodesthings/flossstock/internal/types"
)

const defaultColorLimit = 500

// ---------- Catalog ----------

func queryInt(r *http.Request, key string, fallback int) int {
	v := strings.TrimSpace(r.URL.Query().Get(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func (s *Server) handleColors(w http.ResponseWriter, r *http.Request, _ auth.Context) {
	q := r.URL.Query().Get("q")
	limit := queryInt(r, "limit", defaultColorLimit)
	offset := queryInt(r, "offset", 0)

	colors, err := s.store.ListColors(r.Context(), q, limit, offset)
	if err != nil {
		s.log.Error("list colors", zap.Error(err))
		writeStoreErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "count": len(colors), "data": colors})
}

func (s *Server) handleColorProjects(w http.ResponseWriter, r *http.Request, ac auth.Context) {
	if !ac.SignedIn() {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "projects": []store.ProjectRef{}})
		return
	}
	colorID := strings.TrimSpace(r.PathValue("color_id"))
	if colorID == "" {
		writeErr(w, http.StatusBadRequest, "validation_failed", "color_id required")
		return
	}
	refs, err := s.store.ColorProjects(r.Context(), ac.UserID(), colorID)
	if err != nil {
		s.log.Error("color projects", zap.Error(err))
		writeStoreErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "projects": refs})
}

// ---------- Inventory ----------

func (s *Server) handleInventoryList(w http.ResponseWriter, r *http.Request, ac auth.Context) {
	if !ac.SignedIn() {
		writeJSON(w, http.StatusOK, types.ListResponse[store.InventoryItem]{
			Items:   []store.InventoryItem{},
			Message: "Not signed in",
		})
		return
	}
	items, err := s.store.ListInventory(r.Context(), ac.UserID(), r.URL.Query().Get("q"))
	if err != nil {
		s.log.Error("list inventory", zap.Error(err))
		writeStoreErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, types.ListResponse[store.InventoryItem]{
		User:    &types.UserRef{ID: ac.UserID()},
		Items:   items,
		Message: "OK",
	})
}

var errQtyRange = errors.New("quantity out of range")

// quantity truncates a JSON number toward zero. Anything past store.MaxQty
// either way is rejected.
func quantity(f float64) (int, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) || math.Abs(f) > store.MaxQty {
		return 0, errQtyRange
	}
	return int(f), nil
}

// inventoryChange validates one upsert. Quantities are truncated toward
// zero; set and add never go below zero.
func inventoryChange(in types.InventoryItemInput) (store.InventoryChange, error) {
	colorID := in.Color()
	if colorID == "" {
		return store.InventoryChange{}, errors.New("color_id required")
	}
	hasQty := in.Qty != nil || in.Quantity != nil
	hasDelta := in.Delta != nil
	switch {
	case !hasQty && !hasDelta:
		return store.InventoryChange{}, errors.New("provide qty/quantity or delta")
	case hasQty && hasDelta:
		return store.InventoryChange{}, errors.New("provide either qty/quantity or delta, not both")
	}

	ch := store.InventoryChange{ColorID: colorID, Notes: in.Notes}
	if hasDelta {
		d, err := quantity(*in.Delta)
		if err != nil {
			return store.InventoryChange{}, err
		}
		ch.Op = store.OpDelta
		ch.Qty = d
		return ch, nil
	}

	raw := in.Qty
	if raw == nil {
		raw = in.Quantity
	}
	q, err := quantity(*raw)
	if err != nil {
		return store.InventoryChange{}, err
	}
	ch.Qty = max(0, q)
	ch.Op = store.OpSet
	if strings.EqualFold(strings.TrimSpace(in.Op), string(store.OpAdd)) {
		ch.Op = store.OpAdd
	}
	return ch, nil
}

func (s *Server) handleInventoryUpsert(w http.ResponseWriter, r *http.Request, ac auth.Context) {
	req, err := parseJSON[types.InventoryRequest](r, s.cfg.MaxJSONBodyBytes)
	if err != nil {
		writeErr(w, http.StatusBadRequest, "bad_request", sanitizeError(err))
		return
	}
	batch := req.Batch()
	if len(batch) == 0 {
		writeErr(w, http.StatusBadRequest, "validation_failed", "items must not be empty")
		return
	}

	changes := make([]store.InventoryChange, 0, len(batch))
	for _, in := range batch {
		ch, err := inventoryChange(in)
		if err != nil {
			writeErr(w, http.StatusBadRequest, "validation_failed", err.Error())
			return
		}
		changes = append(changes, ch)
	}

	ctx := r.Context()
	if err := s.store.ApplyInventory(ctx, ac.UserID(), changes); err != nil {
		if !errors.Is(err, store.ErrUnknownColor) {
			s.log.Error("apply inventory", zap.Error(err))
		}
		writeStoreErr(w, err)
		return
	}

	resp := types.InventoryUpdateResponse{OK: true, Updated: len(changes), Message: "Inventory updated"}
	last := changes[len(changes)-1].ColorID
	if it, err := s.store.InventoryItem(ctx, ac.UserID(), last); err == nil {
		resp.Item = &types.InventoryItemRef{ColorID: it.ColorID, Qty: it.Qty}
	}
	writeJSON(w, http.StatusOK, resp)
}

// inventoryPatch reads a PATCH body. Key presence matters: "notes": null
// clears notes while an absent key leaves them alone.
func inventoryPatch(body map[string]json.RawMessage) (store.InventoryPatch, error) {
	var p store.InventoryPatch
	rawQty, hasQty := body["quantity"]
	if !hasQty {
		rawQty, hasQty = body["qty"]
	}
	rawNotes, hasNotes := body["notes"]
	if !hasQty && !hasNotes {
		return p, errors.New("quantity/qty or notes required")
	}
	if hasQty {
		var f float64
		if err := json.Unmarshal(rawQty, &f); err != nil {
			return p, errors.New("quantity must be a number")
		}
		q, err := quantity(f)
		if err != nil {
			return p, err
		}
		q = max(0, q)
		p.Qty = &q
	}
	if hasNotes {
		p.SetNotes = true
		if err := json.Unmarshal(rawNotes, &p.Notes); err != nil {
			return p, errors.New("notes must be a string or null")
		}
	}
	return p, nil
}

func (s *Server) handleInventoryPatch(w http.ResponseWriter, r *http.Request, ac auth.Context) {
	colorID := strings.TrimSpace(r.PathValue("color_id"))
	if colorID == "" {
		writeErr(w, http.StatusBadRequest, "validation_failed", "color_id required")
		return
	}
	body, err := parseJSON[map[string]json.RawMessage](r, s.cfg.MaxJSONBodyBytes)
	if err != nil {
		writeErr(w, http.StatusBadRequest, "bad_request", sanitizeError(err))
		return
	}
	patch, err := inventoryPatch(body)
	if err != nil {
		writeErr(w, http.StatusBadRequest, "validation_failed", err.Error())
		return
	}

	ctx := r.Context()
	if err := s.store.PatchInventory(ctx, ac.UserID(), colorID, patch); err != nil {
		writeStoreErr(w, err)
		return
	}
	it, err := s.store.InventoryItem(ctx, ac.UserID(), colorID)
	if err != nil {
		writeStoreErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "item": it})
}

func (s *Server) handleInventoryDelete(w http.ResponseWriter, r *http.Request, ac auth.Context) {
	colorID := strings.TrimSpace(r.PathValue("color_id"))
	if err := s.store.DeleteInventory(r.Context(), ac.UserID(), colorID); err != nil {
		writeStoreErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":       true,
		"color_id": colorID,
		"message":  "Inventory row deleted",
	})
}

// ---------- Wishlist ----------

func (s *Server) handleWishlistList(w http.ResponseWriter, r *http.Request, ac auth.Context) {
	if !ac.SignedIn() {
		writeJSON(w, http.StatusOK, types.ListResponse[store.WishlistItem]{
			Items:   []store.WishlistItem{},
			Message: "Not signed in",
		})
		return
	}
	items, err := s.store.ListWishlist(r.Context(), ac.UserID())
	if err != nil {
		s.log.Error("list wishlist", zap.Error(err))
		writeStoreErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, types.ListResponse[store.WishlistItem]{
		User:    &types.UserRef{ID: ac.UserID()},
		Items:   items,
		Message: "OK",
	})
}

func (s *Server) handleWishlistAdd(w http.ResponseWriter, r *http.Request, ac auth.Context) {
	req, err := parseJSON[types.WishlistRequest](r, s.cfg.MaxJSONBodyBytes)
	if err != nil {
		writeErr(w, http.StatusBadRequest, "bad_request", sanitizeError(err))
		return
	}
	batch := req.Batch()
	adds := make([]store.WishlistAdd, 0, len(batch))
	for _, in := range batch {
		colorID := in.Color()
		if colorID == "" {
			writeErr(w, http.StatusBadRequest, "validation_failed", "color_id required")
			return
		}
		qty := 1
		raw := in.DesiredQty
		if raw == nil {
			raw = in.Qty
		}
		if raw != nil {
			if qty, err = quantity(*raw); err != nil {
				writeErr(w, http.StatusBadRequest, "validation_failed", err.Error())
				return
			}
		}
		adds = append(adds, store.WishlistAdd{ColorID: colorID, DesiredQty: max(1, qty), Notes: in.Notes})
	}
	if len(adds) == 0 {
		writeErr(w, http.StatusBadRequest, "validation_failed", "items must not be empty")
		return
	}

	if err := s.store.AddWishlist(r.Context(), ac.UserID(), adds); err != nil {
		if !errors.Is(err, store.ErrUnknownColor) {
			s.log.Error("add wishlist", zap.Error(err))
		}
		writeStoreErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "updated": len(adds), "message": "Wishlist updated"})
}

// handleWishlistDelete takes the color from the path, or from a JSON body
// when the path has none.
func (s *Server) handleWishlistDelete(w http.ResponseWriter, r *http.Request, ac auth.Context) {
	colorID := strings.TrimSpace(r.PathValue("color_id"))
	if colorID == "" {
		in, err := parseOptionalJSON[types.WishlistItemInput](r, s.cfg.MaxJSONBodyBytes)
		if err != nil {
			writeErr(w, http.StatusBadRequest, "bad_request", sanitizeError(err))
			return
		}
		colorID = in.Color()
	}
	if colorID == "" {
		writeErr(w, http.StatusBadRequest, "validation_failed", "color_id required")
		return
	}
	if err := s.store.DeleteWishlist(r.Context(), ac.UserID(), colorID); err != nil {
		s.log.Error("delete wishlist", zap.Error(err))
		writeStoreErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "message": "Wishlist item removed"})
}
