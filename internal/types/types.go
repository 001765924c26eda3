package types

import (
	"encoding/json"
	"strings"

	"github.com/toricodesthings/flossstock/internal/store"
)

// Credentials is the body of the register and login endpoints.
type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Username string `json:"username"`
}

// InventoryItemInput is one inventory upsert. quantity is the older name
// for qty; color_id may also arrive as colorId.
type InventoryItemInput struct {
	ColorID    string   `json:"color_id"`
	ColorIDAlt string   `json:"colorId"`
	Qty        *float64 `json:"qty"`
	Quantity   *float64 `json:"quantity"`
	Delta      *float64 `json:"delta"`
	Op         string   `json:"op"`
	Notes      *string  `json:"notes"`
}

func (in InventoryItemInput) Color() string {
	return firstNonEmpty(in.ColorID, in.ColorIDAlt)
}

// InventoryRequest is a single item or a batch under "items".
type InventoryRequest struct {
	InventoryItemInput
	Items []InventoryItemInput `json:"items"`
}

func (r InventoryRequest) Batch() []InventoryItemInput {
	if r.Items != nil {
		return r.Items
	}
	return []InventoryItemInput{r.InventoryItemInput}
}

type InventoryItemRef struct {
	ColorID string `json:"colorId"`
	Qty     int    `json:"qty"`
}

type InventoryUpdateResponse struct {
	OK      bool              `json:"ok"`
	Updated int               `json:"updated"`
	Item    *InventoryItemRef `json:"item"`
	Message string            `json:"message"`
}

type WishlistItemInput struct {
	ColorID    string   `json:"color_id"`
	ColorIDAlt string   `json:"colorId"`
	ID         string   `json:"id"`
	DesiredQty *float64 `json:"desired_qty"`
	Qty        *float64 `json:"qty"`
	Notes      *string  `json:"notes"`
}

func (in WishlistItemInput) Color() string {
	return firstNonEmpty(in.ColorID, in.ColorIDAlt, in.ID)
}

type WishlistRequest struct {
	WishlistItemInput
	Items []WishlistItemInput `json:"items"`
}

func (r WishlistRequest) Batch() []WishlistItemInput {
	if r.Items != nil {
		return r.Items
	}
	return []WishlistItemInput{r.WishlistItemInput}
}

// UserRef identifies the signed-in user in list responses; nil when
// anonymous.
type UserRef struct {
	ID string `json:"id"`
}

type ListResponse[T any] struct {
	User    *UserRef `json:"user"`
	Items   []T      `json:"items"`
	Message string   `json:"message"`
}

// ScanRequest is the body of /api/scan-dmc. Both fields are decoded
// leniently by the dmc package.
type ScanRequest struct {
	Text  json.RawMessage `json:"text"`
	Items json.RawMessage `json:"items"`
}

// ScanEntry is one catalog color matched by a scan.
type ScanEntry struct {
	ColorID   string `json:"color_id"`
	ID        string `json:"id"`
	ColorIDJS string `json:"colorId"`
	Code      string `json:"code"`
	Name      string `json:"name"`
	Quantity  int    `json:"quantity"`
}

type ScanResponse struct {
	CodesFound []string    `json:"codesFound"`
	Have       []ScanEntry `json:"have"`
	Missing    []ScanEntry `json:"missing"`
}

// NewScanResponse splits matches into owned (quantity > 0) and missing.
func NewScanResponse(matches []store.CodeMatch) ScanResponse {
	resp := ScanResponse{CodesFound: []string{}, Have: []ScanEntry{}, Missing: []ScanEntry{}}
	seen := map[string]bool{}
	for _, m := range matches {
		e := ScanEntry{
			ColorID:   m.ColorID,
			ID:        m.ColorID,
			ColorIDJS: m.ColorID,
			Code:      m.Code,
			Name:      m.Name,
			Quantity:  m.Quantity,
		}
		if !seen[m.Code] {
			seen[m.Code] = true
			resp.CodesFound = append(resp.CodesFound, m.Code)
		}
		if m.Quantity > 0 {
			resp.Have = append(resp.Have, e)
		} else {
			resp.Missing = append(resp.Missing, e)
		}
	}
	return resp
}

type ProjectColorsRequest struct {
	ColorID  string   `json:"color_id"`
	ColorIDs []string `json:"color_ids"`
}

// IDs returns the trimmed, non-empty color ids of the request.
func (r ProjectColorsRequest) IDs() []string {
	var out []string
	src := r.ColorIDs
	if src == nil && r.ColorID != "" {
		src = []string{r.ColorID}
	}
	for _, id := range src {
		if id = strings.TrimSpace(id); id != "" {
			out = append(out, id)
		}
	}
	return out
}

type StashRequest struct {
	Codes []string `json:"codes"`
}

type ProfileRequest struct {
	Username  string `json:"username"`
	AvatarURL string `json:"avatarUrl"`
}

type PasswordChangeRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
	ConfirmPassword string `json:"confirmPassword"`
}

// Account is the signed-in user's profile as returned by /api/account.
type Account struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	Username    string `json:"username,omitempty"`
	AvatarURL   string `json:"avatarUrl,omitempty"`
	AvatarKey   string `json:"avatarKey,omitempty"`
	GravatarURL string `json:"gravatarUrl"`
	AvatarSrc   string `json:"avatarSrc"`
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
