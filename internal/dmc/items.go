package dmc

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// Item is one text item as sent by a browser-side PDF renderer:
// { str, x?, y?, transform? }. Decoding never fails; malformed fields fall
// back to zero values.
type Item struct {
	Str string
	X   float64
	Y   float64
}

func (it *Item) UnmarshalJSON(b []byte) error {
	*it = Item{}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(b, &fields); err != nil {
		return nil
	}

	it.Str = looseString(fields["str"])

	var transform []json.RawMessage
	_ = json.Unmarshal(fields["transform"], &transform)

	it.X = coord(fields["x"], transform, 4)
	it.Y = coord(fields["y"], transform, 5)
	return nil
}

// Token converts the item to a positioned token.
func (it Item) Token() Token {
	return Token{Text: it.Str, X: it.X, Y: it.Y}
}

// ParseItems decodes the "items" field of a scan request. Anything other than
// a JSON array yields no tokens.
func ParseItems(raw json.RawMessage) []Token {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '[' {
		return nil
	}
	var items []Item
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil
	}
	out := make([]Token, 0, len(items))
	for _, it := range items {
		out = append(out, it.Token())
	}
	return out
}

// ParseText decodes the "text" field of a scan request. It must be a
// non-empty JSON string.
func ParseText(raw json.RawMessage) (string, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil || s == "" {
		return "", ErrMissingText
	}
	return s, nil
}

func coord(direct json.RawMessage, transform []json.RawMessage, idx int) float64 {
	var f float64
	if !isNull(direct) {
		if err := json.Unmarshal(direct, &f); err == nil {
			return finite(f)
		}
	}
	if idx < len(transform) {
		return looseNumber(transform[idx])
	}
	return 0
}

func looseString(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		if f, err := n.Float64(); err == nil && f == 0 {
			return ""
		}
		return n.String()
	}
	if string(raw) == "true" {
		return "true"
	}
	return ""
}

func isNull(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) == 0 || string(raw) == "null"
}

func looseNumber(raw json.RawMessage) float64 {
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return finite(f)
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if v, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
			return finite(v)
		}
	}
	return 0
}

func finite(f float64) float64 {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return f
}
