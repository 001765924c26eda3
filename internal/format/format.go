// Package format assembles per-page text into a document string.
package format

import (
	"fmt"
	"strings"
)

// PageText is the text of one page and how it was obtained.
type PageText struct {
	Number int
	Text   string
	Method string // "text-layer" | "ocr"
}

// Combine joins the non-empty page texts with sep, optionally prefixing each
// with a page heading.
func Combine(pages []PageText, sep string, includePageNums bool) string {
	var b strings.Builder
	first := true
	for _, p := range pages {
		txt := strings.TrimSpace(p.Text)
		if txt == "" {
			continue
		}
		if !first {
			b.WriteString(sep)
		}
		first = false
		if includePageNums {
			fmt.Fprintf(&b, "## Page %d\n\n", p.Number)
		}
		b.WriteString(txt)
	}
	return b.String()
}
