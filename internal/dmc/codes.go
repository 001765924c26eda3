// Package dmc finds DMC floss color codes referenced by a pattern document.
//
// Two strategies are available. Column extraction uses positioned tokens to
// locate "DMC"/"Anchor" legend headers and keeps only codes that sit in a DMC
// column. Text extraction works on the flat document text and keeps codes
// that appear near the word "DMC". Extract prefers the former and falls back
// to the latter.
package dmc

import (
	"errors"
	"regexp"
)

// ErrMissingText is returned when the document text is absent or not a string.
var ErrMissingText = errors.New("missing text")

var specialCodes = map[string]bool{
	"BLANC": true,
	"ECRU":  true,
}

// D307, 307, B5200, 310
var codeRE = regexp.MustCompile(`^D?(B?\d{3,4})$`)

// MatchCode reports whether an uppercased token is a color code and returns
// its normalized form. A leading "D" is stripped; a leading "B" is kept.
func MatchCode(tok string) (string, bool) {
	if specialCodes[tok] {
		return tok, true
	}
	m := codeRE.FindStringSubmatch(tok)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// codeSet keeps codes in first-seen order without duplicates.
type codeSet struct {
	seen  map[string]bool
	codes []string
}

func newCodeSet() *codeSet {
	return &codeSet{seen: map[string]bool{}}
}

func (s *codeSet) add(code string) {
	if s.seen[code] {
		return
	}
	s.seen[code] = true
	s.codes = append(s.codes, code)
}

func (s *codeSet) len() int { return len(s.codes) }

func (s *codeSet) list() []string {
	if len(s.codes) == 0 {
		return []string{}
	}
	out := make([]string, len(s.codes))
	copy(out, s.codes)
	return out
}
