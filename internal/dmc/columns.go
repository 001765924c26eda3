package dmc

import (
	"math"
	"strings"
)

const (
	// Max vertical distance for a DMC and an Anchor header to count as one row.
	headerRowThreshold = 20.0
	// Tolerance to the left of the DMC header position.
	columnMargin = 4.0
)

// Token is a span of page text with its position. Y usually grows upward
// (PDF user space).
type Token struct {
	Text string  `json:"str"`
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
}

// Block is one color legend table: the x position of its DMC header and of
// the Anchor header to its right.
type Block struct {
	DMCX    float64
	AnchorX float64
}

// Mid is the right edge of the DMC column.
func (b Block) Mid() float64 {
	return (b.DMCX + b.AnchorX) / 2
}

// Contains reports whether x falls inside the DMC column of the block.
func (b Block) Contains(x float64) bool {
	return x >= b.DMCX-columnMargin && x <= b.Mid()
}

type normToken struct {
	upper string
	x, y  float64
}

func normalize(tokens []Token) []normToken {
	out := make([]normToken, 0, len(tokens))
	for _, t := range tokens {
		s := strings.ToUpper(strings.TrimSpace(t.Text))
		if s == "" {
			continue
		}
		out = append(out, normToken{upper: s, x: t.X, y: t.Y})
	}
	return out
}

// FindBlocks pairs every DMC header with the nearest Anchor header to its
// right on roughly the same row.
func FindBlocks(tokens []Token) []Block {
	return findBlocks(normalize(tokens))
}

func findBlocks(toks []normToken) []Block {
	var dmcHeaders, anchorHeaders []normToken
	for _, t := range toks {
		switch {
		case t.upper == "DMC":
			dmcHeaders = append(dmcHeaders, t)
		case strings.HasPrefix(t.upper, "ANCHOR"):
			anchorHeaders = append(anchorHeaders, t)
		}
	}
	if len(dmcHeaders) == 0 || len(anchorHeaders) == 0 {
		return nil
	}

	var blocks []Block
	for _, d := range dmcHeaders {
		var best *normToken
		bestDy := math.Inf(1)
		for i := range anchorHeaders {
			a := &anchorHeaders[i]
			if a.x <= d.x {
				continue
			}
			if dy := math.Abs(a.y - d.y); dy < bestDy {
				bestDy = dy
				best = a
			}
		}
		if best != nil && bestDy < headerRowThreshold {
			blocks = append(blocks, Block{DMCX: d.x, AnchorX: best.x})
		}
	}
	return blocks
}

// ExtractColumns returns the codes found inside the DMC column of any legend
// table. It returns an empty slice when no table headers are found.
func ExtractColumns(tokens []Token) []string {
	toks := normalize(tokens)
	blocks := findBlocks(toks)
	if len(blocks) == 0 {
		return []string{}
	}

	codes := newCodeSet()
	for _, t := range toks {
		code, ok := MatchCode(t.upper)
		if !ok {
			continue
		}
		for _, b := range blocks {
			if b.Contains(t.x) {
				codes.add(code)
				break
			}
		}
	}
	return codes.list()
}
