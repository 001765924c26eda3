// Package quality decides whether a page's text layer is usable for code
// extraction or the page has to go through OCR.
package quality

import (
	"math"
	"strings"
	"unicode"

	"github.com/toricodesthings/flossstock/internal/dmc"
)

type Decision struct {
	Quality      float64  `json:"quality"`
	NeedsOCR     bool     `json:"needsOcr"`
	Reasons      []string `json:"reasons,omitempty"`
	WordCount    int      `json:"wordCount"`
	CodeTokens   int      `json:"codeTokens"`
	GarbageRatio float64  `json:"garbageRatio"`
}

func CountWords(s string) int {
	return len(strings.Fields(s))
}

// Score rates the extracted text of one page. Color keys are sparse: a page
// with only a handful of words still passes when it carries floss codes.
func Score(text string, minWords int) Decision {
	clean := normalize(text)
	total := float64(len([]rune(clean)))
	if total == 0 {
		return Decision{NeedsOCR: true, Reasons: []string{"empty_text"}}
	}

	words := strings.Fields(clean)
	wc := len(words)
	codes := countCodeTokens(words)
	garbageRatio := safeDiv(float64(countGarbage(clean)), total)
	alphaNumRatio := safeDiv(float64(countIf(clean, isAlphaNum)), total)
	scrambled := singleCharRatio(words)

	score := 1.0
	reasons := []string{}

	if wc < minWords {
		penalty := 0.40
		if codes > 0 {
			penalty = 0.10
		}
		score -= penalty
		reasons = append(reasons, "low_word_count")
	}

	// replacement and control characters mean a broken font mapping
	if garbageRatio > 0.01 {
		score -= math.Min(0.60, garbageRatio*30)
		reasons = append(reasons, "garbage_chars")
	}

	if alphaNumRatio < 0.30 {
		score -= 0.30
		reasons = append(reasons, "low_alnum_ratio")
	}

	if wc > 10 && scrambled > 0.50 {
		score -= 0.25
		reasons = append(reasons, "scrambled_text")
	}

	if hasRepeatedRuns(clean) && codes == 0 {
		score -= 0.15
		reasons = append(reasons, "repeated_patterns")
	}

	if codes > 0 {
		score += math.Min(0.20, float64(codes)*0.02)
		reasons = append(reasons, "floss_codes")
	}

	score = clamp(score, 0, 1)
	return Decision{
		Quality:      score,
		NeedsOCR:     score < 0.50,
		Reasons:      reasons,
		WordCount:    wc,
		CodeTokens:   codes,
		GarbageRatio: garbageRatio,
	}
}

func normalize(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")

	lines := strings.Split(s, "\n")
	out := lines[:0]
	for _, line := range lines {
		if f := strings.Fields(line); len(f) > 0 {
			out = append(out, strings.Join(f, " "))
		}
	}
	return strings.Join(out, "\n")
}

func countCodeTokens(words []string) int {
	n := 0
	for _, w := range words {
		w = strings.Trim(strings.ToUpper(w), ".,;:()[]")
		if _, ok := dmc.MatchCode(w); ok {
			n++
		}
	}
	return n
}

func singleCharRatio(words []string) float64 {
	if len(words) == 0 {
		return 0
	}
	n := 0
	for _, w := range words {
		if len([]rune(w)) == 1 {
			n++
		}
	}
	return float64(n) / float64(len(words))
}

// hasRepeatedRuns reports runs of 5 or more identical runes, e.g. dot leaders.
func hasRepeatedRuns(s string) bool {
	run := 0
	var last rune
	for _, r := range s {
		if r == last && !unicode.IsSpace(r) {
			run++
			if run >= 5 {
				return true
			}
			continue
		}
		run = 1
		last = r
	}
	return false
}

func isAlphaNum(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r)
}

func countIf(s string, pred func(rune) bool) int {
	n := 0
	for _, r := range s {
		if pred(r) {
			n++
		}
	}
	return n
}

func countGarbage(s string) int {
	n := 0
	for _, r := range s {
		if r == '\uFFFD' || (unicode.IsControl(r) && r != '\n' && r != '\t') {
			n++
		}
	}
	return n
}

func safeDiv(a, b float64) float64 {
	if b <= 0 {
		return 0
	}
	return a / b
}

func clamp(x, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, x))
}
