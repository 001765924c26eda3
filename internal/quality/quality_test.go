package quality

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestScore(t *testing.T) {
	tests := []struct {
		name      string
		text      string
		needsOCR  bool
		codes     int
		hasReason string
	}{
		{"empty", "", true, 0, "empty_text"},
		{"whitespace only", " \n\t \r\n", true, 0, "empty_text"},
		{"color key", "DMC 310 Black\nDMC 3865 Winter White\nDMC B5200 Snow White", false, 3, "floss_codes"},
		{"lone code", "310", false, 1, "low_word_count"},
		{"broken font", "\uFFFD\uFFFD\uFFFD abc", true, 0, "garbage_chars"},
		{"scrambled", "a b c d e f g h i j k l", false, 0, "scrambled_text"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Score(tt.text, 3)
			assert.Equal(t, tt.needsOCR, d.NeedsOCR, "quality %.2f reasons %v", d.Quality, d.Reasons)
			assert.Equal(t, tt.codes, d.CodeTokens)
			assert.Contains(t, d.Reasons, tt.hasReason)
			assert.GreaterOrEqual(t, d.Quality, 0.0)
			assert.LessOrEqual(t, d.Quality, 1.0)
		})
	}
}

func TestCountWords(t *testing.T) {
	assert.Equal(t, 0, CountWords("  "))
	assert.Equal(t, 3, CountWords(" a  b\nc "))
}

func TestHasRepeatedRuns(t *testing.T) {
	assert.True(t, hasRepeatedRuns("Black ..... 310"))
	assert.False(t, hasRepeatedRuns("Black .... 310"))
	assert.False(t, hasRepeatedRuns("a      b"))
}
