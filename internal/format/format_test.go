package format

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCombine(t *testing.T) {
	pages := []PageText{
		{Number: 1, Text: " DMC 310 "},
		{Number: 2, Text: "\n"},
		{Number: 3, Text: "DMC 3865"},
	}
	assert.Equal(t, "DMC 310\n\nDMC 3865", Combine(pages, "\n\n", false))
	assert.Equal(t, "## Page 1\n\nDMC 310|## Page 3\n\nDMC 3865", Combine(pages, "|", true))
	assert.Equal(t, "", Combine(nil, "\n\n", false))
}
