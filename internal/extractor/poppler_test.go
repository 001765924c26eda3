package extractor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type toolCall struct {
	name string
	args []string
}

// fakeTool replaces runTool for the duration of a test.
func fakeTool(t *testing.T, out map[string]string, err error) *[]toolCall {
	t.Helper()
	var calls []toolCall
	prev := runTool
	runTool = func(ctx context.Context, name string, args ...string) ([]byte, error) {
		calls = append(calls, toolCall{name: name, args: args})
		if err != nil {
			return nil, err
		}
		return []byte(out[name]), nil
	}
	t.Cleanup(func() { runTool = prev })
	return &calls
}

func TestTextForPage(t *testing.T) {
	calls := fakeTool(t, map[string]string{"pdftotext": "  DMC    Anchor\n  310    403\n"}, nil)

	text, err := Poppler{TextTimeout: time.Second}.Text(context.Background(), "legend.pdf", 2)
	require.NoError(t, err)
	assert.Equal(t, "  DMC    Anchor\n  310    403\n", text)
	require.Len(t, *calls, 1)
	assert.Equal(t, toolCall{
		name: "pdftotext",
		args: []string{"-f", "2", "-l", "2", "-layout", "legend.pdf", "-"},
	}, (*calls)[0])
}

func TestTextForPage_Error(t *testing.T) {
	fakeTool(t, nil, errors.New("pdftotext: exit status 1: Syntax Error"))

	_, err := TextForPage(context.Background(), "broken.pdf", 1)
	assert.ErrorContains(t, err, "Syntax Error")
}

func TestPageCount(t *testing.T) {
	fakeTool(t, map[string]string{"pdfinfo": "Title:    Roses\nPages:          12\nEncrypted: no\n"}, nil)
	n, err := Poppler{}.PageCount(context.Background(), "roses.pdf")
	require.NoError(t, err)
	assert.Equal(t, 12, n)

	fakeTool(t, map[string]string{"pdfinfo": "Title: Roses\n"}, nil)
	_, err = PageCount(context.Background(), "roses.pdf")
	assert.Error(t, err)
}

func TestWordsForPage_NumbersThePage(t *testing.T) {
	fakeTool(t, map[string]string{"pdftotext": bboxSample}, nil)

	pg, err := Poppler{}.Words(context.Background(), "legend.pdf", 7)
	require.NoError(t, err)
	assert.Equal(t, 7, pg.Number)
	assert.Equal(t, "DMC Anchor 310 403 Black & Co", pg.Text())
}
