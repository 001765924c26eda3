package ocr

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRun(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer k", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"pages":[{"index":0,"markdown":"DMC 310"}]}`))
	}))
	defer srv.Close()

	c := NewClient("k", "")
	c.Endpoint = srv.URL
	resp, err := c.Run(context.Background(), PDFDataURL([]byte("%PDF-1.4")), []int{2, 0, 2})
	require.NoError(t, err)
	require.Len(t, resp.Pages, 1)
	assert.Equal(t, "DMC 310", resp.Pages[0].Markdown)

	assert.Equal(t, "mistral-ocr-latest", got["model"])
	assert.Equal(t, []any{0.0, 2.0}, got["pages"])
	doc := got["document"].(map[string]any)
	assert.Equal(t, "document_url", doc["type"])
	assert.True(t, strings.HasPrefix(doc["document_url"].(string), "data:application/pdf;base64,JVBERi0xLjQ"))
}

func TestRun_Errors(t *testing.T) {
	_, err := NewClient("", "").Run(context.Background(), "x", nil)
	assert.ErrorIs(t, err, ErrNoAPIKey)

	var nilClient *Client
	assert.False(t, nilClient.Enabled())

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota", http.StatusTooManyRequests)
	}))
	defer srv.Close()
	c := NewClient("k", "m")
	c.Endpoint = srv.URL
	_, err = c.Run(context.Background(), "x", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
}
