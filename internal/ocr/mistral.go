// Package ocr calls the Mistral OCR API for PDFs without a usable text layer.
package ocr

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"slices"
)

const DefaultEndpoint = "https://api.mistral.ai/v1/ocr"

var ErrNoAPIKey = errors.New("missing MISTRAL_API_KEY")

type Page struct {
	Index    int    `json:"index"` // 0-indexed
	Markdown string `json:"markdown"`
}

type Response struct {
	Pages []Page `json:"pages"`
}

type Client struct {
	APIKey   string
	Model    string
	Endpoint string
	HTTP     *http.Client
}

func NewClient(apiKey, model string) *Client {
	if model == "" {
		model = "mistral-ocr-latest"
	}
	return &Client{APIKey: apiKey, Model: model, Endpoint: DefaultEndpoint, HTTP: http.DefaultClient}
}

// Enabled reports whether the client can make requests.
func (c *Client) Enabled() bool {
	return c != nil && c.APIKey != ""
}

// PDFDataURL embeds a PDF as a base64 data URL.
func PDFDataURL(pdf []byte) string {
	return "data:application/pdf;base64," + base64.StdEncoding.EncodeToString(pdf)
}

// Run OCRs the document at documentURL. pages0 restricts the pages
// (0-indexed); empty means all pages.
func (c *Client) Run(ctx context.Context, documentURL string, pages0 []int) (Response, error) {
	if !c.Enabled() {
		return Response{}, ErrNoAPIKey
	}

	body := map[string]any{
		"model": c.Model,
		"document": map[string]any{
			"type":         "document_url",
			"document_url": documentURL,
		},
	}
	if len(pages0) > 0 {
		pages := slices.Clone(pages0)
		slices.Sort(pages)
		body["pages"] = slices.Compact(pages)
	}

	b, err := json.Marshal(body)
	if err != nil {
		return Response{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Endpoint, bytes.NewReader(b))
	if err != nil {
		return Response{}, err
	}
	req.Header.Set("Authorization", "Bearer "+c.APIKey)
	req.Header.Set("Content-Type", "application/json")

	hc := c.HTTP
	if hc == nil {
		hc = http.DefaultClient
	}
	resp, err := hc.Do(req)
	if err != nil {
		return Response{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		slurp, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		return Response{}, fmt.Errorf("mistral ocr error %d: %s", resp.StatusCode, string(slurp))
	}

	var parsed Response
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return Response{}, fmt.Errorf("decode ocr response: %w", err)
	}
	return parsed, nil
}
