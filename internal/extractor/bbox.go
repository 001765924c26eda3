package extractor

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"golang.org/x/net/html"

	"github.com/toricodesthings/flossstock/internal/dmc"
)

// Page holds the words of one PDF page. Token Y grows upward from the
// bottom of the page.
type Page struct {
	Number int
	Width  float64
	Height float64
	Tokens []dmc.Token
}

// Text joins the page's words with single spaces.
func (p Page) Text() string {
	parts := make([]string, len(p.Tokens))
	for i, t := range p.Tokens {
		parts[i] = t.Text
	}
	return strings.Join(parts, " ")
}

// ParseBBox reads the XHTML written by `pdftotext -bbox`.
func ParseBBox(r io.Reader) ([]Page, error) {
	z := html.NewTokenizer(r)
	var (
		pages []Page
		cur   *Page
		word  *dmc.Token
		text  strings.Builder
	)

	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			if errors.Is(z.Err(), io.EOF) {
				if cur != nil {
					pages = append(pages, *cur)
				}
				return pages, nil
			}
			return nil, fmt.Errorf("parse bbox: %w", z.Err())

		case html.StartTagToken, html.SelfClosingTagToken:
			tok := z.Token()
			switch tok.Data {
			case "page":
				if cur != nil {
					pages = append(pages, *cur)
				}
				cur = &Page{
					Number: len(pages) + 1,
					Width:  attrFloat(tok, "width"),
					Height: attrFloat(tok, "height"),
				}
			case "word":
				if cur == nil || tt == html.SelfClosingTagToken {
					continue
				}
				// the tokenizer lowercases attribute names
				word = &dmc.Token{
					X: attrFloat(tok, "xmin"),
					Y: cur.Height - attrFloat(tok, "ymax"),
				}
				text.Reset()
			}

		case html.TextToken:
			if word != nil {
				text.Write(z.Text())
			}

		case html.EndTagToken:
			name, _ := z.TagName()
			switch string(name) {
			case "word":
				if word != nil && cur != nil {
					if s := strings.TrimSpace(text.String()); s != "" {
						word.Text = s
						cur.Tokens = append(cur.Tokens, *word)
					}
				}
				word = nil
			case "page":
				if cur != nil {
					pages = append(pages, *cur)
					cur = nil
				}
			}
		}
	}
}

func attrFloat(tok html.Token, key string) float64 {
	for _, a := range tok.Attr {
		if a.Key == key {
			f, err := strconv.ParseFloat(strings.TrimSpace(a.Val), 64)
			if err != nil {
				return 0
			}
			return f
		}
	}
	return 0
}
