// Package scan runs the server-side pipeline that turns a stored PDF into
// candidate floss codes.
package scan

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/toricodesthings/flossstock/internal/dmc"
	"github.com/toricodesthings/flossstock/internal/extractor"
	"github.com/toricodesthings/flossstock/internal/format"
	"github.com/toricodesthings/flossstock/internal/ocr"
	"github.com/toricodesthings/flossstock/internal/quality"
)

const (
	MethodTextLayer = "text-layer"
	MethodOCR       = "ocr"
	MethodMixed     = "mixed"
	MethodNone      = "none"
)

// PageSource yields page counts and positioned words for a PDF.
type PageSource interface {
	PageCount(ctx context.Context, pdfPath string) (int, error)
	Words(ctx context.Context, pdfPath string, page int) (extractor.Page, error)
}

// TextSource is a PageSource that can also render a page's layout text.
type TextSource interface {
	Text(ctx context.Context, pdfPath string, page int) (string, error)
}

// OCR recognizes pages that have no usable text layer.
type OCR interface {
	Enabled() bool
	Run(ctx context.Context, documentURL string, pages0 []int) (ocr.Response, error)
}

type Options struct {
	MinWords        int
	PageSeparator   string
	MaxPageWorkers  int
	OCRTriggerRatio float64
}

func (o Options) withDefaults() Options {
	if o.MinWords <= 0 {
		o.MinWords = 3
	}
	if o.PageSeparator == "" {
		o.PageSeparator = "\n\n"
	}
	if o.MaxPageWorkers <= 0 {
		o.MaxPageWorkers = 4
	}
	if o.OCRTriggerRatio <= 0 {
		o.OCRTriggerRatio = 1
	}
	return o
}

type Result struct {
	Candidates     []string    `json:"candidates"`
	Tokens         []dmc.Token `json:"-"`
	Text           string      `json:"-"`
	TotalPages     int         `json:"totalPages"`
	TextLayerPages int         `json:"textLayerPages"`
	OCRPages       int         `json:"ocrPages"`
	Method         string      `json:"method"`
	NeedsOCR       bool        `json:"needsOcr"`
}

type Scanner struct {
	pages PageSource
	ocr   OCR
	opts  Options
	log   *zap.Logger
}

// New builds a Scanner. ocrClient may be nil.
func New(pages PageSource, ocrClient OCR, opts Options, log *zap.Logger) *Scanner {
	if log == nil {
		log = zap.NewNop()
	}
	return &Scanner{pages: pages, ocr: ocrClient, opts: opts.withDefaults(), log: log}
}

type pageEval struct {
	page     extractor.Page
	text     string
	method   string
	decision quality.Decision
}

// ScanFile extracts candidate codes from the PDF at pdfPath.
func (s *Scanner) ScanFile(ctx context.Context, pdfPath string) (Result, error) {
	total, err := s.pages.PageCount(ctx, pdfPath)
	if err != nil {
		return Result{}, fmt.Errorf("page count: %w", err)
	}
	if total <= 0 {
		return Result{}, fmt.Errorf("page count: no pages")
	}

	evals := make([]pageEval, total)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.MaxPageWorkers)
	for i := range total {
		g.Go(func() error {
			pg, err := s.pages.Words(gctx, pdfPath, i+1)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				// an unreadable page is treated like one without a text layer
				s.log.Warn("page extraction failed", zap.Int("page", i+1), zap.Error(err))
				pg = extractor.Page{Number: i + 1}
			}
			text := pg.Text()
			evals[i] = pageEval{
				page:     pg,
				text:     text,
				method:   MethodTextLayer,
				decision: quality.Score(text, s.opts.MinWords),
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Result{}, err
	}

	var needs []int
	for i, ev := range evals {
		if ev.decision.NeedsOCR {
			needs = append(needs, i)
		}
	}

	res := Result{TotalPages: total, Candidates: []string{}}
	if len(needs) > 0 && float64(len(needs))/float64(total) >= s.opts.OCRTriggerRatio {
		if s.ocr == nil || !s.ocr.Enabled() {
			res.NeedsOCR = true
			res.Method = MethodNone
			return res, nil
		}
		if err := s.runOCR(ctx, pdfPath, needs, evals); err != nil {
			return Result{}, err
		}
	}

	texts := make([]format.PageText, 0, total)
	var tokens []dmc.Token
	for _, ev := range evals {
		if ev.method == MethodOCR {
			res.OCRPages++
		} else {
			res.TextLayerPages++
			tokens = append(tokens, ev.page.Tokens...)
		}
		texts = append(texts, format.PageText{Number: ev.page.Number, Text: ev.text, Method: ev.method})
	}
	res.Tokens = tokens
	res.Text = format.Combine(texts, s.opts.PageSeparator, false)
	res.Method = methodFor(res.TextLayerPages, res.OCRPages)

	codes, err := dmc.Extract(res.Text, tokens)
	if errors.Is(err, dmc.ErrMissingText) {
		return res, nil
	}
	if err != nil {
		return Result{}, err
	}
	res.Candidates = codes
	return res, nil
}

// LayoutText returns the document text with a heading per page. Pages are
// rendered with their layout when the page source supports it and fall back
// to the joined words otherwise.
func (s *Scanner) LayoutText(ctx context.Context, pdfPath string) (string, error) {
	total, err := s.pages.PageCount(ctx, pdfPath)
	if err != nil {
		return "", fmt.Errorf("page count: %w", err)
	}
	ts, layout := s.pages.(TextSource)

	texts := make([]format.PageText, total)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.MaxPageWorkers)
	for i := range total {
		g.Go(func() error {
			pt := format.PageText{Number: i + 1, Method: MethodTextLayer}
			if layout {
				text, err := ts.Text(gctx, pdfPath, i+1)
				if err != nil {
					return fmt.Errorf("page %d: %w", i+1, err)
				}
				pt.Text = text
			} else {
				pg, err := s.pages.Words(gctx, pdfPath, i+1)
				if err != nil {
					return fmt.Errorf("page %d: %w", i+1, err)
				}
				pt.Text = pg.Text()
			}
			texts[i] = pt
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return "", err
	}
	return format.Combine(texts, s.opts.PageSeparator, true), nil
}

func (s *Scanner) runOCR(ctx context.Context, pdfPath string, pages0 []int, evals []pageEval) error {
	data, err := os.ReadFile(pdfPath)
	if err != nil {
		return fmt.Errorf("read pdf: %w", err)
	}
	resp, err := s.ocr.Run(ctx, ocr.PDFDataURL(data), pages0)
	if err != nil {
		return fmt.Errorf("ocr failed: %w", err)
	}
	for _, p := range resp.Pages {
		if p.Index < 0 || p.Index >= len(evals) {
			continue
		}
		md := cleanOCR(p.Markdown)
		if md == "" {
			continue
		}
		evals[p.Index].text = md
		evals[p.Index].method = MethodOCR
	}
	s.log.Debug("ocr fallback", zap.Int("requested", len(pages0)), zap.Int("returned", len(resp.Pages)))
	return nil
}

func methodFor(textLayer, ocrPages int) string {
	switch {
	case ocrPages == 0:
		return MethodTextLayer
	case textLayer == 0:
		return MethodOCR
	default:
		return MethodMixed
	}
}

func cleanOCR(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	return strings.TrimSpace(s)
}
