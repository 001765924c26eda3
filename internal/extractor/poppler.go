// Package extractor reads page counts, layout text and word positions out of PDFs
// with the poppler command line tools.
package extractor

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var pagesRE = regexp.MustCompile(`(?m)^Pages:\s+(\d+)\s*$`)

// runTool executes a poppler binary; tests swap it out.
var runTool = run

// Poppler runs pdfinfo and pdftotext with per-call timeouts.
type Poppler struct {
	InfoTimeout time.Duration
	TextTimeout time.Duration
}

func (p Poppler) PageCount(ctx context.Context, pdfPath string) (int, error) {
	ctx, cancel := withTimeout(ctx, p.InfoTimeout)
	defer cancel()
	return PageCount(ctx, pdfPath)
}

func (p Poppler) Words(ctx context.Context, pdfPath string, page int) (Page, error) {
	ctx, cancel := withTimeout(ctx, p.TextTimeout)
	defer cancel()
	return WordsForPage(ctx, pdfPath, page)
}

func (p Poppler) Text(ctx context.Context, pdfPath string, page int) (string, error) {
	ctx, cancel := withTimeout(ctx, p.TextTimeout)
	defer cancel()
	return TextForPage(ctx, pdfPath, page)
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

// PageCount asks pdfinfo for the number of pages.
func PageCount(ctx context.Context, pdfPath string) (int, error) {
	out, err := runTool(ctx, "pdfinfo", pdfPath)
	if err != nil {
		return 0, err
	}
	m := pagesRE.FindStringSubmatch(string(out))
	if len(m) != 2 {
		return 0, fmt.Errorf("pdfinfo: pages not found")
	}
	return strconv.Atoi(m[1])
}

// TextForPage returns the text of one page with its physical layout kept.
func TextForPage(ctx context.Context, pdfPath string, page int) (string, error) {
	out, err := runTool(ctx, "pdftotext", pageArgs(page, "-layout", pdfPath)...)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// WordsForPage returns the positioned words of a single page.
func WordsForPage(ctx context.Context, pdfPath string, page int) (Page, error) {
	out, err := runTool(ctx, "pdftotext", pageArgs(page, "-bbox", pdfPath)...)
	if err != nil {
		return Page{}, err
	}
	pages, err := ParseBBox(bytes.NewReader(out))
	if err != nil {
		return Page{}, err
	}
	if len(pages) == 0 {
		return Page{Number: page}, nil
	}
	pg := pages[0]
	pg.Number = page
	return pg, nil
}

func pageArgs(page int, mode, pdfPath string) []string {
	return []string{
		"-f", strconv.Itoa(page),
		"-l", strconv.Itoa(page),
		mode,
		pdfPath,
		"-",
	}
}

func run(ctx context.Context, name string, args ...string) ([]byte, error) {
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%s: %w", name, ctx.Err())
		}
		msg := strings.TrimSpace(stderr.String())
		if len(msg) > 200 {
			msg = msg[:200]
		}
		return nil, fmt.Errorf("%s: %w: %s", name, err, msg)
	}
	return out, nil
}
