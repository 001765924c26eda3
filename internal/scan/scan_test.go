package scan

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/toricodesthings/flossstock/internal/dmc"
	"github.com/toricodesthings/flossstock/internal/extractor"
	"github.com/toricodesthings/flossstock/internal/ocr"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakePages struct {
	pages    map[int][]dmc.Token
	total    int
	failPage int

	inFlight atomic.Int32
	peak     atomic.Int32
}

func (f *fakePages) PageCount(ctx context.Context, pdfPath string) (int, error) {
	return f.total, nil
}

func (f *fakePages) Words(ctx context.Context, pdfPath string, page int) (extractor.Page, error) {
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		p := f.peak.Load()
		if n <= p || f.peak.CompareAndSwap(p, n) {
			break
		}
	}
	if page == f.failPage {
		return extractor.Page{}, errors.New("pdftotext exploded")
	}
	return extractor.Page{Number: page, Tokens: f.pages[page]}, nil
}

type fakeOCR struct {
	mu      sync.Mutex
	enabled bool
	pages0  []int
	resp    ocr.Response
	err     error
}

func (f *fakeOCR) Enabled() bool { return f.enabled }

func (f *fakeOCR) Run(ctx context.Context, documentURL string, pages0 []int) (ocr.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pages0 = pages0
	return f.resp, f.err
}

func words(texts ...string) []dmc.Token {
	out := make([]dmc.Token, len(texts))
	for i, s := range texts {
		out[i] = dmc.Token{Text: s, X: float64(i * 10)}
	}
	return out
}

func TestScanFile_ColumnLayout(t *testing.T) {
	src := &fakePages{total: 1, pages: map[int][]dmc.Token{
		1: {
			{Text: "DMC", X: 100, Y: 700},
			{Text: "Anchor", X: 150, Y: 700},
			{Text: "310", X: 101, Y: 680},
			{Text: "403", X: 151, Y: 680},
			{Text: "B5200", X: 100, Y: 660},
			{Text: "2", X: 151, Y: 660},
		},
	}}
	s := New(src, nil, Options{}, zaptest.NewLogger(t))

	res, err := s.ScanFile(context.Background(), "chart.pdf")
	require.NoError(t, err)
	assert.Equal(t, []string{"310", "B5200"}, res.Candidates)
	assert.Equal(t, MethodTextLayer, res.Method)
	assert.Equal(t, 1, res.TextLayerPages)
	assert.Equal(t, "DMC Anchor 310 403 B5200 2", res.Text)
	assert.Len(t, res.Tokens, 6)
}

func TestScanFile_TextFallbackAcrossPages(t *testing.T) {
	src := &fakePages{total: 3, pages: map[int][]dmc.Token{
		1: words("Symbol", "DMC", "310", "Black"),
		2: words("Stitch", "key", "DMC", "3865", "Winter", "White"),
		3: words("Finished", "size", "DMC", "Ecru", "border"),
	}}
	s := New(src, nil, Options{MaxPageWorkers: 2, PageSeparator: " | "}, zaptest.NewLogger(t))

	res, err := s.ScanFile(context.Background(), "chart.pdf")
	require.NoError(t, err)
	assert.Equal(t, []string{"310", "3865", "ECRU"}, res.Candidates)
	assert.Equal(t, 3, res.TotalPages)
	assert.Equal(t, "Symbol DMC 310 Black | Stitch key DMC 3865 Winter White | Finished size DMC Ecru border", res.Text)
	assert.LessOrEqual(t, src.peak.Load(), int32(2))
}

func TestScanFile_FailedPageIsSkipped(t *testing.T) {
	src := &fakePages{total: 2, failPage: 2, pages: map[int][]dmc.Token{
		1: words("DMC", "310", "Black", "thread"),
	}}
	s := New(src, nil, Options{}, zaptest.NewLogger(t))

	res, err := s.ScanFile(context.Background(), "chart.pdf")
	require.NoError(t, err)
	assert.Equal(t, []string{"310"}, res.Candidates)
	assert.False(t, res.NeedsOCR)
}

func TestScanFile_NeedsOCRWithoutClient(t *testing.T) {
	src := &fakePages{total: 2}
	s := New(src, &fakeOCR{}, Options{}, zaptest.NewLogger(t))

	res, err := s.ScanFile(context.Background(), "scan.pdf")
	require.NoError(t, err)
	assert.True(t, res.NeedsOCR)
	assert.Equal(t, []string{}, res.Candidates)
	assert.Equal(t, MethodNone, res.Method)
}

func TestScanFile_OCRFallback(t *testing.T) {
	pdf := filepath.Join(t.TempDir(), "scan.pdf")
	require.NoError(t, os.WriteFile(pdf, []byte("%PDF-1.4 fake"), 0o600))

	src := &fakePages{total: 2}
	o := &fakeOCR{enabled: true, resp: ocr.Response{Pages: []ocr.Page{
		{Index: 0, Markdown: "| DMC | Name |\r\n| 310 | Black |"},
		{Index: 1, Markdown: "DMC 3865 Winter White"},
		{Index: 7, Markdown: "DMC 999"},
	}}}
	s := New(src, o, Options{}, zaptest.NewLogger(t))

	res, err := s.ScanFile(context.Background(), pdf)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1}, o.pages0)
	assert.Equal(t, MethodOCR, res.Method)
	assert.Equal(t, 2, res.OCRPages)
	assert.Equal(t, []string{"310", "3865"}, res.Candidates)
}

func TestScanFile_OCRBelowTriggerRatio(t *testing.T) {
	src := &fakePages{total: 2, pages: map[int][]dmc.Token{
		1: words("DMC", "310", "Black", "thread"),
	}}
	o := &fakeOCR{enabled: true}
	s := New(src, o, Options{OCRTriggerRatio: 0.9}, zaptest.NewLogger(t))

	res, err := s.ScanFile(context.Background(), "chart.pdf")
	require.NoError(t, err)
	assert.Nil(t, o.pages0)
	assert.Equal(t, []string{"310"}, res.Candidates)
}

func TestScanFile_OCRError(t *testing.T) {
	pdf := filepath.Join(t.TempDir(), "scan.pdf")
	require.NoError(t, os.WriteFile(pdf, []byte("%PDF-1.4 fake"), 0o600))

	s := New(&fakePages{total: 1}, &fakeOCR{enabled: true, err: errors.New("boom")}, Options{}, zaptest.NewLogger(t))
	_, err := s.ScanFile(context.Background(), pdf)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}

func TestScanFile_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	src := &cancelPages{}
	s := New(src, nil, Options{}, zaptest.NewLogger(t))
	_, err := s.ScanFile(ctx, "chart.pdf")
	assert.ErrorIs(t, err, context.Canceled)
}

type cancelPages struct{}

func (cancelPages) PageCount(ctx context.Context, pdfPath string) (int, error) { return 5, nil }

func (cancelPages) Words(ctx context.Context, pdfPath string, page int) (extractor.Page, error) {
	return extractor.Page{}, ctx.Err()
}

type layoutPages struct {
	fakePages
	layout map[int]string
}

func (l *layoutPages) Text(ctx context.Context, pdfPath string, page int) (string, error) {
	if page == l.failPage {
		return "", errors.New("pdftotext exploded")
	}
	return l.layout[page], nil
}

func TestLayoutText_UsesLayoutRendering(t *testing.T) {
	src := &layoutPages{
		fakePages: fakePages{total: 3},
		layout: map[int]string{
			1: "  DMC     Name\n  310     Black\n",
			2: "   \n",
			3: "  3865    Winter White\n",
		},
	}
	s := New(src, nil, Options{PageSeparator: "\n\n"}, zaptest.NewLogger(t))

	text, err := s.LayoutText(context.Background(), "chart.pdf")
	require.NoError(t, err)
	assert.Equal(t, "## Page 1\n\nDMC     Name\n  310     Black\n\n## Page 3\n\n3865    Winter White", text)
	assert.Zero(t, src.peak.Load(), "words should not be read when layout text is available")
}

func TestLayoutText_FallsBackToWords(t *testing.T) {
	src := &fakePages{
		total: 2,
		pages: map[int][]dmc.Token{
			1: words("DMC", "310", "Black"),
			2: words("DMC", "Ecru"),
		},
	}
	s := New(src, nil, Options{PageSeparator: "\n---\n"}, zaptest.NewLogger(t))

	text, err := s.LayoutText(context.Background(), "chart.pdf")
	require.NoError(t, err)
	assert.Equal(t, "## Page 1\n\nDMC 310 Black\n---\n## Page 2\n\nDMC Ecru", text)
}

func TestLayoutText_PageError(t *testing.T) {
	src := &layoutPages{fakePages: fakePages{total: 2, failPage: 2}}
	s := New(src, nil, Options{}, zaptest.NewLogger(t))

	_, err := s.LayoutText(context.Background(), "chart.pdf")
	assert.ErrorContains(t, err, "page 2")
}
