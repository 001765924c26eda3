package extractor

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/toricodesthings/flossstock/internal/dmc"
)

const bboxSample = `<!DOCTYPE html PUBLIC "-//W3C//DTD XHTML 1.0 Transitional//EN" "http://www.w3.org/TR/xhtml1/DTD/xhtml1-transitional.dtd">
<html xmlns="http://www.w3.org/1999/xhtml">
<head>
<title></title>
<meta name="Producer" content="pdfTeX"/>
</head>
<body>
<doc>
  <page width="612.000000" height="792.000000">
    <word xMin="100.000000" yMin="80.000000" xMax="122.000000" yMax="92.000000">DMC</word>
    <word xMin="150.000000" yMin="80.000000" xMax="190.000000" yMax="92.000000">Anchor</word>
    <word xMin="101.500000" yMin="100.000000" xMax="118.000000" yMax="112.000000">310</word>
    <word xMin="151.000000" yMin="100.000000" xMax="168.000000" yMax="112.000000">403</word>
    <word xMin="200.000000" yMin="100.000000" xMax="240.000000" yMax="112.000000">Black &amp; Co</word>
    <word xMin="10" yMin="10" xMax="11" yMax="11">   </word>
  </page>
  <page width="595.000000" height="842.000000">
    <word xMin="20.000000" yMin="30.000000" xMax="40.000000" yMax="42.000000">B5200</word>
  </page>
  <page width="595.000000" height="842.000000">
  </page>
</doc>
</body>
</html>
`

func TestParseBBox(t *testing.T) {
	pages, err := ParseBBox(strings.NewReader(bboxSample))
	require.NoError(t, err)
	require.Len(t, pages, 3)

	want := []dmc.Token{
		{Text: "DMC", X: 100, Y: 700},
		{Text: "Anchor", X: 150, Y: 700},
		{Text: "310", X: 101.5, Y: 680},
		{Text: "403", X: 151, Y: 680},
		{Text: "Black & Co", X: 200, Y: 680},
	}
	if diff := cmp.Diff(want, pages[0].Tokens); diff != "" {
		t.Errorf("page 1 tokens mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, 1, pages[0].Number)
	assert.Equal(t, 612.0, pages[0].Width)
	assert.Equal(t, "DMC Anchor 310 403 Black & Co", pages[0].Text())

	assert.Equal(t, 2, pages[1].Number)
	assert.Equal(t, []dmc.Token{{Text: "B5200", X: 20, Y: 800}}, pages[1].Tokens)

	assert.Empty(t, pages[2].Tokens)
	assert.Equal(t, "", pages[2].Text())
}

func TestParseBBox_FeedsColumnExtraction(t *testing.T) {
	pages, err := ParseBBox(strings.NewReader(bboxSample))
	require.NoError(t, err)
	assert.Equal(t, []string{"310"}, dmc.ExtractColumns(pages[0].Tokens))
}

func TestParseBBox_Empty(t *testing.T) {
	pages, err := ParseBBox(strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, pages)
}

func TestPageArgs(t *testing.T) {
	assert.Equal(t,
		[]string{"-f", "3", "-l", "3", "-bbox", "doc.pdf", "-"},
		pageArgs(3, "-bbox", "doc.pdf"))
}
