// Package catalog parses thread color lists (JSON or CSV) into the
// brand/line/color rows loaded into the store.
package catalog

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/lucasb-eyer/go-colorful"
	"golang.org/x/text/unicode/norm"
)

type Format string

const (
	FormatJSON Format = "json"
	FormatCSV  Format = "csv"
)

type Brand struct {
	ID   string
	Slug string
	Name string
}

type Line struct {
	ID      string
	BrandID string
	Slug    string
	Name    string
}

type Color struct {
	ID       string
	LineID   string
	Code     string
	FullCode string
	Name     string
	Hex      string
	Status   string
}

type Catalog struct {
	Brands []Brand
	Lines  []Line
	Colors []Color
	// Rows without a brand or code.
	Skipped int
}

// FormatFromPath picks the format from a file extension.
func FormatFromPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FormatJSON, nil
	case ".csv":
		return FormatCSV, nil
	}
	return "", fmt.Errorf("unsupported file type %q: use .json or .csv", filepath.Ext(path))
}

// Parse reads rows in the given format and builds the catalog.
func Parse(r io.Reader, format Format) (Catalog, error) {
	var rows []map[string]string
	var err error
	switch format {
	case FormatJSON:
		rows, err = readJSON(r)
	case FormatCSV:
		rows, err = readCSV(r)
	default:
		err = fmt.Errorf("unsupported format %q", format)
	}
	if err != nil {
		return Catalog{}, err
	}
	return build(rows), nil
}

func build(rows []map[string]string) Catalog {
	var cat Catalog
	brands := map[string]bool{}
	lines := map[string]bool{}
	colors := map[string]bool{}

	for _, r := range rows {
		brand := strings.TrimSpace(r["brand"])
		code := strings.TrimSpace(r["code"])
		if brand == "" || code == "" {
			cat.Skipped++
			continue
		}
		line := strings.TrimSpace(r["line"])

		bSlug := Slug(brand)
		lineSlug := "default"
		lineName := "Default"
		if line != "" {
			lineSlug = Slug(line)
			lineName = line
		}
		lID := bSlug + ":" + lineSlug

		if !brands[bSlug] {
			brands[bSlug] = true
			cat.Brands = append(cat.Brands, Brand{ID: bSlug, Slug: bSlug, Name: brand})
		}
		if !lines[lID] {
			lines[lID] = true
			cat.Lines = append(cat.Lines, Line{ID: lID, BrandID: bSlug, Slug: lineSlug, Name: lineName})
		}

		id := lID + ":" + code
		if colors[id] {
			continue
		}
		colors[id] = true
		cat.Colors = append(cat.Colors, Color{
			ID:       id,
			LineID:   lID,
			Code:     code,
			FullCode: BrandCode(brand) + "-" + code,
			Name:     strings.TrimSpace(r["name"]),
			Hex:      hexFor(r),
			Status:   strings.TrimSpace(r["status"]),
		})
	}
	return cat
}

var (
	nonWord    = regexp.MustCompile(`[^\w\s-]`)
	whitespace = regexp.MustCompile(`\s+`)
	dashes     = regexp.MustCompile(`-+`)
	nonAlnum   = regexp.MustCompile(`[^A-Z0-9]`)
)

// Slug lowercases s, strips accents and punctuation and joins words with
// dashes: "Satin Floss" -> "satin-floss".
func Slug(s string) string {
	s = norm.NFKD.String(strings.ToLower(s))
	s = nonWord.ReplaceAllString(s, "")
	s = whitespace.ReplaceAllString(s, "-")
	s = dashes.ReplaceAllString(s, "-")
	return strings.TrimSpace(s)
}

// BrandCode is the uppercase alphanumeric prefix used in full codes.
func BrandCode(brand string) string {
	c := nonAlnum.ReplaceAllString(strings.ToUpper(brand), "")
	if c == "" {
		return "BRAND"
	}
	return c
}

// NormalizeHex returns "#RRGGBB" for a valid hex color (with or without "#",
// 3 or 6 digits) and "" otherwise.
func NormalizeHex(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	if !strings.HasPrefix(s, "#") {
		s = "#" + s
	}
	c, err := colorful.Hex(s)
	if err != nil {
		return ""
	}
	return strings.ToUpper(c.Hex())
}

func hexFor(r map[string]string) string {
	if h := NormalizeHex(r["hex"]); h != "" {
		return h
	}
	red, okR := channel(r["red"])
	green, okG := channel(r["green"])
	blue, okB := channel(r["blue"])
	if !okR || !okG || !okB {
		return ""
	}
	return strings.ToUpper(colorful.Color{R: red, G: green, B: blue}.Hex())
}

func channel(s string) (float64, bool) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n < 0 || n > 255 {
		return 0, false
	}
	return float64(n) / 255, true
}

func readJSON(r io.Reader) ([]map[string]string, error) {
	var raw []map[string]any
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, fmt.Errorf("JSON must be an array of color objects: %w", err)
	}
	rows := make([]map[string]string, 0, len(raw))
	for _, obj := range raw {
		row := make(map[string]string, len(obj))
		for k, v := range obj {
			row[strings.ToLower(k)] = stringify(v)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		if t == math.Trunc(t) {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	}
	return ""
}

func readCSV(r io.Reader) ([]map[string]string, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	for i, h := range header {
		header[i] = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\uFEFF")))
	}

	var rows []map[string]string
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv: %w", err)
		}
		row := make(map[string]string, len(header))
		for i, h := range header {
			if i < len(rec) {
				row[h] = rec[i]
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}
