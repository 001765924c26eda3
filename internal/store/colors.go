package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/toricodesthings/flossstock/internal/catalog"
)

const MaxColorPage = 2000

type Color struct {
	ID        string `json:"id"`
	Code      string `json:"code"`
	FullCode  string `json:"full_code,omitempty"`
	Name      string `json:"name"`
	Hex       string `json:"hex"`
	LineID    string `json:"line_id"`
	LineSlug  string `json:"line_slug"`
	LineName  string `json:"line_name"`
	BrandSlug string `json:"brand_slug"`
	BrandName string `json:"brand_name"`
}

// CodeMatch is a catalog color matched by code, with the user's quantity.
type CodeMatch struct {
	ColorID  string
	Code     string
	Name     string
	Quantity int
}

type ProjectRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// ListColors pages through the catalog, optionally filtered by code or name.
func (s *Store) ListColors(ctx context.Context, q string, limit, offset int) ([]Color, error) {
	if limit <= 0 || limit > MaxColorPage {
		limit = MaxColorPage
	}
	if offset < 0 {
		offset = 0
	}

	query := `
		SELECT
			c.id, c.code, COALESCE(c.full_code, ''), COALESCE(c.name, ''), COALESCE(c.hex, ''),
			c.line_id, l.slug, l.name, b.slug, b.name
		FROM color c
		JOIN line  l ON l.id = c.line_id
		JOIN brand b ON b.id = l.brand_id
	`
	var args []any
	if q = strings.TrimSpace(q); q != "" {
		query += ` WHERE (c.code LIKE ? OR c.name LIKE ?) `
		like := "%" + q + "%"
		args = append(args, like, like)
	}
	query += ` ORDER BY CAST(c.code AS INTEGER) ASC, c.code ASC LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list colors: %w", err)
	}
	defer rows.Close()

	out := []Color{}
	for rows.Next() {
		var c Color
		if err := rows.Scan(&c.ID, &c.Code, &c.FullCode, &c.Name, &c.Hex,
			&c.LineID, &c.LineSlug, &c.LineName, &c.BrandSlug, &c.BrandName); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// LookupCodes finds catalog colors whose code matches any of codes,
// case-insensitively, together with the user's inventory quantity.
func (s *Store) LookupCodes(ctx context.Context, userID string, codes []string) ([]CodeMatch, error) {
	if len(codes) == 0 {
		return []CodeMatch{}, nil
	}
	args := make([]any, 0, len(codes)+1)
	args = append(args, userID)
	for _, c := range codes {
		args = append(args, strings.ToUpper(c))
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.code, COALESCE(c.name, ''), i.qty
		FROM color c
		LEFT JOIN inventory i
			ON i.color_id = c.id AND i.user_id = ?
		WHERE UPPER(c.code) IN (`+placeholders(len(codes))+`)
		ORDER BY CAST(c.code AS INTEGER) ASC, c.code ASC, c.id ASC
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("lookup codes: %w", err)
	}
	defer rows.Close()

	out := []CodeMatch{}
	for rows.Next() {
		var m CodeMatch
		var qty sql.NullInt64
		if err := rows.Scan(&m.ColorID, &m.Code, &m.Name, &qty); err != nil {
			return nil, err
		}
		m.Quantity = int(qty.Int64)
		out = append(out, m)
	}
	return out, rows.Err()
}

// ColorProjects lists the user's projects that use a color.
func (s *Store) ColorProjects(ctx context.Context, userID, colorID string) ([]ProjectRef, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT p.id, p.name
		FROM project_color AS pc
		JOIN project AS p ON p.id = pc.project_id
		WHERE pc.color_id = ? AND p.user_id = ?
		ORDER BY p.created_at DESC
	`, colorID, userID)
	if err != nil {
		return nil, fmt.Errorf("color projects: %w", err)
	}
	defer rows.Close()

	out := []ProjectRef{}
	for rows.Next() {
		var p ProjectRef
		if err := rows.Scan(&p.ID, &p.Name); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// ImportCatalog upserts brands, lines and colors in one transaction.
func (s *Store) ImportCatalog(ctx context.Context, cat catalog.Catalog) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		for _, b := range cat.Brands {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO brand (id, slug, name) VALUES (?, ?, ?)
				ON CONFLICT(id) DO UPDATE SET name = excluded.name
			`, b.ID, b.Slug, b.Name); err != nil {
				return fmt.Errorf("brand %s: %w", b.ID, err)
			}
		}
		for _, l := range cat.Lines {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO line (id, brand_id, slug, name) VALUES (?, ?, ?, ?)
				ON CONFLICT(id) DO UPDATE SET name = excluded.name
			`, l.ID, l.BrandID, l.Slug, l.Name); err != nil {
				return fmt.Errorf("line %s: %w", l.ID, err)
			}
		}

		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO color (id, line_id, code, full_code, name, hex, status)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				full_code = excluded.full_code,
				name      = COALESCE(excluded.name, color.name),
				hex       = COALESCE(excluded.hex, color.hex),
				status    = COALESCE(excluded.status, color.status)
		`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, c := range cat.Colors {
			if _, err := stmt.ExecContext(ctx, c.ID, c.LineID, c.Code, c.FullCode,
				nullIfEmpty(c.Name), nullIfEmpty(c.Hex), nullIfEmpty(c.Status)); err != nil {
				return fmt.Errorf("color %s: %w", c.ID, err)
			}
		}
		return nil
	})
}
