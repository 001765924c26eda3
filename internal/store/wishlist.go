package store

import (
	"context"
	"database/sql"
	"fmt"
)

type WishlistItem struct {
	ColorID    string  `json:"color_id"`
	DesiredQty int     `json:"desired_qty"`
	Notes      *string `json:"notes"`
	CreatedAt  int64   `json:"created_at"`
	Code       string  `json:"code"`
	Name       string  `json:"name"`
	Hex        string  `json:"hex"`
}

type WishlistAdd struct {
	ColorID    string
	DesiredQty int
	Notes      *string
}

func (s *Store) ListWishlist(ctx context.Context, userID string) ([]WishlistItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT w.color_id, w.desired_qty, w.notes, w.created_at,
		       c.code, COALESCE(c.name, ''), COALESCE(c.hex, '')
		FROM wishlist w
		JOIN color c ON c.id = w.color_id
		WHERE w.user_id = ?
		ORDER BY CAST(c.code AS INTEGER) ASC, c.code ASC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list wishlist: %w", err)
	}
	defer rows.Close()

	out := []WishlistItem{}
	for rows.Next() {
		var w WishlistItem
		var notes sql.NullString
		if err := rows.Scan(&w.ColorID, &w.DesiredQty, &notes, &w.CreatedAt, &w.Code, &w.Name, &w.Hex); err != nil {
			return nil, err
		}
		w.Notes = ptr(notes)
		out = append(out, w)
	}
	return out, rows.Err()
}

// AddWishlist adds entries; an existing entry accumulates the desired
// quantity up to MaxQty. Quantities below 1 count as 1.
func (s *Store) AddWishlist(ctx context.Context, userID string, items []WishlistAdd) error {
	now := s.unix()
	return s.inTx(ctx, func(tx *sql.Tx) error {
		for _, it := range items {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO wishlist (user_id, color_id, desired_qty, notes, created_at)
				VALUES (?, ?, ?, ?, ?)
				ON CONFLICT(user_id, color_id) DO UPDATE SET
					desired_qty = MIN(?, wishlist.desired_qty + excluded.desired_qty),
					notes       = COALESCE(excluded.notes, wishlist.notes)
			`, userID, it.ColorID, clampQty(it.DesiredQty, 1), nullable(it.Notes), now, MaxQty)
			if err != nil {
				return fmt.Errorf("wishlist %s: %w", it.ColorID, colorErr(err, it.ColorID))
			}
		}
		return nil
	})
}

func (s *Store) DeleteWishlist(ctx context.Context, userID, colorID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM wishlist WHERE user_id = ? AND color_id = ?`, userID, colorID)
	if err != nil {
		return fmt.Errorf("delete wishlist: %w", err)
	}
	return nil
}
