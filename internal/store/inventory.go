package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

type InventoryItem struct {
	ID             string  `json:"id"`
	ColorID        string  `json:"color_id"`
	Qty            int     `json:"qty"`
	Notes          *string `json:"notes"`
	UpdatedAt      int64   `json:"updated_at"`
	Code           string  `json:"code"`
	Name           string  `json:"name"`
	Hex            string  `json:"hex"`
	UsedInProjects int     `json:"used_in_projects"`
}

// InventoryOp selects how a quantity is applied.
type InventoryOp string

const (
	OpSet   InventoryOp = "set"
	OpAdd   InventoryOp = "add"
	OpDelta InventoryOp = "delta"
)

// MaxQty caps every stored quantity.
const MaxQty = 1_000_000_000

func clampQty(q, lo int) int { return min(MaxQty, max(lo, q)) }

// InventoryChange is one upsert. For OpSet and OpAdd, Qty is already
// clamped to >= 0; OpDelta may be negative. The stored quantity never drops
// below zero or climbs above MaxQty. Nil Notes keeps existing notes.
type InventoryChange struct {
	ColorID string
	Op      InventoryOp
	Qty     int
	Notes   *string
}

// InventoryPatch updates quantity and/or notes of an existing row.
type InventoryPatch struct {
	Qty      *int
	SetNotes bool
	Notes    *string
}

// ListInventory lists the user's inventory with how many of the user's
// projects use each color.
func (s *Store) ListInventory(ctx context.Context, userID, q string) ([]InventoryItem, error) {
	args := []any{userID, userID}
	where := ""
	if q = strings.TrimSpace(q); q != "" {
		where = "AND (c.code LIKE ? OR c.name LIKE ?)"
		like := "%" + q + "%"
		args = append(args, like, like)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT
			i.color_id, i.qty, i.notes, i.updated_at,
			c.code, COALESCE(c.name, ''), COALESCE(c.hex, ''),
			COALESCE(pc.project_count, 0)
		FROM inventory i
		JOIN color c ON c.id = i.color_id
		LEFT JOIN (
			SELECT pc.color_id AS color_id, COUNT(*) AS project_count
			FROM project_color pc
			JOIN project p ON p.id = pc.project_id
			WHERE p.user_id = ?
			GROUP BY pc.color_id
		) pc ON pc.color_id = i.color_id
		WHERE i.user_id = ?
		`+where+`
		ORDER BY CAST(c.code AS INTEGER) ASC, c.code ASC
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("list inventory: %w", err)
	}
	defer rows.Close()

	out := []InventoryItem{}
	for rows.Next() {
		var it InventoryItem
		var notes sql.NullString
		if err := rows.Scan(&it.ColorID, &it.Qty, &notes, &it.UpdatedAt,
			&it.Code, &it.Name, &it.Hex, &it.UsedInProjects); err != nil {
			return nil, err
		}
		it.ID = it.ColorID
		it.Notes = ptr(notes)
		out = append(out, it)
	}
	return out, rows.Err()
}

// ApplyInventory applies a batch of changes atomically.
func (s *Store) ApplyInventory(ctx context.Context, userID string, changes []InventoryChange) error {
	now := s.unix()
	return s.inTx(ctx, func(tx *sql.Tx) error {
		for _, ch := range changes {
			var err error
			switch ch.Op {
			case OpDelta:
				_, err = tx.ExecContext(ctx, `
					INSERT INTO inventory (user_id, color_id, qty, notes, updated_at)
					VALUES (?, ?, ?, ?, ?)
					ON CONFLICT(user_id, color_id) DO UPDATE SET
						qty        = MIN(?, MAX(0, inventory.qty + ?)),
						notes      = COALESCE(excluded.notes, inventory.notes),
						updated_at = excluded.updated_at
				`, userID, ch.ColorID, clampQty(ch.Qty, 0), nullable(ch.Notes), now,
					MaxQty, clampQty(ch.Qty, -MaxQty))
			case OpAdd:
				_, err = tx.ExecContext(ctx, `
					INSERT INTO inventory (user_id, color_id, qty, notes, updated_at)
					VALUES (?, ?, ?, ?, ?)
					ON CONFLICT(user_id, color_id) DO UPDATE SET
						qty        = MIN(?, inventory.qty + excluded.qty),
						notes      = COALESCE(excluded.notes, inventory.notes),
						updated_at = excluded.updated_at
				`, userID, ch.ColorID, clampQty(ch.Qty, 0), nullable(ch.Notes), now, MaxQty)
			default:
				_, err = tx.ExecContext(ctx, `
					INSERT INTO inventory (user_id, color_id, qty, notes, updated_at)
					VALUES (?, ?, ?, ?, ?)
					ON CONFLICT(user_id, color_id) DO UPDATE SET
						qty        = excluded.qty,
						notes      = COALESCE(excluded.notes, inventory.notes),
						updated_at = excluded.updated_at
				`, userID, ch.ColorID, clampQty(ch.Qty, 0), nullable(ch.Notes), now)
			}
			if err != nil {
				return fmt.Errorf("inventory %s: %w", ch.ColorID, colorErr(err, ch.ColorID))
			}
		}
		return nil
	})
}

// InventoryItem returns one row joined with its color.
func (s *Store) InventoryItem(ctx context.Context, userID, colorID string) (InventoryItem, error) {
	var it InventoryItem
	var notes sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT i.color_id, i.qty, i.notes, i.updated_at,
		       c.code, COALESCE(c.name, ''), COALESCE(c.hex, '')
		FROM inventory i
		JOIN color c ON c.id = i.color_id
		WHERE i.user_id = ? AND i.color_id = ?
	`, userID, colorID).Scan(&it.ColorID, &it.Qty, &notes, &it.UpdatedAt, &it.Code, &it.Name, &it.Hex)
	if errors.Is(err, sql.ErrNoRows) {
		return InventoryItem{}, ErrNotFound
	}
	if err != nil {
		return InventoryItem{}, err
	}
	it.ID = it.ColorID
	it.Notes = ptr(notes)
	return it, nil
}

// PatchInventory updates an existing row. ErrNotFound when the user has no
// row for the color.
func (s *Store) PatchInventory(ctx context.Context, userID, colorID string, p InventoryPatch) error {
	sets := []string{}
	args := []any{}
	if p.Qty != nil {
		sets = append(sets, "qty = ?")
		args = append(args, clampQty(*p.Qty, 0))
	}
	if p.SetNotes {
		sets = append(sets, "notes = ?")
		args = append(args, nullable(p.Notes))
	}
	sets = append(sets, "updated_at = ?")
	args = append(args, s.unix(), userID, colorID)

	res, err := s.db.ExecContext(ctx,
		`UPDATE inventory SET `+strings.Join(sets, ", ")+` WHERE user_id = ? AND color_id = ?`, args...)
	if err != nil {
		return fmt.Errorf("patch inventory: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) DeleteInventory(ctx context.Context, userID, colorID string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM inventory WHERE user_id = ? AND color_id = ?`, userID, colorID)
	if err != nil {
		return fmt.Errorf("delete inventory: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
