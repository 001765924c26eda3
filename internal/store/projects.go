package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

type Project struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	Name      string `json:"name"`
	PDFName   string `json:"pdf_name"`
	PDFSize   int64  `json:"pdf_size"`
	PDFPath   string `json:"pdf_path"`
	CreatedAt int64  `json:"created_at"`
}

type ProjectColor struct {
	ColorID  string `json:"color_id"`
	Code     string `json:"code"`
	Name     string `json:"name"`
	Hex      string `json:"hex"`
	Quantity int    `json:"quantity"`
}

const projectColumns = `id, user_id, name, COALESCE(pdf_name, ''), pdf_size, COALESCE(pdf_path, ''), created_at`

func scanProject(sc interface{ Scan(...any) error }) (Project, error) {
	var p Project
	err := sc.Scan(&p.ID, &p.UserID, &p.Name, &p.PDFName, &p.PDFSize, &p.PDFPath, &p.CreatedAt)
	return p, err
}

func (s *Store) ListProjects(ctx context.Context, userID string) ([]Project, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+projectColumns+` FROM project WHERE user_id = ? ORDER BY created_at DESC, id ASC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()

	out := []Project{}
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// CreateProject inserts p, filling CreatedAt when zero.
func (s *Store) CreateProject(ctx context.Context, p *Project) error {
	if p.CreatedAt == 0 {
		p.CreatedAt = s.unix()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO project (id, user_id, name, pdf_name, pdf_size, pdf_path, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, p.ID, p.UserID, p.Name, p.PDFName, p.PDFSize, p.PDFPath, p.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert project: %w", err)
	}
	return nil
}

// ProjectByID returns a project regardless of owner; callers check UserID.
func (s *Store) ProjectByID(ctx context.Context, id string) (Project, error) {
	p, err := scanProject(s.db.QueryRowContext(ctx,
		`SELECT `+projectColumns+` FROM project WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Project{}, ErrNotFound
	}
	return p, err
}

// DeleteProject removes the project and its color links.
func (s *Store) DeleteProject(ctx context.Context, userID, id string) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM project_color WHERE project_id = ?`, id); err != nil {
			return fmt.Errorf("delete project colors: %w", err)
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM project WHERE id = ? AND user_id = ?`, id, userID)
		if err != nil {
			return fmt.Errorf("delete project: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// ProjectColors lists a project's colors with the user's quantities.
func (s *Store) ProjectColors(ctx context.Context, userID, projectID string) ([]ProjectColor, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT pc.color_id, c.code, COALESCE(c.name, ''), COALESCE(c.hex, ''), COALESCE(i.qty, 0)
		FROM project_color pc
		JOIN color c ON c.id = pc.color_id
		LEFT JOIN inventory i
			ON i.color_id = pc.color_id AND i.user_id = ?
		WHERE pc.project_id = ?
		ORDER BY CAST(c.code AS INTEGER) ASC, c.code ASC
	`, userID, projectID)
	if err != nil {
		return nil, fmt.Errorf("project colors: %w", err)
	}
	defer rows.Close()

	out := []ProjectColor{}
	for rows.Next() {
		var pc ProjectColor
		if err := rows.Scan(&pc.ColorID, &pc.Code, &pc.Name, &pc.Hex, &pc.Quantity); err != nil {
			return nil, err
		}
		out = append(out, pc)
	}
	return out, rows.Err()
}

// AddProjectColors links colors to a project, ignoring existing links.
func (s *Store) AddProjectColors(ctx context.Context, projectID string, colorIDs []string) error {
	now := s.unix()
	return s.inTx(ctx, func(tx *sql.Tx) error {
		for _, id := range colorIDs {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO project_color (project_id, color_id, created_at)
				VALUES (?, ?, ?)
				ON CONFLICT(project_id, color_id) DO NOTHING
			`, projectID, id, now)
			if err != nil {
				return fmt.Errorf("project color %s: %w", id, colorErr(err, id))
			}
		}
		return nil
	})
}

func (s *Store) RemoveProjectColor(ctx context.Context, projectID, colorID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM project_color WHERE project_id = ? AND color_id = ?`, projectID, colorID)
	return err
}

// Stash returns the user's saved code list.
func (s *Store) Stash(ctx context.Context, userID string) ([]string, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT codes FROM stash WHERE user_id = ?`, userID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return []string{}, nil
	}
	if err != nil {
		return nil, err
	}
	codes := []string{}
	if err := json.Unmarshal([]byte(raw), &codes); err != nil {
		return nil, fmt.Errorf("decode stash: %w", err)
	}
	return codes, nil
}

func (s *Store) SetStash(ctx context.Context, userID string, codes []string) error {
	if codes == nil {
		codes = []string{}
	}
	b, err := json.Marshal(codes)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO stash (user_id, codes) VALUES (?, ?)
		ON CONFLICT(user_id) DO UPDATE SET codes = excluded.codes
	`, userID, string(b))
	return err
}
