package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// Session is a login session. Expiry times are unix seconds.
type Session struct {
	ID            string `json:"id"`
	UserID        string `json:"userId"`
	ActiveExpires int64  `json:"activeExpires"`
	IdleExpires   int64  `json:"idleExpires"`
}

func (s *Store) CreateSession(ctx context.Context, sess Session) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO session (id, user_id, active_expires, idle_expires) VALUES (?, ?, ?, ?)`,
		sess.ID, sess.UserID, sess.ActiveExpires, sess.IdleExpires)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

func (s *Store) SessionByID(ctx context.Context, id string) (Session, error) {
	var sess Session
	err := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, active_expires, idle_expires FROM session WHERE id = ?`, id).
		Scan(&sess.ID, &sess.UserID, &sess.ActiveExpires, &sess.IdleExpires)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, ErrNotFound
	}
	return sess, err
}

func (s *Store) ExtendSession(ctx context.Context, id string, activeExpires, idleExpires int64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE session SET active_expires = ?, idle_expires = ? WHERE id = ?`,
		activeExpires, idleExpires, id)
	if err != nil {
		return fmt.Errorf("extend session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) DeleteSession(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM session WHERE id = ?`, id)
	return err
}

// DeleteUserSessions removes every session of a user except keepID.
func (s *Store) DeleteUserSessions(ctx context.Context, userID, keepID string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM session WHERE user_id = ? AND id != ?`, userID, keepID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// DeleteExpiredSessions removes sessions whose idle period ended before now.
func (s *Store) DeleteExpiredSessions(ctx context.Context, now int64) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM session WHERE idle_expires <= ?`, now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
