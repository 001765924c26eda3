package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

type User struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	Username  string `json:"username,omitempty"`
	AvatarURL string `json:"avatarUrl,omitempty"`
	AvatarKey string `json:"avatarKey,omitempty"`
	CreatedAt int64  `json:"created_at"`
}

// NormalizeEmail trims and lowercases an email address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func passwordKeyID(email string) string {
	return "email:" + email
}

const userColumns = `id, email, COALESCE(username, ''), COALESCE(avatar_url, ''), COALESCE(avatar_key, ''), created_at`

func scanUser(row *sql.Row) (User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Email, &u.Username, &u.AvatarURL, &u.AvatarKey, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	return u, err
}

// CreateUser inserts a new user. An existing email yields ErrConflict.
func (s *Store) CreateUser(ctx context.Context, email string) (User, error) {
	u := User{ID: uuid.NewString(), Email: NormalizeEmail(email), CreatedAt: s.unix()}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO user (id, email, created_at) VALUES (?, ?, ?)`,
		u.ID, u.Email, u.CreatedAt)
	if isConstraint(err, "UNIQUE") {
		return User{}, fmt.Errorf("%w: email already registered", ErrConflict)
	}
	if err != nil {
		return User{}, fmt.Errorf("insert user: %w", err)
	}
	return u, nil
}

// EnsureUser returns the user with the given email, creating it if needed.
func (s *Store) EnsureUser(ctx context.Context, email string) (User, error) {
	email = NormalizeEmail(email)
	u, err := s.UserByEmail(ctx, email)
	if err == nil {
		return u, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return User{}, err
	}

	u = User{ID: uuid.NewString(), Email: email, CreatedAt: s.unix()}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO user (id, email, created_at) VALUES (?, ?, ?)`,
		u.ID, u.Email, u.CreatedAt)
	if isConstraint(err, "UNIQUE") {
		return s.UserByEmail(ctx, email)
	}
	if err != nil {
		return User{}, fmt.Errorf("insert user: %w", err)
	}
	return u, nil
}

func (s *Store) UserByEmail(ctx context.Context, email string) (User, error) {
	return scanUser(s.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM user WHERE email = ? LIMIT 1`, NormalizeEmail(email)))
}

func (s *Store) UserByID(ctx context.Context, id string) (User, error) {
	return scanUser(s.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM user WHERE id = ?`, id))
}

// SetPasswordHash sets or replaces the password hash for the user's email key.
func (s *Store) SetPasswordHash(ctx context.Context, userID, email, hash string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO user_key (id, user_id, hashed_password)
		VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			user_id = excluded.user_id,
			hashed_password = excluded.hashed_password
	`, passwordKeyID(NormalizeEmail(email)), userID, hash)
	if err != nil {
		return fmt.Errorf("set password: %w", err)
	}
	return nil
}

// PasswordHash returns the user id and stored hash for an email.
func (s *Store) PasswordHash(ctx context.Context, email string) (userID, hash string, err error) {
	var h sql.NullString
	err = s.db.QueryRowContext(ctx, `
		SELECT u.id, uk.hashed_password
		FROM user u
		JOIN user_key uk ON uk.user_id = u.id
		WHERE u.email = ?
		LIMIT 1
	`, NormalizeEmail(email)).Scan(&userID, &h)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && !h.Valid) {
		return "", "", ErrNotFound
	}
	if err != nil {
		return "", "", err
	}
	return userID, h.String, nil
}

// UpdateProfile sets username and avatar URL; empty values clear them.
// A username held by another user yields ErrConflict.
func (s *Store) UpdateProfile(ctx context.Context, userID, username, avatarURL string) error {
	if username != "" {
		var other string
		err := s.db.QueryRowContext(ctx,
			`SELECT id FROM user WHERE username = ? AND id != ? LIMIT 1`, username, userID).Scan(&other)
		if err == nil {
			return fmt.Errorf("%w: username taken", ErrConflict)
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return err
		}
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE user SET username = ?, avatar_url = ? WHERE id = ?`,
		nullIfEmpty(username), nullIfEmpty(avatarURL), userID)
	if isConstraint(err, "UNIQUE") {
		return fmt.Errorf("%w: username taken", ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("update profile: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// SetAvatarKey stores a new avatar object key and returns the previous one.
func (s *Store) SetAvatarKey(ctx context.Context, userID, key string) (string, error) {
	var prev string
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx,
			`SELECT COALESCE(avatar_key, '') FROM user WHERE id = ?`, userID).Scan(&prev)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `UPDATE user SET avatar_key = ? WHERE id = ?`, key, userID)
		return err
	})
	return prev, err
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
