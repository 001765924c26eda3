// Package auth hashes passwords, manages cookie sessions and carries the
// per-request authentication context.
package auth

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/toricodesthings/flossstock/internal/store"
)

// Context is the authentication state of one request. User and Session are
// nil for anonymous requests.
type Context struct {
	User    *store.User
	Session *store.Session
	Fresh   bool
}

func (c Context) SignedIn() bool {
	return c.User != nil
}

// UserID returns the signed-in user's id, or "".
func (c Context) UserID() string {
	if c.User == nil {
		return ""
	}
	return c.User.ID
}

// GravatarURL returns the identicon Gravatar URL for email.
func GravatarURL(email string, size int) string {
	if size <= 0 {
		size = 64
	}
	sum := md5.Sum([]byte(strings.ToLower(strings.TrimSpace(email))))
	return fmt.Sprintf("https://www.gravatar.com/avatar/%s?s=%d&d=identicon", hex.EncodeToString(sum[:]), size)
}
