package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/crypto/scrypt"
)

const (
	scryptN      = 16384
	scryptR      = 8
	scryptP      = 1
	scryptKeyLen = 32
	saltLen      = 16

	// upper bounds on parameters accepted from stored hashes
	maxScryptN = 1 << 20
	maxScryptR = 32
	maxScryptP = 16
)

var (
	ErrMalformedHash = errors.New("malformed password hash")

	legacyParams = regexp.MustCompile(`^N=(\d+),r=(\d+),p=(\d+)$`)
)

type hashParams struct {
	n, r, p  int
	salt     []byte
	expected []byte
}

// HashPassword derives a new hash in "scrypt:N,r,p:salt_b64:hash_b64" form.
func HashPassword(password string) (string, error) {
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("salt: %w", err)
	}
	dk, err := scrypt.Key([]byte(password), salt, scryptN, scryptR, scryptP, scryptKeyLen)
	if err != nil {
		return "", fmt.Errorf("derive key: %w", err)
	}
	return fmt.Sprintf("scrypt:%d,%d,%d:%s:%s", scryptN, scryptR, scryptP,
		base64.StdEncoding.EncodeToString(salt),
		base64.StdEncoding.EncodeToString(dk)), nil
}

// VerifyPassword checks password against a stored hash in the current or
// the legacy "$scrypt$N=..,r=..,p=..$salt$hash" format. Any malformed hash
// verifies as false.
func VerifyPassword(password, stored string) bool {
	hp, err := parseHash(stored)
	if err != nil {
		return false
	}
	dk, err := scrypt.Key([]byte(password), hp.salt, hp.n, hp.r, hp.p, len(hp.expected))
	if err != nil {
		return false
	}
	return subtle.ConstantTimeCompare(dk, hp.expected) == 1
}

// NeedsRehash reports whether stored is not in the current format.
func NeedsRehash(stored string) bool {
	return !strings.HasPrefix(stored, "scrypt:")
}

func parseHash(stored string) (hashParams, error) {
	switch {
	case strings.HasPrefix(stored, "scrypt:"):
		parts := strings.Split(stored, ":")
		if len(parts) != 4 {
			return hashParams{}, ErrMalformedHash
		}
		nums := strings.Split(parts[1], ",")
		if len(nums) != 3 {
			return hashParams{}, ErrMalformedHash
		}
		return decodeParams(nums[0], nums[1], nums[2], parts[2], parts[3])

	case strings.HasPrefix(stored, "$scrypt$"):
		parts := strings.Split(stored, "$")
		if len(parts) < 5 {
			return hashParams{}, ErrMalformedHash
		}
		m := legacyParams.FindStringSubmatch(parts[2])
		if m == nil {
			return hashParams{}, ErrMalformedHash
		}
		return decodeParams(m[1], m[2], m[3], parts[3], parts[4])
	}
	return hashParams{}, ErrMalformedHash
}

func decodeParams(ns, rs, ps, saltB64, hashB64 string) (hashParams, error) {
	var hp hashParams
	var err error
	if hp.n, err = strconv.Atoi(ns); err != nil {
		return hp, ErrMalformedHash
	}
	if hp.r, err = strconv.Atoi(rs); err != nil {
		return hp, ErrMalformedHash
	}
	if hp.p, err = strconv.Atoi(ps); err != nil {
		return hp, ErrMalformedHash
	}
	if hp.n <= 1 || hp.n > maxScryptN || hp.r <= 0 || hp.r > maxScryptR || hp.p <= 0 || hp.p > maxScryptP {
		return hp, ErrMalformedHash
	}
	if hp.salt, err = base64.StdEncoding.DecodeString(saltB64); err != nil {
		return hp, ErrMalformedHash
	}
	if hp.expected, err = base64.StdEncoding.DecodeString(hashB64); err != nil || len(hp.expected) == 0 {
		return hp, ErrMalformedHash
	}
	return hp, nil
}
