// Package auth issues and validates bearer sessions. Passwords are
// bcrypt-hashed; sessions are HS256 JWTs carrying the principal id and
// role.
package auth

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"golang.org/x/crypto/bcrypt"

	"github.com/gatepass/backend/internal/store"
)

var (
	// ErrBadCredentials reports a wrong email/password pair.
	ErrBadCredentials = errors.New("auth: bad credentials")
	// ErrBadToken reports an unparsable, unsigned, or expired session.
	ErrBadToken = errors.New("auth: bad token")
)

// Claims is the session payload.
type Claims struct {
	Role store.Role `json:"role"`
	jwt.RegisteredClaims
}

// Sessions mints and parses bearer tokens.
type Sessions struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewSessions(secret string, ttl time.Duration) *Sessions {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Sessions{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// SetClock overrides the session clock. Tests only.
func (s *Sessions) SetClock(now func() time.Time) { s.now = now }

// HashPassword returns the bcrypt hash for storage.
func HashPassword(plain string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(plain), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(h), nil
}

// CheckPassword compares a candidate against the stored hash.
func CheckPassword(hash, plain string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain)) == nil
}

// Mint signs a session for u.
func (s *Sessions) Mint(u *store.User) (string, error) {
	now := s.now()
	claims := Claims{
		Role: u.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatUint(u.ID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// Parse validates a session and returns the principal id and role.
func (s *Sessions) Parse(raw string) (uint64, store.Role, error) {
	claims := &Claims{}
	tok, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil || !tok.Valid {
		return 0, "", ErrBadToken
	}
	id, err := strconv.ParseUint(claims.Subject, 10, 64)
	if err != nil {
		return 0, "", ErrBadToken
	}
	return id, claims.Role, nil
}

// TTL returns the configured session lifetime.
func (s *Sessions) TTL() time.Duration { return s.ttl }
