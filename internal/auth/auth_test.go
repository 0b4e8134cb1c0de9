package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gatepass/backend/internal/store"
)

func TestPasswordHashRoundTrip(t *testing.T) {
	hash, err := HashPassword("hunter2-but-longer")
	require.NoError(t, err)
	assert.NotEqual(t, "hunter2-but-longer", hash)
	assert.True(t, CheckPassword(hash, "hunter2-but-longer"))
	assert.False(t, CheckPassword(hash, "hunter2-but-wrong"))
	assert.False(t, CheckPassword("not-a-hash", "hunter2-but-longer"))
}

func TestSessionRoundTrip(t *testing.T) {
	s := NewSessions("session-secret", time.Hour)
	u := &store.User{ID: 42, Role: store.RoleGuard}

	tok, err := s.Mint(u)
	require.NoError(t, err)

	id, role, err := s.Parse(tok)
	require.NoError(t, err)
	assert.Equal(t, uint64(42), id)
	assert.Equal(t, store.RoleGuard, role)
}

func TestSessionExpiry(t *testing.T) {
	s := NewSessions("session-secret", time.Hour)
	// Mint a session whose lifetime already ended.
	s.SetClock(func() time.Time { return time.Now().Add(-2 * time.Hour) })

	tok, err := s.Mint(&store.User{ID: 7, Role: store.RoleStudent})
	require.NoError(t, err)

	_, _, err = s.Parse(tok)
	assert.ErrorIs(t, err, ErrBadToken)
}

func TestSessionRejectsForeignSecret(t *testing.T) {
	issuer := NewSessions("secret-a", time.Hour)
	verifier := NewSessions("secret-b", time.Hour)

	tok, err := issuer.Mint(&store.User{ID: 7, Role: store.RoleAdmin})
	require.NoError(t, err)

	_, _, err = verifier.Parse(tok)
	assert.ErrorIs(t, err, ErrBadToken)
}

func TestSessionRejectsGarbage(t *testing.T) {
	s := NewSessions("session-secret", time.Hour)
	for _, raw := range []string{"", "x", "a.b.c", "eyJhbGciOiJub25lIn0.e30."} {
		_, _, err := s.Parse(raw)
		assert.ErrorIs(t, err, ErrBadToken, raw)
	}
}
