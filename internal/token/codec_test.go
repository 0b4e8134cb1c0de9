package token

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMintAndParseRoundTrip(t *testing.T) {
	codec := NewCodec("unit-test-secret")
	expiry := time.Now().Add(15 * time.Minute).Unix()

	tok := codec.Mint(42, 7, expiry)

	claims, err := codec.Parse(tok)
	require.NoError(t, err)
	assert.Equal(t, uint64(42), claims.PassID)
	assert.Equal(t, uint64(7), claims.SubjectID)
	assert.Equal(t, expiry, claims.Expiry)
	assert.Len(t, claims.Sig, SigLen)
	assert.True(t, codec.Verify(claims))
}

func TestParseRejectsMalformed(t *testing.T) {
	codec := NewCodec("unit-test-secret")
	sig := strings.Repeat("a", SigLen)

	cases := []struct {
		name  string
		token string
	}{
		{"empty", ""},
		{"three fields", "1.2.3"},
		{"five fields", "1.2.3.4." + sig},
		{"non-decimal pass id", "x.2.3." + sig},
		{"non-decimal subject id", "1.x.3." + sig},
		{"non-decimal expiry", "1.2.x." + sig},
		{"negative pass id", "-1.2.3." + sig},
		{"leading zero", "01.2.3." + sig},
		{"short signature", "1.2.3." + sig[:SigLen-1]},
		{"long signature", "1.2.3." + sig + "a"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := codec.Parse(tc.token)
			assert.ErrorIs(t, err, ErrMalformed)
		})
	}
}

func TestParseAcceptsZeroIDs(t *testing.T) {
	codec := NewCodec("unit-test-secret")
	claims, err := codec.Parse("0.0.0." + strings.Repeat("f", SigLen))
	require.NoError(t, err)
	assert.Equal(t, uint64(0), claims.PassID)
	assert.Equal(t, uint64(0), claims.SubjectID)
}

func TestVerifyRejectsTamperedFields(t *testing.T) {
	codec := NewCodec("unit-test-secret")
	tok := codec.Mint(100, 7, 1700000000)

	claims, err := codec.Parse(tok)
	require.NoError(t, err)
	require.True(t, codec.Verify(claims))

	tampered := claims
	tampered.PassID++
	assert.False(t, codec.Verify(tampered))

	tampered = claims
	tampered.SubjectID++
	assert.False(t, codec.Verify(tampered))

	tampered = claims
	tampered.Expiry += 3600
	assert.False(t, codec.Verify(tampered))
}

func TestVerifyRejectsForeignSecret(t *testing.T) {
	issuer := NewCodec("issuer-secret")
	verifier := NewCodec("other-secret")

	claims, err := verifier.Parse(issuer.Mint(1, 2, 1700000000))
	require.NoError(t, err)
	assert.False(t, verifier.Verify(claims))
}

func TestSharedSecretVerifierAccepts(t *testing.T) {
	// Issuer and verifier are separate codec values holding the same
	// secret, mirroring a split deployment.
	issuer := NewCodec("shared")
	verifier := NewCodec("shared")

	claims, err := verifier.Parse(issuer.Mint(9, 3, 1900000000))
	require.NoError(t, err)
	assert.True(t, verifier.Verify(claims))
}
