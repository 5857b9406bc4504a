// ABOUTME: Tests for JWT verification and generation
// ABOUTME: Covers claim extraction, identity fallback, expiry, and tampering

package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestVerifier(t *testing.T) *JWTVerifier {
	t.Helper()
	v, err := NewJWTVerifier([]byte("test-secret"))
	require.NoError(t, err)
	return v
}

func TestJWTVerifier_RoundTrip(t *testing.T) {
	v := newTestVerifier(t)

	token, err := v.Generate("user@example.com", "google-sub-123", time.Hour)
	require.NoError(t, err)

	claims, err := v.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "user@example.com", claims.Email)
	assert.Equal(t, "google-sub-123", claims.Subject)

	identity, err := claims.Identity()
	require.NoError(t, err)
	assert.Equal(t, "google-sub-123", identity)
}

func TestJWTVerifier_IdentityFallsBackToEmail(t *testing.T) {
	v := newTestVerifier(t)

	token, err := v.Generate("user@example.com", "", time.Hour)
	require.NoError(t, err)

	claims, err := v.Verify(token)
	require.NoError(t, err)

	identity, err := claims.Identity()
	require.NoError(t, err)
	assert.Equal(t, "user@example.com", identity)
}

func TestClaims_NoIdentity(t *testing.T) {
	claims := &Claims{}
	_, err := claims.Identity()
	assert.ErrorIs(t, err, ErrNoIdentity)
}

func TestJWTVerifier_ExpiredToken(t *testing.T) {
	v := newTestVerifier(t)

	token, err := v.Generate("user@example.com", "sub", -time.Minute)
	require.NoError(t, err)

	_, err = v.Verify(token)
	assert.ErrorIs(t, err, ErrExpiredToken)
}

func TestJWTVerifier_WrongSecret(t *testing.T) {
	v := newTestVerifier(t)
	other, err := NewJWTVerifier([]byte("other-secret"))
	require.NoError(t, err)

	token, err := other.Generate("user@example.com", "sub", time.Hour)
	require.NoError(t, err)

	_, err = v.Verify(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestJWTVerifier_RejectsNonHMAC(t *testing.T) {
	v := newTestVerifier(t)

	// alg=none tokens must never verify
	tok := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"user": "evil@example.com"})
	signed, err := tok.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = v.Verify(signed)
	assert.Error(t, err)
}

func TestJWTVerifier_MissingIdentityClaims(t *testing.T) {
	v := newTestVerifier(t)

	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"iat": time.Now().Unix(),
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	signed, err := tok.SignedString([]byte("test-secret"))
	require.NoError(t, err)

	_, err = v.Verify(signed)
	if !errors.Is(err, ErrMissingClaim) {
		t.Errorf("error = %v, want ErrMissingClaim", err)
	}
}

func TestNewJWTVerifier_EmptySecret(t *testing.T) {
	_, err := NewJWTVerifier(nil)
	assert.Error(t, err)
}
