// ABOUTME: JWT token verification for authenticating clients and agents
// ABOUTME: Uses HS256 signing with configurable secret

package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Token errors
var (
	ErrInvalidToken  = errors.New("invalid token")
	ErrExpiredToken  = errors.New("token expired")
	ErrMissingClaim  = errors.New("missing required claim")
	ErrNoIdentity    = errors.New("token carries no usable identity")
)

// Claims is the verified content of a gateway token.
//
// Subject is the stable identity from the upstream identity provider
// (Google "sub" for OAuth logins). Email is the human-readable account.
// Tokens minted before subjects were recorded may carry only an email.
type Claims struct {
	Email   string
	Subject string
}

// Identity returns the stable agent identity for these claims: the
// provider subject when present, otherwise the email. Returns
// ErrNoIdentity when neither exists.
func (c *Claims) Identity() (string, error) {
	if c.Subject != "" {
		return c.Subject, nil
	}
	if c.Email != "" {
		return c.Email, nil
	}
	return "", ErrNoIdentity
}

// TokenVerifier defines the interface for bearer credential verification
type TokenVerifier interface {
	Verify(tokenString string) (*Claims, error)
}

// JWTVerifier implements TokenVerifier using HS256 signed JWTs
type JWTVerifier struct {
	secret []byte
}

// NewJWTVerifier creates a new JWT verifier with the given secret
func NewJWTVerifier(secret []byte) (*JWTVerifier, error) {
	if len(secret) == 0 {
		return nil, errors.New("jwt secret must not be empty")
	}
	return &JWTVerifier{secret: secret}, nil
}

// Verify validates the token and extracts the identity claims.
// The claim names ("user", "g_uid") match what the login endpoint mints,
// so agents and web clients share one token format.
func (v *JWTVerifier) Verify(tokenString string) (*Claims, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	})

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if !token.Valid {
		return nil, ErrInvalidToken
	}

	mapClaims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, ErrInvalidToken
	}

	claims := &Claims{}
	if email, ok := mapClaims["user"].(string); ok {
		claims.Email = email
	}
	if sub, ok := mapClaims["g_uid"].(string); ok {
		claims.Subject = sub
	}

	if claims.Email == "" && claims.Subject == "" {
		return nil, fmt.Errorf("%w: user/g_uid", ErrMissingClaim)
	}

	return claims, nil
}

// Generate creates a new JWT token for the given identity with expiration
func (v *JWTVerifier) Generate(email, subject string, expiresIn time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"user":  email,
		"g_uid": subject,
		"iat":   now.Unix(),
		"exp":   now.Add(expiresIn).Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(v.secret)
}
