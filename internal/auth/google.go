// ABOUTME: Google credential exchange for the login endpoint
// ABOUTME: Verifies ID or access tokens via the tokeninfo endpoint and mints gateway JWTs

package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Login errors
var (
	ErrGoogleTokenInvalid = errors.New("google token could not be verified")
	ErrEmailNotAllowed    = errors.New("account is not on the allowed list")
)

const defaultTokeninfoURL = "https://www.googleapis.com/oauth2/v3/tokeninfo"

// GoogleChecker verifies an upstream Google credential and yields the
// account email and stable subject.
type GoogleChecker interface {
	Check(ctx context.Context, credential string) (email, subject string, err error)
}

// TokeninfoChecker verifies Google credentials against the tokeninfo
// endpoint. Web clients send ID tokens; the mobile app sends access
// tokens, so both forms are attempted.
type TokeninfoChecker struct {
	Client  *http.Client
	BaseURL string
}

// NewTokeninfoChecker returns a checker with a bounded request timeout.
func NewTokeninfoChecker() *TokeninfoChecker {
	return &TokeninfoChecker{
		Client:  &http.Client{Timeout: 10 * time.Second},
		BaseURL: defaultTokeninfoURL,
	}
}

type tokeninfoResponse struct {
	Email            string `json:"email"`
	Sub              string `json:"sub"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

// Check attempts verification first as an ID token, then as an access token.
func (c *TokeninfoChecker) Check(ctx context.Context, credential string) (string, string, error) {
	for _, param := range []string{"id_token", "access_token"} {
		info, err := c.query(ctx, param, credential)
		if err != nil {
			continue
		}
		if info.Error == "" && info.Email != "" {
			return info.Email, info.Sub, nil
		}
	}
	return "", "", ErrGoogleTokenInvalid
}

func (c *TokeninfoChecker) query(ctx context.Context, param, credential string) (*tokeninfoResponse, error) {
	u := c.BaseURL + "?" + url.Values{param: {credential}}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var info tokeninfoResponse
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("decoding tokeninfo response: %w", err)
	}
	return &info, nil
}

// LoginService exchanges upstream Google credentials for gateway tokens.
type LoginService struct {
	Verifier      *JWTVerifier
	Google        GoogleChecker
	AllowedEmails []string
	DevBypass     bool
	TokenTTL      time.Duration
}

// LoginResult is the outcome of a successful credential exchange.
type LoginResult struct {
	Token string
	Email string
}

// Login verifies a Google credential, enforces the allowlist, and mints a
// gateway JWT carrying the account email and provider subject.
//
// Credentials prefixed with "DEV_BYPASS" skip Google verification when the
// dev_bypass config flag is set. "DEV_BYPASS:someone@example.com" logs in
// as that address.
func (s *LoginService) Login(ctx context.Context, credential string) (*LoginResult, error) {
	if credential == "" {
		return nil, ErrGoogleTokenInvalid
	}

	var email, subject string
	if s.DevBypass && strings.HasPrefix(credential, "DEV_BYPASS") {
		email = "developer@drivenet.local"
		if _, addr, ok := strings.Cut(credential, ":"); ok && addr != "" {
			email = addr
		}
		subject = email
	} else {
		var err error
		email, subject, err = s.Google.Check(ctx, credential)
		if err != nil {
			return nil, err
		}
	}

	if !s.emailAllowed(email) {
		return nil, ErrEmailNotAllowed
	}

	if subject == "" {
		subject = email
	}

	token, err := s.Verifier.Generate(email, subject, s.TokenTTL)
	if err != nil {
		return nil, fmt.Errorf("minting token: %w", err)
	}

	return &LoginResult{Token: token, Email: email}, nil
}

// emailAllowed reports whether the address passes the allowlist.
// An empty allowlist admits everyone.
func (s *LoginService) emailAllowed(email string) bool {
	if len(s.AllowedEmails) == 0 {
		return true
	}
	for _, allowed := range s.AllowedEmails {
		if strings.EqualFold(strings.TrimSpace(allowed), email) {
			return true
		}
	}
	return false
}
