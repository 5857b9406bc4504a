// ABOUTME: HTTP middleware for JWT authentication on API endpoints
// ABOUTME: Extracts bearer tokens from the Authorization header or token query param

package auth

import (
	"net/http"
	"strings"
)

// extractBearerToken extracts a bearer token from the Authorization header.
// Returns the token and an error message (empty if successful).
func extractBearerToken(authHeader string) (string, string) {
	if authHeader == "" {
		return "", "missing authorization header"
	}
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", "invalid authorization header format"
	}
	token := strings.TrimPrefix(authHeader, "Bearer ")
	if token == "" {
		return "", "empty token"
	}
	return token, ""
}

// requestToken returns the credential for a request. Browser-initiated
// download links cannot set headers, so a token query parameter is
// accepted as a fallback.
func requestToken(r *http.Request) (string, string) {
	token, errMsg := extractBearerToken(r.Header.Get("Authorization"))
	if errMsg == "" {
		return token, ""
	}
	if qt := r.URL.Query().Get("token"); qt != "" {
		return qt, ""
	}
	return "", errMsg
}

// HTTPAuthMiddleware creates an HTTP middleware that extracts and validates
// bearer tokens. The verified identity is attached to the request context
// using the same WithAuth/FromContext pattern as the tunnel acceptor so
// every layer derives identity the same way.
func HTTPAuthMiddleware(verifier TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, errMsg := requestToken(r)
			if errMsg != "" {
				http.Error(w, `{"error":"`+errMsg+`"}`, http.StatusUnauthorized)
				return
			}

			claims, err := verifier.Verify(token)
			if err != nil {
				http.Error(w, `{"error":"invalid token"}`, http.StatusForbidden)
				return
			}

			identity, err := claims.Identity()
			if err != nil {
				http.Error(w, `{"error":"token carries no identity"}`, http.StatusForbidden)
				return
			}

			authCtx := &AuthContext{Identity: identity, Email: claims.Email}
			next.ServeHTTP(w, r.WithContext(WithAuth(r.Context(), authCtx)))
		})
	}
}
