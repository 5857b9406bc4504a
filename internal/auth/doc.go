// Package auth provides bearer credential verification for drivenet-gateway.
//
// # Overview
//
// Every caller - web client, mobile app, or desktop agent - presents the
// same HS256 JWT, minted by the login endpoint. The token carries two
// claims:
//
//   - "user": the account email
//   - "g_uid": the stable subject from the identity provider
//
// The agent identity is always derived from a verified token (subject,
// falling back to email), never from request parameters. This is what ties
// a browsing user to their own desktop agent and nobody else's.
//
// # Components
//
//   - JWTVerifier: Verify/Generate for gateway tokens
//   - HTTPAuthMiddleware: attaches an AuthContext to authenticated requests
//   - LoginService: exchanges a Google credential for a gateway token,
//     enforcing the configured email allowlist
//
// # Token sources
//
// The middleware reads "Authorization: Bearer <token>" and falls back to a
// "token" query parameter for browser-initiated downloads that cannot set
// headers.
package auth
