// Package auth protects the admin API.
//
// Admin callers present an HS256 JWT in the Authorization header:
//
//	Authorization: Bearer <token>
//
// Tokens are minted by `courier token` with the configured auth.jwt_secret
// (at least 32 bytes). They carry the issuer "courier", a subject naming the
// operator, and an expiry; all three are required on verification.
//
// RequireAdmin is chi-compatible middleware. On success the subject is
// available to handlers through SubjectFromContext.
package auth
