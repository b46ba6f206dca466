// Package httpapi serves the authentication endpoints over JSON:
//
//	POST /api/auth/login    — credentials in, token + principal out
//	GET  /api/auth/me       — principal for the presented token
//	POST /api/auth/refresh  — fresh token for a still-verifiable one
//	POST /api/auth/logout   — best-effort revocation, always 204
//	POST /api/auth/register — self-service account creation
//
// Login and refresh set the session cookie (HttpOnly, SameSite=Strict,
// Secure in production); logout clears it. Credential failures answer
// with one uniform message so callers cannot enumerate accounts.
//
// # What this package must NOT do
//
//   - Make authentication decisions itself; the Engine owns those.
//   - Serve pages or assets; route gating lives in the middleware
//     package.
package httpapi
