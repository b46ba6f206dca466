// Package middleware exposes HTTP guards built on gatekeep.Engine token
// verification and the policy route table.
//
// # Guards
//
//   - [Guard] — browser-facing route gate: classifies the request path,
//     verifies the session cookie or bearer token, and redirects to the
//     login or unauthorized page as required.
//   - [RequireAuth] — API-facing gate: 401/403 JSON responses, no
//     redirects.
//
// Both guards inject the verified principal into the request context;
// handlers read it back with [PrincipalFromContext].
//
// # Architecture boundaries
//
// This package translates HTTP semantics into Engine calls. It does NOT
// implement authentication logic itself; all token decisions are
// delegated to the Engine, and all route decisions to the shared Policy.
//
// # What this package must NOT do
//
//   - Parse or create tokens directly.
//   - Re-derive route classification outside policy.Policy.
//   - Store per-request state anywhere but the request context.
package middleware
