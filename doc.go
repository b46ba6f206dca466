// Package gatekeep provides the authentication core for cookie/bearer
// session tokens: a signing engine that mints and verifies JWT session
// tokens, credential verification against argon2id hashes, token refresh,
// and best-effort server-side revocation through a Redis denylist.
//
// The package is designed for concurrent server workloads: Engine methods
// are safe to call from multiple goroutines after initialization through
// [Builder.Build].
//
// # Architecture boundaries
//
// gatekeep is the public surface. It exposes [Engine], [Builder], [Config],
// and value types (Principal, MetricsSnapshot, AuditEvent). Route
// classification lives in the policy package, request gating in the
// middleware package, HTTP handlers in the httpapi package, and the
// client-side session state machine in the client package. Redis-backed
// coordination (rate limiting and the revocation denylist) lives under
// internal/ and is never exported.
//
// # What this package must NOT do
//
//   - Expose Redis clients or denylist key layout in its public API.
//   - Hold mutable process-wide state; the signing secret and user provider
//     are injected at construction and treated as immutable afterwards.
//   - Import any sub-package that re-imports gatekeep (no import cycles).
package gatekeep
