// Package revoke maintains a Redis denylist of revoked token IDs.
//
// Entries are keyed by jti with a TTL matching the token's remaining
// lifetime, so the denylist never grows past the set of tokens that
// could still verify.
//
// # What this package must NOT do
//
//   - Parse or verify tokens (callers hand it jti and expiry).
//   - Be imported outside the gatekeep module.
package revoke
