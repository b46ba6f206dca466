// Package client implements the application-side session machinery: a
// persistent [Store] for the token and cached profile, a [Gateway] HTTP
// client for the auth endpoints with an explicit retry policy, and a
// [Controller] state machine that owns the session.
//
// # Session states
//
// A session is loading, authenticated, or unauthenticated. The
// Controller is the only writer; everything else observes through
// [Controller.Session]. It never reports authenticated while holding a
// token it knows to be expired and unrefreshed.
//
// # What this package must NOT do
//
//   - Verify token signatures (only the server holds the secret; the
//     client reads expiry optimistically and lets the server decide).
//   - Keep partial persisted state: token, refresh token, and cached
//     user are always cleared together.
package client
