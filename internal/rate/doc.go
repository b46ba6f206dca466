// Package rate provides Redis-backed fixed-window counters used to
// throttle login and refresh attempts.
//
// # Window semantics
//
// Fixed-window counters: INCR + conditional EXPIRE on first hit. Key prefixes:
//   - gl:  — login per-identifier
//   - gli: — login per-IP
//   - gr:  — refresh per-user
//
// # What this package must NOT do
//
//   - Decide which operations get throttled (the Engine does).
//   - Be imported outside the gatekeep module.
package rate
