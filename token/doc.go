// Package token mints and verifies signed session tokens. The signing
// algorithm is pinned at construction; tokens presented with any other
// algorithm (including "none") fail verification with [ErrInvalid].
package token
