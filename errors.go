package gatekeep

import "errors"

var (
	// ErrUnauthorized is the coarse "not authenticated" outcome. Token
	// verification failures collapse into it at the HTTP boundary.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrInvalidCredentials is returned for unknown identifiers and wrong
	// passwords alike, so callers cannot enumerate accounts.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrForbidden marks a valid identity with an insufficient role. It is
	// an authorization failure, distinct from authentication failures.
	ErrForbidden = errors.New("forbidden")
	// ErrUserNotFound is internal-only; it never crosses the HTTP boundary.
	ErrUserNotFound = errors.New("user not found")
	// ErrTokenInvalid covers malformed tokens, bad signatures, and wrong
	// signing algorithms.
	ErrTokenInvalid = errors.New("invalid token")
	// ErrTokenExpired is distinct from ErrTokenInvalid so refresh paths can
	// tell an expired-but-genuine token from a forged one.
	ErrTokenExpired = errors.New("token expired")
	// ErrTokenRevoked is returned when a token's ID is on the denylist.
	ErrTokenRevoked = errors.New("token revoked")
	// ErrLoginRateLimited is an exported sentinel for throttled logins.
	ErrLoginRateLimited = errors.New("login rate limited")
	// ErrRefreshRateLimited is an exported sentinel for throttled refreshes.
	ErrRefreshRateLimited = errors.New("refresh rate limited")
	// ErrAccountExists is returned by Register for duplicate identifiers.
	ErrAccountExists = errors.New("account already exists")
	// ErrRegistrationDisabled is returned by Register when account creation
	// is switched off in config.
	ErrRegistrationDisabled = errors.New("registration disabled")
	// ErrPasswordPolicy is returned when a new password fails hashing policy.
	ErrPasswordPolicy = errors.New("password policy violation")
	// ErrRevocationUnavailable is returned when the denylist backend is down
	// and the engine is configured fail-closed.
	ErrRevocationUnavailable = errors.New("revocation backend unavailable")
	// ErrEngineNotReady guards against use of a half-built engine.
	ErrEngineNotReady = errors.New("engine not initialized")
)
