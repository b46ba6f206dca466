package gatekeep

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/jmswan/gatekeep/internal/rate"
	"github.com/jmswan/gatekeep/internal/revoke"
	"github.com/jmswan/gatekeep/password"
	"github.com/jmswan/gatekeep/token"
)

// Engine authenticates credentials, mints and verifies session tokens,
// and maintains the revocation denylist. Build one with [New]; an Engine
// is immutable after construction and safe for concurrent use.
type Engine struct {
	config       Config
	codec        *token.Codec
	passwordHash *password.Hasher
	rateLimiter  *rate.Limiter
	denylist     *revoke.Denylist
	audit        *auditDispatcher
	metrics      *Metrics
	userProvider UserProvider
}

// AuthResult is the outcome of a successful login, refresh, or
// registration: a freshly minted token and the principal it asserts.
type AuthResult struct {
	Token     string
	ExpiresAt time.Time
	User      Principal
}

// Close flushes and stops the audit dispatcher. The engine must not be
// used after Close.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.audit != nil {
		e.audit.Close()
	}
}

// AuditDropped reports how many audit events were discarded because the
// dispatcher buffer was full.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

// MetricsSnapshot returns a point-in-time copy of the engine counters.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

// Metrics exposes the engine's counter set so HTTP middleware can record
// guard outcomes alongside engine events.
func (e *Engine) Metrics() *Metrics {
	if e == nil {
		return nil
	}
	return e.metrics
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

// Login authenticates identifier+secret and mints a session token.
// Unknown identifiers, wrong passwords, and empty secrets all return
// [ErrInvalidCredentials]; callers must not be able to tell them apart.
func (e *Engine) Login(ctx context.Context, identifier, secret string) (*AuthResult, error) {
	if e == nil || e.passwordHash == nil || e.codec == nil {
		return nil, ErrEngineNotReady
	}
	ip := clientIPFromContext(ctx)

	if e.rateLimiter != nil {
		if err := e.rateLimiter.CheckLogin(ctx, identifier, ip); err != nil {
			return nil, e.loginRateLimited(ctx, identifier)
		}
	}

	if secret == "" {
		return nil, e.loginFailed(ctx, identifier, "", "empty_secret")
	}

	user, err := e.userProvider.GetUserByIdentifier(ctx, identifier)
	if err != nil {
		return nil, e.loginFailed(ctx, identifier, "", "user_not_found")
	}

	ok, err := e.passwordHash.Verify(secret, user.PasswordHash)
	if err != nil || !ok {
		return nil, e.loginFailed(ctx, identifier, user.UserID, "password_mismatch")
	}

	if e.config.Password.UpgradeOnLogin {
		if stale, err := e.passwordHash.NeedsRehash(user.PasswordHash); err == nil && stale {
			if upgraded, err := e.passwordHash.Hash(secret); err == nil {
				// Best-effort; a failed upgrade must not block login.
				if err := e.userProvider.UpdatePasswordHash(ctx, user.UserID, upgraded); err != nil {
					log.Print("gatekeep: password hash upgrade update failed")
				} else {
					e.emitAudit(ctx, auditEventPasswordHashUpgrade, true, user.UserID, "", nil, nil)
				}
			} else {
				log.Print("gatekeep: password hash upgrade generation failed")
			}
		}
	}
	secret = ""

	if e.rateLimiter != nil {
		if err := e.rateLimiter.ResetLogin(ctx, identifier, ip); err != nil {
			log.Print("gatekeep: login limiter reset failed")
		}
	}

	result, err := e.mintFor(user)
	if err != nil {
		e.metricInc(MetricLoginFailure)
		e.emitAudit(ctx, auditEventLoginFailure, false, user.UserID, "", err, nil)
		return nil, err
	}

	e.metricInc(MetricLoginSuccess)
	e.emitAudit(ctx, auditEventLoginSuccess, true, user.UserID, "", nil, nil)

	return result, nil
}

func (e *Engine) loginRateLimited(ctx context.Context, identifier string) error {
	e.metricInc(MetricLoginRateLimited)
	e.emitAudit(ctx, auditEventLoginRateLimited, false, "", "", ErrLoginRateLimited, func() map[string]string {
		return map[string]string{"identifier": identifier}
	})
	e.emitRateLimit(ctx, "login", func() map[string]string {
		return map[string]string{"identifier": identifier}
	})
	return ErrLoginRateLimited
}

func (e *Engine) loginFailed(ctx context.Context, identifier, userID, reason string) error {
	if e.rateLimiter != nil {
		if err := e.rateLimiter.IncrementLogin(ctx, identifier, clientIPFromContext(ctx)); err != nil {
			if errors.Is(err, rate.ErrRateLimited) {
				return e.loginRateLimited(ctx, identifier)
			}
			log.Print("gatekeep: login limiter increment failed")
		}
	}
	e.metricInc(MetricLoginFailure)
	e.emitAudit(ctx, auditEventLoginFailure, false, userID, "", ErrInvalidCredentials, func() map[string]string {
		return map[string]string{
			"identifier": identifier,
			"reason":     reason,
		}
	})
	return ErrInvalidCredentials
}

// VerifyToken checks signature, expiry, and revocation status of raw and
// returns its claims. Token failures map to [ErrTokenExpired],
// [ErrTokenRevoked], or [ErrTokenInvalid].
func (e *Engine) VerifyToken(ctx context.Context, raw string) (*token.Claims, error) {
	if e == nil || e.codec == nil {
		return nil, ErrEngineNotReady
	}

	start := time.Now()
	claims, err := e.codec.Verify(raw)
	if e.metrics != nil {
		e.metrics.Observe(MetricVerifyLatency, time.Since(start))
	}
	if err != nil {
		switch {
		case errors.Is(err, token.ErrExpired):
			return nil, ErrTokenExpired
		default:
			return nil, ErrTokenInvalid
		}
	}

	if err := e.checkRevoked(ctx, claims.ID); err != nil {
		return nil, err
	}

	return claims, nil
}

// CurrentUser resolves the principal asserted by a valid token. The
// principal comes from the token claims; no provider lookup is made, so
// the call works even when user storage is briefly unavailable.
func (e *Engine) CurrentUser(ctx context.Context, raw string) (Principal, error) {
	claims, err := e.VerifyToken(ctx, raw)
	if err != nil {
		return Principal{}, err
	}

	return principalFromClaims(claims), nil
}

// Refresh exchanges a still-verifiable token for a fresh one. The
// presented token may be past expiry but must carry a genuine signature
// and must not be revoked. Role and permissions are re-read from the
// provider, so a refreshed token reflects authorization changes.
func (e *Engine) Refresh(ctx context.Context, raw string) (*AuthResult, error) {
	if e == nil || e.codec == nil {
		return nil, ErrEngineNotReady
	}

	claims, err := e.codec.VerifyAllowExpired(raw)
	if err != nil {
		e.metricInc(MetricRefreshFailure)
		e.emitAudit(ctx, auditEventRefreshFailure, false, "", "", ErrTokenInvalid, nil)
		return nil, ErrTokenInvalid
	}

	if err := e.checkRevoked(ctx, claims.ID); err != nil {
		e.metricInc(MetricRefreshFailure)
		e.emitAudit(ctx, auditEventRefreshFailure, false, claims.Subject, claims.ID, err, nil)
		return nil, err
	}

	if e.rateLimiter != nil {
		if err := e.rateLimiter.CheckRefresh(ctx, claims.Subject); err != nil {
			if errors.Is(err, rate.ErrRateLimited) {
				e.metricInc(MetricRefreshRateLimited)
				e.emitAudit(ctx, auditEventRefreshRateLimited, false, claims.Subject, claims.ID, ErrRefreshRateLimited, nil)
				e.emitRateLimit(ctx, "refresh", nil)
				return nil, ErrRefreshRateLimited
			}
			log.Print("gatekeep: refresh limiter unavailable")
		}
	}

	user, err := e.userProvider.GetUserByID(ctx, claims.Subject)
	if err != nil {
		e.metricInc(MetricRefreshFailure)
		e.emitAudit(ctx, auditEventRefreshFailure, false, claims.Subject, claims.ID, ErrUserNotFound, nil)
		return nil, ErrUnauthorized
	}

	result, err := e.mintFor(user)
	if err != nil {
		e.metricInc(MetricRefreshFailure)
		e.emitAudit(ctx, auditEventRefreshFailure, false, user.UserID, claims.ID, err, nil)
		return nil, err
	}

	e.metricInc(MetricRefreshSuccess)
	e.emitAudit(ctx, auditEventRefreshSuccess, true, user.UserID, claims.ID, nil, nil)

	return result, nil
}

// Logout revokes the presented token until its natural expiry. It is
// idempotent and best-effort: unverifiable or already-expired tokens are
// a no-op, and a denylist outage surfaces as an error for observability
// while HTTP callers still report success to the client.
func (e *Engine) Logout(ctx context.Context, raw string) error {
	if e == nil || e.codec == nil {
		return ErrEngineNotReady
	}
	e.metricInc(MetricLogout)

	claims, err := e.codec.VerifyAllowExpired(raw)
	if err != nil {
		// Nothing genuine to revoke.
		e.emitAudit(ctx, auditEventLogout, true, "", "", nil, func() map[string]string {
			return map[string]string{"reason": "unverifiable_token"}
		})
		return nil
	}

	if e.denylist == nil || claims.ExpiresAt == nil {
		e.emitAudit(ctx, auditEventLogout, true, claims.Subject, claims.ID, nil, nil)
		return nil
	}

	if err := e.denylist.Revoke(ctx, claims.ID, claims.ExpiresAt.Time); err != nil {
		e.emitAudit(ctx, auditEventLogout, false, claims.Subject, claims.ID, ErrRevocationUnavailable, nil)
		return ErrRevocationUnavailable
	}

	e.metricInc(MetricTokenRevoked)
	e.emitAudit(ctx, auditEventTokenRevoked, true, claims.Subject, claims.ID, nil, nil)

	return nil
}

// Register creates an account with the configured default role and mints
// its first session token.
func (e *Engine) Register(ctx context.Context, identifier, secret string) (*AuthResult, error) {
	if e == nil || e.passwordHash == nil || e.codec == nil {
		return nil, ErrEngineNotReady
	}
	if !e.config.Account.RegistrationEnabled {
		return nil, ErrRegistrationDisabled
	}
	if identifier == "" {
		e.metricInc(MetricRegisterFailure)
		return nil, ErrInvalidCredentials
	}

	hash, err := e.passwordHash.Hash(secret)
	if err != nil {
		e.metricInc(MetricRegisterFailure)
		e.emitAudit(ctx, auditEventRegisterFailure, false, "", "", ErrPasswordPolicy, nil)
		return nil, ErrPasswordPolicy
	}
	secret = ""

	role := e.config.Account.DefaultRole
	user, err := e.userProvider.CreateUser(ctx, CreateUserInput{
		Identifier:   identifier,
		PasswordHash: hash,
		Role:         role,
		Permissions:  clonePermissions(e.config.Account.RolePermissions[role]),
	})
	if err != nil {
		e.metricInc(MetricRegisterFailure)
		e.emitAudit(ctx, auditEventRegisterFailure, false, "", "", ErrAccountExists, func() map[string]string {
			return map[string]string{"identifier": identifier}
		})
		return nil, ErrAccountExists
	}

	result, err := e.mintFor(user)
	if err != nil {
		e.metricInc(MetricRegisterFailure)
		e.emitAudit(ctx, auditEventRegisterFailure, false, user.UserID, "", err, nil)
		return nil, err
	}

	e.metricInc(MetricRegisterSuccess)
	e.emitAudit(ctx, auditEventRegisterSuccess, true, user.UserID, "", nil, nil)

	return result, nil
}

func (e *Engine) checkRevoked(ctx context.Context, tokenID string) error {
	if e.denylist == nil || tokenID == "" {
		return nil
	}

	revoked, err := e.denylist.IsRevoked(ctx, tokenID)
	if err != nil {
		if e.config.Security.RevocationFailClosed {
			return ErrRevocationUnavailable
		}
		// Fail open: signature and expiry checks still stand.
		log.Print("gatekeep: revocation denylist unavailable")
		return nil
	}
	if revoked {
		return ErrTokenRevoked
	}

	return nil
}

// mintFor resolves the permission set for a record and mints its token.
// Records without an explicit permission list inherit the configured
// role table entry.
func (e *Engine) mintFor(user UserRecord) (*AuthResult, error) {
	perms := user.Permissions
	if len(perms) == 0 {
		perms = clonePermissions(e.config.Account.RolePermissions[user.Role])
	}

	raw, err := e.codec.Mint(user.UserID, user.Identifier, user.Role, perms)
	if err != nil {
		return nil, err
	}

	exp, err := e.codec.ExpiresAt(raw)
	if err != nil {
		return nil, err
	}

	principal := user.Principal()
	principal.Permissions = perms

	return &AuthResult{
		Token:     raw,
		ExpiresAt: exp,
		User:      principal,
	}, nil
}

func principalFromClaims(claims *token.Claims) Principal {
	return Principal{
		ID:          claims.Subject,
		Identifier:  claims.Identifier,
		Role:        claims.Role,
		Permissions: clonePermissions(claims.Permissions),
	}
}

func clonePermissions(perms []string) []string {
	if perms == nil {
		return nil
	}
	out := make([]string, len(perms))
	copy(out, perms)
	return out
}
