package middleware

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	gatekeep "github.com/jmswan/gatekeep"
	"github.com/jmswan/gatekeep/policy"
)

type principalContextKey struct{}

// PrincipalFromContext returns the principal injected by [Guard] or
// [RequireAuth] for the current request.
func PrincipalFromContext(ctx context.Context) (gatekeep.Principal, bool) {
	p, ok := ctx.Value(principalContextKey{}).(gatekeep.Principal)
	return p, ok
}

// GuardConfig shapes the browser-facing route gate.
type GuardConfig struct {
	// CookieName is the session cookie inspected before the
	// Authorization header. Cookie wins when both are present.
	CookieName string
	// LoginPath receives unauthenticated requests to protected routes.
	LoginPath string
	// LandingPath receives authenticated requests to public auth pages
	// when no redirect parameter overrides it.
	LandingPath string
	// UnauthorizedPath receives authenticated-but-underprivileged
	// requests to admin routes.
	UnauthorizedPath string
}

// DefaultGuardConfig matches the example application's page layout.
func DefaultGuardConfig() GuardConfig {
	return GuardConfig{
		CookieName:       "authToken",
		LoginPath:        "/login",
		LandingPath:      "/dashboard",
		UnauthorizedPath: "/unauthorized",
	}
}

// Guard gates every page request against the route policy. Decisions per
// request, stateless across requests:
//
//   - exempt path: pass through untouched
//   - public path + valid session: redirect to the landing page (or a
//     same-origin redirect parameter)
//   - public path, no session: pass through
//   - protected path, no valid session: redirect to login carrying the
//     original path in the redirect parameter; invalid cookies are
//     cleared on the way out
//   - admin path, valid session, non-admin role: redirect to the
//     unauthorized page
//   - otherwise: inject the principal and continue
func Guard(engine *gatekeep.Engine, pol *policy.Policy, cfg GuardConfig) func(http.Handler) http.Handler {
	if cfg.CookieName == "" {
		cfg = DefaultGuardConfig()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			path := r.URL.Path
			if pol.Exempt(path) {
				next.ServeHTTP(w, r)
				return
			}

			class := pol.Classify(path)

			raw, fromCookie := extractToken(r, cfg.CookieName)
			var principal gatekeep.Principal
			authenticated := false
			if raw != "" {
				p, err := engine.CurrentUser(r.Context(), raw)
				if err == nil {
					principal = p
					authenticated = true
				} else if fromCookie {
					// A cookie that fails verification is cleared so the
					// browser stops presenting it.
					clearCookie(w, cfg.CookieName)
				}
			}

			switch class {
			case policy.Public:
				if authenticated {
					engine.Metrics().Inc(gatekeep.MetricGuardRedirected)
					http.Redirect(w, r, redirectTarget(r, cfg.LandingPath), http.StatusFound)
					return
				}
				next.ServeHTTP(w, r)
				return

			case policy.Protected, policy.AdminOnly:
				if !authenticated {
					engine.Metrics().Inc(gatekeep.MetricGuardRedirected)
					engine.AuditGuardDenied(r.Context(), "", path, gatekeep.ErrUnauthorized)
					http.Redirect(w, r, loginRedirect(cfg.LoginPath, path), http.StatusFound)
					return
				}
				if class == policy.AdminOnly && !principal.IsAdmin() {
					engine.Metrics().Inc(gatekeep.MetricGuardForbidden)
					engine.AuditGuardDenied(r.Context(), principal.ID, path, gatekeep.ErrForbidden)
					http.Redirect(w, r, cfg.UnauthorizedPath, http.StatusFound)
					return
				}
			}

			engine.Metrics().Inc(gatekeep.MetricGuardAllowed)
			next.ServeHTTP(w, r.WithContext(withPrincipal(r.Context(), principal)))
		})
	}
}

func withPrincipal(ctx context.Context, p gatekeep.Principal) context.Context {
	return context.WithValue(ctx, principalContextKey{}, p)
}

// extractToken prefers the session cookie over the Authorization header.
func extractToken(r *http.Request, cookieName string) (raw string, fromCookie bool) {
	if c, err := r.Cookie(cookieName); err == nil && c.Value != "" {
		return c.Value, true
	}
	if tok, ok := bearerToken(r.Header.Get("Authorization")); ok {
		return tok, false
	}
	return "", false
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if !strings.HasPrefix(value, bearer) {
		return "", false
	}

	token := value[len(bearer):]
	if token == "" {
		return "", false
	}

	return token, true
}

func clearCookie(w http.ResponseWriter, name string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
	})
}

func loginRedirect(loginPath, originalPath string) string {
	return loginPath + "?redirect=" + url.QueryEscape(originalPath)
}

// redirectTarget resolves the post-login destination. Only same-origin
// paths are honored; anything else falls back to the landing page.
func redirectTarget(r *http.Request, landing string) string {
	target := r.URL.Query().Get("redirect")
	if !sameOriginPath(target) {
		return landing
	}
	return target
}

func sameOriginPath(target string) bool {
	if target == "" || target[0] != '/' {
		return false
	}
	// "//host" and "/\host" are scheme-relative URLs, not paths.
	if strings.HasPrefix(target, "//") || strings.HasPrefix(target, "/\\") {
		return false
	}
	return true
}
