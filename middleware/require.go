package middleware

import (
	"encoding/json"
	"net/http"

	gatekeep "github.com/jmswan/gatekeep"
)

// RequireAuth is the API-facing counterpart of [Guard]: it answers with
// JSON errors instead of redirects. A missing or invalid token yields
// 401; requireAdmin additionally demands the admin role and yields 403
// for lesser principals.
func RequireAuth(engine *gatekeep.Engine, cookieName string, requireAdmin bool) func(http.Handler) http.Handler {
	if cookieName == "" {
		cookieName = DefaultGuardConfig().CookieName
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, _ := extractToken(r, cookieName)
			if raw == "" {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}

			principal, err := engine.CurrentUser(r.Context(), raw)
			if err != nil {
				engine.AuditGuardDenied(r.Context(), "", r.URL.Path, gatekeep.ErrUnauthorized)
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}

			if requireAdmin && !principal.IsAdmin() {
				engine.Metrics().Inc(gatekeep.MetricGuardForbidden)
				engine.AuditGuardDenied(r.Context(), principal.ID, r.URL.Path, gatekeep.ErrForbidden)
				writeError(w, http.StatusForbidden, "forbidden")
				return
			}

			engine.Metrics().Inc(gatekeep.MetricGuardAllowed)
			next.ServeHTTP(w, r.WithContext(withPrincipal(r.Context(), principal)))
		})
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
