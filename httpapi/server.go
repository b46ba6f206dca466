package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	gatekeep "github.com/jmswan/gatekeep"
)

// invalidCredentialsMessage is deliberately identical for unknown
// identifiers and wrong passwords.
const invalidCredentialsMessage = "Invalid credentials"

// Server holds the auth endpoint handlers. Construct with [NewServer]
// and mount with [Server.Routes].
type Server struct {
	engine *gatekeep.Engine
	cookie gatekeep.CookieConfig
	secure bool
	maxAge time.Duration
}

// NewServer wires the handlers against engine. Cookie attributes and the
// production flag come from cfg so the HTTP surface and the engine never
// disagree about them.
func NewServer(engine *gatekeep.Engine, cfg gatekeep.Config) *Server {
	return &Server{
		engine: engine,
		cookie: cfg.Cookie,
		secure: cfg.Security.ProductionMode,
		maxAge: cfg.JWT.AccessTTL,
	}
}

// Routes mounts every auth endpoint on mux.
func (s *Server) Routes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/auth/login", s.handleLogin)
	mux.HandleFunc("GET /api/auth/me", s.handleMe)
	mux.HandleFunc("POST /api/auth/refresh", s.handleRefresh)
	mux.HandleFunc("POST /api/auth/logout", s.handleLogout)
	mux.HandleFunc("POST /api/auth/register", s.handleRegister)
}

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type authResponse struct {
	Token string             `json:"token"`
	User  gatekeep.Principal `json:"user"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var body credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "bad request")
		return
	}
	if body.Email == "" || body.Password == "" {
		writeError(w, http.StatusBadRequest, "email and password are required")
		return
	}

	result, err := s.engine.Login(requestContext(r), body.Email, body.Password)
	if err != nil {
		switch {
		case errors.Is(err, gatekeep.ErrLoginRateLimited):
			writeError(w, http.StatusTooManyRequests, "too many attempts")
		default:
			writeError(w, http.StatusUnauthorized, invalidCredentialsMessage)
		}
		return
	}

	s.setSessionCookie(w, result.Token)
	writeJSON(w, http.StatusOK, authResponse{Token: result.Token, User: result.User})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	raw := s.requestToken(r)
	if raw == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	principal, err := s.engine.CurrentUser(requestContext(r), raw)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	writeJSON(w, http.StatusOK, map[string]gatekeep.Principal{"user": principal})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	raw := s.requestToken(r)
	if raw == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	result, err := s.engine.Refresh(requestContext(r), raw)
	if err != nil {
		switch {
		case errors.Is(err, gatekeep.ErrRefreshRateLimited):
			writeError(w, http.StatusTooManyRequests, "too many attempts")
		default:
			writeError(w, http.StatusUnauthorized, "unauthorized")
		}
		return
	}

	s.setSessionCookie(w, result.Token)
	writeJSON(w, http.StatusOK, authResponse{Token: result.Token, User: result.User})
}

// handleLogout always reports success to the client. Server-side
// revocation is best-effort; a denylist outage is invisible here and
// surfaces through audit events instead.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if raw := s.requestToken(r); raw != "" {
		_ = s.engine.Logout(requestContext(r), raw)
	}

	s.clearSessionCookie(w)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var body credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "bad request")
		return
	}
	if body.Email == "" || body.Password == "" {
		writeError(w, http.StatusBadRequest, "email and password are required")
		return
	}

	result, err := s.engine.Register(requestContext(r), body.Email, body.Password)
	if err != nil {
		switch {
		case errors.Is(err, gatekeep.ErrAccountExists):
			writeError(w, http.StatusConflict, "account already exists")
		case errors.Is(err, gatekeep.ErrRegistrationDisabled):
			writeError(w, http.StatusForbidden, "registration disabled")
		case errors.Is(err, gatekeep.ErrPasswordPolicy):
			writeError(w, http.StatusBadRequest, "password does not meet requirements")
		default:
			writeError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}

	s.setSessionCookie(w, result.Token)
	writeJSON(w, http.StatusCreated, authResponse{Token: result.Token, User: result.User})
}

// requestToken prefers the session cookie over the Authorization header,
// matching the middleware guards.
func (s *Server) requestToken(r *http.Request) string {
	if c, err := r.Cookie(s.cookie.Name); err == nil && c.Value != "" {
		return c.Value
	}

	const bearer = "Bearer "
	h := r.Header.Get("Authorization")
	if len(h) > len(bearer) && h[:len(bearer)] == bearer {
		return h[len(bearer):]
	}
	return ""
}

func (s *Server) setSessionCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     s.cookie.Name,
		Value:    token,
		Path:     s.cookiePath(),
		Domain:   s.cookie.Domain,
		MaxAge:   int(s.maxAge.Seconds()),
		HttpOnly: true,
		Secure:   s.secure,
		SameSite: s.cookie.SameSite,
	})
}

func (s *Server) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     s.cookie.Name,
		Value:    "",
		Path:     s.cookiePath(),
		Domain:   s.cookie.Domain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.secure,
		SameSite: s.cookie.SameSite,
	})
}

func (s *Server) cookiePath() string {
	if s.cookie.Path == "" {
		return "/"
	}
	return s.cookie.Path
}

func requestContext(r *http.Request) (ctx context.Context) {
	ctx = r.Context()

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	ctx = gatekeep.WithClientIP(ctx, host)
	ctx = gatekeep.WithUserAgent(ctx, r.UserAgent())

	return ctx
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
