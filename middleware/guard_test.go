package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	gatekeep "github.com/jmswan/gatekeep"
	"github.com/jmswan/gatekeep/policy"
	"github.com/redis/go-redis/v9"
)

type mapUserProvider struct {
	mu           sync.Mutex
	users        map[string]gatekeep.UserRecord
	byIdentifier map[string]string
}

func (m *mapUserProvider) GetUserByIdentifier(_ context.Context, identifier string) (gatekeep.UserRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id, ok := m.byIdentifier[identifier]; ok {
		return m.users[id], nil
	}
	return gatekeep.UserRecord{}, errors.New("not found")
}

func (m *mapUserProvider) GetUserByID(_ context.Context, userID string) (gatekeep.UserRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[userID]; ok {
		return u, nil
	}
	return gatekeep.UserRecord{}, errors.New("not found")
}

func (m *mapUserProvider) CreateUser(_ context.Context, input gatekeep.CreateUserInput) (gatekeep.UserRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.byIdentifier[input.Identifier]; exists {
		return gatekeep.UserRecord{}, errors.New("duplicate")
	}
	if m.users == nil {
		m.users = make(map[string]gatekeep.UserRecord)
		m.byIdentifier = make(map[string]string)
	}
	id := fmt.Sprintf("u%d", len(m.users)+1)
	u := gatekeep.UserRecord{
		UserID:       id,
		Identifier:   input.Identifier,
		PasswordHash: input.PasswordHash,
		Role:         input.Role,
		Permissions:  input.Permissions,
	}
	m.users[id] = u
	m.byIdentifier[input.Identifier] = id
	return u, nil
}

func (m *mapUserProvider) UpdatePasswordHash(_ context.Context, userID, newHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return errors.New("not found")
	}
	u.PasswordHash = newHash
	m.users[userID] = u
	return nil
}

type testEnv struct {
	engine     *gatekeep.Engine
	adminToken string
	userToken  string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	cfg := gatekeep.DefaultConfig()
	cfg.JWT.Secret = []byte("0123456789abcdef0123456789abcdef")
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1
	cfg.Audit.Enabled = false
	cfg.Account.DefaultRole = gatekeep.RoleUser

	up := &mapUserProvider{}
	engine, err := gatekeep.New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithUserProvider(up).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(engine.Close)

	ctx := context.Background()
	userRes, err := engine.Register(ctx, "user@example.com", "password")
	if err != nil {
		t.Fatalf("register user: %v", err)
	}

	// Registration always yields the default role; promote the second
	// account through the provider, then refresh to mint an admin token.
	adminRes, err := engine.Register(ctx, "admin@example.com", "password")
	if err != nil {
		t.Fatalf("register admin: %v", err)
	}

	up.mu.Lock()
	for id, u := range up.users {
		if u.Identifier == "admin@example.com" {
			u.Role = gatekeep.RoleAdmin
			u.Permissions = nil
			up.users[id] = u
		}
	}
	up.mu.Unlock()

	refreshed, err := engine.Refresh(ctx, adminRes.Token)
	if err != nil {
		t.Fatalf("refresh admin: %v", err)
	}

	return &testEnv{
		engine:     engine,
		adminToken: refreshed.Token,
		userToken:  userRes.Token,
	}
}

func newGuardedServer(t *testing.T, env *testEnv) http.Handler {
	t.Helper()

	okHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if p, ok := PrincipalFromContext(r.Context()); ok {
			w.Header().Set("X-Principal-ID", p.ID)
			w.Header().Set("X-Principal-Role", p.Role)
		}
		w.WriteHeader(http.StatusOK)
	})

	return Guard(env.engine, policy.Default(), DefaultGuardConfig())(okHandler)
}

func get(handler http.Handler, path, cookieToken, bearer string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if cookieToken != "" {
		req.AddCookie(&http.Cookie{Name: "authToken", Value: cookieToken})
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestGuardRedirectsAnonymousFromProtected(t *testing.T) {
	env := newTestEnv(t)
	h := newGuardedServer(t, env)

	rec := get(h, "/admin", "", "")
	if rec.Code != http.StatusFound {
		t.Fatalf("status = %d, want 302", rec.Code)
	}
	if loc := rec.Header().Get("Location"); loc != "/login?redirect=%2Fadmin" {
		t.Errorf("Location = %q, want /login?redirect=%%2Fadmin", loc)
	}
}

func TestGuardRedirectsNonAdminToUnauthorized(t *testing.T) {
	env := newTestEnv(t)
	h := newGuardedServer(t, env)

	rec := get(h, "/admin", env.userToken, "")
	if rec.Code != http.StatusFound {
		t.Fatalf("status = %d, want 302", rec.Code)
	}
	if loc := rec.Header().Get("Location"); loc != "/unauthorized" {
		t.Errorf("Location = %q, want /unauthorized", loc)
	}
}

func TestGuardAllowsAdmin(t *testing.T) {
	env := newTestEnv(t)
	h := newGuardedServer(t, env)

	rec := get(h, "/admin/users", env.adminToken, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if role := rec.Header().Get("X-Principal-Role"); role != gatekeep.RoleAdmin {
		t.Errorf("propagated role = %q, want admin", role)
	}
}

func TestGuardAllowsUserOnProtected(t *testing.T) {
	env := newTestEnv(t)
	h := newGuardedServer(t, env)

	rec := get(h, "/dashboard/x", env.userToken, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestGuardBearerHeaderFallback(t *testing.T) {
	env := newTestEnv(t)
	h := newGuardedServer(t, env)

	rec := get(h, "/dashboard", "", env.userToken)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestGuardCookieTakesPrecedenceOverHeader(t *testing.T) {
	env := newTestEnv(t)
	h := newGuardedServer(t, env)

	// Garbage cookie with a valid bearer header: the cookie wins, so the
	// request is anonymous and the stale cookie gets cleared.
	rec := get(h, "/dashboard", "garbage", env.userToken)
	if rec.Code != http.StatusFound {
		t.Fatalf("status = %d, want 302", rec.Code)
	}

	cleared := false
	for _, c := range rec.Result().Cookies() {
		if c.Name == "authToken" && c.MaxAge < 0 {
			cleared = true
		}
	}
	if !cleared {
		t.Error("expected invalid cookie to be cleared")
	}
}

func TestGuardRedirectsAuthenticatedFromPublic(t *testing.T) {
	env := newTestEnv(t)
	h := newGuardedServer(t, env)

	rec := get(h, "/login", env.userToken, "")
	if rec.Code != http.StatusFound {
		t.Fatalf("status = %d, want 302", rec.Code)
	}
	if loc := rec.Header().Get("Location"); loc != "/dashboard" {
		t.Errorf("Location = %q, want /dashboard", loc)
	}
}

func TestGuardHonorsSameOriginRedirectParam(t *testing.T) {
	env := newTestEnv(t)
	h := newGuardedServer(t, env)

	rec := get(h, "/login?redirect=%2Fprofile", env.userToken, "")
	if loc := rec.Header().Get("Location"); loc != "/profile" {
		t.Errorf("Location = %q, want /profile", loc)
	}
}

func TestGuardRejectsOpenRedirect(t *testing.T) {
	env := newTestEnv(t)
	h := newGuardedServer(t, env)

	for _, target := range []string{
		"https://evil.example",
		"//evil.example",
		"/\\evil.example",
	} {
		rec := get(h, "/login?redirect="+target, env.userToken, "")
		if loc := rec.Header().Get("Location"); loc != "/dashboard" {
			t.Errorf("redirect=%q: Location = %q, want /dashboard", target, loc)
		}
	}
}

func TestGuardPassesAnonymousOnPublic(t *testing.T) {
	env := newTestEnv(t)
	h := newGuardedServer(t, env)

	for _, path := range []string{"/login", "/register", "/random", "/"} {
		rec := get(h, path, "", "")
		if rec.Code != http.StatusOK {
			t.Errorf("GET %s = %d, want 200", path, rec.Code)
		}
	}
}

func TestGuardSkipsExemptPaths(t *testing.T) {
	env := newTestEnv(t)
	h := newGuardedServer(t, env)

	rec := get(h, "/api/auth/login", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("exempt path status = %d, want 200", rec.Code)
	}
}

func TestRequireAuth(t *testing.T) {
	env := newTestEnv(t)

	okHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	api := RequireAuth(env.engine, "authToken", false)(okHandler)
	adminAPI := RequireAuth(env.engine, "authToken", true)(okHandler)

	if rec := get(api, "/api/data", "", ""); rec.Code != http.StatusUnauthorized {
		t.Errorf("anonymous: status = %d, want 401", rec.Code)
	}
	if rec := get(api, "/api/data", "garbage", ""); rec.Code != http.StatusUnauthorized {
		t.Errorf("garbage token: status = %d, want 401", rec.Code)
	}
	if rec := get(api, "/api/data", env.userToken, ""); rec.Code != http.StatusOK {
		t.Errorf("user token: status = %d, want 200", rec.Code)
	}
	if rec := get(adminAPI, "/api/admin", env.userToken, ""); rec.Code != http.StatusForbidden {
		t.Errorf("user on admin API: status = %d, want 403", rec.Code)
	}
	if rec := get(adminAPI, "/api/admin", env.adminToken, ""); rec.Code != http.StatusOK {
		t.Errorf("admin on admin API: status = %d, want 200", rec.Code)
	}
}
