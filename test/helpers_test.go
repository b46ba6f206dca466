//go:build integration
// +build integration

package test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	gatekeep "github.com/jmswan/gatekeep"
	"github.com/jmswan/gatekeep/httpapi"
	"github.com/jmswan/gatekeep/middleware"
	"github.com/jmswan/gatekeep/policy"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var integrationSecret = []byte("integration-secret-32-bytes-ok!!")

// memProvider is the in-memory user store for the integration suite.
type memProvider struct {
	mu      sync.RWMutex
	byID    map[string]gatekeep.UserRecord
	byIdent map[string]string
}

func newMemProvider() *memProvider {
	return &memProvider{
		byID:    make(map[string]gatekeep.UserRecord),
		byIdent: make(map[string]string),
	}
}

func (p *memProvider) GetUserByIdentifier(_ context.Context, identifier string) (gatekeep.UserRecord, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	id, ok := p.byIdent[identifier]
	if !ok {
		return gatekeep.UserRecord{}, gatekeep.ErrUserNotFound
	}
	return p.byID[id], nil
}

func (p *memProvider) GetUserByID(_ context.Context, userID string) (gatekeep.UserRecord, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	u, ok := p.byID[userID]
	if !ok {
		return gatekeep.UserRecord{}, gatekeep.ErrUserNotFound
	}
	return u, nil
}

func (p *memProvider) CreateUser(_ context.Context, input gatekeep.CreateUserInput) (gatekeep.UserRecord, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := p.byIdent[input.Identifier]; exists {
		return gatekeep.UserRecord{}, gatekeep.ErrAccountExists
	}
	u := gatekeep.UserRecord{
		UserID:       uuid.NewString(),
		Identifier:   input.Identifier,
		PasswordHash: input.PasswordHash,
		Role:         input.Role,
		Permissions:  input.Permissions,
	}
	p.byID[u.UserID] = u
	p.byIdent[u.Identifier] = u.UserID
	return u, nil
}

func (p *memProvider) UpdatePasswordHash(_ context.Context, userID, newHash string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	u, ok := p.byID[userID]
	if !ok {
		return gatekeep.ErrUserNotFound
	}
	u.PasswordHash = newHash
	p.byID[userID] = u
	return nil
}

func (p *memProvider) promote(userID, role string, permissions []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	u, ok := p.byID[userID]
	if !ok {
		return
	}
	u.Role = role
	u.Permissions = permissions
	p.byID[userID] = u
}

// stack is a full application: engine, guarded pages, and the auth API,
// served over httptest.
type stack struct {
	engine   *gatekeep.Engine
	provider *memProvider
	server   *httptest.Server
}

func newStack(t *testing.T) *stack {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run failed: %v", err)
	}
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	cfg := gatekeep.DefaultConfig()
	// Fast hashing keeps the suite quick; production uses the defaults.
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1

	provider := newMemProvider()

	engine, err := gatekeep.New().
		WithConfig(cfg).
		WithSecret(integrationSecret).
		WithRedis(rdb).
		WithUserProvider(provider).
		Build()
	if err != nil {
		t.Fatalf("engine build failed: %v", err)
	}
	t.Cleanup(engine.Close)

	mux := http.NewServeMux()
	httpapi.NewServer(engine, cfg).Routes(mux)

	pages := http.NewServeMux()
	pages.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if principal, ok := middleware.PrincipalFromContext(r.Context()); ok {
			w.Header().Set("X-Principal-ID", principal.ID)
			w.Header().Set("X-Principal-Role", principal.Role)
		}
		w.WriteHeader(http.StatusOK)
	})

	guard := middleware.Guard(engine, policy.Default(), middleware.DefaultGuardConfig())
	mux.Handle("/", guard(pages))

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	return &stack{engine: engine, provider: provider, server: srv}
}

func (s *stack) register(t *testing.T, identifier, secret string) gatekeep.Principal {
	t.Helper()
	res, err := s.engine.Register(context.Background(), identifier, secret)
	if err != nil {
		t.Fatalf("register %s: %v", identifier, err)
	}
	return res.User
}
