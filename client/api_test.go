package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	gatekeep "github.com/jmswan/gatekeep"
)

// failingTransport fails every request at the transport layer and
// counts attempts.
type failingTransport struct {
	calls atomic.Int64
}

func (t *failingTransport) RoundTrip(*http.Request) (*http.Response, error) {
	t.calls.Add(1)
	return nil, errors.New("connection refused")
}

func noBackoff() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3}
}

func TestGatewayRetriesTransportErrors(t *testing.T) {
	transport := &failingTransport{}
	g := NewGateway("http://auth.local", &http.Client{Transport: transport}, noBackoff())

	_, err := g.Login(context.Background(), "alice@example.com", "password")
	if err == nil {
		t.Fatal("Login over dead transport succeeded")
	}
	if !strings.Contains(err.Error(), "after 3 attempts") {
		t.Fatalf("error = %v, want attempt count", err)
	}
	if got := transport.calls.Load(); got != 3 {
		t.Fatalf("transport attempts = %d, want 3", got)
	}
}

func TestGatewayDoesNotRetryHTTPErrors(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	g := NewGateway(srv.URL, srv.Client(), noBackoff())

	_, err := g.Login(context.Background(), "alice@example.com", "wrong")
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("Login err = %v, want ErrInvalidCredentials", err)
	}
	if got := calls.Load(); got != 1 {
		t.Fatalf("server saw %d requests, want 1; error responses are final", got)
	}
}

func TestGatewayBackoffRespectsContext(t *testing.T) {
	transport := &failingTransport{}
	retry := RetryPolicy{
		MaxAttempts: 3,
		Backoff:     func(int) time.Duration { return time.Hour },
	}
	g := NewGateway("http://auth.local", &http.Client{Transport: transport}, retry)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := g.Login(ctx, "alice@example.com", "password")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Login err = %v, want deadline exceeded", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("backoff ignored context cancellation, waited %v", elapsed)
	}
}

func TestGatewayLogin(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/auth/login" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if body["email"] != "alice@example.com" {
			t.Errorf("email = %q", body["email"])
		}
		json.NewEncoder(w).Encode(AuthResponse{
			Token: "tok-1",
			User:  gatekeep.Principal{ID: "u-1", Identifier: "alice@example.com", Role: gatekeep.RoleUser},
		})
	}))
	defer srv.Close()

	g := NewGateway(srv.URL, srv.Client(), noBackoff())

	res, err := g.Login(context.Background(), "alice@example.com", "password")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if res.Token != "tok-1" || res.User.ID != "u-1" {
		t.Fatalf("response = %+v", res)
	}
}

func TestGatewayMeSendsBearer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer tok-1" {
			t.Errorf("Authorization = %q", got)
		}
		json.NewEncoder(w).Encode(map[string]gatekeep.Principal{
			"user": {ID: "u-1", Identifier: "alice@example.com"},
		})
	}))
	defer srv.Close()

	g := NewGateway(srv.URL, srv.Client(), noBackoff())

	user, err := g.Me(context.Background(), "tok-1")
	if err != nil {
		t.Fatalf("Me: %v", err)
	}
	if user.ID != "u-1" {
		t.Fatalf("user = %+v", user)
	}
}

func TestGatewayMapsRateLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	g := NewGateway(srv.URL, srv.Client(), noBackoff())

	if _, err := g.Login(context.Background(), "a@b.c", "password"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("Login err = %v, want ErrRateLimited", err)
	}
	if _, err := g.Refresh(context.Background(), "tok"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("Refresh err = %v, want ErrRateLimited", err)
	}
}

func TestGatewayRefreshUnauthorized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	g := NewGateway(srv.URL, srv.Client(), noBackoff())

	if _, err := g.Refresh(context.Background(), "stale"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("Refresh err = %v, want ErrUnauthorized", err)
	}
}
