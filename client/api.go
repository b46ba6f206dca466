package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	gatekeep "github.com/jmswan/gatekeep"
)

var (
	// ErrUnauthorized is returned for 401 responses from the gateway.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrInvalidCredentials is returned for rejected logins.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrRateLimited is returned for 429 responses.
	ErrRateLimited = errors.New("rate limited")
)

// RetryPolicy governs transport-level retries. Only network failures are
// retried; any HTTP response, success or error, is final. The policy is
// explicit state threaded through each call, never mutated mid-flight.
type RetryPolicy struct {
	// MaxAttempts counts the first try. Zero or one means no retries.
	MaxAttempts int
	// Backoff returns the wait before attempt n (1-based, first retry
	// is n=1). Nil means no wait.
	Backoff func(attempt int) time.Duration
}

// DefaultRetryPolicy retries twice with exponential backoff: 2s then 4s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		Backoff: func(attempt int) time.Duration {
			return time.Duration(1<<attempt) * time.Second
		},
	}
}

// AuthResponse is the gateway's answer to login, refresh, and register.
type AuthResponse struct {
	Token string             `json:"token"`
	User  gatekeep.Principal `json:"user"`
}

// Gateway is the HTTP client for the auth endpoints. The zero value is
// not usable; construct with [NewGateway].
type Gateway struct {
	baseURL string
	http    *http.Client
	retry   RetryPolicy
}

// NewGateway targets the auth API at baseURL. A nil httpClient uses a
// 10-second-timeout default.
func NewGateway(baseURL string, httpClient *http.Client, retry RetryPolicy) *Gateway {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Gateway{
		baseURL: baseURL,
		http:    httpClient,
		retry:   retry,
	}
}

// Login exchanges credentials for a token.
func (g *Gateway) Login(ctx context.Context, identifier, secret string) (*AuthResponse, error) {
	body, err := json.Marshal(map[string]string{
		"email":    identifier,
		"password": secret,
	})
	if err != nil {
		return nil, err
	}

	resp, err := g.do(ctx, http.MethodPost, "/api/auth/login", "", body)
	if err != nil {
		return nil, err
	}
	out, err := decodeAuthResponse(resp)
	if errors.Is(err, ErrUnauthorized) {
		return nil, ErrInvalidCredentials
	}
	return out, err
}

// Me fetches the principal for token.
func (g *Gateway) Me(ctx context.Context, token string) (gatekeep.Principal, error) {
	resp, err := g.do(ctx, http.MethodGet, "/api/auth/me", token, nil)
	if err != nil {
		return gatekeep.Principal{}, err
	}
	defer resp.Body.Close()

	if err := statusError(resp); err != nil {
		return gatekeep.Principal{}, err
	}

	var out struct {
		User gatekeep.Principal `json:"user"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return gatekeep.Principal{}, err
	}
	return out.User, nil
}

// Refresh exchanges token for a fresh one.
func (g *Gateway) Refresh(ctx context.Context, token string) (*AuthResponse, error) {
	resp, err := g.do(ctx, http.MethodPost, "/api/auth/refresh", token, nil)
	if err != nil {
		return nil, err
	}
	return decodeAuthResponse(resp)
}

// Logout notifies the gateway. Best-effort by contract: the server
// answers 204 regardless, so any error here is a transport failure.
func (g *Gateway) Logout(ctx context.Context, token string) error {
	resp, err := g.do(ctx, http.MethodPost, "/api/auth/logout", token, nil)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// Register creates an account and returns its first session.
func (g *Gateway) Register(ctx context.Context, identifier, secret string) (*AuthResponse, error) {
	body, err := json.Marshal(map[string]string{
		"email":    identifier,
		"password": secret,
	})
	if err != nil {
		return nil, err
	}

	resp, err := g.do(ctx, http.MethodPost, "/api/auth/register", "", body)
	if err != nil {
		return nil, err
	}
	return decodeAuthResponse(resp)
}

// do runs one request under the retry policy. Each attempt rebuilds the
// request from scratch; retries apply to transport errors only.
func (g *Gateway) do(ctx context.Context, method, path, token string, body []byte) (*http.Response, error) {
	attempts := g.retry.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 && g.retry.Backoff != nil {
			select {
			case <-time.After(g.retry.Backoff(attempt)):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, reader)
		if err != nil {
			return nil, err
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}

		resp, err := g.http.Do(req)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}

	return nil, fmt.Errorf("gateway unreachable after %d attempts: %w", attempts, lastErr)
}

func decodeAuthResponse(resp *http.Response) (*AuthResponse, error) {
	defer resp.Body.Close()

	if err := statusError(resp); err != nil {
		return nil, err
	}

	var out AuthResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	if out.Token == "" {
		return nil, errors.New("gateway response missing token")
	}
	return &out, nil
}

func statusError(resp *http.Response) error {
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusUnauthorized:
		return ErrUnauthorized
	case resp.StatusCode == http.StatusTooManyRequests:
		return ErrRateLimited
	default:
		return fmt.Errorf("gateway status %d", resp.StatusCode)
	}
}
