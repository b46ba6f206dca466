package client

import (
	"context"
	"sync"
	"time"

	gjwt "github.com/golang-jwt/jwt/v5"
	gatekeep "github.com/jmswan/gatekeep"
)

// Status is the session lifecycle state.
type Status int

const (
	// StatusLoading is the initial state before Start resolves.
	StatusLoading Status = iota
	// StatusAuthenticated means a valid token and user are established.
	StatusAuthenticated
	// StatusUnauthenticated means no usable session exists.
	StatusUnauthenticated
)

func (s Status) String() string {
	switch s {
	case StatusAuthenticated:
		return "authenticated"
	case StatusUnauthenticated:
		return "unauthenticated"
	default:
		return "loading"
	}
}

// Session is the read-only view of the controller's state.
type Session struct {
	Status Status
	User   gatekeep.Principal
	Token  string
}

// API is the remote gateway surface the controller drives. *Gateway
// satisfies it; tests substitute fakes.
type API interface {
	Login(ctx context.Context, identifier, secret string) (*AuthResponse, error)
	Me(ctx context.Context, token string) (gatekeep.Principal, error)
	Refresh(ctx context.Context, token string) (*AuthResponse, error)
	Logout(ctx context.Context, token string) error
}

// ControllerConfig tunes the session controller.
type ControllerConfig struct {
	// CheckInterval is the cadence of the background expiry watch.
	// Defaults to one minute.
	CheckInterval time.Duration
	// Now is the clock; defaults to time.Now. Tests inject a fake.
	Now func() time.Time
}

// Controller owns the client session: one instance per application,
// created at the root and passed down explicitly. All methods are safe
// for concurrent use. The controller never reports authenticated while
// holding a token it knows to be expired and unrefreshed.
type Controller struct {
	api      API
	store    Store
	interval time.Duration
	now      func() time.Time

	mu         sync.Mutex
	session    Session
	generation uint64

	watchCancel context.CancelFunc
	watchDone   chan struct{}
}

// NewController wires a controller in the loading state. Call Start to
// resolve the persisted session.
func NewController(api API, store Store, cfg ControllerConfig) *Controller {
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = time.Minute
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Controller{
		api:      api,
		store:    store,
		interval: cfg.CheckInterval,
		now:      cfg.Now,
		session:  Session{Status: StatusLoading},
	}
}

// Session returns a copy of the current session state.
func (c *Controller) Session() Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// Start resolves the persisted session:
//
//   - no stored token: unauthenticated
//   - stored token expired: attempt a refresh; failure clears the store
//   - stored token valid: adopt the cached user, or fetch the current
//     user when no cache exists
//
// On success the background expiry watch begins.
func (c *Controller) Start(ctx context.Context) error {
	raw, err := c.store.Token()
	if err != nil {
		c.becomeUnauthenticated(false)
		return nil
	}

	if c.tokenExpired(raw) {
		res, err := c.api.Refresh(ctx, raw)
		if err != nil {
			c.becomeUnauthenticated(true)
			return nil
		}
		c.adopt(res.Token, res.User)
		return nil
	}

	if user, err := c.store.User(); err == nil {
		c.adopt(raw, user)
		return nil
	}

	user, err := c.api.Me(ctx, raw)
	if err != nil {
		c.becomeUnauthenticated(true)
		return nil
	}
	c.adopt(raw, user)
	return nil
}

// Login authenticates and establishes the session.
func (c *Controller) Login(ctx context.Context, identifier, secret string) (gatekeep.Principal, error) {
	res, err := c.api.Login(ctx, identifier, secret)
	if err != nil {
		return gatekeep.Principal{}, err
	}

	c.adopt(res.Token, res.User)
	return res.User, nil
}

// Logout clears local state immediately and unconditionally, then
// notifies the gateway best-effort. A refresh response that arrives
// after Logout is discarded; logout always wins. Calling Logout on an
// already-unauthenticated session is a no-op.
func (c *Controller) Logout(ctx context.Context) {
	c.mu.Lock()
	token := c.session.Token
	wasAuthenticated := c.session.Status == StatusAuthenticated
	c.generation++
	c.session = Session{Status: StatusUnauthenticated}
	c.mu.Unlock()

	// Local teardown happens before any network call and regardless of
	// its outcome.
	_ = c.store.Clear()
	c.stopWatch()

	if wasAuthenticated && token != "" {
		_ = c.api.Logout(ctx, token)
	}
}

// Close tears down the background watch. The controller is unusable
// afterwards.
func (c *Controller) Close() {
	c.stopWatch()
}

// adopt installs an authenticated session and (re)arms the expiry watch.
func (c *Controller) adopt(token string, user gatekeep.Principal) {
	_ = c.store.SetToken(token)
	_ = c.store.SetUser(user)

	c.mu.Lock()
	c.session = Session{
		Status: StatusAuthenticated,
		User:   user,
		Token:  token,
	}
	c.mu.Unlock()

	c.startWatch()
}

func (c *Controller) becomeUnauthenticated(clearStore bool) {
	if clearStore {
		_ = c.store.Clear()
	}
	c.mu.Lock()
	c.session = Session{Status: StatusUnauthenticated}
	c.mu.Unlock()
	c.stopWatch()
}

func (c *Controller) startWatch() {
	c.stopWatch()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	c.mu.Lock()
	c.watchCancel = cancel
	c.watchDone = done
	c.mu.Unlock()

	go c.watch(ctx, done)
}

func (c *Controller) stopWatch() {
	c.mu.Lock()
	cancel := c.watchCancel
	done := c.watchDone
	c.watchCancel = nil
	c.watchDone = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

// watch checks local expiry on a fixed interval while authenticated.
// An expired token triggers a refresh; a failed refresh forces logout.
func (c *Controller) watch(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.checkExpiry(ctx)
		}
	}
}

func (c *Controller) checkExpiry(ctx context.Context) {
	c.mu.Lock()
	if c.session.Status != StatusAuthenticated {
		c.mu.Unlock()
		return
	}
	token := c.session.Token
	gen := c.generation
	c.mu.Unlock()

	if !c.tokenExpired(token) {
		return
	}

	res, err := c.api.Refresh(ctx, token)

	// One critical section for the generation re-check and everything it
	// protects. Logout bumps the generation under this lock before it
	// clears the store, so a stale result is either rejected here or its
	// writes land strictly before Logout's clear.
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.generation != gen {
		// A logout raced the refresh; its result is void.
		return
	}

	if err != nil {
		c.generation++
		c.session = Session{Status: StatusUnauthenticated}
		_ = c.store.Clear()
		// The watch goroutine ends itself; stopWatch here would deadlock
		// on its own done channel.
		if c.watchCancel != nil {
			c.watchCancel()
			c.watchCancel = nil
			c.watchDone = nil
		}
		return
	}

	_ = c.store.SetToken(res.Token)
	_ = c.store.SetUser(res.User)
	c.session.Token = res.Token
	c.session.User = res.User
}

// tokenExpired reads the expiry claim without signature verification.
// The client holds no signing secret; the server remains the authority
// and an optimistic read here only schedules refreshes.
func (c *Controller) tokenExpired(raw string) bool {
	var claims gjwt.RegisteredClaims
	if _, _, err := gjwt.NewParser().ParseUnverified(raw, &claims); err != nil {
		return true
	}
	if claims.ExpiresAt == nil {
		return true
	}
	return c.now().After(claims.ExpiresAt.Time)
}
