package gatekeep

import (
	"errors"
	"net/http"
	"time"
)

// Config is the full engine configuration. Instances are cloned on
// construction and treated as immutable afterwards; there is no process-wide
// configuration state.
type Config struct {
	JWT      JWTConfig
	Password PasswordConfig
	Cookie   CookieConfig
	Account  AccountConfig
	Security SecurityConfig
	Audit    AuditConfig
	Metrics  MetricsConfig
}

/*
====================================
JWT CONFIG
====================================
*/

// JWTConfig configures the token codec. Exactly one signing method is
// pinned per process; tokens presented with any other algorithm are
// rejected during verification.
type JWTConfig struct {
	AccessTTL     time.Duration
	SigningMethod string // "hs256" (default), "ed25519" optional
	Secret        []byte // hs256 signing secret
	PrivateKey    []byte // ed25519 private key (raw or PEM)
	PublicKey     []byte // ed25519 public key (raw or PEM)
	Issuer        string
	Leeway        time.Duration
}

/*
====================================
PASSWORD CONFIG
====================================
*/

// PasswordConfig holds argon2id parameters. UpgradeOnLogin re-hashes
// credentials transparently when parameters are raised.
type PasswordConfig struct {
	Memory         uint32 // in KB
	Time           uint32
	Parallelism    uint8
	SaltLength     uint32
	KeyLength      uint32
	UpgradeOnLogin bool
}

/*
====================================
COOKIE CONFIG
====================================
*/

// CookieConfig shapes the session cookie set by the httpapi handlers and
// cleared by the guard middleware. The cookie is always HttpOnly; Secure
// follows [SecurityConfig.ProductionMode] unless forced here.
type CookieConfig struct {
	Name     string
	Path     string
	Domain   string
	SameSite http.SameSite
}

/*
====================================
ACCOUNT CONFIG
====================================
*/

// AccountConfig governs self-registration. RolePermissions is the static
// role → permission-set table used when minting tokens for accounts whose
// provider record carries no explicit permission list.
type AccountConfig struct {
	RegistrationEnabled bool
	DefaultRole         string
	RolePermissions     map[string][]string
}

/*
====================================
SECURITY CONFIG
====================================
*/

// SecurityConfig holds throttling and hardening knobs. Throttles require a
// Redis client on the builder; without one they must stay disabled.
type SecurityConfig struct {
	ProductionMode          bool
	EnableIPThrottle        bool
	EnableRefreshThrottle   bool
	MaxLoginAttempts        int
	LoginCooldownDuration   time.Duration
	MaxRefreshAttempts      int
	RefreshCooldownDuration time.Duration

	// RevocationFailClosed rejects tokens when the denylist backend is
	// unreachable. Default is fail-open: revocation stays best-effort and
	// verification falls back to pure signature+expiry checking.
	RevocationFailClosed bool
}

// AuditConfig controls the buffered audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// MetricsConfig controls in-process counters and latency histograms.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

// DefaultConfig returns the configuration used by the example server and
// the test suites: 24h HS256 tokens, argon2id at the interactive preset,
// strict same-site cookies, registration enabled with the "user" role.
func DefaultConfig() Config {
	return Config{
		JWT: JWTConfig{
			AccessTTL:     24 * time.Hour,
			SigningMethod: "hs256",
			Issuer:        "gatekeep",
			Leeway:        30 * time.Second,
		},
		Password: PasswordConfig{
			Memory:         64 * 1024,
			Time:           2,
			Parallelism:    2,
			SaltLength:     16,
			KeyLength:      32,
			UpgradeOnLogin: true,
		},
		Cookie: CookieConfig{
			Name:     "authToken",
			Path:     "/",
			SameSite: http.SameSiteStrictMode,
		},
		Account: AccountConfig{
			RegistrationEnabled: true,
			DefaultRole:         RoleUser,
			RolePermissions: map[string][]string{
				RoleUser:  {"read", "write"},
				RoleAdmin: {"read", "write", "delete", "admin"},
			},
		},
		Security: SecurityConfig{
			EnableIPThrottle:        true,
			EnableRefreshThrottle:   true,
			MaxLoginAttempts:        5,
			LoginCooldownDuration:   15 * time.Minute,
			MaxRefreshAttempts:      30,
			RefreshCooldownDuration: time.Minute,
		},
		Audit: AuditConfig{
			Enabled:    true,
			BufferSize: 256,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
	}
}

// Validate rejects configurations the engine cannot run safely with.
func (c Config) Validate() error {
	if c.JWT.AccessTTL <= 0 {
		return errors.New("JWT.AccessTTL must be positive")
	}
	switch c.JWT.SigningMethod {
	case "hs256":
		if len(c.JWT.Secret) < 32 {
			return errors.New("hs256 requires a secret of at least 32 bytes")
		}
	case "ed25519":
		if len(c.JWT.PrivateKey) == 0 && len(c.JWT.PublicKey) == 0 {
			return errors.New("ed25519 requires a key pair")
		}
	default:
		return errors.New("unsupported signing method")
	}
	if c.Cookie.Name == "" {
		return errors.New("Cookie.Name must not be empty")
	}
	if c.Account.RegistrationEnabled {
		if c.Account.DefaultRole == "" {
			return errors.New("Account.DefaultRole required when registration is enabled")
		}
		if _, ok := c.Account.RolePermissions[c.Account.DefaultRole]; !ok {
			return errors.New("Account.DefaultRole missing from RolePermissions")
		}
	}
	if c.Security.MaxLoginAttempts < 0 || c.Security.MaxRefreshAttempts < 0 {
		return errors.New("attempt limits must not be negative")
	}
	return nil
}

func cloneConfig(c Config) Config {
	out := c
	out.JWT.Secret = cloneBytes(c.JWT.Secret)
	out.JWT.PrivateKey = cloneBytes(c.JWT.PrivateKey)
	out.JWT.PublicKey = cloneBytes(c.JWT.PublicKey)

	if c.Account.RolePermissions != nil {
		out.Account.RolePermissions = make(map[string][]string, len(c.Account.RolePermissions))
		for role, perms := range c.Account.RolePermissions {
			out.Account.RolePermissions[role] = append([]string(nil), perms...)
		}
	}

	return out
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
