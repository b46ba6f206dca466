package token

import (
	"crypto/ed25519"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// SigningMethod selects the pinned signature algorithm for a [Codec].
type SigningMethod string

const (
	// MethodHS256 signs with a shared HMAC secret.
	MethodHS256 SigningMethod = "hs256"
	// MethodEd25519 signs with an Ed25519 key pair.
	MethodEd25519 SigningMethod = "ed25519"
)

var (
	// ErrMalformed is returned for input that does not parse as a token.
	ErrMalformed = errors.New("malformed token")
	// ErrInvalid is returned for bad signatures, wrong algorithms, and
	// claim validation failures other than expiry.
	ErrInvalid = errors.New("invalid token signature")
	// ErrExpired is returned for genuine tokens past their expiry.
	ErrExpired = errors.New("token expired")
)

// Config configures a [Codec]. TTL applies to every minted token; Leeway
// is tolerated clock skew during verification only.
type Config struct {
	TTL           time.Duration
	SigningMethod SigningMethod
	Secret        []byte // hs256
	PrivateKey    []byte // ed25519, raw seed/key or PEM
	PublicKey     []byte // ed25519, raw or PEM
	Issuer        string
	Leeway        time.Duration
}

// Codec mints and verifies session tokens. A Codec is immutable after
// construction and safe for concurrent use.
type Codec struct {
	config Config
}

// Claims is the validated claim set carried by a session token. Subject
// holds the user ID; ID (jti) is unique per mint and keys the revocation
// denylist.
type Claims struct {
	Identifier  string   `json:"identifier"`
	Role        string   `json:"role"`
	Permissions []string `json:"permissions,omitempty"`
	jwt.RegisteredClaims
}

// NewCodec validates cfg and returns a ready Codec.
func NewCodec(cfg Config) (*Codec, error) {
	if cfg.TTL <= 0 {
		return nil, errors.New("invalid TTL configuration")
	}
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("invalid leeway configuration")
	}

	switch cfg.SigningMethod {
	case MethodHS256:
		if len(cfg.Secret) == 0 {
			return nil, errors.New("hs256 requires a secret")
		}
	case MethodEd25519:
		if len(cfg.PrivateKey) > 0 {
			if _, err := parseEdPrivateKey(cfg.PrivateKey); err != nil {
				return nil, err
			}
		}
		if len(cfg.PublicKey) == 0 {
			return nil, errors.New("ed25519 requires a public key")
		}
		if _, err := parseEdPublicKey(cfg.PublicKey); err != nil {
			return nil, err
		}
	default:
		return nil, errors.New("unsupported signing method")
	}

	return &Codec{config: cfg}, nil
}

// Mint produces a signed token for the given identity. Expiry is now+TTL;
// a fresh jti is assigned on every call, so a refreshed session is a new
// token rather than a mutation of the old one.
func (c *Codec) Mint(userID, identifier, role string, permissions []string) (string, error) {
	now := time.Now()

	claims := Claims{
		Identifier:  identifier,
		Role:        role,
		Permissions: permissions,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   userID,
			Issuer:    c.config.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(c.config.TTL)),
		},
	}

	tok := jwt.NewWithClaims(c.method(), claims)

	key, err := c.signKey()
	if err != nil {
		return "", err
	}

	return tok.SignedString(key)
}

// Verify checks the signature and expiry of raw and returns its claims.
// Failures are classified: [ErrExpired] for genuine-but-stale tokens,
// [ErrMalformed] for unparseable input, [ErrInvalid] for everything else.
// No authorization decision may be made from an error return.
func (c *Codec) Verify(raw string) (*Claims, error) {
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{c.method().Alg()}),
	}
	if c.config.Leeway > 0 {
		options = append(options, jwt.WithLeeway(c.config.Leeway))
	}
	if c.config.Issuer != "" {
		options = append(options, jwt.WithIssuer(c.config.Issuer))
	}

	parser := jwt.NewParser(options...)
	tok, err := parser.ParseWithClaims(raw, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if t.Method.Alg() != c.method().Alg() {
			return nil, ErrInvalid
		}
		return c.verifyKey()
	})
	if err != nil {
		return nil, classifyParseError(err)
	}

	claims, ok := tok.Claims.(*Claims)
	if !ok || !tok.Valid {
		return nil, ErrInvalid
	}
	if claims.Subject == "" {
		return nil, ErrInvalid
	}

	return claims, nil
}

// VerifyAllowExpired checks the signature and issuer of raw but tolerates
// a past expiry. Refresh flows use it to accept a genuine token whose
// lifetime has lapsed while still rejecting forgeries.
func (c *Codec) VerifyAllowExpired(raw string) (*Claims, error) {
	claims, err := c.Verify(raw)
	if err == nil {
		return claims, nil
	}
	if !errors.Is(err, ErrExpired) {
		return nil, err
	}

	// Signature already proved valid; re-parse without claim validation
	// to recover the claim set.
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{c.method().Alg()}),
		jwt.WithoutClaimsValidation(),
	)
	tok, err := parser.ParseWithClaims(raw, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		return c.verifyKey()
	})
	if err != nil {
		return nil, classifyParseError(err)
	}

	claims, ok := tok.Claims.(*Claims)
	if !ok {
		return nil, ErrInvalid
	}
	if claims.Subject == "" {
		return nil, ErrInvalid
	}
	if c.config.Issuer != "" && claims.Issuer != c.config.Issuer {
		return nil, ErrInvalid
	}

	return claims, nil
}

// ExpiresAt decodes the expiry claim without verifying the signature.
// It exists for optimistic client-side checks only; callers must never
// authorize against it.
func (c *Codec) ExpiresAt(raw string) (time.Time, error) {
	var claims Claims
	if _, _, err := jwt.NewParser().ParseUnverified(raw, &claims); err != nil {
		return time.Time{}, ErrMalformed
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, ErrMalformed
	}
	return claims.ExpiresAt.Time, nil
}

// IsExpired reports whether raw carries an expiry in the past. Unparseable
// input counts as expired, matching how clients treat corrupt stored state.
func (c *Codec) IsExpired(raw string) bool {
	exp, err := c.ExpiresAt(raw)
	if err != nil {
		return true
	}
	return time.Now().After(exp)
}

func classifyParseError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrExpired
	case errors.Is(err, jwt.ErrTokenMalformed):
		return ErrMalformed
	default:
		return ErrInvalid
	}
}

func (c *Codec) method() jwt.SigningMethod {
	switch c.config.SigningMethod {
	case MethodEd25519:
		return jwt.SigningMethodEdDSA
	default:
		return jwt.SigningMethodHS256
	}
}

func (c *Codec) signKey() (interface{}, error) {
	switch c.config.SigningMethod {
	case MethodEd25519:
		return parseEdPrivateKey(c.config.PrivateKey)
	default:
		return c.config.Secret, nil
	}
}

func (c *Codec) verifyKey() (interface{}, error) {
	switch c.config.SigningMethod {
	case MethodEd25519:
		return parseEdPublicKey(c.config.PublicKey)
	default:
		return c.config.Secret, nil
	}
}

func parseEdPrivateKey(key []byte) (ed25519.PrivateKey, error) {
	if len(key) == ed25519.PrivateKeySize {
		return ed25519.PrivateKey(key), nil
	}
	parsed, err := jwt.ParseEdPrivateKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("invalid ed25519 private key")
	}
	edKey, ok := parsed.(ed25519.PrivateKey)
	if !ok {
		return nil, errors.New("invalid ed25519 private key type")
	}
	return edKey, nil
}

func parseEdPublicKey(key []byte) (ed25519.PublicKey, error) {
	if len(key) == ed25519.PublicKeySize {
		return ed25519.PublicKey(key), nil
	}
	parsed, err := jwt.ParseEdPublicKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("invalid ed25519 public key")
	}
	edKey, ok := parsed.(ed25519.PublicKey)
	if !ok {
		return nil, errors.New("invalid ed25519 public key type")
	}
	return edKey, nil
}
