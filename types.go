package gatekeep

import "context"

// Role names recognized by the engine and the route policy. Roles are a
// closed set; permissions are free-form strings carried alongside.
const (
	// RoleUser is the default role for self-registered accounts.
	RoleUser = "user"
	// RoleAdmin grants access to admin-only routes.
	RoleAdmin = "admin"
)

// Principal is the authenticated identity reconstructed from a verified
// session token. It is returned by [Engine.Login], [Engine.CurrentUser],
// and propagated to request handlers by the middleware package.
//
// A Principal never carries credential material.
type Principal struct {
	ID          string   `json:"id"`
	Identifier  string   `json:"email"`
	Role        string   `json:"role"`
	Permissions []string `json:"permissions,omitempty"`
}

// HasPermission reports whether the principal carries the named permission.
func (p Principal) HasPermission(perm string) bool {
	for _, have := range p.Permissions {
		if have == perm {
			return true
		}
	}
	return false
}

// IsAdmin reports whether the principal's role is [RoleAdmin].
func (p Principal) IsAdmin() bool {
	return p.Role == RoleAdmin
}

// UserRecord is the account record returned by [UserProvider]. It carries
// the credential hash and the authorization attributes that get minted
// into session tokens.
type UserRecord struct {
	UserID       string
	Identifier   string
	PasswordHash string
	Role         string
	Permissions  []string
}

// Principal strips the credential hash from a record.
func (u UserRecord) Principal() Principal {
	return Principal{
		ID:          u.UserID,
		Identifier:  u.Identifier,
		Role:        u.Role,
		Permissions: u.Permissions,
	}
}

// CreateUserInput is the input for [UserProvider.CreateUser]. The password
// hash is produced by the engine; providers must store it opaquely.
type CreateUserInput struct {
	Identifier   string
	PasswordHash string
	Role         string
	Permissions  []string
}

// UserProvider is the interface callers implement to integrate gatekeep
// with their user storage. Lookup by identifier must not be case-folded or
// otherwise normalized by the provider; the engine passes identifiers
// through verbatim.
//
// Implementations must be safe for concurrent use.
type UserProvider interface {
	GetUserByIdentifier(ctx context.Context, identifier string) (UserRecord, error)
	GetUserByID(ctx context.Context, userID string) (UserRecord, error)
	CreateUser(ctx context.Context, input CreateUserInput) (UserRecord, error)
	UpdatePasswordHash(ctx context.Context, userID, newHash string) error
}
