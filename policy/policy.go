package policy

import (
	"sort"
	"strings"
)

// Classification is the access class of a route.
type Classification int

const (
	// Public routes are reachable without a session.
	Public Classification = iota
	// Protected routes require any authenticated principal.
	Protected
	// AdminOnly routes additionally require the admin role.
	AdminOnly
)

// String returns the classification name for logs and audit events.
func (c Classification) String() string {
	switch c {
	case Protected:
		return "protected"
	case AdminOnly:
		return "admin-only"
	default:
		return "public"
	}
}

// Entry maps a path prefix to its classification.
type Entry struct {
	PathPrefix     string
	Classification Classification
}

// Policy is an immutable route classification table. Unlisted paths are
// public by default; that is a deliberate posture, not a fallthrough bug,
// because protected handlers still verify the principal themselves.
type Policy struct {
	entries []Entry
	exempt  []string
}

// New builds a Policy from entries. Entries are matched by longest
// prefix; among equal-length prefixes the earliest declaration wins.
// Exempt prefixes (assets, API, health) bypass classification entirely.
func New(entries []Entry, exemptPrefixes []string) *Policy {
	ordered := make([]Entry, len(entries))
	copy(ordered, entries)

	// Stable sort keeps declaration order for equal-length prefixes.
	sort.SliceStable(ordered, func(i, j int) bool {
		return len(ordered[i].PathPrefix) > len(ordered[j].PathPrefix)
	})

	ex := make([]string, len(exemptPrefixes))
	copy(ex, exemptPrefixes)

	return &Policy{entries: ordered, exempt: ex}
}

// Default returns the standard application route table: dashboards and
// account pages protected, /admin admin-only, auth pages public.
func Default() *Policy {
	return New([]Entry{
		{PathPrefix: "/dashboard", Classification: Protected},
		{PathPrefix: "/profile", Classification: Protected},
		{PathPrefix: "/users", Classification: Protected},
		{PathPrefix: "/settings", Classification: Protected},
		{PathPrefix: "/admin", Classification: AdminOnly},
		{PathPrefix: "/login", Classification: Public},
		{PathPrefix: "/register", Classification: Public},
		{PathPrefix: "/forgot-password", Classification: Public},
		{PathPrefix: "/reset-password", Classification: Public},
	}, []string{
		"/api/",
		"/static/",
		"/favicon.ico",
	})
}

// Classify resolves the access class for path. Unmatched paths are Public.
func (p *Policy) Classify(path string) Classification {
	for _, entry := range p.entries {
		if matchPrefix(path, entry.PathPrefix) {
			return entry.Classification
		}
	}
	return Public
}

// Exempt reports whether path bypasses route gating entirely.
func (p *Policy) Exempt(path string) bool {
	for _, prefix := range p.exempt {
		if strings.HasSuffix(prefix, "/") {
			if strings.HasPrefix(path, prefix) {
				return true
			}
			continue
		}
		if path == prefix || strings.HasPrefix(path, prefix+"/") {
			return true
		}
	}
	return false
}

// matchPrefix matches whole path segments: /admin matches /admin and
// /admin/users but not /administrator.
func matchPrefix(path, prefix string) bool {
	if !strings.HasPrefix(path, prefix) {
		return false
	}
	if len(path) == len(prefix) {
		return true
	}
	return path[len(prefix)] == '/'
}
