// Package policy classifies request paths as public, protected, or
// admin-only from a static prefix table built once at startup.
//
// The table is ordered and matched longest-prefix-first, so a path under
// both /admin and a broader protected prefix resolves to the admin entry.
// Every caller that needs a route decision consults the same [Policy];
// classification logic is never re-derived elsewhere.
package policy
