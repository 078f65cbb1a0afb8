package authz

import (
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// Claims are the identity claims of a session.
type Claims map[string]any

// DefaultRoleClaim is the claim holding the session role.
const DefaultRoleClaim = "role"

// PermissionsClaim optionally lists capability tokens directly.
const PermissionsClaim = "permissions"

// DefaultRoles maps roles to the capabilities the authority grants them.
func DefaultRoles() map[string][]Capability {
	staff := []Capability{ManageBooks, ManageLoans, ViewAllLoans}
	return map[string][]Capability{
		"admin":     staff,
		"librarian": staff,
		"user":      nil,
	}
}

type options struct {
	roleClaim string
	roles     map[string][]Capability
}

// Option configures permission derivation.
type Option func(*options)

// WithRoleClaim reads the role from key instead of DefaultRoleClaim.
func WithRoleClaim(key string) Option {
	return func(o *options) {
		if key != "" {
			o.roleClaim = key
		}
	}
}

// WithRoles replaces the role mapping.
func WithRoles(roles map[string][]Capability) Option {
	return func(o *options) {
		if roles != nil {
			o.roles = roles
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{roleClaim: DefaultRoleClaim, roles: DefaultRoles()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// DerivePermissions maps claims to a PermissionSet. It has no side effects.
// Absent claims, unknown roles and unknown tokens all contribute nothing.
func DerivePermissions(claims Claims, opts ...Option) PermissionSet {
	if len(claims) == 0 {
		return 0
	}
	o := buildOptions(opts)

	var p PermissionSet
	for _, role := range stringsOf(claims[o.roleClaim]) {
		p |= NewPermissionSet(o.roles[strings.ToLower(role)]...)
	}
	p |= ParsePermissions(stringsOf(claims[PermissionsClaim]))
	return p
}

// Subject returns the "sub" claim.
func (c Claims) Subject() string {
	s, _ := c["sub"].(string)
	return s
}

// ClaimsFromToken decodes the claims of a JWT without verifying its
// signature. The result is for display decisions only.
func ClaimsFromToken(token string) (Claims, error) {
	parsed, _, err := jwt.NewParser().ParseUnverified(strings.TrimSpace(token), jwt.MapClaims{})
	if err != nil {
		return nil, fmt.Errorf("authz: decode token claims: %w", err)
	}
	mc, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("authz: unexpected claims type %T", parsed.Claims)
	}
	return Claims(mc), nil
}

// stringsOf accepts a single string or a list of strings.
func stringsOf(v any) []string {
	switch t := v.(type) {
	case string:
		if t == "" {
			return nil
		}
		return []string{t}
	case []string:
		return t
	case []any:
		out := make([]string, 0, len(t))
		for _, e := range t {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
