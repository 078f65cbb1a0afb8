// Package authz derives the capabilities a session appears to have from its
// identity claims.
//
// The result only decides which controls a front end offers. It is never a
// security boundary: the authority re-checks every request, and a client that
// hides a control by mistake (or shows one it should not) changes nothing
// about what the authority allows.
package authz

import (
	"slices"
	"strings"
)

// Capability is one permission token.
type Capability string

const (
	ManageBooks  Capability = "manage_books"
	ManageLoans  Capability = "manage_loans"
	ViewAllLoans Capability = "view_all_loans"
)

var capabilities = []Capability{ManageBooks, ManageLoans, ViewAllLoans}

// PermissionSet is an immutable set of capabilities. The zero value is empty.
type PermissionSet uint8

func bit(c Capability) PermissionSet {
	i := slices.Index(capabilities, c)
	if i < 0 {
		return 0
	}
	return 1 << i
}

// NewPermissionSet builds a set from capabilities, ignoring unknown ones.
func NewPermissionSet(caps ...Capability) PermissionSet {
	var p PermissionSet
	for _, c := range caps {
		p |= bit(c)
	}
	return p
}

// ParsePermissions builds a set from raw tokens such as the authority's
// whoami payload. Unknown tokens are ignored.
func ParsePermissions(tokens []string) PermissionSet {
	var p PermissionSet
	for _, t := range tokens {
		p |= bit(Capability(strings.ToLower(strings.TrimSpace(t))))
	}
	return p
}

// Has reports whether c is in the set.
func (p PermissionSet) Has(c Capability) bool {
	b := bit(c)
	return b != 0 && p&b == b
}

// Union returns the capabilities in p or q.
func (p PermissionSet) Union(q PermissionSet) PermissionSet {
	return p | q
}

// Empty reports whether the set holds nothing.
func (p PermissionSet) Empty() bool {
	return p == 0
}

// List returns the capabilities in a stable order.
func (p PermissionSet) List() []Capability {
	var out []Capability
	for _, c := range capabilities {
		if p.Has(c) {
			out = append(out, c)
		}
	}
	return out
}

func (p PermissionSet) String() string {
	list := p.List()
	parts := make([]string, len(list))
	for i, c := range list {
		parts[i] = string(c)
	}
	return "[" + strings.Join(parts, " ") + "]"
}
