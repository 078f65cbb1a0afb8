package authz

import (
	"log/slog"
	"sync"
)

// Gate holds the permission set of the current session.
type Gate struct {
	mu      sync.RWMutex
	perms   PermissionSet
	subject string
	opts    []Option
	logger  *slog.Logger
}

// NewGate creates a Gate with no permissions. opts are used on every Refresh.
func NewGate(logger *slog.Logger, opts ...Option) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{opts: opts, logger: logger}
}

// Refresh recomputes the permission set from claims.
func (g *Gate) Refresh(claims Claims) PermissionSet {
	perms := DerivePermissions(claims, g.opts...)

	g.mu.Lock()
	g.perms = perms
	g.subject = claims.Subject()
	g.mu.Unlock()

	g.logger.Debug("session permissions refreshed", "subject", claims.Subject(), "permissions", perms.String())
	return perms
}

// RefreshFromToken decodes token and refreshes from its claims. A token that
// cannot be decoded clears the gate.
func (g *Gate) RefreshFromToken(token string) (PermissionSet, error) {
	if token == "" {
		g.Clear()
		return 0, nil
	}
	claims, err := ClaimsFromToken(token)
	if err != nil {
		g.Clear()
		return 0, err
	}
	return g.Refresh(claims), nil
}

// Grant adds permissions reported by the authority, e.g. from whoami.
func (g *Gate) Grant(subject string, tokens []string) PermissionSet {
	g.mu.Lock()
	defer g.mu.Unlock()
	if subject != "" {
		g.subject = subject
	}
	g.perms = g.perms.Union(ParsePermissions(tokens))
	return g.perms
}

// Clear drops the session.
func (g *Gate) Clear() {
	g.mu.Lock()
	g.perms = 0
	g.subject = ""
	g.mu.Unlock()
}

// Can reports whether the session appears to hold c.
func (g *Gate) Can(c Capability) bool {
	return g.Permissions().Has(c)
}

// Permissions returns the current set.
func (g *Gate) Permissions() PermissionSet {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.perms
}

// Subject returns the session's user id, if known.
func (g *Gate) Subject() string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.subject
}
