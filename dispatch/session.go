package dispatch

import (
	"context"
	"strings"
)

// Role is the caller's role. It is a closed set; unknown strings parse to
// RoleViewer, which carries no capabilities.
type Role string

const (
	RoleViewer     Role = "viewer"
	RoleDispatcher Role = "dispatcher"
	RoleSupervisor Role = "supervisor"
	RoleAdmin      Role = "admin"
)

type Capability string

const (
	CapEdit    Capability = "edit"
	CapApprove Capability = "approve"
)

var roleCapabilities = map[Role][]Capability{
	RoleViewer:     nil,
	RoleDispatcher: {CapEdit},
	RoleSupervisor: {CapEdit, CapApprove},
	RoleAdmin:      {CapEdit, CapApprove},
}

// ParseRole maps a header or config value onto the closed role set.
func ParseRole(s string) Role {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := roleCapabilities[r]; ok {
		return r
	}
	return RoleViewer
}

// Can reports whether the role carries capability c.
func (r Role) Can(c Capability) bool {
	for _, have := range roleCapabilities[r] {
		if have == c {
			return true
		}
	}
	return false
}

// Session identifies who is acting. Every mutating operation takes one.
type Session struct {
	UserID string
	Role   Role
}

// SystemSession is used by background jobs (exception sweeps, scenarios).
var SystemSession = Session{UserID: "system", Role: RoleAdmin}

func (s Session) actor() string {
	if s.UserID == "" {
		return string(s.Role)
	}
	return s.UserID
}

func (s Session) require(c Capability, action string) error {
	if !s.Role.Can(c) {
		return &ForbiddenError{Role: s.Role, Capability: c, Action: action}
	}
	return nil
}

// ForbiddenError is returned when the session role lacks a capability.
type ForbiddenError struct {
	Role       Role
	Capability Capability
	Action     string
}

func (e *ForbiddenError) Error() string {
	return "role " + string(e.Role) + " lacks " + string(e.Capability) + " capability to " + e.Action
}

func (e *ForbiddenError) Unwrap() error { return ErrForbidden }

type sessionKey struct{}

// WithSession stores s in ctx.
func WithSession(ctx context.Context, s Session) context.Context {
	return context.WithValue(ctx, sessionKey{}, s)
}

// SessionFrom returns the session in ctx, or a viewer session when absent.
func SessionFrom(ctx context.Context) Session {
	if s, ok := ctx.Value(sessionKey{}).(Session); ok {
		return s
	}
	return Session{Role: RoleViewer}
}
