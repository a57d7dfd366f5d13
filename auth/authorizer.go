package auth

import (
	"context"
	"fmt"
	"slices"
)

// Actions checked by the HTTP API.
const (
	ActionGenerate       = "generate"
	ActionReadEndpoints  = "endpoints:read"
	ActionResetEndpoints = "endpoints:reset"
	ActionReadMetrics    = "metrics:read"
	ActionResetMetrics   = "metrics:reset"
)

// Authorizer determines if an identity is allowed to perform an action.
type Authorizer interface {
	// Authorize returns nil if permitted, or an error matching ErrForbidden.
	Authorize(ctx context.Context, req *AuthzRequest) error

	// Name returns a unique identifier for this authorizer.
	Name() string
}

// AuthzRequest contains the information needed for authorization.
type AuthzRequest struct {
	// Subject is the identity making the request.
	Subject *Identity

	// Action is the requested action, e.g. ActionResetEndpoints.
	Action string

	// Resource optionally names the target, e.g. an endpoint name.
	Resource string
}

// AuthzError represents an authorization failure.
type AuthzError struct {
	Subject  string
	Action   string
	Resource string
	Reason   string
}

// Error returns the error message.
func (e *AuthzError) Error() string {
	return fmt.Sprintf("authorization denied: subject=%q action=%q resource=%q reason=%q",
		e.Subject, e.Action, e.Resource, e.Reason)
}

// Is reports whether target is ErrForbidden.
func (e *AuthzError) Is(target error) bool {
	return target == ErrForbidden
}

// AllowAllAuthorizer permits all requests.
type AllowAllAuthorizer struct{}

// Authorize always returns nil.
func (AllowAllAuthorizer) Authorize(context.Context, *AuthzRequest) error { return nil }

// Name returns "allow_all".
func (AllowAllAuthorizer) Name() string { return "allow_all" }

// RoleAuthorizer grants each action to a fixed set of roles.
//
// Actions missing from Rules are open to any authenticated identity.
// AdminRole, when set, is granted every action.
type RoleAuthorizer struct {
	Rules     map[string][]string
	AdminRole string
}

// DefaultRoleAuthorizer reserves resets for "operator" and grants
// everything to "admin".
func DefaultRoleAuthorizer() *RoleAuthorizer {
	return &RoleAuthorizer{
		Rules: map[string][]string{
			ActionResetEndpoints: {"operator"},
			ActionResetMetrics:   {"operator"},
		},
		AdminRole: "admin",
	}
}

// Name returns "roles".
func (a *RoleAuthorizer) Name() string { return "roles" }

// Authorize checks the subject's roles against the action's rule.
func (a *RoleAuthorizer) Authorize(_ context.Context, req *AuthzRequest) error {
	deny := func(subject, reason string) error {
		return &AuthzError{Subject: subject, Action: req.Action, Resource: req.Resource, Reason: reason}
	}

	if req.Subject == nil {
		return deny("", "no identity provided")
	}
	if req.Subject.IsExpired() {
		return deny(req.Subject.Principal, "identity expired")
	}
	if a.AdminRole != "" && req.Subject.HasRole(a.AdminRole) {
		return nil
	}

	allowed, ok := a.Rules[req.Action]
	if !ok {
		return nil
	}
	if slices.ContainsFunc(allowed, req.Subject.HasRole) {
		return nil
	}
	return deny(req.Subject.Principal, fmt.Sprintf("requires one of roles %v", allowed))
}

var (
	_ Authorizer = AllowAllAuthorizer{}
	_ Authorizer = (*RoleAuthorizer)(nil)
)
