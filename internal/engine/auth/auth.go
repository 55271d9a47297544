package auth

import (
	"fmt"

	"tareas/internal/domain"
)

// ForbiddenError indicates the identity lacks the scope an action needs.
type ForbiddenError struct {
	Permission string
}

func (e ForbiddenError) Error() string {
	return fmt.Sprintf("permission %s required", e.Permission)
}

// StatusKind tags the resolved session state.
type StatusKind int

const (
	StatusUnknown StatusKind = iota
	StatusAuthenticated
	StatusUnauthenticated
)

func (k StatusKind) String() string {
	switch k {
	case StatusAuthenticated:
		return "authenticated"
	case StatusUnauthenticated:
		return "unauthenticated"
	default:
		return "unknown"
	}
}

// Status is the outcome of resolving the current session. Identity is only
// meaningful when Kind is StatusAuthenticated.
type Status struct {
	Kind     StatusKind
	Identity domain.Identity
}

func Unknown() Status         { return Status{Kind: StatusUnknown} }
func Unauthenticated() Status { return Status{Kind: StatusUnauthenticated} }

func Authenticated(id domain.Identity) Status {
	return Status{Kind: StatusAuthenticated, Identity: id}
}

// Scope is the visibility an identity has over tasks and reference data.
type Scope int

const (
	ScopeNone Scope = iota
	ScopeOperator
	ScopeSiteAdmin
	ScopeCompanyAdmin
	ScopeSuperAdmin
)

func (s Scope) String() string {
	switch s {
	case ScopeOperator:
		return "operator"
	case ScopeSiteAdmin:
		return "site_admin"
	case ScopeCompanyAdmin:
		return "company_admin"
	case ScopeSuperAdmin:
		return "superadmin"
	default:
		return "none"
	}
}

// ScopeOf derives the scope from the identity's superuser flag and profile.
// An identity without a profile gets ScopeNone.
func ScopeOf(id domain.Identity) Scope {
	if id.IsSuperuser {
		return ScopeSuperAdmin
	}
	if id.Profile == nil {
		return ScopeNone
	}
	switch id.Profile.Role {
	case domain.RoleAdmin:
		if id.Profile.Site != nil {
			return ScopeSiteAdmin
		}
		return ScopeCompanyAdmin
	case domain.RoleOperator:
		return ScopeOperator
	default:
		return ScopeNone
	}
}

// IsAdmin reports whether the identity may use administrative views.
func IsAdmin(id domain.Identity) bool {
	s := ScopeOf(id)
	return s == ScopeSuperAdmin || s == ScopeSiteAdmin || s == ScopeCompanyAdmin
}

// Route names a destination the gate can send a caller to.
type Route string

const (
	RouteLogin Route = "login"
	RouteTasks Route = "tasks"
)

type DecisionKind int

const (
	DecisionPending DecisionKind = iota
	DecisionAllow
	DecisionRedirect
)

// Decision is the outcome of Authorize. Route is set only for redirects.
type Decision struct {
	Kind  DecisionKind
	Route Route
}

func (d Decision) Allowed() bool { return d.Kind == DecisionAllow }

func (d Decision) String() string {
	switch d.Kind {
	case DecisionAllow:
		return "allow"
	case DecisionRedirect:
		return "redirect:" + string(d.Route)
	default:
		return "pending"
	}
}

// Authorize decides whether a view may be shown for the given session status.
func Authorize(status Status, requireAdmin bool) Decision {
	switch status.Kind {
	case StatusUnknown:
		return Decision{Kind: DecisionPending}
	case StatusUnauthenticated:
		return Decision{Kind: DecisionRedirect, Route: RouteLogin}
	}
	if requireAdmin && !IsAdmin(status.Identity) {
		return Decision{Kind: DecisionRedirect, Route: RouteTasks}
	}
	return Decision{Kind: DecisionAllow}
}
