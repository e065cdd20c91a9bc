// Package access provides the actor and security policy value types.
// This package has NO dependencies on I/O or external packages.
package access

import "slices"

// AdminRole bypasses role and permission lists.
const AdminRole = "admin"

// Actor is the authenticated caller.
type Actor struct {
	ID          string
	Email       string
	Role        string
	Permissions []string
}

// Policy is a declarative access-control descriptor.
//
// The zero Policy is an object policy with no constraints: it requires an
// authenticated actor and nothing else. Use Public and Authenticated for the
// boolean forms.
type Policy struct {
	// Roles accepts actors whose role is listed.
	Roles []string

	// Permissions accepts actors holding at least one listed permission.
	Permissions []string

	// RolesFunc and PermissionsFunc compute the lists per actor and take
	// precedence over the static lists.
	RolesFunc       func(a *Actor) []string
	PermissionsFunc func(a *Actor) []string

	// DefaultPermissions synthesizes <RESOURCE>_<ACTION> permissions for
	// every operation that does not carry a boolean policy.
	DefaultPermissions bool

	// IsAllowed replaces every other check when set.
	IsAllowed func(p *Policy, a *Actor) bool

	// ExtraCheck must also pass, after the role and permission checks.
	ExtraCheck func(permissions, roles []string, a *Actor) bool

	boolean bool
	public  bool
}

// Public returns the boolean policy that allows unauthenticated access.
func Public() *Policy {
	return &Policy{boolean: true, public: true}
}

// Authenticated returns the boolean policy that requires any actor.
func Authenticated() *Policy {
	return &Policy{boolean: true}
}

// Role returns a policy restricted to the given roles.
func Role(roles ...string) *Policy {
	return &Policy{Roles: roles}
}

// IsBoolean reports whether p was declared as a plain true/false.
func (p *Policy) IsBoolean() bool {
	return p != nil && p.boolean
}

// IsPublic reports whether p allows unauthenticated callers. A nil policy
// is public.
func (p *Policy) IsPublic() bool {
	return p == nil || p.public
}

// Clone returns a deep copy of p.
func (p *Policy) Clone() *Policy {
	if p == nil {
		return nil
	}
	cp := *p
	cp.Roles = slices.Clone(p.Roles)
	cp.Permissions = slices.Clone(p.Permissions)
	return &cp
}
