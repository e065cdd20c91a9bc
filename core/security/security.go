// Package security resolves per-operation access policies and evaluates
// them against the authenticated actor.
package security

import (
	"slices"
	"strings"

	"github.com/amber7117/server-api/domain/access"
	"github.com/amber7117/server-api/pkg/apierr"
)

// Standard operation names.
const (
	OpCreate = "create"
	OpFind   = "find"
	OpGet    = "get"
	OpUpdate = "update"
	OpRemove = "remove"
)

// PermissionName returns the synthesized permission for an operation:
// <RESOURCE>_READ for reads, <RESOURCE>_<OP> otherwise.
func PermissionName(resourceKey, op string) string {
	action := op
	if op == OpGet || op == OpFind {
		action = "read"
	}
	return strings.ToUpper(resourceKey) + "_" + strings.ToUpper(action)
}

// Resolve returns the effective policy for one operation of a resource.
// The operation-level policy wins when set; otherwise the resource-level
// one applies. When the resource-level policy enables default permissions
// and the resolved policy is not boolean, the synthesized permission is
// appended to a copy.
func Resolve(resourceKey, op string, resourceLevel, opLevel *access.Policy) *access.Policy {
	policy := opLevel
	if policy == nil {
		policy = resourceLevel
	}

	if resourceLevel == nil || !resourceLevel.DefaultPermissions || policy.IsBoolean() {
		return policy
	}

	resolved := policy.Clone()
	if opLevel == nil {
		// The resource-level flag must not leak into the resolved copy.
		resolved.DefaultPermissions = false
	}
	resolved.Permissions = append(resolved.Permissions, PermissionName(resourceKey, op))
	return resolved
}

// Allowed reports whether actor satisfies policy. A public policy allows
// everyone; any other policy requires an actor.
func Allowed(policy *access.Policy, actor *access.Actor) bool {
	if policy.IsPublic() {
		return true
	}
	if actor == nil {
		return false
	}
	if policy.IsAllowed != nil {
		return policy.IsAllowed(policy, actor)
	}

	roles := policy.Roles
	if policy.RolesFunc != nil {
		roles = policy.RolesFunc(actor)
	}
	permissions := policy.Permissions
	if policy.PermissionsFunc != nil {
		permissions = policy.PermissionsFunc(actor)
	}

	allowed := true
	if actor.Role != access.AdminRole {
		if len(roles) > 0 && !slices.Contains(roles, actor.Role) {
			allowed = false
		}
		if len(permissions) > 0 && !holdsAny(actor.Permissions, permissions) {
			allowed = false
		}
	}

	if policy.ExtraCheck != nil {
		allowed = allowed && policy.ExtraCheck(permissions, roles, actor)
	}
	return allowed
}

// Authorize returns nil when actor may call the operation, a 401 when the
// policy needs an actor and there is none, and a 403 naming the resource
// when the actor is denied.
func Authorize(resourceKey string, policy *access.Policy, actor *access.Actor) error {
	if policy.IsPublic() {
		return nil
	}
	if actor == nil {
		return apierr.Unauthorized("No Valid Auth Token Found")
	}
	if !Allowed(policy, actor) {
		return apierr.Forbidden(resourceKey)
	}
	return nil
}

func holdsAny(held, wanted []string) bool {
	for _, w := range wanted {
		for _, h := range held {
			if strings.EqualFold(w, h) {
				return true
			}
		}
	}
	return false
}
