package auth

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/amber7117/server-api/core/resource"
	"github.com/amber7117/server-api/domain/natsort"
	"github.com/amber7117/server-api/domain/record"
	"github.com/amber7117/server-api/domain/search"
	"github.com/amber7117/server-api/ports"
)

// RolePermissions reads role permissions from a roles resource. A role
// record has a "code" naming the role and a "permissions" list. Lookups
// are cached for ttl.
type RolePermissions struct {
	services resource.Locator
	resource string
	ttl      time.Duration
	clock    ports.Clock

	mu    sync.Mutex
	cache map[string]cachedRole
}

type cachedRole struct {
	permissions []string
	expires     time.Time
}

// NewRolePermissions creates a permission source over the named resource.
// A zero ttl disables caching.
func NewRolePermissions(services resource.Locator, resourceKey string, ttl time.Duration, clock ports.Clock) *RolePermissions {
	return &RolePermissions{
		services: services,
		resource: resourceKey,
		ttl:      ttl,
		clock:    clock,
		cache:    make(map[string]cachedRole),
	}
}

// Permissions implements ports.PermissionSource. An unknown role has no
// permissions.
func (r *RolePermissions) Permissions(ctx context.Context, role string) ([]string, error) {
	now := r.clock.Now()
	if r.ttl > 0 {
		r.mu.Lock()
		c, ok := r.cache[role]
		r.mu.Unlock()
		if ok && now.Before(c.expires) {
			return c.permissions, nil
		}
	}

	svc, err := r.services.Service(r.resource)
	if err != nil {
		return nil, err
	}
	if svc.Find == nil {
		return nil, fmt.Errorf("%s service has no find operation", r.resource)
	}

	out, err := svc.Find(ctx, record.Record{
		"all":    true,
		"filter": "code == " + strconv.Quote(role),
	}, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("find role %s: %w", role, err)
	}

	var perms []string
	if res, ok := out.(search.Result); ok && len(res.Data) > 0 {
		perms = toStrings(res.Data[0]["permissions"])
	}

	if r.ttl > 0 {
		r.mu.Lock()
		r.cache[role] = cachedRole{permissions: perms, expires: now.Add(r.ttl)}
		r.mu.Unlock()
	}
	return perms, nil
}

// Invalidate drops every cached role.
func (r *RolePermissions) Invalidate() {
	r.mu.Lock()
	defer r.mu.Unlock()
	clear(r.cache)
}

func toStrings(v any) []string {
	switch list := v.(type) {
	case []string:
		return list
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			out = append(out, natsort.String(item))
		}
		return out
	}
	return nil
}

// Ensure interface compliance.
var _ ports.PermissionSource = (*RolePermissions)(nil)
