package bootstrap

import (
	"context"

	"github.com/amber7117/server-api/adapters/auth"
	"github.com/amber7117/server-api/core/events"
	"github.com/amber7117/server-api/core/hooks"
	"github.com/rs/zerolog"
)

// Helpers returns the named helpers every execution context can resolve.
func Helpers() map[string]any {
	return map[string]any{
		"rejectDuplicateKey": hooks.RejectDuplicateKey,
		"requireExisting":    hooks.RequireExisting,
	}
}

// RegisterHooks subscribes application-wide event handlers.
func RegisterHooks(bus *events.Bus, rolesResource string, perms *auth.RolePermissions, logger zerolog.Logger) {
	if perms != nil {
		// Role edits take effect on the next request instead of after the ttl.
		bus.Subscribe(rolesResource+".*", func(ctx context.Context, event events.Event) error {
			if event.Action == events.ActionIndexBuilt {
				return nil
			}
			perms.Invalidate()
			logger.Debug().
				Str("role", event.Key).
				Str("action", event.Action).
				Msg("role permissions cache invalidated")
			return nil
		})
	}

	bus.Subscribe("*", func(ctx context.Context, event events.Event) error {
		if event.Action == events.ActionIndexBuilt {
			return nil
		}
		logger.Debug().
			Str("resource", event.Resource).
			Str("action", event.Action).
			Str("key", event.Key).
			Msg("record changed")
		return nil
	})
}
