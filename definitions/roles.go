package definitions

import (
	"context"

	"github.com/amber7117/server-api/core/hooks"
	"github.com/amber7117/server-api/core/resource"
	"github.com/amber7117/server-api/core/validation"
	"github.com/amber7117/server-api/domain/access"
	"github.com/amber7117/server-api/domain/record"
)

// Roles stores the permission list of every non-admin role. The
// authenticator reads it when a token carries a role but no permissions.
// A role record is keyed by its code.
func Roles(key string) *resource.Definition {
	rejectDuplicate := hooks.RejectDuplicateKey(key, "role")

	return &resource.Definition{
		Key:      key,
		Security: access.Role(access.AdminRole),
		Create: &resource.Operation{
			ValidateSchema: validation.Schema{
				"key":         {Type: validation.String},
				"code":        {Type: validation.String, Required: true},
				"description": {Type: validation.String, AllowEmpty: true},
				"permissions": {Type: validation.Array, Items: validation.String, Required: true},
			},
			OnBefore: func(ctx context.Context, x *resource.Exec, c *resource.Call) error {
				if record.Key(c.Input) == "" {
					c.Input[record.KeyField] = c.Input["code"]
				}
				return rejectDuplicate(ctx, x, c)
			},
		},
		Update: &resource.Operation{
			ValidateSchema: validation.Schema{
				"description": {Type: validation.String, AllowEmpty: true},
				"permissions": {Type: validation.Array, Items: validation.String},
			},
		},
	}
}
