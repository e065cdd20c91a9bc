// Package definitions holds the resource catalog served by the binary.
package definitions

import "github.com/amber7117/server-api/core/resource"

// All returns every bundled resource definition. rolesResource names the
// resource that stores role permissions.
func All(rolesResource string) []*resource.Definition {
	return []*resource.Definition{
		Roles(rolesResource),
		FAQ(),
		Products(),
	}
}
