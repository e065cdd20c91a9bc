// Package hooks provides reusable operation hooks for resource definitions.
package hooks

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/amber7117/server-api/core/resource"
	"github.com/amber7117/server-api/domain/natsort"
	"github.com/amber7117/server-api/domain/record"
	"github.com/amber7117/server-api/pkg/apierr"
)

// RejectDuplicateKey returns a create hook that fails with 409 when a
// record with the input key already exists in service. label names the
// entity in the error message; empty uses a generic message.
func RejectDuplicateKey(service, label string) resource.Hook {
	return func(ctx context.Context, x *resource.Exec, c *resource.Call) error {
		key := record.Key(c.Input)
		if key == "" {
			return nil
		}

		exists, err := keyExists(ctx, x, service, key)
		if err != nil {
			return err
		}
		if !exists {
			return nil
		}
		if label != "" {
			return apierr.Conflict(fmt.Sprintf("The %s already exists", label))
		}
		return apierr.Conflict("This key already exists please try changing the key")
	}
}

// RequireExisting returns a hook that checks the keys referenced by field
// exist in service. A single key that is missing fails with 400; any
// missing key of a list fails with 404. Absent fields pass.
func RequireExisting(service, field string) resource.Hook {
	return func(ctx context.Context, x *resource.Exec, c *resource.Call) error {
		data := c.Input
		if c.Data != nil {
			data = c.Data
		}

		switch v := data[field].(type) {
		case nil:
			return nil
		case []any:
			for _, item := range v {
				if err := requireOne(ctx, x, service, natsort.String(item), http.StatusNotFound); err != nil {
					return err
				}
			}
			return nil
		case []string:
			for _, item := range v {
				if err := requireOne(ctx, x, service, item, http.StatusNotFound); err != nil {
					return err
				}
			}
			return nil
		default:
			return requireOne(ctx, x, service, natsort.String(v), http.StatusBadRequest)
		}
	}
}

func requireOne(ctx context.Context, x *resource.Exec, service, key string, status int) error {
	exists, err := keyExists(ctx, x, service, key)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	if status == http.StatusBadRequest {
		return apierr.New(status, fmt.Sprintf("the %s does not exist in the service-> %s", key, service))
	}
	return apierr.New(status, fmt.Sprintf("the %s with this id ->%s does not exist", service, key))
}

// keyExists reads key through the service's get operation. A comma would
// turn the read into a multi-id get, which never reports missing ids.
func keyExists(ctx context.Context, x *resource.Exec, service, key string) (bool, error) {
	if key == "" {
		return false, nil
	}
	if strings.Contains(key, ",") {
		return false, apierr.Validation(fmt.Sprintf("invalid key %q: keys must not contain a comma", key), map[string]any{"key": key})
	}
	svc, err := x.Service(service)
	if err != nil {
		return false, apierr.Wrap(http.StatusInternalServerError, err)
	}
	if svc.Get == nil {
		return false, apierr.Internal(fmt.Sprintf("%s service has no get operation", service))
	}

	_, err = svc.Get(ctx, record.Record{"id": key}, nil, nil)
	switch {
	case err == nil:
		return true, nil
	case apierr.IsNotFound(err):
		return false, nil
	default:
		return false, err
	}
}
