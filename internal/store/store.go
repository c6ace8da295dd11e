// Package store defines the object-store contract the admin core consumes
// and provides two implementations: a NATS-backed client for the platform
// object store and an embedded starskey store for standalone mode.
package store

import (
	"context"
	"errors"
)

// ErrNotFound is returned when an object or state does not exist.
var ErrNotFound = errors.New("store: not found")

// WellKnown object ids consumed by the core.
const (
	SystemConfig       = "system.config"
	SystemRepositories = "system.repositories"
	SystemUUID         = "system.meta.uuid"
)

// Store is the object-store collaborator. Reads and writes suspend at the
// network boundary; the change stream is consumed, never polled.
type Store interface {
	GetObject(ctx context.Context, id string) (*Object, error)
	SetObject(ctx context.Context, id string, obj *Object) error

	// GetObjectsByPrefix performs a key range scan over [prefix., prefix.~]
	// and filters by type tags. An empty types slice matches everything.
	GetObjectsByPrefix(ctx context.Context, prefix string, types []string) ([]*Object, error)

	// ListObjects returns every object, used to warm-load the mirror.
	ListObjects(ctx context.Context) ([]*Object, error)

	GetState(ctx context.Context, id string) (*State, error)
	SetState(ctx context.Context, id string, val any, ack bool) error

	// Subscribe returns the change-notification stream. The channel is
	// closed when the store connection shuts down.
	Subscribe(ctx context.Context) (<-chan Change, error)

	Close() error
}

func matchesTypes(obj *Object, types []string) bool {
	if len(types) == 0 {
		return true
	}
	for _, t := range types {
		if obj.Type == t {
			return true
		}
	}
	return false
}
