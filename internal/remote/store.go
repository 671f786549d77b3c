// Package remote provides the optional remote durable store backends.
//
// The remote schema is entity-scoped: each document, progress and prefs
// record is a separate entity keyed by owner. There are no nested or
// composite writes.
package remote

import (
	"context"
	"fmt"

	"github.com/hpungsan/inkwell/internal/config"
	"github.com/hpungsan/inkwell/internal/document"
)

// Store is entity-scoped CRUD over the remote durable store.
//
// Get returns NOT_FOUND when the entity does not exist. Put of a progress
// record whose document does not exist remotely returns NOT_FOUND. Transport
// and server failures are returned as REMOTE_UNAVAILABLE.
type Store interface {
	Put(ctx context.Context, owner string, rec document.Record) error
	Get(ctx context.Context, owner string, key document.Key) (document.Record, error)
	Delete(ctx context.Context, owner string, key document.Key) error
	Ping(ctx context.Context) error
	Close() error
}

// Open creates the backend selected by cfg.RemoteBackend. The backend need
// not be reachable: calls fail with REMOTE_UNAVAILABLE until it is, so
// writes made meanwhile are marked pending. Only configuration errors are
// returned. It returns (nil, nil) when no remote backend is configured.
func Open(_ context.Context, cfg *config.Config) (Store, error) {
	switch cfg.RemoteBackend {
	case config.RemoteNone:
		return nil, nil
	case config.RemoteRedis:
		s, err := OpenRedis(cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		return s, nil
	case config.RemotePostgres:
		s, err := OpenPostgres(cfg.PostgresURL)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown remote backend %q", cfg.RemoteBackend)
	}
}
