package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hpungsan/inkwell/internal/document"
	"github.com/hpungsan/inkwell/internal/errors"
)

// Redis stores one JSON record per entity under inkwell:{owner}:{collection}:{id}.
type Redis struct {
	client *redis.Client
	prefix string
}

// OpenRedis creates a store for redisURL without connecting.
func OpenRedis(redisURL string) (*Redis, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return NewRedisWithClient(redis.NewClient(opts)), nil
}

// NewRedis connects to redisURL and verifies the connection.
func NewRedis(ctx context.Context, redisURL string) (*Redis, error) {
	s, err := OpenRedis(redisURL)
	if err != nil {
		return nil, err
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := s.client.Ping(pingCtx).Err(); err != nil {
		s.client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return s, nil
}

// NewRedisWithClient creates a store from an existing Redis client.
func NewRedisWithClient(client *redis.Client) *Redis {
	return &Redis{client: client, prefix: "inkwell:"}
}

func (s *Redis) key(owner string, key document.Key) string {
	return s.prefix + owner + ":" + string(key.Collection) + ":" + key.ID
}

// Put replaces the entity at key.
func (s *Redis) Put(ctx context.Context, owner string, rec document.Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return errors.NewInternal(err)
	}

	if rec.Collection == document.CollectionProgress {
		n, err := s.client.Exists(ctx, s.key(owner, document.DocumentKey(rec.ID))).Result()
		if err != nil {
			return errors.NewRemoteUnavailable(err)
		}
		if n == 0 {
			return errors.NewNotFound(string(document.CollectionDocuments), rec.ID)
		}
	}

	if err := s.client.Set(ctx, s.key(owner, rec.Key), data, 0).Err(); err != nil {
		return errors.NewRemoteUnavailable(err)
	}
	return nil
}

// Get returns the entity at key.
func (s *Redis) Get(ctx context.Context, owner string, key document.Key) (document.Record, error) {
	data, err := s.client.Get(ctx, s.key(owner, key)).Bytes()
	if err == redis.Nil {
		return document.Record{}, errors.NewNotFound(string(key.Collection), key.ID)
	}
	if err != nil {
		return document.Record{}, errors.NewRemoteUnavailable(err)
	}

	var rec document.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return document.Record{}, errors.NewCorruptRecord(key.String(), err)
	}
	return rec, nil
}

// Delete removes the entity at key. Deleting a document also removes its progress.
func (s *Redis) Delete(ctx context.Context, owner string, key document.Key) error {
	keys := []string{s.key(owner, key)}
	if key.Collection == document.CollectionDocuments {
		keys = append(keys, s.key(owner, document.ProgressKey(key.ID)))
	}
	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return errors.NewRemoteUnavailable(err)
	}
	return nil
}

// Ping checks if Redis is reachable.
func (s *Redis) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return errors.NewRemoteUnavailable(err)
	}
	return nil
}

// Close closes the Redis connection.
func (s *Redis) Close() error {
	return s.client.Close()
}
