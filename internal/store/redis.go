package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "mcp-pdf:doc:"

// RedisStore keeps each document in a hash with "data" and "meta" fields.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore connects and pings the server. A zero ttl keeps documents
// until they are deleted.
func NewRedisStore(ctx context.Context, addr, password string, db int, ttl time.Duration) (*RedisStore, error) {
	if addr == "" {
		return nil, fmt.Errorf("redis address cannot be empty")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to reach redis at %s: %w", addr, err)
	}
	log.Printf("[INFO] redis document store connected to %s (db %d)", addr, db)
	return &RedisStore{client: client, ttl: ttl}, nil
}

// Store writes data and meta under a new identifier.
func (s *RedisStore) Store(ctx context.Context, data []byte, meta Meta) (string, error) {
	id := newID()
	meta = stamp(meta, len(data))
	metaBytes, err := json.Marshal(meta)
	if err != nil {
		return "", fmt.Errorf("failed to encode metadata: %w", err)
	}

	key := keyPrefix + id
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, "data", data, "meta", metaBytes)
		if s.ttl > 0 {
			pipe.Expire(ctx, key, s.ttl)
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("failed to store document: %w", err)
	}
	return id, nil
}

// Get reads a stored document.
func (s *RedisStore) Get(ctx context.Context, id string) ([]byte, *Meta, error) {
	if err := validID(id); err != nil {
		return nil, nil, err
	}
	values, err := s.client.HMGet(ctx, keyPrefix+id, "data", "meta").Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil, ErrNotFound
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read document: %w", err)
	}
	if len(values) != 2 || values[0] == nil {
		return nil, nil, ErrNotFound
	}

	data, ok := values[0].(string)
	if !ok {
		return nil, nil, fmt.Errorf("unexpected data type %T", values[0])
	}

	var meta Meta
	if raw, ok := values[1].(string); ok && raw != "" {
		if err := json.Unmarshal([]byte(raw), &meta); err != nil {
			return nil, nil, fmt.Errorf("failed to decode metadata: %w", err)
		}
	} else {
		meta = stamp(Meta{Filename: id + ".pdf"}, len(data))
	}
	return []byte(data), &meta, nil
}

// Delete removes a stored document.
func (s *RedisStore) Delete(ctx context.Context, id string) error {
	if err := validID(id); err != nil {
		return err
	}
	n, err := s.client.Del(ctx, keyPrefix+id).Result()
	if err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Close closes the client connection pool.
func (s *RedisStore) Close() error {
	if s.client == nil {
		return nil
	}
	return s.client.Close()
}
