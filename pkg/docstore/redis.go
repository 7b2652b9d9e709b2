package docstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps one Redis hash per document with two fields:
//
//	version — the monotonic version counter
//	doc     — the JSON body
//
// Compare-and-swap uses a WATCH/MULTI optimistic transaction: the EXEC aborts
// if any other client touched the key between the read and the write, which is
// exactly the conflict the version counter protects against.
//
// All keys are namespaced rookery:{instance}:{kind}:{id} so multiple rookery
// instances can safely coexist on a single Redis server.
type RedisStore struct {
	rdb    *redis.Client
	prefix string
}

// NewRedisStore creates a Redis-backed store for one document kind (for
// example "session" or "discovery") within one rookery instance.
func NewRedisStore(opts *redis.Options, instanceName, kind string) (*RedisStore, error) {
	if instanceName == "" {
		return nil, fmt.Errorf("instance name cannot be empty")
	}
	if kind == "" {
		return nil, fmt.Errorf("document kind cannot be empty")
	}

	return &RedisStore{
		rdb:    redis.NewClient(opts),
		prefix: fmt.Sprintf("rookery:%s:%s:", instanceName, kind),
	}, nil
}

func (r *RedisStore) key(id string) string {
	return r.prefix + id
}

// Ping verifies Redis connectivity. Useful for health checks.
func (r *RedisStore) Ping(ctx context.Context) error {
	return r.rdb.Ping(ctx).Err()
}

// Get reads the document hash.
func (r *RedisStore) Get(ctx context.Context, id string) (Document, error) {
	fields, err := r.rdb.HGetAll(ctx, r.key(id)).Result()
	if err != nil {
		return Document{ID: id}, fmt.Errorf("failed to read document from Redis: %w", err)
	}

	// HGetAll returns an empty map for missing keys.
	if len(fields) == 0 {
		return Document{ID: id}, ErrNotFound
	}

	version, err := strconv.ParseInt(fields["version"], 10, 64)
	if err != nil || version < 1 {
		return Document{ID: id}, ErrCorrupt
	}

	return Document{ID: id, Version: version, Data: []byte(fields["doc"])}, nil
}

// CompareAndSwap conditionally replaces the document hash inside a
// WATCH/MULTI transaction.
func (r *RedisStore) CompareAndSwap(ctx context.Context, id string, expectedVersion int64, data []byte) (int64, error) {
	key := r.key(id)
	newVersion := int64(0)

	txn := func(tx *redis.Tx) error {
		fields, err := tx.HGetAll(ctx, key).Result()
		if err != nil {
			return fmt.Errorf("failed to read document in transaction: %w", err)
		}

		currentVersion := int64(0)
		if len(fields) > 0 {
			v, parseErr := strconv.ParseInt(fields["version"], 10, 64)
			if parseErr == nil && v >= 1 {
				currentVersion = v
			}
			// An unparseable version counts as absent so a create-mode CAS
			// can replace a corrupt hash.
		}

		if currentVersion != expectedVersion {
			return ErrVersionMismatch
		}

		newVersion = currentVersion + 1
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, "version", newVersion, "doc", string(data))
			return nil
		})
		return err
	}

	err := r.rdb.Watch(ctx, txn, key)
	if errors.Is(err, redis.TxFailedErr) {
		// Another client modified the key between WATCH and EXEC.
		return 0, ErrVersionMismatch
	}
	if err != nil {
		return 0, err
	}
	return newVersion, nil
}

// List scans for all document IDs of this store's kind.
// Uses SCAN rather than KEYS so it never blocks the server.
func (r *RedisStore) List(ctx context.Context) ([]string, error) {
	var ids []string
	iter := r.rdb.Scan(ctx, 0, r.prefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		ids = append(ids, strings.TrimPrefix(iter.Val(), r.prefix))
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan document keys: %w", err)
	}
	return ids, nil
}

// Delete removes the document hash. Missing keys are ignored.
func (r *RedisStore) Delete(ctx context.Context, id string) error {
	if err := r.rdb.Del(ctx, r.key(id)).Err(); err != nil {
		return fmt.Errorf("failed to delete document from Redis: %w", err)
	}
	return nil
}

// Close closes the Redis connection. After calling Close(), the store should
// not be used.
func (r *RedisStore) Close() error {
	return r.rdb.Close()
}
