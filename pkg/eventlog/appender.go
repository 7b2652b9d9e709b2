package eventlog

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/redis/go-redis/v9"
)

// Appender is the storage port for append-only per-session record streams.
// Append must be atomic for a single record so concurrent appenders from
// different processes interleave whole records, never fragments.
type Appender interface {
	// Append adds one record to the session's stream.
	Append(ctx context.Context, sessionID string, record []byte) error

	// Read returns all records for the session in append order.
	// A session with no records yields an empty slice, not an error.
	Read(ctx context.Context, sessionID string) ([][]byte, error)

	// Close releases any resources held by the appender.
	Close() error
}

// FileAppender keeps one newline-delimited JSON file per session. Each append
// is a single O_APPEND write of one newline-terminated record, which POSIX
// guarantees is not interleaved with other appenders' writes.
type FileAppender struct {
	dir string
}

// NewFileAppender creates a file-backed appender rooted at dir, creating the
// directory if needed.
func NewFileAppender(dir string) (*FileAppender, error) {
	if dir == "" {
		return nil, fmt.Errorf("event log directory cannot be empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create event log directory: %w", err)
	}
	return &FileAppender{dir: dir}, nil
}

func (f *FileAppender) path(sessionID string) string {
	return filepath.Join(f.dir, sessionID+".ndjson")
}

// Append writes one record as a single line.
func (f *FileAppender) Append(ctx context.Context, sessionID string, record []byte) error {
	fd, err := os.OpenFile(f.path(sessionID), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open event log: %w", err)
	}
	defer fd.Close()

	line := make([]byte, 0, len(record)+1)
	line = append(line, record...)
	line = append(line, '\n')

	if _, err := fd.Write(line); err != nil {
		return fmt.Errorf("failed to append event record: %w", err)
	}
	return nil
}

// Read returns all records in append order. A missing log file means the
// session simply has no events yet.
func (f *FileAppender) Read(ctx context.Context, sessionID string) ([][]byte, error) {
	raw, err := os.ReadFile(f.path(sessionID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read event log: %w", err)
	}

	var records [][]byte
	for _, line := range bytes.Split(raw, []byte{'\n'}) {
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		records = append(records, line)
	}
	return records, nil
}

// Close is a no-op for the file appender.
func (f *FileAppender) Close() error {
	return nil
}

// RedisAppender keeps one Redis list per session, pushed with RPUSH so list
// order is append order. Keys follow the rookery:{instance}:events:{session}
// namespacing scheme.
type RedisAppender struct {
	rdb    *redis.Client
	prefix string
}

// NewRedisAppender creates a Redis-backed appender for one rookery instance.
func NewRedisAppender(opts *redis.Options, instanceName string) (*RedisAppender, error) {
	if instanceName == "" {
		return nil, fmt.Errorf("instance name cannot be empty")
	}
	return &RedisAppender{
		rdb:    redis.NewClient(opts),
		prefix: fmt.Sprintf("rookery:%s:events:", instanceName),
	}, nil
}

func (r *RedisAppender) key(sessionID string) string {
	return r.prefix + sessionID
}

// Append pushes one record onto the session's list.
func (r *RedisAppender) Append(ctx context.Context, sessionID string, record []byte) error {
	if err := r.rdb.RPush(ctx, r.key(sessionID), record).Err(); err != nil {
		return fmt.Errorf("failed to append event record to Redis: %w", err)
	}
	return nil
}

// Read returns the whole list in append order.
func (r *RedisAppender) Read(ctx context.Context, sessionID string) ([][]byte, error) {
	values, err := r.rdb.LRange(ctx, r.key(sessionID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read event log from Redis: %w", err)
	}

	records := make([][]byte, len(values))
	for i, v := range values {
		records[i] = []byte(v)
	}
	return records, nil
}

// Close closes the Redis connection.
func (r *RedisAppender) Close() error {
	return r.rdb.Close()
}
