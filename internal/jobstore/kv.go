package jobstore

import (
	"context"
	"time"
)

// KV is the key-value capability the job status store needs.
// Implementations must be safe for concurrent use and apply a Tx atomically.
type KV interface {
	Ping(ctx context.Context) error
	Get(ctx context.Context, key string) ([]byte, bool, error)
	// MGet reads all keys in one atomic round trip; missing keys yield nil entries.
	MGet(ctx context.Context, keys ...string) ([][]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
	Incr(ctx context.Context, key string) (int64, error)
	// Append pushes value to the tail of the list stored at key.
	Append(ctx context.Context, key string, value []byte) error
	// Range returns every element of the list stored at key.
	Range(ctx context.Context, key string) ([][]byte, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
	// Tx applies every operation queued by fn atomically.
	Tx(ctx context.Context, fn func(Pipe)) error
}

// Pipe queues writes inside a Tx.
type Pipe interface {
	Set(key string, value []byte, ttl time.Duration)
	Incr(key string)
	Append(key string, value []byte)
	Expire(key string, ttl time.Duration)
	Del(keys ...string)
}
