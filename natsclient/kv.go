package natsclient

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	errs "github.com/Neil2813/Nexus/errors"
)

// KV errors. ErrKVKeyNotFound also matches errs.ErrKeyNotFound.
var (
	ErrKVKeyNotFound   = fmt.Errorf("kv: %w", errs.ErrKeyNotFound)
	ErrKVValueTooLarge = errors.New("kv: value exceeds maximum size")
)

// KVEntry is a value read from a bucket.
type KVEntry struct {
	Key      string
	Value    []byte
	Revision uint64
}

// KVStore is a JetStream bucket with per-call deadlines, a value size cap
// and errors classified for the fallback chains.
type KVStore struct {
	bucket    jetstream.KeyValue
	opTimeout time.Duration
	maxValue  int
	logger    *slog.Logger
}

// KVOption configures a KVStore.
type KVOption func(*KVStore)

// WithOpTimeout bounds each bucket call. Zero leaves only the caller's
// deadline.
func WithOpTimeout(d time.Duration) KVOption {
	return func(kv *KVStore) { kv.opTimeout = d }
}

// WithMaxValueSize rejects larger values on Put. Zero disables the check.
func WithMaxValueSize(n int) KVOption {
	return func(kv *KVStore) { kv.maxValue = n }
}

// NewKVStore wraps bucket. Defaults are a 2s call timeout and a 1 MiB value
// cap, which matches the JetStream default max payload.
func (c *Client) NewKVStore(bucket jetstream.KeyValue, opts ...KVOption) *KVStore {
	kv := &KVStore{
		bucket:    bucket,
		opTimeout: 2 * time.Second,
		maxValue:  1 << 20,
		logger:    c.logger.With("bucket", bucket.Bucket()),
	}
	for _, opt := range opts {
		opt(kv)
	}
	return kv
}

func (kv *KVStore) call(ctx context.Context) (context.Context, context.CancelFunc) {
	if kv.opTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, kv.opTimeout)
}

func (kv *KVStore) Bucket() string { return kv.bucket.Bucket() }

// Get returns the current value of key, or ErrKVKeyNotFound for a missing
// or deleted key.
func (kv *KVStore) Get(ctx context.Context, key string) (*KVEntry, error) {
	ctx, cancel := kv.call(ctx)
	defer cancel()

	entry, err := kv.bucket.Get(ctx, key)
	switch {
	case IsKVNotFoundError(err):
		return nil, ErrKVKeyNotFound
	case err != nil:
		return nil, errs.WrapTransient(err, "KVStore", "Get", key)
	}
	return &KVEntry{Key: key, Value: entry.Value(), Revision: entry.Revision()}, nil
}

// Put writes value under key; the last writer wins.
func (kv *KVStore) Put(ctx context.Context, key string, value []byte) (uint64, error) {
	if kv.maxValue > 0 && len(value) > kv.maxValue {
		return 0, errs.WrapInvalid(ErrKVValueTooLarge, "KVStore", "Put",
			fmt.Sprintf("%s: %d > %d bytes", key, len(value), kv.maxValue))
	}

	ctx, cancel := kv.call(ctx)
	defer cancel()

	rev, err := kv.bucket.Put(ctx, key, value)
	if err != nil {
		return 0, errs.WrapTransient(err, "KVStore", "Put", key)
	}
	kv.logger.Debug("kv put", "key", key, "revision", rev, "bytes", len(value))
	return rev, nil
}

// Delete removes key. A missing key is not an error.
func (kv *KVStore) Delete(ctx context.Context, key string) error {
	ctx, cancel := kv.call(ctx)
	defer cancel()

	if err := kv.bucket.Delete(ctx, key); err != nil && !IsKVNotFoundError(err) {
		return errs.WrapTransient(err, "KVStore", "Delete", key)
	}
	return nil
}

// Ping reads the bucket status.
func (kv *KVStore) Ping(ctx context.Context) error {
	ctx, cancel := kv.call(ctx)
	defer cancel()

	if _, err := kv.bucket.Status(ctx); err != nil {
		return errs.WrapTransient(err, "KVStore", "Ping", kv.bucket.Bucket())
	}
	return nil
}

// IsKVNotFoundError reports whether err means the key is absent.
func IsKVNotFoundError(err error) bool {
	return err != nil && (errors.Is(err, jetstream.ErrKeyNotFound) ||
		errors.Is(err, jetstream.ErrKeyDeleted) ||
		errors.Is(err, errs.ErrKeyNotFound))
}
