package cachestore

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"time"

	errs "github.com/Neil2813/Nexus/errors"
	"github.com/Neil2813/Nexus/natsclient"
)

// KV is the bucket capability the fast tier needs. *natsclient.KVStore
// implements it.
type KV interface {
	Get(ctx context.Context, key string) (*natsclient.KVEntry, error)
	Put(ctx context.Context, key string, value []byte) (uint64, error)
	Delete(ctx context.Context, key string) error
	Ping(ctx context.Context) error
}

// KVTier stores entries in a JetStream KV bucket.
//
// JetStream only supports a bucket-wide MaxAge, so each value is wrapped in an
// envelope carrying its own expiry. Keys are base64url encoded because bucket
// keys are restricted to [-/_=.a-zA-Z0-9].
type KVTier struct {
	kv  KV
	now func() time.Time
}

// NewKVTier wraps a KV bucket. A nil clock means time.Now.
func NewKVTier(kv KV, now func() time.Time) *KVTier {
	if now == nil {
		now = time.Now
	}
	return &KVTier{kv: kv, now: now}
}

func (t *KVTier) Name() string { return TierFast }

func encodeKey(key string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(key))
}

func (t *KVTier) Get(ctx context.Context, key string) ([]byte, error) {
	entry, err := t.kv.Get(ctx, encodeKey(key))
	if err != nil {
		if errors.Is(err, natsclient.ErrKVKeyNotFound) {
			return nil, ErrMiss
		}
		return nil, err
	}

	var env envelope
	if err := json.Unmarshal(entry.Value, &env); err != nil {
		return nil, errs.WrapInvalid(errs.ErrDataCorrupted, "KVTier", "Get", "decode envelope")
	}
	if env.ExpiresAt <= unixSeconds(t.now()) {
		// JetStream will age it out with the bucket MaxAge.
		return nil, ErrMiss
	}
	return env.Value, nil
}

func (t *KVTier) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	data, err := json.Marshal(envelope{
		Value:     value,
		ExpiresAt: unixSeconds(t.now().Add(ttl)),
	})
	if err != nil {
		return errs.WrapInvalid(err, "KVTier", "Set", "encode envelope")
	}
	_, err = t.kv.Put(ctx, encodeKey(key), data)
	return err
}

func (t *KVTier) Delete(ctx context.Context, key string) error {
	return t.kv.Delete(ctx, encodeKey(key))
}

func (t *KVTier) Ping(ctx context.Context) error {
	return t.kv.Ping(ctx)
}
