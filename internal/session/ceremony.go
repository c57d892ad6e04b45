package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// CeremonyStore keeps short-lived, single-use JSON state such as pending MFA
// sign-ins and WebAuthn challenges.
type CeremonyStore struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
}

// NewCeremonyStore stores values under "<prefix>:<key>" for ttl.
func NewCeremonyStore(rdb *redis.Client, prefix string, ttl time.Duration) *CeremonyStore {
	return &CeremonyStore{rdb: rdb, prefix: prefix, ttl: ttl}
}

func (c *CeremonyStore) key(k string) string { return c.prefix + ":" + k }

// Put stores value, replacing any previous state for key.
func (c *CeremonyStore) Put(ctx context.Context, key string, value any) error {
	payload, errMarshal := json.Marshal(value)
	if errMarshal != nil {
		return errMarshal
	}
	return c.rdb.Set(ctx, c.key(key), payload, c.ttl).Err()
}

// Take loads and deletes the state for key. It reports false when the state
// is absent or expired.
func (c *CeremonyStore) Take(ctx context.Context, key string, out any) (bool, error) {
	raw, errGet := c.rdb.GetDel(ctx, c.key(key)).Bytes()
	if errors.Is(errGet, redis.Nil) {
		return false, nil
	}
	if errGet != nil {
		return false, fmt.Errorf("ceremony: load: %w", errGet)
	}
	if errUnmarshal := json.Unmarshal(raw, out); errUnmarshal != nil {
		return false, fmt.Errorf("ceremony: decode: %w", errUnmarshal)
	}
	return true, nil
}

// Peek loads the state for key without consuming it.
func (c *CeremonyStore) Peek(ctx context.Context, key string, out any) (bool, error) {
	raw, errGet := c.rdb.Get(ctx, c.key(key)).Bytes()
	if errors.Is(errGet, redis.Nil) {
		return false, nil
	}
	if errGet != nil {
		return false, fmt.Errorf("ceremony: load: %w", errGet)
	}
	if errUnmarshal := json.Unmarshal(raw, out); errUnmarshal != nil {
		return false, fmt.Errorf("ceremony: decode: %w", errUnmarshal)
	}
	return true, nil
}
