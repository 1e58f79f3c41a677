// Package cache provides the advisory TTL key-value store used for credential
// caching, staged messages and session correlation. Every value may vanish at
// any time; callers must treat a miss as "consult the authoritative store".
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

const keyPrefix = "tggateway:"

// Store is the narrow operation set shared by every cache backend.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// GetDel reads and removes the key in one step.
	GetDel(ctx context.Context, key string) ([]byte, bool, error)
	Delete(ctx context.Context, keys ...string) error
	// DeletePrefix removes every key starting with prefix.
	DeletePrefix(ctx context.Context, prefix string) error
	Ping(ctx context.Context) error
}

// Key joins the parts into a namespaced cache key, e.g. Key("bots", 1, "token").
func Key(parts ...any) string {
	items := make([]string, 0, len(parts))
	for _, p := range parts {
		s := strings.TrimSpace(fmt.Sprint(p))
		if s != "" {
			items = append(items, s)
		}
	}
	return strings.Join(items, ":")
}

// GetJSON decodes the cached value into dst. A decode failure is reported as
// a miss so a corrupt entry never blocks the fallback path.
func GetJSON(ctx context.Context, s Store, key string, dst any) (bool, error) {
	raw, ok, err := s.Get(ctx, key)
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return false, nil
	}
	return true, nil
}

func SetJSON(ctx context.Context, s Store, key string, value any, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return s.Set(ctx, key, raw, ttl)
}

// GetDelJSON is GetDel with JSON decoding.
func GetDelJSON(ctx context.Context, s Store, key string, dst any) (bool, error) {
	raw, ok, err := s.GetDel(ctx, key)
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return false, fmt.Errorf("decode cached %s: %w", key, err)
	}
	return true, nil
}
