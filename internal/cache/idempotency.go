package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Idempotency records processed webhook events and guards in-flight ones
// with a SET NX lock. Records are keyed "{prefix}:idem:{provider}:{event}"
// and locks "{prefix}:lock:{provider}:{event}".
type Idempotency struct {
	cache     *Cache
	provider  string
	resultTTL time.Duration
	lockTTL   time.Duration
}

// NewIdempotency returns an idempotency store for one webhook provider.
func NewIdempotency(c *Cache, provider string, resultTTL, lockTTL time.Duration) *Idempotency {
	return &Idempotency{cache: c, provider: provider, resultTTL: resultTTL, lockTTL: lockTTL}
}

func (i *Idempotency) id(eventID string) string {
	return i.provider + ":" + eventID
}

// Lookup decodes a stored result into dst. It reports false when the event
// has not been processed.
func (i *Idempotency) Lookup(ctx context.Context, eventID string, dst any) (bool, error) {
	raw, err := i.cache.Get(ctx, "idem", i.id(eventID))
	if errors.Is(err, ErrMiss) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	// A record that cannot be decoded still marks the event as seen.
	_ = json.Unmarshal(raw, dst)
	return true, nil
}

// Store records the result of processing eventID.
func (i *Idempotency) Store(ctx context.Context, eventID string, result any) error {
	raw, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encode idempotency record: %w", err)
	}
	return i.cache.Set(ctx, "idem", i.id(eventID), raw, i.resultTTL)
}

// Lock tries to take the processing lock for eventID. It returns false when
// another worker holds it.
func (i *Idempotency) Lock(ctx context.Context, eventID string) (bool, error) {
	ok, err := i.cache.rdb.SetNX(ctx, i.cache.Key("lock", i.id(eventID)), "1", i.lockTTL).Result()
	if err != nil {
		return false, fmt.Errorf("acquire lock: %w", err)
	}
	return ok, nil
}
