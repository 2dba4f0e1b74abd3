package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sparkcreatives/spark-portal/internal/config"
)

func newTestCache(t *testing.T) (*Cache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewWithClient(rdb, ""), mr
}

func TestNew(t *testing.T) {
	c, err := New(&config.CacheConfig{
		URL:            "redis://localhost:6379/2",
		MaxConnections: 7,
		SocketTimeout:  3 * time.Second,
		KeyPrefix:      "staging",
	})
	require.NoError(t, err)
	defer c.Close()

	opts := c.Client().Options()
	assert.Equal(t, "localhost:6379", opts.Addr)
	assert.Equal(t, 2, opts.DB)
	assert.Equal(t, 7, opts.PoolSize)
	assert.Equal(t, 3*time.Second, opts.ReadTimeout)
	assert.Equal(t, "staging:receipt:d-1", c.Key("receipt", "d-1"))
}

func TestNew_InvalidURL(t *testing.T) {
	_, err := New(&config.CacheConfig{URL: "http://not-redis"})
	assert.Error(t, err)
}

func TestKey_DefaultPrefix(t *testing.T) {
	c, _ := newTestCache(t)
	assert.Equal(t, "spark:receipt:abc", c.Key("receipt", "abc"))
}

func TestGetSet(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()

	_, err := c.Get(ctx, "receipt", "d-1")
	assert.ErrorIs(t, err, ErrMiss)

	require.NoError(t, c.Set(ctx, "receipt", "d-1", []byte("pdf"), time.Minute))
	got, err := c.Get(ctx, "receipt", "d-1")
	require.NoError(t, err)
	assert.Equal(t, []byte("pdf"), got)

	mr.FastForward(2 * time.Minute)
	_, err = c.Get(ctx, "receipt", "d-1")
	assert.ErrorIs(t, err, ErrMiss)
}

func TestPing(t *testing.T) {
	c, mr := newTestCache(t)
	require.NoError(t, c.Ping(context.Background()))

	mr.Close()
	assert.Error(t, c.Ping(context.Background()))
}

// ---------------------------------------------------------------------------
// PDFStore
// ---------------------------------------------------------------------------

func TestReceiptStore(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()
	store := NewReceiptStore(c, 30*24*time.Hour)

	_, err := store.Get(ctx, "don-42")
	assert.ErrorIs(t, err, ErrMiss)

	require.NoError(t, store.Put(ctx, "don-42", []byte("%PDF-1.7")))
	assert.True(t, mr.Exists("spark:receipt:don-42"))
	assert.Equal(t, 30*24*time.Hour, mr.TTL("spark:receipt:don-42"))

	got, err := store.Get(ctx, "don-42")
	require.NoError(t, err)
	assert.Equal(t, []byte("%PDF-1.7"), got)
}

func TestReceiptStore_RedisDown(t *testing.T) {
	c, mr := newTestCache(t)
	store := NewReceiptStore(c, time.Hour)
	mr.Close()

	_, err := store.Get(context.Background(), "don-1")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrMiss)
}

func TestStatementStore(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()
	store := NewStatementStore(c, 90*24*time.Hour)

	require.NoError(t, store.Put(ctx, "donor-7:2025", []byte("%PDF-1.7 statement")))
	assert.True(t, mr.Exists("spark:statement:donor-7:2025"))
	assert.Equal(t, 90*24*time.Hour, mr.TTL("spark:statement:donor-7:2025"))

	got, err := store.Get(ctx, "donor-7:2025")
	require.NoError(t, err)
	assert.Equal(t, []byte("%PDF-1.7 statement"), got)

	_, err = NewReceiptStore(c, time.Hour).Get(ctx, "donor-7:2025")
	assert.ErrorIs(t, err, ErrMiss, "statements and receipts do not share keys")
}

// ---------------------------------------------------------------------------
// Idempotency
// ---------------------------------------------------------------------------

type result struct {
	Status  string `json:"status"`
	EventID string `json:"event_id"`
}

func TestIdempotency_StoreAndLookup(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()
	idem := NewIdempotency(c, "square", 24*time.Hour, 30*time.Second)

	var got result
	seen, err := idem.Lookup(ctx, "evt-1", &got)
	require.NoError(t, err)
	assert.False(t, seen)

	require.NoError(t, idem.Store(ctx, "evt-1", result{Status: "processed", EventID: "evt-1"}))
	assert.Equal(t, 24*time.Hour, mr.TTL("spark:idem:square:evt-1"))

	seen, err = idem.Lookup(ctx, "evt-1", &got)
	require.NoError(t, err)
	assert.True(t, seen)
	assert.Equal(t, result{Status: "processed", EventID: "evt-1"}, got)
}

func TestIdempotency_UndecodableRecordCountsAsSeen(t *testing.T) {
	c, mr := newTestCache(t)
	require.NoError(t, mr.Set("spark:idem:square:evt-2", "not-json"))

	idem := NewIdempotency(c, "square", time.Hour, time.Second)
	var got result
	seen, err := idem.Lookup(context.Background(), "evt-2", &got)
	require.NoError(t, err)
	assert.True(t, seen)
}

func TestIdempotency_Lock(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()
	idem := NewIdempotency(c, "square", time.Hour, 30*time.Second)

	ok, err := idem.Lock(ctx, "evt-3")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = idem.Lock(ctx, "evt-3")
	require.NoError(t, err)
	assert.False(t, ok, "second lock must fail while held")

	mr.FastForward(31 * time.Second)
	ok, err = idem.Lock(ctx, "evt-3")
	require.NoError(t, err)
	assert.True(t, ok, "lock expires")
}
