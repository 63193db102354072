package resultcache

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shipkaro/freightrate/pkg/pricing"
)

func TestFingerprintBoxOrderInsensitive(t *testing.T) {
	a := []pricing.Box{
		{Length: 10, Width: 10, Height: 10, Weight: 5, Count: 2},
		{Length: 30, Width: 20, Height: 10, Weight: 12, Count: 1},
	}
	b := []pricing.Box{
		{Length: 30, Width: 20, Height: 10, Weight: 12, Count: 1},
		{Length: 10, Width: 10, Height: 10, Weight: 5, Count: 2},
	}

	keyA := Fingerprint("cust-1", 110020, 560001, "surface", 25000, a)
	keyB := Fingerprint("cust-1", 110020, 560001, "surface", 25000, b)
	assert.Equal(t, keyA, keyB)

	c := []pricing.Box{
		{Length: 30, Width: 20, Height: 10, Weight: 12, Count: 1},
		{Length: 10, Width: 10, Height: 11, Weight: 5, Count: 2},
	}
	keyC := Fingerprint("cust-1", 110020, 560001, "surface", 25000, c)
	assert.NotEqual(t, keyA, keyC)
}

func TestFingerprintDistinguishesComponents(t *testing.T) {
	boxes := []pricing.Box{{Length: 10, Width: 10, Height: 10, Weight: 5, Count: 1}}
	base := Fingerprint("cust-1", 110020, 560001, "surface", 25000, boxes)

	tests := map[string]string{
		"owner":   Fingerprint("cust-2", 110020, 560001, "surface", 25000, boxes),
		"origin":  Fingerprint("cust-1", 110021, 560001, "surface", 25000, boxes),
		"dest":    Fingerprint("cust-1", 110020, 560002, "surface", 25000, boxes),
		"mode":    Fingerprint("cust-1", 110020, 560001, "express", 25000, boxes),
		"invoice": Fingerprint("cust-1", 110020, 560001, "surface", 30000, boxes),
		"boxes":   Fingerprint("cust-1", 110020, 560001, "surface", 25000, nil),
	}
	for name, key := range tests {
		t.Run(name, func(t *testing.T) {
			assert.NotEqual(t, base, key)
		})
	}
}

func TestFingerprintNormalisesBlanks(t *testing.T) {
	key := Fingerprint("  ", 110020, 560001, "", 1, nil)
	assert.True(t, strings.HasPrefix(key, "calc:v1:-:110020:560001:-:"), key)
}

func TestMemoryStoreRoundTrip(t *testing.T) {
	store := NewMemoryStore()
	defer store.Close()
	ctx := context.Background()

	_, ok, err := store.Get(ctx, "calc:v1:absent")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.Set(ctx, "calc:v1:k", []byte(`{"total":550}`), 0))
	payload, ok, err := store.Get(ctx, "calc:v1:k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.JSONEq(t, `{"total":550}`, string(payload))
}

func TestMemoryStoreExpiry(t *testing.T) {
	store := NewMemoryStore()
	defer store.Close()
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "calc:v1:short", []byte("x"), 20*time.Millisecond))
	time.Sleep(60 * time.Millisecond)

	_, ok, err := store.Get(ctx, "calc:v1:short")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryStoreInvalidateQuotes(t *testing.T) {
	store := NewMemoryStore()
	defer store.Close()
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "calc:v1:a", []byte("a"), time.Minute))
	require.NoError(t, store.Set(ctx, "calc:v1:b", []byte("b"), time.Minute))
	require.NoError(t, store.Set(ctx, "zones:catalog", []byte("z"), time.Minute))

	require.NoError(t, store.InvalidateQuotes(ctx))

	_, ok, _ := store.Get(ctx, "calc:v1:a")
	assert.False(t, ok)
	_, ok, _ = store.Get(ctx, "calc:v1:b")
	assert.False(t, ok)
	_, ok, _ = store.Get(ctx, "zones:catalog")
	assert.True(t, ok)
}
