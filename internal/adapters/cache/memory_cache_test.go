package cache

import (
	"context"
	"testing"
	"time"

	"github.com/secwatch/account-security/internal/domain"
	"github.com/secwatch/account-security/internal/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	_ ports.ScanCache = (*MemoryScanCache)(nil)
	_ ports.ScanCache = (*RedisScanCache)(nil)
)

func result(url string) *domain.ScanResult {
	return &domain.ScanResult{
		Prediction:    domain.VerdictSafe,
		Confidence:    0.9,
		NormalizedURL: url,
		Features:      map[string]float64{"url_length": float64(len(url))},
	}
}

func TestMemoryScanCache_HitMiss(t *testing.T) {
	c := NewMemoryScanCache(8, time.Minute)
	ctx := context.Background()

	got, err := c.Get(ctx, "fp1", "https://example.com/")
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, c.Set(ctx, "fp1", "https://example.com/", result("https://example.com/")))

	got, err = c.Get(ctx, "fp1", "https://example.com/")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "https://example.com/", got.NormalizedURL)

	// A different model fingerprint never sees the entry
	got, err = c.Get(ctx, "fp2", "https://example.com/")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestMemoryScanCache_Expiry(t *testing.T) {
	c := NewMemoryScanCache(8, time.Minute)
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return clock }
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "fp", "u", result("u")))

	clock = clock.Add(59 * time.Second)
	got, _ := c.Get(ctx, "fp", "u")
	assert.NotNil(t, got)

	clock = clock.Add(2 * time.Second)
	got, _ = c.Get(ctx, "fp", "u")
	assert.Nil(t, got)
	assert.Zero(t, c.Len())
}

func TestMemoryScanCache_EvictsLeastRecentlyUsed(t *testing.T) {
	c := NewMemoryScanCache(2, time.Minute)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "fp", "a", result("a")))
	require.NoError(t, c.Set(ctx, "fp", "b", result("b")))
	_, _ = c.Get(ctx, "fp", "a") // a is now most recent
	require.NoError(t, c.Set(ctx, "fp", "c", result("c")))

	a, _ := c.Get(ctx, "fp", "a")
	b, _ := c.Get(ctx, "fp", "b")
	cc, _ := c.Get(ctx, "fp", "c")
	assert.NotNil(t, a)
	assert.Nil(t, b)
	assert.NotNil(t, cc)
	assert.Equal(t, 2, c.Len())
}

func TestMemoryScanCache_ReturnsCopies(t *testing.T) {
	c := NewMemoryScanCache(2, time.Minute)
	ctx := context.Background()

	in := result("u")
	require.NoError(t, c.Set(ctx, "fp", "u", in))
	in.Features["url_length"] = 999

	got, _ := c.Get(ctx, "fp", "u")
	require.NotNil(t, got)
	assert.Equal(t, 1.0, got.Features["url_length"])

	got.Features["url_length"] = 123
	again, _ := c.Get(ctx, "fp", "u")
	assert.Equal(t, 1.0, again.Features["url_length"])
}
