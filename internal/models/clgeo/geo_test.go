package clgeo

import (
	"context"
	"pixeltrack/internal/models/clcache"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPublicAddr(t *testing.T) {
	for _, ip := range []string{"", "not-an-ip", "10.0.0.1", "192.168.1.20", "127.0.0.1", "::1", "0.0.0.0", "fe80::1"} {
		_, ok := PublicAddr(ip)
		assert.False(t, ok, ip)
	}
	for _, ip := range []string{"81.2.69.142", "2001:4860:4860::8888", "::ffff:8.8.8.8"} {
		_, ok := PublicAddr(ip)
		assert.True(t, ok, ip)
	}
}

func TestNoop(t *testing.T) {
	assert.True(t, Noop{}.Lookup(context.Background(), "81.2.69.142").IsZero())
}

func TestMaxMindDegradesWithoutReader(t *testing.T) {
	m := &MaxMind{}
	assert.True(t, m.Lookup(context.Background(), "81.2.69.142").IsZero())
	assert.True(t, m.Lookup(context.Background(), "garbage").IsZero())
	assert.NoError(t, m.Close())
}

func TestMaxMindUsesCache(t *testing.T) {
	ctx := context.Background()
	cache := clcache.NewMemory(time.Minute)
	expected := Location{City: "London", Country: "United Kingdom", CountryCode: "GB", Timezone: "Europe/London"}
	clcache.SetJSON(ctx, cache, "geo:81.2.69.142", expected, 0)

	m := &MaxMind{cache: cache}
	assert.Equal(t, expected, m.Lookup(ctx, "81.2.69.142"))
}

func TestOpenMissingDatabase(t *testing.T) {
	_, err := Open("/nonexistent/GeoLite2-City.mmdb", nil)
	assert.Error(t, err)
}
