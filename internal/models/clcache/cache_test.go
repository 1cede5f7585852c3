package clcache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type item struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func TestMemory(t *testing.T) {
	ctx := context.Background()
	c := NewMemory(time.Minute)

	_, found := c.Get(ctx, "missing")
	assert.False(t, found)

	c.Set(ctx, "k", []byte("v"), 0)
	v, found := c.Get(ctx, "k")
	assert.True(t, found)
	assert.Equal(t, []byte("v"), v)

	c.Delete(ctx, "k")
	_, found = c.Get(ctx, "k")
	assert.False(t, found)
}

func TestMemoryExpiration(t *testing.T) {
	ctx := context.Background()
	c := NewMemory(time.Minute)

	c.Set(ctx, "short", []byte("v"), 10*time.Millisecond)
	time.Sleep(30 * time.Millisecond)
	_, found := c.Get(ctx, "short")
	assert.False(t, found)
}

func TestJSONHelpers(t *testing.T) {
	ctx := context.Background()
	c := NewMemory(time.Minute)

	SetJSON(ctx, c, "item", item{Name: "a", Count: 3}, 0)
	got, found := GetJSON[item](ctx, c, "item")
	assert.True(t, found)
	assert.Equal(t, item{Name: "a", Count: 3}, got)

	c.Set(ctx, "broken", []byte("{not json"), 0)
	_, found = GetJSON[item](ctx, c, "broken")
	assert.False(t, found)
	_, found = c.Get(ctx, "broken")
	assert.False(t, found, "undecodable entries are evicted")

	c.Flush()
	_, found = GetJSON[item](ctx, c, "item")
	assert.False(t, found)
}
