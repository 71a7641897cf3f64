package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/require"
)

func testCache(t *testing.T) (*Cache, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return New(client, time.Minute), mr
}

func TestGetSetJSON(t *testing.T) {
	c, _ := testCache(t)
	ctx := context.Background()

	type page struct {
		IDs  []int64 `json:"ids"`
		Next *int64  `json:"next,omitempty"`
	}

	var out page
	require.False(t, c.GetJSON(ctx, "runs.search:abc", &out))

	next := int64(42)
	c.SetJSON(ctx, "runs.search:abc", page{IDs: []int64{1, 2, 3}, Next: &next})
	require.True(t, c.GetJSON(ctx, "runs.search:abc", &out))
	require.Equal(t, []int64{1, 2, 3}, out.IDs)
	require.Equal(t, next, *out.Next)
}

func TestExpiry(t *testing.T) {
	c, mr := testCache(t)
	ctx := context.Background()

	c.SetJSON(ctx, "k", "v")
	mr.FastForward(2 * time.Minute)

	var out string
	require.False(t, c.GetJSON(ctx, "k", &out))
}

func TestUndecodableEntryIsAMiss(t *testing.T) {
	c, mr := testCache(t)
	require.NoError(t, mr.Set("k", "not json{"))

	var out struct{ A int }
	require.False(t, c.GetJSON(context.Background(), "k", &out))
}

func TestKeyStability(t *testing.T) {
	type params struct {
		Project int64    `json:"project"`
		Tags    []string `json:"tags"`
	}
	a := Key("runs.search", params{Project: 1, Tags: []string{"x"}})
	b := Key("runs.search", params{Project: 1, Tags: []string{"x"}})
	c := Key("runs.search", params{Project: 2, Tags: []string{"x"}})

	require.Equal(t, a, b)
	require.NotEqual(t, a, c)
	require.Contains(t, a, "runs.search:")
}
