package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type entry struct {
	Issuer string `json:"issuer"`
	Count  int    `json:"count"`
}

func exerciseCache(t *testing.T, c Cache[entry]) {
	ctx := context.Background()

	_, ok, err := c.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Set(ctx, "a", entry{Issuer: "https://idp.example", Count: 1}))
	got, ok, err := c.Get(ctx, "a")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, entry{Issuer: "https://idp.example", Count: 1}, got)

	// Last writer wins.
	require.NoError(t, c.Set(ctx, "a", entry{Issuer: "https://idp.example", Count: 2}))
	got, _, err = c.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, 2, got.Count)

	require.NoError(t, c.Delete(ctx, "a"))
	_, ok, err = c.Get(ctx, "a")
	require.NoError(t, err)
	assert.False(t, ok)

	// Deleting an absent key is fine.
	require.NoError(t, c.Delete(ctx, "a"))
}

func TestMemory(t *testing.T) {
	m := NewMemory[entry]()
	exerciseCache(t, m)
	assert.Equal(t, 0, m.Len())
}

func TestMemory_Concurrent(t *testing.T) {
	m := NewMemory[int]()
	ctx := context.Background()
	done := make(chan struct{})
	for i := 0; i < 8; i++ {
		go func(i int) {
			defer func() { done <- struct{}{} }()
			for j := 0; j < 100; j++ {
				_ = m.Set(ctx, "k", i)
				_, _, _ = m.Get(ctx, "k")
			}
		}(i)
	}
	for i := 0; i < 8; i++ {
		<-done
	}
	assert.Equal(t, 1, m.Len())
}

func TestNewRedis_RequiresClient(t *testing.T) {
	_, err := NewRedis[entry](RedisConfig{}, "test")
	assert.Error(t, err)
}

func newRedis(t *testing.T) (*miniredis.Miniredis, redis.UniversalClient) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestRedis(t *testing.T) {
	_, client := newRedis(t)

	c, err := NewRedis[entry](RedisConfig{Client: client}, "test")
	require.NoError(t, err)
	exerciseCache(t, c)
}

func TestRedis_KeyLayout(t *testing.T) {
	mr, client := newRedis(t)

	c, err := NewRedis[entry](RedisConfig{Client: client, KeyPrefix: "team:"}, "oidc")
	require.NoError(t, err)
	require.NoError(t, c.Set(context.Background(), "https://idp.example", entry{Count: 1}))

	assert.True(t, mr.Exists("team:oidc:https://idp.example"))
}

type expiring struct {
	Name      string    `json:"name"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (e expiring) CacheExpiry() time.Time { return e.ExpiresAt }

func TestRedis_Expiry(t *testing.T) {
	ctx := context.Background()

	t.Run("values without expiry are kept", func(t *testing.T) {
		mr, client := newRedis(t)
		c, err := NewRedis[expiring](RedisConfig{Client: client}, "reg")
		require.NoError(t, err)

		require.NoError(t, c.Set(ctx, "k", expiring{Name: "forever"}))
		mr.FastForward(365 * 24 * time.Hour)

		got, ok, err := c.Get(ctx, "k")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, "forever", got.Name)
	})

	t.Run("values are evicted at their expiry", func(t *testing.T) {
		mr, client := newRedis(t)
		c, err := NewRedis[expiring](RedisConfig{Client: client}, "reg")
		require.NoError(t, err)

		require.NoError(t, c.Set(ctx, "k", expiring{Name: "short", ExpiresAt: time.Now().Add(time.Hour)}))
		assert.Greater(t, mr.TTL("podauth:cache:reg:k"), 59*time.Minute)

		mr.FastForward(2 * time.Hour)
		_, ok, err := c.Get(ctx, "k")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("already expired values are not stored", func(t *testing.T) {
		mr, client := newRedis(t)
		c, err := NewRedis[expiring](RedisConfig{Client: client}, "reg")
		require.NoError(t, err)

		require.NoError(t, c.Set(ctx, "k", expiring{Name: "live"}))
		require.NoError(t, c.Set(ctx, "k", expiring{Name: "stale", ExpiresAt: time.Now().Add(-time.Minute)}))
		assert.False(t, mr.Exists("podauth:cache:reg:k"))
	})
}
