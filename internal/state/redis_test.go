package state

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestRedisStore requires a running Redis on localhost:6379 and skips
// otherwise. Keys live under a test profile that is removed afterwards.
func newTestRedisStore(t *testing.T) *RedisStore {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("redis not available: %v", err)
	}
	s := NewRedisStoreWithClient(client, "test_"+t.Name(), zerolog.Nop())
	cleanup := func() { client.Del(ctx, s.userKey(), s.prefsKey()) }
	cleanup()
	t.Cleanup(func() {
		cleanup()
		client.Close()
	})
	return s
}

func TestRedisStore_User(t *testing.T) {
	s := newTestRedisStore(t)
	ctx := context.Background()

	u, err := s.LoadUser(ctx)
	require.NoError(t, err)
	assert.Nil(t, u)

	require.NoError(t, s.SaveUser(ctx, User{ID: "u1", Username: "alice", Avatar: "/a.png"}))
	u, err = s.LoadUser(ctx)
	require.NoError(t, err)
	require.NotNil(t, u)
	assert.Equal(t, User{ID: "u1", Username: "alice", Avatar: "/a.png"}, *u)

	require.NoError(t, s.ClearUser(ctx))
	u, err = s.LoadUser(ctx)
	require.NoError(t, err)
	assert.Nil(t, u)
}

func TestRedisStore_Prefs(t *testing.T) {
	s := newTestRedisStore(t)
	ctx := context.Background()

	p, err := s.Prefs(ctx)
	require.NoError(t, err)
	assert.Equal(t, DefaultPrefs(), p)

	require.NoError(t, s.SetLanguage(ctx, LanguageChinese))
	require.NoError(t, s.SetTheme(ctx, ThemeDark))
	assert.ErrorIs(t, s.SetTheme(ctx, "neon"), ErrInvalidTheme)

	p, err = s.Prefs(ctx)
	require.NoError(t, err)
	assert.Equal(t, Prefs{Language: LanguageChinese, Theme: ThemeDark}, p)
}

func TestRedisStore_TouchFailureIsLogged(t *testing.T) {
	// Nothing listens on port 1; every command fails fast.
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 200 * time.Millisecond,
		MaxRetries:  -1,
	})
	t.Cleanup(func() { client.Close() })

	var buf bytes.Buffer
	s := NewRedisStoreWithClient(client, "offline", zerolog.New(&buf).Level(zerolog.DebugLevel))
	s.touch(context.Background(), s.userKey())

	assert.Contains(t, buf.String(), "TTL refresh failed")
	assert.Contains(t, buf.String(), "chatsync:offline:user")
}
