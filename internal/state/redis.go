package state

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	// KeyPrefix is the Redis key prefix for client state hashes.
	KeyPrefix = "chatsync:"

	// UserTTL bounds how long a saved login survives without use.
	UserTTL = 30 * 24 * time.Hour
)

// RedisStore keeps state in two Redis hashes per profile, so several client
// processes on one machine (or one account across machines) share a login
// and preferences.
type RedisStore struct {
	client  *redis.Client
	profile string
	log     zerolog.Logger
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(redisAddr, profile string, log zerolog.Logger) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr: redisAddr,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("state: redis connection failed: %w", err)
	}
	return NewRedisStoreWithClient(client, profile, log), nil
}

// NewRedisStoreWithClient wraps an existing client.
func NewRedisStoreWithClient(client *redis.Client, profile string, log zerolog.Logger) *RedisStore {
	if profile == "" {
		profile = "default"
	}
	return &RedisStore{
		client:  client,
		profile: profile,
		log:     log.With().Str("component", "state").Str("profile", profile).Logger(),
	}
}

func (s *RedisStore) userKey() string  { return KeyPrefix + s.profile + ":user" }
func (s *RedisStore) prefsKey() string { return KeyPrefix + s.profile + ":prefs" }

func (s *RedisStore) LoadUser(ctx context.Context) (*User, error) {
	var u User
	if err := s.client.HGetAll(ctx, s.userKey()).Scan(&u); err != nil {
		return nil, fmt.Errorf("state: load user: %w", err)
	}
	if u.ID == "" {
		return nil, nil
	}
	s.touch(ctx, s.userKey())
	return &u, nil
}

// touch refreshes the TTL of key. A failure only shortens the login's life,
// so it is logged and not returned.
func (s *RedisStore) touch(ctx context.Context, key string) {
	if err := s.client.Expire(ctx, key, UserTTL).Err(); err != nil {
		s.log.Debug().Err(err).Str("key", key).Msg("TTL refresh failed")
	}
}

func (s *RedisStore) SaveUser(ctx context.Context, u User) error {
	if err := validateUser(u); err != nil {
		return err
	}
	key := s.userKey()
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, key)
	pipe.HSet(ctx, key, map[string]interface{}{
		"id":       u.ID,
		"username": u.Username,
		"nickname": u.Nickname,
		"avatar":   u.Avatar,
	})
	pipe.Expire(ctx, key, UserTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("state: save user: %w", err)
	}
	return nil
}

func (s *RedisStore) ClearUser(ctx context.Context) error {
	if err := s.client.Del(ctx, s.userKey()).Err(); err != nil {
		return fmt.Errorf("state: clear user: %w", err)
	}
	return nil
}

func (s *RedisStore) Prefs(ctx context.Context) (Prefs, error) {
	var p Prefs
	if err := s.client.HGetAll(ctx, s.prefsKey()).Scan(&p); err != nil {
		return DefaultPrefs(), fmt.Errorf("state: load prefs: %w", err)
	}
	return p.withDefaults(), nil
}

func (s *RedisStore) SetLanguage(ctx context.Context, lang string) error {
	if err := ValidateLanguage(lang); err != nil {
		return err
	}
	return s.client.HSet(ctx, s.prefsKey(), "language", lang).Err()
}

func (s *RedisStore) SetTheme(ctx context.Context, theme string) error {
	if err := ValidateTheme(theme); err != nil {
		return err
	}
	return s.client.HSet(ctx, s.prefsKey(), "theme", theme).Err()
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
