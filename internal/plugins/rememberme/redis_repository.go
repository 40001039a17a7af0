package rememberme

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis key prefixes.
const (
	seriesKeyPrefix = "rememberme:series:"
	userKeyPrefix   = "rememberme:user:"
	lockKeyPrefix   = "rememberme:lock:"
)

// Series lock tuning.
const (
	lockTTL   = 5 * time.Second
	lockWait  = 2 * time.Second
	lockRetry = 10 * time.Millisecond
)

// unlockScript deletes the lock only if it still holds our value.
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisRepository stores each series as a hash with a per-user index set.
// Keys expire after twice the validity window: long enough for an expired
// token to still be reported as Expired rather than UnknownSeries.
type RedisRepository struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisRepository creates a repository; validity is the remember-me
// token validity window.
func NewRedisRepository(client *redis.Client, validity time.Duration) *RedisRepository {
	return &RedisRepository{client: client, ttl: 2 * validity}
}

// CreateNewToken implements TokenRepository.
func (r *RedisRepository) CreateNewToken(ctx context.Context, token PersistentToken) error {
	key := seriesKeyPrefix + token.Series
	userKey := userKeyPrefix + token.Username

	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key,
			"username", token.Username,
			"token", token.TokenValue,
			"last_used", strconv.FormatInt(token.LastUsed.UnixNano(), 10),
		)
		pipe.Expire(ctx, key, r.ttl)
		pipe.SAdd(ctx, userKey, token.Series)
		pipe.Expire(ctx, userKey, r.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("storing remember-me series in Redis: %w", err)
	}
	return nil
}

// GetTokenForSeries implements TokenRepository.
func (r *RedisRepository) GetTokenForSeries(ctx context.Context, series string) (*PersistentToken, error) {
	fields, err := r.client.HGetAll(ctx, seriesKeyPrefix+series).Result()
	if err != nil {
		return nil, fmt.Errorf("reading remember-me series from Redis: %w", err)
	}
	if len(fields) == 0 {
		return nil, nil
	}

	nanos, err := strconv.ParseInt(fields["last_used"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parsing last_used of series %s: %w", series, err)
	}
	return &PersistentToken{
		Series:     series,
		Username:   fields["username"],
		TokenValue: fields["token"],
		LastUsed:   time.Unix(0, nanos).UTC(),
	}, nil
}

// UpdateToken implements TokenRepository. The owner's index set gets the
// same fresh TTL as the series, otherwise a series that keeps rotating
// would outlive its index entry and escape RemoveUserTokens.
func (r *RedisRepository) UpdateToken(ctx context.Context, series, tokenValue string, lastUsed time.Time) error {
	key := seriesKeyPrefix + series

	username, err := r.client.HGet(ctx, key, "username").Result()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading remember-me series owner: %w", err)
	}
	userKey := userKeyPrefix + username

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key,
			"token", tokenValue,
			"last_used", strconv.FormatInt(lastUsed.UnixNano(), 10),
		)
		pipe.Expire(ctx, key, r.ttl)
		pipe.SAdd(ctx, userKey, series)
		pipe.Expire(ctx, userKey, r.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("updating remember-me series in Redis: %w", err)
	}
	return nil
}

// RemoveSeries implements TokenRepository.
func (r *RedisRepository) RemoveSeries(ctx context.Context, series string) error {
	key := seriesKeyPrefix + series

	username, err := r.client.HGet(ctx, key, "username").Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("reading remember-me series owner: %w", err)
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		if username != "" {
			pipe.SRem(ctx, userKeyPrefix+username, series)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("deleting remember-me series from Redis: %w", err)
	}
	return nil
}

// RemoveUserTokens implements TokenRepository.
func (r *RedisRepository) RemoveUserTokens(ctx context.Context, username string) error {
	userKey := userKeyPrefix + username

	series, err := r.client.SMembers(ctx, userKey).Result()
	if err != nil {
		return fmt.Errorf("listing remember-me series for user: %w", err)
	}

	keys := make([]string, 0, len(series)+1)
	for _, s := range series {
		keys = append(keys, seriesKeyPrefix+s)
	}
	keys = append(keys, userKey)

	if err := r.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("deleting remember-me series for user: %w", err)
	}
	return nil
}

// LockSeries implements SeriesLocker with SET NX PX. It polls until the
// lock is free, lockWait elapses or ctx is done.
func (r *RedisRepository) LockSeries(ctx context.Context, series string) (func(), error) {
	key := lockKeyPrefix + series
	owner := make([]byte, 16)
	if _, err := rand.Read(owner); err != nil {
		return nil, fmt.Errorf("generating lock owner: %w", err)
	}
	value := hex.EncodeToString(owner)

	deadline := time.Now().Add(lockWait)
	for {
		ok, err := r.client.SetNX(ctx, key, value, lockTTL).Result()
		if err != nil {
			return nil, fmt.Errorf("taking series lock: %w", err)
		}
		if ok {
			break
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("timed out waiting for series lock")
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(lockRetry):
		}
	}

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = unlockScript.Run(ctx, r.client, []string{key}, value).Err()
	}, nil
}
