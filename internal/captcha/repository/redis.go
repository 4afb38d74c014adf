package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jmerrifield20/captcha/internal/captcha/model"
	"github.com/redis/go-redis/v9"
)

// DefaultRedisRetention is how long a record outlives its expiry before
// Redis drops it on its own, in case no sweep runs.
const DefaultRedisRetention = 24 * time.Hour

// redisRecord is the JSON value stored under each challenge key.
type redisRecord struct {
	ImageRef  string    `json:"image_ref"`
	Code      string    `json:"code"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

// RedisChallengeRepository keeps each challenge as a JSON string under
// "<prefix>:<id>" and indexes expiry, in unix milliseconds, in the sorted
// set "<prefix>:expiry".
type RedisChallengeRepository struct {
	rdb       redis.UniversalClient
	prefix    string
	retention time.Duration
}

// NewRedisChallengeRepository creates a repository using keys under prefix
// ("captcha" when empty). retention <= 0 selects DefaultRedisRetention.
func NewRedisChallengeRepository(rdb redis.UniversalClient, prefix string, retention time.Duration) *RedisChallengeRepository {
	if prefix == "" {
		prefix = "captcha"
	}
	if retention <= 0 {
		retention = DefaultRedisRetention
	}
	return &RedisChallengeRepository{rdb: rdb, prefix: prefix, retention: retention}
}

func (r *RedisChallengeRepository) key(id string) string { return r.prefix + ":" + id }
func (r *RedisChallengeRepository) expiryKey() string  { return r.prefix + ":expiry" }

// Ping verifies the Redis connection.
func (r *RedisChallengeRepository) Ping(ctx context.Context) error {
	return r.rdb.Ping(ctx).Err()
}

// Insert stores a new challenge with SET NX so concurrent inserts of the
// same id cannot both succeed.
func (r *RedisChallengeRepository) Insert(ctx context.Context, ch *model.Challenge) error {
	id, err := checkInsertID(ch.ID)
	if err != nil {
		return err
	}
	val, err := json.Marshal(redisRecord{
		ImageRef:  ch.ImageRef,
		Code:      ch.Code,
		ExpiresAt: ch.ExpiresAt.UTC(),
		CreatedAt: ch.CreatedAt.UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal captcha: %w", err)
	}

	ttl := time.Until(ch.ExpiresAt) + r.retention
	if ttl <= 0 {
		ttl = r.retention
	}
	ok, err := r.rdb.SetNX(ctx, r.key(id), val, ttl).Result()
	if err != nil {
		return fmt.Errorf("insert captcha: %w", err)
	}
	if !ok {
		return ErrDuplicateID
	}
	score := float64(expiryScore(ch.ExpiresAt))
	if err := r.rdb.ZAdd(ctx, r.expiryKey(), redis.Z{Score: score, Member: id}).Err(); err != nil {
		return fmt.Errorf("index captcha expiry: %w", err)
	}
	return nil
}

// GetByID returns the challenge with the given id, ignoring case.
func (r *RedisChallengeRepository) GetByID(ctx context.Context, id string) (*model.Challenge, error) {
	id = normalizeID(id)
	if id == "" {
		return nil, ErrChallengeNotFound
	}
	val, err := r.rdb.Get(ctx, r.key(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrChallengeNotFound
		}
		return nil, fmt.Errorf("get captcha: %w", err)
	}
	return decodeRedisRecord(id, val)
}

func decodeRedisRecord(id string, val []byte) (*model.Challenge, error) {
	var rec redisRecord
	if err := json.Unmarshal(val, &rec); err != nil {
		return nil, fmt.Errorf("decode captcha %s: %w", id, err)
	}
	return &model.Challenge{
		ID:        id,
		ImageRef:  rec.ImageRef,
		Code:      rec.Code,
		ExpiresAt: rec.ExpiresAt,
		CreatedAt: rec.CreatedAt,
	}, nil
}

// expiryScore is t in Unix milliseconds rounded up, so that a score at or
// below now's truncated milliseconds implies t <= now.
func expiryScore(t time.Time) int64 {
	ms := t.UnixMilli()
	if t.Sub(time.UnixMilli(ms)) > 0 {
		ms++
	}
	return ms
}

func (r *RedisChallengeRepository) expiredIDs(ctx context.Context, now time.Time) ([]string, error) {
	return r.rdb.ZRangeByScore(ctx, r.expiryKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now.UnixMilli(), 10),
	}).Result()
}

// ListExpired returns every challenge whose expiry is at or before now.
// Index entries whose record Redis already evicted are skipped.
func (r *RedisChallengeRepository) ListExpired(ctx context.Context, now time.Time) ([]*model.Challenge, error) {
	ids, err := r.expiredIDs(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("list expired captchas: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = r.key(id)
	}
	vals, err := r.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("load expired captchas: %w", err)
	}

	out := make([]*model.Challenge, 0, len(ids))
	for i, v := range vals {
		s, ok := v.(string)
		if !ok {
			continue
		}
		ch, err := decodeRedisRecord(ids[i], []byte(s))
		if err != nil {
			return nil, err
		}
		if ch.Sweepable(now) {
			out = append(out, ch)
		}
	}
	return out, nil
}

// DeleteByID removes a challenge and its expiry index entry.
func (r *RedisChallengeRepository) DeleteByID(ctx context.Context, id string) error {
	id = normalizeID(id)
	_, err := r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, r.key(id))
		pipe.ZRem(ctx, r.expiryKey(), id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete captcha: %w", err)
	}
	return nil
}

// DeleteExpired removes every challenge whose expiry is at or before now
// in one MULTI/EXEC round trip and returns the number of records removed.
func (r *RedisChallengeRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	ids, err := r.expiredIDs(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("list expired captchas: %w", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = r.key(id)
	}
	var del *redis.IntCmd
	_, err = r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		del = pipe.Del(ctx, keys...)
		members := make([]any, len(ids))
		for i, id := range ids {
			members[i] = id
		}
		pipe.ZRem(ctx, r.expiryKey(), members...)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("delete expired captchas: %w", err)
	}
	return del.Val(), nil
}
