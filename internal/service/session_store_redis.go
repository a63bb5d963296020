package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/vendi-market/vendi/internal/domain"

	"github.com/redis/go-redis/v9"
)

// RedisSessionStore keeps sessions under a hashed key so a leaked keyspace
// dump does not yield usable session ids. A per-user set indexes the keys
// for logout-everywhere.
type RedisSessionStore struct {
	client redis.UniversalClient
	prefix string
	now    func() time.Time
}

func NewRedisSessionStore(client redis.UniversalClient, prefix string, now func() time.Time) *RedisSessionStore {
	if prefix == "" {
		prefix = "session"
	}
	if now == nil {
		now = time.Now
	}
	return &RedisSessionStore{client: client, prefix: prefix, now: now}
}

func (s *RedisSessionStore) Backend() string { return "redis" }

func (s *RedisSessionStore) Save(ctx context.Context, sess *domain.Session) error {
	ttl := sess.ExpiresAt.Sub(s.now())
	if ttl <= 0 {
		return nil
	}
	payload, err := json.Marshal(sess)
	if err != nil {
		return err
	}
	dataKey := s.dataKey(sess.ID)
	userIndex := s.userIndexKey(sess.UserID)
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, dataKey, payload, ttl)
	pipe.SAdd(ctx, userIndex, dataKey)
	pipe.Expire(ctx, userIndex, ttl+time.Minute)
	_, err = pipe.Exec(ctx)
	return err
}

func (s *RedisSessionStore) Get(ctx context.Context, id string) (*domain.Session, error) {
	raw, err := s.client.Get(ctx, s.dataKey(id)).Bytes()
	if err == redis.Nil {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}
	var sess domain.Session
	if err := json.Unmarshal(raw, &sess); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	if !s.now().Before(sess.ExpiresAt) {
		return nil, ErrSessionNotFound
	}
	return &sess, nil
}

func (s *RedisSessionStore) Delete(ctx context.Context, id string) error {
	dataKey := s.dataKey(id)
	raw, err := s.client.Get(ctx, dataKey).Bytes()
	if err != nil && err != redis.Nil {
		return err
	}
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, dataKey)
	if err == nil {
		var sess domain.Session
		if json.Unmarshal(raw, &sess) == nil {
			pipe.SRem(ctx, s.userIndexKey(sess.UserID), dataKey)
		}
	}
	_, err = pipe.Exec(ctx)
	return err
}

func (s *RedisSessionStore) DeleteByUserID(ctx context.Context, userID uint) (int, error) {
	userIndex := s.userIndexKey(userID)
	keys, err := s.client.SMembers(ctx, userIndex).Result()
	if err != nil && err != redis.Nil {
		return 0, err
	}
	pipe := s.client.TxPipeline()
	var deleted *redis.IntCmd
	if len(keys) > 0 {
		deleted = pipe.Del(ctx, keys...)
	}
	pipe.Del(ctx, userIndex)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	if deleted == nil {
		return 0, nil
	}
	return int(deleted.Val()), nil
}

func (s *RedisSessionStore) dataKey(id string) string {
	return fmt.Sprintf("%s:data:%s", s.prefix, hashSessionID(id))
}

func (s *RedisSessionStore) userIndexKey(userID uint) string {
	return fmt.Sprintf("%s:user:%d", s.prefix, userID)
}

func hashSessionID(id string) string {
	sum := sha256.Sum256([]byte(id))
	return hex.EncodeToString(sum[:])
}
