package session

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	redis "github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "session:"

// RedisStore は Redis にセッションを保持する Store です。
// 複数プロセスでセッションを共有し、再起動後もセッションが残ります。
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore は Redis を利用するストアを作成します。
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Save(ctx context.Context, key string, data Data, ttl time.Duration) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return storeError("save", err)
	}
	if err := s.client.Set(ctx, redisKeyPrefix+key, payload, ttl).Err(); err != nil {
		return storeError("save", err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, key string) (*Data, error) {
	payload, err := s.client.Get(ctx, redisKeyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, storeError("get", err)
	}

	var data Data
	if err := json.Unmarshal(payload, &data); err != nil {
		return nil, storeError("get", err)
	}
	return &data, nil
}

func (s *RedisStore) Touch(ctx context.Context, key string, data Data, ttl time.Duration) (bool, error) {
	payload, err := json.Marshal(data)
	if err != nil {
		return false, storeError("touch", err)
	}

	// XX: キーが存在する場合のみ更新する。Delete と競合した場合は Delete が勝つ
	err = s.client.SetArgs(ctx, redisKeyPrefix+key, payload, redis.SetArgs{
		Mode: "XX",
		TTL:  ttl,
	}).Err()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, storeError("touch", err)
	}
	return true, nil
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, redisKeyPrefix+key).Err(); err != nil {
		return storeError("delete", err)
	}
	return nil
}
