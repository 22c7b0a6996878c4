package index

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	recordKeyPrefix = "library:meta:"
	// maxTxRetries は WATCH が競合した場合の再試行回数の上限です。
	maxTxRetries = 10
)

// ErrConflict は競合が続き更新を確定できなかったことを表します。
var ErrConflict = errors.New("index record update conflicted")

// Store はメタデータを Redis に保存します。
type Store struct {
	rdb *redis.Client
	ttl time.Duration
	now func() time.Time
}

// NewStore は Store を作成します。ttl が 0 の場合は期限なしで保存します。
func NewStore(rdb *redis.Client, ttl time.Duration) *Store {
	return &Store{
		rdb: rdb,
		ttl: ttl,
		now: time.Now,
	}
}

// Get はメタデータを取得します。存在しない場合は (nil, nil) を返します。
func (s *Store) Get(ctx context.Context, filename string) (*Record, error) {
	if filename == "" {
		return nil, fmt.Errorf("filename is required")
	}
	data, err := s.rdb.Get(ctx, recordKey(filename)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	var record Record
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, err
	}
	return &record, nil
}

// Upsert はメタデータを保存します（存在しない場合は作成）。
func (s *Store) Upsert(ctx context.Context, record *Record) error {
	if record == nil {
		return fmt.Errorf("record is nil")
	}
	now := s.now().UTC()
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	record.UpdatedAt = now
	if s.ttl > 0 {
		record.ExpiresAt = now.Add(s.ttl)
	}

	payload, err := json.Marshal(record)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, recordKey(record.Filename), payload, s.ttl).Err()
}

// MarkFailed は抽出失敗を記録します。
func (s *Store) MarkFailed(ctx context.Context, filename string, errInfo *ErrorInfo) error {
	return s.updatePartial(ctx, filename, func(record *Record) {
		record.Status = StatusFailed
		record.Pages = 0
		record.Error = errInfo
	})
}

// Delete はメタデータを削除します。
func (s *Store) Delete(ctx context.Context, filename string) error {
	return s.rdb.Del(ctx, recordKey(filename)).Err()
}

// updatePartial は WATCH による楽観的ロックで記録を書き換えます。
// 競合が maxTxRetries 回続いた場合は ErrConflict を返します。
func (s *Store) updatePartial(ctx context.Context, filename string, mutate func(*Record)) error {
	key := recordKey(filename)
	for range maxTxRetries {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := s.rdb.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				if errors.Is(err, redis.Nil) {
					return fmt.Errorf("index record not found: %s", filename)
				}
				return err
			}
			var record Record
			if err := json.Unmarshal(data, &record); err != nil {
				return err
			}
			mutate(&record)
			record.UpdatedAt = s.now().UTC()
			payload, err := json.Marshal(&record)
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, payload, s.ttl)
				return nil
			})
			return err
		}, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return fmt.Errorf("%w: %s", ErrConflict, filename)
}

func recordKey(filename string) string {
	return recordKeyPrefix + filename
}
