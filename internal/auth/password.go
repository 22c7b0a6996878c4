package auth

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/sync/semaphore"

	"github.com/yourusername/comic-library/internal/metrics"
)

// maxPasswordBytes は bcrypt が扱える入力の上限です。
const maxPasswordBytes = 72

// Hasher は bcrypt によるパスワードのハッシュ化と検証を行います。
//
// bcrypt は意図的に遅いため、同時実行数をセマフォで制限します。
// 上限に達したリクエストは待機し、ctx がキャンセルされると待機をやめます。
type Hasher struct {
	cost    int
	sem     *semaphore.Weighted
	dummy   []byte
	metrics *metrics.Metrics
}

// NewHasher は bcrypt のコストと同時実行数を指定して Hasher を作成します。
func NewHasher(cost, concurrency int, m *metrics.Metrics) (*Hasher, error) {
	if concurrency < 1 {
		concurrency = 1
	}

	// 存在しないユーザーのログインでも同じ計算量をかけるためのハッシュ
	dummy, err := bcrypt.GenerateFromPassword([]byte("comic-library-timing-equalizer"), cost)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare dummy hash: %w", err)
	}

	return &Hasher{
		cost:    cost,
		sem:     semaphore.NewWeighted(int64(concurrency)),
		dummy:   dummy,
		metrics: m,
	}, nil
}

// Hash はソルト付きの自己記述的なハッシュ文字列（$2a$<cost>$...）を返します。
// 72 バイトを超えるパスワードは bcrypt.ErrPasswordTooLong になります。
func (h *Hasher) Hash(ctx context.Context, plain string) (string, error) {
	if len(plain) > maxPasswordBytes {
		return "", bcrypt.ErrPasswordTooLong
	}
	if err := h.sem.Acquire(ctx, 1); err != nil {
		return "", err
	}
	defer h.sem.Release(1)

	start := time.Now()
	hash, err := bcrypt.GenerateFromPassword([]byte(plain), h.cost)
	h.metrics.ObserveHash("hash", time.Since(start))
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// Verify はパスワードがハッシュと一致するかを返します。
// 比較は bcrypt が定数時間で行います。返すエラーは ctx のキャンセルのみです。
//
// bcrypt は先頭 72 バイトしか比較しないため、それを超える入力は常に不一致です。
// その場合もダミーハッシュで同じ計算を行い、応答時間を揃えます。
func (h *Hasher) Verify(ctx context.Context, plain, hash string) (bool, error) {
	if err := h.sem.Acquire(ctx, 1); err != nil {
		return false, err
	}
	defer h.sem.Release(1)

	tooLong := len(plain) > maxPasswordBytes
	if tooLong {
		hash = string(h.dummy)
		plain = plain[:maxPasswordBytes]
	}

	start := time.Now()
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain))
	h.metrics.ObserveHash("verify", time.Since(start))
	return err == nil && !tooLong, nil
}

// VerifyDummy はダミーハッシュに対して検証を行い、結果を捨てます。
func (h *Hasher) VerifyDummy(ctx context.Context, plain string) error {
	_, err := h.Verify(ctx, plain, string(h.dummy))
	return err
}
