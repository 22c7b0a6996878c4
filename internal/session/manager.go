package session

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/yourusername/comic-library/internal/metrics"
)

// tokenBytes はトークンの乱数部分のバイト数です（hex で 64 文字）。
const tokenBytes = 32

// Options はセッションの有効期限設定です。
type Options struct {
	MaxLifetime time.Duration // ログイン時刻からの絶対的な有効期限
	IdleTimeout time.Duration // 最終アクセスからの有効期限
}

// Manager はセッションの作成・解決・破棄を行います。
// セッションストアへのアクセスはすべて Manager を経由します。
type Manager struct {
	store   Store
	opts    Options
	metrics *metrics.Metrics
	now     func() time.Time
}

// NewManager はセッションマネージャーを作成します。m は nil でも構いません。
func NewManager(store Store, opts Options, m *metrics.Metrics) *Manager {
	return &Manager{
		store:   store,
		opts:    opts,
		metrics: m,
		now:     time.Now,
	}
}

// MaxLifetime はクッキーの MaxAge に使う絶対的な有効期限を返します。
func (m *Manager) MaxLifetime() time.Duration {
	return m.opts.MaxLifetime
}

// Create は新しいセッションを作成し、クライアントに渡すトークンを返します。
func (m *Manager) Create(ctx context.Context, userID int64, username string) (string, error) {
	token, err := generateToken()
	if err != nil {
		return "", fmt.Errorf("failed to generate session token: %w", err)
	}

	now := m.now()
	data := Data{
		UserID:   userID,
		Username: username,
		IssuedAt: now,
		LastSeen: now,
	}
	if err := m.store.Save(ctx, keyFor(token), data, m.ttl(data, now)); err != nil {
		return "", err
	}

	m.metrics.SessionEvent(metrics.SessionCreated)
	return token, nil
}

// Resolve はトークンに対応する有効なセッションを返します。
// 未知・期限切れ・破棄済み・形式不正のトークンでは (nil, nil) を返します。
// 有効な場合は最終アクセス時刻を更新します。
func (m *Manager) Resolve(ctx context.Context, token string) (*Data, error) {
	if !validToken(token) {
		return nil, nil
	}
	key := keyFor(token)

	data, err := m.store.Get(ctx, key)
	if err != nil || data == nil {
		return nil, err
	}

	now := m.now()
	if m.expired(*data, now) {
		if err := m.store.Delete(ctx, key); err != nil {
			return nil, err
		}
		m.metrics.SessionEvent(metrics.SessionExpired)
		return nil, nil
	}

	data.LastSeen = now
	ok, err := m.store.Touch(ctx, key, *data, m.ttl(*data, now))
	if err != nil {
		return nil, err
	}
	if !ok {
		// Get と Touch の間に Destroy された
		return nil, nil
	}
	return data, nil
}

// Destroy はセッションを破棄します。未知・破棄済みのトークンでもエラーにはなりません。
func (m *Manager) Destroy(ctx context.Context, token string) error {
	if !validToken(token) {
		return nil
	}
	if err := m.store.Delete(ctx, keyFor(token)); err != nil {
		return err
	}
	m.metrics.SessionEvent(metrics.SessionDestroyed)
	return nil
}

func (m *Manager) expired(data Data, now time.Time) bool {
	if now.Sub(data.IssuedAt) >= m.opts.MaxLifetime {
		return true
	}
	return now.Sub(data.LastSeen) >= m.opts.IdleTimeout
}

// ttl はアイドル期限と絶対期限のうち早い方までの残り時間です。
func (m *Manager) ttl(data Data, now time.Time) time.Duration {
	idle := m.opts.IdleTimeout
	remaining := data.IssuedAt.Add(m.opts.MaxLifetime).Sub(now)
	if remaining < idle {
		return remaining
	}
	return idle
}

func generateToken() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

func validToken(token string) bool {
	if len(token) != tokenBytes*2 {
		return false
	}
	_, err := hex.DecodeString(token)
	return err == nil
}

func keyFor(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
