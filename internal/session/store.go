// Package session はサーバー側セッションの発行・解決・破棄を担当します。
//
// クライアントが保持するのは不透明なトークンのみで、セッション本体は Store に置かれます。
// Store のキーはトークンの SHA-256 なので、ストアの内容が漏れても有効なトークンは得られません。
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/samber/oops"
)

// ErrStoreUnavailable はセッションストアのエラーを表します。
var ErrStoreUnavailable = errors.New("session store unavailable")

// Data はサーバー側に保持するセッションの内容です。
type Data struct {
	UserID   int64     `json:"userId"`
	Username string    `json:"username"`
	IssuedAt time.Time `json:"issuedAt"`
	LastSeen time.Time `json:"lastSeen"`
}

// Store はセッションデータの保存先です。
type Store interface {
	// Save はキーに対してデータを保存します。ttl 経過後は Get で見えなくなります。
	Save(ctx context.Context, key string, data Data, ttl time.Duration) error

	// Get はデータを返します。存在しない・期限切れの場合は (nil, nil) を返します。
	Get(ctx context.Context, key string) (*Data, error)

	// Touch はキーが存在する場合に限りデータと ttl を更新します。
	// 既に削除されていた場合は false を返し、エントリを復活させません。
	Touch(ctx context.Context, key string, data Data, ttl time.Duration) (bool, error)

	// Delete はキーを削除します。存在しないキーの削除はエラーになりません。
	Delete(ctx context.Context, key string) error
}

func storeError(op string, err error) error {
	return oops.
		In("session").
		Code("STORE_UNAVAILABLE").
		With("operation", op).
		Wrap(fmt.Errorf("%w: %w", ErrStoreUnavailable, err))
}
