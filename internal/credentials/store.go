// Package credentials はユーザーの認証情報（ユーザー名・メール・パスワードハッシュ）を永続化します。
//
// 公開する操作は検索と追加のみで、更新・削除は提供しません。
// ユーザー名の一意性はストレージ側の UNIQUE 制約で保証します。
package credentials

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/samber/oops"
)

var (
	// ErrNotFound はユーザー名に一致するレコードが存在しない場合に返されます。
	ErrNotFound = errors.New("user not found")

	// ErrDuplicateUsername は同じユーザー名のレコードが既に存在する場合に返されます。
	ErrDuplicateUsername = errors.New("duplicate username")

	// ErrStoreUnavailable はストレージ層のエラーを表します。
	ErrStoreUnavailable = errors.New("credential store unavailable")
)

// User は永続化されたユーザーレコードです。作成後は変更されません。
type User struct {
	ID           int64
	Username     string
	Email        string
	PasswordHash string
	CreatedAt    time.Time
}

// Store は認証情報ストアの境界です。
type Store interface {
	// FindByUsername は大文字小文字を区別した完全一致でユーザーを検索します。
	// 見つからない場合は ErrNotFound を返します。
	FindByUsername(ctx context.Context, username string) (*User, error)

	// Insert はユーザーを追加します。重複時は ErrDuplicateUsername を返します。
	// 一意性の確認と追加は単一の文で行われ、同時登録でも成功は1件だけです。
	Insert(ctx context.Context, username, email, passwordHash string) (*User, error)

	// Close は下位の接続を解放します。
	Close() error
}

func unavailable(op string, err error) error {
	return oops.
		In("credentials").
		Code("STORE_UNAVAILABLE").
		With("operation", op).
		Wrap(fmt.Errorf("%w: %w", ErrStoreUnavailable, err))
}

func duplicate(username string, err error) error {
	return oops.
		In("credentials").
		Code("DUPLICATE_USERNAME").
		With("username", username).
		Wrap(fmt.Errorf("%w: %w", ErrDuplicateUsername, err))
}
