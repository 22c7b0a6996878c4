// Package auth はユーザー登録・ログイン・ログアウトと、保護されたルートのアクセスゲートを提供します。
package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/mail"
	"strings"
	"unicode/utf8"

	"github.com/yourusername/comic-library/internal/credentials"
	"github.com/yourusername/comic-library/internal/logging"
	"github.com/yourusername/comic-library/internal/metrics"
	"github.com/yourusername/comic-library/internal/session"
)

const (
	maxUsernameLength = 64
	maxEmailLength    = 254
)

// CredentialStore はサービスが利用する認証情報ストアの操作です。
type CredentialStore interface {
	FindByUsername(ctx context.Context, username string) (*credentials.User, error)
	Insert(ctx context.Context, username, email, passwordHash string) (*credentials.User, error)
}

// Sessions はサービスが利用するセッション操作です。
type Sessions interface {
	Create(ctx context.Context, userID int64, username string) (string, error)
	Resolve(ctx context.Context, token string) (*session.Data, error)
	Destroy(ctx context.Context, token string) error
}

// Identity はログイン済みユーザーの公開情報です。
type Identity struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
}

// RegisterInput は登録フォームの入力です。
type RegisterInput struct {
	Username        string
	Email           string
	Password        string
	ConfirmPassword string
}

// LoginResult はログイン成功時に発行されたトークンとユーザー情報です。
type LoginResult struct {
	Token    string
	Identity Identity
}

// Service は認証情報ストア・ハッシュ・セッションを組み合わせて認証処理を行います。
type Service struct {
	store    CredentialStore
	hasher   *Hasher
	sessions Sessions
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

// NewService は認証サービスを作成します。m は nil でも構いません。
func NewService(store CredentialStore, hasher *Hasher, sessions Sessions, logger *slog.Logger, m *metrics.Metrics) *Service {
	return &Service{
		store:    store,
		hasher:   hasher,
		sessions: sessions,
		logger:   logger,
		metrics:  m,
	}
}

// Register はユーザーを登録します。セッションは作成しないため、登録後に改めてログインが必要です。
func (s *Service) Register(ctx context.Context, in RegisterInput) (*Identity, error) {
	// 不一致の場合はストアに一切アクセスしない
	if in.Password != in.ConfirmPassword {
		s.metrics.AuthAttempt("register", metrics.OutcomePasswordMismatch)
		return nil, ErrPasswordMismatch
	}
	if err := validateRegistration(in); err != nil {
		s.metrics.AuthAttempt("register", metrics.OutcomeInvalidInput)
		return nil, err
	}

	_, err := s.store.FindByUsername(ctx, in.Username)
	switch {
	case err == nil:
		s.metrics.AuthAttempt("register", metrics.OutcomeUsernameTaken)
		return nil, ErrUsernameTaken
	case !errors.Is(err, credentials.ErrNotFound):
		logging.LogError(s.logger, "registration lookup failed", err)
		s.metrics.AuthAttempt("register", metrics.OutcomeError)
		return nil, newError(ErrRegistrationFailed, err)
	}

	hash, err := s.hasher.Hash(ctx, in.Password)
	if err != nil {
		logging.LogError(s.logger, "password hashing failed", err)
		s.metrics.AuthAttempt("register", metrics.OutcomeError)
		return nil, newError(ErrRegistrationFailed, err)
	}

	// 確認から追加までの間に同名の登録が割り込んだ場合は、ストアの一意制約で検出する
	user, err := s.store.Insert(ctx, in.Username, in.Email, hash)
	if err != nil {
		if errors.Is(err, credentials.ErrDuplicateUsername) {
			s.metrics.AuthAttempt("register", metrics.OutcomeUsernameTaken)
			return nil, ErrUsernameTaken
		}
		logging.LogError(s.logger, "user insert failed", err)
		s.metrics.AuthAttempt("register", metrics.OutcomeError)
		return nil, newError(ErrRegistrationFailed, err)
	}

	s.logger.Info("user registered", "user_id", user.ID)
	s.metrics.AuthAttempt("register", metrics.OutcomeSuccess)
	return &Identity{ID: user.ID, Username: user.Username}, nil
}

// Login は認証に成功した場合のみセッションを作成します。
// ユーザーが存在しない場合とパスワードが誤っている場合は同じ ErrInvalidCredentials を返します。
func (s *Service) Login(ctx context.Context, username, password string) (*LoginResult, error) {
	if username == "" || password == "" {
		s.metrics.AuthAttempt("login", metrics.OutcomeInvalidInput)
		return nil, ErrInvalidInput
	}

	user, err := s.store.FindByUsername(ctx, username)
	if err != nil {
		if !errors.Is(err, credentials.ErrNotFound) {
			logging.LogError(s.logger, "login lookup failed", err)
			s.metrics.AuthAttempt("login", metrics.OutcomeError)
			return nil, newError(ErrServiceUnavailable, err)
		}
		// 応答時間からユーザーの有無が分からないよう、ダミーのハッシュで同じ計算を行う
		if err := s.hasher.VerifyDummy(ctx, password); err != nil {
			s.metrics.AuthAttempt("login", metrics.OutcomeError)
			return nil, newError(ErrServiceUnavailable, err)
		}
		s.metrics.AuthAttempt("login", metrics.OutcomeInvalidCredentials)
		return nil, ErrInvalidCredentials
	}

	ok, err := s.hasher.Verify(ctx, password, user.PasswordHash)
	if err != nil {
		s.metrics.AuthAttempt("login", metrics.OutcomeError)
		return nil, newError(ErrServiceUnavailable, err)
	}
	if !ok {
		s.metrics.AuthAttempt("login", metrics.OutcomeInvalidCredentials)
		return nil, ErrInvalidCredentials
	}

	token, err := s.sessions.Create(ctx, user.ID, user.Username)
	if err != nil {
		logging.LogError(s.logger, "session create failed", err)
		s.metrics.AuthAttempt("login", metrics.OutcomeError)
		return nil, newError(ErrServiceUnavailable, err)
	}

	s.metrics.AuthAttempt("login", metrics.OutcomeSuccess)
	return &LoginResult{
		Token:    token,
		Identity: Identity{ID: user.ID, Username: user.Username},
	}, nil
}

// Logout はセッションを破棄します。トークンが空・未知でもエラーにはなりません。
func (s *Service) Logout(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	if err := s.sessions.Destroy(ctx, token); err != nil {
		logging.LogError(s.logger, "session destroy failed", err)
		s.metrics.AuthAttempt("logout", metrics.OutcomeError)
		return newError(ErrServiceUnavailable, err)
	}
	s.metrics.AuthAttempt("logout", metrics.OutcomeSuccess)
	return nil
}

// Authenticate はトークンに対応するユーザーを返します。
// 有効なセッションが無い場合は (nil, nil) です。
func (s *Service) Authenticate(ctx context.Context, token string) (*Identity, error) {
	if token == "" {
		return nil, nil
	}
	data, err := s.sessions.Resolve(ctx, token)
	if err != nil {
		return nil, newError(ErrServiceUnavailable, err)
	}
	if data == nil {
		return nil, nil
	}
	return &Identity{ID: data.UserID, Username: data.Username}, nil
}

// validateRegistration は HTTP 以外の呼び出し元に対する検証です。
// ハンドラー経由の入力は registerRequest の binding タグでも検証されます。
func validateRegistration(in RegisterInput) error {
	switch {
	case strings.TrimSpace(in.Username) == "",
		strings.TrimSpace(in.Email) == "",
		in.Password == "":
		return ErrInvalidInput
	case utf8.RuneCountInString(in.Username) > maxUsernameLength:
		return ErrInvalidInput
	case len(in.Email) > maxEmailLength:
		return ErrInvalidInput
	case len(in.Password) > maxPasswordBytes:
		return ErrInvalidInput
	}
	// 表示名付きの形式は受け付けず、保存する値がアドレスそのものになるようにする
	addr, err := mail.ParseAddress(in.Email)
	if err != nil || addr.Address != in.Email {
		return ErrInvalidInput
	}
	return nil
}
