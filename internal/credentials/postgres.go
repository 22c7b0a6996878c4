package credentials

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/sethvargo/go-retry"
)

// pgPool は PostgresStore が使うプールの操作です。テストでは pgxmock が実装します。
type pgPool interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

// PostgresStore は Postgres に認証情報を保存する Store です。
type PostgresStore struct {
	pool pgPool
}

// NewPostgresStore は既存のプールから Store を作成します。
func NewPostgresStore(pool pgPool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// OpenPostgres は dsn に接続し、スキーマを適用します。
// 起動直後のデータベースを待つため、接続確認は指数バックオフで再試行します。
func OpenPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, unavailable("open", err)
	}

	backoff := retry.WithMaxRetries(5, retry.NewExponential(200*time.Millisecond))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		if err := pool.Ping(ctx); err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		pool.Close()
		return nil, unavailable("ping", err)
	}

	db := stdlib.OpenDBFromPool(pool)
	defer db.Close()
	if err := Migrate(ctx, db, DialectPostgres); err != nil {
		pool.Close()
		return nil, unavailable("migrate", err)
	}

	return NewPostgresStore(pool), nil
}

func (s *PostgresStore) FindByUsername(ctx context.Context, username string) (*User, error) {
	const query = `SELECT id, username, email, password_hash, created_at FROM users WHERE username = $1`

	var user User
	err := s.pool.QueryRow(ctx, query, username).
		Scan(&user.ID, &user.Username, &user.Email, &user.PasswordHash, &user.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, unavailable("find_by_username", err)
	}
	return &user, nil
}

func (s *PostgresStore) Insert(ctx context.Context, username, email, passwordHash string) (*User, error) {
	const query = `INSERT INTO users (username, email, password_hash) VALUES ($1, $2, $3) RETURNING id, created_at`

	user := User{Username: username, Email: email, PasswordHash: passwordHash}
	err := s.pool.QueryRow(ctx, query, username, email, passwordHash).Scan(&user.ID, &user.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return nil, duplicate(username, err)
		}
		return nil, unavailable("insert", err)
	}
	return &user, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
