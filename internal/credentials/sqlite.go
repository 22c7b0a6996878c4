package credentials

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// SQLiteStore は SQLite ファイルに認証情報を保存する Store です。
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite は path の SQLite データベースを開き、スキーマを適用します。
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, unavailable("open", err)
	}
	// SQLite は書き込みが1接続に直列化されるため、プール側でも1本に絞る
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, unavailable("ping", err)
	}
	if err := Migrate(ctx, db, DialectSQLite); err != nil {
		_ = db.Close()
		return nil, unavailable("migrate", err)
	}

	return &SQLiteStore{db: db}, nil
}

// DB は下位の *sql.DB を返します（migrate コマンド用）。
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

func (s *SQLiteStore) FindByUsername(ctx context.Context, username string) (*User, error) {
	const query = `SELECT id, username, email, password_hash, created_at FROM users WHERE username = ?`

	var (
		user    User
		created int64
	)
	err := s.db.QueryRowContext(ctx, query, username).
		Scan(&user.ID, &user.Username, &user.Email, &user.PasswordHash, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, unavailable("find_by_username", err)
	}
	user.CreatedAt = time.Unix(created, 0).UTC()
	return &user, nil
}

func (s *SQLiteStore) Insert(ctx context.Context, username, email, passwordHash string) (*User, error) {
	const query = `INSERT INTO users (username, email, password_hash, created_at) VALUES (?, ?, ?, ?)`

	now := time.Now().UTC().Truncate(time.Second)
	res, err := s.db.ExecContext(ctx, query, username, email, passwordHash, now.Unix())
	if err != nil {
		if isSQLiteUniqueViolation(err) {
			return nil, duplicate(username, err)
		}
		return nil, unavailable("insert", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, unavailable("insert", fmt.Errorf("last insert id: %w", err))
	}

	return &User{
		ID:           id,
		Username:     username,
		Email:        email,
		PasswordHash: passwordHash,
		CreatedAt:    now,
	}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func isSQLiteUniqueViolation(err error) bool {
	var sqliteErr *sqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	switch sqliteErr.Code() {
	case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
		return true
	case sqlite3.SQLITE_CONSTRAINT:
		// 拡張コードが無効な接続では基本コードしか得られない
		return strings.Contains(sqliteErr.Error(), "UNIQUE")
	}
	return false
}
