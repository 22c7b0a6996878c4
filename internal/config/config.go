// Package config は環境変数から設定を読み込み、アプリケーション全体で使用する設定を提供します。
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/crypto/bcrypt"
)

// minReleaseSecretLen はリリースモードで要求するセッション署名鍵の最小バイト数です。
const minReleaseSecretLen = 32

// Config はアプリケーションの設定を保持する構造体です。
type Config struct {
	// サーバー設定
	Port    string // APIサーバーのポート番号
	GinMode string // Ginの実行モード (debug, release, test)

	// ログ設定
	LogLevel  string // debug, info, warn, error
	LogFormat string // json または text

	// CORS設定
	CORSAllowedOrigins string // CORS許可オリジン（カンマ区切り）

	// セッション設定
	SessionSecret      string        // セッションクッキー署名用の秘密鍵
	SessionCookieName  string        // セッションクッキー名
	SessionMaxLifetime time.Duration // ログインからの絶対的な有効期限
	SessionIdleTimeout time.Duration // 無操作でセッションを失効させるまでの時間
	SessionRedisURL    string        // 空ならプロセス内メモリにセッションを保持

	// 認証情報ストア
	DatabaseURL string // postgres:// 形式なら Postgres、空なら SQLite
	SQLitePath  string // SQLite ファイルのパス

	// パスワードハッシュ
	BcryptCost      int // bcrypt のコスト
	HashConcurrency int // 同時に実行するハッシュ計算の上限

	// ライブラリ設定
	LibraryDir string // PDF を配置するディレクトリ

	// インデックス（非同期メタデータ抽出）設定
	QueueRedisURL   string // Asynq用Redis接続URL（空なら無効）
	IndexTTLMinutes int    // メタデータの保持期間（0 なら無期限）

	MetricsEnabled bool // /metrics を公開するか
}

// Load は環境変数から設定を読み込みます。
// .env.local ファイルが存在する場合はそこから読み込みます。
func Load() (*Config, error) {
	// .env.local ファイルを読み込む（存在しない場合はスキップ）
	loadEnvFile()

	config := &Config{
		// サーバー設定
		Port:    getEnv("PORT", "8080"),
		GinMode: getEnv("GIN_MODE", "debug"),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "json"),

		CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:5173"),

		// セッション設定
		SessionSecret:      getEnv("SESSION_SECRET", ""),
		SessionCookieName:  getEnv("SESSION_COOKIE_NAME", "cl_session"),
		SessionMaxLifetime: getEnvAsDuration("SESSION_MAX_LIFETIME", 12*time.Hour),
		SessionIdleTimeout: getEnvAsDuration("SESSION_IDLE_TIMEOUT", 30*time.Minute),
		SessionRedisURL:    getEnv("SESSION_REDIS_URL", ""),

		DatabaseURL: getEnv("DATABASE_URL", ""),
		SQLitePath:  getEnv("SQLITE_PATH", "./users.db"),

		// 既存のパスワードハッシュと同じコスト 10 を既定値とする
		BcryptCost:      getEnvAsInt("BCRYPT_COST", 10),
		HashConcurrency: getEnvAsInt("HASH_CONCURRENCY", runtime.NumCPU()),

		LibraryDir: getEnv("LIBRARY_DIR", "./public/comics"),

		QueueRedisURL:   getEnv("QUEUE_REDIS_URL", ""),
		IndexTTLMinutes: getEnvAsInt("INDEX_TTL_MINUTES", 0),

		MetricsEnabled: getEnvAsBool("METRICS_ENABLED", true),
	}

	// 必須設定のバリデーション
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func loadEnvFile() {
	if err := godotenv.Load(".env.local"); err == nil {
		return
	}

	cwd, err := os.Getwd()
	if err != nil {
		return
	}

	parent := filepath.Dir(cwd)
	if parent == "" || parent == cwd {
		return
	}

	_ = godotenv.Load(filepath.Join(parent, ".env.local"))
}

// Validate は設定の妥当性を検証します。
func (c *Config) Validate() error {
	if c.SessionMaxLifetime <= 0 {
		return fmt.Errorf("SESSION_MAX_LIFETIME must be positive")
	}
	if c.SessionIdleTimeout <= 0 {
		return fmt.Errorf("SESSION_IDLE_TIMEOUT must be positive")
	}
	if c.SessionIdleTimeout > c.SessionMaxLifetime {
		return fmt.Errorf("SESSION_IDLE_TIMEOUT must not exceed SESSION_MAX_LIFETIME")
	}
	if c.BcryptCost < bcrypt.MinCost || c.BcryptCost > bcrypt.MaxCost {
		return fmt.Errorf("BCRYPT_COST must be between %d and %d", bcrypt.MinCost, bcrypt.MaxCost)
	}
	if strings.TrimSpace(c.SessionCookieName) == "" {
		return fmt.Errorf("SESSION_COOKIE_NAME must not be empty")
	}
	if strings.TrimSpace(c.LibraryDir) == "" {
		return fmt.Errorf("LIBRARY_DIR must not be empty")
	}

	// ローカル開発ではセッション鍵は任意（起動時に一時鍵を生成する）
	// 本番環境では厳格にチェックする
	if c.IsRelease() {
		if c.SessionSecret == "" {
			return fmt.Errorf("SESSION_SECRET is required in release mode")
		}
		if len(c.SessionSecret) < minReleaseSecretLen {
			return fmt.Errorf("SESSION_SECRET must be at least %d bytes in release mode", minReleaseSecretLen)
		}
	}

	return nil
}

// IsRelease はリリースモードで動作しているかを返します。
func (c *Config) IsRelease() bool {
	return c.GinMode == "release"
}

// UsesPostgres は認証情報ストアに Postgres を使うかを返します。
func (c *Config) UsesPostgres() bool {
	return strings.HasPrefix(c.DatabaseURL, "postgres://") || strings.HasPrefix(c.DatabaseURL, "postgresql://")
}

// IndexTTL はインデックス記録の保持期間を返します。
func (c *Config) IndexTTL() time.Duration {
	if c.IndexTTLMinutes <= 0 {
		return 0
	}
	return time.Duration(c.IndexTTLMinutes) * time.Minute
}

// getEnv は環境変数を取得し、存在しない場合はデフォルト値を返します。
func getEnv(key string, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnvAsInt は環境変数を整数として取得します。
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsBool は環境変数を真偽値として取得します。
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDuration は環境変数を time.Duration として取得します（例: 30m, 12h）。
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
