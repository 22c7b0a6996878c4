package main

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/yourusername/comic-library/internal/auth"
	"github.com/yourusername/comic-library/internal/config"
	"github.com/yourusername/comic-library/internal/credentials"
	"github.com/yourusername/comic-library/internal/index"
	"github.com/yourusername/comic-library/internal/library"
	"github.com/yourusername/comic-library/internal/logging"
	"github.com/yourusername/comic-library/internal/metrics"
	"github.com/yourusername/comic-library/internal/session"
)

const (
	shutdownTimeout    = 10 * time.Second
	sessionSweepPeriod = time.Minute
)

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return oops.Code("CONFIG_INVALID").Wrap(err)
	}
	logger := logging.New(os.Stdout, cfg.LogLevel, cfg.LogFormat)
	gin.SetMode(cfg.GinMode)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := newApplication(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer app.Close()

	app.StartWorkers()

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           app.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("starting server", "addr", srv.Addr, "mode", cfg.GinMode)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return oops.Code("SERVER_FAILED").Wrap(err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// application は起動時に組み立てた依存関係を保持します。
type application struct {
	router  *gin.Engine
	index   *index.Manager
	logger  *slog.Logger
	closers []func() error
}

func newApplication(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *application, err error) {
	app := &application{logger: logger}
	defer func() {
		if err != nil {
			app.Close()
		}
	}()

	var m *metrics.Metrics
	if cfg.MetricsEnabled {
		m = metrics.New()
	}

	creds, err := openCredentialStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	app.closers = append(app.closers, creds.Close)

	store, err := openSessionStore(ctx, cfg, app)
	if err != nil {
		return nil, err
	}

	hasher, err := auth.NewHasher(cfg.BcryptCost, cfg.HashConcurrency, m)
	if err != nil {
		return nil, oops.Code("CONFIG_INVALID").Wrap(err)
	}
	sessions := session.NewManager(store, session.Options{
		MaxLifetime: cfg.SessionMaxLifetime,
		IdleTimeout: cfg.SessionIdleTimeout,
	}, m)
	authHandler := auth.NewHandler(auth.NewService(creds, hasher, sessions, logger, m), logger, m)

	var meta library.MetadataSource
	idx, err := setupIndex(ctx, cfg, app)
	if err != nil {
		return nil, err
	}
	if idx != nil {
		app.index = idx
		app.closers = append(app.closers, idx.Shutdown)
		meta = idx
	}
	libraryHandler := library.NewHandler(library.NewService(cfg.LibraryDir, meta, logger), logger)

	secret, err := sessionSecret(cfg, logger)
	if err != nil {
		return nil, err
	}

	app.router = newRouter(routerDeps{
		cfg:            cfg,
		logger:         logger,
		metrics:        m,
		sessionSecret:  secret,
		authHandler:    authHandler,
		libraryHandler: libraryHandler,
	})
	return app, nil
}

// StartWorkers はインデックスのワーカーを起動します。
func (a *application) StartWorkers() {
	if a.index != nil {
		a.index.StartWorkers()
	}
}

// Close は登録された資源を逆順に解放します。
func (a *application) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			logging.LogError(a.logger, "failed to close resource", err)
		}
	}
	a.closers = nil
}

func openCredentialStore(ctx context.Context, cfg *config.Config) (credentials.Store, error) {
	if cfg.UsesPostgres() {
		store, err := credentials.OpenPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, oops.Code("DB_CONNECT_FAILED").With("dialect", credentials.DialectPostgres).Wrap(err)
		}
		return store, nil
	}
	store, err := credentials.OpenSQLite(ctx, cfg.SQLitePath)
	if err != nil {
		return nil, oops.Code("DB_CONNECT_FAILED").With("dialect", credentials.DialectSQLite, "path", cfg.SQLitePath).Wrap(err)
	}
	return store, nil
}

// openSessionStore は SESSION_REDIS_URL が設定されていれば Redis を、そうでなければメモリを使います。
func openSessionStore(ctx context.Context, cfg *config.Config, app *application) (session.Store, error) {
	if cfg.SessionRedisURL == "" {
		store := session.NewMemoryStore()
		sweepCtx, cancel := context.WithCancel(context.Background())
		go store.RunSweeper(sweepCtx, sessionSweepPeriod)
		app.closers = append(app.closers, func() error {
			cancel()
			return nil
		})
		app.logger.Warn("session store is in-memory; sessions are lost on restart")
		return store, nil
	}

	client, err := connectRedis(ctx, cfg.SessionRedisURL)
	if err != nil {
		return nil, oops.Code("SESSION_STORE_UNAVAILABLE").Wrap(err)
	}
	app.closers = append(app.closers, client.Close)
	return session.NewRedisStore(client), nil
}

// connectRedis は Redis に接続し、応答するまで指数バックオフで待ちます。
func connectRedis(ctx context.Context, rawURL string) (*redis.Client, error) {
	opt, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	client := redis.NewClient(opt)

	backoff := retry.WithMaxRetries(5, retry.NewExponential(200*time.Millisecond))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		if err := client.Ping(ctx).Err(); err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}

// sessionSecret はクッキー署名鍵を返します。未設定の開発環境では一時鍵を生成します。
func sessionSecret(cfg *config.Config, logger *slog.Logger) ([]byte, error) {
	if cfg.SessionSecret != "" {
		return []byte(cfg.SessionSecret), nil
	}
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return nil, err
	}
	logger.Warn("SESSION_SECRET is not set; using an ephemeral key")
	return secret, nil
}
