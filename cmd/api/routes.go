package main

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/yourusername/comic-library/internal/auth"
	"github.com/yourusername/comic-library/internal/config"
	"github.com/yourusername/comic-library/internal/library"
	"github.com/yourusername/comic-library/internal/logging"
	"github.com/yourusername/comic-library/internal/metrics"
	"github.com/yourusername/comic-library/internal/session"
)

type routerDeps struct {
	cfg            *config.Config
	logger         *slog.Logger
	metrics        *metrics.Metrics
	sessionSecret  []byte
	authHandler    *auth.Handler
	libraryHandler *library.Handler
}

func newRouter(deps routerDeps) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(logging.RequestLogger(deps.logger))

	// CORSミドルウェアの設定
	corsConfig := cors.DefaultConfig()
	// CORS許可オリジンを設定（カンマ区切りの文字列を配列に変換）
	corsConfig.AllowOrigins = strings.Split(deps.cfg.CORSAllowedOrigins, ",")
	corsConfig.AllowCredentials = true
	corsConfig.AllowHeaders = []string{
		"Origin",
		"Content-Type",
		"Accept",
		logging.RequestIDHeader,
	}
	corsConfig.ExposeHeaders = []string{logging.RequestIDHeader}
	router.Use(cors.New(corsConfig))

	router.Use(session.Middleware(session.CookieOptions{
		Name:   deps.cfg.SessionCookieName,
		Secret: deps.sessionSecret,
		MaxAge: deps.cfg.SessionMaxLifetime,
		Secure: deps.cfg.IsRelease(),
	}))

	setupRoutes(router, deps)
	return router
}

// handleHealth はヘルスチェックエンドポイントのハンドラーです。
func handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "comic-library",
		"version": "0.1.0",
	})
}

// setupRoutes は公開ルートとログイン必須ルートを登録します。
func setupRoutes(router *gin.Engine, deps routerDeps) {
	router.GET("/health", handleHealth)
	if deps.metrics != nil {
		router.GET("/metrics", gin.WrapH(deps.metrics.Handler()))
	}

	authHandler := deps.authHandler
	router.GET("/login", authHandler.LoginPage)
	router.POST("/login", authHandler.Login)
	router.GET("/register", authHandler.RegisterPage)
	router.POST("/register", authHandler.Register)
	router.GET("/logout", authHandler.Logout)
	router.POST("/logout", authHandler.Logout)

	protected := router.Group("")
	protected.Use(authHandler.RequireLogin())
	{
		protected.GET("/", deps.libraryHandler.List)
		protected.GET("/viewer/:filename", deps.libraryHandler.Viewer)
		protected.GET("/comics/:filename", deps.libraryHandler.File)
		protected.GET("/api/me", authHandler.Me)
	}
}
