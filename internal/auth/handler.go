package auth

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/yourusername/comic-library/internal/logging"
	"github.com/yourusername/comic-library/internal/metrics"
	"github.com/yourusername/comic-library/internal/session"
)

const (
	// LoginPath は未ログイン時の誘導先です。
	LoginPath = "/login"
	// HomePath はログイン成功時の遷移先です。
	HomePath = "/"
)

// Handler は認証まわりの HTTP ハンドラーとアクセスゲートをまとめた構造体です。
type Handler struct {
	service *Service
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewHandler は認証ハンドラーを作成します。
func NewHandler(service *Service, logger *slog.Logger, m *metrics.Metrics) *Handler {
	return &Handler{service: service, logger: logger, metrics: m}
}

type loginRequest struct {
	Username string `form:"username" json:"username" binding:"required"`
	Password string `form:"password" json:"password" binding:"required"`
}

type registerRequest struct {
	Username        string `form:"username" json:"username" binding:"required,max=64"`
	Email           string `form:"email" json:"email" binding:"required,email,max=254"`
	Password        string `form:"password" json:"password" binding:"required"`
	ConfirmPassword string `form:"confirmPassword" json:"confirmPassword" binding:"required"`
}

// LoginPage は GET /login のハンドラーです。
func (h *Handler) LoginPage(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"title": "Login",
		"error": nil,
		"user":  h.currentUser(c),
	})
}

// RegisterPage は GET /register のハンドラーです。
func (h *Handler) RegisterPage(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"title": "Register",
		"error": nil,
		"user":  h.currentUser(c),
	})
}

// Register は POST /register のハンドラーです。成功時はログイン画面へ誘導します。
func (h *Handler) Register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBind(&req); err != nil {
		respondWithError(c, ErrInvalidInput)
		return
	}

	identity, err := h.service.Register(c.Request.Context(), RegisterInput{
		Username:        req.Username,
		Email:           req.Email,
		Password:        req.Password,
		ConfirmPassword: req.ConfirmPassword,
	})
	if err != nil {
		respondWithError(c, err)
		return
	}

	if wantsJSON(c) {
		c.JSON(http.StatusCreated, gin.H{
			"user":     identity,
			"redirect": LoginPath,
		})
		return
	}
	c.Redirect(http.StatusFound, LoginPath)
}

// Login は POST /login のハンドラーです。成功時はセッションを発行しライブラリへ誘導します。
func (h *Handler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBind(&req); err != nil {
		respondWithError(c, ErrInvalidInput)
		return
	}

	ctx := c.Request.Context()
	previous := session.TokenFromContext(c)

	result, err := h.service.Login(ctx, req.Username, req.Password)
	if err != nil {
		// 失敗時は既存のセッションに触れない
		respondWithError(c, err)
		return
	}

	// 成功時はログイン前のトークンを引き継がない
	if previous != "" {
		if err := h.service.Logout(ctx, previous); err != nil {
			logging.LogError(logging.FromContext(c, h.logger), "previous session destroy failed", err)
		}
	}

	if err := session.Bind(c, result.Token); err != nil {
		logging.LogError(logging.FromContext(c, h.logger), "session cookie save failed", err)
		_ = h.service.Logout(ctx, result.Token)
		respondWithError(c, newError(ErrServiceUnavailable, err))
		return
	}

	if wantsJSON(c) {
		c.JSON(http.StatusOK, gin.H{
			"user":     result.Identity,
			"redirect": HomePath,
		})
		return
	}
	c.Redirect(http.StatusFound, HomePath)
}

// Logout は GET/POST /logout のハンドラーです。セッションが無くても成功します。
func (h *Handler) Logout(c *gin.Context) {
	token := session.TokenFromContext(c)

	// サーバー側の破棄に失敗してもクッキーは消す
	if err := session.Unbind(c); err != nil {
		logging.LogError(logging.FromContext(c, h.logger), "session cookie clear failed", err)
	}
	if err := h.service.Logout(c.Request.Context(), token); err != nil {
		respondWithError(c, err)
		return
	}

	if wantsJSON(c) {
		c.Status(http.StatusNoContent)
		return
	}
	c.Redirect(http.StatusFound, LoginPath)
}

// Me は GET /api/me のハンドラーです。アクセスゲートの後ろで使います。
func (h *Handler) Me(c *gin.Context) {
	identity, ok := IdentityFromContext(c)
	if !ok {
		respondUnauthorized(c)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": identity})
}

func (h *Handler) currentUser(c *gin.Context) *Identity {
	identity, err := h.service.Authenticate(c.Request.Context(), session.TokenFromContext(c))
	if err != nil {
		logging.LogError(logging.FromContext(c, h.logger), "session resolve failed", err)
		return nil
	}
	return identity
}

func respondWithError(c *gin.Context, err error) {
	var authErr *Error
	if errors.As(err, &authErr) {
		c.JSON(authErr.Status, gin.H{
			"code":    authErr.Code,
			"message": authErr.Message,
		})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{
		"code":    "INTERNAL_ERROR",
		"message": "サーバー内部でエラーが発生しました。",
	})
}

func respondUnauthorized(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"code":    "UNAUTHORIZED",
		"message": "ログインが必要です",
	})
}

// wantsJSON は JSON で応答すべきリクエスト（API クライアント）かを判定します。
func wantsJSON(c *gin.Context) bool {
	if c.ContentType() == gin.MIMEJSON {
		return true
	}
	return strings.Contains(c.GetHeader("Accept"), gin.MIMEJSON)
}
