package library

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/gin-gonic/gin"

	"github.com/yourusername/comic-library/internal/auth"
	"github.com/yourusername/comic-library/internal/logging"
)

// Handler はライブラリの HTTP ハンドラーです。すべてアクセスゲートの後ろで使います。
type Handler struct {
	service *Service
	logger  *slog.Logger
}

// NewHandler はライブラリハンドラーを作成します。
func NewHandler(service *Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// List は GET / のハンドラーです。
func (h *Handler) List(c *gin.Context) {
	entries, err := h.service.Entries(c.Request.Context())
	if err != nil {
		logging.LogError(logging.FromContext(c, h.logger), "library listing failed", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    "LIBRARY_UNAVAILABLE",
			"message": "コミック一覧を読み込めませんでした。",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"title":  "Comic Library",
		"comics": entries,
		"user":   currentUser(c),
	})
}

// Viewer は GET /viewer/:filename のハンドラーです。
func (h *Handler) Viewer(c *gin.Context) {
	filename := c.Param("filename")
	if !h.service.Exists(filename) {
		respondNotFound(c)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"title":    "Comic Viewer",
		"filename": filename,
		"fileUrl":  FileURL(filename),
		"user":     currentUser(c),
	})
}

// File は GET /comics/:filename のハンドラーです。PDF をインライン表示用に配信します。
func (h *Handler) File(c *gin.Context) {
	filename := c.Param("filename")

	file, info, err := h.service.Open(filename)
	if err != nil {
		switch {
		case errors.Is(err, ErrNotFound):
			respondNotFound(c)
		case errors.Is(err, ErrNotPDF):
			c.JSON(http.StatusUnsupportedMediaType, gin.H{
				"code":    "UNSUPPORTED_PDF",
				"message": "PDFファイルではありません。",
			})
		default:
			logging.LogError(logging.FromContext(c, h.logger), "comic open failed", err, "filename", filename)
			c.JSON(http.StatusInternalServerError, gin.H{
				"code":    "INTERNAL_ERROR",
				"message": "サーバー内部でエラーが発生しました。",
			})
		}
		return
	}
	defer file.Close()

	encodedName := url.PathEscape(info.Filename)
	c.DataFromReader(http.StatusOK, info.SizeBytes, pdfMIME, file, map[string]string{
		"Content-Disposition":    fmt.Sprintf("inline; filename=\"%s\"; filename*=UTF-8''%s", encodedName, encodedName),
		"Cache-Control":          "private, no-store",
		"X-Content-Type-Options": "nosniff",
	})
}

func respondNotFound(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{
		"code":    "FILE_NOT_FOUND",
		"message": "ファイルが見つかりません。",
	})
}

func currentUser(c *gin.Context) *auth.Identity {
	identity, ok := auth.IdentityFromContext(c)
	if !ok {
		return nil
	}
	return &identity
}
