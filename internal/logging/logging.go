// Package logging は slog ロガーの生成と、gin 用のリクエストログを提供します。
package logging

import (
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/samber/oops"
)

const (
	// RequestIDHeader はリクエスト ID を受け渡すヘッダーです。
	RequestIDHeader = "X-Request-Id"
	// ContextRequestIDKey は gin.Context にリクエスト ID を保存するキーです。
	ContextRequestIDKey = "request_id"
)

// New はログレベルと形式（json または text）を指定してロガーを作成します。
func New(w io.Writer, level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(level)}

	var h slog.Handler
	if strings.EqualFold(strings.TrimSpace(format), "text") {
		h = slog.NewTextHandler(w, opts)
	} else {
		h = slog.NewJSONHandler(w, opts)
	}
	return slog.New(h)
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// RequestLogger はリクエストごとに ID を割り当て、処理結果をログに出力するミドルウェアです。
// クエリ文字列とリクエストボディは出力しません。
func RequestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		requestID := c.GetHeader(RequestIDHeader)
		if requestID == "" || len(requestID) > 128 {
			requestID = uuid.NewString()
		}
		c.Set(ContextRequestIDKey, requestID)
		c.Header(RequestIDHeader, requestID)

		c.Next()

		status := c.Writer.Status()
		level := slog.LevelInfo
		switch {
		case status >= 500:
			level = slog.LevelError
		case status >= 400:
			level = slog.LevelWarn
		}

		logger.LogAttrs(c.Request.Context(), level, "http.request",
			slog.String("method", c.Request.Method),
			slog.String("path", c.Request.URL.Path),
			slog.Int("status", status),
			slog.Int64("duration_ms", time.Since(start).Milliseconds()),
			slog.String("client_ip", c.ClientIP()),
			slog.String("request_id", requestID),
		)
	}
}

// FromContext はリクエスト ID 付きのロガーを返します。
func FromContext(c *gin.Context, logger *slog.Logger) *slog.Logger {
	if id := c.GetString(ContextRequestIDKey); id != "" {
		return logger.With("request_id", id)
	}
	return logger
}

// LogError はエラーをログに出力します。oops のエラーであればコードとコンテキストも出力します。
func LogError(logger *slog.Logger, msg string, err error, args ...any) {
	if oopsErr, ok := oops.AsOops(err); ok {
		attrs := append([]any{"error", oopsErr.Error()}, args...)
		if code := oopsErr.Code(); code != nil {
			attrs = append(attrs, "code", code)
		}
		if domain := oopsErr.Domain(); domain != "" {
			attrs = append(attrs, "domain", domain)
		}
		if ctx := oopsErr.Context(); len(ctx) > 0 {
			attrs = append(attrs, "context", ctx)
		}
		logger.Error(msg, attrs...)
		return
	}
	logger.Error(msg, append([]any{"error", err}, args...)...)
}
