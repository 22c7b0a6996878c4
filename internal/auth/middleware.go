package auth

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yourusername/comic-library/internal/logging"
	"github.com/yourusername/comic-library/internal/metrics"
	"github.com/yourusername/comic-library/internal/session"
)

// ContextIdentityKey は、ハンドラー間でログイン済みユーザーを共有するためのキーです。
const ContextIdentityKey = "auth.identity"

// RequireLogin は保護されたルートの前段に置くアクセスゲートです。
//
// 有効なセッションがあれば Identity をコンテキストに設定して後続へ進みます。
// 無ければ後続のハンドラーを実行せず、ブラウザには /login へのリダイレクト、
// JSON クライアントには 401 を返します。
func (h *Handler) RequireLogin() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := session.TokenFromContext(c)

		identity, err := h.service.Authenticate(c.Request.Context(), token)
		if err != nil {
			logging.LogError(logging.FromContext(c, h.logger), "access gate session resolve failed", err)
			h.metrics.GateDecision(metrics.GateError)
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{
				"code":    ErrServiceUnavailable.Code,
				"message": ErrServiceUnavailable.Message,
			})
			return
		}

		if identity == nil {
			// 失効したトークンを持つクッキーは消しておく
			if token != "" {
				_ = session.Unbind(c)
			}
			if wantsJSON(c) {
				h.metrics.GateDecision(metrics.GateRejected)
				respondUnauthorized(c)
				return
			}
			h.metrics.GateDecision(metrics.GateRedirected)
			c.Redirect(http.StatusFound, LoginPath)
			c.Abort()
			return
		}

		h.metrics.GateDecision(metrics.GateAllowed)
		c.Set(ContextIdentityKey, *identity)
		c.Next()
	}
}

// IdentityFromContext はアクセスゲートが設定したユーザーを返します。
func IdentityFromContext(c *gin.Context) (Identity, bool) {
	v, ok := c.Get(ContextIdentityKey)
	if !ok {
		return Identity{}, false
	}
	identity, ok := v.(Identity)
	return identity, ok
}
