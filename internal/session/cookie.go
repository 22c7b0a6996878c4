package session

import (
	"net/http"
	"time"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
)

// cookieTokenKey は署名付きクッキー内でトークンを保持するキーです。
const cookieTokenKey = "token"

// CookieOptions はセッションクッキーの設定です。
type CookieOptions struct {
	Name   string
	Secret []byte
	MaxAge time.Duration
	Secure bool
}

// Middleware は署名付きクッキーを読み書きする gin ミドルウェアを返します。
// クッキーに入るのは不透明なトークンだけで、改ざんされたクッキーは空のセッションとして扱われます。
func Middleware(opts CookieOptions) gin.HandlerFunc {
	store := cookie.NewStore(opts.Secret)
	store.Options(sessions.Options{
		Path:     "/",
		MaxAge:   int(opts.MaxAge.Seconds()),
		HttpOnly: true,
		Secure:   opts.Secure,
		// ログインフォームからのトップレベル遷移でもクッキーを送るため Lax
		SameSite: http.SameSiteLaxMode,
	})
	return sessions.Sessions(opts.Name, store)
}

// TokenFromContext はリクエストのクッキーからトークンを取り出します。無い場合は空文字です。
func TokenFromContext(c *gin.Context) string {
	token, _ := sessions.Default(c).Get(cookieTokenKey).(string)
	return token
}

// Bind はトークンをレスポンスのクッキーに書き込みます。
func Bind(c *gin.Context, token string) error {
	s := sessions.Default(c)
	s.Set(cookieTokenKey, token)
	return s.Save()
}

// Unbind はクッキーからトークンを取り除きます。
func Unbind(c *gin.Context) error {
	s := sessions.Default(c)
	s.Clear()
	return s.Save()
}
