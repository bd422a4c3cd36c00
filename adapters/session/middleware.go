package session

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const contextKey = "carbid-session"

var ErrSessionNotFound = errors.New("session not found")

type middlewareOptions struct {
	cookieName     string
	cookieMaxAge   time.Duration
	cookiePath     string
	cookieDomain   string
	cookieSecure   bool
	cookieSameSite http.SameSite
}

type MiddlewareOption func(*middlewareOptions)

// WithCookieName 設定存放 session id 的 cookie 名稱
func WithCookieName(name string) MiddlewareOption {
	return func(o *middlewareOptions) {
		o.cookieName = name
	}
}

// WithCookieMaxAge 設定 cookie 與儲存層資料的存活時間
func WithCookieMaxAge(maxAge time.Duration) MiddlewareOption {
	return func(o *middlewareOptions) {
		o.cookieMaxAge = maxAge
	}
}

func WithCookiePath(path string) MiddlewareOption {
	return func(o *middlewareOptions) {
		o.cookiePath = path
	}
}

func WithCookieDomain(domain string) MiddlewareOption {
	return func(o *middlewareOptions) {
		o.cookieDomain = domain
	}
}

// WithCookieSecure 設定 cookie 是否只在 HTTPS 傳送，本機開發時關閉
func WithCookieSecure(secure bool) MiddlewareOption {
	return func(o *middlewareOptions) {
		o.cookieSecure = secure
	}
}

func WithCookieSameSite(sameSite http.SameSite) MiddlewareOption {
	return func(o *middlewareOptions) {
		o.cookieSameSite = sameSite
	}
}

// GinMiddleware 為每個請求建立 session 並放入 gin context
// cookie 必須在 handler 寫入回應之前設定
func GinMiddleware(store IStore, opts ...MiddlewareOption) gin.HandlerFunc {
	options := middlewareOptions{
		cookieName:     "carbid_session",
		cookieMaxAge:   30 * time.Minute,
		cookiePath:     "/",
		cookieSecure:   true,
		cookieSameSite: http.SameSiteLaxMode,
	}
	for _, opt := range opts {
		opt(&options)
	}

	return func(c *gin.Context) {
		sessionID, err := c.Cookie(options.cookieName)
		if err != nil || uuid.Validate(sessionID) != nil {
			sessionID = uuid.NewString()
		}

		c.SetSameSite(options.cookieSameSite)
		c.SetCookie(
			options.cookieName,
			sessionID,
			int(options.cookieMaxAge/time.Second),
			options.cookiePath,
			options.cookieDomain,
			options.cookieSecure,
			true,
		)
		c.Set(contextKey, NewSession(c.Request.Context(), sessionID, store, options.cookieMaxAge))
		c.Next()
	}
}

// GetSession 從 gin context 取得已載入的 session
func GetSession(c *gin.Context) (ISession, error) {
	const op = "session.GetSession"
	v, ok := c.Get(contextKey)
	if !ok {
		return nil, ErrSessionNotFound
	}
	s, ok := v.(ISession)
	if !ok {
		return nil, fmt.Errorf("[%s] invalid session type %T", op, v)
	}
	if err := s.Load(); err != nil {
		return nil, fmt.Errorf("[%s] %w", op, err)
	}
	return s, nil
}
