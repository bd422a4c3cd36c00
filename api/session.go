package api

import (
	"github.com/gin-gonic/gin"

	"carbid/adapters/session"
)

const (
	SESSION_KEY_VERIFIED_EMAIL = "verified_email"
	SESSION_KEY_PENDING_EMAIL  = "pending_email"
	SESSION_KEY_PENDING_PHONE  = "pending_phone"
)

func (s *Server) SessionMiddleware() gin.HandlerFunc {
	opts := []session.MiddlewareOption{
		session.WithCookieSecure(s.config.Session.CookieSecure),
	}
	if s.config.Session.CookieName != "" {
		opts = append(opts, session.WithCookieName(s.config.Session.CookieName))
	}
	if s.config.Session.CookieMaxAge > 0 {
		opts = append(opts, session.WithCookieMaxAge(s.config.Session.CookieMaxAge))
	}
	if s.config.Session.SameSite != 0 {
		opts = append(opts, session.WithCookieSameSite(s.config.Session.SameSite))
	}
	return session.GinMiddleware(s.sessionStore, opts...)
}
