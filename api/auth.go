package api

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"carbid/bidding"
	"carbid/models"
)

const (
	principalKey      = "carbid-principal"
	accessTokenCookie = "access_token"
)

// Claims 是 access token 的內容，Role 決定可以使用的 API
type Claims struct {
	Name string      `json:"name"`
	Role models.Role `json:"role"`
	jwt.RegisteredClaims
}

// Principal 是通過驗證的呼叫者
type Principal struct {
	ID   uuid.UUID
	Name string
	Role models.Role
}

func (p Principal) IsAdmin() bool {
	return p.Role == models.RoleAdmin
}

// IsStaff 判斷是否為可以檢視所有拍賣的內部帳號
func (p Principal) IsStaff() bool {
	return p.Role == models.RoleAdmin || p.Role == models.RoleBusiness
}

// IssueToken 以 Ed25519 簽發 access token
func (s *Server) IssueToken(account models.Account, now time.Time) (string, time.Time, error) {
	const op = "IssueToken"
	expiresAt := now.Add(s.config.Auth.ExpireDuration)
	token := jwt.NewWithClaims(&jwt.SigningMethodEd25519{}, Claims{
		Name: account.Name,
		Role: account.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   account.ID.String(),
			Issuer:    s.config.Auth.Issuer,
			Audience:  jwt.ClaimStrings{s.config.Auth.Audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	})
	signed, err := token.SignedString(s.config.Auth.PrivateKey)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("[%s] Fail to sign token, err=%w", op, err)
	}
	return signed, expiresAt, nil
}

// ParseToken 驗證簽章、issuer、audience 與期限
func (s *Server) ParseToken(tokenString string) (*Claims, error) {
	const op = "ParseToken"
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return s.config.Auth.PrivateKey.Public(), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodEdDSA.Alg()}),
		jwt.WithIssuer(s.config.Auth.Issuer),
		jwt.WithAudience(s.config.Auth.Audience),
		jwt.WithTimeFunc(s.clock.Now),
	)
	if err != nil {
		return nil, fmt.Errorf("[%s] %w: %w", op, bidding.ErrUnauthorized, err)
	}
	if !claims.Role.Valid() {
		return nil, fmt.Errorf("[%s] unknown role %q: %w", op, claims.Role, bidding.ErrUnauthorized)
	}
	return claims, nil
}

func bearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if token, ok := strings.CutPrefix(header, "Bearer "); ok {
		return strings.TrimSpace(token)
	}
	if cookie, err := c.Cookie(accessTokenCookie); err == nil {
		return cookie
	}
	return ""
}

// Authenticate 解析 access token 並把 Principal 放入 context；沒有 token 時回應 401
func (s *Server) Authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c)
		if token == "" {
			abortWithMessage(c, http.StatusUnauthorized, "missing access token")
			return
		}
		claims, err := s.ParseToken(token)
		if err != nil {
			logger(c).Debug("Reject access token", slog.Any("error", err))
			abortWithMessage(c, http.StatusUnauthorized, "invalid access token")
			return
		}
		id, err := uuid.Parse(claims.Subject)
		if err != nil {
			abortWithMessage(c, http.StatusUnauthorized, "invalid access token")
			return
		}
		c.Set(principalKey, Principal{ID: id, Name: claims.Name, Role: claims.Role})
		c.Next()
	}
}

// RequireRole 只允許指定角色通過，必須放在 Authenticate 之後
func RequireRole(roles ...models.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		p, err := principalOf(c)
		if err != nil {
			abortWithMessage(c, http.StatusUnauthorized, "missing principal")
			return
		}
		if !slices.Contains(roles, p.Role) {
			abortWithError(c, "RequireRole", bidding.ErrUnauthorized)
			return
		}
		c.Next()
	}
}

var errNoPrincipal = errors.New("no principal in context")

func principalOf(c *gin.Context) (Principal, error) {
	v, ok := c.Get(principalKey)
	if !ok {
		return Principal{}, errNoPrincipal
	}
	p, ok := v.(Principal)
	if !ok {
		return Principal{}, errNoPrincipal
	}
	return p, nil
}

// mustPrincipal 用在已經套用 Authenticate 的路由
func mustPrincipal(c *gin.Context) Principal {
	p, err := principalOf(c)
	if err != nil {
		panic(err)
	}
	return p
}
