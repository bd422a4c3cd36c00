package api

import (
	"net/http"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"carbid/models"
)

func TestAuth_RegisterLoginFlow(t *testing.T) {
	env := newTestEnv(t, func(c *ServerConfig) { c.OTP.RequireForRegistration = true })
	const email = "buyer@example.com"
	register := gin.H{"email": "Buyer@Example.com", "name": "Buyer", "password": "correct horse"}

	// 尚未驗證 email
	rec := env.do(request{method: http.MethodPost, path: "/auth/register", body: register})
	require.Equal(t, http.StatusForbidden, rec.Code, rec.Body.String())
	sid := cookieNamed(rec, "sid")
	require.NotNil(t, sid)

	rec = env.do(request{method: http.MethodPost, path: "/otp/send", body: gin.H{"email": email}, cookies: []*http.Cookie{sid}})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	code := env.notifier.code(email)
	require.Len(t, code, 6)

	rec = env.do(request{method: http.MethodPost, path: "/otp/verify", body: gin.H{"email": email, "code": "000000"}, cookies: []*http.Cookie{sid}})
	assert.Equal(t, http.StatusBadRequest, rec.Code, "codes never start with zero")
	rec = env.do(request{method: http.MethodPost, path: "/otp/verify", body: gin.H{"email": email, "code": code}, cookies: []*http.Cookie{sid}})
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())

	rec = env.do(request{method: http.MethodPost, path: "/auth/register", body: register, cookies: []*http.Cookie{sid}})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	account := decode[AccountView](t, rec)
	assert.Equal(t, email, account.Email)
	assert.Equal(t, models.RoleBidder, account.Role)
	assert.False(t, account.Approved)

	// 同一個 email 不能重複註冊
	rec = env.do(request{method: http.MethodPost, path: "/auth/register", body: register, cookies: []*http.Cookie{sid}})
	assert.Equal(t, http.StatusForbidden, rec.Code, "verified email is consumed by registration")

	rec = env.do(request{method: http.MethodPost, path: "/auth/login", body: gin.H{"email": email, "password": "wrong password"}})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(request{method: http.MethodPost, path: "/auth/login", body: gin.H{"email": email, "password": "correct horse"}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	token := decode[TokenResponse](t, rec)
	assert.Equal(t, env.clock.Now().Add(time.Hour).Unix(), token.ExpiresAt.Unix())
	cookie := cookieNamed(rec, accessTokenCookie)
	require.NotNil(t, cookie)
	assert.True(t, cookie.HttpOnly)

	rec = env.do(request{method: http.MethodGet, path: "/me", token: token.AccessToken})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, account.ID, decode[AccountView](t, rec).ID)

	// cookie 也可以用來驗證身分
	rec = env.do(request{method: http.MethodGet, path: "/me", cookies: []*http.Cookie{cookie}})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAuth_RegisterWithoutOtpRequirement(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(request{method: http.MethodPost, path: "/auth/register", body: gin.H{"email": "a@example.com", "name": "A", "password": "password1"}})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = env.do(request{method: http.MethodPost, path: "/auth/register", body: gin.H{"email": "a@example.com", "name": "A", "password": "password1"}})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = env.do(request{method: http.MethodPost, path: "/auth/register", body: gin.H{"email": "not-an-email", "name": "A", "password": "password1"}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAuth_RejectsBadTokens(t *testing.T) {
	env := newTestEnv(t)
	account, _ := env.account(models.RoleBidder, true)

	expired, _, err := env.server.IssueToken(account, env.clock.Now().Add(-2*time.Hour))
	require.NoError(t, err)

	other := newTestEnv(t)
	foreign, _, err := other.server.IssueToken(account, env.clock.Now())
	require.NoError(t, err)

	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{
		Role: models.RoleAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   account.ID.String(),
			Issuer:    "carbid-test",
			Audience:  jwt.ClaimStrings{"carbid-test"},
			ExpiresAt: jwt.NewNumericDate(env.clock.Now().Add(time.Hour)),
		},
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
	}{
		{name: "missing", token: ""},
		{name: "garbage", token: "not-a-jwt"},
		{name: "expired", token: expired},
		{name: "foreign key", token: foreign},
		{name: "alg none", token: unsigned},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(request{method: http.MethodGet, path: "/me", token: tt.token})
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
		})
	}
}

func TestAuth_RoleGuards(t *testing.T) {
	env := newTestEnv(t)
	_, bidder := env.account(models.RoleBidder, true)
	_, business := env.account(models.RoleBusiness, true)
	_, admin := env.account(models.RoleAdmin, true)

	tests := []struct {
		name   string
		token  string
		method string
		path   string
		want   int
	}{
		{name: "bidder cannot create lots", token: bidder, method: http.MethodPost, path: "/lots", want: http.StatusForbidden},
		{name: "business can reach lot creation", token: business, method: http.MethodPost, path: "/lots", want: http.StatusBadRequest},
		{name: "business cannot approve", token: business, method: http.MethodPost, path: "/lots/" + "0190f4b2-5f3e-7c4a-9a1b-2c3d4e5f6a7b" + "/approve", want: http.StatusForbidden},
		{name: "admin approves unknown lot", token: admin, method: http.MethodPost, path: "/lots/0190f4b2-5f3e-7c4a-9a1b-2c3d4e5f6a7b/approve", want: http.StatusNotFound},
		{name: "admin cannot bid", token: admin, method: http.MethodPut, path: "/cars/0190f4b2-5f3e-7c4a-9a1b-2c3d4e5f6a7b/bid", want: http.StatusForbidden},
		{name: "malformed id", token: admin, method: http.MethodPost, path: "/lots/xyz/approve", want: http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(request{method: tt.method, path: tt.path, token: tt.token, body: gin.H{}})
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}
}

func TestAccounts_ApprovalAndTerms(t *testing.T) {
	env := newTestEnv(t)
	bidder, bidderToken := env.account(models.RoleBidder, false)
	_, admin := env.account(models.RoleAdmin, true)

	rec := env.do(request{method: http.MethodPost, path: "/accounts/" + bidder.ID.String() + "/approval", token: admin, body: gin.H{}})
	assert.Equal(t, http.StatusBadRequest, rec.Code, "approved flag is required")

	rec = env.do(request{method: http.MethodPost, path: "/accounts/" + bidder.ID.String() + "/approval", token: admin, body: gin.H{"approved": true}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.True(t, decode[AccountView](t, rec).Approved)

	rec = env.do(request{method: http.MethodGet, path: "/terms/active"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(request{method: http.MethodPost, path: "/terms", token: admin, body: gin.H{"version": "v1", "content": "<p>Be nice</p><script>alert(1)</script>"}})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	terms := decode[TermsView](t, rec)
	assert.NotContains(t, terms.Content, "<script>")

	rec = env.do(request{method: http.MethodGet, path: "/terms/active"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, terms.ID, decode[TermsView](t, rec).ID)

	rec = env.do(request{method: http.MethodPost, path: "/me/terms", token: bidderToken, body: gin.H{"termsId": terms.ID}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.NotNil(t, decode[AccountView](t, rec).TermsAcceptedAt)
}

func TestAccounts_CreateStaffAccount(t *testing.T) {
	env := newTestEnv(t)
	_, admin := env.account(models.RoleAdmin, true)

	rec := env.do(request{method: http.MethodPost, path: "/accounts", token: admin, body: gin.H{
		"email": "sales@example.com", "name": "Sales", "password": "password1", "role": "business",
	}})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	view := decode[AccountView](t, rec)
	assert.Equal(t, models.RoleBusiness, view.Role)

	rec = env.do(request{method: http.MethodPost, path: "/accounts", token: admin, body: gin.H{
		"email": "root@example.com", "name": "Root", "password": "password1", "role": "superuser",
	}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAccounts_ContactChange(t *testing.T) {
	env := newTestEnv(t)
	account, token := env.account(models.RoleBidder, true)

	// 沒有待驗證的聯絡方式
	rec := env.do(request{method: http.MethodPost, path: "/me/contact/verify", token: token, body: gin.H{"code": "123456"}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(request{method: http.MethodPost, path: "/me/contact", token: token, body: gin.H{"phone": "+971 50-123-4567"}})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	sid := cookieNamed(rec, "sid")
	require.NotNil(t, sid)
	code := env.notifier.code("+971501234567")
	require.NotEmpty(t, code)

	rec = env.do(request{method: http.MethodPost, path: "/me/contact/verify", token: token, body: gin.H{"code": code}, cookies: []*http.Cookie{sid}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	view := decode[AccountView](t, rec)
	require.NotNil(t, view.Phone)
	assert.Equal(t, "+971501234567", *view.Phone)
	assert.Equal(t, account.Email, view.Email)

	// 驗證碼只能使用一次
	rec = env.do(request{method: http.MethodPost, path: "/me/contact/verify", token: token, body: gin.H{"code": code}, cookies: []*http.Cookie{sid}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
