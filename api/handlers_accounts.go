package api

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"carbid/accounts"
	"carbid/adapters/session"
	"carbid/bidding"
	"carbid/models"
	"carbid/otp"
)

type RegisterRequest struct {
	Email    string          `json:"email" binding:"required,email"`
	Phone    string          `json:"phone" binding:"omitempty,e164ish"`
	Name     string          `json:"name" binding:"required,max=255"`
	Password string          `json:"password" binding:"required,min=8,max=72"`
	UserType models.UserType `json:"userType" binding:"omitempty,oneof=individual organization"`
}

type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

type TokenResponse struct {
	AccessToken string      `json:"accessToken"`
	ExpiresAt   time.Time   `json:"expiresAt"`
	Account     AccountView `json:"account"`
}

// Register 建立競標者帳號，帳號需要管理員核准後才能出價
// (POST /auth/register)
func (s *Server) Register(c *gin.Context) {
	const op = "Register"
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithMessage(c, http.StatusBadRequest, bindingMessage(err))
		return
	}
	email := strings.ToLower(strings.TrimSpace(req.Email))

	var sess session.ISession
	if s.config.OTP.RequireForRegistration {
		var err error
		sess, err = session.GetSession(c)
		if err != nil {
			abortWithError(c, op, err)
			return
		}
		if verified, ok := sess.Get(SESSION_KEY_VERIFIED_EMAIL); !ok || verified != email {
			abortWithMessage(c, http.StatusForbidden, "email has not been verified")
			return
		}
	}

	account, err := s.accounts.Register(c.Request.Context(), accounts.RegisterInput{
		Email:    email,
		Phone:    normalizePhone(req.Phone),
		Name:     s.htmlChecker.Sanitize(req.Name),
		Password: req.Password,
		Role:     models.RoleBidder,
		UserType: req.UserType,
	}, s.clock.Now())
	if err != nil {
		abortWithError(c, op, err)
		return
	}
	if sess != nil {
		sess.Delete(SESSION_KEY_VERIFIED_EMAIL)
		if err := sess.Save(); err != nil {
			logger(c).Warn("Fail to clear verified email", slog.Any("error", err))
		}
	}
	c.Header("Location", "/me")
	c.JSON(http.StatusCreated, accountView(account))
}

// Login 驗證密碼並簽發 access token，同時寫入 HttpOnly cookie 供 SSE 使用
// (POST /auth/login)
func (s *Server) Login(c *gin.Context) {
	const op = "Login"
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithMessage(c, http.StatusBadRequest, bindingMessage(err))
		return
	}
	account, err := s.accounts.Authenticate(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		// 帳號不存在與密碼錯誤都回應 401
		if statusOf(err) == http.StatusForbidden {
			abortWithMessage(c, http.StatusUnauthorized, "invalid email or password")
			return
		}
		abortWithError(c, op, err)
		return
	}
	now := s.clock.Now()
	token, expiresAt, err := s.IssueToken(account, now)
	if err != nil {
		abortWithError(c, op, err)
		return
	}
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(accessTokenCookie, token, int(expiresAt.Sub(now)/time.Second), "/", "", s.config.Session.CookieSecure, true)
	c.JSON(http.StatusOK, TokenResponse{AccessToken: token, ExpiresAt: expiresAt, Account: accountView(account)})
}

// GetMe
// (GET /me)
func (s *Server) GetMe(c *gin.Context) {
	const op = "GetMe"
	account, err := s.accounts.Get(c.Request.Context(), mustPrincipal(c).ID)
	if err != nil {
		abortWithError(c, op, err)
		return
	}
	c.JSON(http.StatusOK, accountView(account))
}

type CreateStaffAccountRequest struct {
	RegisterRequest
	Role models.Role `json:"role" binding:"required,oneof=admin business bidder"`
}

// CreateStaffAccount 由管理員建立已核准的帳號
// (POST /accounts)
func (s *Server) CreateStaffAccount(c *gin.Context) {
	const op = "CreateStaffAccount"
	var req CreateStaffAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithMessage(c, http.StatusBadRequest, bindingMessage(err))
		return
	}
	actor := mustPrincipal(c)
	account, err := s.accounts.Register(c.Request.Context(), accounts.RegisterInput{
		Email:        req.Email,
		Phone:        normalizePhone(req.Phone),
		Name:         s.htmlChecker.Sanitize(req.Name),
		Password:     req.Password,
		Role:         req.Role,
		UserType:     req.UserType,
		ApprovedByID: &actor.ID,
	}, s.clock.Now())
	if err != nil {
		abortWithError(c, op, err)
		return
	}
	c.JSON(http.StatusCreated, accountView(account))
}

type SetApprovalRequest struct {
	Approved *bool `json:"approved" binding:"required"`
}

// SetApproval 核准或取消核准帳號
// (POST /accounts/:accountID/approval)
func (s *Server) SetApproval(c *gin.Context) {
	const op = "SetApproval"
	accountID, ok := pathUUID(c, "accountID")
	if !ok {
		return
	}
	var req SetApprovalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithMessage(c, http.StatusBadRequest, bindingMessage(err))
		return
	}
	account, err := s.accounts.SetApproval(c.Request.Context(), accountID, mustPrincipal(c).ID, *req.Approved, s.clock.Now())
	if err != nil {
		abortWithError(c, op, err)
		return
	}
	c.JSON(http.StatusOK, accountView(account))
}

type PublishTermsRequest struct {
	Version string `json:"version" binding:"required,max=32"`
	Content string `json:"content" binding:"required"`
}

// PublishTerms 發布新版條款並讓舊版失效
// (POST /terms)
func (s *Server) PublishTerms(c *gin.Context) {
	const op = "PublishTerms"
	var req PublishTermsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithMessage(c, http.StatusBadRequest, bindingMessage(err))
		return
	}
	terms, err := s.accounts.PublishTerms(c.Request.Context(), req.Version, s.htmlChecker.Sanitize(req.Content), mustPrincipal(c).ID)
	if err != nil {
		abortWithError(c, op, err)
		return
	}
	c.JSON(http.StatusCreated, termsView(terms))
}

// GetActiveTerms
// (GET /terms/active)
func (s *Server) GetActiveTerms(c *gin.Context) {
	const op = "GetActiveTerms"
	terms, err := s.accounts.ActiveTerms(c.Request.Context())
	if err != nil {
		abortWithError(c, op, err)
		return
	}
	c.JSON(http.StatusOK, termsView(terms))
}

type AcceptTermsRequest struct {
	TermsID uuid.UUID `json:"termsId" binding:"required"`
}

// AcceptTerms 同意目前生效的條款
// (POST /me/terms)
func (s *Server) AcceptTerms(c *gin.Context) {
	const op = "AcceptTerms"
	var req AcceptTermsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithMessage(c, http.StatusBadRequest, bindingMessage(err))
		return
	}
	account, err := s.accounts.AcceptTerms(c.Request.Context(), mustPrincipal(c).ID, req.TermsID, s.clock.Now())
	if err != nil {
		abortWithError(c, op, err)
		return
	}
	c.JSON(http.StatusOK, accountView(account))
}

// RequestContactChange 把新的聯絡方式暫存在 session 並寄出驗證碼
// (POST /me/contact)
func (s *Server) RequestContactChange(c *gin.Context) {
	const op = "RequestContactChange"
	var req OtpSendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithMessage(c, http.StatusBadRequest, bindingMessage(err))
		return
	}
	sess, err := session.GetSession(c)
	if err != nil {
		abortWithError(c, op, err)
		return
	}
	id := req.identity()
	sess.Delete(SESSION_KEY_PENDING_EMAIL)
	sess.Delete(SESSION_KEY_PENDING_PHONE)
	if id.Email != "" {
		sess.Set(SESSION_KEY_PENDING_EMAIL, id.Email)
	} else {
		sess.Set(SESSION_KEY_PENDING_PHONE, id.Phone)
	}
	if err := sess.Save(); err != nil {
		abortWithError(c, op, fmt.Errorf("[%s] Fail to save session, err=%w", op, err))
		return
	}
	s.sendOtp(c, id)
}

type ContactVerifyRequest struct {
	Code string `json:"code" binding:"required,otpcode"`
}

// VerifyContactChange 驗證碼正確時套用 session 中暫存的聯絡方式
// (POST /me/contact/verify)
func (s *Server) VerifyContactChange(c *gin.Context) {
	const op = "VerifyContactChange"
	var req ContactVerifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithMessage(c, http.StatusBadRequest, bindingMessage(err))
		return
	}
	sess, err := session.GetSession(c)
	if err != nil {
		abortWithError(c, op, err)
		return
	}
	var id otp.Identity
	id.Email, _ = sess.Get(SESSION_KEY_PENDING_EMAIL)
	id.Phone, _ = sess.Get(SESSION_KEY_PENDING_PHONE)
	if id.Email == "" && id.Phone == "" {
		abortWithError(c, op, fmt.Errorf("[%s] no pending contact change: %w", op, bidding.ErrInvalidOrExpiredOtp))
		return
	}
	if err := s.otp.Verify(c.Request.Context(), id, req.Code, s.clock.Now()); err != nil {
		abortWithError(c, op, err)
		return
	}
	account, err := s.accounts.ChangeContact(c.Request.Context(), mustPrincipal(c).ID, id.Email, id.Phone)
	if err != nil {
		abortWithError(c, op, err)
		return
	}
	sess.Delete(SESSION_KEY_PENDING_EMAIL)
	sess.Delete(SESSION_KEY_PENDING_PHONE)
	if err := sess.Save(); err != nil {
		logger(c).Warn("Fail to clear pending contact", slog.Any("error", err))
	}
	c.JSON(http.StatusOK, accountView(account))
}
