package api

import (
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"carbid/adapters/session"
	"carbid/otp"
)

type OtpSendRequest struct {
	Email string `json:"email" binding:"required_without=Phone,excluded_with=Phone,omitempty,email"`
	Phone string `json:"phone" binding:"required_without=Email,excluded_with=Email,omitempty,e164ish"`
}

func (r OtpSendRequest) identity() otp.Identity {
	return otp.Identity{
		Email: strings.ToLower(strings.TrimSpace(r.Email)),
		Phone: normalizePhone(strings.TrimSpace(r.Phone)),
	}
}

type OtpVerifyRequest struct {
	OtpSendRequest
	Code string `json:"code" binding:"required,otpcode"`
}

type OtpSendResponse struct {
	ExpiresAt time.Time `json:"expiresAt"`
}

// sendOtp 檢查頻率限制後建立驗證碼並交給 Notifier
// 超過限制時已經回應 429，呼叫端只需要結束
func (s *Server) sendOtp(c *gin.Context, id otp.Identity) bool {
	const op = "sendOtp"
	ctx := c.Request.Context()
	key := s.config.Redis.KeyPrefix + "otp:throttle:" + id.Email + id.Phone
	allowed, wait, err := throttleOtp(ctx, s.redisClient, key, s.config.OTP.ThrottleLimit, s.config.OTP.ThrottleWindow)
	if err != nil {
		abortWithError(c, op, err)
		return false
	}
	if !allowed {
		c.Header("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
		abortWithMessage(c, http.StatusTooManyRequests, "too many otp requests")
		return false
	}

	record, err := s.otp.Send(ctx, id, s.clock.Now())
	if err != nil {
		abortWithError(c, op, err)
		return false
	}
	if err := s.notifier.SendOtp(ctx, id, record); err != nil {
		abortWithError(c, op, fmt.Errorf("[%s] Fail to deliver otp, err=%w", op, err))
		return false
	}
	logger(c).Info("Otp sent", slog.String("identity", id.String()))
	c.JSON(http.StatusAccepted, OtpSendResponse{ExpiresAt: record.ExpiresAt.UTC()})
	return true
}

// SendOtp 寄送驗證碼到 email 或手機
// (POST /otp/send)
func (s *Server) SendOtp(c *gin.Context) {
	var req OtpSendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithMessage(c, http.StatusBadRequest, bindingMessage(err))
		return
	}
	s.sendOtp(c, req.identity())
}

// VerifyOtp 驗證驗證碼，email 驗證成功後記錄在 session 供註冊使用
// (POST /otp/verify)
func (s *Server) VerifyOtp(c *gin.Context) {
	const op = "VerifyOtp"
	var req OtpVerifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithMessage(c, http.StatusBadRequest, bindingMessage(err))
		return
	}
	id := req.identity()
	if err := s.otp.Verify(c.Request.Context(), id, req.Code, s.clock.Now()); err != nil {
		abortWithError(c, op, err)
		return
	}
	if id.Email != "" {
		sess, err := session.GetSession(c)
		if err != nil {
			abortWithError(c, op, err)
			return
		}
		sess.Set(SESSION_KEY_VERIFIED_EMAIL, id.Email)
		if err := sess.Save(); err != nil {
			abortWithError(c, op, fmt.Errorf("[%s] Fail to save session, err=%w", op, err))
			return
		}
	}
	c.Status(http.StatusNoContent)
}
