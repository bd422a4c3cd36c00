package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"carbid/adapters/s3"
	"carbid/bidding"
)

type ErrorResponse struct {
	Message string `json:"message"`
}

// statusOf 將領域錯誤對應到 HTTP 狀態碼，未知錯誤視為 500
func statusOf(err error) int {
	var limitErr *s3.PhotoTooLargeError
	switch {
	case errors.Is(err, bidding.ErrInvalidAmount),
		errors.Is(err, bidding.ErrInvalidInput),
		errors.Is(err, bidding.ErrInvalidOrExpiredOtp):
		return http.StatusBadRequest
	case errors.Is(err, bidding.ErrNotApproved),
		errors.Is(err, bidding.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, bidding.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, bidding.ErrBiddingClosed),
		errors.Is(err, bidding.ErrAlreadyExists),
		errors.Is(err, bidding.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, bidding.ErrAlreadyClosed):
		return http.StatusOK
	case errors.As(err, &limitErr):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, s3.ErrUnsupportedImage):
		return http.StatusUnsupportedMediaType
	}
	return http.StatusInternalServerError
}

// publicMessage 只回傳領域錯誤本身的訊息，避免把內部錯誤細節帶給使用者
func publicMessage(err error) string {
	var limitErr *s3.PhotoTooLargeError
	for _, known := range []error{
		bidding.ErrInvalidAmount,
		bidding.ErrNotApproved,
		bidding.ErrBiddingClosed,
		bidding.ErrNotFound,
		bidding.ErrAlreadyExists,
		bidding.ErrAlreadyClosed,
		bidding.ErrInvalidOrExpiredOtp,
		bidding.ErrUnauthorized,
		bidding.ErrInvalidTransition,
		bidding.ErrInvalidInput,
		s3.ErrUnsupportedImage,
	} {
		if errors.Is(err, known) {
			return known.Error()
		}
	}
	if errors.As(err, &limitErr) {
		return limitErr.Error()
	}
	return http.StatusText(http.StatusInternalServerError)
}

// abortWithError 回應錯誤並記錄 500 的細節
func abortWithError(c *gin.Context, op string, err error) {
	status := statusOf(err)
	if status >= http.StatusInternalServerError {
		logger(c).Error("Request failed", slog.String("op", op), slog.Any("error", err))
	}
	c.AbortWithStatusJSON(status, ErrorResponse{Message: publicMessage(err)})
}

func abortWithMessage(c *gin.Context, status int, message string) {
	c.AbortWithStatusJSON(status, ErrorResponse{Message: message})
}
