// Package bidding 收錄競標核心的純邏輯：錯誤分類、可出價判斷、出價排名與狀態推導
package bidding

import "errors"

var (
	ErrInvalidAmount       = errors.New("bid amount must be greater than zero")
	ErrNotApproved         = errors.New("account is not an approved bidder")
	ErrBiddingClosed       = errors.New("bidding is closed for this car")
	ErrNotFound            = errors.New("record not found")
	ErrAlreadyExists       = errors.New("record already exists")
	ErrAlreadyClosed       = errors.New("lot or car is already closed")
	ErrInvalidOrExpiredOtp = errors.New("invalid or expired otp")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrInvalidTransition   = errors.New("invalid status transition")
	ErrInvalidInput        = errors.New("invalid input")
)
