package api

import (
	"context"
	"log/slog"

	"carbid/models"
	"carbid/otp"
)

// Notifier 負責把驗證碼送到使用者手上
type Notifier interface {
	SendOtp(ctx context.Context, id otp.Identity, record models.OtpStorage) error
}

// LogNotifier 只把寄送動作記錄下來，不會真的寄出
type LogNotifier struct {
	Logger *slog.Logger
}

func (n LogNotifier) SendOtp(ctx context.Context, id otp.Identity, record models.OtpStorage) error {
	l := n.Logger
	if l == nil {
		l = slog.Default()
	}
	l.InfoContext(ctx, "Deliver otp",
		slog.String("identity", id.String()),
		slog.String("method", string(record.OtpMethod)),
		slog.Time("expiresAt", record.ExpiresAt),
	)
	return nil
}
