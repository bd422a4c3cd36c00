// Package otp 管理寄送到 email 或手機的一次性驗證碼
package otp

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"fmt"
	"math/big"
	"strings"
	"time"

	"gorm.io/gorm"

	"carbid/bidding"
	"carbid/models"
)

const (
	DefaultTTL = 10 * time.Minute
	codeMin    = 100000
	codeSpan   = 900000
)

// ErrInvalidIdentity 表示 Identity 沒有剛好設定 Email 或 Phone 其中一個
var ErrInvalidIdentity = fmt.Errorf("identity requires exactly one of email or phone: %w", bidding.ErrInvalidInput)

// Identity 代表驗證碼綁定的對象，Email 與 Phone 必須剛好設定一個
type Identity struct {
	Email string
	Phone string
}

func (id Identity) normalize() (Identity, error) {
	id.Email = strings.ToLower(strings.TrimSpace(id.Email))
	id.Phone = strings.TrimSpace(id.Phone)
	if (id.Email == "") == (id.Phone == "") {
		return id, ErrInvalidIdentity
	}
	return id, nil
}

func (id Identity) method() models.OtpMethod {
	if id.Email != "" {
		return models.OtpMethodEmail
	}
	return models.OtpMethodMobile
}

// scope 將查詢限制在 identity 對應的欄位
func (id Identity) scope(db *gorm.DB) *gorm.DB {
	if id.Email != "" {
		return db.Where("email = ?", id.Email)
	}
	return db.Where("phone = ?", id.Phone)
}

// String 回傳遮蔽後的 identity，用於日誌
func (id Identity) String() string {
	value := id.Email
	if value == "" {
		value = id.Phone
	}
	if len(value) <= 4 {
		return "****"
	}
	return value[:2] + strings.Repeat("*", len(value)-4) + value[len(value)-2:]
}

type Store struct {
	db                 *gorm.DB
	ttl                time.Duration
	invalidatePrevious bool
	generate           func() (string, error)
}

type Option func(*Store)

// WithTTL 設定驗證碼有效時間，小於等於零時沿用 DefaultTTL
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithInvalidatePrevious 設定寄送新驗證碼時是否讓同一對象先前的驗證碼失效
func WithInvalidatePrevious(invalidate bool) Option {
	return func(s *Store) {
		s.invalidatePrevious = invalidate
	}
}

// WithCodeGenerator 替換驗證碼產生方式 (主要用於測試)
func WithCodeGenerator(fn func() (string, error)) Option {
	return func(s *Store) {
		s.generate = fn
	}
}

func NewStore(db *gorm.DB, opts ...Option) *Store {
	s := &Store{
		db:       db,
		ttl:      DefaultTTL,
		generate: GenerateCode,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GenerateCode 產生 [100000, 999999] 之間均勻分布的 6 位數驗證碼
func GenerateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(codeSpan))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()+codeMin), nil
}

// Send 建立一組新的驗證碼，呼叫者負責把 OtpCode 送給使用者
func (s *Store) Send(ctx context.Context, id Identity, now time.Time) (models.OtpStorage, error) {
	const op = "otp.Store.Send"
	id, err := id.normalize()
	if err != nil {
		return models.OtpStorage{}, err
	}
	code, err := s.generate()
	if err != nil {
		return models.OtpStorage{}, fmt.Errorf("[%s] Fail to generate code, err=%w", op, err)
	}

	now = now.UTC()
	record := models.OtpStorage{
		OtpCode:   code,
		OtpMethod: id.method(),
		ExpiresAt: now.Add(s.ttl),
		CreatedAt: now,
	}
	if id.Email != "" {
		record.Email = &id.Email
	} else {
		record.Phone = &id.Phone
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if s.invalidatePrevious {
			if err := id.scope(tx.Model(&models.OtpStorage{})).
				Where("verified = ?", false).
				Update("verified", true).Error; err != nil {
				return fmt.Errorf("fail to invalidate previous codes, err=%w", err)
			}
		}
		return tx.Create(&record).Error
	})
	if err != nil {
		return models.OtpStorage{}, fmt.Errorf("[%s] Fail to save code, err=%w", op, err)
	}
	return record, nil
}

// Verify 驗證 identity 與 code，成功後該驗證碼不能再使用
// 所有失敗情況都回傳 ErrInvalidOrExpiredOtp，不透露是哪個條件不符
func (s *Store) Verify(ctx context.Context, id Identity, code string, now time.Time) error {
	const op = "otp.Store.Verify"
	id, err := id.normalize()
	if err != nil {
		return bidding.ErrInvalidOrExpiredOtp
	}

	var candidates []models.OtpStorage
	if err := id.scope(s.db.WithContext(ctx)).
		Where("verified = ?", false).
		Order("created_at desc").
		Find(&candidates).Error; err != nil {
		return fmt.Errorf("[%s] Fail to find codes, err=%w", op, err)
	}

	for _, candidate := range candidates {
		if !candidate.ExpiresAt.After(now) {
			continue
		}
		if subtle.ConstantTimeCompare([]byte(candidate.OtpCode), []byte(code)) != 1 {
			continue
		}
		// 只有 verified 仍為 false 的那次更新會成功
		result := s.db.WithContext(ctx).Model(&models.OtpStorage{}).
			Where("id = ? AND verified = ?", candidate.ID, false).
			Update("verified", true)
		if result.Error != nil {
			return fmt.Errorf("[%s] Fail to mark code verified, err=%w", op, result.Error)
		}
		if result.RowsAffected == 1 {
			return nil
		}
	}
	return bidding.ErrInvalidOrExpiredOtp
}

// Cleanup 刪除已過期或已使用的驗證碼，回傳刪除數量
func (s *Store) Cleanup(ctx context.Context, now time.Time) (int64, error) {
	const op = "otp.Store.Cleanup"
	result := s.db.WithContext(ctx).
		Where("expires_at < ? OR verified = ?", now.UTC(), true).
		Delete(&models.OtpStorage{})
	if result.Error != nil {
		return 0, fmt.Errorf("[%s] Fail to delete codes, err=%w", op, result.Error)
	}
	return result.RowsAffected, nil
}
