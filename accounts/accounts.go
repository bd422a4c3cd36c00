// Package accounts 管理所有角色共用的帳號、核准狀態與使用條款
package accounts

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"carbid/bidding"
	"carbid/models"
)

const minPasswordLength = 8

// 帳號不存在時仍執行一次 bcrypt 比對，讓回應時間一致
var dummyHash = []byte("$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy")

type Service struct {
	db   *gorm.DB
	cost int
}

type Option func(*Service)

// WithBcryptCost 設定密碼雜湊成本，測試時可以調低
func WithBcryptCost(cost int) Option {
	return func(s *Service) {
		s.cost = cost
	}
}

func New(db *gorm.DB, opts ...Option) *Service {
	s := &Service{db: db, cost: bcrypt.DefaultCost}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type RegisterInput struct {
	Email    string
	Phone    string
	Name     string
	Password string
	Role     models.Role
	UserType models.UserType
	// ApprovedByID 不為空時帳號直接建立為已核准 (管理員建立員工帳號)
	ApprovedByID *uuid.UUID
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Register 建立帳號，email 在所有角色之間唯一
func (s *Service) Register(ctx context.Context, in RegisterInput, now time.Time) (models.Account, error) {
	const op = "accounts.Service.Register"
	email := normalizeEmail(in.Email)
	switch {
	case email == "" || !strings.Contains(email, "@"):
		return models.Account{}, fmt.Errorf("[%s] invalid email: %w", op, bidding.ErrInvalidInput)
	case strings.TrimSpace(in.Name) == "":
		return models.Account{}, fmt.Errorf("[%s] name is required: %w", op, bidding.ErrInvalidInput)
	case len(in.Password) < minPasswordLength:
		return models.Account{}, fmt.Errorf("[%s] password must be at least %d characters: %w", op, minPasswordLength, bidding.ErrInvalidInput)
	case !in.Role.Valid():
		return models.Account{}, fmt.Errorf("[%s] unknown role %q: %w", op, in.Role, bidding.ErrInvalidInput)
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(in.Password), s.cost)
	if err != nil {
		return models.Account{}, fmt.Errorf("[%s] Fail to hash password, err=%w", op, err)
	}

	account := models.Account{
		Email:        email,
		Name:         strings.TrimSpace(in.Name),
		Role:         in.Role,
		UserType:     in.UserType,
		PasswordHash: string(hashed),
	}
	if account.UserType == "" {
		account.UserType = models.UserTypeIndividual
	}
	if phone := strings.TrimSpace(in.Phone); phone != "" {
		account.Phone = &phone
	}
	if in.ApprovedByID != nil {
		now = now.UTC()
		account.Approved = true
		account.ApprovedByID = in.ApprovedByID
		account.ApprovedAt = &now
	}

	if err := s.db.WithContext(ctx).Create(&account).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return models.Account{}, fmt.Errorf("[%s] email or phone: %w", op, bidding.ErrAlreadyExists)
		}
		return models.Account{}, fmt.Errorf("[%s] Fail to create account, err=%w", op, err)
	}
	return account, nil
}

// Authenticate 以 email 與密碼驗證帳號，任何不符都回傳 ErrUnauthorized
func (s *Service) Authenticate(ctx context.Context, email, password string) (models.Account, error) {
	const op = "accounts.Service.Authenticate"
	var account models.Account
	err := s.db.WithContext(ctx).First(&account, "email = ?", normalizeEmail(email)).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return models.Account{}, fmt.Errorf("[%s] Fail to find account, err=%w", op, err)
	}

	hash := dummyHash
	if err == nil {
		hash = []byte(account.PasswordHash)
	}
	compareErr := bcrypt.CompareHashAndPassword(hash, []byte(password))
	if err != nil || compareErr != nil {
		return models.Account{}, fmt.Errorf("[%s] %w", op, bidding.ErrUnauthorized)
	}
	return account, nil
}

func (s *Service) Get(ctx context.Context, accountID uuid.UUID) (models.Account, error) {
	const op = "accounts.Service.Get"
	var account models.Account
	if err := s.db.WithContext(ctx).First(&account, "id = ?", accountID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.Account{}, fmt.Errorf("[%s] account %s: %w", op, accountID, bidding.ErrNotFound)
		}
		return models.Account{}, fmt.Errorf("[%s] Fail to find account, err=%w", op, err)
	}
	return account, nil
}

// SetApproval 設定帳號是否核准，取消核准時清除核准者
func (s *Service) SetApproval(ctx context.Context, accountID, actorID uuid.UUID, approved bool, now time.Time) (models.Account, error) {
	const op = "accounts.Service.SetApproval"
	account, err := s.Get(ctx, accountID)
	if err != nil {
		return models.Account{}, err
	}

	updates := map[string]any{"approved": approved}
	if approved {
		now = now.UTC()
		updates["approved_by_id"] = actorID
		updates["approved_at"] = now
		account.ApprovedByID, account.ApprovedAt = &actorID, &now
	} else {
		updates["approved_by_id"] = nil
		updates["approved_at"] = nil
		account.ApprovedByID, account.ApprovedAt = nil, nil
	}
	if err := s.db.WithContext(ctx).Model(&account).Updates(updates).Error; err != nil {
		return models.Account{}, fmt.Errorf("[%s] Fail to update approval, err=%w", op, err)
	}
	account.Approved = approved
	return account, nil
}

// ChangeContact 更新帳號的 email 或手機，呼叫前必須已經完成 OTP 驗證
func (s *Service) ChangeContact(ctx context.Context, accountID uuid.UUID, email, phone string) (models.Account, error) {
	const op = "accounts.Service.ChangeContact"
	email, phone = normalizeEmail(email), strings.TrimSpace(phone)
	if (email == "") == (phone == "") {
		return models.Account{}, fmt.Errorf("[%s] exactly one of email or phone: %w", op, bidding.ErrInvalidInput)
	}
	account, err := s.Get(ctx, accountID)
	if err != nil {
		return models.Account{}, err
	}

	var column string
	var value any
	if email != "" {
		column, value = "email", email
		account.Email = email
	} else {
		column, value = "phone", phone
		account.Phone = &phone
	}
	if err := s.db.WithContext(ctx).Model(&account).Update(column, value).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return models.Account{}, fmt.Errorf("[%s] %s: %w", op, column, bidding.ErrAlreadyExists)
		}
		return models.Account{}, fmt.Errorf("[%s] Fail to update %s, err=%w", op, column, err)
	}
	return account, nil
}
