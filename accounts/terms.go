package accounts

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"carbid/bidding"
	"carbid/models"
)

// PublishTerms 發布新版使用條款，並在同一個交易中停用舊版
func (s *Service) PublishTerms(ctx context.Context, version, content string, actorID uuid.UUID) (models.TermsAndCondition, error) {
	const op = "accounts.Service.PublishTerms"
	if strings.TrimSpace(version) == "" || strings.TrimSpace(content) == "" {
		return models.TermsAndCondition{}, fmt.Errorf("[%s] version and content are required: %w", op, bidding.ErrInvalidInput)
	}

	terms := models.TermsAndCondition{
		Version:     strings.TrimSpace(version),
		Content:     content,
		Active:      true,
		CreatedByID: actorID,
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.TermsAndCondition{}).
			Where("active = ?", true).
			Update("active", false).Error; err != nil {
			return fmt.Errorf("fail to deactivate terms, err=%w", err)
		}
		return tx.Create(&terms).Error
	})
	if err != nil {
		return models.TermsAndCondition{}, fmt.Errorf("[%s] Fail to publish terms, err=%w", op, err)
	}
	return terms, nil
}

// ActiveTerms 取得目前生效的使用條款
func (s *Service) ActiveTerms(ctx context.Context) (models.TermsAndCondition, error) {
	const op = "accounts.Service.ActiveTerms"
	var terms models.TermsAndCondition
	if err := s.db.WithContext(ctx).First(&terms, "active = ?", true).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.TermsAndCondition{}, fmt.Errorf("[%s] active terms: %w", op, bidding.ErrNotFound)
		}
		return models.TermsAndCondition{}, fmt.Errorf("[%s] Fail to find terms, err=%w", op, err)
	}
	return terms, nil
}

// AcceptTerms 記錄帳號同意了目前生效的條款；termsID 不是生效中的版本時回傳 ErrInvalidInput
func (s *Service) AcceptTerms(ctx context.Context, accountID, termsID uuid.UUID, now time.Time) (models.Account, error) {
	const op = "accounts.Service.AcceptTerms"
	active, err := s.ActiveTerms(ctx)
	if err != nil {
		return models.Account{}, err
	}
	if active.ID != termsID {
		return models.Account{}, fmt.Errorf("[%s] terms %s is not active: %w", op, termsID, bidding.ErrInvalidInput)
	}
	account, err := s.Get(ctx, accountID)
	if err != nil {
		return models.Account{}, err
	}
	now = now.UTC()
	if err := s.db.WithContext(ctx).Model(&account).Update("terms_accepted_at", now).Error; err != nil {
		return models.Account{}, fmt.Errorf("[%s] Fail to record acceptance, err=%w", op, err)
	}
	account.TermsAcceptedAt = &now
	return account, nil
}
