package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// TermsAndCondition 代表一個版本的使用條款
// 部分唯一索引保證同一時間最多只有一筆 Active
type TermsAndCondition struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey;<-:create"`
	Version     string    `gorm:"type:varchar(32);not null;<-:create"`
	Content     string    `gorm:"type:text;not null;<-:create"`
	Active      bool      `gorm:"not null;uniqueIndex:idx_terms_single_active,where:active = true"`
	CreatedByID uuid.UUID `gorm:"type:uuid;not null;<-:create"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (t *TermsAndCondition) BeforeCreate(tx *gorm.DB) error {
	return assignID(&t.ID)
}
