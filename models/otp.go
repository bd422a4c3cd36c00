package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type OtpMethod string

const (
	OtpMethodEmail  OtpMethod = "email"
	OtpMethodMobile OtpMethod = "mobile"
)

// OtpStorage 代表一組寄送給 email 或手機的一次性驗證碼
// Email 與 Phone 只會有一個有值，並與 OtpMethod 對應
type OtpStorage struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey;<-:create"`
	Email     *string   `gorm:"type:varchar(255);index;<-:create"`
	Phone     *string   `gorm:"type:varchar(32);index;<-:create"`
	OtpCode   string    `gorm:"type:varchar(6);not null;<-:create" json:"-"`
	OtpMethod OtpMethod `gorm:"type:varchar(8);not null;<-:create"`
	ExpiresAt time.Time `gorm:"not null;index;<-:create"`
	Verified  bool      `gorm:"not null"`
	CreatedAt time.Time
}

func (o *OtpStorage) BeforeCreate(tx *gorm.DB) error {
	return assignID(&o.ID)
}
