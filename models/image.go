package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// CarImage 代表車輛照片的上傳紀錄
type CarImage struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey;<-:create"`
	CarID      uuid.UUID `gorm:"type:uuid;not null;index;<-:create"`
	UploaderID uuid.UUID `gorm:"type:uuid;not null;index;<-:create"`
	Url        string    `gorm:"type:text;not null;<-:create"`
	CreatedAt  time.Time
}

func (i *CarImage) BeforeCreate(tx *gorm.DB) error {
	return assignID(&i.ID)
}
