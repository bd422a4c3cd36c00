package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type LotStatus string

const (
	LotStatusUpcoming    LotStatus = "Upcoming"
	LotStatusApproved    LotStatus = "Approved"
	LotStatusActive      LotStatus = "Active"
	LotStatusClosed      LotStatus = "Closed"
	LotStatusEarlyClosed LotStatus = "Early Closed"
	LotStatusDisabled    LotStatus = "Disabled"
)

// IsClosed 判斷批次是否已結束(正常結束或提前結束)
func (s LotStatus) IsClosed() bool {
	return s == LotStatusClosed || s == LotStatusEarlyClosed
}

// Lot 代表一批一起上傳的車輛
// 需要管理員核准後競標者才看得到，管理員可以提前結束整批
type Lot struct {
	ID              uuid.UUID  `gorm:"type:uuid;primaryKey;<-:create"`
	LotNumber       string     `gorm:"type:varchar(64);not null;uniqueIndex"`
	Status          LotStatus  `gorm:"type:varchar(16);not null;index"`
	Approved        bool       `gorm:"not null"`
	ApprovedByID    *uuid.UUID `gorm:"type:uuid"`
	ApprovedAt      *time.Time
	EarlyClosed     bool       `gorm:"not null"`
	EarlyClosedByID *uuid.UUID `gorm:"type:uuid"`
	EarlyClosedAt   *time.Time
	UploadedByID    uuid.UUID `gorm:"type:uuid;not null;<-:create"`
	CreatedAt       time.Time
	UpdatedAt       time.Time

	// 外鍵關聯
	Cars []Car `gorm:"constraint:OnDelete:CASCADE"`
}

func (l *Lot) BeforeCreate(tx *gorm.DB) error {
	return assignID(&l.ID)
}
