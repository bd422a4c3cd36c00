package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type CarStatus string

const (
	CarStatusUpcoming CarStatus = "Upcoming"
	CarStatusActive   CarStatus = "Active"
	CarStatusClosed   CarStatus = "Closed"
	CarStatusDisabled CarStatus = "Disabled"
	CarStatusReopened CarStatus = "Reopened"
)

// Car 代表批次中的一台車
// 競標時間為 [BiddingStartDate, BiddingEndDate]，兩端皆包含
type Car struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey;<-:create"`
	LotID     uuid.UUID `gorm:"type:uuid;not null;index;<-:create"`
	ChassisNo string    `gorm:"type:varchar(64);not null;index"`
	RegNo     string    `gorm:"type:varchar(32)"`
	FleetNo   string    `gorm:"type:varchar(32)"`
	SrNumber  string    `gorm:"type:varchar(32)"`
	MakeModel string    `gorm:"type:varchar(255);not null"`
	Year      int
	Km        int
	Color     string `gorm:"type:varchar(32)"`
	BodyType  string `gorm:"type:varchar(32)"`
	// Attributes 存放其他不固定的識別欄位(例如引擎號碼、排氣量)
	Attributes datatypes.JSONMap

	Status           CarStatus `gorm:"type:varchar(16);not null;index"`
	BiddingEnabled   bool      `gorm:"not null"`
	BiddingStartDate time.Time `gorm:"not null"`
	BiddingEndDate   time.Time `gorm:"not null"`
	CreatedAt        time.Time
	UpdatedAt        time.Time

	// 外鍵關聯
	Lot    *Lot       `gorm:"foreignKey:LotID"`
	Images []CarImage `gorm:"constraint:OnDelete:CASCADE"`
}

func (c *Car) BeforeCreate(tx *gorm.DB) error {
	return assignID(&c.ID)
}
