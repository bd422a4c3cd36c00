package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Bid 代表使用者對某台車目前的出價
// 每個 (CarID, UserID) 只會有一筆，改價時只更新 Amount，CreatedAt 保持第一次出價的時間
type Bid struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey;<-:create"`
	CarID     uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_bids_car_id_user_id;<-:create"`
	UserID    uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_bids_car_id_user_id;index;<-:create"`
	Amount    int64     `gorm:"not null;check:chk_bids_amount_positive,amount > 0"`
	IsWinner  bool      `gorm:"not null"`
	CreatedAt time.Time
	UpdatedAt time.Time

	// 外鍵關聯
	User *Account `gorm:"foreignKey:UserID"`
	Car  *Car     `gorm:"foreignKey:CarID;constraint:OnDelete:CASCADE"`
}

func (b *Bid) BeforeCreate(tx *gorm.DB) error {
	return assignID(&b.ID)
}

type BidEventKind string

const (
	BidEventPlaced    BidEventKind = "placed"
	BidEventWithdrawn BidEventKind = "withdrawn"
	BidEventWinner    BidEventKind = "winner"
)

// BidHistory 記錄每一次出價相關事件，Bid 只保留最新狀態
type BidHistory struct {
	ID         uuid.UUID    `gorm:"type:uuid;primaryKey;<-:create"`
	EventID    string       `gorm:"type:varchar(64);not null;uniqueIndex;<-:create"`
	CarID      uuid.UUID    `gorm:"type:uuid;not null;index;<-:create"`
	UserID     uuid.UUID    `gorm:"type:uuid;not null;index;<-:create"`
	Amount     int64        `gorm:"not null;<-:create"`
	Kind       BidEventKind `gorm:"type:varchar(16);not null;<-:create"`
	OccurredAt time.Time    `gorm:"not null;<-:create"`
	CreatedAt  time.Time
}

func (h *BidHistory) BeforeCreate(tx *gorm.DB) error {
	return assignID(&h.ID)
}
