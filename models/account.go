package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type Role string

const (
	RoleBidder   Role = "bidder"
	RoleAdmin    Role = "admin"
	RoleBusiness Role = "business"
)

func (r Role) Valid() bool {
	switch r {
	case RoleBidder, RoleAdmin, RoleBusiness:
		return true
	}
	return false
}

type UserType string

const (
	UserTypeIndividual   UserType = "individual"
	UserTypeOrganization UserType = "organization"
)

// Account 代表平台上所有可登入的主體
// 競標者、管理員與業務人員共用同一張表，以 Role 區分，
// email 的唯一索引因此同時涵蓋所有角色
type Account struct {
	ID              uuid.UUID  `gorm:"type:uuid;primaryKey;<-:create"`
	Email           string     `gorm:"type:varchar(255);not null;uniqueIndex"`
	Phone           *string    `gorm:"type:varchar(32);uniqueIndex"`
	Name            string     `gorm:"type:varchar(255);not null"`
	Role            Role       `gorm:"type:varchar(16);not null;index;<-:create"`
	UserType        UserType   `gorm:"type:varchar(16);not null"`
	Approved        bool       `gorm:"not null"`
	ApprovedByID    *uuid.UUID `gorm:"type:uuid"`
	ApprovedAt      *time.Time
	TermsAcceptedAt *time.Time
	PasswordHash    string `gorm:"type:text;not null" json:"-"`
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (a *Account) BeforeCreate(tx *gorm.DB) error {
	return assignID(&a.ID)
}

// CanBid 檢查帳號是否為已核准的競標者
func (a Account) CanBid() bool {
	return a.Role == RoleBidder && a.Approved
}
