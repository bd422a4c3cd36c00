package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Question 代表競標者針對批次或車輛提出的問題，由管理員回答
type Question struct {
	ID           uuid.UUID  `gorm:"type:uuid;primaryKey;<-:create"`
	LotID        *uuid.UUID `gorm:"type:uuid;index;<-:create"`
	CarID        *uuid.UUID `gorm:"type:uuid;index;<-:create"`
	AskedByID    uuid.UUID  `gorm:"type:uuid;not null;index;<-:create"`
	QuestionText string     `gorm:"type:text;not null;<-:create"`
	Answered     bool       `gorm:"not null"`
	AnswerText   *string    `gorm:"type:text"`
	AnsweredByID *uuid.UUID `gorm:"type:uuid"`
	AnsweredAt   *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (q *Question) BeforeCreate(tx *gorm.DB) error {
	return assignID(&q.ID)
}
