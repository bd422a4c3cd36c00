// Package questions 管理競標者對批次或車輛的提問與管理員的回答
package questions

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

type Service struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Service {
	return &Service{db: db}
}

type AskInput struct {
	LotID   *uuid.UUID
	CarID   *uuid.UUID
	AskedBy uuid.UUID
	Text    string
}

// Ask 建立問題，至少要指定批次或車輛其中一個
// 只指定車輛時自動補上車輛所屬的批次
func (s *Service) Ask(ctx context.Context, in AskInput) (models.Question, error) {
	const op = "questions.Service.Ask"
	text := strings.TrimSpace(in.Text)
	if text == "" {
		return models.Question{}, fmt.Errorf("[%s] question text is required: %w", op, bidding.ErrInvalidInput)
	}
	if in.LotID == nil && in.CarID == nil {
		return models.Question{}, fmt.Errorf("[%s] lot or car is required: %w", op, bidding.ErrInvalidInput)
	}

	question := models.Question{
		LotID:        in.LotID,
		CarID:        in.CarID,
		AskedByID:    in.AskedBy,
		QuestionText: text,
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if in.CarID != nil {
			var car models.Car
			if err := tx.Select("id", "lot_id").First(&car, "id = ?", *in.CarID).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return fmt.Errorf("car %s: %w", *in.CarID, bidding.ErrNotFound)
				}
				return err
			}
			if in.LotID != nil && *in.LotID != car.LotID {
				return fmt.Errorf("car %s is not in lot %s: %w", car.ID, *in.LotID, bidding.ErrInvalidInput)
			}
			question.LotID = &car.LotID
		} else {
			var count int64
			if err := tx.Model(&models.Lot{}).Where("id = ?", *in.LotID).Count(&count).Error; err != nil {
				return err
			}
			if count == 0 {
				return fmt.Errorf("lot %s: %w", *in.LotID, bidding.ErrNotFound)
			}
		}
		return tx.Create(&question).Error
	})
	if err != nil {
		if errors.Is(err, bidding.ErrNotFound) || errors.Is(err, bidding.ErrInvalidInput) {
			return models.Question{}, fmt.Errorf("[%s] %w", op, err)
		}
		return models.Question{}, fmt.Errorf("[%s] Fail to create question, err=%w", op, err)
	}
	return question, nil
}

// Answer 回答問題，每個問題只能回答一次
func (s *Service) Answer(ctx context.Context, questionID, actorID uuid.UUID, text string, now time.Time) (models.Question, error) {
	const op = "questions.Service.Answer"
	text = strings.TrimSpace(text)
	if text == "" {
		return models.Question{}, fmt.Errorf("[%s] answer text is required: %w", op, bidding.ErrInvalidInput)
	}

	var question models.Question
	if err := s.db.WithContext(ctx).First(&question, "id = ?", questionID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.Question{}, fmt.Errorf("[%s] question %s: %w", op, questionID, bidding.ErrNotFound)
		}
		return models.Question{}, fmt.Errorf("[%s] Fail to find question, err=%w", op, err)
	}

	now = now.UTC()
	result := s.db.WithContext(ctx).Model(&models.Question{}).
		Where("id = ? AND answered = ?", questionID, false).
		Updates(map[string]any{
			"answered":       true,
			"answer_text":    text,
			"answered_by_id": actorID,
			"answered_at":    now,
		})
	if result.Error != nil {
		return models.Question{}, fmt.Errorf("[%s] Fail to save answer, err=%w", op, result.Error)
	}
	if result.RowsAffected == 0 {
		return models.Question{}, fmt.Errorf("[%s] question %s: %w", op, questionID, bidding.ErrAlreadyExists)
	}
	question.Answered = true
	question.AnswerText, question.AnsweredByID, question.AnsweredAt = &text, &actorID, &now
	return question, nil
}

type ListFilter struct {
	LotID *uuid.UUID
	CarID *uuid.UUID
	// AskedBy 不為空時只列出該帳號提出的問題
	AskedBy *uuid.UUID
	// Unanswered 為 true 時只列出尚未回答的問題
	Unanswered bool
}

func (s *Service) List(ctx context.Context, filter ListFilter) ([]models.Question, error) {
	const op = "questions.Service.List"
	query := s.db.WithContext(ctx).Order("created_at, id")
	if filter.LotID != nil {
		query = query.Where("lot_id = ?", *filter.LotID)
	}
	if filter.CarID != nil {
		query = query.Where("car_id = ?", *filter.CarID)
	}
	if filter.AskedBy != nil {
		query = query.Where("asked_by_id = ?", *filter.AskedBy)
	}
	if filter.Unanswered {
		query = query.Where("answered = ?", false)
	}
	var questions []models.Question
	if err := query.Find(&questions).Error; err != nil {
		return nil, fmt.Errorf("[%s] Fail to list questions, err=%w", op, err)
	}
	return questions, nil
}
