// Package lots 管理批次與車輛的上傳、查詢與狀態轉換
package lots

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"carbid/bidding"
	"carbid/models"
)

type Service struct {
	db     *gorm.DB
	locker bidding.Locker
}

type Option func(*Service)

// WithLocker 設定 CloseLot 使用的跨節點鎖
func WithLocker(locker bidding.Locker) Option {
	return func(s *Service) {
		s.locker = locker
	}
}

func New(db *gorm.DB, opts ...Option) *Service {
	s := &Service{db: db}
	for _, opt := range opts {
		opt(s)
	}
	if s.locker == nil {
		s.locker = bidding.NewLocalLocker()
	}
	return s
}

type CreateCarInput struct {
	ChassisNo        string
	RegNo            string
	FleetNo          string
	SrNumber         string
	MakeModel        string
	Year             int
	Km               int
	Color            string
	BodyType         string
	Attributes       map[string]any
	BiddingStartDate time.Time
	BiddingEndDate   time.Time
}

type CreateLotInput struct {
	LotNumber    string
	UploadedByID uuid.UUID
	Cars         []CreateCarInput
}

func (in CreateLotInput) validate() error {
	if strings.TrimSpace(in.LotNumber) == "" {
		return fmt.Errorf("lot number is required: %w", bidding.ErrInvalidInput)
	}
	if len(in.Cars) == 0 {
		return fmt.Errorf("lot must contain at least one car: %w", bidding.ErrInvalidInput)
	}
	for i, car := range in.Cars {
		if strings.TrimSpace(car.ChassisNo) == "" || strings.TrimSpace(car.MakeModel) == "" {
			return fmt.Errorf("car #%d requires chassis number and model: %w", i, bidding.ErrInvalidInput)
		}
		if !car.BiddingEndDate.After(car.BiddingStartDate) {
			return fmt.Errorf("car #%d bidding window ends before it starts: %w", i, bidding.ErrInvalidInput)
		}
	}
	return nil
}

// Create 在同一個交易中建立批次與其車輛，新批次需要管理員核准
func (s *Service) Create(ctx context.Context, in CreateLotInput) (models.Lot, error) {
	const op = "lots.Service.Create"
	if err := in.validate(); err != nil {
		return models.Lot{}, err
	}

	lot := models.Lot{
		LotNumber:    strings.TrimSpace(in.LotNumber),
		Status:       models.LotStatusUpcoming,
		UploadedByID: in.UploadedByID,
		Cars:         make([]models.Car, 0, len(in.Cars)),
	}
	for _, car := range in.Cars {
		var attrs datatypes.JSONMap
		if len(car.Attributes) > 0 {
			attrs = datatypes.JSONMap(car.Attributes)
		}
		lot.Cars = append(lot.Cars, models.Car{
			ChassisNo:        strings.TrimSpace(car.ChassisNo),
			RegNo:            car.RegNo,
			FleetNo:          car.FleetNo,
			SrNumber:         car.SrNumber,
			MakeModel:        strings.TrimSpace(car.MakeModel),
			Year:             car.Year,
			Km:               car.Km,
			Color:            car.Color,
			BodyType:         car.BodyType,
			Attributes:       attrs,
			Status:           models.CarStatusUpcoming,
			BiddingEnabled:   true,
			BiddingStartDate: car.BiddingStartDate.UTC(),
			BiddingEndDate:   car.BiddingEndDate.UTC(),
		})
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Create(&lot).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return models.Lot{}, fmt.Errorf("[%s] lot number %q: %w", op, lot.LotNumber, bidding.ErrAlreadyExists)
		}
		return models.Lot{}, fmt.Errorf("[%s] Fail to create lot, err=%w", op, err)
	}
	return lot, nil
}

// Get 取得批次與其車輛；onlyApproved 為 true 時未核准的批次視為不存在
func (s *Service) Get(ctx context.Context, lotID uuid.UUID, onlyApproved bool) (models.Lot, error) {
	const op = "lots.Service.Get"
	query := s.db.WithContext(ctx).
		Preload("Cars", func(db *gorm.DB) *gorm.DB { return db.Order("created_at, id") }).
		Preload("Cars.Images")
	if onlyApproved {
		query = query.Where("approved = ?", true)
	}
	var lot models.Lot
	if err := query.First(&lot, "id = ?", lotID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.Lot{}, fmt.Errorf("[%s] lot %s: %w", op, lotID, bidding.ErrNotFound)
		}
		return models.Lot{}, fmt.Errorf("[%s] Fail to find lot, err=%w", op, err)
	}
	return lot, nil
}

type ListFilter struct {
	OnlyApproved bool
	Status       models.LotStatus
	Limit        int
	Offset       int
}

// List 依建立時間由新到舊列出批次，不包含車輛
func (s *Service) List(ctx context.Context, filter ListFilter) ([]models.Lot, error) {
	const op = "lots.Service.List"
	query := s.db.WithContext(ctx).Order("created_at desc, id desc")
	if filter.OnlyApproved {
		query = query.Where("approved = ?", true)
	}
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		query = query.Offset(filter.Offset)
	}
	var lots []models.Lot
	if err := query.Find(&lots).Error; err != nil {
		return nil, fmt.Errorf("[%s] Fail to list lots, err=%w", op, err)
	}
	return lots, nil
}

// GetCar 取得車輛、所屬批次與照片
func (s *Service) GetCar(ctx context.Context, carID uuid.UUID, onlyApproved bool) (models.Car, error) {
	const op = "lots.Service.GetCar"
	var car models.Car
	if err := s.db.WithContext(ctx).Preload("Lot").Preload("Images").First(&car, "id = ?", carID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.Car{}, fmt.Errorf("[%s] car %s: %w", op, carID, bidding.ErrNotFound)
		}
		return models.Car{}, fmt.Errorf("[%s] Fail to find car, err=%w", op, err)
	}
	if onlyApproved && (car.Lot == nil || !car.Lot.Approved) {
		return models.Car{}, fmt.Errorf("[%s] car %s: %w", op, carID, bidding.ErrNotFound)
	}
	return car, nil
}

// AttachImage 記錄一張已上傳的車輛照片
func (s *Service) AttachImage(ctx context.Context, carID, uploaderID uuid.UUID, url string) (models.CarImage, error) {
	const op = "lots.Service.AttachImage"
	var count int64
	if err := s.db.WithContext(ctx).Model(&models.Car{}).Where("id = ?", carID).Count(&count).Error; err != nil {
		return models.CarImage{}, fmt.Errorf("[%s] Fail to find car, err=%w", op, err)
	}
	if count == 0 {
		return models.CarImage{}, fmt.Errorf("[%s] car %s: %w", op, carID, bidding.ErrNotFound)
	}
	image := models.CarImage{
		CarID:      carID,
		UploaderID: uploaderID,
		Url:        url,
	}
	if err := s.db.WithContext(ctx).Create(&image).Error; err != nil {
		return models.CarImage{}, fmt.Errorf("[%s] Fail to save image, err=%w", op, err)
	}
	return image, nil
}
