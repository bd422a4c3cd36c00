package lots

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"carbid/bidding"
	"carbid/models"
)

// RefreshResult 記錄一次 RefreshStatuses 實際變更的筆數
type RefreshResult struct {
	LotsUpdated int
	CarsUpdated int
}

func (r *RefreshResult) add(other RefreshResult) {
	r.LotsUpdated += other.LotsUpdated
	r.CarsUpdated += other.CarsUpdated
}

// lockLot 以 FOR UPDATE 讀取批次
func lockLot(tx *gorm.DB, lotID uuid.UUID) (models.Lot, error) {
	var lot models.Lot
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&lot, "id = ?", lotID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.Lot{}, fmt.Errorf("lot %s: %w", lotID, bidding.ErrNotFound)
		}
		return models.Lot{}, fmt.Errorf("fail to lock lot, err=%w", err)
	}
	return lot, nil
}

// lockCar 依批次、車輛的順序上鎖，與出價時的順序一致
func lockCar(tx *gorm.DB, carID uuid.UUID) (models.Car, models.Lot, error) {
	var car models.Car
	if err := tx.Select("lot_id").First(&car, "id = ?", carID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.Car{}, models.Lot{}, fmt.Errorf("car %s: %w", carID, bidding.ErrNotFound)
		}
		return models.Car{}, models.Lot{}, fmt.Errorf("fail to find car, err=%w", err)
	}
	lot, err := lockLot(tx, car.LotID)
	if err != nil {
		return models.Car{}, models.Lot{}, err
	}
	car = models.Car{}
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&car, "id = ?", carID).Error; err != nil {
		return models.Car{}, models.Lot{}, fmt.Errorf("fail to lock car, err=%w", err)
	}
	return car, lot, nil
}

// refreshLot 重新推導已上鎖批次與其車輛的狀態，只寫入有變化的部分
func refreshLot(tx *gorm.DB, lot *models.Lot, now time.Time) (RefreshResult, error) {
	var result RefreshResult
	var cars []models.Car
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("lot_id = ?", lot.ID).Find(&cars).Error; err != nil {
		return result, fmt.Errorf("fail to lock cars, err=%w", err)
	}
	for i := range cars {
		next := bidding.DeriveCarStatus(cars[i], *lot, now)
		if next == cars[i].Status {
			continue
		}
		if err := tx.Model(&cars[i]).Update("status", next).Error; err != nil {
			return result, fmt.Errorf("fail to update car %s, err=%w", cars[i].ID, err)
		}
		cars[i].Status = next
		result.CarsUpdated++
	}

	next := bidding.DeriveLotStatus(*lot, cars, now)
	if next != lot.Status {
		if err := tx.Model(lot).Update("status", next).Error; err != nil {
			return result, fmt.Errorf("fail to update lot %s, err=%w", lot.ID, err)
		}
		lot.Status = next
		result.LotsUpdated++
	}
	return result, nil
}

// ApproveLot 核准批次，讓競標者可以看到並在時間內出價
// 已核准的批次重複核准不會有任何變化
func (s *Service) ApproveLot(ctx context.Context, lotID, actorID uuid.UUID, now time.Time) (models.Lot, error) {
	const op = "lots.Service.ApproveLot"
	now = now.UTC()
	var lot models.Lot
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		if lot, err = lockLot(tx, lotID); err != nil {
			return err
		}
		if lot.Approved {
			return nil
		}
		if lot.Status != models.LotStatusUpcoming {
			return fmt.Errorf("lot is %s: %w", lot.Status, bidding.ErrInvalidTransition)
		}
		if err := tx.Model(&lot).Updates(map[string]any{
			"approved":       true,
			"approved_by_id": actorID,
			"approved_at":    now,
			"status":         models.LotStatusApproved,
		}).Error; err != nil {
			return fmt.Errorf("fail to approve lot, err=%w", err)
		}
		lot.Approved, lot.ApprovedByID, lot.ApprovedAt = true, &actorID, &now
		lot.Status = models.LotStatusApproved
		_, err = refreshLot(tx, &lot, now)
		return err
	})
	if err != nil {
		return models.Lot{}, wrapTxError(op, err)
	}
	return lot, nil
}

// CloseLot 提前結束批次，並在同一個交易中將所有車輛設為 Closed
// 批次已經結束時回傳 ErrAlreadyClosed 與目前的批次，不做任何變更
func (s *Service) CloseLot(ctx context.Context, lotID, actorID uuid.UUID, now time.Time) (models.Lot, error) {
	const op = "lots.Service.CloseLot"
	now = now.UTC()

	lockCtx, unlock, err := s.locker.Lock(ctx, "lot:"+lotID.String())
	if err != nil {
		return models.Lot{}, fmt.Errorf("[%s] Fail to acquire lot lock, err=%w", op, err)
	}
	defer unlock()

	var lot models.Lot
	err = s.db.WithContext(lockCtx).Transaction(func(tx *gorm.DB) error {
		var err error
		if lot, err = lockLot(tx, lotID); err != nil {
			return err
		}
		if lot.Status.IsClosed() {
			return bidding.ErrAlreadyClosed
		}
		if err := tx.Model(&lot).Updates(map[string]any{
			"status":             models.LotStatusEarlyClosed,
			"early_closed":       true,
			"early_closed_by_id": actorID,
			"early_closed_at":    now,
		}).Error; err != nil {
			return fmt.Errorf("fail to close lot, err=%w", err)
		}
		if err := tx.Model(&models.Car{}).
			Where("lot_id = ?", lotID).
			Update("status", models.CarStatusClosed).Error; err != nil {
			return fmt.Errorf("fail to close cars, err=%w", err)
		}
		lot.Status = models.LotStatusEarlyClosed
		lot.EarlyClosed, lot.EarlyClosedByID, lot.EarlyClosedAt = true, &actorID, &now
		return nil
	})
	if err != nil {
		if errors.Is(err, bidding.ErrAlreadyClosed) {
			return lot, fmt.Errorf("[%s] lot %s: %w", op, lotID, err)
		}
		return models.Lot{}, wrapTxError(op, err)
	}
	return lot, nil
}

// DisableCar 暫停單一車輛的競標
func (s *Service) DisableCar(ctx context.Context, carID uuid.UUID, now time.Time) (models.Car, error) {
	const op = "lots.Service.DisableCar"
	var car models.Car
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var (
			lot models.Lot
			err error
		)
		if car, lot, err = lockCar(tx, carID); err != nil {
			return err
		}
		if lot.Status.IsClosed() || car.Status == models.CarStatusClosed {
			return bidding.ErrAlreadyClosed
		}
		if car.Status == models.CarStatusDisabled {
			return nil
		}
		if !bidding.CanTransitionCar(car.Status, models.CarStatusDisabled) {
			return fmt.Errorf("car is %s: %w", car.Status, bidding.ErrInvalidTransition)
		}
		if err := tx.Model(&car).Update("status", models.CarStatusDisabled).Error; err != nil {
			return fmt.Errorf("fail to disable car, err=%w", err)
		}
		car.Status = models.CarStatusDisabled
		return nil
	})
	if err != nil {
		return models.Car{}, wrapTxError(op, err)
	}
	return car, nil
}

// Window 代表新的競標時間，兩端皆包含
type Window struct {
	Start time.Time
	End   time.Time
}

// ReopenCar 重新開放被暫停的車輛，可以同時指定新的競標時間
// 重新開放後立即依時間推導狀態：時間內為 Active，尚未開始則維持 Reopened
func (s *Service) ReopenCar(ctx context.Context, carID uuid.UUID, window *Window, now time.Time) (models.Car, error) {
	const op = "lots.Service.ReopenCar"
	now = now.UTC()
	if window != nil && !window.End.After(window.Start) {
		return models.Car{}, fmt.Errorf("[%s] bidding window ends before it starts: %w", op, bidding.ErrInvalidInput)
	}

	var car models.Car
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var (
			lot models.Lot
			err error
		)
		if car, lot, err = lockCar(tx, carID); err != nil {
			return err
		}
		if lot.Status.IsClosed() {
			return bidding.ErrAlreadyClosed
		}
		if car.Status != models.CarStatusDisabled {
			return fmt.Errorf("car is %s: %w", car.Status, bidding.ErrInvalidTransition)
		}

		car.Status = models.CarStatusReopened
		if window != nil {
			car.BiddingStartDate = window.Start.UTC()
			car.BiddingEndDate = window.End.UTC()
		}
		car.Status = bidding.DeriveCarStatus(car, lot, now)
		return tx.Model(&car).Updates(map[string]any{
			"status":             car.Status,
			"bidding_start_date": car.BiddingStartDate,
			"bidding_end_date":   car.BiddingEndDate,
		}).Error
	})
	if err != nil {
		return models.Car{}, wrapTxError(op, err)
	}
	return car, nil
}

// RefreshStatuses 依時間重新推導所有進行中批次與車輛的狀態
// 每個批次各自一個交易；重複執行不會產生額外變更
func (s *Service) RefreshStatuses(ctx context.Context, now time.Time) (RefreshResult, error) {
	const op = "lots.Service.RefreshStatuses"
	now = now.UTC()

	var lotIDs []uuid.UUID
	if err := s.db.WithContext(ctx).Model(&models.Lot{}).
		Where("status IN ?", []models.LotStatus{models.LotStatusApproved, models.LotStatusActive}).
		Pluck("id", &lotIDs).Error; err != nil {
		return RefreshResult{}, fmt.Errorf("[%s] Fail to list open lots, err=%w", op, err)
	}

	var total RefreshResult
	for _, lotID := range lotIDs {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			lot, err := lockLot(tx, lotID)
			if err != nil {
				return err
			}
			// 上鎖前可能已被提前結束
			if lot.Status != models.LotStatusApproved && lot.Status != models.LotStatusActive {
				return nil
			}
			result, err := refreshLot(tx, &lot, now)
			if err != nil {
				return err
			}
			total.add(result)
			return nil
		})
		if err != nil {
			return total, fmt.Errorf("[%s] Fail to refresh lot %s, err=%w", op, lotID, err)
		}
	}
	return total, nil
}

// wrapTxError 保留業務錯誤原樣，其他錯誤加上操作名稱
func wrapTxError(op string, err error) error {
	for _, domainErr := range []error{
		bidding.ErrNotFound,
		bidding.ErrAlreadyClosed,
		bidding.ErrInvalidTransition,
		bidding.ErrInvalidInput,
	} {
		if errors.Is(err, domainErr) {
			return fmt.Errorf("[%s] %w", op, err)
		}
	}
	return fmt.Errorf("[%s] Fail to commit transaction, err=%w", op, err)
}
