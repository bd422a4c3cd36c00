// Package ledger 管理每位使用者對每台車的目前出價
package ledger

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

type Ledger struct {
	db     *gorm.DB
	locker bidding.Locker
}

type Option func(*Ledger)

// WithLocker 設定 MarkWinner 使用的跨節點鎖
func WithLocker(locker bidding.Locker) Option {
	return func(l *Ledger) {
		l.locker = locker
	}
}

func New(db *gorm.DB, opts ...Option) *Ledger {
	l := &Ledger{db: db}
	for _, opt := range opts {
		opt(l)
	}
	if l.locker == nil {
		l.locker = bidding.NewLocalLocker()
	}
	return l
}

// PlaceOrUpdateBid 新增或更新使用者對車輛的出價
// 檢查順序：金額、帳號核准狀態、車輛是否可出價；任一失敗即返回對應錯誤
// 同一個 (carID, userID) 只會有一筆，更新時保留第一次出價的 CreatedAt
func (l *Ledger) PlaceOrUpdateBid(ctx context.Context, carID, userID uuid.UUID, amount int64, now time.Time) (models.Bid, error) {
	const op = "Ledger.PlaceOrUpdateBid"
	if amount <= 0 {
		return models.Bid{}, bidding.ErrInvalidAmount
	}

	var account models.Account
	if err := l.db.WithContext(ctx).First(&account, "id = ?", userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.Bid{}, fmt.Errorf("[%s] account %s: %w", op, userID, bidding.ErrNotFound)
		}
		return models.Bid{}, fmt.Errorf("[%s] Fail to find account, err=%w", op, err)
	}
	if !account.CanBid() {
		return models.Bid{}, bidding.ErrNotApproved
	}

	now = now.UTC()
	var bid models.Bid
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// 先鎖批次再鎖車輛，與 CloseLot 的順序一致
		var car models.Car
		if err := tx.Select("lot_id").First(&car, "id = ?", carID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("car %s: %w", carID, bidding.ErrNotFound)
			}
			return fmt.Errorf("fail to find car, err=%w", err)
		}
		var lot models.Lot
		if err := tx.Clauses(clause.Locking{Strength: "SHARE"}).First(&lot, "id = ?", car.LotID).Error; err != nil {
			return fmt.Errorf("fail to lock lot, err=%w", err)
		}
		if err := tx.Clauses(clause.Locking{Strength: "SHARE"}).First(&car, "id = ?", carID).Error; err != nil {
			return fmt.Errorf("fail to lock car, err=%w", err)
		}
		if !bidding.IsBiddable(car, lot, now) {
			return bidding.ErrBiddingClosed
		}

		record := models.Bid{
			CarID:     carID,
			UserID:    userID,
			Amount:    amount,
			CreatedAt: now,
			UpdatedAt: now,
		}
		result := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "car_id"}, {Name: "user_id"}},
			DoUpdates: clause.Assignments(map[string]any{
				"amount":     amount,
				"updated_at": now,
			}),
		}).Create(&record)
		if result.Error != nil {
			return fmt.Errorf("fail to upsert bid, err=%w", result.Error)
		}
		// 衝突時 record.ID 並不是資料表中的 ID，重新讀取
		return tx.First(&bid, "car_id = ? AND user_id = ?", carID, userID).Error
	})
	if err != nil {
		return models.Bid{}, wrapTxError(op, err)
	}
	return bid, nil
}

// DeleteBid 刪除使用者對車輛的出價
func (l *Ledger) DeleteBid(ctx context.Context, carID, userID uuid.UUID) error {
	const op = "Ledger.DeleteBid"
	result := l.db.WithContext(ctx).Where("car_id = ? AND user_id = ?", carID, userID).Delete(&models.Bid{})
	if result.Error != nil {
		return fmt.Errorf("[%s] Fail to delete bid, err=%w", op, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("[%s] bid of car %s: %w", op, carID, bidding.ErrNotFound)
	}
	return nil
}

// DeleteBidByID 刪除指定出價，只有出價者本人可以刪除
func (l *Ledger) DeleteBidByID(ctx context.Context, bidID, actorID uuid.UUID) (models.Bid, error) {
	const op = "Ledger.DeleteBidByID"
	var bid models.Bid
	if err := l.db.WithContext(ctx).First(&bid, "id = ?", bidID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.Bid{}, fmt.Errorf("[%s] bid %s: %w", op, bidID, bidding.ErrNotFound)
		}
		return models.Bid{}, fmt.Errorf("[%s] Fail to find bid, err=%w", op, err)
	}
	if bid.UserID != actorID {
		return models.Bid{}, bidding.ErrUnauthorized
	}
	if err := l.DeleteBid(ctx, bid.CarID, bid.UserID); err != nil {
		return models.Bid{}, err
	}
	return bid, nil
}

// MarkWinner 將指定出價設為得標，並取消同一台車其他出價的得標狀態
// 同一台車的呼叫會被 locker 與車輛的 row lock 串行化
func (l *Ledger) MarkWinner(ctx context.Context, bidID uuid.UUID) (models.Bid, error) {
	const op = "Ledger.MarkWinner"
	var target models.Bid
	if err := l.db.WithContext(ctx).First(&target, "id = ?", bidID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.Bid{}, fmt.Errorf("[%s] bid %s: %w", op, bidID, bidding.ErrNotFound)
		}
		return models.Bid{}, fmt.Errorf("[%s] Fail to find bid, err=%w", op, err)
	}

	lockCtx, unlock, err := l.locker.Lock(ctx, "car:"+target.CarID.String())
	if err != nil {
		return models.Bid{}, fmt.Errorf("[%s] Fail to acquire car lock, err=%w", op, err)
	}
	defer unlock()

	err = l.db.WithContext(lockCtx).Transaction(func(tx *gorm.DB) error {
		var car models.Car
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Select("id").First(&car, "id = ?", target.CarID).Error; err != nil {
			return fmt.Errorf("fail to lock car, err=%w", err)
		}
		// 取得鎖之前出價可能已經被刪除
		if err := tx.First(&target, "id = ?", bidID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("bid %s: %w", bidID, bidding.ErrNotFound)
			}
			return err
		}
		if err := tx.Model(&models.Bid{}).
			Where("car_id = ? AND id <> ? AND is_winner = ?", target.CarID, bidID, true).
			Update("is_winner", false).Error; err != nil {
			return fmt.Errorf("fail to clear winners, err=%w", err)
		}
		if err := tx.Model(&target).Update("is_winner", true).Error; err != nil {
			return fmt.Errorf("fail to set winner, err=%w", err)
		}
		target.IsWinner = true
		return nil
	})
	if err != nil {
		return models.Bid{}, wrapTxError(op, err)
	}
	return target, nil
}

// wrapTxError 保留業務錯誤原樣，其他錯誤加上操作名稱
func wrapTxError(op string, err error) error {
	for _, domainErr := range []error{
		bidding.ErrBiddingClosed,
		bidding.ErrNotFound,
		bidding.ErrInvalidAmount,
	} {
		if errors.Is(err, domainErr) {
			return fmt.Errorf("[%s] %w", op, err)
		}
	}
	return fmt.Errorf("[%s] Fail to commit transaction, err=%w", op, err)
}
