package bidding

import (
	"time"

	"carbid/models"
)

// DeriveCarStatus 依時間推導車輛應有的狀態
// 批次結束時車輛一律 Closed；Disabled 與 Closed 只能由管理員操作離開
func DeriveCarStatus(car models.Car, lot models.Lot, now time.Time) models.CarStatus {
	if lot.Status.IsClosed() {
		return models.CarStatusClosed
	}
	switch car.Status {
	case models.CarStatusDisabled, models.CarStatusClosed:
		return car.Status
	}
	switch {
	case now.After(car.BiddingEndDate):
		return models.CarStatusClosed
	case now.Before(car.BiddingStartDate):
		// 重新開放但尚未開始的車輛維持 Reopened
		if car.Status == models.CarStatusReopened {
			return models.CarStatusReopened
		}
		return models.CarStatusUpcoming
	default:
		return models.CarStatusActive
	}
}

// DeriveLotStatus 依時間與車輛推導批次應有的狀態
//   - Upcoming 需要管理員核准，時間不會改變它
//   - Approved 在任一車輛開始競標後轉為 Active
//   - Approved / Active 在所有車輛都結束後轉為 Closed
func DeriveLotStatus(lot models.Lot, cars []models.Car, now time.Time) models.LotStatus {
	if lot.Status != models.LotStatusApproved && lot.Status != models.LotStatusActive {
		return lot.Status
	}
	if len(cars) == 0 {
		return lot.Status
	}
	started, ended := false, true
	for _, car := range cars {
		if !now.Before(car.BiddingStartDate) {
			started = true
		}
		if !now.After(car.BiddingEndDate) {
			ended = false
		}
	}
	switch {
	case ended:
		return models.LotStatusClosed
	case started:
		return models.LotStatusActive
	}
	return lot.Status
}

var carTransitions = map[models.CarStatus][]models.CarStatus{
	models.CarStatusUpcoming: {models.CarStatusActive, models.CarStatusDisabled, models.CarStatusClosed},
	models.CarStatusActive:   {models.CarStatusClosed, models.CarStatusDisabled},
	models.CarStatusDisabled: {models.CarStatusReopened, models.CarStatusClosed},
	models.CarStatusReopened: {models.CarStatusActive, models.CarStatusDisabled, models.CarStatusClosed},
}

// CanTransitionCar 檢查車輛狀態是否可以從 from 轉到 to
func CanTransitionCar(from, to models.CarStatus) bool {
	for _, next := range carTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
