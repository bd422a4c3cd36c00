package bidding

import (
	"time"

	"carbid/models"
)

// IsBiddable 判斷車輛在 now 這個時間點能否出價
//   - 車輛狀態為 Active 且開放出價
//   - BiddingStartDate <= now <= BiddingEndDate
//   - 所屬批次已核准且狀態為 Approved 或 Active
func IsBiddable(car models.Car, lot models.Lot, now time.Time) bool {
	if car.Status != models.CarStatusActive || !car.BiddingEnabled {
		return false
	}
	if now.Before(car.BiddingStartDate) || now.After(car.BiddingEndDate) {
		return false
	}
	if !lot.Approved {
		return false
	}
	return lot.Status == models.LotStatusApproved || lot.Status == models.LotStatusActive
}
