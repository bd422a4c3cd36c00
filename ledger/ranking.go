package ledger

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"carbid/bidding"
	"carbid/models"
)

// CarSummary 是列表頁需要的出價摘要
type CarSummary struct {
	CarID      uuid.UUID
	HighestBid *int64
	BidCount   int
}

// RankedBids 回傳車輛依排名排序的出價，第一筆為目前領先的出價
func (l *Ledger) RankedBids(ctx context.Context, carID uuid.UUID) ([]models.Bid, error) {
	const op = "Ledger.RankedBids"
	var bids []models.Bid
	if err := l.db.WithContext(ctx).Preload("User").Where("car_id = ?", carID).Find(&bids).Error; err != nil {
		return nil, fmt.Errorf("[%s] Fail to list bids, err=%w", op, err)
	}
	return bidding.Rank(bids), nil
}

// HighestBid 回傳車輛目前最高出價，沒有出價時 ok 為 false
func (l *Ledger) HighestBid(ctx context.Context, carID uuid.UUID) (amount int64, ok bool, err error) {
	ranked, err := l.RankedBids(ctx, carID)
	if err != nil {
		return 0, false, err
	}
	if len(ranked) == 0 {
		return 0, false, nil
	}
	return ranked[0].Amount, true, nil
}

// BidCount 回傳對車輛出價的使用者數量
func (l *Ledger) BidCount(ctx context.Context, carID uuid.UUID) (int, error) {
	ranked, err := l.RankedBids(ctx, carID)
	if err != nil {
		return 0, err
	}
	return len(ranked), nil
}

// Summaries 一次計算多台車的出價摘要
func (l *Ledger) Summaries(ctx context.Context, carIDs []uuid.UUID) (map[uuid.UUID]CarSummary, error) {
	const op = "Ledger.Summaries"
	summaries := make(map[uuid.UUID]CarSummary, len(carIDs))
	for _, id := range carIDs {
		summaries[id] = CarSummary{CarID: id}
	}
	if len(carIDs) == 0 {
		return summaries, nil
	}
	var bids []models.Bid
	if err := l.db.WithContext(ctx).Where("car_id IN ?", carIDs).Find(&bids).Error; err != nil {
		return nil, fmt.Errorf("[%s] Fail to list bids, err=%w", op, err)
	}
	byCar := make(map[uuid.UUID][]models.Bid)
	for _, bid := range bids {
		byCar[bid.CarID] = append(byCar[bid.CarID], bid)
	}
	for carID, carBids := range byCar {
		summary := CarSummary{CarID: carID, BidCount: bidding.Count(carBids)}
		if highest, ok := bidding.Highest(carBids); ok {
			summary.HighestBid = &highest
		}
		summaries[carID] = summary
	}
	return summaries, nil
}

// BidsOfUser 回傳使用者所有的出價
func (l *Ledger) BidsOfUser(ctx context.Context, userID uuid.UUID) ([]models.Bid, error) {
	const op = "Ledger.BidsOfUser"
	var bids []models.Bid
	if err := l.db.WithContext(ctx).Preload("Car").Where("user_id = ?", userID).Order("created_at desc").Find(&bids).Error; err != nil {
		return nil, fmt.Errorf("[%s] Fail to list bids, err=%w", op, err)
	}
	return bids, nil
}
