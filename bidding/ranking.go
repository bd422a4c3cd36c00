package bidding

import (
	"bytes"
	"slices"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"carbid/models"
)

// Rank 計算單一車輛的出價排名
//  1. 依 UserID 分組，每位使用者只保留最高金額(同金額取較早的)
//  2. 依金額由高到低排序
//  3. 同金額時較早出價者優先，再以 ID 決定順序
//
// 不會修改傳入的 slice，相同輸入永遠得到相同結果
func Rank(bids []models.Bid) []models.Bid {
	if len(bids) == 0 {
		return []models.Bid{}
	}
	groups := lo.GroupBy(bids, func(b models.Bid) uuid.UUID { return b.UserID })
	ranked := make([]models.Bid, 0, len(groups))
	for _, group := range groups {
		ranked = append(ranked, lo.MaxBy(group, outranks))
	}
	slices.SortFunc(ranked, func(a, b models.Bid) int {
		switch {
		case outranks(a, b):
			return -1
		case outranks(b, a):
			return 1
		}
		return 0
	})
	return ranked
}

// outranks 回傳 a 是否排在 b 前面
func outranks(a, b models.Bid) bool {
	if a.Amount != b.Amount {
		return a.Amount > b.Amount
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return bytes.Compare(a.ID[:], b.ID[:]) < 0
}

// Highest 回傳排名第一的金額，沒有出價時 ok 為 false
func Highest(bids []models.Bid) (amount int64, ok bool) {
	ranked := Rank(bids)
	if len(ranked) == 0 {
		return 0, false
	}
	return ranked[0].Amount, true
}

// Count 回傳出價的不重複使用者數量
func Count(bids []models.Bid) int {
	return len(lo.UniqBy(bids, func(b models.Bid) uuid.UUID { return b.UserID }))
}
