package bidding

import "time"

// Clock 提供目前時間，核心操作一律接收明確的 now，只有外層透過 Clock 取得時間
type Clock interface {
	Now() time.Time
}

type RealClock struct{}

func (RealClock) Now() time.Time {
	return time.Now().UTC()
}

// FixedClock 永遠回傳同一個時間
type FixedClock struct {
	T time.Time
}

func (c FixedClock) Now() time.Time {
	return c.T
}
