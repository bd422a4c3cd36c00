package api

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// OtpThrottleScript 以固定視窗限制同一個 identity 索取驗證碼的次數
//
//	KEYS[1] - 計數器的鍵
//	ARGV[1] - 視窗內允許的次數
//	ARGV[2] - 視窗長度 (毫秒)
//
// 返回值:
//
//	0  - 允許
//	>0 - 超過次數，需要再等待的毫秒數
//
// 流程:
//   - 1. 計數器加一，第一次建立時設定過期時間
//   - 2a. 沒有超過次數，返回0
//   - 2b. 超過次數，返回剩餘的過期時間；沒有過期時間時補上 (避免計數器永久存在)
var OtpThrottleScript = redis.NewScript(`
local count = redis.call('INCR', KEYS[1])
if count == 1 then
    redis.call('PEXPIRE', KEYS[1], ARGV[2])
end

if count <= tonumber(ARGV[1]) then
    return 0
end

local ttl = redis.call('PTTL', KEYS[1])
if ttl < 0 then
    redis.call('PEXPIRE', KEYS[1], ARGV[2])
    ttl = tonumber(ARGV[2])
end
return ttl
`)

// throttleOtp 回傳是否允許寄送，不允許時一併回傳需要等待的時間
func throttleOtp(ctx context.Context, client redis.Scripter, key string, limit int, window time.Duration) (bool, time.Duration, error) {
	const op = "throttleOtp"
	if limit <= 0 || window <= 0 {
		return true, 0, nil
	}
	wait, err := OtpThrottleScript.Run(ctx, client, []string{key}, limit, window.Milliseconds()).Int64()
	if err != nil {
		return false, 0, fmt.Errorf("[%s] Fail to run throttle script, err=%w", op, err)
	}
	if wait > 0 {
		return false, time.Duration(wait) * time.Millisecond, nil
	}
	return true, 0, nil
}
