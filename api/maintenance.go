package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"carbid/lots"
)

const maintenanceLockKey = "maintenance"

// MaintenanceResult 是一次維護工作的結果
type MaintenanceResult struct {
	Skipped     bool  `json:"skipped"`
	LotsUpdated int   `json:"lotsUpdated"`
	CarsUpdated int   `json:"carsUpdated"`
	OtpsRemoved int64 `json:"otpsRemoved"`
}

// runMaintenance 每個週期嘗試成為 leader 執行一次維護
func (s *Server) runMaintenance(ctx context.Context, interval time.Duration) {
	logger := s.logger.With(slog.String("caller", "MaintenanceWorker"))
	logger.Info("Start maintenance worker", slog.Duration("interval", interval))
	defer logger.Info("Maintenance worker stopped")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			result, err := s.maintain(ctx, interval)
			if err != nil {
				if !errors.Is(err, context.Canceled) {
					logger.Error("Maintenance failed", slog.Any("error", err))
				}
				continue
			}
			if !result.Skipped {
				logger.Info("Maintenance done",
					slog.Int("lotsUpdated", result.LotsUpdated),
					slog.Int("carsUpdated", result.CarsUpdated),
					slog.Int64("otpsRemoved", result.OtpsRemoved))
			}
		}
	}
}

// maintain 取得 leader 鎖後更新拍賣狀態並清除過期驗證碼
// 同一個週期內只有一個節點會執行，其他節點回傳 Skipped
func (s *Server) maintain(ctx context.Context, interval time.Duration) (MaintenanceResult, error) {
	const op = "maintain"
	tryCtx, cancel := context.WithTimeout(ctx, interval/2)
	defer cancel()
	lockCtx, unlock, err := s.locker.Lock(tryCtx, maintenanceLockKey)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return MaintenanceResult{Skipped: true}, nil
		}
		return MaintenanceResult{}, fmt.Errorf("[%s] Fail to acquire leader lock, err=%w", op, err)
	}
	defer unlock()

	// 鎖釋放後其他節點可能在同一個週期取得鎖，用標記避免重複執行
	markerKey := s.config.Redis.KeyPrefix + "maintenance:last-run"
	first, err := s.redisClient.SetNX(lockCtx, markerKey, s.config.ID, interval*9/10).Result()
	if err != nil {
		return MaintenanceResult{}, fmt.Errorf("[%s] Fail to set run marker, err=%w", op, err)
	}
	if !first {
		return MaintenanceResult{Skipped: true}, nil
	}
	return s.runMaintenanceOnce(lockCtx)
}

func (s *Server) runMaintenanceOnce(ctx context.Context) (MaintenanceResult, error) {
	const op = "runMaintenanceOnce"
	now := s.clock.Now()
	refreshed, err := s.lots.RefreshStatuses(ctx, now)
	if err != nil {
		return MaintenanceResult{}, fmt.Errorf("[%s] %w", op, err)
	}
	removed, err := s.otp.Cleanup(ctx, now)
	if err != nil {
		return MaintenanceResult{}, fmt.Errorf("[%s] %w", op, err)
	}
	return resultOf(refreshed, removed), nil
}

func resultOf(refreshed lots.RefreshResult, removed int64) MaintenanceResult {
	return MaintenanceResult{
		LotsUpdated: refreshed.LotsUpdated,
		CarsUpdated: refreshed.CarsUpdated,
		OtpsRemoved: removed,
	}
}

// RefreshStatuses 立即執行一次維護，不經過 leader 鎖的週期標記
// (POST /maintenance/refresh)
func (s *Server) RefreshStatuses(c *gin.Context) {
	const op = "RefreshStatuses"
	lockCtx, unlock, err := s.locker.Lock(c.Request.Context(), maintenanceLockKey)
	if err != nil {
		abortWithError(c, op, fmt.Errorf("[%s] Fail to acquire leader lock, err=%w", op, err))
		return
	}
	defer unlock()
	result, err := s.runMaintenanceOnce(lockCtx)
	if err != nil {
		abortWithError(c, op, err)
		return
	}
	c.JSON(http.StatusOK, result)
}
