package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm/clause"

	redisAdapter "carbid/adapters/redis"
	"carbid/adapters/sse"
	"carbid/models"
)

// BidEvent 是寫入 bid stream 的訊息
type BidEvent struct {
	EventID    string              `msgpack:"eventId"`
	Kind       models.BidEventKind `msgpack:"kind"`
	CarID      uuid.UUID           `msgpack:"carId"`
	UserID     uuid.UUID           `msgpack:"userId"`
	Amount     int64               `msgpack:"amount"`
	HighestBid int64               `msgpack:"highestBid"`
	BidCount   int                 `msgpack:"bidCount"`
	OccurredAt time.Time           `msgpack:"occurredAt"`
}

// CarEvent 是推送給瀏覽器的內容，不包含出價者身分
type CarEvent struct {
	Kind       models.BidEventKind `json:"kind"`
	Amount     int64               `json:"amount"`
	HighestBid int64               `json:"highestBid"`
	BidCount   int                 `json:"bidCount"`
	Time       time.Time           `json:"time"`
}

func decodeCarEnvelope(values map[string]any) (sse.Envelope[CarEvent], error) {
	event, err := redisAdapter.DecodeMessage[BidEvent](values)
	if err != nil {
		return sse.Envelope[CarEvent]{}, fmt.Errorf("fail to parse message to sse.Envelope[CarEvent], err=%w", err)
	}
	return sse.Envelope[CarEvent]{
		Channel: event.CarID.String(),
		Message: CarEvent{
			Kind:       event.Kind,
			Amount:     event.Amount,
			HighestBid: event.HighestBid,
			BidCount:   event.BidCount,
			Time:       event.OccurredAt,
		},
	}, nil
}

// publishBidEvent 補上最新的出價摘要後送到 stream
// 出價已經寫入資料庫，發布失敗只記錄不回應錯誤
func (s *Server) publishBidEvent(c *gin.Context, kind models.BidEventKind, bid models.Bid, now time.Time) {
	l := logger(c).With(slog.String("caller", "publishBidEvent"))
	eventID, err := uuid.NewV7()
	if err != nil {
		l.Error("Fail to generate event id", slog.Any("error", err))
		return
	}
	event := BidEvent{
		EventID:    eventID.String(),
		Kind:       kind,
		CarID:      bid.CarID,
		UserID:     bid.UserID,
		Amount:     bid.Amount,
		OccurredAt: now,
	}
	summaries, err := s.ledger.Summaries(c.Request.Context(), []uuid.UUID{bid.CarID})
	if err != nil {
		l.Warn("Fail to load bid summary", slog.Any("error", err))
	} else if summary := summaries[bid.CarID]; summary.HighestBid != nil {
		event.HighestBid = *summary.HighestBid
		event.BidCount = summary.BidCount
	}
	if err := s.producer.Publish(event); err != nil {
		l.Error("Fail to publish bid event", slog.String("carID", bid.CarID.String()), slog.Any("error", err))
	}
}

// GetCarEvents 以 SSE 推送車輛的出價事件
// (GET /cars/:carID/events)
func (s *Server) GetCarEvents(c *gin.Context) {
	const op = "GetCarEvents"
	carID, ok := pathUUID(c, "carID")
	if !ok {
		return
	}
	principal := mustPrincipal(c)
	// 檢查車輛是否存在
	car, err := s.lots.GetCar(c.Request.Context(), carID, !principal.IsStaff())
	if err != nil {
		abortWithError(c, op, err)
		return
	}
	// 檢查車輛是否已經結束拍賣
	if car.Status == models.CarStatusClosed {
		abortWithMessage(c, http.StatusGone, "bidding has ended")
		return
	}

	// 先訂閱再讀取目前的摘要，避免漏掉中間的事件
	ch, err := s.sseManager.Subscribe(carID.String())
	if err != nil {
		abortWithError(c, op, fmt.Errorf("[%s] Fail to subscribe to car events, err=%w", op, err))
		return
	}
	defer s.sseManager.Unsubscribe(carID.String(), ch)

	snapshot := CarEvent{Time: s.clock.Now()}
	summaries, err := s.ledger.Summaries(c.Request.Context(), []uuid.UUID{carID})
	if err != nil {
		abortWithError(c, op, err)
		return
	}
	if summary := summaries[carID]; summary.HighestBid != nil {
		snapshot.HighestBid = *summary.HighestBid
		snapshot.BidCount = summary.BidCount
	}

	// SSE請求合法，開始初始化串流
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.SSEvent("snapshot", snapshot)
	c.Writer.Flush()

	heartbeat := time.NewTicker(s.heartbeat)
	defer heartbeat.Stop()
	c.Stream(func(w io.Writer) bool {
		select {
		case <-c.Request.Context().Done():
			return false
		case event, ok := <-ch:
			if !ok {
				return false
			}
			c.SSEvent("bid", event)
			return true
		// 一段時間沒有事件就送出註解行，避免代理伺服器斷開連線
		case <-heartbeat.C:
			_, err := io.WriteString(w, ": ping\n\n")
			return err == nil
		}
	})
}

// runHistoryWorker 將 group consumer 收到的事件寫入 bid_histories
// 以 EventID 去重，重送的訊息不會產生重複紀錄
func (s *Server) runHistoryWorker(ctx context.Context) {
	logger := s.logger.With(slog.String("caller", "BidHistoryWorker"))
	logger.Info("Start bid history worker")
	defer logger.Info("Bid history worker stopped")

	ch := s.groupConsumer.Subscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			if err := s.recordHistory(ctx, msg.Data); err != nil {
				if errors.Is(err, context.Canceled) {
					// 關閉中，留在 pending 等下次啟動重送
					return
				}
				logger.Error("Fail to record bid history", slog.String("messageID", msg.ID), slog.Any("error", err))
				if err := msg.Fail(ctx, err); err != nil {
					logger.Error("Fail to move message to dead letter", slog.Any("error", err))
				}
				continue
			}
			if err := msg.Done(ctx); err != nil {
				logger.Error("Recorded but fail to ack message", slog.String("messageID", msg.ID), slog.Any("error", err))
			}
		}
	}
}

func (s *Server) recordHistory(ctx context.Context, event BidEvent) error {
	const op = "recordHistory"
	history := models.BidHistory{
		EventID:    event.EventID,
		CarID:      event.CarID,
		UserID:     event.UserID,
		Amount:     event.Amount,
		Kind:       event.Kind,
		OccurredAt: event.OccurredAt,
	}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "event_id"}}, DoNothing: true}).
		Create(&history).Error
	if err != nil {
		return fmt.Errorf("[%s] Fail to insert bid history, err=%w", op, err)
	}
	return nil
}
