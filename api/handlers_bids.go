package api

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/samber/lo"

	"carbid/models"
)

type PlaceBidRequest struct {
	Amount int64 `json:"amount"`
}

// PlaceBid 出價或更新自己在這台車的出價
// (PUT /cars/:carID/bid)
func (s *Server) PlaceBid(c *gin.Context) {
	const op = "PlaceBid"
	carID, ok := pathUUID(c, "carID")
	if !ok {
		return
	}
	var req PlaceBidRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithMessage(c, http.StatusBadRequest, bindingMessage(err))
		return
	}
	principal := mustPrincipal(c)
	now := s.clock.Now()
	// 金額是否大於零交給 ledger 判斷
	bid, err := s.ledger.PlaceOrUpdateBid(c.Request.Context(), carID, principal.ID, req.Amount, now)
	if err != nil {
		abortWithError(c, op, err)
		return
	}
	logger(c).Info("Bid placed",
		slog.String("user", principal.ID.String()),
		slog.String("carID", carID.String()),
		slog.Int64("amount", bid.Amount))
	s.publishBidEvent(c, models.BidEventPlaced, bid, now)
	c.JSON(http.StatusOK, bidView(bid))
}

// WithdrawBid 撤回自己在這台車的出價
// (DELETE /cars/:carID/bid)
func (s *Server) WithdrawBid(c *gin.Context) {
	const op = "WithdrawBid"
	carID, ok := pathUUID(c, "carID")
	if !ok {
		return
	}
	principal := mustPrincipal(c)
	if err := s.ledger.DeleteBid(c.Request.Context(), carID, principal.ID); err != nil {
		abortWithError(c, op, err)
		return
	}
	s.publishBidEvent(c, models.BidEventWithdrawn, models.Bid{CarID: carID, UserID: principal.ID}, s.clock.Now())
	c.Status(http.StatusNoContent)
}

// DeleteBid 以出價 ID 撤回出價，只能撤回自己的出價
// (DELETE /bids/:bidID)
func (s *Server) DeleteBid(c *gin.Context) {
	const op = "DeleteBid"
	bidID, ok := pathUUID(c, "bidID")
	if !ok {
		return
	}
	bid, err := s.ledger.DeleteBidByID(c.Request.Context(), bidID, mustPrincipal(c).ID)
	if err != nil {
		abortWithError(c, op, err)
		return
	}
	s.publishBidEvent(c, models.BidEventWithdrawn, bid, s.clock.Now())
	c.Status(http.StatusNoContent)
}

// ListMyBids
// (GET /me/bids)
func (s *Server) ListMyBids(c *gin.Context) {
	const op = "ListMyBids"
	bids, err := s.ledger.BidsOfUser(c.Request.Context(), mustPrincipal(c).ID)
	if err != nil {
		abortWithError(c, op, err)
		return
	}
	c.JSON(http.StatusOK, lo.Map(bids, func(b models.Bid, _ int) BidView { return bidView(b) }))
}

// ListCarBids 依排名列出車輛的所有出價
// (GET /cars/:carID/bids)
func (s *Server) ListCarBids(c *gin.Context) {
	const op = "ListCarBids"
	carID, ok := pathUUID(c, "carID")
	if !ok {
		return
	}
	ctx := c.Request.Context()
	if _, err := s.lots.GetCar(ctx, carID, false); err != nil {
		abortWithError(c, op, err)
		return
	}
	ranked, err := s.ledger.RankedBids(ctx, carID)
	if err != nil {
		abortWithError(c, op, err)
		return
	}
	c.JSON(http.StatusOK, lo.Map(ranked, func(b models.Bid, i int) BidView {
		view := bidView(b)
		view.Rank = i + 1
		return view
	}))
}

// MarkWinner 指定得標的出價
// (POST /bids/:bidID/winner)
func (s *Server) MarkWinner(c *gin.Context) {
	const op = "MarkWinner"
	bidID, ok := pathUUID(c, "bidID")
	if !ok {
		return
	}
	bid, err := s.ledger.MarkWinner(c.Request.Context(), bidID)
	if err != nil {
		abortWithError(c, op, err)
		return
	}
	s.publishBidEvent(c, models.BidEventWinner, bid, s.clock.Now())
	c.JSON(http.StatusOK, bidView(bid))
}
