package api

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/samber/lo"

	"carbid/bidding"
	"carbid/ledger"
	"carbid/lots"
	"carbid/models"
)

type CreateCarRequest struct {
	ChassisNo        string         `json:"chassisNo" binding:"required,max=64"`
	RegNo            string         `json:"regNo" binding:"max=32"`
	FleetNo          string         `json:"fleetNo" binding:"max=32"`
	SrNumber         string         `json:"srNumber" binding:"max=32"`
	MakeModel        string         `json:"makeModel" binding:"required,max=255"`
	Year             int            `json:"year" binding:"omitempty,min=1900,max=2100"`
	Km               int            `json:"km" binding:"min=0"`
	Color            string         `json:"color" binding:"max=32"`
	BodyType         string         `json:"bodyType" binding:"max=32"`
	Attributes       map[string]any `json:"attributes"`
	BiddingStartDate time.Time      `json:"biddingStartDate" binding:"required"`
	BiddingEndDate   time.Time      `json:"biddingEndDate" binding:"required,gtfield=BiddingStartDate"`
}

type CreateLotRequest struct {
	LotNumber string             `json:"lotNumber" binding:"required,max=64"`
	Cars      []CreateCarRequest `json:"cars" binding:"required,min=1,dive"`
}

// CreateLot 上傳一個批次與其車輛
// (POST /lots)
func (s *Server) CreateLot(c *gin.Context) {
	const op = "CreateLot"
	var req CreateLotRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithMessage(c, http.StatusBadRequest, bindingMessage(err))
		return
	}
	input := lots.CreateLotInput{
		LotNumber:    req.LotNumber,
		UploadedByID: mustPrincipal(c).ID,
		Cars: lo.Map(req.Cars, func(car CreateCarRequest, _ int) lots.CreateCarInput {
			return lots.CreateCarInput{
				ChassisNo:        car.ChassisNo,
				RegNo:            car.RegNo,
				FleetNo:          car.FleetNo,
				SrNumber:         car.SrNumber,
				MakeModel:        s.htmlChecker.Sanitize(car.MakeModel),
				Year:             car.Year,
				Km:               car.Km,
				Color:            car.Color,
				BodyType:         car.BodyType,
				Attributes:       car.Attributes,
				BiddingStartDate: car.BiddingStartDate,
				BiddingEndDate:   car.BiddingEndDate,
			}
		}),
	}
	lot, err := s.lots.Create(c.Request.Context(), input)
	if err != nil {
		abortWithError(c, op, err)
		return
	}
	c.Header("Location", "/lots/"+lot.ID.String())
	c.JSON(http.StatusCreated, s.lotDetail(lot, nil, s.clock.Now()))
}

type ListLotsQuery struct {
	Status models.LotStatus `form:"status" binding:"omitempty,oneof=Upcoming Approved Active Closed 'Early Closed' Disabled"`
	Size   int              `form:"size" binding:"omitempty,min=1,max=100"`
	Offset int              `form:"offset" binding:"omitempty,min=0"`
}

type ListLotsResponse struct {
	Count int       `json:"count"`
	Lots  []LotView `json:"lots"`
}

// ListLots 列出批次；競標者只看得到已核准的批次
// (GET /lots)
func (s *Server) ListLots(c *gin.Context) {
	const op = "ListLots"
	var query ListLotsQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		abortWithMessage(c, http.StatusBadRequest, bindingMessage(err))
		return
	}
	if query.Size == 0 {
		query.Size = 20
	}
	result, err := s.lots.List(c.Request.Context(), lots.ListFilter{
		OnlyApproved: !mustPrincipal(c).IsStaff(),
		Status:       query.Status,
		Limit:        query.Size,
		Offset:       query.Offset,
	})
	if err != nil {
		abortWithError(c, op, err)
		return
	}
	c.JSON(http.StatusOK, ListLotsResponse{
		Count: len(result),
		Lots:  lo.Map(result, func(l models.Lot, _ int) LotView { return lotView(l) }),
	})
}

// GetLot 取得批次與車輛，車輛附上出價摘要
// (GET /lots/:lotID)
func (s *Server) GetLot(c *gin.Context) {
	const op = "GetLot"
	lotID, ok := pathUUID(c, "lotID")
	if !ok {
		return
	}
	principal := mustPrincipal(c)
	lot, err := s.lots.Get(c.Request.Context(), lotID, !principal.IsStaff())
	if err != nil {
		abortWithError(c, op, err)
		return
	}
	summaries, err := s.ledger.Summaries(c.Request.Context(), lo.Map(lot.Cars, func(car models.Car, _ int) uuid.UUID { return car.ID }))
	if err != nil {
		abortWithError(c, op, err)
		return
	}
	c.JSON(http.StatusOK, s.lotDetail(lot, summaries, s.clock.Now()))
}

func (s *Server) lotDetail(lot models.Lot, summaries map[uuid.UUID]ledger.CarSummary, now time.Time) LotView {
	view := lotView(lot)
	view.Cars = make([]CarView, 0, len(lot.Cars))
	for _, car := range lot.Cars {
		view.Cars = append(view.Cars, carView(car, summaries[car.ID], bidding.IsBiddable(car, lot, now)))
	}
	return view
}

// GetCar 取得車輛與出價摘要，競標者會看到自己的出價
// (GET /cars/:carID)
func (s *Server) GetCar(c *gin.Context) {
	const op = "GetCar"
	carID, ok := pathUUID(c, "carID")
	if !ok {
		return
	}
	principal := mustPrincipal(c)
	ctx := c.Request.Context()
	car, err := s.lots.GetCar(ctx, carID, !principal.IsStaff())
	if err != nil {
		abortWithError(c, op, err)
		return
	}
	ranked, err := s.ledger.RankedBids(ctx, carID)
	if err != nil {
		abortWithError(c, op, err)
		return
	}
	summary := ledger.CarSummary{CarID: carID, BidCount: len(ranked)}
	if len(ranked) > 0 {
		summary.HighestBid = lo.ToPtr(ranked[0].Amount)
	}
	view := carView(car, summary, car.Lot != nil && bidding.IsBiddable(car, *car.Lot, s.clock.Now()))
	if mine, found := lo.Find(ranked, func(b models.Bid) bool { return b.UserID == principal.ID }); found {
		view.MyBid = lo.ToPtr(mine.Amount)
	}
	c.JSON(http.StatusOK, view)
}

// UploadCarImage 上傳車輛照片 (multipart 欄位 image)
// (POST /cars/:carID/images)
func (s *Server) UploadCarImage(c *gin.Context) {
	const op = "UploadCarImage"
	carID, ok := pathUUID(c, "carID")
	if !ok {
		return
	}
	if s.images == nil {
		abortWithMessage(c, http.StatusServiceUnavailable, "image storage is not configured")
		return
	}
	ctx := c.Request.Context()
	// 先確認車輛存在，避免上傳孤兒檔案
	if _, err := s.lots.GetCar(ctx, carID, false); err != nil {
		abortWithError(c, op, err)
		return
	}
	fileHeader, err := c.FormFile("image")
	if err != nil {
		abortWithMessage(c, http.StatusBadRequest, "image is required")
		return
	}
	file, err := fileHeader.Open()
	if err != nil {
		abortWithError(c, op, fmt.Errorf("[%s] Fail to open upload, err=%w", op, err))
		return
	}
	defer file.Close()

	url, err := s.images.UploadCarImage(ctx, carID, file)
	if err != nil {
		abortWithError(c, op, err)
		return
	}
	image, err := s.lots.AttachImage(ctx, carID, mustPrincipal(c).ID, url)
	if err != nil {
		abortWithError(c, op, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": image.ID, "url": image.Url})
}

// ApproveLot
// (POST /lots/:lotID/approve)
func (s *Server) ApproveLot(c *gin.Context) {
	const op = "ApproveLot"
	lotID, ok := pathUUID(c, "lotID")
	if !ok {
		return
	}
	lot, err := s.lots.ApproveLot(c.Request.Context(), lotID, mustPrincipal(c).ID, s.clock.Now())
	if err != nil {
		abortWithError(c, op, err)
		return
	}
	c.JSON(http.StatusOK, lotView(lot))
}

// CloseLot 提前結束批次；已經結束的批次回應 200 與目前狀態
// (POST /lots/:lotID/close)
func (s *Server) CloseLot(c *gin.Context) {
	const op = "CloseLot"
	lotID, ok := pathUUID(c, "lotID")
	if !ok {
		return
	}
	lot, err := s.lots.CloseLot(c.Request.Context(), lotID, mustPrincipal(c).ID, s.clock.Now())
	if err != nil && !errors.Is(err, bidding.ErrAlreadyClosed) {
		abortWithError(c, op, err)
		return
	}
	c.JSON(http.StatusOK, lotView(lot))
}

// DisableCar
// (POST /cars/:carID/disable)
func (s *Server) DisableCar(c *gin.Context) {
	const op = "DisableCar"
	carID, ok := pathUUID(c, "carID")
	if !ok {
		return
	}
	car, err := s.lots.DisableCar(c.Request.Context(), carID, s.clock.Now())
	if err != nil {
		// 已結束的車輛不能暫停
		if errors.Is(err, bidding.ErrAlreadyClosed) {
			abortWithMessage(c, http.StatusConflict, bidding.ErrAlreadyClosed.Error())
			return
		}
		abortWithError(c, op, err)
		return
	}
	c.JSON(http.StatusOK, carView(car, ledger.CarSummary{}, false))
}

type ReopenCarRequest struct {
	BiddingStartDate *time.Time `json:"biddingStartDate" binding:"required_with=BiddingEndDate"`
	BiddingEndDate   *time.Time `json:"biddingEndDate" binding:"required_with=BiddingStartDate"`
}

// ReopenCar 重新開放暫停的車輛，可以同時指定新的競標時間
// (POST /cars/:carID/reopen)
func (s *Server) ReopenCar(c *gin.Context) {
	const op = "ReopenCar"
	carID, ok := pathUUID(c, "carID")
	if !ok {
		return
	}
	var req ReopenCarRequest
	// 沒有 body 代表沿用原本的競標時間
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			abortWithMessage(c, http.StatusBadRequest, bindingMessage(err))
			return
		}
	}
	var window *lots.Window
	if req.BiddingStartDate != nil && req.BiddingEndDate != nil {
		window = &lots.Window{Start: *req.BiddingStartDate, End: *req.BiddingEndDate}
	}
	car, err := s.lots.ReopenCar(c.Request.Context(), carID, window, s.clock.Now())
	if err != nil {
		if errors.Is(err, bidding.ErrAlreadyClosed) {
			abortWithMessage(c, http.StatusConflict, bidding.ErrAlreadyClosed.Error())
			return
		}
		abortWithError(c, op, err)
		return
	}
	c.JSON(http.StatusOK, carView(car, ledger.CarSummary{}, false))
}
