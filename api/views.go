package api

import (
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"carbid/ledger"
	"carbid/models"
)

type AccountView struct {
	ID              uuid.UUID       `json:"id"`
	Email           string          `json:"email"`
	Phone           *string         `json:"phone,omitempty"`
	Name            string          `json:"name"`
	Role            models.Role     `json:"role"`
	UserType        models.UserType `json:"userType"`
	Approved        bool            `json:"approved"`
	TermsAcceptedAt *time.Time      `json:"termsAcceptedAt,omitempty"`
}

func accountView(a models.Account) AccountView {
	return AccountView{
		ID:              a.ID,
		Email:           a.Email,
		Phone:           a.Phone,
		Name:            a.Name,
		Role:            a.Role,
		UserType:        a.UserType,
		Approved:        a.Approved,
		TermsAcceptedAt: a.TermsAcceptedAt,
	}
}

type LotView struct {
	ID            uuid.UUID        `json:"id"`
	LotNumber     string           `json:"lotNumber"`
	Status        models.LotStatus `json:"status"`
	Approved      bool             `json:"approved"`
	EarlyClosed   bool             `json:"earlyClosed"`
	EarlyClosedAt *time.Time       `json:"earlyClosedAt,omitempty"`
	CreatedAt     time.Time        `json:"createdAt"`
	Cars          []CarView        `json:"cars,omitempty"`
}

type CarView struct {
	ID               uuid.UUID        `json:"id"`
	LotID            uuid.UUID        `json:"lotId"`
	ChassisNo        string           `json:"chassisNo"`
	RegNo            string           `json:"regNo,omitempty"`
	FleetNo          string           `json:"fleetNo,omitempty"`
	SrNumber         string           `json:"srNumber,omitempty"`
	MakeModel        string           `json:"makeModel"`
	Year             int              `json:"year,omitempty"`
	Km               int              `json:"km,omitempty"`
	Color            string           `json:"color,omitempty"`
	BodyType         string           `json:"bodyType,omitempty"`
	Attributes       map[string]any   `json:"attributes,omitempty"`
	Status           models.CarStatus `json:"status"`
	Biddable         bool             `json:"biddable"`
	BiddingStartDate time.Time        `json:"biddingStartDate"`
	BiddingEndDate   time.Time        `json:"biddingEndDate"`
	Images           []string         `json:"images"`
	HighestBid       *int64           `json:"highestBid,omitempty"`
	BidCount         int              `json:"bidCount"`
	MyBid            *int64           `json:"myBid,omitempty"`
}

func lotView(l models.Lot) LotView {
	return LotView{
		ID:            l.ID,
		LotNumber:     l.LotNumber,
		Status:        l.Status,
		Approved:      l.Approved,
		EarlyClosed:   l.EarlyClosed,
		EarlyClosedAt: l.EarlyClosedAt,
		CreatedAt:     l.CreatedAt,
	}
}

// carView 組合車輛資料與出價摘要；biddable 由呼叫端依 IsBiddable 判斷
func carView(c models.Car, summary ledger.CarSummary, biddable bool) CarView {
	return CarView{
		ID:               c.ID,
		LotID:            c.LotID,
		ChassisNo:        c.ChassisNo,
		RegNo:            c.RegNo,
		FleetNo:          c.FleetNo,
		SrNumber:         c.SrNumber,
		MakeModel:        c.MakeModel,
		Year:             c.Year,
		Km:               c.Km,
		Color:            c.Color,
		BodyType:         c.BodyType,
		Attributes:       c.Attributes,
		Status:           c.Status,
		Biddable:         biddable,
		BiddingStartDate: c.BiddingStartDate,
		BiddingEndDate:   c.BiddingEndDate,
		Images:           lo.Map(c.Images, func(img models.CarImage, _ int) string { return img.Url }),
		HighestBid:       summary.HighestBid,
		BidCount:         summary.BidCount,
	}
}

type BidView struct {
	ID        uuid.UUID `json:"id"`
	CarID     uuid.UUID `json:"carId"`
	UserID    uuid.UUID `json:"userId"`
	UserName  string    `json:"userName,omitempty"`
	Amount    int64     `json:"amount"`
	IsWinner  bool      `json:"isWinner"`
	Rank      int       `json:"rank,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func bidView(b models.Bid) BidView {
	view := BidView{
		ID:        b.ID,
		CarID:     b.CarID,
		UserID:    b.UserID,
		Amount:    b.Amount,
		IsWinner:  b.IsWinner,
		CreatedAt: b.CreatedAt,
		UpdatedAt: b.UpdatedAt,
	}
	if b.User != nil {
		view.UserName = b.User.Name
	}
	return view
}

type QuestionView struct {
	ID         uuid.UUID  `json:"id"`
	LotID      *uuid.UUID `json:"lotId,omitempty"`
	CarID      *uuid.UUID `json:"carId,omitempty"`
	AskedByID  uuid.UUID  `json:"askedById"`
	Question   string     `json:"question"`
	Answered   bool       `json:"answered"`
	Answer     *string    `json:"answer,omitempty"`
	AnsweredAt *time.Time `json:"answeredAt,omitempty"`
	CreatedAt  time.Time  `json:"createdAt"`
}

func questionView(q models.Question) QuestionView {
	return QuestionView{
		ID:         q.ID,
		LotID:      q.LotID,
		CarID:      q.CarID,
		AskedByID:  q.AskedByID,
		Question:   q.QuestionText,
		Answered:   q.Answered,
		Answer:     q.AnswerText,
		AnsweredAt: q.AnsweredAt,
		CreatedAt:  q.CreatedAt,
	}
}

type TermsView struct {
	ID        uuid.UUID `json:"id"`
	Version   string    `json:"version"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}

func termsView(t models.TermsAndCondition) TermsView {
	return TermsView{ID: t.ID, Version: t.Version, Content: t.Content, CreatedAt: t.CreatedAt}
}
