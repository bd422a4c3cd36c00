package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/samber/lo"

	"carbid/models"
	"carbid/questions"
)

type AskQuestionRequest struct {
	LotID *uuid.UUID `json:"lotId" binding:"required_without=CarID"`
	CarID *uuid.UUID `json:"carId" binding:"required_without=LotID"`
	Text  string     `json:"text" binding:"required,max=2000"`
}

// AskQuestion 對批次或車輛提出問題
// (POST /questions)
func (s *Server) AskQuestion(c *gin.Context) {
	const op = "AskQuestion"
	var req AskQuestionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithMessage(c, http.StatusBadRequest, bindingMessage(err))
		return
	}
	// 未核准的批次對競標者而言不存在
	ctx := c.Request.Context()
	if req.CarID != nil {
		if _, err := s.lots.GetCar(ctx, *req.CarID, true); err != nil {
			abortWithError(c, op, err)
			return
		}
	} else if _, err := s.lots.Get(ctx, *req.LotID, true); err != nil {
		abortWithError(c, op, err)
		return
	}
	question, err := s.questions.Ask(ctx, questions.AskInput{
		LotID:   req.LotID,
		CarID:   req.CarID,
		AskedBy: mustPrincipal(c).ID,
		Text:    s.htmlChecker.Sanitize(req.Text),
	})
	if err != nil {
		abortWithError(c, op, err)
		return
	}
	c.JSON(http.StatusCreated, questionView(question))
}

type AnswerQuestionRequest struct {
	Text string `json:"text" binding:"required,max=4000"`
}

// AnswerQuestion 回答問題，每個問題只能回答一次
// (POST /questions/:questionID/answer)
func (s *Server) AnswerQuestion(c *gin.Context) {
	const op = "AnswerQuestion"
	questionID, ok := pathUUID(c, "questionID")
	if !ok {
		return
	}
	var req AnswerQuestionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithMessage(c, http.StatusBadRequest, bindingMessage(err))
		return
	}
	question, err := s.questions.Answer(c.Request.Context(), questionID, mustPrincipal(c).ID, s.htmlChecker.Sanitize(req.Text), s.clock.Now())
	if err != nil {
		abortWithError(c, op, err)
		return
	}
	c.JSON(http.StatusOK, questionView(question))
}

type ListQuestionsQuery struct {
	LotID      string `form:"lotId" binding:"omitempty,uuid"`
	CarID      string `form:"carId" binding:"omitempty,uuid"`
	Unanswered bool   `form:"unanswered"`
}

// ListQuestions 列出問題；競標者只看得到自己提出的問題
// (GET /questions)
func (s *Server) ListQuestions(c *gin.Context) {
	const op = "ListQuestions"
	var query ListQuestionsQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		abortWithMessage(c, http.StatusBadRequest, bindingMessage(err))
		return
	}
	filter := questions.ListFilter{Unanswered: query.Unanswered}
	if query.LotID != "" {
		filter.LotID = lo.ToPtr(uuid.MustParse(query.LotID))
	}
	if query.CarID != "" {
		filter.CarID = lo.ToPtr(uuid.MustParse(query.CarID))
	}
	principal := mustPrincipal(c)
	if !principal.IsStaff() {
		filter.AskedBy = &principal.ID
	}
	result, err := s.questions.List(c.Request.Context(), filter)
	if err != nil {
		abortWithError(c, op, err)
		return
	}
	c.JSON(http.StatusOK, lo.Map(result, func(q models.Question, _ int) QuestionView { return questionView(q) }))
}
