package questions_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"carbid/bidding"
	"carbid/internal/testdb"
	"carbid/questions"
)

func TestService_AskAndAnswer(t *testing.T) {
	t.Parallel()
	db := testdb.Open(t)
	svc := questions.New(db)
	ctx := context.Background()
	now := time.Now().UTC()

	lot, car := testdb.OpenLot(t, db, now, now.Add(time.Hour))
	bidder := testdb.Bidder(t, db, true)

	onCar, err := svc.Ask(ctx, questions.AskInput{CarID: &car.ID, AskedBy: bidder.ID, Text: " Any accident history? "})
	require.NoError(t, err)
	require.NotNil(t, onCar.LotID)
	assert.Equal(t, lot.ID, *onCar.LotID, "lot is filled in from the car")
	assert.Equal(t, "Any accident history?", onCar.QuestionText)

	onLot, err := svc.Ask(ctx, questions.AskInput{LotID: &lot.ID, AskedBy: bidder.ID, Text: "Where is the yard?"})
	require.NoError(t, err)
	assert.Nil(t, onLot.CarID)

	adminID := uuid.New()
	answered, err := svc.Answer(ctx, onCar.ID, adminID, "No accidents.", now)
	require.NoError(t, err)
	assert.True(t, answered.Answered)
	assert.Equal(t, "No accidents.", *answered.AnswerText)

	_, err = svc.Answer(ctx, onCar.ID, adminID, "Changed my mind.", now)
	assert.ErrorIs(t, err, bidding.ErrAlreadyExists)

	all, err := svc.List(ctx, questions.ListFilter{LotID: &lot.ID})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	byCar, err := svc.List(ctx, questions.ListFilter{CarID: &car.ID})
	require.NoError(t, err)
	require.Len(t, byCar, 1)
	assert.Equal(t, "No accidents.", *byCar[0].AnswerText)

	open, err := svc.List(ctx, questions.ListFilter{LotID: &lot.ID, Unanswered: true})
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, onLot.ID, open[0].ID)

	other := testdb.Bidder(t, db, true)
	_, err = svc.Ask(ctx, questions.AskInput{LotID: &lot.ID, AskedBy: other.ID, Text: "Can I inspect on Sunday?"})
	require.NoError(t, err)
	mine, err := svc.List(ctx, questions.ListFilter{LotID: &lot.ID, AskedBy: &bidder.ID})
	require.NoError(t, err)
	assert.Len(t, mine, 2)
}

func TestService_Ask_Rejections(t *testing.T) {
	t.Parallel()
	db := testdb.Open(t)
	svc := questions.New(db)
	now := time.Now().UTC()
	_, car := testdb.OpenLot(t, db, now, now.Add(time.Hour))
	otherLot, _ := testdb.OpenLot(t, db, now, now.Add(time.Hour))
	missing := uuid.New()

	tests := []struct {
		name    string
		input   questions.AskInput
		wantErr error
	}{
		{name: "no target", input: questions.AskInput{Text: "hello"}, wantErr: bidding.ErrInvalidInput},
		{name: "empty text", input: questions.AskInput{CarID: &car.ID, Text: "  "}, wantErr: bidding.ErrInvalidInput},
		{name: "car outside lot", input: questions.AskInput{CarID: &car.ID, LotID: &otherLot.ID, Text: "hello"}, wantErr: bidding.ErrInvalidInput},
		{name: "missing car", input: questions.AskInput{CarID: &missing, Text: "hello"}, wantErr: bidding.ErrNotFound},
		{name: "missing lot", input: questions.AskInput{LotID: &missing, Text: "hello"}, wantErr: bidding.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Ask(context.Background(), tt.input)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	_, err := svc.Answer(context.Background(), uuid.New(), uuid.New(), "answer", now)
	assert.ErrorIs(t, err, bidding.ErrNotFound)
}
