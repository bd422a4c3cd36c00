package ledger_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"carbid/bidding"
	"carbid/internal/testdb"
	"carbid/ledger"
	"carbid/models"
)

func TestLedger_Scenario(t *testing.T) {
	t.Parallel()
	db := testdb.Open(t)
	l := ledger.New(db)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	_, car := testdb.OpenLot(t, db, now.Add(-time.Hour), now.Add(time.Hour))
	userA := testdb.Bidder(t, db, true)
	userB := testdb.Bidder(t, db, true)

	first, err := l.PlaceOrUpdateBid(ctx, car.ID, userA.ID, 100, now)
	require.NoError(t, err)
	_, err = l.PlaceOrUpdateBid(ctx, car.ID, userB.ID, 150, now.Add(time.Second))
	require.NoError(t, err)
	updated, err := l.PlaceOrUpdateBid(ctx, car.ID, userA.ID, 200, now.Add(2*time.Second))
	require.NoError(t, err)

	// 改價不會產生新的出價，也不會改變第一次出價的時間
	assert.Equal(t, first.ID, updated.ID)
	assert.EqualValues(t, 200, updated.Amount)
	assert.True(t, first.CreatedAt.Equal(updated.CreatedAt), "createdAt changed: %v -> %v", first.CreatedAt, updated.CreatedAt)

	ranked, err := l.RankedBids(ctx, car.ID)
	require.NoError(t, err)
	require.Len(t, ranked, 2)
	assert.Equal(t, userA.ID, ranked[0].UserID)
	assert.EqualValues(t, 200, ranked[0].Amount)
	assert.Equal(t, userB.ID, ranked[1].UserID)
	assert.EqualValues(t, 150, ranked[1].Amount)

	highest, ok, err := l.HighestBid(ctx, car.ID)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.EqualValues(t, 200, highest)

	count, err := l.BidCount(ctx, car.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	var rows int64
	require.NoError(t, db.Model(&models.Bid{}).Where("car_id = ?", car.ID).Count(&rows).Error)
	assert.EqualValues(t, 2, rows)
}

func TestLedger_PlaceOrUpdateBid_Rejections(t *testing.T) {
	t.Parallel()
	now := time.Now().UTC()

	tests := []struct {
		name    string
		setup   func(t *testing.T, e *env)
		amount  int64
		wantErr error
	}{
		{
			name:    "zero amount",
			amount:  0,
			wantErr: bidding.ErrInvalidAmount,
		},
		{
			name:    "negative amount",
			amount:  -10,
			wantErr: bidding.ErrInvalidAmount,
		},
		{
			name: "unapproved bidder",
			setup: func(t *testing.T, e *env) {
				e.user = testdb.Bidder(t, e.db, false)
			},
			amount:  100,
			wantErr: bidding.ErrNotApproved,
		},
		{
			name: "admin cannot bid",
			setup: func(t *testing.T, e *env) {
				e.user = testdb.Account(t, e.db, models.RoleAdmin, true)
			},
			amount:  100,
			wantErr: bidding.ErrNotApproved,
		},
		{
			name: "unknown account",
			setup: func(t *testing.T, e *env) {
				e.user = models.Account{ID: uuid.New()}
			},
			amount:  100,
			wantErr: bidding.ErrNotFound,
		},
		{
			name: "unknown car",
			setup: func(t *testing.T, e *env) {
				e.car = models.Car{ID: uuid.New()}
			},
			amount:  100,
			wantErr: bidding.ErrNotFound,
		},
		{
			name: "window ended",
			setup: func(t *testing.T, e *env) {
				_, e.car = testdb.OpenLot(t, e.db, now.Add(-2*time.Hour), now.Add(-time.Millisecond))
			},
			amount:  100,
			wantErr: bidding.ErrBiddingClosed,
		},
		{
			name: "lot not approved",
			setup: func(t *testing.T, e *env) {
				lot := testdb.Lot(t, e.db, models.LotStatusUpcoming, false)
				e.car = testdb.Car(t, e.db, lot.ID, models.CarStatusActive, now.Add(-time.Hour), now.Add(time.Hour))
			},
			amount:  100,
			wantErr: bidding.ErrBiddingClosed,
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			db := testdb.Open(t)
			l := ledger.New(db)
			e := &env{db: db, user: testdb.Bidder(t, db, true)}
			_, e.car = testdb.OpenLot(t, db, now.Add(-time.Hour), now.Add(time.Hour))
			if tt.setup != nil {
				tt.setup(t, e)
			}

			_, err := l.PlaceOrUpdateBid(context.Background(), e.car.ID, e.user.ID, tt.amount, now)
			assert.ErrorIs(t, err, tt.wantErr)

			// 帳本不應該有任何變化
			var rows int64
			require.NoError(t, db.Model(&models.Bid{}).Count(&rows).Error)
			assert.Zero(t, rows)
		})
	}
}

type env struct {
	db   *gorm.DB
	user models.Account
	car  models.Car
}

func TestLedger_ClosedLotRejectsBid(t *testing.T) {
	t.Parallel()
	db := testdb.Open(t)
	l := ledger.New(db)
	now := time.Now().UTC()
	lot, car := testdb.OpenLot(t, db, now.Add(-time.Hour), now.Add(time.Hour))
	user := testdb.Bidder(t, db, true)

	require.NoError(t, db.Model(&lot).Update("status", models.LotStatusEarlyClosed).Error)
	_, err := l.PlaceOrUpdateBid(context.Background(), car.ID, user.ID, 100, now)
	assert.ErrorIs(t, err, bidding.ErrBiddingClosed)
}

func TestLedger_ConcurrentPlacementKeepsOneRow(t *testing.T) {
	t.Parallel()
	db := testdb.Open(t)
	l := ledger.New(db)
	now := time.Now().UTC()
	_, car := testdb.OpenLot(t, db, now.Add(-time.Hour), now.Add(time.Hour))
	user := testdb.Bidder(t, db, true)

	var wg sync.WaitGroup
	for i := 1; i <= 10; i++ {
		wg.Add(1)
		go func(amount int64) {
			defer wg.Done()
			_, err := l.PlaceOrUpdateBid(context.Background(), car.ID, user.ID, amount*10, now)
			assert.NoError(t, err)
		}(int64(i))
	}
	wg.Wait()

	var rows int64
	require.NoError(t, db.Model(&models.Bid{}).Where("car_id = ? AND user_id = ?", car.ID, user.ID).Count(&rows).Error)
	assert.EqualValues(t, 1, rows)
}

func TestLedger_DeleteBid(t *testing.T) {
	t.Parallel()
	db := testdb.Open(t)
	l := ledger.New(db)
	ctx := context.Background()
	now := time.Now().UTC()
	_, car := testdb.OpenLot(t, db, now.Add(-time.Hour), now.Add(time.Hour))
	owner := testdb.Bidder(t, db, true)
	other := testdb.Bidder(t, db, true)

	bid, err := l.PlaceOrUpdateBid(ctx, car.ID, owner.ID, 100, now)
	require.NoError(t, err)

	_, err = l.DeleteBidByID(ctx, bid.ID, other.ID)
	assert.ErrorIs(t, err, bidding.ErrUnauthorized)

	require.NoError(t, l.DeleteBid(ctx, car.ID, owner.ID))
	assert.ErrorIs(t, l.DeleteBid(ctx, car.ID, owner.ID), bidding.ErrNotFound)

	_, err = l.DeleteBidByID(ctx, bid.ID, owner.ID)
	assert.ErrorIs(t, err, bidding.ErrNotFound)

	count, err := l.BidCount(ctx, car.ID)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestLedger_MarkWinner(t *testing.T) {
	t.Parallel()
	db := testdb.Open(t)
	l := ledger.New(db)
	ctx := context.Background()
	now := time.Now().UTC()
	_, car := testdb.OpenLot(t, db, now.Add(-time.Hour), now.Add(time.Hour))
	_, otherCar := testdb.OpenLot(t, db, now.Add(-time.Hour), now.Add(time.Hour))
	userA := testdb.Bidder(t, db, true)
	userB := testdb.Bidder(t, db, true)

	bidA, err := l.PlaceOrUpdateBid(ctx, car.ID, userA.ID, 100, now)
	require.NoError(t, err)
	bidB, err := l.PlaceOrUpdateBid(ctx, car.ID, userB.ID, 150, now)
	require.NoError(t, err)
	bidOther, err := l.PlaceOrUpdateBid(ctx, otherCar.ID, userA.ID, 90, now)
	require.NoError(t, err)
	_, err = l.MarkWinner(ctx, bidOther.ID)
	require.NoError(t, err)

	winner, err := l.MarkWinner(ctx, bidA.ID)
	require.NoError(t, err)
	assert.True(t, winner.IsWinner)
	assertWinners(t, db, car.ID, bidA.ID)

	_, err = l.MarkWinner(ctx, bidB.ID)
	require.NoError(t, err)
	assertWinners(t, db, car.ID, bidB.ID)

	// 其他車輛的得標者不受影響
	assertWinners(t, db, otherCar.ID, bidOther.ID)

	_, err = l.MarkWinner(ctx, uuid.New())
	assert.ErrorIs(t, err, bidding.ErrNotFound)
}

func TestLedger_MarkWinnerConcurrent(t *testing.T) {
	t.Parallel()
	db := testdb.Open(t)
	l := ledger.New(db)
	ctx := context.Background()
	now := time.Now().UTC()
	_, car := testdb.OpenLot(t, db, now.Add(-time.Hour), now.Add(time.Hour))

	bids := make([]models.Bid, 0, 8)
	for i := 0; i < 8; i++ {
		user := testdb.Bidder(t, db, true)
		bid, err := l.PlaceOrUpdateBid(ctx, car.ID, user.ID, int64(100+i), now)
		require.NoError(t, err)
		bids = append(bids, bid)
	}

	var wg sync.WaitGroup
	for _, bid := range bids {
		wg.Add(1)
		go func(id uuid.UUID) {
			defer wg.Done()
			_, err := l.MarkWinner(ctx, id)
			assert.NoError(t, err)
		}(bid.ID)
	}
	wg.Wait()

	var winners int64
	require.NoError(t, db.Model(&models.Bid{}).Where("car_id = ? AND is_winner = ?", car.ID, true).Count(&winners).Error)
	assert.EqualValues(t, 1, winners)
}

func TestLedger_Summaries(t *testing.T) {
	t.Parallel()
	db := testdb.Open(t)
	l := ledger.New(db)
	ctx := context.Background()
	now := time.Now().UTC()
	_, car := testdb.OpenLot(t, db, now.Add(-time.Hour), now.Add(time.Hour))
	_, empty := testdb.OpenLot(t, db, now.Add(-time.Hour), now.Add(time.Hour))
	for _, amount := range []int64{300, 500} {
		user := testdb.Bidder(t, db, true)
		_, err := l.PlaceOrUpdateBid(ctx, car.ID, user.ID, amount, now)
		require.NoError(t, err)
	}

	summaries, err := l.Summaries(ctx, []uuid.UUID{car.ID, empty.ID})
	require.NoError(t, err)
	require.NotNil(t, summaries[car.ID].HighestBid)
	assert.EqualValues(t, 500, *summaries[car.ID].HighestBid)
	assert.Equal(t, 2, summaries[car.ID].BidCount)
	assert.Nil(t, summaries[empty.ID].HighestBid)
	assert.Zero(t, summaries[empty.ID].BidCount)
}

func assertWinners(t *testing.T, db *gorm.DB, carID, want uuid.UUID) {
	t.Helper()
	var winners []models.Bid
	require.NoError(t, db.Where("car_id = ? AND is_winner = ?", carID, true).Find(&winners).Error)
	require.Len(t, winners, 1)
	assert.Equal(t, want, winners[0].ID)
}
