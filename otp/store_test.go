package otp_test

import (
	"context"
	"regexp"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"carbid/bidding"
	"carbid/internal/testdb"
	"carbid/models"
	"carbid/otp"
)

var sixDigits = regexp.MustCompile(`^[1-9][0-9]{5}$`)

func TestGenerateCode(t *testing.T) {
	for i := 0; i < 200; i++ {
		code, err := otp.GenerateCode()
		require.NoError(t, err)
		assert.Regexp(t, sixDigits, code)
	}
}

func TestStore_SendThenVerifyOnce(t *testing.T) {
	t.Parallel()
	db := testdb.Open(t)
	store := otp.NewStore(db)
	ctx := context.Background()
	now := time.Now().UTC()
	id := otp.Identity{Email: "A@B.com"}

	record, err := store.Send(ctx, id, now)
	require.NoError(t, err)
	assert.Regexp(t, sixDigits, record.OtpCode)
	assert.Equal(t, models.OtpMethodEmail, record.OtpMethod)
	require.NotNil(t, record.Email)
	assert.Equal(t, "a@b.com", *record.Email)
	assert.Nil(t, record.Phone)
	assert.WithinDuration(t, now.Add(otp.DefaultTTL), record.ExpiresAt, time.Second)
	assert.False(t, record.Verified)

	require.NoError(t, store.Verify(ctx, otp.Identity{Email: "a@b.com"}, record.OtpCode, now.Add(time.Minute)))
	err = store.Verify(ctx, otp.Identity{Email: "a@b.com"}, record.OtpCode, now.Add(time.Minute))
	assert.ErrorIs(t, err, bidding.ErrInvalidOrExpiredOtp)
}

func TestStore_WrongCodeLeavesStoreUnchanged(t *testing.T) {
	t.Parallel()
	db := testdb.Open(t)
	store := otp.NewStore(db, otp.WithCodeGenerator(func() (string, error) { return "123456", nil }))
	ctx := context.Background()
	now := time.Now().UTC()
	id := otp.Identity{Email: "a@b.com"}

	_, err := store.Send(ctx, id, now)
	require.NoError(t, err)

	err = store.Verify(ctx, id, "000000", now)
	assert.ErrorIs(t, err, bidding.ErrInvalidOrExpiredOtp)

	var rows []models.OtpStorage
	require.NoError(t, db.Find(&rows).Error)
	require.Len(t, rows, 1)
	assert.False(t, rows[0].Verified)
}

func TestStore_VerifyRejections(t *testing.T) {
	t.Parallel()
	now := time.Now().UTC()

	tests := []struct {
		name   string
		verify otp.Identity
		code   string
		at     time.Time
	}{
		{name: "expired", verify: otp.Identity{Phone: "+971500000001"}, code: "654321", at: now.Add(otp.DefaultTTL + time.Millisecond)},
		{name: "exactly at expiry", verify: otp.Identity{Phone: "+971500000001"}, code: "654321", at: now.Add(otp.DefaultTTL)},
		{name: "other phone", verify: otp.Identity{Phone: "+971500000002"}, code: "654321", at: now},
		{name: "email instead of phone", verify: otp.Identity{Email: "+971500000001"}, code: "654321", at: now},
		{name: "both set", verify: otp.Identity{Phone: "+971500000001", Email: "a@b.com"}, code: "654321", at: now},
		{name: "empty identity", verify: otp.Identity{}, code: "654321", at: now},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			db := testdb.Open(t)
			store := otp.NewStore(db, otp.WithCodeGenerator(func() (string, error) { return "654321", nil }))
			_, err := store.Send(context.Background(), otp.Identity{Phone: "+971500000001"}, now)
			require.NoError(t, err)

			err = store.Verify(context.Background(), tt.verify, tt.code, tt.at)
			assert.ErrorIs(t, err, bidding.ErrInvalidOrExpiredOtp)
		})
	}
}

func TestStore_SendRequiresExactlyOneIdentity(t *testing.T) {
	t.Parallel()
	store := otp.NewStore(testdb.Open(t))
	_, err := store.Send(context.Background(), otp.Identity{}, time.Now())
	assert.ErrorIs(t, err, otp.ErrInvalidIdentity)
	assert.ErrorIs(t, err, bidding.ErrInvalidInput)
	_, err = store.Send(context.Background(), otp.Identity{Email: "a@b.com", Phone: "1"}, time.Now())
	assert.ErrorIs(t, err, bidding.ErrInvalidInput)
}

func TestStore_MultipleOutstandingCodes(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	now := time.Now().UTC()
	codes := []string{"111111", "222222"}

	t.Run("previous codes stay valid by default", func(t *testing.T) {
		var i atomic.Int32
		store := otp.NewStore(testdb.Open(t), otp.WithCodeGenerator(func() (string, error) {
			return codes[i.Add(1)-1], nil
		}))
		id := otp.Identity{Email: "a@b.com"}
		_, err := store.Send(ctx, id, now)
		require.NoError(t, err)
		_, err = store.Send(ctx, id, now.Add(time.Second))
		require.NoError(t, err)

		assert.NoError(t, store.Verify(ctx, id, "111111", now.Add(2*time.Second)))
		assert.NoError(t, store.Verify(ctx, id, "222222", now.Add(2*time.Second)))
	})

	t.Run("previous codes invalidated when configured", func(t *testing.T) {
		var i atomic.Int32
		store := otp.NewStore(testdb.Open(t),
			otp.WithInvalidatePrevious(true),
			otp.WithCodeGenerator(func() (string, error) {
				return codes[i.Add(1)-1], nil
			}))
		id := otp.Identity{Email: "a@b.com"}
		_, err := store.Send(ctx, id, now)
		require.NoError(t, err)
		_, err = store.Send(ctx, id, now.Add(time.Second))
		require.NoError(t, err)

		assert.ErrorIs(t, store.Verify(ctx, id, "111111", now.Add(2*time.Second)), bidding.ErrInvalidOrExpiredOtp)
		assert.NoError(t, store.Verify(ctx, id, "222222", now.Add(2*time.Second)))
	})
}

func TestStore_ConcurrentVerifySucceedsOnce(t *testing.T) {
	t.Parallel()
	store := otp.NewStore(testdb.Open(t), otp.WithCodeGenerator(func() (string, error) { return "424242", nil }))
	ctx := context.Background()
	now := time.Now().UTC()
	id := otp.Identity{Email: "race@example.com"}
	_, err := store.Send(ctx, id, now)
	require.NoError(t, err)

	var (
		wg        sync.WaitGroup
		successes atomic.Int32
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := store.Verify(ctx, id, "424242", now); err == nil {
				successes.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.EqualValues(t, 1, successes.Load())
}

func TestStore_Cleanup(t *testing.T) {
	t.Parallel()
	db := testdb.Open(t)
	store := otp.NewStore(db, otp.WithCodeGenerator(func() (string, error) { return "101010", nil }))
	ctx := context.Background()
	now := time.Now().UTC()

	// 已過期
	_, err := store.Send(ctx, otp.Identity{Email: "expired@example.com"}, now.Add(-time.Hour))
	require.NoError(t, err)
	// 已使用
	_, err = store.Send(ctx, otp.Identity{Email: "used@example.com"}, now)
	require.NoError(t, err)
	require.NoError(t, store.Verify(ctx, otp.Identity{Email: "used@example.com"}, "101010", now))
	// 仍有效
	_, err = store.Send(ctx, otp.Identity{Email: "pending@example.com"}, now)
	require.NoError(t, err)

	deleted, err := store.Cleanup(ctx, now)
	require.NoError(t, err)
	assert.EqualValues(t, 2, deleted)

	deleted, err = store.Cleanup(ctx, now)
	require.NoError(t, err)
	assert.Zero(t, deleted)

	var remaining []models.OtpStorage
	require.NoError(t, db.Find(&remaining).Error)
	require.Len(t, remaining, 1)
	assert.Equal(t, "pending@example.com", *remaining[0].Email)
}

func TestIdentity_String(t *testing.T) {
	assert.Equal(t, "ab****om", otp.Identity{Email: "ab@c.com"}.String())
	assert.NotContains(t, otp.Identity{Phone: "+971501234567"}.String(), "1234")
}
