package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_Load(t *testing.T) {
	tests := []struct {
		name     string
		setup    func(mock redismock.ClientMock)
		expected map[string]string
		wantErr  bool
	}{
		{
			name: "success",
			setup: func(mock redismock.ClientMock) {
				mock.ExpectHGetAll("session:abc").SetVal(map[string]string{"pending_email": "a@b.com"})
			},
			expected: map[string]string{"pending_email": "a@b.com"},
		},
		{
			name: "missing key",
			setup: func(mock redismock.ClientMock) {
				mock.ExpectHGetAll("session:abc").SetVal(map[string]string{})
			},
			expected: map[string]string{},
		},
		{
			name: "redis error",
			setup: func(mock redismock.ClientMock) {
				mock.ExpectHGetAll("session:abc").SetErr(errors.New("redis connection error"))
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, mock := setupMock(t)
			tt.setup(mock)

			got, err := NewStore(client, WithStorePrefix("session:")).Load(context.Background(), "abc")
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestStore_SaveError(t *testing.T) {
	client, mock := setupMock(t)
	mock.ExpectEvalSha(saveScript.Hash(), []string{"session:abc"}, int64(60000), "k", "v").SetErr(redis.ErrClosed)

	err := NewStore(client, WithStorePrefix("session:")).Save(context.Background(), "abc", map[string]string{"k": "v"}, time.Minute)
	assert.ErrorIs(t, err, redis.ErrClosed)
}

func TestStore_SaveReplacesAndExpires(t *testing.T) {
	server, client := setupMiniredis(t)
	store := NewStore(client, WithStorePrefix("session:"))
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, "abc", map[string]string{"a": "1", "b": "2"}, time.Minute))
	require.NoError(t, store.Save(ctx, "abc", map[string]string{"c": "3"}, time.Minute))

	got, err := store.Load(ctx, "abc")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"c": "3"}, got)
	assert.Equal(t, time.Minute, server.TTL("session:abc"))

	server.FastForward(2 * time.Minute)
	got, err = store.Load(ctx, "abc")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestStore_SaveEmptyDeletes(t *testing.T) {
	server, client := setupMiniredis(t)
	store := NewStore(client)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, "abc", map[string]string{"a": "1"}, 0))
	assert.True(t, server.Exists("abc"))
	assert.Zero(t, server.TTL("abc"), "zero ttl keeps the key without expiry")

	require.NoError(t, store.Save(ctx, "abc", nil, time.Minute))
	assert.False(t, server.Exists("abc"))
}
