package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"carbid/adapters/session"
)

// Store 以 Redis hash 實作 session.IStore
type Store struct {
	client redis.Cmdable
	prefix string
}

type StoreOption func(*Store)

// WithStorePrefix 設定 key 前綴
func WithStorePrefix(prefix string) StoreOption {
	return func(s *Store) {
		s.prefix = prefix
	}
}

func NewStore(client redis.Cmdable, opts ...StoreOption) *Store {
	s := &Store{client: client}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ session.IStore = (*Store)(nil)

// Load 讀取整個 hash，key 不存在時回傳空 map
func (s *Store) Load(ctx context.Context, name string) (map[string]string, error) {
	const op = "redis.Store.Load"
	result, err := s.client.HGetAll(ctx, s.prefix+name).Result()
	if err != nil {
		return nil, fmt.Errorf("[%s] Fail to get hash, err=%w", op, err)
	}
	return result, nil
}

// saveScript 原子性地以新資料取代整個 hash 並設定過期時間
// ARGV[1] 為毫秒，其餘為 field/value
var saveScript = redis.NewScript(`
local key = KEYS[1]
redis.call('DEL', key)
if #ARGV > 1 then
    redis.call('HSET', key, unpack(ARGV, 2))
    if tonumber(ARGV[1]) > 0 then
        redis.call('PEXPIRE', key, ARGV[1])
    end
end
return 1
`)

// Save 以 data 取代原本的資料；data 為空時等同刪除
func (s *Store) Save(ctx context.Context, name string, data map[string]string, ttl time.Duration) error {
	const op = "redis.Store.Save"
	args := make([]any, 0, len(data)*2+1)
	args = append(args, ttl.Milliseconds())
	for k, v := range data {
		args = append(args, k, v)
	}
	if err := saveScript.Run(ctx, s.client, []string{s.prefix + name}, args...).Err(); err != nil {
		return fmt.Errorf("[%s] Fail to run save script, err=%w", op, err)
	}
	return nil
}
