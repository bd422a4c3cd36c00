//go:generate mockgen -package=session -destination=mock.go -source=interfaces.go

package session

import (
	"context"
	"time"
)

// IStore 是 session 的儲存層，data 為空時代表刪除
type IStore interface {
	Load(ctx context.Context, name string) (map[string]string, error)
	Save(ctx context.Context, name string, data map[string]string, ttl time.Duration) error
}

type ISession interface {
	ID() string
	Load() error
	Get(key string) (string, bool)
	Set(key, value string)
	Delete(key string)
	Clear()
	Save() error
}
