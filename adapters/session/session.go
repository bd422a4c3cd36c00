package session

import (
	"context"
	"fmt"
	"time"
)

// sessionImpl 實作 ISession，只有資料被修改過才會寫回儲存層
type sessionImpl struct {
	id    string
	ctx   context.Context
	ttl   time.Duration
	data  map[string]string
	dirty bool
	store IStore
}

// NewSession 建立 session，資料在第一次 Load 時才讀取
func NewSession(ctx context.Context, id string, store IStore, ttl time.Duration) ISession {
	if ctx == nil {
		ctx = context.Background()
	}
	return &sessionImpl{
		id:    id,
		ctx:   ctx,
		ttl:   ttl,
		store: store,
	}
}

func (s *sessionImpl) ID() string {
	return s.id
}

func (s *sessionImpl) Load() error {
	const op = "session.Load"
	if s.data != nil {
		return nil
	}
	data, err := s.store.Load(s.ctx, s.id)
	if err != nil {
		return fmt.Errorf("[%s] Fail to load session, err=%w", op, err)
	}
	if data == nil {
		data = make(map[string]string)
	}
	s.data = data
	return nil
}

func (s *sessionImpl) Get(key string) (string, bool) {
	value, ok := s.data[key]
	return value, ok
}

func (s *sessionImpl) Set(key, value string) {
	if s.data == nil {
		s.data = make(map[string]string)
	}
	if current, ok := s.data[key]; ok && current == value {
		return
	}
	s.data[key] = value
	s.dirty = true
}

func (s *sessionImpl) Delete(key string) {
	if _, ok := s.data[key]; !ok {
		return
	}
	delete(s.data, key)
	s.dirty = true
}

func (s *sessionImpl) Clear() {
	if len(s.data) == 0 {
		s.data = make(map[string]string)
		return
	}
	s.data = make(map[string]string)
	s.dirty = true
}

func (s *sessionImpl) Save() error {
	const op = "session.Save"
	if !s.dirty {
		return nil
	}
	if err := s.store.Save(s.ctx, s.id, s.data, s.ttl); err != nil {
		return fmt.Errorf("[%s] Fail to save session, err=%w", op, err)
	}
	s.dirty = false
	return nil
}
