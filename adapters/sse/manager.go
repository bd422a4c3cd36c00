package sse

import (
	"errors"
	"log/slog"
	"sync"
)

var ErrManagerClosed = errors.New("connection manager is closed")

type managerOptions[T any] struct {
	logger           *slog.Logger
	publisher        Publisher[T]
	source           Source[T]
	subscriberBuffer int
}

type Option[T any] func(*managerOptions[T])

func WithLogger[T any](logger *slog.Logger) Option[T] {
	return func(o *managerOptions[T]) {
		o.logger = logger
	}
}

// WithPublisher 設定跨節點的發布端；未設定時 Publish 只送給本節點的訂閱者
func WithPublisher[T any](publisher Publisher[T]) Option[T] {
	return func(o *managerOptions[T]) {
		o.publisher = publisher
	}
}

// WithSource 設定跨節點的訊息來源，來源的生命週期由呼叫者管理
func WithSource[T any](source Source[T]) Option[T] {
	return func(o *managerOptions[T]) {
		o.source = source
	}
}

// WithSubscriberBuffer 設定每個訂閱者的緩衝大小
func WithSubscriberBuffer[T any](size int) Option[T] {
	return func(o *managerOptions[T]) {
		o.subscriberBuffer = size
	}
}

// ConnectionManager 依頻道管理 SSE 訂閱者，並把來源的訊息分派到對應頻道
type ConnectionManager[T any] struct {
	logger  *slog.Logger
	options managerOptions[T]

	mu       sync.RWMutex
	wg       sync.WaitGroup
	done     chan struct{}
	active   bool
	channels map[string]*Channel[T]
}

func NewConnectionManager[T any](opts ...Option[T]) *ConnectionManager[T] {
	options := managerOptions[T]{
		logger:           slog.Default(),
		subscriberBuffer: defaultSubscriberBuffer,
	}
	for _, opt := range opts {
		opt(&options)
	}
	return &ConnectionManager[T]{
		logger:   options.logger.With(slog.String("caller", "ConnectionManager")),
		options:  options,
		done:     make(chan struct{}),
		active:   true,
		channels: make(map[string]*Channel[T]),
	}
}

var _ IConnectionManager[struct{}] = (*ConnectionManager[struct{}])(nil)

// Start 開始分派來源的訊息，沒有來源時不做任何事
func (cm *ConnectionManager[T]) Start() {
	if cm.options.source == nil {
		return
	}
	incoming := cm.options.source.Subscribe()
	cm.wg.Add(1)
	go func() {
		defer cm.wg.Done()
		for {
			select {
			case <-cm.done:
				return
			case envelope, ok := <-incoming:
				if !ok {
					cm.logger.Info("message source closed")
					return
				}
				cm.dispatch(envelope)
			}
		}
	}()
}

func (cm *ConnectionManager[T]) dispatch(envelope Envelope[T]) {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	channel, ok := cm.channels[envelope.Channel]
	if !ok {
		return
	}
	if dropped := channel.Broadcast(envelope.Message); dropped > 0 {
		cm.logger.Warn("dropped message for slow subscribers",
			slog.String("channel", envelope.Channel),
			slog.Int("dropped", dropped))
	}
}

// Done 停止分派並關閉所有訂閱者的通道
func (cm *ConnectionManager[T]) Done() {
	cm.mu.Lock()
	if !cm.active {
		cm.mu.Unlock()
		return
	}
	cm.active = false
	close(cm.done)
	cm.mu.Unlock()

	cm.wg.Wait()

	cm.mu.Lock()
	defer cm.mu.Unlock()
	for _, channel := range cm.channels {
		channel.UnsubscribeAll()
	}
	clear(cm.channels)
}

func (cm *ConnectionManager[T]) Subscribe(channelName string) (<-chan T, error) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	if !cm.active {
		return nil, ErrManagerClosed
	}
	channel, ok := cm.channels[channelName]
	if !ok {
		channel = NewChannel[T](cm.options.subscriberBuffer)
		cm.channels[channelName] = channel
	}
	return channel.Subscribe(), nil
}

// Publish 有 Publisher 時交給它送往所有節點 (包含本節點)，否則直接分派
func (cm *ConnectionManager[T]) Publish(channelName string, data T) error {
	cm.mu.RLock()
	active := cm.active
	cm.mu.RUnlock()
	if !active {
		return ErrManagerClosed
	}

	envelope := Envelope[T]{Channel: channelName, Message: data}
	if cm.options.publisher != nil {
		return cm.options.publisher.Publish(envelope)
	}
	cm.dispatch(envelope)
	return nil
}

func (cm *ConnectionManager[T]) Unsubscribe(channelName string, ch <-chan T) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	channel, ok := cm.channels[channelName]
	if !ok {
		return
	}
	channel.Unsubscribe(ch)
	if channel.IsIdle() {
		delete(cm.channels, channelName)
	}
}
