package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

var ErrConsumerClosed = errors.New("consumer is closed")

func deadLetterStream(stream string) string {
	return stream + ":dead-letter"
}

// Message 包裝 group 讀到的訊息，處理完畢後必須呼叫 Done 或 Fail
type Message[T any] struct {
	Data T
	ID   string

	client redis.Cmdable
	stream string
	group  string
	raw    map[string]any
	mu     sync.Mutex
	done   bool
}

// Done 確認訊息已處理完成
func (m *Message[T]) Done(ctx context.Context) error {
	const op = "redis.Message.Done"
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.done {
		return nil
	}
	if err := m.client.XAck(ctx, m.stream, m.group, m.ID).Err(); err != nil {
		return fmt.Errorf("[%s] Fail to ack message, err=%w", op, err)
	}
	m.done = true
	return nil
}

// Fail 將訊息連同錯誤原因移到 dead-letter stream 並確認
func (m *Message[T]) Fail(ctx context.Context, failErr error) error {
	const op = "redis.Message.Fail"
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.done {
		return nil
	}
	if err := moveToDeadLetter(ctx, m.client, m.stream, m.group, m.ID, m.raw, failErr); err != nil {
		return fmt.Errorf("[%s] %w", op, err)
	}
	m.done = true
	return nil
}

func moveToDeadLetter(ctx context.Context, client redis.Cmdable, stream, group, id string, raw map[string]any, cause error) error {
	values := make(map[string]any, len(raw)+2)
	for k, v := range raw {
		values[k] = v
	}
	values["error"] = cause.Error()
	values["originalId"] = id

	_, err := client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.XAdd(ctx, &redis.XAddArgs{Stream: deadLetterStream(stream), Values: values})
		pipe.XAck(ctx, stream, group, id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("fail to move message to dead letter, err=%w", err)
	}
	return nil
}

type groupConsumerOptions[T any] struct {
	logger       *slog.Logger
	decodeFunc   func(map[string]any) (T, error)
	bufferSize   int
	blockTimeout time.Duration
	retryDelay   time.Duration
}

type GroupConsumerOption[T any] func(*groupConsumerOptions[T])

func WithGroupConsumerLogger[T any](logger *slog.Logger) GroupConsumerOption[T] {
	return func(o *groupConsumerOptions[T]) {
		o.logger = logger
	}
}

func WithGroupConsumerDecodeFunc[T any](fn func(map[string]any) (T, error)) GroupConsumerOption[T] {
	return func(o *groupConsumerOptions[T]) {
		o.decodeFunc = fn
	}
}

// WithGroupConsumerBufferSize 設定下游 channel 的緩衝大小
func WithGroupConsumerBufferSize[T any](size int) GroupConsumerOption[T] {
	return func(o *groupConsumerOptions[T]) {
		o.bufferSize = size
	}
}

// WithGroupConsumerBlockTimeout 設定每次 XREADGROUP 最多阻塞多久
func WithGroupConsumerBlockTimeout[T any](d time.Duration) GroupConsumerOption[T] {
	return func(o *groupConsumerOptions[T]) {
		o.blockTimeout = d
	}
}

// WithGroupConsumerRetryDelay 設定 Redis 錯誤後重試前的等待時間
func WithGroupConsumerRetryDelay[T any](d time.Duration) GroupConsumerOption[T] {
	return func(o *groupConsumerOptions[T]) {
		o.retryDelay = d
	}
}

// GroupConsumer 以 consumer group 讀取 stream
// 啟動時先重新投遞自己名下尚未確認的訊息，之後才讀取新訊息
type GroupConsumer[T any] struct {
	client     redis.Cmdable
	stream     string
	group      string
	consumer   string
	downStream chan *Message[T]
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	mu         sync.Mutex
	closed     bool
	logger     *slog.Logger
	options    groupConsumerOptions[T]
}

func NewGroupConsumer[T any](client redis.Cmdable, stream, group, consumer string, opts ...GroupConsumerOption[T]) (*GroupConsumer[T], error) {
	if client == nil {
		return nil, errors.New("redis client cannot be nil")
	}
	if stream == "" || group == "" || consumer == "" {
		return nil, errors.New("stream, group and consumer cannot be empty")
	}

	options := groupConsumerOptions[T]{
		logger:       slog.Default(),
		decodeFunc:   DecodeMessage[T],
		bufferSize:   1,
		blockTimeout: time.Second,
		retryDelay:   time.Second,
	}
	for _, opt := range opts {
		opt(&options)
	}

	return &GroupConsumer[T]{
		client:   client,
		stream:   stream,
		group:    group,
		consumer: consumer,
		closed:   true,
		logger: options.logger.With(
			slog.String("caller", "GroupConsumer"),
			slog.String("stream", stream),
			slog.String("group", group),
			slog.String("consumer", consumer),
		),
		options: options,
	}, nil
}

// ensureGroup 建立 consumer group，已存在時忽略
func (g *GroupConsumer[T]) ensureGroup(ctx context.Context) error {
	err := g.client.XGroupCreateMkStream(ctx, g.stream, g.group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return err
	}
	return nil
}

func (g *GroupConsumer[T]) Start() error {
	const op = "redis.GroupConsumer.Start"
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.closed {
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	if err := g.ensureGroup(ctx); err != nil {
		cancel()
		return fmt.Errorf("[%s] Fail to create consumer group, err=%w", op, err)
	}
	g.downStream = make(chan *Message[T], g.options.bufferSize)
	g.cancel = cancel
	g.closed = false
	g.logger.Info("starting group consumer")

	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		defer close(g.downStream)
		defer g.logger.Info("group consumer goroutine stopped")

		// "0" 讀取自己名下的 pending 訊息，讀完後改用 ">" 讀取新訊息
		cursor := "0"
		for ctx.Err() == nil {
			messages, err := g.fetch(ctx, cursor)
			if err != nil {
				if errors.Is(err, redis.Nil) || ctx.Err() != nil {
					continue
				}
				g.logger.Error("fetch message error", slog.Any("error", err))
				select {
				case <-ctx.Done():
				case <-time.After(g.options.retryDelay):
				}
				continue
			}
			if cursor != ">" && len(messages) == 0 {
				g.logger.Info("pending messages recovered")
				cursor = ">"
				continue
			}
			for _, message := range messages {
				if cursor != ">" {
					cursor = message.ID
				}
				if !g.dispatch(ctx, message) {
					return
				}
			}
		}
	}()
	return nil
}

func (g *GroupConsumer[T]) fetch(ctx context.Context, cursor string) ([]redis.XMessage, error) {
	args := &redis.XReadGroupArgs{
		Group:    g.group,
		Consumer: g.consumer,
		Streams:  []string{g.stream, cursor},
		Count:    int64(max(g.options.bufferSize, 1)),
	}
	if cursor == ">" {
		args.Block = g.options.blockTimeout
	} else {
		// 讀取 pending 時不阻塞
		args.Block = -1
	}
	streams, err := g.client.XReadGroup(ctx, args).Result()
	if err != nil {
		return nil, err
	}
	if len(streams) == 0 {
		if cursor == ">" {
			return nil, redis.Nil
		}
		return nil, nil
	}
	return streams[0].Messages, nil
}

// dispatch 解碼並送到下游，回傳 false 表示已經關閉
// 無法解碼的訊息重試也不會成功，直接移到 dead-letter
func (g *GroupConsumer[T]) dispatch(ctx context.Context, message redis.XMessage) bool {
	data, err := g.options.decodeFunc(message.Values)
	if err != nil {
		g.logger.Error("failed to decode message",
			slog.String("messageId", message.ID),
			slog.Any("error", err))
		if err := moveToDeadLetter(ctx, g.client, g.stream, g.group, message.ID, message.Values, err); err != nil {
			// 留在 pending，下次啟動時會再處理一次
			g.logger.Error("error moving message to dead letter",
				slog.String("messageId", message.ID),
				slog.Any("error", err))
		}
		return true
	}

	msg := &Message[T]{
		Data:   data,
		ID:     message.ID,
		client: g.client,
		stream: g.stream,
		group:  g.group,
		raw:    message.Values,
	}
	select {
	case <-ctx.Done():
		return false
	case g.downStream <- msg:
		return true
	}
}

// Subscribe 回傳待處理的訊息，Close 之後 channel 會被關閉
func (g *GroupConsumer[T]) Subscribe() <-chan *Message[T] {
	return g.downStream
}

func (g *GroupConsumer[T]) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return nil
	}
	g.logger.Info("closing group consumer")
	g.closed = true
	g.cancel()
	g.wg.Wait()
	g.logger.Info("group consumer closed")
	return nil
}
