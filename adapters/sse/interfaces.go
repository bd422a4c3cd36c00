package sse

// Envelope 是在節點之間傳遞的訊息，Channel 決定要送給哪些訂閱者
type Envelope[T any] struct {
	Channel string
	Message T
}

// IChannel 管理單一頻道的所有訂閱者
type IChannel[T any] interface {
	// Subscribe 建立一個新的訂閱並回傳接收訊息的通道
	Subscribe() <-chan T
	// Unsubscribe 取消訂閱並關閉通道
	Unsubscribe(ch <-chan T)
	UnsubscribeAll()
	// Broadcast 將訊息送給所有訂閱者，回傳因緩衝已滿而略過的數量
	Broadcast(message T) int
	IsIdle() bool
}

// IConnectionManager 依頻道名稱管理 SSE 連線
type IConnectionManager[T any] interface {
	Start()
	Done()
	Subscribe(channelName string) (<-chan T, error)
	Publish(channelName string, data T) error
	Unsubscribe(channelName string, ch <-chan T)
}

// Publisher 將訊息送往所有節點 (例如 Redis stream producer)
type Publisher[T any] interface {
	Publish(data Envelope[T]) error
}

// Source 提供來自所有節點的訊息 (例如 Redis stream consumer)
type Source[T any] interface {
	Subscribe() <-chan Envelope[T]
}
