package sse_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"carbid/adapters/sse"
)

type bidUpdate struct {
	CarID  string
	Amount int64
}

// chanSource 以 channel 模擬跨節點的訊息來源
type chanSource struct {
	ch chan sse.Envelope[bidUpdate]
}

func (s *chanSource) Subscribe() <-chan sse.Envelope[bidUpdate] {
	return s.ch
}

// loopbackPublisher 把發布的訊息直接送回來源，模擬經過 Redis 的往返
type loopbackPublisher struct {
	source *chanSource
}

func (p *loopbackPublisher) Publish(e sse.Envelope[bidUpdate]) error {
	p.source.ch <- e
	return nil
}

func receive[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v, ok := <-ch:
		require.True(t, ok, "channel closed")
		return v
	case <-time.After(3 * time.Second):
		t.Fatal("did not receive message in time")
	}
	var zero T
	return zero
}
