package bus

import (
	"context"
	"sync"

	"ClubFM/logger"
)

// LocalBus 进程内总线，适用于单实例部署
type LocalBus struct {
	mu     sync.RWMutex
	topics map[string]map[*localSub]struct{}
	closed bool
}

type localSub struct {
	ch chan []byte
}

// NewLocalBus 创建进程内总线
func NewLocalBus() *LocalBus {
	return &LocalBus{
		topics: make(map[string]map[*localSub]struct{}),
	}
}

// Publish 向 topic 的所有订阅队列投递消息
// 某个订阅者缓冲已满时直接丢弃该条消息，发布方永不阻塞。
func (b *LocalBus) Publish(ctx context.Context, topic string, payload []byte) error {
	b.mu.RLock()
	subs := make([]*localSub, 0, len(b.topics[topic]))
	for s := range b.topics[topic] {
		subs = append(subs, s)
	}
	b.mu.RUnlock()

	for _, s := range subs {
		select {
		case s.ch <- payload:
		default:
			// 缓冲区满，丢弃
			logger.Warn("local bus: subscriber buffer full, dropping message",
				logger.String("topic", topic))
		}
	}
	return nil
}

// Subscribe 注册订阅
func (b *LocalBus) Subscribe(ctx context.Context, topic string) (*Subscription, error) {
	s := &localSub{ch: make(chan []byte, subscriberBufferSize)}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(s.ch)
		return newSubscription(s.ch, func() {}), nil
	}
	if b.topics[topic] == nil {
		b.topics[topic] = make(map[*localSub]struct{})
	}
	b.topics[topic][s] = struct{}{}
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if subs, ok := b.topics[topic]; ok {
			if _, ok := subs[s]; ok {
				delete(subs, s)
				close(s.ch)
				if len(subs) == 0 {
					delete(b.topics, topic)
				}
			}
		}
	}
	return newSubscription(s.ch, cancel), nil
}

// Close 关闭总线并结束所有订阅
func (b *LocalBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true

	for topic, subs := range b.topics {
		for s := range subs {
			close(s.ch)
		}
		delete(b.topics, topic)
	}
	return nil
}
