package bus

import (
	"context"
	"sync"

	"ClubFM/logger"

	"github.com/go-redis/redis/v8"
)

// RedisBus 基于 Redis Pub/Sub 的总线，适用于多实例部署
// 发布方与订阅方可以运行在不同进程中，契约与 LocalBus 完全一致。
type RedisBus struct {
	client *redis.Client

	mu      sync.Mutex
	pubsubs map[*redis.PubSub]struct{}
	closed  bool
	wg      sync.WaitGroup
}

// NewRedisBus 创建 Redis 总线
func NewRedisBus(client *redis.Client) *RedisBus {
	return &RedisBus{
		client:  client,
		pubsubs: make(map[*redis.PubSub]struct{}),
	}
}

// Publish 通过 Redis PUBLISH 投递消息
func (b *RedisBus) Publish(ctx context.Context, topic string, payload []byte) error {
	return b.client.Publish(ctx, topic, payload).Err()
}

// Subscribe 建立 Redis 订阅，由后台 goroutine 泵入本地队列
func (b *RedisBus) Subscribe(ctx context.Context, topic string) (*Subscription, error) {
	ps := b.client.Subscribe(ctx, topic)

	// 确认订阅建立成功，失败则立刻回收
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, err
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		_ = ps.Close()
		ch := make(chan []byte)
		close(ch)
		return newSubscription(ch, func() {}), nil
	}
	b.pubsubs[ps] = struct{}{}
	b.mu.Unlock()

	ch := make(chan []byte, subscriberBufferSize)

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		defer close(ch)
		// ps.Close() 会结束 Channel()，goroutine 随之退出
		for msg := range ps.Channel() {
			select {
			case ch <- []byte(msg.Payload):
			default:
				logger.Warn("redis bus: subscriber buffer full, dropping message",
					logger.String("topic", topic))
			}
		}
	}()

	cancel := func() {
		b.mu.Lock()
		delete(b.pubsubs, ps)
		b.mu.Unlock()
		if err := ps.Close(); err != nil {
			logger.Warn("redis bus: pubsub close failed", logger.ErrorField(err))
		}
	}
	return newSubscription(ch, cancel), nil
}

// Close 关闭所有订阅并等待泵 goroutine 退出
func (b *RedisBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	pubsubs := make([]*redis.PubSub, 0, len(b.pubsubs))
	for ps := range b.pubsubs {
		pubsubs = append(pubsubs, ps)
	}
	b.pubsubs = make(map[*redis.PubSub]struct{})
	b.mu.Unlock()

	for _, ps := range pubsubs {
		_ = ps.Close()
	}
	b.wg.Wait()
	return nil
}
