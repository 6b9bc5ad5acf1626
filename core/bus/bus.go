package bus

import (
	"context"
	"sync"
)

// 每个订阅者的缓冲队列长度，写满即丢弃（慢消费者不允许拖垮发布方）
const subscriberBufferSize = 64

// Bus 事件总线
// 每场直播事件一个逻辑 topic，控制器把状态转移通知发布进来，
// 网关为每条 WebSocket 连接订阅对应 topic 并原样下发。
// 两种实现（进程内 / Redis Pub/Sub）提供完全相同的契约，
// 由组合根按部署形态选择并显式注入，不存在全局总线单例。
type Bus interface {
	// Publish 向 topic 的所有订阅者投递 payload，尽力而为、即发即忘
	Publish(ctx context.Context, topic string, payload []byte) error
	// Subscribe 注册一个新的订阅队列
	Subscribe(ctx context.Context, topic string) (*Subscription, error)
	// Close 关闭总线，释放所有订阅
	Close() error
}

// Subscription 一条订阅的消费端句柄
// C 在订阅关闭后会被关闭；Close 可以安全地重复调用。
type Subscription struct {
	C <-chan []byte

	once   sync.Once
	cancel func()
}

func newSubscription(ch <-chan []byte, cancel func()) *Subscription {
	return &Subscription{C: ch, cancel: cancel}
}

// Close 取消订阅
func (s *Subscription) Close() {
	s.once.Do(s.cancel)
}
