package bus

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
)

func recvWithin(t *testing.T, sub *Subscription, timeout time.Duration) []byte {
	t.Helper()

	select {
	case payload, ok := <-sub.C:
		if !ok {
			t.Fatal("Subscription channel closed unexpectedly")
		}
		return payload
	case <-time.After(timeout):
		t.Fatal("Timed out waiting for message")
		return nil
	}
}

func TestLocalBus(t *testing.T) {
	ctx := context.Background()

	t.Run("delivers to every subscriber in order", func(t *testing.T) {
		b := NewLocalBus()
		defer b.Close()

		sub1, err := b.Subscribe(ctx, "event:1")
		if err != nil {
			t.Fatalf("Failed to subscribe: %v", err)
		}
		sub2, err := b.Subscribe(ctx, "event:1")
		if err != nil {
			t.Fatalf("Failed to subscribe: %v", err)
		}

		for i := 0; i < 3; i++ {
			if err := b.Publish(ctx, "event:1", []byte(fmt.Sprintf("m%d", i))); err != nil {
				t.Fatalf("Failed to publish: %v", err)
			}
		}

		for _, sub := range []*Subscription{sub1, sub2} {
			for i := 0; i < 3; i++ {
				got := string(recvWithin(t, sub, time.Second))
				want := fmt.Sprintf("m%d", i)
				if got != want {
					t.Errorf("Expected %q, got %q", want, got)
				}
			}
		}
	})

	t.Run("topics are isolated", func(t *testing.T) {
		b := NewLocalBus()
		defer b.Close()

		sub, err := b.Subscribe(ctx, "event:1")
		if err != nil {
			t.Fatalf("Failed to subscribe: %v", err)
		}

		if err := b.Publish(ctx, "event:2", []byte("other")); err != nil {
			t.Fatalf("Failed to publish: %v", err)
		}

		select {
		case payload := <-sub.C:
			t.Errorf("Expected no cross-topic delivery, got %q", payload)
		case <-time.After(50 * time.Millisecond):
		}
	})

	t.Run("publish to a topic with no subscribers succeeds", func(t *testing.T) {
		b := NewLocalBus()
		defer b.Close()

		if err := b.Publish(ctx, "event:1", []byte("void")); err != nil {
			t.Errorf("Expected nil error, got %v", err)
		}
	})

	t.Run("slow subscriber drops instead of blocking the publisher", func(t *testing.T) {
		b := NewLocalBus()
		defer b.Close()

		sub, err := b.Subscribe(ctx, "event:1")
		if err != nil {
			t.Fatalf("Failed to subscribe: %v", err)
		}

		// 灌满缓冲再多发几条，Publish 必须立即返回
		done := make(chan struct{})
		go func() {
			defer close(done)
			for i := 0; i < subscriberBufferSize+10; i++ {
				b.Publish(ctx, "event:1", []byte("x"))
			}
		}()

		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("Publisher blocked on a slow subscriber")
		}

		// 缓冲里的那部分仍然可读
		for i := 0; i < subscriberBufferSize; i++ {
			recvWithin(t, sub, time.Second)
		}
	})

	t.Run("subscription close ends the channel", func(t *testing.T) {
		b := NewLocalBus()
		defer b.Close()

		sub, err := b.Subscribe(ctx, "event:1")
		if err != nil {
			t.Fatalf("Failed to subscribe: %v", err)
		}

		sub.Close()
		sub.Close() // 重复关闭安全

		if _, ok := <-sub.C; ok {
			t.Error("Expected channel to be closed")
		}

		// 取消后发布不再有接收者，也不报错
		if err := b.Publish(ctx, "event:1", []byte("late")); err != nil {
			t.Errorf("Expected nil error, got %v", err)
		}
	})

	t.Run("bus close ends all subscriptions", func(t *testing.T) {
		b := NewLocalBus()

		sub, err := b.Subscribe(ctx, "event:1")
		if err != nil {
			t.Fatalf("Failed to subscribe: %v", err)
		}

		if err := b.Close(); err != nil {
			t.Fatalf("Failed to close: %v", err)
		}
		if err := b.Close(); err != nil {
			t.Fatalf("Second close failed: %v", err)
		}

		if _, ok := <-sub.C; ok {
			t.Error("Expected channel to be closed after bus close")
		}

		// 关闭后的订阅立即返回已结束的通道
		late, err := b.Subscribe(ctx, "event:1")
		if err != nil {
			t.Fatalf("Subscribe after close failed: %v", err)
		}
		if _, ok := <-late.C; ok {
			t.Error("Expected late subscription channel to be closed")
		}
	})
}

func TestRedisBus(t *testing.T) {
	ctx := context.Background()

	newBus := func(t *testing.T) *RedisBus {
		t.Helper()
		mr := miniredis.RunT(t)
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { client.Close() })
		b := NewRedisBus(client)
		t.Cleanup(func() { b.Close() })
		return b
	}

	t.Run("publish reaches subscriber", func(t *testing.T) {
		b := newBus(t)

		sub, err := b.Subscribe(ctx, "event:1")
		if err != nil {
			t.Fatalf("Failed to subscribe: %v", err)
		}
		defer sub.Close()

		if err := b.Publish(ctx, "event:1", []byte("hello")); err != nil {
			t.Fatalf("Failed to publish: %v", err)
		}

		if got := string(recvWithin(t, sub, 2*time.Second)); got != "hello" {
			t.Errorf("Expected hello, got %q", got)
		}
	})

	t.Run("topics are isolated", func(t *testing.T) {
		b := newBus(t)

		sub, err := b.Subscribe(ctx, "event:1")
		if err != nil {
			t.Fatalf("Failed to subscribe: %v", err)
		}
		defer sub.Close()

		if err := b.Publish(ctx, "event:2", []byte("other")); err != nil {
			t.Fatalf("Failed to publish: %v", err)
		}

		select {
		case payload := <-sub.C:
			t.Errorf("Expected no cross-topic delivery, got %q", payload)
		case <-time.After(100 * time.Millisecond):
		}
	})

	t.Run("close ends subscriber channels", func(t *testing.T) {
		b := newBus(t)

		sub, err := b.Subscribe(ctx, "event:1")
		if err != nil {
			t.Fatalf("Failed to subscribe: %v", err)
		}

		if err := b.Close(); err != nil {
			t.Fatalf("Failed to close: %v", err)
		}

		select {
		case _, ok := <-sub.C:
			if ok {
				t.Error("Expected channel to be closed after bus close")
			}
		case <-time.After(2 * time.Second):
			t.Fatal("Timed out waiting for channel close")
		}
	})
}
