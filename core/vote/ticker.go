package vote

import (
	"context"
	"sync"
	"time"

	"ClubFM/logger"
	"ClubFM/model"
)

// Ticker 每场 live 事件一个后台计时循环
// 以固定周期调用 Controller.Tick 驱动时间触发的转移；
// 循环可取消：事件结束、状态过期或进程关闭时停止。
// 周期只是调度提示，转移可以因负载延迟，但绝不会提前触发。
type Ticker struct {
	ctrl     *Controller
	interval time.Duration

	mu      sync.Mutex
	cancels map[int64]context.CancelFunc
	wg      sync.WaitGroup
}

// NewTicker 创建 ticker 管理器
func NewTicker(ctrl *Controller, interval time.Duration) *Ticker {
	return &Ticker{
		ctrl:     ctrl,
		interval: interval,
		cancels:  make(map[int64]context.CancelFunc),
	}
}

// Ensure 确保指定事件的 tick 循环在运行，已在运行时为 no-op
func (t *Ticker) Ensure(eventID int64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, running := t.cancels[eventID]; running {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.cancels[eventID] = cancel

	t.wg.Add(1)
	go t.loop(ctx, eventID)

	logger.Info("ticker started", logger.Int64("event", eventID))
}

// Stop 停止指定事件的 tick 循环
func (t *Ticker) Stop(eventID int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopLocked(eventID)
}

// StopAll 停止全部循环并等待退出（进程关闭时调用）
// 进行中的那一次 tick 会被允许跑完，避免状态写到一半被丢下。
func (t *Ticker) StopAll() {
	t.mu.Lock()
	for id := range t.cancels {
		t.stopLocked(id)
	}
	t.mu.Unlock()

	t.wg.Wait()
}

// Running 当前在跑的循环数量
func (t *Ticker) Running() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.cancels)
}

func (t *Ticker) stopLocked(eventID int64) {
	if cancel, ok := t.cancels[eventID]; ok {
		cancel()
		delete(t.cancels, eventID)
		logger.Info("ticker stopped", logger.Int64("event", eventID))
	}
}

// loop 单场事件的循环体
// 单次迭代的失败被捕获并作为诊断消息发布，绝不终止循环。
func (t *Ticker) loop(ctx context.Context, eventID int64) {
	defer t.wg.Done()

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// tick 本身不用循环的 ctx：关闭时允许进行中的存储调用完成
			done, err := t.ctrl.Tick(context.Background(), eventID)
			if err != nil {
				logger.Warn("tick failed",
					logger.ErrorField(err),
					logger.Int64("event", eventID))
				t.ctrl.publish(ctx, eventID, model.TickerError{Error: err.Error()})
				continue
			}
			if done {
				t.mu.Lock()
				t.stopLocked(eventID)
				t.mu.Unlock()
				return
			}
		}
	}
}
