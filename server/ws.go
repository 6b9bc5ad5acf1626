package server

import (
	"net/http"
	"time"

	"ClubFM/core/vote"
	"ClubFM/logger"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

var wsUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

const (
	wsWriteTimeout = 10 * time.Second
	wsPingPeriod   = 30 * time.Second
	wsPongTimeout  = 60 * time.Second
)

// WSEventHandler 实时网关
// 订阅事件对应的总线 topic，把每条转移通知原样推给客户端，直到断开。
// 无论哪条路径退出（客户端断开、总线关闭、写失败），订阅都保证被释放。
func (h *APIHandler) WSEventHandler(w http.ResponseWriter, r *http.Request) {
	eventID, err := eventIDFromRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid-event-id")
		return
	}

	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error("websocket upgrade failed", logger.ErrorField(err))
		return
	}
	defer conn.Close()

	sub, err := h.ctrl.Bus().Subscribe(r.Context(), vote.EventTopic(eventID))
	if err != nil {
		logger.Error("failed to subscribe", logger.ErrorField(err), logger.Int64("event", eventID))
		return
	}
	defer sub.Close()

	connID := uuid.NewString()
	logger.Info("ws client connected",
		logger.Int64("event", eventID),
		logger.String("conn", connID))
	defer logger.Info("ws client disconnected",
		logger.Int64("event", eventID),
		logger.String("conn", connID))

	// 读循环只负责探测断开，客户端发来的内容一律忽略
	done := make(chan struct{})
	go func() {
		defer close(done)
		conn.SetReadLimit(1024)
		conn.SetReadDeadline(time.Now().Add(wsPongTimeout))
		conn.SetPongHandler(func(string) error {
			conn.SetReadDeadline(time.Now().Add(wsPongTimeout))
			return nil
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	pingTicker := time.NewTicker(wsPingPeriod)
	defer pingTicker.Stop()

	for {
		select {
		case payload, ok := <-sub.C:
			if !ok {
				// 总线关闭
				conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}

		case <-pingTicker.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-done:
			return
		}
	}
}
