package server

import (
	"net/http"

	"github.com/gorilla/mux"
)

// NewRouter 组装路由
func NewRouter(h *APIHandler) *mux.Router {
	router := mux.NewRouter()

	// 添加 CORS 中间件
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			w.Header().Set("Access-Control-Max-Age", "86400") // 24 hours

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}

			next.ServeHTTP(w, r)
		})
	})

	// 曲库搜索（点歌前预填元数据）
	router.HandleFunc("/api/search", h.SearchHandler).Methods(http.MethodGet)

	// 只读快照直接走存储
	router.HandleFunc("/api/events/{event_id}/queue", h.QueueHandler).Methods(http.MethodGet)
	router.HandleFunc("/api/events/{event_id}/state", h.StateHandler).Methods(http.MethodGet)

	// 用户动作需要认证
	router.HandleFunc("/api/events/{event_id}/suggest", h.AuthMiddleware(h.SuggestHandler)).Methods(http.MethodPost)
	router.HandleFunc("/api/events/{event_id}/vote", h.AuthMiddleware(h.VoteHandler)).Methods(http.MethodPost)

	// 主办方控制
	router.HandleFunc("/api/events/{event_id}/start", h.AuthMiddleware(h.StartHandler)).Methods(http.MethodPost)
	router.HandleFunc("/api/events/{event_id}/end", h.AuthMiddleware(h.EndHandler)).Methods(http.MethodPost)

	// 实时网关
	router.HandleFunc("/ws/events/{event_id}", h.WSEventHandler).Methods(http.MethodGet)

	return router
}
