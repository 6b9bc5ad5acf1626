package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"ClubFM/config"
	"ClubFM/core/auth"
	"ClubFM/core/search"
	"ClubFM/core/vote"
	"ClubFM/logger"
	"ClubFM/model"

	"github.com/gorilla/mux"
)

// APIHandler 处理所有API请求
type APIHandler struct {
	ctrl         *vote.Controller
	ticker       *vote.Ticker
	searchClient *search.Client
	cfg          *config.Config
}

// NewAPIHandler 创建新的API处理器
func NewAPIHandler(ctrl *vote.Controller, ticker *vote.Ticker, searchClient *search.Client, cfg *config.Config) *APIHandler {
	return &APIHandler{
		ctrl:         ctrl,
		ticker:       ticker,
		searchClient: searchClient,
		cfg:          cfg,
	}
}

// SuggestRequest 点歌请求体
type SuggestRequest struct {
	TrackID     string `json:"track_id"`
	Title       string `json:"title"`
	Artist      string `json:"artist"`
	CoverURL    string `json:"cover_url"`
	DurationSec int    `json:"duration_sec"`
}

// VoteRequest 投票请求体
type VoteRequest struct {
	TrackID string `json:"track_id"`
}

// SuggestHandler 点歌：入队并在需要时自动把事件拉起来
func (h *APIHandler) SuggestHandler(w http.ResponseWriter, r *http.Request) {
	eventID, err := eventIDFromRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid-event-id")
		return
	}

	userID, err := GetUserIDFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req SuggestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid-body")
		return
	}

	// 点歌自动开播
	if err := h.ctrl.StartIfNeeded(r.Context(), eventID); err != nil {
		logger.Error("failed to start event", logger.ErrorField(err), logger.Int64("event", eventID))
		writeError(w, http.StatusInternalServerError, "internal")
		return
	}
	h.ticker.Ensure(eventID)

	title := strings.TrimSpace(req.Title)

	// 外部曲库没给 id 时合成一个稳定的
	trackID := strings.TrimSpace(req.TrackID)
	if trackID == "" {
		trackID = fmt.Sprintf("user:%d:%s", userID, strings.ToLower(title))
	}

	track := &model.Track{
		TrackID:     trackID,
		Title:       title,
		Artist:      strings.TrimSpace(req.Artist),
		CoverURL:    req.CoverURL,
		DurationSec: req.DurationSec,
		SuggestedBy: userID,
	}

	if err := h.ctrl.Suggest(r.Context(), eventID, track); err != nil {
		h.writeVoteError(w, err, eventID)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true, "track_id": trackID})
}

// VoteHandler 为当前窗口内的候选曲目投票
func (h *APIHandler) VoteHandler(w http.ResponseWriter, r *http.Request) {
	eventID, err := eventIDFromRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid-event-id")
		return
	}

	userID, err := GetUserIDFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req VoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid-body")
		return
	}
	if req.TrackID == "" {
		writeError(w, http.StatusBadRequest, "track-id-required")
		return
	}

	if err := h.ctrl.Vote(r.Context(), eventID, userID, req.TrackID); err != nil {
		h.writeVoteError(w, err, eventID)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true})
}

// QueueHandler 队列快照（直接读存储，不经过总线）
func (h *APIHandler) QueueHandler(w http.ResponseWriter, r *http.Request) {
	eventID, err := eventIDFromRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid-event-id")
		return
	}

	limit := 10
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}

	entries, err := h.ctrl.Queue().Snapshot(r.Context(), eventID, limit)
	if err != nil {
		logger.Error("failed to snapshot queue", logger.ErrorField(err), logger.Int64("event", eventID))
		writeError(w, http.StatusInternalServerError, "internal")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"items": entries})
}

// StateHandler 实时状态
func (h *APIHandler) StateHandler(w http.ResponseWriter, r *http.Request) {
	eventID, err := eventIDFromRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid-event-id")
		return
	}

	st, err := h.ctrl.State(r.Context(), eventID)
	if err != nil {
		logger.Error("failed to read state", logger.ErrorField(err), logger.Int64("event", eventID))
		writeError(w, http.StatusInternalServerError, "internal")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"state": st})
}

// StartHandler 手动开播
func (h *APIHandler) StartHandler(w http.ResponseWriter, r *http.Request) {
	eventID, err := eventIDFromRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid-event-id")
		return
	}

	if err := h.ctrl.StartIfNeeded(r.Context(), eventID); err != nil {
		logger.Error("failed to start event", logger.ErrorField(err), logger.Int64("event", eventID))
		writeError(w, http.StatusInternalServerError, "internal")
		return
	}
	h.ticker.Ensure(eventID)

	writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true})
}

// EndHandler 结束事件
func (h *APIHandler) EndHandler(w http.ResponseWriter, r *http.Request) {
	eventID, err := eventIDFromRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid-event-id")
		return
	}

	if err := h.ctrl.End(r.Context(), eventID); err != nil {
		logger.Error("failed to end event", logger.ErrorField(err), logger.Int64("event", eventID))
		writeError(w, http.StatusInternalServerError, "internal")
		return
	}
	h.ticker.Stop(eventID)

	writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true})
}

// SearchHandler 曲库搜索，用于点歌前预填元数据
func (h *APIHandler) SearchHandler(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	limit := 10
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}

	results, err := h.searchClient.Search(r.Context(), query, limit)
	if err != nil {
		logger.Error("search failed", logger.ErrorField(err), logger.String("query", query))
		writeError(w, http.StatusBadGateway, "search-unavailable")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"items": results})
}

// writeVoteError 把运行时错误映射为带原因码的响应
func (h *APIHandler) writeVoteError(w http.ResponseWriter, err error, eventID int64) {
	switch {
	case vote.IsValidation(err):
		writeError(w, http.StatusBadRequest, vote.Reason(err))
	case vote.IsConflict(err):
		writeError(w, http.StatusConflict, vote.Reason(err))
	default:
		logger.Error("runtime operation failed", logger.ErrorField(err), logger.Int64("event", eventID))
		writeError(w, http.StatusInternalServerError, "internal")
	}
}

// AuthMiddleware is a middleware function that checks for a valid JWT token
func (h *APIHandler) AuthMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			writeError(w, http.StatusUnauthorized, "authorization-required")
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			writeError(w, http.StatusUnauthorized, "invalid-authorization-header")
			return
		}

		claims, err := auth.ParseToken(parts[1])
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid-token")
			return
		}

		ctx := context.WithValue(r.Context(), userIDContextKey, claims.UserID)
		next.ServeHTTP(w, r.WithContext(ctx))
	}
}

type contextKey string

const userIDContextKey contextKey = "userID"

// GetUserIDFromContext extracts the user ID from the request context
func GetUserIDFromContext(ctx context.Context) (int64, error) {
	userID, ok := ctx.Value(userIDContextKey).(int64)
	if !ok {
		return 0, fmt.Errorf("user ID not found in context")
	}
	return userID, nil
}

func eventIDFromRequest(r *http.Request) (int64, error) {
	vars := mux.Vars(r)
	return strconv.ParseInt(vars["event_id"], 10, 64)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Warn("failed to write response", logger.ErrorField(err))
	}
}

func writeError(w http.ResponseWriter, status int, reason string) {
	writeJSON(w, status, map[string]interface{}{"error": reason})
}
