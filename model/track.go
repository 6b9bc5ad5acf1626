package model

import "strconv"

// Track 直播队列中的一首候选曲目
// 只存在于 Redis（JSON payload），不落库；track_id 在一场事件内唯一，
// 可以来自外部曲库（如 "deezer:123"），也可以由服务端合成。
type Track struct {
	TrackID     string `json:"track_id"`
	Title       string `json:"title"`
	Artist      string `json:"artist,omitempty"`
	CoverURL    string `json:"cover_url,omitempty"`
	DurationSec int    `json:"duration_sec,omitempty"`
	SuggestedBy int64  `json:"suggested_by,omitempty"`
	CreatedAt   int64  `json:"created_at,omitempty"`
}

// QueueEntry 队列快照中的一项：曲目 payload 加上当前轮次的票数
type QueueEntry struct {
	Track
	Votes int64 `json:"votes"`
}

// ========== 事件实时状态（Redis Hash） ==========

// 事件状态
const (
	StatusNotStarted = "not_started"
	StatusLive       = "live"
	StatusEnded      = "ended"
)

// LiveState 一场事件的实时状态，对应 event:{id}:state 哈希
// 不变量: VotingOpen 为 true 时 Status 必为 live；
// CurrentTrackID 非空时 TrackEndsAt > TrackStartedAt。
type LiveState struct {
	Status         string `json:"status"`
	CurrentTrackID string `json:"current_track_id"`
	TrackStartedAt int64  `json:"track_started_at"`
	TrackEndsAt    int64  `json:"track_ends_at"`
	VotingOpen     bool   `json:"voting_open"`
	VoteClosesAt   int64  `json:"vote_closes_at"`
	UpdatedAt      int64  `json:"updated_at"`
}

// ParseLiveState 从 Redis 哈希字段解析实时状态
// 哈希不存在（空 map）时返回 not_started。
func ParseLiveState(fields map[string]string) *LiveState {
	if len(fields) == 0 {
		return &LiveState{Status: StatusNotStarted}
	}
	return &LiveState{
		Status:         fields["status"],
		CurrentTrackID: fields["current_track_id"],
		TrackStartedAt: parseInt64(fields["track_started_at"]),
		TrackEndsAt:    parseInt64(fields["track_ends_at"]),
		VotingOpen:     fields["voting_open"] == "1",
		VoteClosesAt:   parseInt64(fields["vote_closes_at"]),
		UpdatedAt:      parseInt64(fields["updated_at"]),
	}
}

// IsPlaying 当前是否有曲目在播放
func (s *LiveState) IsPlaying() bool {
	return s.CurrentTrackID != "" && s.TrackEndsAt > 0
}

func parseInt64(s string) int64 {
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return v
}
