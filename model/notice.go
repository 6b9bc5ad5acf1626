package model

import "encoding/json"

// NoticeType 实时转播消息类型
type NoticeType string

const (
	NoticeEventLive     NoticeType = "event_live"     // 事件开始直播
	NoticeQueueAdded    NoticeType = "queue_added"    // 队列新增曲目
	NoticeVotingOpen    NoticeType = "voting_open"    // 投票窗口打开
	NoticeVote          NoticeType = "vote"           // 有人投票（携带最新票数）
	NoticeVotingClosed  NoticeType = "voting_closed"  // 投票窗口关闭
	NoticeTrackStarted  NoticeType = "track_started"  // 曲目开始播放
	NoticeTrackFinished NoticeType = "track_finished" // 曲目播放结束
	NoticeQueueEmpty    NoticeType = "queue_empty"    // 队列已空，等待点歌
	NoticeEventEnded    NoticeType = "event_ended"    // 事件结束（终态）
	NoticeTickerError   NoticeType = "ticker_error"   // ticker 单次迭代失败的诊断消息
)

// Notice 一条状态转移通知
// 封闭的变体集合：每个具体类型对应上面一个 NoticeType，
// 控制器发布的每条消息都由 EncodeNotice 序列化成扁平 JSON，
// 网关原样转发给所有订阅的客户端。
type Notice interface {
	NoticeType() NoticeType
}

// EventLive 事件进入 live 状态
type EventLive struct{}

func (EventLive) NoticeType() NoticeType { return NoticeEventLive }

// QueueAdded 新曲目入队
type QueueAdded struct {
	TrackID string `json:"track_id"`
}

func (QueueAdded) NoticeType() NoticeType { return NoticeQueueAdded }

// VotingOpen 新一轮投票开始
type VotingOpen struct {
	CandidateIDs []string `json:"candidate_ids"`
	VoteClosesAt int64    `json:"vote_closes_at"`
}

func (VotingOpen) NoticeType() NoticeType { return NoticeVotingOpen }

// VoteCast 某候选曲目的票数更新
type VoteCast struct {
	TrackID string `json:"track_id"`
	Votes   int64  `json:"votes"`
}

func (VoteCast) NoticeType() NoticeType { return NoticeVote }

// VotingClosed 投票窗口关闭
type VotingClosed struct{}

func (VotingClosed) NoticeType() NoticeType { return NoticeVotingClosed }

// TrackStarted 胜出曲目开始播放
type TrackStarted struct {
	Track  *Track `json:"track"`
	EndsAt int64  `json:"ends_at"`
	Reason string `json:"reason"` // voted_winner / single_track / fallback_first
}

func (TrackStarted) NoticeType() NoticeType { return NoticeTrackStarted }

// TrackFinished 当前曲目播放完毕并已出队
type TrackFinished struct {
	TrackID string `json:"track_id"`
}

func (TrackFinished) NoticeType() NoticeType { return NoticeTrackFinished }

// QueueEmpty 队列耗尽
type QueueEmpty struct{}

func (QueueEmpty) NoticeType() NoticeType { return NoticeQueueEmpty }

// EventEnded 事件结束
type EventEnded struct{}

func (EventEnded) NoticeType() NoticeType { return NoticeEventEnded }

// TickerError ticker 迭代失败诊断
type TickerError struct {
	Error string `json:"error"`
}

func (TickerError) NoticeType() NoticeType { return NoticeTickerError }

// EncodeNotice 序列化为携带 type 判别字段的扁平 JSON 对象
func EncodeNotice(n Notice) ([]byte, error) {
	raw, err := json.Marshal(n)
	if err != nil {
		return nil, err
	}

	flat := make(map[string]interface{})
	if err := json.Unmarshal(raw, &flat); err != nil {
		return nil, err
	}
	flat["type"] = string(n.NoticeType())

	return json.Marshal(flat)
}
