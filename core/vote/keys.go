package vote

import "fmt"

// 事件级键命名空间
// 事件之间的隔离完全依赖键前缀，不同事件绝不会竞争同一个键。
const (
	eventStateKey      = "event:%d:state"        // Hash: 实时状态
	eventQueueKey      = "event:%d:queue:order"  // List: track_id 按入队顺序
	eventQueueSetKey   = "event:%d:queue:set"    // Set: 队列成员，入队去重的原子判据
	eventTrackKey      = "event:%d:track:%s"     // String: 曲目 payload JSON
	eventVotesKey      = "event:%d:votes"        // Hash: track_id -> 当前轮票数
	eventCandidatesKey = "event:%d:candidates"   // List: 本轮候选 track_id（开窗时快照）
	eventVotedKey      = "event:%d:voted:%d:%d"  // String: (窗口, 用户) 已投票标记
	eventFenceKey      = "event:%d:fence:%s:%d"  // String: 状态转移去重栅栏
)

func stateKey(eventID int64) string {
	return fmt.Sprintf(eventStateKey, eventID)
}

func queueKey(eventID int64) string {
	return fmt.Sprintf(eventQueueKey, eventID)
}

func queueSetKey(eventID int64) string {
	return fmt.Sprintf(eventQueueSetKey, eventID)
}

func trackKey(eventID int64, trackID string) string {
	return fmt.Sprintf(eventTrackKey, eventID, trackID)
}

func votesKey(eventID int64) string {
	return fmt.Sprintf(eventVotesKey, eventID)
}

func candidatesKey(eventID int64) string {
	return fmt.Sprintf(eventCandidatesKey, eventID)
}

// votedKey 的键里带上窗口的关闭时间，新窗口天然不会继承上一轮的标记
func votedKey(eventID, closesAt, userID int64) string {
	return fmt.Sprintf(eventVotedKey, eventID, closesAt, userID)
}

// fenceKey 转移栅栏：同一个截止时间只允许一个 ticker 实例执行转移
func fenceKey(eventID int64, kind string, deadline int64) string {
	return fmt.Sprintf(eventFenceKey, eventID, kind, deadline)
}

// EventTopic 事件在总线上的 topic
func EventTopic(eventID int64) string {
	return fmt.Sprintf("event:%d", eventID)
}
