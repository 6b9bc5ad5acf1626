package vote

import (
	"context"
	"fmt"
	"time"

	"ClubFM/config"
	"ClubFM/core/bus"
	"ClubFM/logger"
	"ClubFM/model"

	"github.com/go-redis/redis/v8"
)

// Controller 单场事件的轮次状态机
// 状态: not_started -> live -> ended（终态）。live 内部循环:
// 空闲 -> 投票窗口（队列头部最多 N 个候选，固定时长）-> 播放 -> 空闲，
// 直到队列耗尽或事件被结束。所有状态都在 Redis 里，进程内不持有权威数据，
// 每次状态转移都会向事件对应的总线 topic 发布一条通知。
type Controller struct {
	client *redis.Client
	bus    bus.Bus
	queue  *QueueStore
	cfg    *config.Config

	// 墙钟（epoch 秒），测试中可替换
	now func() int64
}

// NewController 创建轮次控制器
func NewController(client *redis.Client, b bus.Bus, queue *QueueStore, cfg *config.Config) *Controller {
	return &Controller{
		client: client,
		bus:    b,
		queue:  queue,
		cfg:    cfg,
		now:    func() int64 { return time.Now().Unix() },
	}
}

// Queue 暴露队列存储（只读快照请求不经过控制器）
func (c *Controller) Queue() *QueueStore {
	return c.queue
}

// Bus 暴露事件总线（网关订阅用）
func (c *Controller) Bus() bus.Bus {
	return c.bus
}

// State 读取事件实时状态
func (c *Controller) State(ctx context.Context, eventID int64) (*model.LiveState, error) {
	fields, err := c.client.HGetAll(ctx, stateKey(eventID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read event state: %w", err)
	}
	return model.ParseLiveState(fields), nil
}

// StartIfNeeded 事件尚未开始时切到 live 并立刻尝试推进
// 已经 live 或 ended 时为 no-op。
func (c *Controller) StartIfNeeded(ctx context.Context, eventID int64) error {
	st, err := c.State(ctx, eventID)
	if err != nil {
		return err
	}
	if st.Status == model.StatusLive || st.Status == model.StatusEnded {
		return nil
	}

	now := c.now()
	pipe := c.client.Pipeline()
	pipe.HSet(ctx, stateKey(eventID), map[string]interface{}{
		"status":           model.StatusLive,
		"current_track_id": "",
		"track_started_at": "0",
		"track_ends_at":    "0",
		"vote_closes_at":   "0",
		"voting_open":      "0",
		"updated_at":       fmt.Sprintf("%d", now),
	})
	pipe.Expire(ctx, stateKey(eventID), c.cfg.StateTTL())
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to mark event live: %w", err)
	}

	c.publish(ctx, eventID, model.EventLive{})

	return c.Advance(ctx, eventID)
}

// End 结束事件（终态），关闭未完成的投票
func (c *Controller) End(ctx context.Context, eventID int64) error {
	pipe := c.client.Pipeline()
	pipe.HSet(ctx, stateKey(eventID), map[string]interface{}{
		"status":      model.StatusEnded,
		"voting_open": "0",
		"updated_at":  fmt.Sprintf("%d", c.now()),
	})
	pipe.Expire(ctx, stateKey(eventID), c.cfg.StateTTL())
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to end event: %w", err)
	}

	c.publish(ctx, eventID, model.EventEnded{})
	return nil
}

// Suggest 点歌：入队并广播，事件处于 live 且空闲时顺带推进轮次
// （队列曾经耗尽后，新点的歌不应该等人手动捅一下才开播）
func (c *Controller) Suggest(ctx context.Context, eventID int64, track *model.Track) error {
	if err := c.queue.Enqueue(ctx, eventID, track); err != nil {
		return err
	}

	c.publish(ctx, eventID, model.QueueAdded{TrackID: track.TrackID})

	st, err := c.State(ctx, eventID)
	if err != nil {
		return err
	}
	if st.Status == model.StatusLive && !st.VotingOpen && st.CurrentTrackID == "" {
		return c.Advance(ctx, eventID)
	}
	return nil
}

// Vote 在当前窗口内为候选曲目投一票
// 每用户每窗口至多一票，由 SET NX EX 原子保证；先查再写是竞态，这里不存在。
func (c *Controller) Vote(ctx context.Context, eventID, userID int64, trackID string) error {
	st, err := c.State(ctx, eventID)
	if err != nil {
		return err
	}
	if st.Status != model.StatusLive {
		return ErrNotLive
	}
	if !st.VotingOpen {
		return ErrVotingClosed
	}

	candidates, err := c.client.LRange(ctx, candidatesKey(eventID), 0, -1).Result()
	if err != nil {
		return fmt.Errorf("failed to read candidates: %w", err)
	}
	found := false
	for _, id := range candidates {
		if id == trackID {
			found = true
			break
		}
	}
	if !found {
		return ErrNotCandidate
	}

	ok, err := c.client.SetNX(ctx, votedKey(eventID, st.VoteClosesAt, userID), "1", c.cfg.StateTTL()).Result()
	if err != nil {
		return fmt.Errorf("failed to set vote marker: %w", err)
	}
	if !ok {
		return ErrAlreadyVoted
	}

	votes, err := c.client.HIncrBy(ctx, votesKey(eventID), trackID, 1).Result()
	if err != nil {
		return fmt.Errorf("failed to increment vote count: %w", err)
	}

	c.publish(ctx, eventID, model.VoteCast{TrackID: trackID, Votes: votes})
	return nil
}

// Advance 核心转移函数：由 ticker 和 start/suggest 触发
// 队列空 -> 清空当前曲目并广播 queue_empty；
// 恰好一个候选 -> 跳过投票直接开播（单曲快速路径）；
// 两个以上 -> 重置票数和候选集，打开固定时长的投票窗口。
func (c *Controller) Advance(ctx context.Context, eventID int64) error {
	st, err := c.State(ctx, eventID)
	if err != nil {
		return err
	}
	if st.Status == model.StatusEnded {
		return nil
	}

	qlen, err := c.queue.Len(ctx, eventID)
	if err != nil {
		return fmt.Errorf("failed to read queue length: %w", err)
	}
	if qlen <= 0 {
		pipe := c.client.Pipeline()
		pipe.HSet(ctx, stateKey(eventID), map[string]interface{}{
			"current_track_id": "",
			"updated_at":       fmt.Sprintf("%d", c.now()),
		})
		pipe.Expire(ctx, stateKey(eventID), c.cfg.StateTTL())
		if _, err := pipe.Exec(ctx); err != nil {
			return fmt.Errorf("failed to clear current track: %w", err)
		}
		c.publish(ctx, eventID, model.QueueEmpty{})
		return nil
	}

	candidates, err := c.prepareCandidates(ctx, eventID)
	if err != nil {
		return err
	}

	if len(candidates) == 1 {
		return c.setCurrentTrack(ctx, eventID, candidates[0], "single_track")
	}

	// 重置上一轮票数，打开新窗口
	if err := c.client.Del(ctx, votesKey(eventID)).Err(); err != nil {
		return fmt.Errorf("failed to reset vote tally: %w", err)
	}

	closesAt := c.now() + int64(c.cfg.VoteWindowSec)
	pipe := c.client.Pipeline()
	pipe.HSet(ctx, stateKey(eventID), map[string]interface{}{
		"voting_open":    "1",
		"vote_closes_at": fmt.Sprintf("%d", closesAt),
		"updated_at":     fmt.Sprintf("%d", c.now()),
	})
	pipe.Expire(ctx, stateKey(eventID), c.cfg.StateTTL())
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to open voting window: %w", err)
	}

	c.publish(ctx, eventID, model.VotingOpen{CandidateIDs: candidates, VoteClosesAt: closesAt})
	return nil
}

// Tick 单次重估：检查计时器并执行到期的转移
// 返回 done=true 表示事件已结束或状态已过期，ticker 可以停了。
// 多个 ticker 实例竞争同一个转移时由 SETNX 栅栏去重，输家直接放弃；
// 转移执行失败时栅栏立即归还，下个周期重试。
func (c *Controller) Tick(ctx context.Context, eventID int64) (bool, error) {
	fields, err := c.client.HGetAll(ctx, stateKey(eventID)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to read event state: %w", err)
	}
	if len(fields) == 0 {
		// 状态已 TTL 过期
		return true, nil
	}

	st := model.ParseLiveState(fields)
	if st.Status == model.StatusEnded {
		return true, nil
	}
	if st.Status != model.StatusLive {
		return false, nil
	}

	now := c.now()

	// 1) 投票窗口到期 -> 关窗并选出胜者
	if st.VotingOpen && st.VoteClosesAt > 0 && now >= st.VoteClosesAt {
		ok, err := c.acquireFence(ctx, eventID, "close", st.VoteClosesAt)
		if err != nil || !ok {
			return false, err
		}
		if err := c.closeVotingAndElect(ctx, eventID); err != nil {
			c.releaseFence(ctx, eventID, "close", st.VoteClosesAt)
			return false, err
		}
		return false, nil
	}

	// 2) 当前曲目播完 -> 弹出队头（胜者开播时已被挪到队头），再推进下一轮
	if !st.VotingOpen && st.CurrentTrackID != "" && st.TrackEndsAt > 0 && now >= st.TrackEndsAt {
		ok, err := c.acquireFence(ctx, eventID, "finish", st.TrackEndsAt)
		if err != nil || !ok {
			return false, err
		}
		if err := c.finishTrack(ctx, eventID, st.CurrentTrackID); err != nil {
			c.releaseFence(ctx, eventID, "finish", st.TrackEndsAt)
			return false, err
		}
		return false, nil
	}

	return false, nil
}

// finishTrack 播完的曲目出队（同步清掉成员集，之后可以再次点它），推进下一轮
func (c *Controller) finishTrack(ctx context.Context, eventID int64, trackID string) error {
	popped, err := c.client.LPop(ctx, queueKey(eventID)).Result()
	if err != nil && err != redis.Nil {
		return fmt.Errorf("failed to pop finished track: %w", err)
	}
	if err == nil {
		if err := c.client.SRem(ctx, queueSetKey(eventID), popped).Err(); err != nil {
			return fmt.Errorf("failed to release queue slot: %w", err)
		}
	}
	c.publish(ctx, eventID, model.TrackFinished{TrackID: trackID})
	return c.Advance(ctx, eventID)
}

// closeVotingAndElect 关闭窗口并确定胜者
// 胜者 = 票数严格最高的候选；平票取候选列表中最靠前的（即队列顺序）；
// 候选集为空时兜底取队头。
func (c *Controller) closeVotingAndElect(ctx context.Context, eventID int64) error {
	pipe := c.client.Pipeline()
	pipe.HSet(ctx, stateKey(eventID), map[string]interface{}{
		"voting_open": "0",
		"updated_at":  fmt.Sprintf("%d", c.now()),
	})
	pipe.Expire(ctx, stateKey(eventID), c.cfg.StateTTL())
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to close voting window: %w", err)
	}
	c.publish(ctx, eventID, model.VotingClosed{})

	candidates, err := c.client.LRange(ctx, candidatesKey(eventID), 0, -1).Result()
	if err != nil {
		return fmt.Errorf("failed to read candidates: %w", err)
	}

	if len(candidates) == 0 {
		first, err := c.client.LIndex(ctx, queueKey(eventID), 0).Result()
		if err != nil {
			if err == redis.Nil {
				return nil
			}
			return fmt.Errorf("failed to read queue head: %w", err)
		}
		return c.setCurrentTrack(ctx, eventID, first, "fallback_first")
	}

	winner, err := c.pickWinner(ctx, eventID, candidates)
	if err != nil {
		return err
	}
	return c.setCurrentTrack(ctx, eventID, winner, "voted_winner")
}

// pickWinner 按票数选胜者，没人投票时返回第一个候选
func (c *Controller) pickWinner(ctx context.Context, eventID int64, candidates []string) (string, error) {
	tallies, err := c.client.HMGet(ctx, votesKey(eventID), candidates...).Result()
	if err != nil {
		return "", fmt.Errorf("failed to read vote tally: %w", err)
	}

	winner := candidates[0]
	best := int64(-1)
	for i, id := range candidates {
		var v int64
		if i < len(tallies) && tallies[i] != nil {
			if s, ok := tallies[i].(string); ok {
				v = parseCount(s)
			}
		}
		// 严格大于才换人，平票保持更靠前的候选
		if v > best {
			best = v
			winner = id
		}
	}
	return winner, nil
}

// setCurrentTrack 把胜者提升为当前播放曲目
// 胜者被挪到队头（LREM + LPUSH），曲目播完后只需 LPOP。
// vote_closes_at 预写为下一窗口的提前关闭时刻 max(now, ends-30s)。
func (c *Controller) setCurrentTrack(ctx context.Context, eventID int64, trackID, reason string) error {
	track, err := c.queue.LoadTrack(ctx, eventID, trackID)
	if err != nil {
		return err
	}
	if track == nil {
		track = &model.Track{TrackID: trackID}
	}

	dur := track.DurationSec
	if dur <= 0 {
		dur = c.cfg.DefaultTrackSec
	}

	now := c.now()
	endsAt := now + int64(dur)
	voteClosesAt := endsAt - int64(c.cfg.VoteCloseEarlySec)
	if voteClosesAt < now {
		voteClosesAt = now
	}

	pipe := c.client.Pipeline()
	pipe.HSet(ctx, stateKey(eventID), map[string]interface{}{
		"current_track_id": trackID,
		"track_started_at": fmt.Sprintf("%d", now),
		"track_ends_at":    fmt.Sprintf("%d", endsAt),
		"vote_closes_at":   fmt.Sprintf("%d", voteClosesAt),
		"voting_open":      "0",
		"updated_at":       fmt.Sprintf("%d", now),
	})
	pipe.Expire(ctx, stateKey(eventID), c.cfg.StateTTL())
	pipe.LRem(ctx, queueKey(eventID), 0, trackID)
	pipe.LPush(ctx, queueKey(eventID), trackID)
	pipe.Expire(ctx, queueKey(eventID), c.cfg.StateTTL())
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to promote track: %w", err)
	}

	c.publish(ctx, eventID, model.TrackStarted{Track: track, EndsAt: endsAt, Reason: reason})
	return nil
}

// prepareCandidates 把队列头部最多 N 个曲目快照为本轮候选
// 窗口打开后队列再怎么变，候选集保持不动。
func (c *Controller) prepareCandidates(ctx context.Context, eventID int64) ([]string, error) {
	ids, err := c.client.LRange(ctx, queueKey(eventID), 0, int64(c.cfg.CandidateCount-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to snapshot candidates: %w", err)
	}
	if len(ids) == 0 {
		return ids, nil
	}

	members := make([]interface{}, len(ids))
	for i, id := range ids {
		members[i] = id
	}

	pipe := c.client.Pipeline()
	pipe.Del(ctx, candidatesKey(eventID))
	pipe.RPush(ctx, candidatesKey(eventID), members...)
	pipe.Expire(ctx, candidatesKey(eventID), c.cfg.StateTTL())
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to store candidates: %w", err)
	}
	return ids, nil
}

// acquireFence 为一次到期转移抢占执行权
// 键里带截止时间，同一次转移只会被一个竞争者执行。
func (c *Controller) acquireFence(ctx context.Context, eventID int64, kind string, deadline int64) (bool, error) {
	ok, err := c.client.SetNX(ctx, fenceKey(eventID, kind, deadline), "1", 2*time.Minute).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire transition fence: %w", err)
	}
	return ok, nil
}

// releaseFence 转移失败时归还栅栏，下一次 tick 可以立刻重试，
// 不必等 TTL 自然过期
func (c *Controller) releaseFence(ctx context.Context, eventID int64, kind string, deadline int64) {
	if err := c.client.Del(ctx, fenceKey(eventID, kind, deadline)).Err(); err != nil {
		logger.Warn("failed to release transition fence",
			logger.ErrorField(err),
			logger.Int64("event", eventID),
			logger.String("kind", kind))
	}
}

// publish 发布状态转移通知，尽力而为：失败只记日志，绝不让发布拖垮转移
func (c *Controller) publish(ctx context.Context, eventID int64, n model.Notice) {
	payload, err := model.EncodeNotice(n)
	if err != nil {
		logger.Error("failed to encode notice",
			logger.ErrorField(err),
			logger.Int64("event", eventID),
			logger.String("notice", string(n.NoticeType())))
		return
	}
	if err := c.bus.Publish(ctx, EventTopic(eventID), payload); err != nil {
		logger.Warn("failed to publish notice",
			logger.ErrorField(err),
			logger.Int64("event", eventID),
			logger.String("notice", string(n.NoticeType())))
	}
}

func parseCount(s string) int64 {
	var v int64
	_, err := fmt.Sscanf(s, "%d", &v)
	if err != nil {
		return 0
	}
	return v
}
