package vote

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"ClubFM/model"

	"github.com/go-redis/redis/v8"
)

// QueueStore 待播队列的存储层
// 队列顺序放在 List 里，成员集放 Set（入队去重的原子判据），
// 曲目 payload 单独存 JSON，票数放 Hash，
// 所有写操作都会刷新 TTL，闲置事件的全部状态到期自动清理。
type QueueStore struct {
	client *redis.Client
	ttl    time.Duration
	maxLen int64
}

// NewQueueStore 创建队列存储
func NewQueueStore(client *redis.Client, ttl time.Duration, maxLen int) *QueueStore {
	return &QueueStore{
		client: client,
		ttl:    ttl,
		maxLen: int64(maxLen),
	}
}

// Enqueue 追加一首曲目
// payload 始终覆盖写入（重复点同一首歌刷新元数据），但队列位置幂等：
// 成员集上的 SADD 是原子判据，并发重复点歌也只会产生一个槽位。
// 票数缺省初始化为 0。
func (s *QueueStore) Enqueue(ctx context.Context, eventID int64, track *model.Track) error {
	if track == nil || track.TrackID == "" {
		return ErrTrackIDRequired
	}
	if track.Title == "" {
		return ErrTitleRequired
	}
	if track.CreatedAt == 0 {
		track.CreatedAt = time.Now().Unix()
	}

	payload, err := json.Marshal(track)
	if err != nil {
		return fmt.Errorf("failed to marshal track payload: %w", err)
	}

	added, err := s.client.SAdd(ctx, queueSetKey(eventID), track.TrackID).Result()
	if err != nil {
		return fmt.Errorf("failed to claim queue slot: %w", err)
	}

	pipe := s.client.Pipeline()
	pipe.Set(ctx, trackKey(eventID, track.TrackID), payload, s.ttl)
	if added > 0 {
		pipe.RPush(ctx, queueKey(eventID), track.TrackID)
	}
	pipe.HSetNX(ctx, votesKey(eventID), track.TrackID, 0)
	pipe.Expire(ctx, queueKey(eventID), s.ttl)
	pipe.Expire(ctx, queueSetKey(eventID), s.ttl)
	pipe.Expire(ctx, votesKey(eventID), s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		// 槽位已领取但列表没写进去，回收成员让重试可以成功
		if added > 0 {
			s.client.SRem(ctx, queueSetKey(eventID), track.TrackID)
		}
		return fmt.Errorf("failed to enqueue track: %w", err)
	}

	return s.Trim(ctx, eventID)
}

// Snapshot 返回队列头部最多 limit 项，按顺序附带 payload 和当前票数
// payload 已过期/被裁剪的条目直接跳过，不返回残缺行。
func (s *QueueStore) Snapshot(ctx context.Context, eventID int64, limit int) ([]model.QueueEntry, error) {
	if limit <= 0 {
		limit = 10
	}

	ids, err := s.client.LRange(ctx, queueKey(eventID), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read queue order: %w", err)
	}
	if len(ids) == 0 {
		return []model.QueueEntry{}, nil
	}

	entries := make([]model.QueueEntry, 0, len(ids))
	for _, id := range ids {
		track, err := s.LoadTrack(ctx, eventID, id)
		if err != nil {
			return nil, err
		}
		if track == nil {
			continue
		}

		votes, err := s.client.HGet(ctx, votesKey(eventID), id).Int64()
		if err != nil && err != redis.Nil {
			return nil, fmt.Errorf("failed to read vote count: %w", err)
		}

		entries = append(entries, model.QueueEntry{Track: *track, Votes: votes})
	}
	return entries, nil
}

// Trim 队列超出上限时从头部裁剪，连带清理被裁曲目的 payload 和票数
func (s *QueueStore) Trim(ctx context.Context, eventID int64) error {
	for {
		length, err := s.client.LLen(ctx, queueKey(eventID)).Result()
		if err != nil {
			return fmt.Errorf("failed to read queue length: %w", err)
		}
		if length <= s.maxLen {
			return nil
		}

		popped, err := s.client.LPop(ctx, queueKey(eventID)).Result()
		if err != nil {
			if err == redis.Nil {
				return nil
			}
			return fmt.Errorf("failed to trim queue: %w", err)
		}

		pipe := s.client.Pipeline()
		pipe.Del(ctx, trackKey(eventID, popped))
		pipe.HDel(ctx, votesKey(eventID), popped)
		pipe.SRem(ctx, queueSetKey(eventID), popped)
		if _, err := pipe.Exec(ctx); err != nil {
			return fmt.Errorf("failed to evict trimmed track: %w", err)
		}
	}
}

// Len 队列当前长度
func (s *QueueStore) Len(ctx context.Context, eventID int64) (int64, error) {
	return s.client.LLen(ctx, queueKey(eventID)).Result()
}

// LoadTrack 读取曲目 payload，不存在返回 nil
func (s *QueueStore) LoadTrack(ctx context.Context, eventID int64, trackID string) (*model.Track, error) {
	raw, err := s.client.Get(ctx, trackKey(eventID, trackID)).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load track payload: %w", err)
	}

	var track model.Track
	if err := json.Unmarshal([]byte(raw), &track); err != nil {
		// payload 损坏时退化为只有 id 的占位曲目
		return &model.Track{TrackID: trackID}, nil
	}
	return &track, nil
}
