package vote

import (
	"context"
	"sync"
	"testing"
	"time"

	"ClubFM/model"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
)

func newTestQueue(t *testing.T, maxLen int) (*QueueStore, *redis.Client) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return NewQueueStore(client, 12*time.Hour, maxLen), client
}

func TestQueueStoreEnqueue(t *testing.T) {
	ctx := context.Background()

	t.Run("rejects missing track id", func(t *testing.T) {
		q, _ := newTestQueue(t, 200)

		err := q.Enqueue(ctx, 1, &model.Track{Title: "Song"})
		if err != ErrTrackIDRequired {
			t.Errorf("Expected ErrTrackIDRequired, got %v", err)
		}
	})

	t.Run("rejects missing title", func(t *testing.T) {
		q, _ := newTestQueue(t, 200)

		err := q.Enqueue(ctx, 1, &model.Track{TrackID: "t1"})
		if err != ErrTitleRequired {
			t.Errorf("Expected ErrTitleRequired, got %v", err)
		}
	})

	t.Run("duplicate suggestion keeps one queue slot but refreshes payload", func(t *testing.T) {
		q, _ := newTestQueue(t, 200)

		if err := q.Enqueue(ctx, 1, &model.Track{TrackID: "t1", Title: "Song"}); err != nil {
			t.Fatalf("Failed to enqueue: %v", err)
		}
		if err := q.Enqueue(ctx, 1, &model.Track{TrackID: "t1", Title: "Song", Artist: "Updated"}); err != nil {
			t.Fatalf("Failed to re-enqueue: %v", err)
		}

		length, err := q.Len(ctx, 1)
		if err != nil {
			t.Fatalf("Failed to read length: %v", err)
		}
		if length != 1 {
			t.Errorf("Expected queue length 1, got %d", length)
		}

		track, err := q.LoadTrack(ctx, 1, "t1")
		if err != nil {
			t.Fatalf("Failed to load track: %v", err)
		}
		if track == nil || track.Artist != "Updated" {
			t.Errorf("Expected refreshed payload with artist Updated, got %+v", track)
		}
	})

	t.Run("concurrent duplicate suggestions keep one queue slot", func(t *testing.T) {
		q, client := newTestQueue(t, 200)

		const attempts = 20
		var wg sync.WaitGroup
		for i := 0; i < attempts; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := q.Enqueue(ctx, 1, &model.Track{TrackID: "t1", Title: "Song"}); err != nil {
					t.Errorf("Enqueue failed: %v", err)
				}
			}()
		}
		wg.Wait()

		length, err := q.Len(ctx, 1)
		if err != nil {
			t.Fatalf("Failed to read length: %v", err)
		}
		if length != 1 {
			t.Errorf("Expected queue length 1 after concurrent duplicates, got %d", length)
		}

		members, err := client.SMembers(ctx, queueSetKey(1)).Result()
		if err != nil {
			t.Fatalf("Failed to read membership set: %v", err)
		}
		if len(members) != 1 || members[0] != "t1" {
			t.Errorf("Expected membership set [t1], got %v", members)
		}
	})

	t.Run("events are isolated by key namespace", func(t *testing.T) {
		q, _ := newTestQueue(t, 200)

		if err := q.Enqueue(ctx, 1, &model.Track{TrackID: "t1", Title: "Song"}); err != nil {
			t.Fatalf("Failed to enqueue: %v", err)
		}

		length, err := q.Len(ctx, 2)
		if err != nil {
			t.Fatalf("Failed to read length: %v", err)
		}
		if length != 0 {
			t.Errorf("Expected event 2 queue to be empty, got %d", length)
		}
	})
}

func TestQueueStoreSnapshot(t *testing.T) {
	ctx := context.Background()

	t.Run("round trip preserves every field including cover url", func(t *testing.T) {
		q, _ := newTestQueue(t, 200)

		in := &model.Track{
			TrackID:     "deezer:123",
			Title:       "Song",
			Artist:      "Artist",
			CoverURL:    "https://cdn.example.com/cover.jpg",
			DurationSec: 215,
			SuggestedBy: 42,
		}
		if err := q.Enqueue(ctx, 1, in); err != nil {
			t.Fatalf("Failed to enqueue: %v", err)
		}

		entries, err := q.Snapshot(ctx, 1, 10)
		if err != nil {
			t.Fatalf("Failed to snapshot: %v", err)
		}
		if len(entries) != 1 {
			t.Fatalf("Expected 1 entry, got %d", len(entries))
		}

		got := entries[0]
		if got.TrackID != in.TrackID || got.Title != in.Title || got.Artist != in.Artist {
			t.Errorf("Snapshot lost track fields: %+v", got)
		}
		if got.CoverURL != in.CoverURL {
			t.Errorf("Expected cover url %q, got %q", in.CoverURL, got.CoverURL)
		}
		if got.DurationSec != in.DurationSec {
			t.Errorf("Expected duration %d, got %d", in.DurationSec, got.DurationSec)
		}
		if got.SuggestedBy != in.SuggestedBy {
			t.Errorf("Expected suggested_by %d, got %d", in.SuggestedBy, got.SuggestedBy)
		}
		if got.CreatedAt == 0 {
			t.Error("Expected created_at to be set")
		}
		if got.Votes != 0 {
			t.Errorf("Expected fresh tally 0, got %d", got.Votes)
		}
	})

	t.Run("keeps queue order and respects limit", func(t *testing.T) {
		q, _ := newTestQueue(t, 200)

		for _, id := range []string{"a", "b", "c"} {
			if err := q.Enqueue(ctx, 1, &model.Track{TrackID: id, Title: "Song " + id}); err != nil {
				t.Fatalf("Failed to enqueue %s: %v", id, err)
			}
		}

		entries, err := q.Snapshot(ctx, 1, 2)
		if err != nil {
			t.Fatalf("Failed to snapshot: %v", err)
		}
		if len(entries) != 2 {
			t.Fatalf("Expected 2 entries, got %d", len(entries))
		}
		if entries[0].TrackID != "a" || entries[1].TrackID != "b" {
			t.Errorf("Expected order [a b], got [%s %s]", entries[0].TrackID, entries[1].TrackID)
		}
	})

	t.Run("skips entries whose payload expired", func(t *testing.T) {
		q, client := newTestQueue(t, 200)

		if err := q.Enqueue(ctx, 1, &model.Track{TrackID: "a", Title: "A"}); err != nil {
			t.Fatalf("Failed to enqueue: %v", err)
		}
		if err := q.Enqueue(ctx, 1, &model.Track{TrackID: "b", Title: "B"}); err != nil {
			t.Fatalf("Failed to enqueue: %v", err)
		}

		// 模拟 payload 先于队列顺序过期
		if err := client.Del(ctx, trackKey(1, "a")).Err(); err != nil {
			t.Fatalf("Failed to delete payload: %v", err)
		}

		entries, err := q.Snapshot(ctx, 1, 10)
		if err != nil {
			t.Fatalf("Failed to snapshot: %v", err)
		}
		if len(entries) != 1 || entries[0].TrackID != "b" {
			t.Errorf("Expected only [b], got %+v", entries)
		}
	})
}

func TestQueueStoreTrim(t *testing.T) {
	ctx := context.Background()

	t.Run("evicts head entries with their payload and tally", func(t *testing.T) {
		q, client := newTestQueue(t, 3)

		for _, id := range []string{"a", "b", "c", "d", "e"} {
			if err := q.Enqueue(ctx, 1, &model.Track{TrackID: id, Title: "Song " + id}); err != nil {
				t.Fatalf("Failed to enqueue %s: %v", id, err)
			}
		}

		length, err := q.Len(ctx, 1)
		if err != nil {
			t.Fatalf("Failed to read length: %v", err)
		}
		if length != 3 {
			t.Errorf("Expected trimmed length 3, got %d", length)
		}

		// 被裁掉的 a、b 不能留下孤儿记录
		for _, id := range []string{"a", "b"} {
			track, err := q.LoadTrack(ctx, 1, id)
			if err != nil {
				t.Fatalf("Failed to load track: %v", err)
			}
			if track != nil {
				t.Errorf("Expected payload of %s to be evicted", id)
			}
			if client.HExists(ctx, votesKey(1), id).Val() {
				t.Errorf("Expected tally of %s to be evicted", id)
			}
			if client.SIsMember(ctx, queueSetKey(1), id).Val() {
				t.Errorf("Expected %s to leave the membership set", id)
			}
		}

		entries, err := q.Snapshot(ctx, 1, 10)
		if err != nil {
			t.Fatalf("Failed to snapshot: %v", err)
		}
		if len(entries) != 3 || entries[0].TrackID != "c" {
			t.Errorf("Expected queue to start at c, got %+v", entries)
		}

		// 被裁掉的曲目可以重新入队，占据一个新槽位
		if err := q.Enqueue(ctx, 1, &model.Track{TrackID: "a", Title: "Song a"}); err != nil {
			t.Fatalf("Failed to re-enqueue trimmed track: %v", err)
		}
		ids, err := client.LRange(ctx, queueKey(1), 0, -1).Result()
		if err != nil {
			t.Fatalf("Failed to read queue order: %v", err)
		}
		if len(ids) != 3 || ids[2] != "a" {
			t.Errorf("Expected re-enqueued a at the tail, got %v", ids)
		}
	})
}
