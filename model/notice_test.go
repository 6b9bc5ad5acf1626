package model

import (
	"encoding/json"
	"testing"
)

func decodeNotice(t *testing.T, n Notice) map[string]interface{} {
	t.Helper()

	payload, err := EncodeNotice(n)
	if err != nil {
		t.Fatalf("Failed to encode notice: %v", err)
	}
	var m map[string]interface{}
	if err := json.Unmarshal(payload, &m); err != nil {
		t.Fatalf("Failed to decode notice: %v", err)
	}
	return m
}

func TestEncodeNotice(t *testing.T) {
	t.Run("empty variant carries only the type", func(t *testing.T) {
		m := decodeNotice(t, EventLive{})
		if m["type"] != "event_live" {
			t.Errorf("Expected type event_live, got %v", m["type"])
		}
		if len(m) != 1 {
			t.Errorf("Expected a single field, got %v", m)
		}
	})

	t.Run("fields are flattened alongside the type", func(t *testing.T) {
		m := decodeNotice(t, VotingOpen{CandidateIDs: []string{"a", "b"}, VoteClosesAt: 1700000020})
		if m["type"] != "voting_open" {
			t.Errorf("Expected type voting_open, got %v", m["type"])
		}
		ids, _ := m["candidate_ids"].([]interface{})
		if len(ids) != 2 || ids[0] != "a" || ids[1] != "b" {
			t.Errorf("Expected candidate_ids [a b], got %v", m["candidate_ids"])
		}
		if m["vote_closes_at"] != float64(1700000020) {
			t.Errorf("Expected vote_closes_at 1700000020, got %v", m["vote_closes_at"])
		}
	})

	t.Run("nested track survives encoding", func(t *testing.T) {
		m := decodeNotice(t, TrackStarted{
			Track:  &Track{TrackID: "t1", Title: "Song", Artist: "Band", DurationSec: 200},
			EndsAt: 1700000200,
			Reason: "voted_winner",
		})
		if m["type"] != "track_started" {
			t.Errorf("Expected type track_started, got %v", m["type"])
		}
		if m["reason"] != "voted_winner" {
			t.Errorf("Expected reason voted_winner, got %v", m["reason"])
		}
		track, _ := m["track"].(map[string]interface{})
		if track == nil || track["track_id"] != "t1" || track["artist"] != "Band" {
			t.Errorf("Expected nested track with track_id t1, got %v", m["track"])
		}
	})

	t.Run("every variant reports a distinct wire type", func(t *testing.T) {
		variants := []Notice{
			EventLive{}, QueueAdded{}, VotingOpen{}, VoteCast{}, VotingClosed{},
			TrackStarted{}, TrackFinished{}, QueueEmpty{}, EventEnded{}, TickerError{},
		}
		seen := make(map[NoticeType]bool)
		for _, v := range variants {
			nt := v.NoticeType()
			if seen[nt] {
				t.Errorf("Duplicate wire type %q", nt)
			}
			seen[nt] = true
		}
	})
}

func TestParseLiveState(t *testing.T) {
	t.Run("empty hash means not started", func(t *testing.T) {
		st := ParseLiveState(map[string]string{})
		if st.Status != StatusNotStarted {
			t.Errorf("Expected not_started, got %q", st.Status)
		}
		if st.VotingOpen {
			t.Error("Expected voting closed")
		}
	})

	t.Run("full hash round trip", func(t *testing.T) {
		st := ParseLiveState(map[string]string{
			"status":           "live",
			"current_track_id": "t1",
			"track_started_at": "1700000000",
			"track_ends_at":    "1700000180",
			"vote_closes_at":   "1700000150",
			"voting_open":      "1",
			"updated_at":       "1700000000",
		})
		if st.Status != StatusLive || st.CurrentTrackID != "t1" {
			t.Errorf("Unexpected state %+v", st)
		}
		if st.TrackEndsAt != 1700000180 || st.VoteClosesAt != 1700000150 {
			t.Errorf("Unexpected timestamps %+v", st)
		}
		if !st.VotingOpen {
			t.Error("Expected voting open")
		}
		if !st.IsPlaying() {
			t.Error("Expected IsPlaying true")
		}
	})

	t.Run("corrupt numeric fields fall back to zero", func(t *testing.T) {
		st := ParseLiveState(map[string]string{
			"status":        "live",
			"track_ends_at": "garbage",
			"voting_open":   "0",
		})
		if st.TrackEndsAt != 0 {
			t.Errorf("Expected 0, got %d", st.TrackEndsAt)
		}
		if st.VotingOpen {
			t.Error("Expected voting closed")
		}
	})
}
