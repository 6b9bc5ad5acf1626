package vote

import "errors"

// 校验错误：请求被同步拒绝，不产生任何状态变更
var (
	ErrTrackIDRequired = errors.New("track id is required")
	ErrTitleRequired   = errors.New("title is required")
)

// 状态冲突错误：携带明确原因码返回给调用方，状态变化后可重试
var (
	ErrNotLive      = errors.New("event is not live")
	ErrVotingClosed = errors.New("voting is closed")
	ErrNotCandidate = errors.New("track is not a candidate in this round")
	ErrAlreadyVoted = errors.New("already voted in this round")
)

// Reason 返回错误对应的机器可读原因码，非本包错误返回 "internal"
func Reason(err error) string {
	switch {
	case errors.Is(err, ErrTrackIDRequired):
		return "track-id-required"
	case errors.Is(err, ErrTitleRequired):
		return "title-required"
	case errors.Is(err, ErrNotLive):
		return "not-live"
	case errors.Is(err, ErrVotingClosed):
		return "voting-closed"
	case errors.Is(err, ErrNotCandidate):
		return "not-a-candidate"
	case errors.Is(err, ErrAlreadyVoted):
		return "already-voted"
	default:
		return "internal"
	}
}

// IsConflict 是否为状态冲突类错误
func IsConflict(err error) bool {
	return errors.Is(err, ErrNotLive) ||
		errors.Is(err, ErrVotingClosed) ||
		errors.Is(err, ErrNotCandidate) ||
		errors.Is(err, ErrAlreadyVoted)
}

// IsValidation 是否为校验类错误
func IsValidation(err error) bool {
	return errors.Is(err, ErrTrackIDRequired) || errors.Is(err, ErrTitleRequired)
}
