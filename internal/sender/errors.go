package sender

import (
	"context"
	"errors"
	"strings"
)

// Reason is the semantic classification of a transport failure.
type Reason string

const (
	ReasonBlocked           Reason = "blocked"
	ReasonNotFound          Reason = "not_found"
	ReasonThreadUnavailable Reason = "thread_unavailable"
	ReasonInvalidThread     Reason = "invalid_thread"
	ReasonRateLimited       Reason = "rate_limited"
	ReasonTimeout           Reason = "timeout"
	ReasonOther             Reason = "other"
)

// Transient reports whether the failure should clear on its own; transient
// failures are retried naturally on the next tick and never escalated.
func (r Reason) Transient() bool {
	return r == ReasonRateLimited || r == ReasonTimeout
}

// classify maps known transport failure signatures to semantic reasons.
// Unknown errors come back as ReasonOther with the raw detail preserved by
// the caller.
func classify(err error) Reason {
	if err == nil {
		return ""
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ReasonTimeout
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "blocked by the user"),
		strings.Contains(msg, "bot was kicked"),
		strings.Contains(msg, "not enough rights"):
		return ReasonBlocked
	case strings.Contains(msg, "chat not found"),
		strings.Contains(msg, "user not found"),
		strings.Contains(msg, "peer_id_invalid"):
		return ReasonNotFound
	case strings.Contains(msg, "thread not found"),
		strings.Contains(msg, "topic_closed"),
		strings.Contains(msg, "topic_deleted"):
		return ReasonThreadUnavailable
	case strings.Contains(msg, "message_thread_id"),
		strings.Contains(msg, "thread_invalid"):
		return ReasonInvalidThread
	case strings.Contains(msg, "too many requests"),
		strings.Contains(msg, "retry after"),
		strings.Contains(msg, "flood"):
		return ReasonRateLimited
	default:
		return ReasonOther
	}
}
