package pipeline

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ojobatch/ojo/pkg/concurrency"
)

// Kind classifies a stage error. The kind, not the concrete error type,
// decides the retry policy and the wait before the next attempt.
type Kind string

const (
	KindInvalidInput     Kind = "invalid_input"
	KindNotFound         Kind = "not_found"
	KindAuthExpired      Kind = "auth_expired"
	KindRateLimited      Kind = "rate_limited"
	KindTransient        Kind = "transient"
	KindLLMEmptyResponse Kind = "llm_empty_response"
	KindValidationFailed Kind = "validation_failed"
	KindCancelled        Kind = "cancelled"
	KindFatal            Kind = "fatal"
)

// CancelledMessage is the user-visible error message of a cancelled task.
const CancelledMessage = "任务被取消"

// ErrCancelled marks a run cut short by its cancellation check.
var ErrCancelled = errors.New(CancelledMessage)

// StageError carries a classified stage failure.
type StageError struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *StageError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *StageError) Unwrap() error { return e.Err }

// NewStageError builds a classified error.
func NewStageError(kind Kind, msg string, err error) *StageError {
	return &StageError{Kind: kind, Msg: msg, Err: err}
}

// Message markers used by remote judges. The Chinese judges report rate
// limiting and session expiry in prose, not in status codes.
const (
	markerRateLimited = "频率"
	markerAuthExpired = "登录状态已失效"
)

// Classify maps an error onto its kind. Explicit StageError kinds win;
// everything else is matched on message content, with Transient as the
// default since unknown remote failures are usually worth one more try.
func Classify(err error) Kind {
	if err == nil {
		return ""
	}
	var se *StageError
	if errors.As(err, &se) {
		return se.Kind
	}
	if errors.Is(err, ErrCancelled) || errors.Is(err, concurrency.ErrCancelled) {
		return KindCancelled
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(err.Error(), markerAuthExpired),
		strings.Contains(msg, "401"),
		strings.Contains(msg, "unauthorized"):
		return KindAuthExpired
	case strings.Contains(err.Error(), markerRateLimited),
		strings.Contains(msg, "403"),
		strings.Contains(msg, "429"),
		strings.Contains(msg, "rate limit"),
		strings.Contains(msg, "too many requests"):
		return KindRateLimited
	case strings.Contains(msg, "404"),
		strings.Contains(msg, "not found"),
		strings.Contains(msg, "not exist"),
		strings.Contains(err.Error(), "不存在"):
		return KindNotFound
	default:
		return KindTransient
	}
}
