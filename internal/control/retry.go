package control

import (
	"time"

	"github.com/stupiduntilnot/chatrelay/internal/model"
)

// RetryPolicy bounds the completion gateway's retries. Attempts are
// 1-based; BaseDelay scales the backoff between them.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

// DefaultRetryPolicy matches the gateway contract: at most three
// attempts with increasing backoff.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, BaseDelay: time.Second}
}

// ShouldRetry reports whether a failure of the given kind, observed on
// the given attempt, warrants another try. Invalid requests and auth
// failures never do.
func (p RetryPolicy) ShouldRetry(kind model.ErrorKind, attempt int) bool {
	if !kind.Retryable() {
		return false
	}
	return attempt < p.MaxAttempts
}

// Backoff returns how long to wait after the given failed attempt. The
// delay grows linearly with the attempt number; timeouts back off twice
// as hard since the previous attempt already consumed its full deadline.
func (p RetryPolicy) Backoff(kind model.ErrorKind, attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}
	base := p.BaseDelay
	if base <= 0 {
		base = time.Second
	}
	delay := time.Duration(attempt) * base
	if kind == model.ErrTimeout {
		delay *= 2
	}
	return delay
}
