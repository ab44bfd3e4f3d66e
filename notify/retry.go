package notify

import (
	"context"
	"errors"
	"time"

	"github.com/sethvargo/go-retry"
)

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// RetryConfig bounds redelivery attempts.
type RetryConfig struct {
	MaxRetries uint64
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// Retrying redelivers through next with exponential backoff. Invalid
// messages and errors marked Permanent are returned immediately.
type Retrying struct {
	next Notifier
	cfg  RetryConfig
}

func NewRetrying(next Notifier, cfg RetryConfig) *Retrying {
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 200 * time.Millisecond
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 5 * time.Second
	}
	return &Retrying{next: next, cfg: cfg}
}

func (r *Retrying) Send(ctx context.Context, msg Message) error {
	backoff := retry.NewExponential(r.cfg.BaseDelay)
	backoff = retry.WithCappedDuration(r.cfg.MaxDelay, backoff)
	backoff = retry.WithMaxRetries(r.cfg.MaxRetries, backoff)

	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := r.next.Send(ctx, msg)
		if err == nil || errors.Is(err, ErrInvalidMessage) || IsPermanent(err) {
			return err
		}
		return retry.RetryableError(err)
	})
}
