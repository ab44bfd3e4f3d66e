package notify

import (
	"context"
	"errors"
	"sync"
)

// Kind identifies which flow produced a message.
type Kind string

const (
	KindSignupCode    Kind = "signup_code"
	KindPasswordReset Kind = "password_reset"
)

// Message is a rendered email ready for delivery.
type Message struct {
	Kind    Kind
	To      string
	Subject string
	Text    string
	HTML    string
}

// Notifier delivers messages. Implementations own their own timeouts and
// retry policy; callers treat any error as a failed dispatch.
type Notifier interface {
	Send(ctx context.Context, msg Message) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, msg Message) error

func (f NotifierFunc) Send(ctx context.Context, msg Message) error {
	return f(ctx, msg)
}

// ErrInvalidMessage is returned for messages without a recipient or body.
var ErrInvalidMessage = errors.New("invalid notification message")

func (m Message) validate() error {
	if m.To == "" || (m.Text == "" && m.HTML == "") {
		return ErrInvalidMessage
	}
	return nil
}

// Recorder keeps every message it receives. Useful in tests and in
// development when no mail relay is configured.
type Recorder struct {
	mu       sync.Mutex
	messages []Message
	err      error
}

// Send records msg, or returns the configured failure.
func (r *Recorder) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.messages = append(r.messages, msg)
	return nil
}

// FailWith makes subsequent sends fail with err; nil restores delivery.
func (r *Recorder) FailWith(err error) {
	r.mu.Lock()
	r.err = err
	r.mu.Unlock()
}

// Messages returns a copy of everything recorded so far.
func (r *Recorder) Messages() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Message, len(r.messages))
	copy(out, r.messages)
	return out
}

// Last returns the most recent message addressed to to.
func (r *Recorder) Last(to string) (Message, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.messages) - 1; i >= 0; i-- {
		if r.messages[i].To == to {
			return r.messages[i], true
		}
	}
	return Message{}, false
}
