package noop

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"github.com/pure-golang/certmailer/mail"
)

var _ mail.Sender = (*Sender)(nil)

// Sender accepts emails without sending them and keeps them in memory.
// Used by dry runs and tests.
type Sender struct {
	mu     sync.Mutex
	sent   []mail.Email
	closed bool
}

// NewSender creates a new no-op Sender.
func NewSender() *Sender {
	return &Sender{}
}

// Send records emails.
func (n *Sender) Send(ctx context.Context, emails ...mail.Email) error {
	if err := ctx.Err(); err != nil {
		return &mail.SendError{Stage: mail.StageConnect, Err: err}
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return errors.New("sender is closed")
	}
	n.sent = append(n.sent, emails...)
	return nil
}

// Sent returns a copy of the recorded emails in send order.
func (n *Sender) Sent() []mail.Email {
	n.mu.Lock()
	defer n.mu.Unlock()

	out := make([]mail.Email, len(n.sent))
	copy(out, n.sent)
	return out
}

// Close marks the sender closed.
func (n *Sender) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.closed = true
	return nil
}
