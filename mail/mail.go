package mail

import (
	"context"
	"fmt"
	"io"

	"github.com/pkg/errors"
)

// Sender delivers emails.
type Sender interface {
	Send(ctx context.Context, emails ...Email) error
	io.Closer
}

// Email represents an email message.
type Email struct {
	// Envelope
	From    Address
	To      []Address
	Cc      []Address
	Bcc     []Address
	Subject string

	// Headers
	Headers map[string]string

	// Body
	Body string // Plain text body
	HTML string // HTML body (optional)

	Attachments []Attachment
}

// Address represents an email address.
type Address struct {
	Name    string // "Ana Lee"
	Address string // "ana@example.com"
}

// Attachment represents a file attached to an email.
type Attachment struct {
	Filename    string // "Ana Lee.png"
	ContentType string // "image/png"
	Content     []byte
}

// ErrTimeout means the session ran out of its own time budget while the caller's
// context was still live.
var ErrTimeout = errors.New("smtp session timed out")

// Stage names the step of an SMTP session that failed.
type Stage string

const (
	StageConnect  Stage = "connect"  // dial, greeting, EHLO
	StageTLS      Stage = "tls"      // TLS handshake or STARTTLS
	StageAuth     Stage = "auth"     // AUTH rejected
	StageEnvelope Stage = "envelope" // MAIL FROM / RCPT TO rejected
	StageData     Stage = "data"     // DATA rejected or interrupted
	StageCompose  Stage = "compose"  // message could not be built
)

// SendError is returned by senders when a message was not accepted.
type SendError struct {
	Stage Stage
	Err   error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("mail %s: %v", e.Stage, e.Err)
}

func (e *SendError) Unwrap() error {
	return e.Err
}

// StageOf returns the failed stage of err, or "" when err is not a SendError.
func StageOf(err error) Stage {
	var sendErr *SendError
	if errors.As(err, &sendErr) {
		return sendErr.Stage
	}
	return ""
}
