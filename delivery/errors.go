package delivery

import (
	"context"
	"fmt"

	"github.com/pkg/errors"

	"github.com/pure-golang/certmailer/mail"
)

// ErrNoArtifact is returned without touching the transport when there is nothing to attach.
var ErrNoArtifact = errors.New("no artifact to deliver")

// Kind classifies a delivery failure.
type Kind string

const (
	KindConnect  Kind = "connect"  // relay unreachable, TLS failed
	KindAuth     Kind = "auth"     // credentials rejected
	KindRejected Kind = "rejected" // sender, recipient or message refused
	KindCanceled Kind = "canceled" // context canceled or past its deadline
	KindTimeout  Kind = "timeout"  // SMTP session exceeded SMTP_TIMEOUT
	KindUnknown  Kind = "unknown"
)

// DeliveryError is returned when the relay did not accept a message.
type DeliveryError struct {
	Kind Kind
	Err  error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("delivery %s: %v", e.Kind, e.Err)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of a DeliveryError, or "" for other errors.
func KindOf(err error) Kind {
	var deliveryErr *DeliveryError
	if errors.As(err, &deliveryErr) {
		return deliveryErr.Kind
	}
	return ""
}

func classify(err error) *DeliveryError {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return &DeliveryError{Kind: KindCanceled, Err: err}
	}
	if errors.Is(err, mail.ErrTimeout) {
		return &DeliveryError{Kind: KindTimeout, Err: err}
	}

	switch mail.StageOf(err) {
	case mail.StageConnect, mail.StageTLS:
		return &DeliveryError{Kind: KindConnect, Err: err}
	case mail.StageAuth:
		return &DeliveryError{Kind: KindAuth, Err: err}
	case mail.StageEnvelope, mail.StageData:
		return &DeliveryError{Kind: KindRejected, Err: err}
	default:
		return &DeliveryError{Kind: KindUnknown, Err: err}
	}
}
