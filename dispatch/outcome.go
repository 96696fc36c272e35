package dispatch

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/pure-golang/certmailer/certificate"
	"github.com/pure-golang/certmailer/delivery"
	"github.com/pure-golang/certmailer/roster"
)

// Status is the final state of one recipient.
type Status int

const (
	Success Status = iota
	GenerationFailed
	DeliveryFailed
)

func (s Status) String() string {
	switch s {
	case Success:
		return "success"
	case GenerationFailed:
		return "generation_failed"
	case DeliveryFailed:
		return "delivery_failed"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Outcome is produced exactly once per dispatched recipient.
type Outcome struct {
	Recipient roster.Recipient
	Status    Status
	Err       error // nil on Success
	Duration  time.Duration
}

// Kind returns a machine-readable cause, e.g. "success", "generation/asset", "delivery/auth".
func (o Outcome) Kind() string {
	switch o.Status {
	case Success:
		return "success"
	case GenerationFailed:
		if k := certificate.KindOf(o.Err); k != "" {
			return "generation/" + string(k)
		}
		if errors.Is(o.Err, ErrEmptyArtifact) || errors.Is(o.Err, delivery.ErrNoArtifact) {
			return "generation/no_artifact"
		}
		return "generation/unknown"
	case DeliveryFailed:
		if k := delivery.KindOf(o.Err); k != "" {
			return "delivery/" + string(k)
		}
		return "delivery/" + string(delivery.KindUnknown)
	default:
		return o.Status.String()
	}
}

// String returns the human status line of the outcome.
func (o Outcome) String() string {
	r := o.Recipient
	switch o.Status {
	case Success:
		return fmt.Sprintf("✅ Sent certificate to %s (%s)", r.Name, r.Email)
	case GenerationFailed:
		return fmt.Sprintf("❌ Certificate for %s could not be generated: %v", r.Name, o.Err)
	default:
		return fmt.Sprintf("❌ Failed to send certificate to %s: %v", r.Name, o.Err)
	}
}

// BatchReport aggregates the outcomes of one run.
type BatchReport struct {
	ID        uuid.UUID
	Job       Job
	Total     int       // recipients submitted
	Succeeded int       // outcomes with Success
	Outcomes  []Outcome // completion order
	Canceled  bool      // the run stopped before every recipient was started
	Started   time.Time
	Finished  time.Time
}

// Failed returns the number of non-success outcomes.
func (r *BatchReport) Failed() int {
	return len(r.Outcomes) - r.Succeeded
}

// Skipped returns the number of recipients never started because of cancellation.
func (r *BatchReport) Skipped() int {
	return r.Total - len(r.Outcomes)
}

// FailedRecipients returns recipients with a non-success outcome, for a re-run.
// Recipients skipped by cancellation are not included; see Pending.
func (r *BatchReport) FailedRecipients() []roster.Recipient {
	var out []roster.Recipient
	for _, o := range r.Outcomes {
		if o.Status != Success {
			out = append(out, o.Recipient)
		}
	}
	return out
}

// Pending returns the recipients of all that have no Success outcome, in input order.
func (r *BatchReport) Pending(all []roster.Recipient) []roster.Recipient {
	done := make(map[roster.Key]struct{}, r.Succeeded)
	for _, o := range r.Outcomes {
		if o.Status == Success {
			done[o.Recipient.Key()] = struct{}{}
		}
	}

	var out []roster.Recipient
	for _, rec := range all {
		if _, ok := done[rec.Key()]; !ok {
			out = append(out, rec)
		}
	}
	return out
}

// Lines returns one status line per outcome, in completion order.
func (r *BatchReport) Lines() []string {
	lines := make([]string, len(r.Outcomes))
	for i, o := range r.Outcomes {
		lines[i] = o.String()
	}
	return lines
}

// Summary returns the one-line aggregate.
func (r *BatchReport) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d/%d certificates sent, %d failed", r.Succeeded, r.Total, r.Failed())
	if r.Canceled {
		fmt.Fprintf(&b, ", %d not started (canceled)", r.Skipped())
	}
	fmt.Fprintf(&b, " in %s", r.Finished.Sub(r.Started).Round(time.Millisecond))
	return b.String()
}
