// Package ledger remembers which recipients already received a certificate for a job,
// so a re-run only targets the rest.
package ledger

import (
	"context"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/pure-golang/certmailer/dispatch"
	"github.com/pure-golang/certmailer/kv"
	"github.com/pure-golang/certmailer/roster"
)

// Config contains ledger settings.
type Config struct {
	Prefix string        `envconfig:"LEDGER_PREFIX" default:"certmailer:delivered"`
	TTL    time.Duration `envconfig:"LEDGER_TTL" default:"2160h"` // 90 days, 0 keeps entries forever
}

// Ledger records successful deliveries in a kv.Store.
type Ledger struct {
	store  kv.Store
	prefix string
	ttl    time.Duration
	now    func() time.Time
}

// New creates a Ledger over store.
func New(store kv.Store, cfg Config) *Ledger {
	if cfg.Prefix == "" {
		cfg.Prefix = "certmailer:delivered"
	}
	return &Ledger{
		store:  store,
		prefix: cfg.Prefix,
		ttl:    cfg.TTL,
		now:    time.Now,
	}
}

// keyEscaper keeps ":" a pure separator in keys; "%" is escaped too so the mapping stays one to one.
var keyEscaper = strings.NewReplacer("%", "%25", ":", "%3A")

// Key returns the store key of one delivery. Distinct (course, date, email) triples never share a key.
func (l *Ledger) Key(job dispatch.Job, email string) string {
	return strings.Join([]string{
		l.prefix,
		keyEscaper.Replace(job.Course),
		keyEscaper.Replace(job.Date),
		keyEscaper.Replace(email),
	}, ":")
}

// Delivered reports whether email already got the certificate of job.
func (l *Ledger) Delivered(ctx context.Context, job dispatch.Job, email string) (bool, error) {
	n, err := l.store.Exists(ctx, l.Key(job, email))
	if err != nil {
		return false, errors.Wrap(err, "failed to query ledger")
	}
	return n > 0, nil
}

// Filter splits recipients into those still pending and those already delivered,
// keeping input order.
func (l *Ledger) Filter(ctx context.Context, job dispatch.Job, recipients []roster.Recipient) (pending, delivered []roster.Recipient, err error) {
	for _, r := range recipients {
		ok, err := l.Delivered(ctx, job, r.Email)
		if err != nil {
			return nil, nil, err
		}
		if ok {
			delivered = append(delivered, r)
		} else {
			pending = append(pending, r)
		}
	}
	return pending, delivered, nil
}

// Record marks every successful outcome of report. The first delivery time is kept.
// It returns the number of new entries.
func (l *Ledger) Record(ctx context.Context, report *dispatch.BatchReport) (int, error) {
	stamp := l.now().UTC().Format(time.RFC3339)

	added := 0
	for _, o := range report.Outcomes {
		if o.Status != dispatch.Success {
			continue
		}
		ok, err := l.store.SetNX(ctx, l.Key(report.Job, o.Recipient.Email), stamp, l.ttl)
		if err != nil {
			return added, errors.Wrap(err, "failed to update ledger")
		}
		if ok {
			added++
		}
	}
	return added, nil
}
