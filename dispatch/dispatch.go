// Package dispatch fans certificate generation and delivery out over a bounded worker pool
// and aggregates one outcome per recipient.
package dispatch

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/pure-golang/certmailer/certificate"
	"github.com/pure-golang/certmailer/delivery"
	"github.com/pure-golang/certmailer/logger"
	"github.com/pure-golang/certmailer/roster"
)

// DefaultConcurrency bounds in-flight tasks when Options.Concurrency is not set.
const DefaultConcurrency = 10

// ErrEmptyArtifact is recorded when a generator returns no image and no error.
var ErrEmptyArtifact = errors.New("generator returned an empty artifact")

// Generator renders one certificate.
type Generator interface {
	Generate(ctx context.Context, r roster.Recipient, course, date string) (certificate.Artifact, error)
}

// Deliverer mails one certificate.
type Deliverer interface {
	Deliver(ctx context.Context, r roster.Recipient, course, date string, a certificate.Artifact) error
}

// Job holds the run parameters shared by every recipient.
type Job struct {
	Course string
	Date   string // already formatted for printing
}

// Options contains options for creating a Coordinator.
type Options struct {
	// Concurrency bounds simultaneous tasks. Defaults to DefaultConcurrency.
	Concurrency int
	// Progress is called after every completed task with strictly increasing completed.
	// Calls are serialized; keep it fast.
	Progress func(completed, total int)
	Logger   *slog.Logger
}

// Coordinator runs batches. It keeps no state between runs.
type Coordinator struct {
	gen      Generator
	del      Deliverer
	limit    int
	progress func(completed, total int)
	logger   *slog.Logger
}

// NewCoordinator creates a Coordinator.
func NewCoordinator(gen Generator, del Deliverer, opts *Options) *Coordinator {
	if opts == nil {
		opts = &Options{}
	}

	c := &Coordinator{
		gen:      gen,
		del:      del,
		limit:    opts.Concurrency,
		progress: opts.Progress,
		logger:   opts.Logger,
	}
	if c.limit <= 0 {
		c.limit = DefaultConcurrency
	}
	if c.progress == nil {
		c.progress = func(int, int) {}
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	return c
}

// Run dispatches every recipient and returns once all started tasks are finished.
// Per-recipient failures end up in the report and never stop other tasks.
//
// Cancelling ctx stops new tasks from starting. Tasks already running finish with
// a context detached from ctx, so every outcome in the report is definitive.
func (c *Coordinator) Run(ctx context.Context, recipients []roster.Recipient, job Job) *BatchReport {
	report := &BatchReport{
		ID:       uuid.New(),
		Job:      job,
		Total:    len(recipients),
		Outcomes: make([]Outcome, 0, len(recipients)),
		Started:  time.Now(),
	}

	ctx, span := tracer.Start(ctx, "dispatch.Run", trace.WithAttributes(
		attribute.String("batch.id", report.ID.String()),
		attribute.String("course", job.Course),
		attribute.Int("recipients", len(recipients)),
		attribute.Int("concurrency", c.limit),
	))
	defer span.End()

	log := c.logger.With("batch", report.ID.String())
	log.Info("batch started", "recipients", len(recipients), "concurrency", c.limit, "course", job.Course, "date", job.Date)

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(c.limit)

	// record is the only place shared state changes.
	record := func(o Outcome) {
		mu.Lock()
		defer mu.Unlock()

		report.Outcomes = append(report.Outcomes, o)
		if o.Status == Success {
			report.Succeeded++
		}
		c.progress(len(report.Outcomes), report.Total)
	}
	markCanceled := func() {
		mu.Lock()
		defer mu.Unlock()
		report.Canceled = true
	}

	detached := context.WithoutCancel(ctx)
	for _, r := range recipients {
		if ctx.Err() != nil {
			markCanceled()
			break
		}

		// Go blocks while the pool is full.
		g.Go(func() error {
			if ctx.Err() != nil {
				markCanceled()
				return nil
			}

			taskCtx := logger.NewContext(detached, log.With("recipient", r.Name, "email", r.Email))
			record(c.process(taskCtx, r, job))
			return nil
		})
	}
	_ = g.Wait()

	report.Finished = time.Now()

	span.SetAttributes(
		attribute.Int("succeeded", report.Succeeded),
		attribute.Int("failed", report.Failed()),
		attribute.Bool("canceled", report.Canceled),
	)
	if report.Canceled {
		span.SetStatus(codes.Error, "batch canceled")
		log.Warn("batch canceled", "completed", len(report.Outcomes), "total", report.Total)
	} else {
		span.SetStatus(codes.Ok, "")
	}
	log.Info("batch finished", "succeeded", report.Succeeded, "failed", report.Failed(), "duration", report.Finished.Sub(report.Started))

	return report
}

// process runs one recipient: generate, then deliver only if generation succeeded.
func (c *Coordinator) process(ctx context.Context, r roster.Recipient, job Job) (o Outcome) {
	ctx, span := tracer.Start(ctx, "dispatch.Task")
	defer span.End()

	inFlight.Inc()
	start := time.Now()
	o = Outcome{Recipient: r}
	defer func() {
		inFlight.Dec()
		o.Duration = time.Since(start)
		recordOutcome(o)

		span.SetAttributes(attribute.String("status", o.Status.String()))
		if o.Err != nil {
			recordError(span, o.Err)
			logger.FromContextWithErr(ctx, o.Err).Warn("recipient failed", "kind", o.Kind())
			return
		}
		span.SetStatus(codes.Ok, "")
	}()

	a, err := c.generate(ctx, r, job)
	if err == nil && a.Empty() {
		err = ErrEmptyArtifact
	}
	if err != nil {
		o.Status, o.Err = GenerationFailed, err
		return o
	}

	if err := c.deliver(ctx, r, job, a); err != nil {
		if errors.Is(err, delivery.ErrNoArtifact) {
			o.Status, o.Err = GenerationFailed, err
			return o
		}
		o.Status, o.Err = DeliveryFailed, err
		return o
	}

	o.Status = Success
	return o
}

func (c *Coordinator) generate(ctx context.Context, r roster.Recipient, job Job) (a certificate.Artifact, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = errors.Errorf("generator panic: %v", p)
		}
	}()
	return c.gen.Generate(ctx, r, job.Course, job.Date)
}

func (c *Coordinator) deliver(ctx context.Context, r roster.Recipient, job Job, a certificate.Artifact) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = errors.Errorf("deliverer panic: %v", p)
		}
	}()
	return c.del.Deliver(ctx, r, job.Course, job.Date, a)
}
