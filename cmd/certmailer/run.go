package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/pkg/errors"

	"github.com/pure-golang/certmailer/certificate"
	"github.com/pure-golang/certmailer/delivery"
	"github.com/pure-golang/certmailer/dispatch"
	"github.com/pure-golang/certmailer/env"
	"github.com/pure-golang/certmailer/kv"
	"github.com/pure-golang/certmailer/ledger"
	"github.com/pure-golang/certmailer/logger"
	"github.com/pure-golang/certmailer/mail"
	"github.com/pure-golang/certmailer/mail/noop"
	"github.com/pure-golang/certmailer/mail/smtp"
	"github.com/pure-golang/certmailer/metrics"
	"github.com/pure-golang/certmailer/roster"
	"github.com/pure-golang/certmailer/storage"
	"github.com/pure-golang/certmailer/storage/local"
	"github.com/pure-golang/certmailer/storage/minio"
	"github.com/pure-golang/certmailer/tracing"
	"github.com/pure-golang/certmailer/tracing/jaeger"
)

const (
	exitOK      = 0
	exitFailure = 1 // a recipient failed or the run could not start
	exitUsage   = 2 // bad flags or roster schema
)

var (
	// newStore opens the ledger store.
	newStore = kv.NewDefault
	timeNow  = time.Now
)

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	opts, err := parseOptions(args, stderr, timeNow())
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		fmt.Fprintln(stderr, err)
		return exitUsage
	}

	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintln(stderr, err)
		return exitFailure
	}
	if cfg.Logger.Output == nil {
		cfg.Logger.Output = stderr
	}
	log := logger.InitDefault(cfg.Logger)
	ctx = logger.NewContext(ctx, log)

	recipients, err := loadRecipients(ctx, opts)
	if err != nil {
		logger.FromContextWithErr(ctx, err).Error("failed to load roster")
		if roster.IsSchemaError(err) || isUsage(err) {
			fmt.Fprintln(stderr, err)
			return exitUsage
		}
		return exitFailure
	}

	if opts.preview {
		printRoster(stdout, recipients)
		return exitOK
	}

	metricsCloser, err := metrics.InitDefault(cfg.Metrics)
	if err != nil {
		logger.FromContextWithErr(ctx, err).Error("failed to init metrics")
		return exitFailure
	}
	defer closeLogged(ctx, "metrics", metricsCloser)

	if cfg.Tracing.Enabled() {
		provider, err := tracing.Init(jaeger.NewProviderBuilder(cfg.Tracing))
		if err != nil {
			logger.FromContextWithErr(ctx, err).Warn("tracing disabled")
		}
		defer closeLogged(ctx, "tracing", provider)
	}

	assets, err := openAssets(ctx, cfg.Assets, log)
	if err != nil {
		logger.FromContextWithErr(ctx, err).Error("failed to open assets")
		return exitFailure
	}
	defer closeLogged(ctx, "assets", assets)

	layout := certificate.DefaultLayout()
	if path := firstNonEmpty(opts.layout, cfg.Assets.Layout); path != "" {
		if layout, err = certificate.LoadLayout(path); err != nil {
			logger.FromContextWithErr(ctx, err).Error("failed to load layout", "path", path)
			return exitFailure
		}
	}

	sender, err := newSender(cfg, opts.dryRun)
	if err != nil {
		logger.FromContextWithErr(ctx, err).Error("failed to configure email sender")
		return exitFailure
	}
	defer closeLogged(ctx, "sender", sender)

	deliveryCfg := cfg.Delivery
	if opts.dryRun {
		deliveryCfg.Pace = 0
	}
	deliverer, err := delivery.NewClient(deliveryCfg, sender, nil)
	if err != nil {
		logger.FromContextWithErr(ctx, err).Error("failed to configure delivery")
		return exitFailure
	}

	store, err := newStore(ctx, cfg.KV)
	if err != nil {
		logger.FromContextWithErr(ctx, err).Error("failed to open ledger")
		return exitFailure
	}
	defer closeLogged(ctx, "ledger", store)
	book := ledger.New(store, cfg.Ledger)

	job := opts.job()
	if opts.skipDelivered {
		if cfg.KV.Provider == kv.ProviderNoop {
			log.Warn("ledger is disabled, -skip-delivered has no effect", "kv_provider", cfg.KV.Provider)
		}
		pending, delivered, err := book.Filter(ctx, job, recipients)
		if err != nil {
			logger.FromContextWithErr(ctx, err).Error("failed to read ledger")
			return exitFailure
		}
		for _, r := range delivered {
			fmt.Fprintf(stdout, "⏭️  Skipped %s (%s), already delivered\n", r.Name, r.Email)
		}
		recipients = pending
	}

	generator := certificate.NewGenerator(assets, layout, &certificate.GeneratorOptions{Logger: log})
	coordinator := dispatch.NewCoordinator(generator, deliverer, &dispatch.Options{
		Concurrency: opts.concurrency,
		Logger:      log,
		Progress: func(completed, total int) {
			log.Info("progress", "completed", completed, "total", total)
		},
	})

	log.Info("batch started",
		"recipients", len(recipients),
		"course", job.Course,
		"date", job.Date,
		"dry_run", opts.dryRun,
		"smtp", cfg.SMTP,
	)
	report := coordinator.Run(ctx, recipients, job)

	for _, line := range report.Lines() {
		fmt.Fprintln(stdout, line)
	}
	fmt.Fprintln(stdout, report.Summary())

	if !opts.dryRun {
		added, err := book.Record(context.WithoutCancel(ctx), report)
		if err != nil {
			logger.FromContextWithErr(ctx, err).Error("failed to record deliveries", "recorded", added)
		} else if added > 0 {
			log.Debug("deliveries recorded", "count", added)
		}
	}

	if report.Failed() > 0 || report.Canceled {
		return exitFailure
	}
	return exitOK
}

func loadRecipients(ctx context.Context, opts *options) ([]roster.Recipient, error) {
	if opts.roster == "" {
		r, err := roster.Single(opts.name, opts.email)
		if err != nil {
			return nil, &usageError{msg: err.Error()}
		}
		return []roster.Recipient{r}, nil
	}

	f, err := os.Open(opts.roster)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open roster")
	}
	defer f.Close()

	list, err := roster.Load(f)
	if err != nil {
		return nil, err
	}

	log := logger.FromContext(ctx)
	for _, rejected := range list.Rejected {
		log.Warn("roster row skipped", "row", rejected.Row, "reason", rejected.Reason)
	}
	if list.Duplicates > 0 {
		log.Info("duplicate roster rows dropped", "count", list.Duplicates)
	}
	return list.Recipients, nil
}

func openAssets(ctx context.Context, cfg AssetsConfig, log *slog.Logger) (storage.Storage, error) {
	switch cfg.Source {
	case AssetsS3:
		var s3 minio.Config
		if err := env.InitConfig(&s3); err != nil {
			return nil, errors.Wrap(err, "failed to load s3 config")
		}
		s, err := minio.NewDefault(ctx, s3)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		var dir local.Config
		if err := env.InitConfig(&dir); err != nil {
			return nil, errors.Wrap(err, "failed to load assets config")
		}
		s, err := local.New(dir, &local.StorageOptions{Logger: log})
		if err != nil {
			return nil, err
		}
		return s, nil
	}
}

// newSender returns a capturing sender on dry runs. SMTP settings are only checked when
// email is actually sent.
func newSender(cfg *Config, dryRun bool) (mail.Sender, error) {
	if dryRun {
		return noop.NewSender(), nil
	}
	if cfg.SMTP.Mode != smtp.ModeNone && cfg.SMTP.Username == "" {
		return nil, errors.New("SMTP_USER and SMTP_PASSWORD are required to send email")
	}
	if err := cfg.SMTP.Validate(); err != nil {
		return nil, err
	}
	return smtp.NewSender(cfg.SMTP, nil), nil
}

func printRoster(w io.Writer, recipients []roster.Recipient) {
	for i, r := range recipients {
		fmt.Fprintf(w, "%d. %s\n", i+1, r)
	}
	fmt.Fprintf(w, "%d recipients\n", len(recipients))
}

func closeLogged(ctx context.Context, name string, c io.Closer) {
	if c == nil {
		return
	}
	if err := c.Close(); err != nil {
		logger.FromContextWithErr(ctx, err).Warn("failed to close " + name)
	}
}

func isUsage(err error) bool {
	var usageErr *usageError
	return errors.As(err, &usageErr)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
