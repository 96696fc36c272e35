package main

import (
	"flag"
	"fmt"
	"io"
	"time"

	"github.com/pkg/errors"

	"github.com/pure-golang/certmailer/certificate"
	"github.com/pure-golang/certmailer/dispatch"
)

const (
	DefaultCourse = "DSA Using C++"
	dateFlagValue = "2006-01-02"
)

type options struct {
	roster        string
	name          string
	email         string
	course        string
	date          string // printed form
	layout        string
	concurrency   int
	dryRun        bool
	skipDelivered bool
	preview       bool
}

func (o *options) job() dispatch.Job {
	return dispatch.Job{Course: o.course, Date: o.date}
}

// usageError is reported with exit code 2.
type usageError struct{ msg string }

func (e *usageError) Error() string { return e.msg }

func usagef(format string, args ...any) error {
	return &usageError{msg: fmt.Sprintf(format, args...)}
}

func parseOptions(args []string, stderr io.Writer, now time.Time) (*options, error) {
	o := &options{}
	var date string

	fs := flag.NewFlagSet("certmailer", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&o.roster, "roster", "", "CSV file with name and email columns")
	fs.StringVar(&o.name, "name", "", "single recipient name, used with -email instead of -roster")
	fs.StringVar(&o.email, "email", "", "single recipient email, used with -name instead of -roster")
	fs.StringVar(&o.course, "course", DefaultCourse, "course printed on the certificate")
	fs.StringVar(&date, "date", now.Format(dateFlagValue), "completion date, YYYY-MM-DD")
	fs.StringVar(&o.layout, "layout", "", "YAML layout file, overrides ASSETS_LAYOUT")
	fs.IntVar(&o.concurrency, "concurrency", dispatch.DefaultConcurrency, "recipients processed at once")
	fs.BoolVar(&o.dryRun, "dry-run", false, "render certificates without sending email")
	fs.BoolVar(&o.skipDelivered, "skip-delivered", false, "skip recipients the ledger marks as delivered")
	fs.BoolVar(&o.preview, "preview", false, "print the normalized roster and exit")
	fs.Usage = func() {
		fmt.Fprintln(fs.Output(), "Usage: certmailer (-roster FILE | -name NAME -email EMAIL) [flags]")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil, err
		}
		return nil, &usageError{msg: err.Error()}
	}
	if fs.NArg() > 0 {
		return nil, usagef("unexpected arguments: %v", fs.Args())
	}

	adhoc := o.name != "" || o.email != ""
	switch {
	case o.roster == "" && !adhoc:
		return nil, usagef("either -roster or -name and -email is required")
	case o.roster != "" && adhoc:
		return nil, usagef("-roster cannot be combined with -name or -email")
	case adhoc && (o.name == "" || o.email == ""):
		return nil, usagef("-name and -email must be given together")
	}
	if o.course == "" {
		return nil, usagef("-course is empty")
	}
	if o.concurrency <= 0 {
		return nil, usagef("-concurrency must be positive, got %d", o.concurrency)
	}

	t, err := time.Parse(dateFlagValue, date)
	if err != nil {
		return nil, usagef("invalid -date %q, want YYYY-MM-DD", date)
	}
	o.date = certificate.FormatDate(t)

	return o, nil
}
