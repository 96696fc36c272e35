// Package delivery mails rendered certificates to their recipients.
package delivery

import (
	"bytes"
	"context"
	"strings"
	"text/template"
	"time"

	"github.com/pkg/errors"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/renderer/html"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/pure-golang/certmailer/certificate"
	"github.com/pure-golang/certmailer/logger"
	"github.com/pure-golang/certmailer/mail"
	"github.com/pure-golang/certmailer/roster"
)

// Message is the data available to subject and body templates.
type Message struct {
	Name         string
	Email        string
	Course       string
	Date         string
	Organization string
}

// ClientOptions contains options for creating a Client.
type ClientOptions struct {
	// From overrides the sender's default From address.
	From mail.Address
}

// Client composes certificate emails and hands them to a mail.Sender.
// Log records go to the logger carried by the context.
type Client struct {
	sender   mail.Sender
	subject  *template.Template
	body     *template.Template
	markdown goldmark.Markdown
	org      string
	from     mail.Address
	pace     time.Duration
	wait     func(ctx context.Context, d time.Duration)
}

// NewClient parses the message templates of cfg.
func NewClient(cfg Config, sender mail.Sender, opts *ClientOptions) (*Client, error) {
	if opts == nil {
		opts = &ClientOptions{}
	}
	cfg = cfg.withDefaults()

	subject, err := template.New("subject").Option("missingkey=error").Parse(cfg.Subject)
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse subject template")
	}
	body, err := template.New("body").Option("missingkey=error").Parse(cfg.Body)
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse body template")
	}

	return &Client{
		sender:   sender,
		subject:  subject,
		body:     body,
		markdown: goldmark.New(goldmark.WithRendererOptions(html.WithHardWraps())),
		org:      cfg.Organization,
		from:     opts.From,
		pace:     cfg.Pace,
		wait:     sleep,
	}, nil
}

// Compose builds the email for one recipient without sending it.
func (c *Client) Compose(r roster.Recipient, course, date string, a certificate.Artifact) (mail.Email, error) {
	msg := Message{Name: r.Name, Email: r.Email, Course: course, Date: date, Organization: c.org}

	subject, err := execute(c.subject, msg)
	if err != nil {
		return mail.Email{}, errors.Wrap(err, "failed to render subject")
	}
	body, err := execute(c.body, msg)
	if err != nil {
		return mail.Email{}, errors.Wrap(err, "failed to render body")
	}

	// The HTML part is rendered from escaped values so names cannot inject markup.
	markdownBody, err := execute(c.body, Message{
		Name:         escapeMarkdown(msg.Name),
		Email:        escapeMarkdown(msg.Email),
		Course:       escapeMarkdown(msg.Course),
		Date:         escapeMarkdown(msg.Date),
		Organization: escapeMarkdown(msg.Organization),
	})
	if err != nil {
		return mail.Email{}, errors.Wrap(err, "failed to render body")
	}
	var htmlBody bytes.Buffer
	if err := c.markdown.Convert([]byte(markdownBody), &htmlBody); err != nil {
		return mail.Email{}, errors.Wrap(err, "failed to render html body")
	}

	return mail.Email{
		From:    c.from,
		To:      []mail.Address{{Name: r.Name, Address: r.Email}},
		Subject: strings.TrimSpace(subject),
		Body:    body,
		HTML:    htmlBody.String(),
		Attachments: []mail.Attachment{{
			Filename:    a.Filename,
			ContentType: a.ContentType,
			Content:     a.Data,
		}},
	}, nil
}

// Deliver mails artifact a to r, then holds the caller for the configured pace.
// An empty artifact returns ErrNoArtifact and nothing is sent.
func (c *Client) Deliver(ctx context.Context, r roster.Recipient, course, date string, a certificate.Artifact) error {
	ctx, span := tracer.Start(ctx, "delivery.Deliver", trace.WithAttributes(
		attribute.String("course", course),
		attribute.Int("attachment.bytes", len(a.Data)),
	))
	defer span.End()

	if a.Empty() {
		span.SetStatus(codes.Error, ErrNoArtifact.Error())
		return ErrNoArtifact
	}
	if a.Filename == "" {
		a.Filename = certificate.Filename(r.Name)
	}
	if a.ContentType == "" {
		a.ContentType = certificate.ContentType
	}

	email, err := c.Compose(r, course, date, a)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return &DeliveryError{Kind: KindUnknown, Err: err}
	}

	if err := c.sender.Send(ctx, email); err != nil {
		deliveryErr := classify(err)
		span.RecordError(deliveryErr)
		span.SetStatus(codes.Error, deliveryErr.Error())
		logger.FromContextWithErr(ctx, err).Warn("certificate not delivered", "email", r.Email, "kind", deliveryErr.Kind)
		return deliveryErr
	}

	span.SetStatus(codes.Ok, "")
	logger.FromContext(ctx).Info("certificate delivered", "email", r.Email)

	if c.pace > 0 {
		c.wait(ctx, c.pace)
	}
	return nil
}

func execute(t *template.Template, msg Message) (string, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, msg); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// escapeMarkdown backslash-escapes ASCII punctuation.
func escapeMarkdown(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r < 0x80 && strings.ContainsRune("\\`*_{}[]()#+-.!<>|~\"&'=:;,/?@$%^", r) {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// sleep waits d or until ctx is done. The message is already sent either way.
func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-t.C:
	case <-ctx.Done():
	}
}
