package smtp

import (
	"context"
	"crypto/tls"
	"net"
	"net/smtp"
	"os"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/pure-golang/certmailer/mail"
)

var _ mail.Sender = (*Sender)(nil)

// ErrClosed is returned by Send after Close.
var ErrClosed = errors.New("sender is closed")

// Sender implements mail.Sender using net/smtp.
// Every email gets its own connection, so a Sender is safe for concurrent use.
type Sender struct {
	cfg       Config
	tlsConfig *tls.Config
	localName string
	now       func() time.Time
	closed    atomic.Bool
}

// SenderOptions contains options for creating a Sender.
type SenderOptions struct {
	// TLSConfig is cloned for every session; ServerName is always set from Config.Host.
	TLSConfig *tls.Config
	// LocalName is sent in EHLO. Defaults to "localhost".
	LocalName string
}

// NewSender creates a new SMTP Sender.
func NewSender(cfg Config, options *SenderOptions) *Sender {
	if cfg.Mode == "" {
		cfg.Mode = ModeTLS
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	s := &Sender{
		cfg:       cfg,
		tlsConfig: &tls.Config{MinVersion: tls.VersionTLS12},
		localName: "localhost",
		now:       time.Now,
	}
	if options != nil {
		if options.TLSConfig != nil {
			s.tlsConfig = options.TLSConfig.Clone()
		}
		if options.LocalName != "" {
			s.localName = options.LocalName
		}
	}
	s.tlsConfig.ServerName = cfg.Host
	s.tlsConfig.InsecureSkipVerify = cfg.Insecure // #nosec G402 -- controlled by config, user's responsibility
	return s
}

// Send sends one or more emails, stopping at the first failure.
func (s *Sender) Send(ctx context.Context, emails ...mail.Email) error {
	for _, email := range emails {
		if err := s.send(ctx, email); err != nil {
			return err
		}
	}
	return nil
}

// send delivers a single email over a fresh session.
func (s *Sender) send(ctx context.Context, email mail.Email) (err error) {
	ctx, span := tracer.Start(ctx, "SMTP.Send", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	span.SetAttributes(
		attribute.Int("smtp.to_count", len(email.To)),
		attribute.Int("smtp.cc_count", len(email.Cc)),
		attribute.Int("smtp.bcc_count", len(email.Bcc)),
		attribute.Int("smtp.attachments", len(email.Attachments)),
		attribute.String("smtp.host", s.cfg.Host),
		attribute.Int("smtp.port", s.cfg.Port),
		attribute.String("smtp.mode", string(s.cfg.Mode)),
	)

	if s.closed.Load() {
		span.SetStatus(codes.Error, "sender is closed")
		return ErrClosed
	}

	start := time.Now()
	defer func() {
		result := "ok"
		if stage := mail.StageOf(err); stage != "" {
			result = string(stage)
		}
		recordSend(result, time.Since(start).Seconds())
		if err != nil {
			recordError(span, err)
			return
		}
		span.SetStatus(codes.Ok, "")
	}()

	if email.From.Address == "" {
		email.From = mail.Address{Name: s.cfg.FromName, Address: s.cfg.sender()}
	}
	if email.From.Address == "" {
		return &mail.SendError{Stage: mail.StageCompose, Err: errors.New("no from address specified")}
	}

	recipients := envelopeRecipients(email)
	if len(recipients) == 0 {
		return &mail.SendError{Stage: mail.StageCompose, Err: errors.New("no recipients specified")}
	}

	msg, err := s.buildMessage(email)
	if err != nil {
		return &mail.SendError{Stage: mail.StageCompose, Err: err}
	}

	return s.deliver(ctx, email.From.Address, recipients, msg)
}

// deliver runs one SMTP session: connect, secure, authenticate, envelope, data, quit.
func (s *Sender) deliver(ctx context.Context, from string, to []string, msg []byte) error {
	if err := ctx.Err(); err != nil {
		return &mail.SendError{Stage: mail.StageConnect, Err: err}
	}

	deadline := time.Now().Add(s.cfg.Timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	fail := func(stage mail.Stage, err error) error {
		switch {
		case ctx.Err() != nil:
			err = errors.WithMessage(ctx.Err(), err.Error())
		case isTimeout(err):
			// The socket deadline can fire before ctx marks its own deadline as passed.
			if d, ok := ctx.Deadline(); ok && !time.Now().Before(d) {
				err = errors.WithMessage(context.DeadlineExceeded, err.Error())
			} else {
				err = errors.WithMessage(mail.ErrTimeout, err.Error())
			}
		}
		return &mail.SendError{Stage: stage, Err: err}
	}

	dialer := &net.Dialer{Deadline: deadline}
	conn, err := dialer.DialContext(ctx, "tcp", s.cfg.Addr())
	if err != nil {
		return fail(mail.StageConnect, errors.Wrap(err, "failed to connect to SMTP server"))
	}
	if err := conn.SetDeadline(deadline); err != nil {
		_ = conn.Close()
		return fail(mail.StageConnect, err)
	}

	// Cancellation interrupts whatever read or write is in progress.
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetDeadline(time.Now())
	})
	defer stop()

	if s.cfg.Mode == ModeTLS {
		tlsConn := tls.Client(conn, s.tlsConfig.Clone())
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			_ = conn.Close()
			return fail(mail.StageTLS, errors.Wrap(err, "TLS handshake failed"))
		}
		conn = tlsConn
	}

	client, err := smtp.NewClient(conn, s.cfg.Host)
	if err != nil {
		_ = conn.Close()
		return fail(mail.StageConnect, errors.Wrap(err, "failed to read greeting"))
	}
	defer func() {
		_ = client.Close()
	}()

	if err := client.Hello(s.localName); err != nil {
		return fail(mail.StageConnect, errors.Wrap(err, "EHLO failed"))
	}

	if s.cfg.Mode == ModeStartTLS {
		if ok, _ := client.Extension("STARTTLS"); !ok {
			return fail(mail.StageTLS, errors.New("server does not support STARTTLS"))
		}
		if err := client.StartTLS(s.tlsConfig.Clone()); err != nil {
			return fail(mail.StageTLS, errors.Wrap(err, "failed to start TLS"))
		}
	}

	if s.cfg.Username != "" {
		if ok, _ := client.Extension("AUTH"); !ok {
			return fail(mail.StageAuth, errors.New("server does not support AUTH"))
		}
		auth := smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
		if err := client.Auth(auth); err != nil {
			return fail(mail.StageAuth, errors.Wrap(err, "failed to authenticate"))
		}
	}

	if err := client.Mail(from); err != nil {
		return fail(mail.StageEnvelope, errors.Wrap(err, "failed to set sender"))
	}
	for _, addr := range to {
		if err := client.Rcpt(addr); err != nil {
			return fail(mail.StageEnvelope, errors.Wrapf(err, "failed to set recipient: %s", addr))
		}
	}

	writer, err := client.Data()
	if err != nil {
		return fail(mail.StageData, errors.Wrap(err, "failed to get data writer"))
	}
	if _, err := writer.Write(msg); err != nil {
		_ = writer.Close()
		return fail(mail.StageData, errors.Wrap(err, "failed to write message"))
	}
	// The relay accepts or rejects the message when the data writer is closed.
	if err := writer.Close(); err != nil {
		return fail(mail.StageData, errors.Wrap(err, "message rejected"))
	}

	// The message is accepted; a failed QUIT changes nothing.
	_ = client.Quit()
	return nil
}

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// envelopeRecipients returns To, Cc and Bcc addresses for RCPT TO.
func envelopeRecipients(email mail.Email) []string {
	result := make([]string, 0, len(email.To)+len(email.Cc)+len(email.Bcc))
	for _, list := range [][]mail.Address{email.To, email.Cc, email.Bcc} {
		for _, addr := range list {
			if addr.Address != "" {
				result = append(result, addr.Address)
			}
		}
	}
	return result
}

// Close closes the sender. Sessions already in progress are not interrupted.
func (s *Sender) Close() error {
	s.closed.Store(true)
	return nil
}
