package smtp

import (
	"context"
	"crypto/tls"
	"log/slog"
	"net"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pure-golang/certmailer/internal/smtptest"
	"github.com/pure-golang/certmailer/mail"
)

func startServer(t *testing.T, opts smtptest.Options) *smtptest.Server {
	t.Helper()

	srv, err := smtptest.Start(opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.Close() })
	return srv
}

func serverTLS(t *testing.T) (server, client *tls.Config) {
	t.Helper()

	server, err := smtptest.SelfSignedTLS()
	require.NoError(t, err)
	client, err = smtptest.ClientTLS(server)
	require.NoError(t, err)
	return server, client
}

func testEmail(to string) mail.Email {
	return mail.Email{
		To:      []mail.Address{{Name: "Ana Lee", Address: to}},
		Subject: "Certificate",
		Body:    "Dear Ana Lee,",
		Attachments: []mail.Attachment{
			{Filename: "Ana Lee.png", ContentType: "image/png", Content: []byte("png")},
		},
	}
}

func TestNewSender_Defaults(t *testing.T) {
	t.Parallel()

	s := NewSender(Config{Host: "smtp.example.com", Port: 465}, nil)

	assert.Equal(t, ModeTLS, s.cfg.Mode)
	assert.Equal(t, 30*time.Second, s.cfg.Timeout)
	assert.Equal(t, "smtp.example.com", s.tlsConfig.ServerName)
	assert.Equal(t, "localhost", s.localName)
}

func TestSender_Send_ImplicitTLS(t *testing.T) {
	t.Parallel()

	srvTLS, clientTLS := serverTLS(t)
	srv := startServer(t, smtptest.Options{TLS: srvTLS, Username: "org@example.com", Password: "app-password"})

	s := NewSender(Config{
		Host:     srv.Host(),
		Port:     srv.Port(),
		Username: "org@example.com",
		Password: "app-password",
		Mode:     ModeTLS,
		Timeout:  5 * time.Second,
	}, &SenderOptions{TLSConfig: clientTLS})

	require.NoError(t, s.Send(context.Background(), testEmail("ana@example.com")))

	msgs := srv.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "org@example.com", msgs[0].From)
	assert.Equal(t, []string{"ana@example.com"}, msgs[0].To)
	assert.Contains(t, msgs[0].Data, "Subject: Certificate")
	assert.Contains(t, msgs[0].Data, `filename="Ana Lee.png"`)
}

func TestSender_Send_StartTLS(t *testing.T) {
	t.Parallel()

	srvTLS, clientTLS := serverTLS(t)
	srv := startServer(t, smtptest.Options{StartTLS: srvTLS, Username: "user", Password: "secret"})

	s := NewSender(Config{
		Host:     srv.Host(),
		Port:     srv.Port(),
		Username: "user",
		Password: "secret",
		From:     "org@example.com",
		FromName: "Your Organization",
		Mode:     ModeStartTLS,
		Timeout:  5 * time.Second,
	}, &SenderOptions{TLSConfig: clientTLS})

	require.NoError(t, s.Send(context.Background(), testEmail("ana@example.com")))

	msgs := srv.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "org@example.com", msgs[0].From)
	assert.Contains(t, msgs[0].Data, `From: "Your Organization" <org@example.com>`)
}

func TestSender_Send_StartTLSNotOffered(t *testing.T) {
	t.Parallel()

	srv := startServer(t, smtptest.Options{})
	s := NewSender(Config{Host: srv.Host(), Port: srv.Port(), From: "org@example.com", Mode: ModeStartTLS}, nil)

	err := s.Send(context.Background(), testEmail("ana@example.com"))
	require.Error(t, err)
	assert.Equal(t, mail.StageTLS, mail.StageOf(err))
	assert.Empty(t, srv.Messages())
}

func TestSender_Send_UntrustedCertificate(t *testing.T) {
	t.Parallel()

	srvTLS, _ := serverTLS(t)
	srv := startServer(t, smtptest.Options{TLS: srvTLS})
	s := NewSender(Config{Host: srv.Host(), Port: srv.Port(), From: "org@example.com", Mode: ModeTLS}, nil)

	err := s.Send(context.Background(), testEmail("ana@example.com"))
	require.Error(t, err)
	assert.Equal(t, mail.StageTLS, mail.StageOf(err))
}

func TestSender_Send_InsecureSkipsVerification(t *testing.T) {
	t.Parallel()

	srvTLS, _ := serverTLS(t)
	srv := startServer(t, smtptest.Options{TLS: srvTLS})
	s := NewSender(Config{
		Host:     srv.Host(),
		Port:     srv.Port(),
		From:     "org@example.com",
		Mode:     ModeTLS,
		Insecure: true,
	}, nil)

	require.NoError(t, s.Send(context.Background(), testEmail("ana@example.com")))
	assert.Len(t, srv.Messages(), 1)
}

func TestSender_Send_AuthFailure(t *testing.T) {
	t.Parallel()

	srv := startServer(t, smtptest.Options{Username: "user", Password: "secret"})
	s := NewSender(Config{
		Host:     srv.Host(),
		Port:     srv.Port(),
		Username: "user",
		Password: "wrong",
		Mode:     ModeNone,
	}, nil)

	err := s.Send(context.Background(), testEmail("ana@example.com"))
	require.Error(t, err)
	assert.Equal(t, mail.StageAuth, mail.StageOf(err))
	assert.Empty(t, srv.Messages())
}

func TestSender_Send_RecipientRejected(t *testing.T) {
	t.Parallel()

	srv := startServer(t, smtptest.Options{
		RejectRcpt: func(addr string) bool { return strings.HasPrefix(addr, "nobody@") },
	})
	s := NewSender(Config{Host: srv.Host(), Port: srv.Port(), From: "org@example.com", Mode: ModeNone}, nil)

	err := s.Send(context.Background(), testEmail("nobody@example.com"))
	require.Error(t, err)
	assert.Equal(t, mail.StageEnvelope, mail.StageOf(err))
	assert.Contains(t, err.Error(), "nobody@example.com")
	assert.Empty(t, srv.Messages())
}

func TestSender_Send_ConnectionRefused(t *testing.T) {
	t.Parallel()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())

	s := NewSender(Config{Host: "127.0.0.1", Port: port, From: "org@example.com", Mode: ModeNone, Timeout: time.Second}, nil)

	err = s.Send(context.Background(), testEmail("ana@example.com"))
	require.Error(t, err)
	assert.Equal(t, mail.StageConnect, mail.StageOf(err))
}

func TestSender_Send_CanceledContext(t *testing.T) {
	t.Parallel()

	srv := startServer(t, smtptest.Options{})
	s := NewSender(Config{Host: srv.Host(), Port: srv.Port(), From: "org@example.com", Mode: ModeNone}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := s.Send(ctx, testEmail("ana@example.com"))
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, mail.StageConnect, mail.StageOf(err))
	assert.Zero(t, srv.Sessions())
}

func TestSender_Send_CancelDuringSession(t *testing.T) {
	t.Parallel()

	srv := startServer(t, smtptest.Options{DataDelay: 2 * time.Second})
	s := NewSender(Config{Host: srv.Host(), Port: srv.Port(), From: "org@example.com", Mode: ModeNone}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := s.Send(ctx, testEmail("ana@example.com"))
	require.Error(t, err)
	assert.Equal(t, mail.StageData, mail.StageOf(err))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestSender_Send_CancelMidData(t *testing.T) {
	t.Parallel()

	srv := startServer(t, smtptest.Options{DataDelay: 2 * time.Second})
	s := NewSender(Config{Host: srv.Host(), Port: srv.Port(), From: "org@example.com", Mode: ModeNone}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	timer := time.AfterFunc(200*time.Millisecond, cancel)
	defer timer.Stop()

	err := s.Send(ctx, testEmail("ana@example.com"))
	require.Error(t, err)
	assert.Equal(t, mail.StageData, mail.StageOf(err))
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, mail.ErrTimeout)
}

func TestSender_Send_SessionTimeout(t *testing.T) {
	t.Parallel()

	srv := startServer(t, smtptest.Options{DataDelay: time.Second})
	s := NewSender(Config{
		Host:    srv.Host(),
		Port:    srv.Port(),
		From:    "org@example.com",
		Mode:    ModeNone,
		Timeout: 200 * time.Millisecond,
	}, nil)

	start := time.Now()
	err := s.Send(context.Background(), testEmail("ana@example.com"))
	require.Error(t, err)
	assert.Equal(t, mail.StageData, mail.StageOf(err))
	assert.ErrorIs(t, err, mail.ErrTimeout)
	assert.NotErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}

func TestIsTimeout(t *testing.T) {
	t.Parallel()

	assert.True(t, isTimeout(os.ErrDeadlineExceeded))
	assert.True(t, isTimeout(errors.Wrap(&net.OpError{Op: "read", Net: "tcp", Err: os.ErrDeadlineExceeded}, "message rejected")))
	assert.False(t, isTimeout(errors.New("554 rejected")))
	assert.False(t, isTimeout(nil))
}

func TestSender_Send_NoRecipients(t *testing.T) {
	t.Parallel()

	s := NewSender(Config{Host: "127.0.0.1", Port: 2525, From: "org@example.com", Mode: ModeNone}, nil)

	err := s.Send(context.Background(), mail.Email{Subject: "x"})
	require.Error(t, err)
	assert.Equal(t, mail.StageCompose, mail.StageOf(err))
}

func TestSender_Send_NoFrom(t *testing.T) {
	t.Parallel()

	s := NewSender(Config{Host: "127.0.0.1", Port: 2525, Mode: ModeNone}, nil)

	err := s.Send(context.Background(), testEmail("ana@example.com"))
	require.Error(t, err)
	assert.Equal(t, mail.StageCompose, mail.StageOf(err))
}

func TestSender_Send_WhenClosed(t *testing.T) {
	t.Parallel()

	s := NewSender(Config{Host: "127.0.0.1", Port: 2525, Mode: ModeNone}, nil)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	err := s.Send(context.Background(), testEmail("ana@example.com"))
	assert.ErrorIs(t, err, ErrClosed)
}

func TestSender_Send_Concurrent(t *testing.T) {
	t.Parallel()

	srv := startServer(t, smtptest.Options{DataDelay: 100 * time.Millisecond})
	s := NewSender(Config{Host: srv.Host(), Port: srv.Port(), From: "org@example.com", Mode: ModeNone}, nil)

	const n = 5
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- s.Send(context.Background(), testEmail("ana@example.com"))
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
	assert.Len(t, srv.Messages(), n)
	assert.Equal(t, n, srv.Sessions())
	assert.Greater(t, srv.MaxConcurrent(), 1)
}

func TestConfig_Validate(t *testing.T) {
	t.Parallel()

	valid := Config{Host: "smtp.gmail.com", Port: 465, Mode: ModeTLS, Username: "u", Password: "p"}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "no credentials", mutate: func(c *Config) { c.Username, c.Password = "", "" }},
		{name: "empty host", mutate: func(c *Config) { c.Host = "" }, wantErr: true},
		{name: "bad port", mutate: func(c *Config) { c.Port = 0 }, wantErr: true},
		{name: "unknown mode", mutate: func(c *Config) { c.Mode = "ssl" }, wantErr: true},
		{name: "user without password", mutate: func(c *Config) { c.Password = "" }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := valid
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestConfig_LogValueRedactsPassword(t *testing.T) {
	t.Parallel()

	cfg := Config{Host: "smtp.gmail.com", Port: 465, Username: "org@example.com", Password: "hunter2", Mode: ModeTLS}

	var buf strings.Builder
	log := slog.New(slog.NewJSONHandler(&buf, nil))
	log.Info("smtp", "config", cfg)

	assert.NotContains(t, buf.String(), "hunter2")
	assert.Contains(t, buf.String(), "[REDACTED]")
	assert.Contains(t, buf.String(), `"from":"org@example.com"`)
	assert.Equal(t, "smtp.gmail.com:465", cfg.Addr())
}
