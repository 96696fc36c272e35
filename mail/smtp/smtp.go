package smtp

import (
	"log/slog"
	"net"
	"strconv"
	"time"

	"github.com/pkg/errors"
)

// Mode selects how the connection is secured.
type Mode string

const (
	ModeTLS      Mode = "tls"      // implicit TLS, usually port 465
	ModeStartTLS Mode = "starttls" // plain connect then STARTTLS, usually port 587
	ModeNone     Mode = "none"     // no encryption, local relays and tests only
)

// Config contains SMTP connection parameters.
type Config struct {
	Host     string        `envconfig:"SMTP_HOST" default:"smtp.gmail.com"`
	Port     int           `envconfig:"SMTP_PORT" default:"465"`
	Username string        `envconfig:"SMTP_USER"`     // username or email
	Password string        `envconfig:"SMTP_PASSWORD"` // password or app password
	From     string        `envconfig:"SMTP_FROM"`     // defaults to Username
	FromName string        `envconfig:"SMTP_FROM_NAME"`
	Mode     Mode          `envconfig:"SMTP_MODE" default:"tls"`
	Insecure bool          `envconfig:"SMTP_INSECURE" default:"false"` // skip certificate verification
	Timeout  time.Duration `envconfig:"SMTP_TIMEOUT" default:"30s"`    // whole session, per email
}

// Validate checks the settings needed to open a session.
func (c Config) Validate() error {
	if c.Host == "" {
		return errors.New("smtp host is empty")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return errors.Errorf("invalid smtp port %d", c.Port)
	}
	switch c.Mode {
	case ModeTLS, ModeStartTLS, ModeNone:
	default:
		return errors.Errorf("unknown smtp mode %q", c.Mode)
	}
	if c.Username != "" && c.Password == "" {
		return errors.New("smtp password is empty")
	}
	return nil
}

// Addr returns host:port.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// LogValue implements slog.LogValuer. The password never leaves the process.
func (c Config) LogValue() slog.Value {
	password := ""
	if c.Password != "" {
		password = "[REDACTED]"
	}
	return slog.GroupValue(
		slog.String("host", c.Host),
		slog.Int("port", c.Port),
		slog.String("user", c.Username),
		slog.String("password", password),
		slog.String("from", c.sender()),
		slog.String("mode", string(c.Mode)),
		slog.Duration("timeout", c.Timeout),
	)
}

func (c Config) sender() string {
	if c.From != "" {
		return c.From
	}
	return c.Username
}
