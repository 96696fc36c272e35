// Package metrics serves the prometheus registry while a batch runs.
package metrics

import (
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Config struct {
	Enabled     bool          `envconfig:"METRICS_ENABLED" default:"false"`
	Host        string        `envconfig:"METRICS_HOST" default:"127.0.0.1"`
	Port        int           `envconfig:"METRICS_PORT" default:"9464"`
	ReadTimeout time.Duration `envconfig:"METRICS_READ_TIMEOUT" default:"30s"`
}

type Metrics struct {
	config   Config
	server   *http.Server
	listener net.Listener
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// InitDefault starts the metrics server when enabled. A disabled config gives a no-op closer.
func InitDefault(config Config) (io.Closer, error) {
	if !config.Enabled {
		return nopCloser{}, nil
	}

	provider := New(config)
	if err := provider.Start(); err != nil {
		return nil, errors.Wrap(err, "failed to start metrics server")
	}

	slog.Default().Info("metrics server started", "addr", provider.Addr())
	return provider, nil
}

func New(config Config) *Metrics {
	return &Metrics{
		config: config,
		server: NewHttpServer(config),
	}
}

// Start binds the listen address and serves in the background.
func (s *Metrics) Start() error {
	if err := InitPrometheus(); err != nil {
		return errors.Wrap(err, "failed to init prometheus")
	}

	listener, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return errors.Wrapf(err, "failed to listen on %s", s.server.Addr)
	}
	s.listener = listener

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Default().Warn("metrics server failed", "error", err.Error())
		}
	}()

	return nil
}

// Addr returns the bound address once started, the configured one before.
func (s *Metrics) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.server.Addr
}

func (s *Metrics) Close() error {
	return errors.Wrap(s.server.Close(), "failed to close metrics")
}

func NewHttpServer(conf Config) *http.Server {
	r := http.NewServeMux()
	r.Handle("/metrics", promhttp.Handler())
	return &http.Server{
		Addr:        net.JoinHostPort(conf.Host, strconv.Itoa(conf.Port)),
		Handler:     r,
		ReadTimeout: conf.ReadTimeout,
	}
}
