package main

import (
	"github.com/pkg/errors"

	"github.com/pure-golang/certmailer/delivery"
	"github.com/pure-golang/certmailer/env"
	"github.com/pure-golang/certmailer/kv"
	"github.com/pure-golang/certmailer/ledger"
	"github.com/pure-golang/certmailer/logger"
	"github.com/pure-golang/certmailer/mail/smtp"
	"github.com/pure-golang/certmailer/metrics"
	"github.com/pure-golang/certmailer/tracing/jaeger"
)

type AssetsSource string

const (
	AssetsLocal AssetsSource = "local" // ASSETS_DIR
	AssetsS3    AssetsSource = "s3"    // S3_* bucket
)

type AssetsConfig struct {
	Source AssetsSource `envconfig:"ASSETS_SOURCE" default:"local"`
	Layout string       `envconfig:"ASSETS_LAYOUT"` // YAML layout file, stock layout when empty
}

// Config is the run configuration. It is loaded once and never changed afterwards.
// Source specific settings (ASSETS_DIR, S3_*) are loaded only for the selected source.
type Config struct {
	Logger   logger.Config
	Assets   AssetsConfig
	SMTP     smtp.Config
	Delivery delivery.Config
	KV       kv.Config
	Ledger   ledger.Config
	Metrics  metrics.Config
	Tracing  jaeger.Config
}

func loadConfig() (*Config, error) {
	cfg := &Config{}
	parts := []struct {
		name string
		dst  any
	}{
		{"logger", &cfg.Logger},
		{"assets", &cfg.Assets},
		{"smtp", &cfg.SMTP},
		{"delivery", &cfg.Delivery},
		{"kv", &cfg.KV},
		{"ledger", &cfg.Ledger},
		{"metrics", &cfg.Metrics},
		{"tracing", &cfg.Tracing},
	}
	for _, part := range parts {
		if err := env.InitConfig(part.dst); err != nil {
			return nil, errors.Wrapf(err, "failed to load %s config", part.name)
		}
	}

	switch cfg.Assets.Source {
	case AssetsLocal, AssetsS3:
	default:
		return nil, errors.Errorf("unknown assets source %q", cfg.Assets.Source)
	}
	return cfg, nil
}
