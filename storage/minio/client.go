package minio

import (
	"context"
	"crypto/tls"
	"log/slog"
	"sync"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/pkg/errors"
)

// Client wraps minio.Client bound to the asset bucket.
type Client struct {
	client *minio.Client
	cfg    Config
	logger *slog.Logger
	mu     sync.RWMutex
	closed bool
}

// ClientOptions contains options for client creation.
type ClientOptions struct {
	Logger *slog.Logger
}

// NewClient creates a new S3-compatible client and verifies the asset bucket exists.
func NewClient(ctx context.Context, cfg Config, options *ClientOptions) (*Client, error) {
	if options == nil {
		options = &ClientOptions{}
	}
	if options.Logger == nil {
		options.Logger = slog.Default()
	}
	if cfg.Bucket == "" {
		return nil, errors.New("bucket is not configured")
	}

	logger := options.Logger.WithGroup("s3")
	endpoint := cfg.GetEndpoint()

	transport, err := minio.DefaultTransport(cfg.Secure)
	if err != nil {
		return nil, errors.Wrap(err, "failed to build S3 transport")
	}
	if cfg.Secure && cfg.InsecureSkipVerify {
		if transport.TLSClientConfig == nil {
			transport.TLSClientConfig = &tls.Config{MinVersion: tls.VersionTLS12}
		}
		transport.TLSClientConfig.InsecureSkipVerify = true // #nosec G402 -- controlled by config
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:     credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Region:    cfg.Region,
		Secure:    cfg.Secure,
		Transport: transport,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to create S3 client")
	}

	timeout := time.Duration(cfg.Timeout) * time.Second
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	checkCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ok, err := client.BucketExists(checkCtx, cfg.Bucket)
	if err != nil {
		return nil, errors.Wrap(err, "failed to connect to S3 storage")
	}
	if !ok {
		return nil, toStorageError(errors.Errorf("bucket %s does not exist", cfg.Bucket), cfg.Bucket, "")
	}

	logger.Info("S3 client initialized", "endpoint", endpoint, "bucket", cfg.Bucket, "region", cfg.Region)

	return &Client{
		client: client,
		cfg:    cfg,
		logger: logger,
	}, nil
}

// Close marks the client closed. minio.Client holds no long-lived connections to release.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}

	c.closed = true
	c.logger.Info("S3 client closed")
	return nil
}

// IsClosed returns true if the client is closed.
func (c *Client) IsClosed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}
