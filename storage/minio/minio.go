package minio

// DefaultEndpoint is used when S3_ENDPOINT is not set.
const DefaultEndpoint = "s3.amazonaws.com"

// Config contains S3-compatible asset bucket configuration.
// Works with MinIO, AWS S3, Yandex Cloud Storage and other S3-compatible providers.
type Config struct {
	Endpoint           string `envconfig:"S3_ENDPOINT"`                             // e.g. "localhost:9000" for MinIO
	AccessKey          string `envconfig:"S3_ACCESS_KEY" required:"true"`           // Access key ID
	SecretKey          string `envconfig:"S3_SECRET_KEY" required:"true"`           // Secret access key
	Region             string `envconfig:"S3_REGION" default:"us-east-1"`           // Region name
	Bucket             string `envconfig:"S3_BUCKET" required:"true"`               // Bucket holding templates and fonts
	Prefix             string `envconfig:"S3_PREFIX"`                               // Optional key prefix, e.g. "certificates/"
	Secure             bool   `envconfig:"S3_SECURE" default:"true"`                // Use HTTPS
	Timeout            int    `envconfig:"S3_TIMEOUT" default:"30"`                 // Connection check timeout in seconds
	InsecureSkipVerify bool   `envconfig:"S3_INSECURE_SKIP_VERIFY" default:"false"` // Skip TLS verification (self-signed certs)
}

// GetEndpoint returns the endpoint to use.
func (c *Config) GetEndpoint() string {
	if c.Endpoint != "" {
		return c.Endpoint
	}
	return DefaultEndpoint
}

// objectKey joins the configured prefix with an asset key.
func (c *Config) objectKey(key string) string {
	if c.Prefix == "" {
		return key
	}
	if c.Prefix[len(c.Prefix)-1] == '/' {
		return c.Prefix + key
	}
	return c.Prefix + "/" + key
}
