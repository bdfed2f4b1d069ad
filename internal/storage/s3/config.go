package s3

import (
	"time"
)

// Config represents S3 backend configuration
type Config struct {
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	SessionToken    string `yaml:"session_token"`
	ForcePathStyle  bool   `yaml:"force_path_style"`

	// Performance settings
	MaxRetries     int           `yaml:"max_retries"`
	RequestTimeout time.Duration `yaml:"request_timeout"`

	// SkipHealthCheck disables the HeadBucket probe in NewBackend
	SkipHealthCheck bool `yaml:"skip_health_check"`
}

// NewDefaultConfig returns a configuration with sensible defaults
func NewDefaultConfig() *Config {
	return &Config{
		Region:         "us-east-1",
		MaxRetries:     3,
		RequestTimeout: 30 * time.Second,
	}
}

// hasStaticCredentials reports whether explicit keys were configured, as is usual for MinIO
func (c *Config) hasStaticCredentials() bool {
	return c.AccessKeyID != "" && c.SecretAccessKey != ""
}
