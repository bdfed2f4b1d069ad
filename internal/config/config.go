package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"
)

// EnvPrefix prefixes every environment override
const EnvPrefix = "CLOUDDRIVE_"

// Configuration represents the complete application configuration
type Configuration struct {
	Global     GlobalConfig     `yaml:"global"`
	Storage    StorageConfig    `yaml:"storage"`
	Filesystem FilesystemConfig `yaml:"filesystem"`
	Locking    LockingConfig    `yaml:"locking"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Server     ServerConfig     `yaml:"server"`
}

// GlobalConfig represents global application settings
type GlobalConfig struct {
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
	LogFile   string `yaml:"log_file"`
}

// StorageConfig selects and configures the object store
type StorageConfig struct {
	Backend      string   `yaml:"backend"` // "s3" or "memory"
	Bucket       string   `yaml:"bucket"`
	TenantPrefix string   `yaml:"tenant_prefix"`
	S3           S3Config `yaml:"s3"`
}

// S3Config represents S3 / MinIO connection settings
type S3Config struct {
	Region          string        `yaml:"region"`
	Endpoint        string        `yaml:"endpoint"`
	AccessKeyID     string        `yaml:"access_key_id"`
	SecretAccessKey string        `yaml:"secret_access_key"`
	ForcePathStyle  bool          `yaml:"force_path_style"`
	MaxRetries      int           `yaml:"max_retries"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
}

// FilesystemConfig tunes the virtual filesystem layer
type FilesystemConfig struct {
	MaxNameLength         int  `yaml:"max_name_length"`
	MaxUploadNameLength   int  `yaml:"max_upload_name_length"`
	DownloadChunkSize     int  `yaml:"download_chunk_size"`
	DeleteConcurrency     int  `yaml:"delete_concurrency"`
	AllowRenameOnRelocate bool `yaml:"allow_rename_on_relocate"`
}

// LockingConfig configures advisory path locks
type LockingConfig struct {
	Backend       string        `yaml:"backend"` // "local" or "redis"
	RedisAddr     string        `yaml:"redis_addr"`
	RedisPassword string        `yaml:"redis_password"`
	RedisDB       int           `yaml:"redis_db"`
	TTL           time.Duration `yaml:"ttl"`
	RetryInterval time.Duration `yaml:"retry_interval"`
	WaitTimeout   time.Duration `yaml:"wait_timeout"`
	KeyPrefix     string        `yaml:"key_prefix"`
}

// MetricsConfig represents Prometheus settings
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Namespace string `yaml:"namespace"`
}

// ServerConfig represents the HTTP API listener
type ServerConfig struct {
	Address         string        `yaml:"address"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	MaxUploadMemory int64         `yaml:"max_upload_memory"`
}

// NewDefault returns a configuration with sensible defaults
func NewDefault() *Configuration {
	return &Configuration{
		Global: GlobalConfig{
			LogLevel:  "INFO",
			LogFormat: "json",
			LogFile:   "",
		},
		Storage: StorageConfig{
			Backend:      "s3",
			Bucket:       "user-files",
			TenantPrefix: "tenant",
			S3: S3Config{
				Region:         "us-east-1",
				ForcePathStyle: true,
				MaxRetries:     3,
				RequestTimeout: 30 * time.Second,
			},
		},
		Filesystem: FilesystemConfig{
			MaxNameLength:       255,
			MaxUploadNameLength: 255,
			DownloadChunkSize:   64 * 1024,
			DeleteConcurrency:   8,
		},
		Locking: LockingConfig{
			Backend:       "local",
			RedisAddr:     "localhost:6379",
			TTL:           30 * time.Second,
			RetryInterval: 50 * time.Millisecond,
			WaitTimeout:   10 * time.Second,
			KeyPrefix:     "clouddrive:lock:",
		},
		Metrics: MetricsConfig{
			Enabled:   true,
			Namespace: "clouddrive",
		},
		Server: ServerConfig{
			Address:         ":8080",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    0,
			ShutdownTimeout: 15 * time.Second,
			MaxUploadMemory: 32 << 20,
		},
	}
}

// LoadFromFile loads configuration from a YAML file
func (c *Configuration) LoadFromFile(filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// LoadFromEnv loads configuration from environment variables
func (c *Configuration) LoadFromEnv() error {
	// Global settings
	setString(&c.Global.LogLevel, "LOG_LEVEL")
	setString(&c.Global.LogFormat, "LOG_FORMAT")
	setString(&c.Global.LogFile, "LOG_FILE")

	// Storage settings
	setString(&c.Storage.Backend, "STORAGE_BACKEND")
	setString(&c.Storage.Bucket, "BUCKET")
	setString(&c.Storage.TenantPrefix, "TENANT_PREFIX")
	setString(&c.Storage.S3.Region, "S3_REGION")
	setString(&c.Storage.S3.Endpoint, "S3_ENDPOINT")
	setString(&c.Storage.S3.AccessKeyID, "S3_ACCESS_KEY_ID")
	setString(&c.Storage.S3.SecretAccessKey, "S3_SECRET_ACCESS_KEY")
	if err := setBool(&c.Storage.S3.ForcePathStyle, "S3_FORCE_PATH_STYLE"); err != nil {
		return err
	}

	// Filesystem settings
	if err := setInt(&c.Filesystem.DownloadChunkSize, "DOWNLOAD_CHUNK_SIZE"); err != nil {
		return err
	}
	if err := setInt(&c.Filesystem.DeleteConcurrency, "DELETE_CONCURRENCY"); err != nil {
		return err
	}
	if err := setBool(&c.Filesystem.AllowRenameOnRelocate, "ALLOW_RENAME_ON_RELOCATE"); err != nil {
		return err
	}

	// Locking settings
	setString(&c.Locking.Backend, "LOCK_BACKEND")
	setString(&c.Locking.RedisAddr, "REDIS_ADDR")
	setString(&c.Locking.RedisPassword, "REDIS_PASSWORD")
	if err := setDuration(&c.Locking.TTL, "LOCK_TTL"); err != nil {
		return err
	}

	// Metrics and server
	if err := setBool(&c.Metrics.Enabled, "METRICS_ENABLED"); err != nil {
		return err
	}
	setString(&c.Server.Address, "ADDRESS")

	return nil
}

func setString(dst *string, name string) {
	if val := os.Getenv(EnvPrefix + name); val != "" {
		*dst = val
	}
}

func setInt(dst *int, name string) error {
	val := os.Getenv(EnvPrefix + name)
	if val == "" {
		return nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return fmt.Errorf("invalid %s%s: %w", EnvPrefix, name, err)
	}
	*dst = n
	return nil
}

func setBool(dst *bool, name string) error {
	val := os.Getenv(EnvPrefix + name)
	if val == "" {
		return nil
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return fmt.Errorf("invalid %s%s: %w", EnvPrefix, name, err)
	}
	*dst = b
	return nil
}

func setDuration(dst *time.Duration, name string) error {
	val := os.Getenv(EnvPrefix + name)
	if val == "" {
		return nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return fmt.Errorf("invalid %s%s: %w", EnvPrefix, name, err)
	}
	*dst = d
	return nil
}

// SaveToFile saves the configuration to a YAML file
func (c *Configuration) SaveToFile(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(filename), 0750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(filename, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate validates the configuration
func (c *Configuration) Validate() error {
	validLogLevels := []string{"DEBUG", "INFO", "WARN", "ERROR"}
	if !contains(validLogLevels, strings.ToUpper(c.Global.LogLevel)) {
		return fmt.Errorf("invalid log_level: %s (must be one of: %s)",
			c.Global.LogLevel, strings.Join(validLogLevels, ", "))
	}

	switch c.Storage.Backend {
	case "memory":
	case "s3":
		if c.Storage.Bucket == "" {
			return fmt.Errorf("storage.bucket is required for the s3 backend")
		}
	default:
		return fmt.Errorf("invalid storage.backend: %s (must be one of: s3, memory)", c.Storage.Backend)
	}
	if strings.Contains(c.Storage.TenantPrefix, "/") {
		return fmt.Errorf("storage.tenant_prefix must not contain /")
	}

	if c.Filesystem.MaxNameLength <= 0 || c.Filesystem.MaxUploadNameLength <= 0 {
		return fmt.Errorf("name length limits must be greater than 0")
	}
	if c.Filesystem.DownloadChunkSize <= 0 {
		return fmt.Errorf("download_chunk_size must be greater than 0")
	}
	if c.Filesystem.DeleteConcurrency <= 0 {
		return fmt.Errorf("delete_concurrency must be greater than 0")
	}

	switch c.Locking.Backend {
	case "local":
	case "redis":
		if c.Locking.RedisAddr == "" {
			return fmt.Errorf("locking.redis_addr is required for the redis backend")
		}
		if c.Locking.TTL <= 0 {
			return fmt.Errorf("locking.ttl must be greater than 0")
		}
	default:
		return fmt.Errorf("invalid locking.backend: %s (must be one of: local, redis)", c.Locking.Backend)
	}

	if c.Server.Address == "" {
		return fmt.Errorf("server.address is required")
	}

	return nil
}

func contains(values []string, v string) bool {
	for _, candidate := range values {
		if candidate == v {
			return true
		}
	}
	return false
}
