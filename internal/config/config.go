// Package config loads and validates the registry configuration using Viper.
//
// Configuration is layered: built-in defaults < YAML config file < environment
// variables. Environment variables use the REGISTRY_ prefix (e.g.
// REGISTRY_DATABASE_HOST overrides database.host in the YAML), so the same
// binary runs from a config.yaml in development and from pure environment
// variables in containers.
package config

import (
	"fmt"
	"log/slog"
	"net"
	"os"
	"reflect"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Index     IndexConfig     `mapstructure:"index"`
	Publish   PublishConfig   `mapstructure:"publish"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Security  SecurityConfig  `mapstructure:"security"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`

	v *viper.Viper
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	BaseURL      string        `mapstructure:"base_url"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// DatabaseConfig holds database connection configuration
type DatabaseConfig struct {
	Host               string `mapstructure:"host"`
	Port               int    `mapstructure:"port"`
	Name               string `mapstructure:"name"`
	User               string `mapstructure:"user"`
	Password           string `mapstructure:"password"`
	SSLMode            string `mapstructure:"ssl_mode"`
	MaxConnections     int    `mapstructure:"max_connections"`
	MinIdleConnections int    `mapstructure:"min_idle_connections"`
}

// StorageConfig holds blob storage configuration. Every backend stores
// tarballs under KeyPrefix, and download URLs point at PublicHost.
type StorageConfig struct {
	DefaultBackend string             `mapstructure:"default_backend"`
	PublicHost     string             `mapstructure:"public_host"`
	KeyPrefix      string             `mapstructure:"key_prefix"`
	Azure          AzureStorageConfig `mapstructure:"azure"`
	S3             S3StorageConfig    `mapstructure:"s3"`
	GCS            GCSStorageConfig   `mapstructure:"gcs"`
	Local          LocalStorageConfig `mapstructure:"local"`
}

// AzureStorageConfig holds Azure Blob Storage configuration
type AzureStorageConfig struct {
	AccountName   string `mapstructure:"account_name"`
	AccountKey    string `mapstructure:"account_key"`
	ContainerName string `mapstructure:"container_name"`
}

// S3StorageConfig holds S3-compatible storage configuration
type S3StorageConfig struct {
	// Endpoint is optional, for MinIO and other S3-compatible services
	Endpoint string `mapstructure:"endpoint"`
	Region   string `mapstructure:"region"`
	Bucket   string `mapstructure:"bucket"`

	// AuthMethod is one of "default", "static", "assume_role" or "oidc".
	AuthMethod string `mapstructure:"auth_method"`

	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`

	RoleARN              string `mapstructure:"role_arn"`
	RoleSessionName      string `mapstructure:"role_session_name"`
	ExternalID           string `mapstructure:"external_id"`
	WebIdentityTokenFile string `mapstructure:"web_identity_token_file"`
}

// GCSStorageConfig holds Google Cloud Storage configuration
type GCSStorageConfig struct {
	Bucket string `mapstructure:"bucket"`

	// AuthMethod is "default" (Application Default Credentials) or "service_account".
	AuthMethod      string `mapstructure:"auth_method"`
	CredentialsFile string `mapstructure:"credentials_file"`
	CredentialsJSON string `mapstructure:"credentials_json"`

	// Endpoint is optional, for GCS emulators
	Endpoint string `mapstructure:"endpoint"`
}

// LocalStorageConfig holds local filesystem storage configuration
type LocalStorageConfig struct {
	BasePath string `mapstructure:"base_path"`
}

// IndexConfig selects and configures the package index backend.
type IndexConfig struct {
	Backend string          `mapstructure:"backend"`
	HTTP    HTTPIndexConfig `mapstructure:"http"`
	File    FileIndexConfig `mapstructure:"file"`
}

// HTTPIndexConfig configures the remote index service client.
type HTTPIndexConfig struct {
	URL        string        `mapstructure:"url"`
	Token      string        `mapstructure:"token"`
	Timeout    time.Duration `mapstructure:"timeout"`
	MaxRetries int           `mapstructure:"max_retries"`
}

// FileIndexConfig configures the on-disk index.
type FileIndexConfig struct {
	Path string `mapstructure:"path"`
}

// PublishConfig holds limits applied to uploads
type PublishConfig struct {
	MaxUploadSize int64 `mapstructure:"max_upload_size"`
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	APIKeys APIKeyConfig `mapstructure:"api_keys"`
	JWT     JWTConfig    `mapstructure:"jwt"`
}

// APIKeyConfig holds API key authentication configuration
type APIKeyConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Prefix  string `mapstructure:"prefix"`
}

// JWTConfig toggles bearer JWT credentials. The signing secret is read from
// REGISTRY_JWT_SECRET, never from the config file.
type JWTConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// SecurityConfig holds security-related configuration
type SecurityConfig struct {
	CORS         CORSConfig         `mapstructure:"cors"`
	RateLimiting RateLimitingConfig `mapstructure:"rate_limiting"`
	TLS          TLSConfig          `mapstructure:"tls"`
}

// CORSConfig holds CORS configuration
type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	AllowedMethods []string `mapstructure:"allowed_methods"`
}

// RateLimitingConfig holds rate limiting configuration. When Redis.Addr is
// set, limits are shared across instances; otherwise each process keeps its
// own token buckets.
type RateLimitingConfig struct {
	Enabled           bool        `mapstructure:"enabled"`
	RequestsPerMinute int         `mapstructure:"requests_per_minute"`
	Burst             int         `mapstructure:"burst"`
	Redis             RedisConfig `mapstructure:"redis"`
}

// RedisConfig holds the Redis connection used by the distributed rate limiter
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// TLSConfig holds TLS/HTTPS configuration
type TLSConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	CertFile string `mapstructure:"cert_file"`
	KeyFile  string `mapstructure:"key_file"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// TelemetryConfig holds observability configuration
type TelemetryConfig struct {
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Profiling ProfilingConfig `mapstructure:"profiling"`
}

// MetricsConfig holds Prometheus metrics configuration
type MetricsConfig struct {
	Enabled        bool `mapstructure:"enabled"`
	PrometheusPort int  `mapstructure:"prometheus_port"`
}

// ProfilingConfig holds profiling configuration
type ProfilingConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// bindEnvVars binds every leaf key of Config. AutomaticEnv alone does not
// reach nested keys during Unmarshal.
func bindEnvVars(v *viper.Viper) error {
	for _, key := range configKeys(reflect.TypeOf(Config{}), "") {
		if err := v.BindEnv(key); err != nil {
			return fmt.Errorf("failed to bind env var %q: %w", key, err)
		}
	}
	return nil
}

// configKeys walks mapstructure tags and returns dotted leaf keys such as
// "storage.s3.bucket".
func configKeys(t reflect.Type, prefix string) []string {
	var keys []string
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		tag := f.Tag.Get("mapstructure")
		if tag == "" || !f.IsExported() {
			continue
		}
		key := tag
		if prefix != "" {
			key = prefix + "." + tag
		}
		if f.Type.Kind() == reflect.Struct {
			keys = append(keys, configKeys(f.Type, key)...)
			continue
		}
		keys = append(keys, key)
	}
	return keys
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/package-registry")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// No config file; defaults and environment variables only
	}

	v.SetEnvPrefix("REGISTRY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := bindEnvVars(v); err != nil {
		return nil, err
	}

	cfg, err := decode(v)
	if err != nil {
		return nil, err
	}
	cfg.v = v
	return cfg, nil
}

// decode unmarshals, expands secrets and validates the current viper state.
func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	cfg.Database.Password = expandEnv(cfg.Database.Password)
	cfg.Storage.Azure.AccountKey = expandEnv(cfg.Storage.Azure.AccountKey)
	cfg.Storage.S3.AccessKeyID = expandEnv(cfg.Storage.S3.AccessKeyID)
	cfg.Storage.S3.SecretAccessKey = expandEnv(cfg.Storage.S3.SecretAccessKey)
	cfg.Index.HTTP.Token = expandEnv(cfg.Index.HTTP.Token)
	cfg.Security.RateLimiting.Redis.Password = expandEnv(cfg.Security.RateLimiting.Redis.Password)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Watch reloads the config file whenever it changes on disk and passes the
// freshly validated Config to onChange. Invalid edits are logged and ignored.
// It is a no-op when the configuration did not come from a file.
func (c *Config) Watch(onChange func(*Config)) bool {
	if c.v == nil || c.v.ConfigFileUsed() == "" {
		return false
	}
	c.v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		next, err := decode(c.v)
		if err != nil {
			slog.Warn("ignoring invalid config change", "file", e.Name, "error", err)
			return
		}
		slog.Info("configuration reloaded", "file", e.Name)
		onChange(next)
	})
	c.v.WatchConfig()
	return true
}

// defaults seeds viper before the file and environment are read. Keys absent
// here still resolve through bindEnvVars.
var defaults = map[string]any{
	"server.host":          "0.0.0.0",
	"server.port":          8080,
	"server.base_url":      "http://localhost:8080",
	"server.read_timeout":  "30s",
	"server.write_timeout": "5m",

	"database.host":                 "localhost",
	"database.port":                 5432,
	"database.name":                 "package_registry",
	"database.user":                 "registry",
	"database.ssl_mode":             "require",
	"database.max_connections":      25,
	"database.min_idle_connections": 5,

	"storage.default_backend": "local",
	"storage.key_prefix":      "pkg",
	"storage.local.base_path": "./storage",
	"storage.s3.auth_method":  "default",
	"storage.gcs.auth_method": "default",

	"index.backend":          "file",
	"index.file.path":        "./index",
	"index.http.timeout":     "10s",
	"index.http.max_retries": 3,

	"publish.max_upload_size": 10 * 1024 * 1024,

	"auth.api_keys.enabled": true,
	"auth.api_keys.prefix":  "pkr_",
	"auth.jwt.enabled":      true,

	"security.cors.allowed_origins":              []string{"*"},
	"security.cors.allowed_methods":              []string{"GET", "PUT", "OPTIONS"},
	"security.rate_limiting.enabled":             true,
	"security.rate_limiting.requests_per_minute": 60,
	"security.rate_limiting.burst":               10,
	"security.tls.enabled":                       false,

	"logging.level":  "info",
	"logging.format": "json",

	"telemetry.metrics.enabled":         true,
	"telemetry.metrics.prometheus_port": 9090,
	"telemetry.profiling.enabled":       false,
	"telemetry.profiling.port":          6060,
}

func setDefaults(v *viper.Viper) {
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
}

// expandEnv resolves ${VAR} references in secret-bearing fields.
func expandEnv(s string) string {
	return os.ExpandEnv(s)
}

var logLevels = []string{"debug", "info", "warn", "error"}

// Validate checks each section in order and reports the first problem found.
func (c *Config) Validate() error {
	checks := []func() error{
		c.Server.validate,
		c.Database.validate,
		c.Storage.validate,
		c.Index.validate,
		c.Publish.validate,
		c.Security.TLS.validate,
		c.Logging.validate,
	}
	for _, check := range checks {
		if err := check(); err != nil {
			return err
		}
	}
	return nil
}

type setting struct {
	key, value string
}

// require fails on the first empty setting. when, if set, is appended to the
// message to say which option made the setting mandatory.
func require(when string, settings ...setting) error {
	for _, s := range settings {
		if s.value != "" {
			continue
		}
		if when == "" {
			return fmt.Errorf("%s is required", s.key)
		}
		return fmt.Errorf("%s is required %s", s.key, when)
	}
	return nil
}

func (s ServerConfig) validate() error {
	if s.Port < 1 || s.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", s.Port)
	}
	return require("", setting{"server.base_url", s.BaseURL})
}

func (d DatabaseConfig) validate() error {
	return require("",
		setting{"database.host", d.Host},
		setting{"database.name", d.Name},
		setting{"database.user", d.User},
	)
}

func (s StorageConfig) validate() error {
	var err error
	switch s.DefaultBackend {
	case "azure":
		err = require("for the azure backend",
			setting{"storage.azure.account_name", s.Azure.AccountName},
			setting{"storage.azure.account_key", s.Azure.AccountKey},
			setting{"storage.azure.container_name", s.Azure.ContainerName},
		)
	case "s3":
		err = require("for the s3 backend",
			setting{"storage.s3.bucket", s.S3.Bucket},
			setting{"storage.s3.region", s.S3.Region},
		)
	case "gcs":
		err = require("for the gcs backend", setting{"storage.gcs.bucket", s.GCS.Bucket})
	case "local":
		err = require("for the local backend", setting{"storage.local.base_path", s.Local.BasePath})
	default:
		return fmt.Errorf("invalid storage backend %q (want azure, s3, gcs or local)", s.DefaultBackend)
	}
	if err != nil {
		return err
	}
	if strings.Contains(s.PublicHost, "://") {
		return fmt.Errorf("storage.public_host must be a bare host name, got %q", s.PublicHost)
	}
	return nil
}

func (i IndexConfig) validate() error {
	switch i.Backend {
	case "http":
		return require("for the http index", setting{"index.http.url", i.HTTP.URL})
	case "file":
		return require("for the file index", setting{"index.file.path", i.File.Path})
	default:
		return fmt.Errorf("invalid index backend %q (want http or file)", i.Backend)
	}
}

func (p PublishConfig) validate() error {
	if p.MaxUploadSize <= 0 {
		return fmt.Errorf("publish.max_upload_size must be positive, got %d", p.MaxUploadSize)
	}
	return nil
}

func (t TLSConfig) validate() error {
	if !t.Enabled {
		return nil
	}
	return require("when TLS is enabled",
		setting{"security.tls.cert_file", t.CertFile},
		setting{"security.tls.key_file", t.KeyFile},
	)
}

func (l LoggingConfig) validate() error {
	if !slices.Contains(logLevels, l.Level) {
		return fmt.Errorf("invalid logging level %q (want one of %s)", l.Level, strings.Join(logLevels, ", "))
	}
	return nil
}

// GetDSN returns the PostgreSQL connection string
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

// GetAddress is the listen address, e.g. "0.0.0.0:8080".
func (c *ServerConfig) GetAddress() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}
