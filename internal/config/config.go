// Package config loads and validates the portal configuration using Viper.
//
// Configuration is layered: built-in defaults < YAML config file < environment
// variables. Environment variables use the SPARK_ prefix (e.g.,
// SPARK_PORTAL_API_BASE_URL overrides portal.api_base_url in the YAML).
//
// The portal also honours the variable names the previous web frontend used
// (NEXT_PUBLIC_API_URL and NEXT_PUBLIC_BRAND_NAME) so existing deployment
// manifests keep working after the switch.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	Server         ServerConfig         `mapstructure:"server"`
	Portal         PortalConfig         `mapstructure:"portal"`
	DataRoom       DataRoomConfig       `mapstructure:"data_room"`
	Receipts       ReceiptsConfig       `mapstructure:"receipts"`
	Reconciliation ReconciliationConfig `mapstructure:"reconciliation"`
	Storage        StorageConfig        `mapstructure:"storage"`
	Cache          CacheConfig          `mapstructure:"cache"`
	Webhooks       WebhooksConfig       `mapstructure:"webhooks"`
	Security       SecurityConfig       `mapstructure:"security"`
	Logging        LoggingConfig        `mapstructure:"logging"`
	Telemetry      TelemetryConfig      `mapstructure:"telemetry"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	BaseURL      string        `mapstructure:"base_url"`
	Env          string        `mapstructure:"env"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// PortalConfig holds the settings the server-rendered pages read at startup.
type PortalConfig struct {
	// APIBaseURL is the origin the data-room panel and the receipt viewer
	// talk to. It usually equals server.base_url but may point at a separate
	// API deployment.
	APIBaseURL string `mapstructure:"api_base_url"`
	// BrandName is shown in the page title and header.
	BrandName string `mapstructure:"brand_name"`
	// DefaultOrg is used whenever an organization identifier is absent or empty.
	DefaultOrg string `mapstructure:"default_org"`
	// RequestTimeout bounds a single panel fetch at the transport level.
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	// RenderWait is how long a page handler waits for the panel to settle
	// before rendering it in its loading state.
	RenderWait time.Duration `mapstructure:"render_wait"`
	// StreamTimeout bounds the data-room event stream. It must end before
	// server.write_timeout so the closing error event reaches the browser.
	StreamTimeout time.Duration `mapstructure:"stream_timeout"`
}

// DataRoomConfig holds the document catalog and signing lifetimes.
type DataRoomConfig struct {
	ReviewerURLTTL time.Duration `mapstructure:"reviewer_url_ttl"`
	DefaultURLTTL  time.Duration `mapstructure:"default_url_ttl"`
	// Catalog lists the documents offered for every organization. Keys may
	// contain the {org} placeholder.
	Catalog []CatalogEntry `mapstructure:"catalog"`
}

// CatalogEntry is one document offered in the data room.
type CatalogEntry struct {
	Key  string `mapstructure:"key"`
	Name string `mapstructure:"name"`
}

// ReceiptsConfig holds receipt and annual statement delivery configuration
type ReceiptsConfig struct {
	// PathPrefix is the storage prefix under which receipt PDFs are stored.
	PathPrefix string        `mapstructure:"path_prefix"`
	CacheTTL   time.Duration `mapstructure:"cache_ttl"`

	// StatementPrefix holds annual statements as {prefix}/{year}/{donor}.pdf.
	StatementPrefix   string        `mapstructure:"statement_prefix"`
	StatementCacheTTL time.Duration `mapstructure:"statement_cache_ttl"`
}

// ReconciliationConfig holds the storage prefix of the donation ledgers and
// the reconciliation report.
type ReconciliationConfig struct {
	PathPrefix string `mapstructure:"path_prefix"`
}

// StorageConfig holds storage backend configuration
type StorageConfig struct {
	DefaultBackend string             `mapstructure:"default_backend"`
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
	// Endpoint is the S3-compatible endpoint URL (optional, for MinIO and friends)
	Endpoint string `mapstructure:"endpoint"`
	Region   string `mapstructure:"region"`
	Bucket   string `mapstructure:"bucket"`

	// AuthMethod is one of "default", "static" or "assume_role".
	AuthMethod string `mapstructure:"auth_method"`

	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`

	RoleARN         string `mapstructure:"role_arn"`
	RoleSessionName string `mapstructure:"role_session_name"`
}

// GCSStorageConfig holds Google Cloud Storage configuration
type GCSStorageConfig struct {
	// Bucket is the secure bucket that holds data-room documents and receipts.
	Bucket string `mapstructure:"bucket"`

	// AuthMethod is one of "default" or "service_account".
	AuthMethod      string `mapstructure:"auth_method"`
	CredentialsFile string `mapstructure:"credentials_file"`
	CredentialsJSON string `mapstructure:"credentials_json"`

	// Endpoint is an optional custom endpoint (for GCS emulators)
	Endpoint string `mapstructure:"endpoint"`
}

// LocalStorageConfig holds local filesystem storage configuration
type LocalStorageConfig struct {
	BasePath string `mapstructure:"base_path"`
	// SigningKey signs the expiring download links handed out for local files.
	SigningKey string `mapstructure:"signing_key"`
}

// CacheConfig holds redis configuration
type CacheConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	URL            string        `mapstructure:"url"`
	MaxConnections int           `mapstructure:"max_connections"`
	SocketTimeout  time.Duration `mapstructure:"socket_timeout"`
	KeyPrefix      string        `mapstructure:"key_prefix"`
}

// WebhooksConfig holds inbound payment webhook configuration
type WebhooksConfig struct {
	Square SquareWebhookConfig `mapstructure:"square"`
}

// SquareWebhookConfig holds Square webhook verification settings
type SquareWebhookConfig struct {
	SignatureKey       string        `mapstructure:"signature_key"`
	NotificationURL    string        `mapstructure:"notification_url"`
	IdempotencyTTL     time.Duration `mapstructure:"idempotency_ttl"`
	RateLimitPerMinute int           `mapstructure:"rate_limit_per_minute"`
	TimestampTolerance time.Duration `mapstructure:"timestamp_tolerance"`
	LockTTL            time.Duration `mapstructure:"lock_ttl"`
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
}

// RateLimitingConfig holds rate limiting configuration
type RateLimitingConfig struct {
	Enabled           bool `mapstructure:"enabled"`
	RequestsPerMinute int  `mapstructure:"requests_per_minute"`
	Burst             int  `mapstructure:"burst"`
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
	ServiceName string          `mapstructure:"service_name"`
	Metrics     MetricsConfig   `mapstructure:"metrics"`
	Profiling   ProfilingConfig `mapstructure:"profiling"`
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

// legacyEnv maps config keys to the environment variable names the previous
// frontend read. They are bound after the SPARK_ names so the latter win.
var legacyEnv = map[string]string{
	"portal.api_base_url": "NEXT_PUBLIC_API_URL",
	"portal.brand_name":   "NEXT_PUBLIC_BRAND_NAME",
}

// bindEnvVars explicitly binds environment variables to config keys.
// AutomaticEnv() alone does not reach nested keys during Unmarshal.
func bindEnvVars(v *viper.Viper) error {
	keys := []string{
		// Server
		"server.host",
		"server.port",
		"server.base_url",
		"server.env",
		"server.read_timeout",
		"server.write_timeout",

		// Portal
		"portal.api_base_url",
		"portal.brand_name",
		"portal.default_org",
		"portal.request_timeout",
		"portal.render_wait",
		"portal.stream_timeout",

		// Data room / receipts
		"data_room.reviewer_url_ttl",
		"data_room.default_url_ttl",
		"receipts.path_prefix",
		"receipts.cache_ttl",
		"receipts.statement_prefix",
		"receipts.statement_cache_ttl",
		"reconciliation.path_prefix",

		// Storage
		"storage.default_backend",
		"storage.azure.account_name",
		"storage.azure.account_key",
		"storage.azure.container_name",
		"storage.s3.endpoint",
		"storage.s3.region",
		"storage.s3.bucket",
		"storage.s3.auth_method",
		"storage.s3.access_key_id",
		"storage.s3.secret_access_key",
		"storage.s3.role_arn",
		"storage.s3.role_session_name",
		"storage.gcs.bucket",
		"storage.gcs.auth_method",
		"storage.gcs.credentials_file",
		"storage.gcs.credentials_json",
		"storage.gcs.endpoint",
		"storage.local.base_path",
		"storage.local.signing_key",

		// Cache
		"cache.enabled",
		"cache.url",
		"cache.max_connections",
		"cache.socket_timeout",
		"cache.key_prefix",

		// Webhooks
		"webhooks.square.signature_key",
		"webhooks.square.notification_url",
		"webhooks.square.idempotency_ttl",
		"webhooks.square.rate_limit_per_minute",
		"webhooks.square.timestamp_tolerance",
		"webhooks.square.lock_ttl",

		// Security
		"security.cors.allowed_origins",
		"security.rate_limiting.enabled",
		"security.rate_limiting.requests_per_minute",
		"security.rate_limiting.burst",
		"security.tls.enabled",
		"security.tls.cert_file",
		"security.tls.key_file",

		// Logging
		"logging.level",
		"logging.format",

		// Telemetry
		"telemetry.service_name",
		"telemetry.metrics.enabled",
		"telemetry.metrics.prometheus_port",
		"telemetry.profiling.enabled",
		"telemetry.profiling.port",
	}
	for _, key := range keys {
		envNames := []string{"SPARK_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))}
		if legacy, ok := legacyEnv[key]; ok {
			envNames = append(envNames, legacy)
		}
		if err := v.BindEnv(append([]string{key}, envNames...)...); err != nil {
			return fmt.Errorf("failed to bind env var %q: %w", key, err)
		}
	}
	return nil
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
		v.AddConfigPath("/etc/spark-portal")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found; use defaults and environment variables
	}

	v.SetEnvPrefix("SPARK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := bindEnvVars(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Expand environment variables in sensitive fields
	cfg.Storage.Azure.AccountKey = expandEnv(cfg.Storage.Azure.AccountKey)
	cfg.Storage.S3.AccessKeyID = expandEnv(cfg.Storage.S3.AccessKeyID)
	cfg.Storage.S3.SecretAccessKey = expandEnv(cfg.Storage.S3.SecretAccessKey)
	cfg.Storage.Local.SigningKey = expandEnv(cfg.Storage.Local.SigningKey)
	cfg.Cache.URL = expandEnv(cfg.Cache.URL)
	cfg.Webhooks.Square.SignatureKey = expandEnv(cfg.Webhooks.Square.SignatureKey)

	cfg.Portal.APIBaseURL = strings.TrimRight(cfg.Portal.APIBaseURL, "/")
	cfg.Server.BaseURL = strings.TrimRight(cfg.Server.BaseURL, "/")

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.base_url", "http://localhost:8080")
	v.SetDefault("server.env", "local")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")

	// Portal defaults
	v.SetDefault("portal.api_base_url", "http://localhost:8080")
	v.SetDefault("portal.brand_name", "SparkCreatives")
	v.SetDefault("portal.default_org", "spark")
	v.SetDefault("portal.request_timeout", "30s")
	v.SetDefault("portal.render_wait", "5s")
	v.SetDefault("portal.stream_timeout", "25s")

	// Data room defaults
	v.SetDefault("data_room.reviewer_url_ttl", "2h")
	v.SetDefault("data_room.default_url_ttl", "15m")
	v.SetDefault("data_room.catalog", []map[string]string{
		{"key": "{org}/governance/IRS_Letter.pdf", "name": "IRS Determination Letter"},
		{"key": "{org}/policies/Donor_Privacy_Policy.pdf", "name": "Donor Privacy Policy"},
		{"key": "{org}/financials/Budget_Summary_FY2025.pdf", "name": "Budget Summary FY2025"},
	})

	// Receipt defaults
	v.SetDefault("receipts.path_prefix", "receipts")
	v.SetDefault("receipts.cache_ttl", "720h")
	v.SetDefault("receipts.statement_prefix", "statements")
	v.SetDefault("receipts.statement_cache_ttl", "2160h")

	// Reconciliation defaults
	v.SetDefault("reconciliation.path_prefix", "reconciliation")

	// Storage defaults
	v.SetDefault("storage.default_backend", "local")
	v.SetDefault("storage.local.base_path", "./storage")
	v.SetDefault("storage.gcs.bucket", "spark-secure")

	// Cache defaults
	v.SetDefault("cache.enabled", true)
	v.SetDefault("cache.url", "redis://localhost:6379/0")
	v.SetDefault("cache.max_connections", 50)
	v.SetDefault("cache.socket_timeout", "5s")
	v.SetDefault("cache.key_prefix", "spark")

	// Webhook defaults
	v.SetDefault("webhooks.square.idempotency_ttl", "24h")
	v.SetDefault("webhooks.square.rate_limit_per_minute", 100)
	v.SetDefault("webhooks.square.timestamp_tolerance", "5m")
	v.SetDefault("webhooks.square.lock_ttl", "30s")

	// Security defaults
	v.SetDefault("security.cors.allowed_origins", []string{"*"})
	v.SetDefault("security.rate_limiting.enabled", true)
	v.SetDefault("security.rate_limiting.requests_per_minute", 120)
	v.SetDefault("security.rate_limiting.burst", 30)
	v.SetDefault("security.tls.enabled", false)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	// Telemetry defaults
	v.SetDefault("telemetry.service_name", "spark-portal")
	v.SetDefault("telemetry.metrics.enabled", true)
	v.SetDefault("telemetry.metrics.prometheus_port", 9090)
	v.SetDefault("telemetry.profiling.enabled", false)
	v.SetDefault("telemetry.profiling.port", 6060)
}

// expandEnv expands environment variables in the format ${VAR_NAME}
func expandEnv(s string) string {
	return os.ExpandEnv(s)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Server.BaseURL == "" {
		return fmt.Errorf("server.base_url is required")
	}

	if err := validateOrigin(c.Portal.APIBaseURL); err != nil {
		return fmt.Errorf("portal.api_base_url: %w", err)
	}
	if c.Portal.DefaultOrg == "" {
		return fmt.Errorf("portal.default_org is required")
	}
	if c.Portal.BrandName == "" {
		return fmt.Errorf("portal.brand_name is required")
	}
	if c.Server.WriteTimeout > 0 && (c.Portal.StreamTimeout <= 0 || c.Portal.StreamTimeout >= c.Server.WriteTimeout) {
		return fmt.Errorf("portal.stream_timeout (%s) must be positive and shorter than server.write_timeout (%s)",
			c.Portal.StreamTimeout, c.Server.WriteTimeout)
	}

	if c.DataRoom.ReviewerURLTTL <= 0 || c.DataRoom.DefaultURLTTL <= 0 {
		return fmt.Errorf("data_room url ttls must be positive")
	}
	for i, entry := range c.DataRoom.Catalog {
		if entry.Key == "" {
			return fmt.Errorf("data_room.catalog[%d].key is required", i)
		}
	}

	validBackends := map[string]bool{"azure": true, "s3": true, "gcs": true, "local": true}
	if !validBackends[c.Storage.DefaultBackend] {
		return fmt.Errorf("invalid storage backend: %s (must be azure, s3, gcs, or local)", c.Storage.DefaultBackend)
	}

	switch c.Storage.DefaultBackend {
	case "azure":
		if c.Storage.Azure.AccountName == "" {
			return fmt.Errorf("storage.azure.account_name is required when using Azure backend")
		}
		if c.Storage.Azure.AccountKey == "" {
			return fmt.Errorf("storage.azure.account_key is required when using Azure backend")
		}
		if c.Storage.Azure.ContainerName == "" {
			return fmt.Errorf("storage.azure.container_name is required when using Azure backend")
		}
	case "s3":
		if c.Storage.S3.Bucket == "" {
			return fmt.Errorf("storage.s3.bucket is required when using S3 backend")
		}
		if c.Storage.S3.Region == "" {
			return fmt.Errorf("storage.s3.region is required when using S3 backend")
		}
	case "gcs":
		if c.Storage.GCS.Bucket == "" {
			return fmt.Errorf("storage.gcs.bucket is required when using GCS backend")
		}
	case "local":
		if c.Storage.Local.BasePath == "" {
			return fmt.Errorf("storage.local.base_path is required when using local backend")
		}
	}

	if c.Cache.Enabled && c.Cache.URL == "" {
		return fmt.Errorf("cache.url is required when the cache is enabled")
	}

	if c.Security.TLS.Enabled {
		if c.Security.TLS.CertFile == "" {
			return fmt.Errorf("security.tls.cert_file is required when TLS is enabled")
		}
		if c.Security.TLS.KeyFile == "" {
			return fmt.Errorf("security.tls.key_file is required when TLS is enabled")
		}
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid logging level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}

	return nil
}

// validateOrigin accepts absolute http(s) URLs with a host.
func validateOrigin(raw string) error {
	if raw == "" {
		return fmt.Errorf("is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("host is required")
	}
	return nil
}

// GetAddress returns the server address in host:port format
func (c *ServerConfig) GetAddress() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// CatalogFor expands the catalog keys for a single organization.
func (c *DataRoomConfig) CatalogFor(org string) []CatalogEntry {
	out := make([]CatalogEntry, 0, len(c.Catalog))
	for _, entry := range c.Catalog {
		out = append(out, CatalogEntry{
			Key:  strings.ReplaceAll(entry.Key, "{org}", org),
			Name: entry.Name,
		})
	}
	return out
}
