package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config is the root configuration of the enrichment service.
type Config struct {
	Server  ServerConfig   `mapstructure:"server"`
	Auth    AuthConfig     `mapstructure:"auth"`
	Enrich  EnrichConfig   `mapstructure:"enrich"`
	Vision  ProviderConfig `mapstructure:"vision"`
	Draft   ProviderConfig `mapstructure:"draft"`
	Storage StorageConfig  `mapstructure:"storage"`
	Audit   AuditConfig    `mapstructure:"audit"`
}

type ServerConfig struct {
	Port              int        `mapstructure:"port"`
	Mode              string     `mapstructure:"mode"`
	CORS              CORSConfig `mapstructure:"cors"`
	ShutdownTimeoutMs int        `mapstructure:"shutdown_timeout_ms"`
}

type CORSConfig struct {
	AllowedOrigins  []string `mapstructure:"allowed_origins"`
	AllowAllOrigins bool     `mapstructure:"allow_all_origins"`
}

// AuthConfig lists the API keys accepted in X-API-Key.
type AuthConfig struct {
	APIKeys []string `mapstructure:"api_keys"`
}

// EnrichConfig tunes the pipeline orchestrator and its stages.
type EnrichConfig struct {
	VisionTimeoutMs          int     `mapstructure:"vision_timeout_ms"`
	DraftTimeoutMs           int     `mapstructure:"draft_timeout_ms"`
	MaxConcurrent            int     `mapstructure:"max_concurrent"`
	ResultRetentionMs        int     `mapstructure:"result_retention_ms"`
	EnableDraftGeneration    bool    `mapstructure:"enable_draft_generation"`
	SweepIntervalMs          int     `mapstructure:"sweep_interval_ms"`
	MaxImageBytes            int64   `mapstructure:"max_image_bytes"`
	DefaultDomainPackID      string  `mapstructure:"default_domain_pack_id"`
	VisionCacheTTLMs         int     `mapstructure:"vision_cache_ttl_ms"`
	VisionCachePackSensitive bool    `mapstructure:"vision_cache_pack_sensitive"`
	DedupeVisionCalls        bool    `mapstructure:"dedupe_vision_calls"`
	MinAttributeConfidence   float64 `mapstructure:"min_attribute_confidence"`
}

// VisionTimeout returns the vision stage deadline.
func (c EnrichConfig) VisionTimeout() time.Duration {
	return time.Duration(c.VisionTimeoutMs) * time.Millisecond
}

// DraftTimeout returns the draft stage deadline.
func (c EnrichConfig) DraftTimeout() time.Duration {
	return time.Duration(c.DraftTimeoutMs) * time.Millisecond
}

// ResultRetention returns how long finished jobs stay queryable.
func (c EnrichConfig) ResultRetention() time.Duration {
	return time.Duration(c.ResultRetentionMs) * time.Millisecond
}

// SweepInterval returns the eviction sweep cadence.
func (c EnrichConfig) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalMs) * time.Millisecond
}

// VisionCacheTTL returns the vision cache entry lifetime; zero means no expiry.
func (c EnrichConfig) VisionCacheTTL() time.Duration {
	return time.Duration(c.VisionCacheTTLMs) * time.Millisecond
}

// ProviderConfig configures an OpenAI-compatible remote model.
type ProviderConfig struct {
	Provider string `mapstructure:"provider"`
	Model    string `mapstructure:"model"`
	APIKey   string `mapstructure:"api_key"`
	BaseURL  string `mapstructure:"base_url"`
}

// StorageConfig configures the optional S3-compatible image archive.
type StorageConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Type      string `mapstructure:"type"`
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	UseSSL    bool   `mapstructure:"use_ssl"`
	Bucket    string `mapstructure:"bucket"`
	Region    string `mapstructure:"region"`
	PublicURL string `mapstructure:"public_url"`
}

// AuditConfig configures the optional run audit log.
type AuditConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Driver  string `mapstructure:"driver"`
	Path    string `mapstructure:"path"`
	DSN     string `mapstructure:"dsn"`
}

// Load reads configuration from an optional YAML file, .env and the environment.
func Load(configPath string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.BindEnv("server.port", "PORT")
	v.BindEnv("auth.api_keys", "SCANIUM_API_KEYS")
	v.BindEnv("enrich.vision_timeout_ms", "VISION_TIMEOUT_MS")
	v.BindEnv("enrich.draft_timeout_ms", "DRAFT_TIMEOUT_MS")
	v.BindEnv("enrich.max_concurrent", "MAX_CONCURRENT")
	v.BindEnv("enrich.result_retention_ms", "RESULT_RETENTION_MS")
	v.BindEnv("enrich.enable_draft_generation", "ENABLE_DRAFT_GENERATION")
	v.BindEnv("vision.provider", "VISION_PROVIDER")
	v.BindEnv("vision.api_key", "OPENAI_API_KEY")
	v.BindEnv("vision.base_url", "OPENAI_BASE_URL")
	v.BindEnv("vision.model", "VISION_MODEL")
	v.BindEnv("draft.provider", "DRAFT_PROVIDER")
	v.BindEnv("draft.api_key", "OPENAI_API_KEY")
	v.BindEnv("draft.base_url", "OPENAI_BASE_URL")
	v.BindEnv("draft.model", "DRAFT_MODEL")
	v.BindEnv("storage.endpoint", "STORAGE_ENDPOINT")
	v.BindEnv("storage.access_key", "STORAGE_ACCESS_KEY")
	v.BindEnv("storage.secret_key", "STORAGE_SECRET_KEY")
	v.BindEnv("audit.dsn", "AUDIT_DATABASE_URL")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.Auth.APIKeys = splitKeys(cfg.Auth.APIKeys)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.cors.allow_all_origins", true)
	v.SetDefault("server.cors.allowed_origins", []string{})
	v.SetDefault("server.shutdown_timeout_ms", 10000)
	v.SetDefault("auth.api_keys", []string{})
	v.SetDefault("enrich.vision_timeout_ms", 15000)
	v.SetDefault("enrich.draft_timeout_ms", 30000)
	v.SetDefault("enrich.max_concurrent", 10)
	v.SetDefault("enrich.result_retention_ms", 1800000)
	v.SetDefault("enrich.enable_draft_generation", true)
	v.SetDefault("enrich.sweep_interval_ms", 60000)
	v.SetDefault("enrich.max_image_bytes", 10<<20)
	v.SetDefault("enrich.default_domain_pack_id", "home_resale")
	v.SetDefault("enrich.vision_cache_ttl_ms", 0)
	v.SetDefault("enrich.vision_cache_pack_sensitive", false)
	v.SetDefault("enrich.dedupe_vision_calls", true)
	v.SetDefault("enrich.min_attribute_confidence", 0.2)
	v.SetDefault("vision.provider", "openai")
	v.SetDefault("vision.model", "gpt-4o-mini")
	v.SetDefault("vision.base_url", "https://api.openai.com/v1")
	v.SetDefault("draft.provider", "openai")
	v.SetDefault("draft.model", "gpt-4o-mini")
	v.SetDefault("draft.base_url", "https://api.openai.com/v1")
	v.SetDefault("storage.enabled", false)
	v.SetDefault("storage.bucket", "scanium-items")
	v.SetDefault("audit.enabled", false)
	v.SetDefault("audit.driver", "sqlite")
	v.SetDefault("audit.path", "./data/enrich_audit.db")
}

// splitKeys accepts both YAML lists and a single comma separated env value.
func splitKeys(raw []string) []string {
	var keys []string
	for _, item := range raw {
		for _, k := range strings.Split(item, ",") {
			if k = strings.TrimSpace(k); k != "" {
				keys = append(keys, k)
			}
		}
	}
	return keys
}

// Validate rejects settings the pipeline cannot run with.
func (c *Config) Validate() error {
	if c.Server.ShutdownTimeoutMs <= 0 {
		return fmt.Errorf("server.shutdown_timeout_ms must be positive, got %d", c.Server.ShutdownTimeoutMs)
	}
	e := c.Enrich
	switch {
	case e.VisionTimeoutMs <= 0:
		return fmt.Errorf("enrich.vision_timeout_ms must be positive, got %d", e.VisionTimeoutMs)
	case e.DraftTimeoutMs <= 0:
		return fmt.Errorf("enrich.draft_timeout_ms must be positive, got %d", e.DraftTimeoutMs)
	case e.MaxConcurrent <= 0:
		return fmt.Errorf("enrich.max_concurrent must be positive, got %d", e.MaxConcurrent)
	case e.ResultRetentionMs <= 0:
		return fmt.Errorf("enrich.result_retention_ms must be positive, got %d", e.ResultRetentionMs)
	case e.SweepIntervalMs <= 0:
		return fmt.Errorf("enrich.sweep_interval_ms must be positive, got %d", e.SweepIntervalMs)
	case e.MaxImageBytes <= 0:
		return fmt.Errorf("enrich.max_image_bytes must be positive, got %d", e.MaxImageBytes)
	case e.MinAttributeConfidence < 0 || e.MinAttributeConfidence > 1:
		return fmt.Errorf("enrich.min_attribute_confidence must be within [0,1], got %v", e.MinAttributeConfidence)
	}
	if err := validateProvider("vision", c.Vision.Provider); err != nil {
		return err
	}
	if err := validateProvider("draft", c.Draft.Provider); err != nil {
		return err
	}
	if c.Audit.Enabled && c.Audit.Driver != "sqlite" && c.Audit.Driver != "postgres" {
		return fmt.Errorf("audit.driver must be sqlite or postgres, got %q", c.Audit.Driver)
	}
	return nil
}

func validateProvider(name, provider string) error {
	switch provider {
	case "openai", "mock":
		return nil
	default:
		return fmt.Errorf("%s.provider must be openai or mock, got %q", name, provider)
	}
}

// AuditDSN returns the connection string for the configured audit driver.
func (c AuditConfig) AuditDSN() string {
	if c.Driver == "postgres" {
		return c.DSN
	}
	return c.Path
}
