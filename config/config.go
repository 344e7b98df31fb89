package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the research engine
type Config struct {
	General   GeneralConfig   `mapstructure:"general"`
	Server    ServerConfig    `mapstructure:"server"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Search    SearchConfig    `mapstructure:"search"`
	Fetch     FetchConfig     `mapstructure:"fetch"`
	Research  ResearchConfig  `mapstructure:"research"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Storage   StorageConfig   `mapstructure:"storage"`
}

// GeneralConfig contains general application settings
type GeneralConfig struct {
	Debug          bool          `mapstructure:"debug"`
	LogLevel       string        `mapstructure:"log_level"`
	DefaultTimeout time.Duration `mapstructure:"default_timeout"`
}

// ServerConfig contains HTTP server and auth settings
type ServerConfig struct {
	Address   string `mapstructure:"address"`
	JWTSecret string `mapstructure:"jwt_secret"`
}

// LLMConfig contains the generation collaborator configuration
type LLMConfig struct {
	Provider    string        `mapstructure:"provider"` // openai
	APIKey      string        `mapstructure:"api_key"`
	BaseURL     string        `mapstructure:"base_url"`
	Model       string        `mapstructure:"model"`
	Temperature float64       `mapstructure:"temperature"`
	MaxTokens   int           `mapstructure:"max_tokens"`
	Timeout     time.Duration `mapstructure:"timeout"`
	RatePerSec  float64       `mapstructure:"rate_per_sec"`
	Burst       int           `mapstructure:"burst"`
	DailyBudget int           `mapstructure:"daily_budget"` // 0 = unlimited
}

// SearchConfig contains the search collaborator configuration
type SearchConfig struct {
	Provider    string        `mapstructure:"provider"` // serper, brave
	APIKey      string        `mapstructure:"api_key"`
	MaxResults  int           `mapstructure:"max_results"`
	Timeout     time.Duration `mapstructure:"timeout"`
	RatePerSec  float64       `mapstructure:"rate_per_sec"`
	Burst       int           `mapstructure:"burst"`
	DailyBudget int           `mapstructure:"daily_budget"` // 0 = unlimited
}

// FetchConfig controls the optional headless content enrichment step
type FetchConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Timeout  time.Duration `mapstructure:"timeout"`
	MaxChars int           `mapstructure:"max_chars"`
}

// ResearchConfig drives the worker pool and the per-job pipeline
type ResearchConfig struct {
	PoolSize          int           `mapstructure:"pool_size"`
	JobTimeout        time.Duration `mapstructure:"job_timeout"`
	MaxJobRetries     int           `mapstructure:"max_job_retries"`
	MaxWorkerFailures int           `mapstructure:"max_worker_failures"`
	RespawnDelay      time.Duration `mapstructure:"respawn_delay"`
	RetryBackoffBase  time.Duration `mapstructure:"retry_backoff_base"`
	RetryBackoffMax   time.Duration `mapstructure:"retry_backoff_max"`
	MaxQueriesPerJob  int           `mapstructure:"max_queries_per_job"`
	TargetSourceCount int           `mapstructure:"target_source_count"`
	Scoring           ScoringConfig `mapstructure:"scoring"`
}

// ScoringConfig exposes the credibility/relevance weighting as configuration.
// The boost values are additive on top of the base and the final scores are
// clipped to [1,10].
type ScoringConfig struct {
	BaseCredibility         float64       `mapstructure:"base_credibility"`
	DomainBoost             float64       `mapstructure:"domain_boost"`
	RecencyBoost            float64       `mapstructure:"recency_boost"`
	RecencyWindow           time.Duration `mapstructure:"recency_window"`
	LengthBoost             float64       `mapstructure:"length_boost"`
	SubstantialContentChars int           `mapstructure:"substantial_content_chars"`
	NativeBoost             float64       `mapstructure:"native_boost"`
	NativeBoostThreshold    float64       `mapstructure:"native_boost_threshold"`
	OverlapWeight           float64       `mapstructure:"overlap_weight"`
	NativeWeight            float64       `mapstructure:"native_weight"`
	MinNativeScore          float64       `mapstructure:"min_native_score"`
	MinContentChars         int           `mapstructure:"min_content_chars"`
	MinTitleChars           int           `mapstructure:"min_title_chars"`
	MaxKeyQuotes            int           `mapstructure:"max_key_quotes"`
}

// TelemetryConfig contains telemetry and monitoring settings
type TelemetryConfig struct {
	Enabled      bool `mapstructure:"enabled"`
	PeriodicLogs bool `mapstructure:"periodic_logs"`
}

// StorageConfig contains persistence settings
type StorageConfig struct {
	Postgres PostgresConfig `mapstructure:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis"`
}

// PostgresConfig contains PostgreSQL connection settings
type PostgresConfig struct {
	URL      string        `mapstructure:"url"`
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	User     string        `mapstructure:"user"`
	Password string        `mapstructure:"password"`
	DBName   string        `mapstructure:"dbname"`
	SSLMode  string        `mapstructure:"sslmode"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// DSN assembles a postgres connection string from the configured fields.
func (p PostgresConfig) DSN() (string, error) {
	if p.URL != "" {
		return p.URL, nil
	}
	if p.Host == "" || p.DBName == "" {
		return "", fmt.Errorf("postgres not configured (storage.postgres.host/dbname or url)")
	}
	port := p.Port
	if port == "" {
		port = "5432"
	}
	ssl := p.SSLMode
	if ssl == "" {
		ssl = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", p.User, p.Password, p.Host, port, p.DBName, ssl), nil
}

// RedisConfig contains Redis connection settings
type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// Addr returns host:port for the redis client.
func (r RedisConfig) Addr() string { return fmt.Sprintf("%s:%s", r.Host, r.Port) }

// Validate checks that the parts of the configuration the engine cannot
// default its way out of are present.
func (c *Config) Validate() error {
	if c.Research.PoolSize <= 0 {
		return fmt.Errorf("research.pool_size must be > 0")
	}
	if c.Research.JobTimeout <= 0 {
		return fmt.Errorf("research.job_timeout must be > 0")
	}
	if c.Research.MaxWorkerFailures <= 0 {
		return fmt.Errorf("research.max_worker_failures must be > 0")
	}
	if strings.TrimSpace(c.Search.Provider) == "" {
		return fmt.Errorf("search.provider is required")
	}
	return nil
}

// LoadConfig loads configuration from file and environment variables.
// Env vars use the COMPENDIUM_ prefix with underscores, e.g.
// COMPENDIUM_SEARCH_API_KEY overrides search.api_key.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	setDefaults(v)

	v.SetEnvPrefix("COMPENDIUM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		// a missing file is fine; defaults + env carry the config
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && path != "" {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("general.debug", false)
	v.SetDefault("general.log_level", "info")
	v.SetDefault("general.default_timeout", 30*time.Second)

	v.SetDefault("server.address", ":10011")

	v.SetDefault("llm.provider", "openai")
	v.SetDefault("llm.base_url", "https://api.openai.com/v1")
	v.SetDefault("llm.model", "gpt-4o-mini")
	v.SetDefault("llm.temperature", 0.4)
	v.SetDefault("llm.max_tokens", 2000)
	v.SetDefault("llm.timeout", 60*time.Second)
	v.SetDefault("llm.rate_per_sec", 0.5)
	v.SetDefault("llm.burst", 2)
	v.SetDefault("llm.daily_budget", 0)

	v.SetDefault("search.provider", "serper")
	v.SetDefault("search.max_results", 10)
	v.SetDefault("search.timeout", 15*time.Second)
	v.SetDefault("search.rate_per_sec", 1.0)
	v.SetDefault("search.burst", 3)
	v.SetDefault("search.daily_budget", 0)

	v.SetDefault("fetch.enabled", false)
	v.SetDefault("fetch.timeout", 20*time.Second)
	v.SetDefault("fetch.max_chars", 8000)

	v.SetDefault("research.pool_size", 3)
	v.SetDefault("research.job_timeout", 5*time.Minute)
	v.SetDefault("research.max_job_retries", 3)
	v.SetDefault("research.max_worker_failures", 3)
	v.SetDefault("research.respawn_delay", 2*time.Second)
	v.SetDefault("research.retry_backoff_base", 500*time.Millisecond)
	v.SetDefault("research.retry_backoff_max", 30*time.Second)
	v.SetDefault("research.max_queries_per_job", 5)
	v.SetDefault("research.target_source_count", 8)

	v.SetDefault("research.scoring.base_credibility", 5.0)
	v.SetDefault("research.scoring.domain_boost", 2.0)
	v.SetDefault("research.scoring.recency_boost", 1.5)
	v.SetDefault("research.scoring.recency_window", 30*24*time.Hour)
	v.SetDefault("research.scoring.length_boost", 1.0)
	v.SetDefault("research.scoring.substantial_content_chars", 1500)
	v.SetDefault("research.scoring.native_boost", 1.5)
	v.SetDefault("research.scoring.native_boost_threshold", 0.8)
	v.SetDefault("research.scoring.overlap_weight", 6.0)
	v.SetDefault("research.scoring.native_weight", 4.0)
	v.SetDefault("research.scoring.min_native_score", 0.2)
	v.SetDefault("research.scoring.min_content_chars", 80)
	v.SetDefault("research.scoring.min_title_chars", 5)
	v.SetDefault("research.scoring.max_key_quotes", 3)

	v.SetDefault("telemetry.enabled", true)
	v.SetDefault("telemetry.periodic_logs", false)

	v.SetDefault("storage.postgres.sslmode", "disable")
	v.SetDefault("storage.redis.db", 0)
}
