package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Analyzer  AnalyzerConfig  `mapstructure:"analyzer"`
	Pipeline  PipelineConfig  `mapstructure:"pipeline"`
	Cache     CacheConfig     `mapstructure:"cache"`
	MailStore MailStoreConfig `mapstructure:"mailstore"`
}

type ServerConfig struct {
	Port int        `mapstructure:"port"`
	Mode string     `mapstructure:"mode"`
	CORS CORSConfig `mapstructure:"cors"`
}

type CORSConfig struct {
	AllowedOrigins  []string `mapstructure:"allowed_origins"`
	AllowAllOrigins bool     `mapstructure:"allow_all_origins"`
}

type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	Path            string        `mapstructure:"path"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// DSN builds the connection string for the configured driver.
func (c *DatabaseConfig) DSN() string {
	if c.Driver == "postgres" {
		return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode)
	}
	return c.Path
}

// AnalyzerConfig configures the upstream analysis service client. A model is
// selected per operation type so classification and draft generation can run
// against different targets.
type AnalyzerConfig struct {
	Provider       string         `mapstructure:"provider"`
	APIKey         string         `mapstructure:"api_key"`
	BaseURL        string         `mapstructure:"base_url"`
	ClassifyModel  string         `mapstructure:"classify_model"`
	DraftModel     string         `mapstructure:"draft_model"`
	SentimentModel string         `mapstructure:"sentiment_model"`
	TasksModel     string         `mapstructure:"tasks_model"`
	TimeoutSeconds int            `mapstructure:"timeout_seconds"`
	Coalesce       CoalesceConfig `mapstructure:"coalesce"`
}

// CoalesceConfig bounds the optional request coalescer: how many pending
// inputs may share one upstream call and how long a caller waits for the
// batch to fill.
type CoalesceConfig struct {
	Enabled   bool `mapstructure:"enabled"`
	MaxBatch  int  `mapstructure:"max_batch"`
	MaxWaitMs int  `mapstructure:"max_wait_ms"`
}

type PipelineConfig struct {
	MaxConcurrent       int `mapstructure:"max_concurrent"`
	BatchSize           int `mapstructure:"batch_size"`
	PollBatchSize       int `mapstructure:"poll_batch_size"`
	PollIntervalSeconds int `mapstructure:"poll_interval_seconds"`
	MaxRetries          int `mapstructure:"max_retries"`
	RetryBaseDelayMs    int `mapstructure:"retry_base_delay_ms"`
	RetryMaxDelayMs     int `mapstructure:"retry_max_delay_ms"`
	StuckJobMinutes     int `mapstructure:"stuck_job_minutes"`
}

type CacheConfig struct {
	TTLHours             int `mapstructure:"ttl_hours"`
	MaxEntries           int `mapstructure:"max_entries"`
	MemoryEntries        int `mapstructure:"memory_entries"`
	SweepIntervalMinutes int `mapstructure:"sweep_interval_minutes"`
}

type MailStoreConfig struct {
	BaseURL        string `mapstructure:"base_url"`
	APIKey         string `mapstructure:"api_key"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

func Load(configPath string) (*Config, error) {
	// Load .env file if exists
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

	// Enable environment variable override
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Set defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.cors.allow_all_origins", true)
	v.SetDefault("server.cors.allowed_origins", []string{})
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "./data/taskmail.db")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.auto_migrate", true)
	v.SetDefault("analyzer.provider", "openai")
	v.SetDefault("analyzer.base_url", "https://api.openai.com/v1")
	v.SetDefault("analyzer.classify_model", "gpt-4o-mini")
	v.SetDefault("analyzer.draft_model", "gpt-4o")
	v.SetDefault("analyzer.sentiment_model", "gpt-4o-mini")
	v.SetDefault("analyzer.tasks_model", "gpt-4o-mini")
	v.SetDefault("analyzer.timeout_seconds", 30)
	v.SetDefault("analyzer.coalesce.enabled", false)
	v.SetDefault("analyzer.coalesce.max_batch", 5)
	v.SetDefault("analyzer.coalesce.max_wait_ms", 150)
	v.SetDefault("pipeline.max_concurrent", 10)
	v.SetDefault("pipeline.batch_size", 10)
	v.SetDefault("pipeline.poll_batch_size", 50)
	v.SetDefault("pipeline.poll_interval_seconds", 10)
	v.SetDefault("pipeline.max_retries", 3)
	v.SetDefault("pipeline.retry_base_delay_ms", 2000)
	v.SetDefault("pipeline.retry_max_delay_ms", 300000)
	v.SetDefault("pipeline.stuck_job_minutes", 15)
	v.SetDefault("cache.ttl_hours", 24)
	v.SetDefault("cache.max_entries", 100000)
	v.SetDefault("cache.memory_entries", 4096)
	v.SetDefault("cache.sweep_interval_minutes", 10)
	v.SetDefault("mailstore.base_url", "http://localhost:9090")
	v.SetDefault("mailstore.timeout_seconds", 10)

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Bind environment variables explicitly for sensitive data
	v.BindEnv("database.password", "DATABASE_PASSWORD")
	v.BindEnv("analyzer.api_key", "OPENAI_API_KEY")
	v.BindEnv("analyzer.base_url", "OPENAI_BASE_URL")
	v.BindEnv("mailstore.base_url", "MAILSTORE_BASE_URL")
	v.BindEnv("mailstore.api_key", "MAILSTORE_API_KEY")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// AdapterTimeout returns the per-call analyzer timeout as a duration.
func (c *AnalyzerConfig) AdapterTimeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// PollInterval returns the dispatcher tick interval as a duration.
func (c *PipelineConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSeconds) * time.Second
}

// TTL returns the cache entry lifetime as a duration.
func (c *CacheConfig) TTL() time.Duration {
	return time.Duration(c.TTLHours) * time.Hour
}
