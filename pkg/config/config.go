package config

import (
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the full indexer configuration.
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Source        SourceConfig        `mapstructure:"source"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
	Indexer       IndexerConfig       `mapstructure:"indexer"`
	Enrichment    EnrichmentConfig    `mapstructure:"enrichment"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Redis         RedisConfig         `mapstructure:"redis"`
	Kafka         KafkaConfig         `mapstructure:"kafka"`
	Telemetry     TelemetryConfig     `mapstructure:"telemetry"`
	Metrics       MetricsConfig       `mapstructure:"metrics"`
	Schedule      ScheduleConfig      `mapstructure:"schedule"`
	Logger        LoggerConfig        `mapstructure:"logger"`
}

type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	Host            string        `mapstructure:"host"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// SourceConfig points at the registry web service that lists datasets.
type SourceConfig struct {
	URL       string        `mapstructure:"url"`
	Timeout   time.Duration `mapstructure:"timeout"`
	RateLimit float64       `mapstructure:"rate_limit"`
	Burst     int           `mapstructure:"burst"`
	Breaker   BreakerConfig `mapstructure:"breaker"`
}

type BreakerConfig struct {
	FailureRatio float64       `mapstructure:"failure_ratio"`
	MinRequests  uint32        `mapstructure:"min_requests"`
	OpenTimeout  time.Duration `mapstructure:"open_timeout"`
}

// ElasticsearchConfig configures the index sink.
type ElasticsearchConfig struct {
	Addresses    []string      `mapstructure:"addresses"`
	Username     string        `mapstructure:"username"`
	Password     string        `mapstructure:"password"`
	Alias        string        `mapstructure:"alias"`
	IndexPrefix  string        `mapstructure:"index_prefix"`
	BulkTimeout  time.Duration `mapstructure:"bulk_timeout"`
	MaxIdleConns int           `mapstructure:"max_idle_conns"`
}

// IndexerConfig configures paging and bulk concurrency.
type IndexerConfig struct {
	PageSize  int `mapstructure:"page_size"`
	Workers   int `mapstructure:"workers"`
	QueueSize int `mapstructure:"queue_size"`

	// JobTimeout bounds conversion plus bulk write of one page. Zero
	// disables it and leaves only elasticsearch.bulk_timeout on the request.
	JobTimeout time.Duration `mapstructure:"job_timeout"`
}

type EnrichmentConfig struct {
	CacheSize int           `mapstructure:"cache_size"`
	CacheTTL  time.Duration `mapstructure:"cache_ttl"`
}

// DatabaseConfig configures the run ledger.
type DatabaseConfig struct {
	Driver             string        `mapstructure:"driver"`
	Path               string        `mapstructure:"path"`
	Host               string        `mapstructure:"host"`
	Port               int           `mapstructure:"port"`
	User               string        `mapstructure:"user"`
	Password           string        `mapstructure:"password"`
	Name               string        `mapstructure:"name"`
	SSLMode            string        `mapstructure:"ssl_mode"`
	MaxOpenConns       int           `mapstructure:"max_open_conns"`
	MaxIdleConns       int           `mapstructure:"max_idle_conns"`
	SlowQueryThreshold time.Duration `mapstructure:"slow_query_threshold"`
}

type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
}

type KafkaConfig struct {
	Enabled bool     `mapstructure:"enabled"`
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

type TelemetryConfig struct {
	Enabled      bool    `mapstructure:"enabled"`
	JaegerURL    string  `mapstructure:"jaeger_url"`
	ServiceName  string  `mapstructure:"service_name"`
	SamplingRate float64 `mapstructure:"sampling_rate"`
}

type MetricsConfig struct {
	PushgatewayURL string `mapstructure:"pushgateway_url"`
	Job            string `mapstructure:"job"`
}

type ScheduleConfig struct {
	Cron string `mapstructure:"cron"`
}

type LoggerConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Output     string `mapstructure:"output"`
	AddCaller  bool   `mapstructure:"add_caller"`
	Stacktrace bool   `mapstructure:"stacktrace"`
}

// Load reads <serviceName>.yaml from ./configs or /etc/registry, layered
// under REGISTRY_* environment variables and the built-in defaults.
func Load(serviceName string) (*Config, error) {
	v := viper.New()
	v.SetConfigName(serviceName)
	v.SetConfigType("yaml")
	v.AddConfigPath("./configs")
	v.AddConfigPath("/etc/registry")

	setDefaults(v)

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetEnvPrefix("REGISTRY")

	if err := v.ReadInConfig(); err != nil {
		// A missing file is fine, defaults and env vars still apply
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	overrideFromEnv(v, &config)

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "30s")

	v.SetDefault("source.url", "http://localhost:8080/v1")
	v.SetDefault("source.timeout", "30s")
	v.SetDefault("source.rate_limit", 0)
	v.SetDefault("source.burst", 1)
	v.SetDefault("source.breaker.failure_ratio", 0.5)
	v.SetDefault("source.breaker.min_requests", 5)
	v.SetDefault("source.breaker.open_timeout", "30s")

	v.SetDefault("elasticsearch.addresses", []string{"http://localhost:9200"})
	v.SetDefault("elasticsearch.alias", "dataset")
	v.SetDefault("elasticsearch.index_prefix", "dataset")
	v.SetDefault("elasticsearch.bulk_timeout", "60s")
	v.SetDefault("elasticsearch.max_idle_conns", 32)

	v.SetDefault("indexer.page_size", 100)
	v.SetDefault("indexer.workers", runtime.NumCPU())
	v.SetDefault("indexer.queue_size", 0)
	v.SetDefault("indexer.job_timeout", "0s")

	v.SetDefault("enrichment.cache_size", 10000)
	v.SetDefault("enrichment.cache_ttl", "1h")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "registry-indexer.db")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "registry")
	v.SetDefault("database.name", "registry")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.slow_query_threshold", "200ms")

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 10)

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topic", "registry.search")

	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.jaeger_url", "http://localhost:14268/api/traces")
	v.SetDefault("telemetry.service_name", "dataset-indexer")
	v.SetDefault("telemetry.sampling_rate", 1.0)

	v.SetDefault("metrics.job", "dataset-indexer")

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "json")
	v.SetDefault("logger.output", "stdout")
	v.SetDefault("logger.add_caller", true)
	v.SetDefault("logger.stacktrace", false)
}

func overrideFromEnv(v *viper.Viper, cfg *Config) {
	// AutomaticEnv does not split list values
	if hosts := v.GetString("ELASTICSEARCH_HOSTS"); hosts != "" {
		cfg.Elasticsearch.Addresses = SplitList(hosts)
	}
	if brokers := v.GetString("KAFKA_BROKERS"); brokers != "" {
		cfg.Kafka.Brokers = SplitList(brokers)
	}
	if url := v.GetString("SOURCE_URL"); url != "" {
		cfg.Source.URL = url
	}
}

// Validate rejects settings the indexer cannot run with.
func (c *Config) Validate() error {
	if c.Indexer.PageSize <= 0 {
		return fmt.Errorf("indexer.page_size must be positive, got %d", c.Indexer.PageSize)
	}
	if c.Indexer.Workers <= 0 {
		return fmt.Errorf("indexer.workers must be positive, got %d", c.Indexer.Workers)
	}
	if c.Indexer.JobTimeout < 0 {
		return fmt.Errorf("indexer.job_timeout must not be negative, got %s", c.Indexer.JobTimeout)
	}
	if c.Indexer.JobTimeout > 0 && c.Indexer.JobTimeout <= c.Elasticsearch.BulkTimeout {
		return fmt.Errorf("indexer.job_timeout (%s) must exceed elasticsearch.bulk_timeout (%s)",
			c.Indexer.JobTimeout, c.Elasticsearch.BulkTimeout)
	}
	if c.Elasticsearch.Alias == "" {
		return fmt.Errorf("elasticsearch.alias is required")
	}
	if c.Elasticsearch.IndexPrefix == "" {
		return fmt.Errorf("elasticsearch.index_prefix is required")
	}
	return nil
}

// SplitList splits a comma separated list, dropping blanks.
func SplitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode)
}

func (c *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
