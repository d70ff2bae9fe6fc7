package config

import (
	"log/slog"
	"os"
	"path"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Env                string            `mapstructure:"env"`
	LogLevel           string            `mapstructure:"log_level"`
	LogType            string            `mapstructure:"log_type"`
	ServiceName        string            `mapstructure:"service_name"`
	Port               string            `mapstructure:"port"`
	Version            string            `mapstructure:"version"`
	WorkerSettings     *WorkerConfig     `mapstructure:"worker"`
	DiscoverySettings  *DiscoveryConfig  `mapstructure:"discovery"`
	SelectionSettings  *SelectionConfig  `mapstructure:"selection"`
	HttpClientSettings *HttpClientConfig `mapstructure:"http_client"`
	CacheSettings      *CacheConfig      `mapstructure:"cache"`
	DbSettings         *DatabaseConfig   `mapstructure:"database"`
	SQSSettings        *SQSConfig        `mapstructure:"sqs"`
	KafkaSettings      *KafkaConfig      `mapstructure:"kafka"`
	TelemetrySettings  *TelemetryConfig  `mapstructure:"telemetry"`
}

type WorkerConfig struct {
	WorkersNum       int           `mapstructure:"workers_num"`
	UserAgent        string        `mapstructure:"user_agent"`
	RequestsLimit    int           `mapstructure:"requests_limit"`
	TimeInterval     time.Duration `mapstructure:"time_interval"`
	CompanyTimeout   time.Duration `mapstructure:"company_timeout"`
	ProgressEvery    int           `mapstructure:"progress_every"`
	ProgressInterval time.Duration `mapstructure:"progress_interval"`
}

// DiscoveryConfig holds the fan-out bounds of a single company discovery.
type DiscoveryConfig struct {
	SitemapPaths          []string      `mapstructure:"sitemap_paths"`
	MaxSubSitemaps        int           `mapstructure:"max_sub_sitemaps"`
	MaxTotalPages         int           `mapstructure:"max_total_pages"`
	MaxInsertPages        int           `mapstructure:"max_insert_pages"`
	MinYield              int           `mapstructure:"min_yield"`
	SubSitemapConcurrency int           `mapstructure:"sub_sitemap_concurrency"`
	LocatorTimeout        time.Duration `mapstructure:"locator_timeout"`
	DocumentTimeout       time.Duration `mapstructure:"document_timeout"`
	MaxDocumentBytes      int64         `mapstructure:"max_document_bytes"`
}

// SelectionConfig decides which companies a batch or enqueue run picks up.
// Strategy is one of "sitemap_polluted" or "never_discovered".
type SelectionConfig struct {
	Strategy string `mapstructure:"strategy"`
	Limit    int    `mapstructure:"limit"`
}

type HttpClientConfig struct {
	RequestTimeout            time.Duration `mapstructure:"request_timeout"`
	MaxIdleConnections        int           `mapstructure:"max_idle_connections"`
	MaxIdleConnectionsPerHost int           `mapstructure:"max_idle_connections_per_host"`
	MaxConnectionsPerHost     int           `mapstructure:"max_connections_per_host"`
	IdleConnectionTimeout     time.Duration `mapstructure:"idle_connection_timeout"`
	TlsHandshakeTimeout       time.Duration `mapstructure:"tls_handshake_timeout"`
	DialTimeout               time.Duration `mapstructure:"dial_timeout"`
	DialKeepAlive             time.Duration `mapstructure:"dial_keep_alive"`
	TlsInsecureSkipVerify     bool          `mapstructure:"tls_insecure_skip_verify"`
}

type CacheConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	Servers       []string      `mapstructure:"servers"`
	EntryPointTtl time.Duration `mapstructure:"entry_point_ttl"`
	NotFoundTtl   time.Duration `mapstructure:"not_found_ttl"`
}

type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            string        `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
}

type SQSConfig struct {
	AwsBaseEndpoint     string `mapstructure:"aws_base_endpoint"`
	Region              string `mapstructure:"region"`
	QueueName           string `mapstructure:"queue_name"`
	MaxNumberOfMessages int32  `mapstructure:"max_number_of_messages"`
	WaitTimeSeconds     int32  `mapstructure:"wait_time_seconds"`
	VisibilityTimeout   int32  `mapstructure:"visibility_timeout"`
}

type KafkaConfig struct {
	Enabled  bool            `mapstructure:"enabled"`
	Producer *ProducerConfig `mapstructure:"producer"`
}

type ProducerConfig struct {
	Addr                []string      `mapstructure:"addr"`
	WriteTopicName      string        `mapstructure:"write_topic_name"`
	DeadLetterTopicName string        `mapstructure:"dlq_topic_name"`
	MaxAttempts         int           `mapstructure:"max_attempts"`
	BatchSize           int           `mapstructure:"batch_size"`
	BatchTimeout        time.Duration `mapstructure:"batch_timeout"`
	ReadTimeout         time.Duration `mapstructure:"read_timeout"`
	WriteTimeout        time.Duration `mapstructure:"write_timeout"`
	RequiredAsks        int           `mapstructure:"required_acks"`
	Async               bool          `mapstructure:"async"`
}

type TelemetryConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	CollectorUrl string `mapstructure:"collector_url"`
}

func MustLoad() *Config {
	viper.AddConfigPath(path.Join("."))
	viper.SetConfigName("config")
	viper.AutomaticEnv()
	setDefaults(viper.GetViper())

	err := viper.ReadInConfig()
	if err != nil {
		slog.Error("can't initialize config file.", slog.String("err", err.Error()))
		os.Exit(1)
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		slog.Error("error unmarshalling viper config.", slog.String("err", err.Error()))
		os.Exit(1)
	}

	return &cfg
}

// setDefaults mirrors the bounds the batch scripts used before they became configurable.
func setDefaults(v *viper.Viper) {
	v.SetDefault("service_name", "sitemap-intel")
	v.SetDefault("log_level", "info")
	v.SetDefault("port", "8080")

	v.SetDefault("worker.workers_num", 5)
	v.SetDefault("worker.user_agent", "sitemap-intel/1.0 (+https://github.com/IliaW/sitemap-intel)")
	v.SetDefault("worker.requests_limit", 50)
	v.SetDefault("worker.time_interval", time.Second)
	v.SetDefault("worker.company_timeout", 2*time.Minute)
	v.SetDefault("worker.progress_every", 20)
	v.SetDefault("worker.progress_interval", 30*time.Second)

	v.SetDefault("discovery.sitemap_paths", DefaultSitemapPaths())
	v.SetDefault("discovery.max_sub_sitemaps", 10)
	v.SetDefault("discovery.max_total_pages", 500)
	v.SetDefault("discovery.max_insert_pages", 300)
	v.SetDefault("discovery.min_yield", 5)
	v.SetDefault("discovery.sub_sitemap_concurrency", 1)
	v.SetDefault("discovery.locator_timeout", 10*time.Second)
	v.SetDefault("discovery.document_timeout", 15*time.Second)
	v.SetDefault("discovery.max_document_bytes", 50<<20)

	v.SetDefault("selection.strategy", "sitemap_polluted")

	v.SetDefault("cache.entry_point_ttl", 24*time.Hour)
	v.SetDefault("cache.not_found_ttl", 6*time.Hour)
}

// DefaultSitemapPaths are the conventional entry points, probed in order. %s is the domain.
func DefaultSitemapPaths() []string {
	return []string{
		"https://%s/sitemap.xml",
		"https://www.%s/sitemap.xml",
		"https://%s/sitemap_index.xml",
		"https://%s/sitemaps.xml",
	}
}

// DefaultDiscovery returns discovery bounds with the same values MustLoad falls back to.
func DefaultDiscovery() *DiscoveryConfig {
	return &DiscoveryConfig{
		SitemapPaths:          DefaultSitemapPaths(),
		MaxSubSitemaps:        10,
		MaxTotalPages:         500,
		MaxInsertPages:        300,
		MinYield:              5,
		SubSitemapConcurrency: 1,
		LocatorTimeout:        10 * time.Second,
		DocumentTimeout:       15 * time.Second,
		MaxDocumentBytes:      50 << 20,
	}
}
