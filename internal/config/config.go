package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable read by viper.
const EnvPrefix = "GRAPHMAT"

var (
	// ErrInvalid is returned for configuration values out of range.
	ErrInvalid = errors.New("config: invalid value")
)

// Store backends.
const (
	StoreElasticsearch = "elasticsearch"
	StoreDynamoDB      = "dynamodb"
)

// Blob store backends.
const (
	OutputLocal = "local"
	OutputS3    = "s3"
	OutputMinio = "minio"
)

// Config holds every setting of the command.
type Config struct {
	Store          string        `mapstructure:"store"`
	ESURL          string        `mapstructure:"es_url"`
	ESUsername     string        `mapstructure:"es_username"`
	ESPassword     string        `mapstructure:"es_password"`
	ESAPIKey       string        `mapstructure:"es_api_key"`
	DynamoPrefix   string        `mapstructure:"dynamo_table_prefix"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`

	NodeIndex      string `mapstructure:"node_index"`
	EdgeIndex      string `mapstructure:"edge_index"`
	AdjacencyIndex string `mapstructure:"adjacency_index"`

	Workers     int     `mapstructure:"workers"`
	Concurrency int     `mapstructure:"concurrency"`
	PageSize    int     `mapstructure:"page_size"`
	BulkSize    int     `mapstructure:"bulk_size"`
	BatchSize   int     `mapstructure:"batch_size"`
	RateLimit   float64 `mapstructure:"rate_limit"`

	OutputStore    string `mapstructure:"output_store"`
	OutputBucket   string `mapstructure:"output_bucket"`
	OutputPrefix   string `mapstructure:"output_prefix"`
	MinioEndpoint  string `mapstructure:"minio_endpoint"`
	MinioAccessKey string `mapstructure:"minio_access_key"`
	MinioSecretKey string `mapstructure:"minio_secret_key"`
	MinioSecure    bool   `mapstructure:"minio_secure"`
	AWSRegion      string `mapstructure:"aws_region"`

	LogLevel    string `mapstructure:"log_level"`
	LogFormat   string `mapstructure:"log_format"`
	MetricsAddr string `mapstructure:"metrics_addr"`
}

// Defaults registers the default of every key on v.
func Defaults(v *viper.Viper) {
	v.SetDefault("store", StoreElasticsearch)
	v.SetDefault("es_url", ESURL())
	v.SetDefault("request_timeout", 60*time.Second)
	v.SetDefault("node_index", "nodes")
	v.SetDefault("edge_index", "edges")
	v.SetDefault("adjacency_index", "adjacency_list")
	v.SetDefault("workers", 8)
	v.SetDefault("concurrency", 5)
	v.SetDefault("page_size", 10000)
	v.SetDefault("bulk_size", 2000)
	v.SetDefault("batch_size", 10000)
	v.SetDefault("rate_limit", 0.0)
	v.SetDefault("output_store", OutputLocal)
	v.SetDefault("minio_secure", true)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")

	// Keys without a default still need registering, or Unmarshal would not
	// see their environment variables.
	for _, key := range []string{
		"es_username", "es_password", "es_api_key", "dynamo_table_prefix",
		"output_bucket", "output_prefix", "minio_endpoint", "minio_access_key",
		"minio_secret_key", "aws_region", "metrics_addr",
	} {
		v.SetDefault(key, "")
	}
}

// LoadDotEnv loads .env.prod when PROD=true and .env.dev otherwise, from
// dir. Variables already set in the environment win. A missing file is not
// an error. Outside production, IN_DOCKER=true points SERVER at the Docker
// host.
func LoadDotEnv(dir string) (prod bool, err error) {
	prod = os.Getenv("PROD") == "true"
	name := ".env.dev"
	if prod {
		name = ".env.prod"
	}
	if err := godotenv.Load(filepath.Join(dir, name)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return prod, fmt.Errorf("config: load %s: %w", name, err)
	}
	if !prod && os.Getenv("IN_DOCKER") == "true" {
		if err := os.Setenv("SERVER", "host.docker.internal"); err != nil {
			return prod, err
		}
	}
	return prod, nil
}

// ESURL derives the Elasticsearch URL from SERVER and PORT.
func ESURL() string {
	server := os.Getenv("SERVER")
	if server == "" {
		server = "localhost"
	}
	port := os.Getenv("PORT")
	if port == "" {
		port = "9200"
	}
	return fmt.Sprintf("http://%s:%s", server, port)
}

// Load reads the configuration into a Config. Keys are taken, in order of
// precedence, from values set on v (bound flags), GRAPHMAT_<KEY> environment
// variables, the config file, and the defaults.
func Load(v *viper.Viper, file string) (*Config, error) {
	Defaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", file, err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate checks enumerations and ranges.
func (c *Config) Validate() error {
	switch c.Store {
	case StoreElasticsearch, StoreDynamoDB:
	default:
		return fmt.Errorf("%w: store %q", ErrInvalid, c.Store)
	}
	switch c.OutputStore {
	case OutputLocal:
	case OutputS3, OutputMinio:
		if c.OutputBucket == "" {
			return fmt.Errorf("%w: output_bucket is required for %s", ErrInvalid, c.OutputStore)
		}
	default:
		return fmt.Errorf("%w: output_store %q", ErrInvalid, c.OutputStore)
	}
	if c.OutputStore == OutputMinio && c.MinioEndpoint == "" {
		return fmt.Errorf("%w: minio_endpoint is required", ErrInvalid)
	}
	for name, n := range map[string]int{
		"workers":     c.Workers,
		"concurrency": c.Concurrency,
		"page_size":   c.PageSize,
		"bulk_size":   c.BulkSize,
		"batch_size":  c.BatchSize,
	} {
		if n <= 0 {
			return fmt.Errorf("%w: %s must be positive, got %d", ErrInvalid, name, n)
		}
	}
	if c.RateLimit < 0 {
		return fmt.Errorf("%w: rate_limit must not be negative", ErrInvalid)
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("%w: log_format %q", ErrInvalid, c.LogFormat)
	}
	return nil
}

// Level parses LogLevel.
func (c *Config) Level() (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("%w: log_level %q", ErrInvalid, c.LogLevel)
	}
	return l, nil
}
