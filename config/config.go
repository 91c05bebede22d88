// Package config loads a tinyvec deployment description from files, maps and
// the environment, and opens the DB it describes.
//
// Files are YAML, TOML or JSON, selected by extension. Environment variables
// prefixed with TINYVEC_ override file values:
//
//	TINYVEC_DTYPE=float64
//	TINYVEC_STORE_BACKEND=sqlite
//	TINYVEC_STORE_SQLITE_PATH=/var/lib/tinyvec/db.sqlite
//	TINYVEC_LOG_LEVEL=debug
//
// Collections are only read from files or maps.
package config

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/hupe1980/tinyvec"
	"github.com/hupe1980/tinyvec/blobstore/minio"
	"github.com/hupe1980/tinyvec/codec"
	"github.com/hupe1980/tinyvec/internal/compress"
	"github.com/hupe1980/tinyvec/tablestore/redis"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "TINYVEC"

// ErrInvalidConfig is returned for a configuration that cannot be opened.
var ErrInvalidConfig = tinyvec.ErrInvalidConfig

// Store backends.
const (
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendRedis    = "redis"
	BackendDynamoDB = "dynamodb"
	BackendBlob     = "blob"
)

// Blob backends.
const (
	BlobLocal  = "local"
	BlobMemory = "memory"
	BlobS3     = "s3"
	BlobMinIO  = "minio"
)

// Config describes a DB and the store behind it.
type Config struct {
	DType       string                     `yaml:"dtype" toml:"dtype" json:"dtype" mapstructure:"dtype" envconfig:"DTYPE"`
	Concurrency int                        `yaml:"concurrency" toml:"concurrency" json:"concurrency" mapstructure:"concurrency" envconfig:"CONCURRENCY"`
	Collections []tinyvec.CollectionConfig `yaml:"collections" toml:"collections" json:"collections" mapstructure:"collections" ignored:"true"`
	Store       StoreConfig                `yaml:"store" toml:"store" json:"store" mapstructure:"store" envconfig:"STORE"`
	Log         LogConfig                  `yaml:"log" toml:"log" json:"log" mapstructure:"log" envconfig:"LOG"`
	Metrics     MetricsConfig              `yaml:"metrics" toml:"metrics" json:"metrics" mapstructure:"metrics" envconfig:"METRICS"`
}

// StoreConfig selects and configures the table store.
type StoreConfig struct {
	Backend  string         `yaml:"backend" toml:"backend" json:"backend" mapstructure:"backend" envconfig:"BACKEND"`
	SQLite   SQLiteConfig   `yaml:"sqlite" toml:"sqlite" json:"sqlite" mapstructure:"sqlite" envconfig:"SQLITE"`
	Redis    redis.Config   `yaml:"redis" toml:"redis" json:"redis" mapstructure:"redis" envconfig:"REDIS"`
	DynamoDB DynamoDBConfig `yaml:"dynamodb" toml:"dynamodb" json:"dynamodb" mapstructure:"dynamodb" envconfig:"DYNAMODB"`
	Blob     BlobConfig     `yaml:"blob" toml:"blob" json:"blob" mapstructure:"blob" envconfig:"BLOB"`
}

// SQLiteConfig configures the sqlite backend.
type SQLiteConfig struct {
	Path string `yaml:"path" toml:"path" json:"path" mapstructure:"path" envconfig:"PATH"`
}

// DynamoDBConfig configures the dynamodb backend. Credentials and region
// come from the default AWS chain.
type DynamoDBConfig struct {
	Table      string  `yaml:"table" toml:"table" json:"table" mapstructure:"table" envconfig:"TABLE"`
	Namespace  string  `yaml:"namespace" toml:"namespace" json:"namespace" mapstructure:"namespace" envconfig:"NAMESPACE"`
	WriteRate  float64 `yaml:"write_rate" toml:"write_rate" json:"write_rate" mapstructure:"write_rate" envconfig:"WRITE_RATE"`
	MaxRetries int     `yaml:"max_retries" toml:"max_retries" json:"max_retries" mapstructure:"max_retries" envconfig:"MAX_RETRIES"`
}

// BlobConfig configures the blob snapshot backend and the object store it
// writes to.
type BlobConfig struct {
	Backend     string       `yaml:"backend" toml:"backend" json:"backend" mapstructure:"backend" envconfig:"BACKEND"`
	Path        string       `yaml:"path" toml:"path" json:"path" mapstructure:"path" envconfig:"PATH"`
	Bucket      string       `yaml:"bucket" toml:"bucket" json:"bucket" mapstructure:"bucket" envconfig:"BUCKET"`
	Prefix      string       `yaml:"prefix" toml:"prefix" json:"prefix" mapstructure:"prefix" envconfig:"PREFIX"`
	Region      string       `yaml:"region" toml:"region" json:"region" mapstructure:"region" envconfig:"REGION"`
	Endpoint    string       `yaml:"endpoint" toml:"endpoint" json:"endpoint" mapstructure:"endpoint" envconfig:"ENDPOINT"`
	Codec       string       `yaml:"codec" toml:"codec" json:"codec" mapstructure:"codec" envconfig:"CODEC"`
	Compression string       `yaml:"compression" toml:"compression" json:"compression" mapstructure:"compression" envconfig:"COMPRESSION"`
	MinIO       minio.Config `yaml:"minio" toml:"minio" json:"minio" mapstructure:"minio" envconfig:"MINIO"`
}

// LogConfig configures the DB logger. Format is json, text or none.
type LogConfig struct {
	Level  string `yaml:"level" toml:"level" json:"level" mapstructure:"level" envconfig:"LEVEL"`
	Format string `yaml:"format" toml:"format" json:"format" mapstructure:"format" envconfig:"FORMAT"`
}

// MetricsConfig configures metrics collection. Backend is none, basic or
// prometheus.
type MetricsConfig struct {
	Backend   string `yaml:"backend" toml:"backend" json:"backend" mapstructure:"backend" envconfig:"BACKEND"`
	Namespace string `yaml:"namespace" toml:"namespace" json:"namespace" mapstructure:"namespace" envconfig:"NAMESPACE"`
}

// Default returns the configuration used for every key a source leaves unset:
// float32 vectors in memory, no logging and no metrics.
func Default() *Config {
	return &Config{
		DType: codec.Float32.String(),
		Store: StoreConfig{
			Backend: BackendMemory,
			Blob: BlobConfig{
				Backend:     BlobLocal,
				Codec:       codec.Default.Name(),
				Compression: compress.Zstd.String(),
			},
		},
		Log: LogConfig{
			Level:  "info",
			Format: "none",
		},
		Metrics: MetricsConfig{
			Backend:   "none",
			Namespace: "tinyvec",
		},
	}
}

// Validate checks the whole configuration without touching any backend.
func (c *Config) Validate() error {
	if _, err := codec.ParseDType(c.DType); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	seen := make(map[string]struct{}, len(c.Collections))
	for _, cc := range c.Collections {
		if err := cc.Validate(); err != nil {
			return err
		}
		if _, dup := seen[cc.Name]; dup {
			return fmt.Errorf("%w: duplicate collection %q", ErrInvalidConfig, cc.Name)
		}
		seen[cc.Name] = struct{}{}
	}

	if err := c.Store.Validate(); err != nil {
		return err
	}
	if err := c.Log.Validate(); err != nil {
		return err
	}
	return c.Metrics.Validate()
}

// Validate checks that the selected backend has what it needs.
func (s *StoreConfig) Validate() error {
	switch strings.ToLower(s.Backend) {
	case BackendMemory:
		return nil
	case BackendSQLite:
		if s.SQLite.Path == "" {
			return fmt.Errorf("%w: sqlite path is required", ErrInvalidConfig)
		}
	case BackendRedis:
		if s.Redis.Addr == "" {
			return fmt.Errorf("%w: redis addr is required", ErrInvalidConfig)
		}
	case BackendDynamoDB:
		if s.DynamoDB.Table == "" {
			return fmt.Errorf("%w: dynamodb table is required", ErrInvalidConfig)
		}
		if s.DynamoDB.WriteRate < 0 {
			return fmt.Errorf("%w: dynamodb write rate must not be negative", ErrInvalidConfig)
		}
	case BackendBlob:
		return s.Blob.Validate()
	default:
		return fmt.Errorf("%w: unknown store backend %q", ErrInvalidConfig, s.Backend)
	}
	return nil
}

// Validate checks the blob backend and its snapshot encoding.
func (b *BlobConfig) Validate() error {
	if _, ok := codec.ByName(b.Codec); !ok {
		return fmt.Errorf("%w: unknown codec %q", ErrInvalidConfig, b.Codec)
	}
	if _, err := compress.Parse(b.Compression); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	switch strings.ToLower(b.Backend) {
	case BlobLocal:
		if b.Path == "" {
			return fmt.Errorf("%w: blob path is required", ErrInvalidConfig)
		}
	case BlobMemory:
	case BlobS3:
		if b.Bucket == "" {
			return fmt.Errorf("%w: s3 bucket is required", ErrInvalidConfig)
		}
	case BlobMinIO:
		if err := b.MinIO.Validate(); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
		}
	default:
		return fmt.Errorf("%w: unknown blob backend %q", ErrInvalidConfig, b.Backend)
	}
	return nil
}

// Validate checks the level and format.
func (l *LogConfig) Validate() error {
	if _, err := l.level(); err != nil {
		return err
	}
	switch strings.ToLower(l.Format) {
	case "json", "text", "none", "":
		return nil
	default:
		return fmt.Errorf("%w: unknown log format %q", ErrInvalidConfig, l.Format)
	}
}

func (l *LogConfig) level() (slog.Level, error) {
	var level slog.Level
	if l.Level == "" {
		return slog.LevelInfo, nil
	}
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		return 0, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return level, nil
}

// Validate checks the backend name.
func (m *MetricsConfig) Validate() error {
	switch strings.ToLower(m.Backend) {
	case "none", "", "basic", "prometheus":
		return nil
	default:
		return fmt.Errorf("%w: unknown metrics backend %q", ErrInvalidConfig, m.Backend)
	}
}

// dtypeMatches reports whether the configured dtype is T.
func dtypeMatches[T codec.Scalar](c *Config) error {
	want, err := codec.ParseDType(c.DType)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if got := codec.DTypeOf[T](); got != want {
		return fmt.Errorf("%w: configured dtype %s, opened as %s", ErrInvalidConfig, want, got)
	}
	return nil
}
