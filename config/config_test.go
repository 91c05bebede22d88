package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/tinyvec"
	"github.com/hupe1980/tinyvec/tablestore/blob"
	"github.com/hupe1980/tinyvec/tablestore/memory"
)

func expectedFileConfig() *Config {
	cfg := Default()
	cfg.DType = "float64"
	cfg.Concurrency = 4
	cfg.Collections = []tinyvec.CollectionConfig{
		{Name: "docs", Dimension: 3},
		{Name: "images", Dimension: 8},
	}
	cfg.Store.Backend = BackendSQLite
	cfg.Store.SQLite.Path = "/var/lib/tinyvec/db.sqlite"
	cfg.Log = LogConfig{Level: "debug", Format: "json"}
	cfg.Metrics.Backend = "basic"
	return cfg
}

func TestLoad(t *testing.T) {
	for _, name := range []string{"tinyvec.yaml", "tinyvec.toml", "tinyvec.json"} {
		t.Run(name, func(t *testing.T) {
			cfg, err := Load(filepath.Join("testdata", name))
			require.NoError(t, err)
			assert.Equal(t, expectedFileConfig(), cfg)
		})
	}
}

func TestLoad_Errors(t *testing.T) {
	dir := t.TempDir()

	t.Run("MissingFile", func(t *testing.T) {
		_, err := Load(filepath.Join(dir, "absent.yaml"))
		require.ErrorIs(t, err, os.ErrNotExist)
	})

	t.Run("UnknownExtension", func(t *testing.T) {
		path := filepath.Join(dir, "tinyvec.ini")
		require.NoError(t, os.WriteFile(path, []byte("dtype=float32"), 0o600))
		_, err := Load(path)
		assert.Error(t, err)
	})

	t.Run("Malformed", func(t *testing.T) {
		path := filepath.Join(dir, "bad.json")
		require.NoError(t, os.WriteFile(path, []byte("{"), 0o600))
		_, err := Load(path)
		assert.Error(t, err)
	})

	t.Run("Invalid", func(t *testing.T) {
		path := filepath.Join(dir, "invalid.yaml")
		require.NoError(t, os.WriteFile(path, []byte("store:\n  backend: sqlite\n"), 0o600))
		_, err := Load(path)
		assert.ErrorIs(t, err, ErrInvalidConfig)
	})
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("TINYVEC_DTYPE", "float32")
	t.Setenv("TINYVEC_STORE_SQLITE_PATH", "/tmp/override.sqlite")
	t.Setenv("TINYVEC_LOG_LEVEL", "warn")
	t.Setenv("TINYVEC_METRICS_NAMESPACE", "search")

	cfg, err := Load(filepath.Join("testdata", "tinyvec.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "float32", cfg.DType)
	assert.Equal(t, "/tmp/override.sqlite", cfg.Store.SQLite.Path)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, "search", cfg.Metrics.Namespace)
	assert.Len(t, cfg.Collections, 2)
}

func TestLoadEnv(t *testing.T) {
	t.Setenv("TINYVEC_STORE_BACKEND", "blob")
	t.Setenv("TINYVEC_STORE_BLOB_BACKEND", "minio")
	t.Setenv("TINYVEC_STORE_BLOB_MINIO_ENDPOINT", "localhost:9000")
	t.Setenv("TINYVEC_STORE_BLOB_MINIO_ACCESS_KEY", "key")
	t.Setenv("TINYVEC_STORE_BLOB_MINIO_BUCKET", "vectors")
	t.Setenv("TINYVEC_STORE_BLOB_COMPRESSION", "lz4")
	t.Setenv("TINYVEC_STORE_DYNAMODB_WRITE_RATE", "12.5")

	cfg, err := LoadEnv()
	require.NoError(t, err)

	assert.Equal(t, BackendBlob, cfg.Store.Backend)
	assert.Equal(t, BlobMinIO, cfg.Store.Blob.Backend)
	assert.Equal(t, "localhost:9000", cfg.Store.Blob.MinIO.Endpoint)
	assert.Equal(t, "key", cfg.Store.Blob.MinIO.AccessKey)
	assert.Equal(t, "vectors", cfg.Store.Blob.MinIO.Bucket)
	assert.Equal(t, "lz4", cfg.Store.Blob.Compression)
	assert.Equal(t, "go-json", cfg.Store.Blob.Codec)
	assert.InDelta(t, 12.5, cfg.Store.DynamoDB.WriteRate, 1e-9)

	t.Setenv("TINYVEC_CONCURRENCY", "many")
	_, err = LoadEnv()
	assert.Error(t, err)
}

func TestFromMap(t *testing.T) {
	cfg, err := FromMap(map[string]any{
		"dtype": "int32",
		"collections": []map[string]any{
			{"name": "docs", "dimension": "16"},
		},
		"store": map[string]any{
			"backend": "redis",
			"redis":   map[string]any{"addr": "localhost:6379", "db": "2"},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, "int32", cfg.DType)
	assert.Equal(t, []tinyvec.CollectionConfig{{Name: "docs", Dimension: 16}}, cfg.Collections)
	assert.Equal(t, "localhost:6379", cfg.Store.Redis.Addr)
	assert.Equal(t, 2, cfg.Store.Redis.DB)
	assert.Equal(t, "info", cfg.Log.Level)

	_, err = FromMap(map[string]any{"dtypes": "float32"})
	require.ErrorIs(t, err, ErrInvalidConfig)
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("TINYVEC_TEST_DOTENV=loaded\n"), 0o600))
	t.Cleanup(func() { _ = os.Unsetenv("TINYVEC_TEST_DOTENV") })

	require.NoError(t, LoadDotEnv(filepath.Join(dir, "absent.env"), path))
	assert.Equal(t, "loaded", os.Getenv("TINYVEC_TEST_DOTENV"))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"DType", func(c *Config) { c.DType = "complex64" }},
		{"CollectionDimension", func(c *Config) {
			c.Collections = []tinyvec.CollectionConfig{{Name: "docs", Dimension: 0}}
		}},
		{"CollectionName", func(c *Config) {
			c.Collections = []tinyvec.CollectionConfig{{Name: "", Dimension: 2}}
		}},
		{"DuplicateCollection", func(c *Config) {
			c.Collections = []tinyvec.CollectionConfig{{Name: "a", Dimension: 2}, {Name: "a", Dimension: 3}}
		}},
		{"StoreBackend", func(c *Config) { c.Store.Backend = "cassandra" }},
		{"SQLitePath", func(c *Config) { c.Store.Backend = BackendSQLite }},
		{"RedisAddr", func(c *Config) { c.Store.Backend = BackendRedis }},
		{"DynamoDBTable", func(c *Config) { c.Store.Backend = BackendDynamoDB }},
		{"DynamoDBRate", func(c *Config) {
			c.Store.Backend = BackendDynamoDB
			c.Store.DynamoDB.Table = "t"
			c.Store.DynamoDB.WriteRate = -1
		}},
		{"BlobPath", func(c *Config) { c.Store.Backend = BackendBlob }},
		{"BlobBucket", func(c *Config) {
			c.Store.Backend = BackendBlob
			c.Store.Blob.Backend = BlobS3
		}},
		{"BlobMinIO", func(c *Config) {
			c.Store.Backend = BackendBlob
			c.Store.Blob.Backend = BlobMinIO
		}},
		{"BlobCodec", func(c *Config) {
			c.Store.Backend = BackendBlob
			c.Store.Blob.Backend = BlobMemory
			c.Store.Blob.Codec = "gob"
		}},
		{"BlobCompression", func(c *Config) {
			c.Store.Backend = BackendBlob
			c.Store.Blob.Backend = BlobMemory
			c.Store.Blob.Compression = "brotli"
		}},
		{"LogLevel", func(c *Config) { c.Log.Level = "loud" }},
		{"LogFormat", func(c *Config) { c.Log.Format = "xml" }},
		{"Metrics", func(c *Config) { c.Metrics.Backend = "statsd" }},
	}

	require.NoError(t, Default().Validate())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
		})
	}
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	t.Run("Memory", func(t *testing.T) {
		cfg := Default()
		cfg.Collections = []tinyvec.CollectionConfig{{Name: "docs", Dimension: 2}}

		db, err := Open[float32](ctx, cfg)
		require.NoError(t, err)
		defer db.Close()

		c, err := db.Collection("docs")
		require.NoError(t, err)
		require.NoError(t, c.AddBlock([]string{"a"}, [][]float32{{1, 0}}))
		require.NoError(t, db.Commit(ctx))
	})

	t.Run("DTypeMismatch", func(t *testing.T) {
		cfg := Default()
		cfg.DType = "float64"
		_, err := Open[float32](ctx, cfg)
		require.ErrorIs(t, err, ErrInvalidConfig)
	})

	t.Run("BlobLocalReopen", func(t *testing.T) {
		cfg := Default()
		cfg.DType = "int64"
		cfg.Collections = []tinyvec.CollectionConfig{{Name: "ids", Dimension: 3}}
		cfg.Store.Backend = BackendBlob
		cfg.Store.Blob.Path = t.TempDir()
		cfg.Store.Blob.Compression = "lz4"

		db, err := Open[int64](ctx, cfg)
		require.NoError(t, err)
		c, err := db.Collection("ids")
		require.NoError(t, err)
		require.NoError(t, c.AddBlock([]string{"x", "y"}, [][]int64{{1, 2, 3}, {4, 5, 6}}))
		require.NoError(t, db.Commit(ctx))
		require.NoError(t, db.Close())

		db, err = Open[int64](ctx, cfg)
		require.NoError(t, err)
		defer db.Close()
		c, err = db.Collection("ids")
		require.NoError(t, err)
		v, ok := c.Get("y")
		require.True(t, ok)
		assert.Equal(t, []int64{4, 5, 6}, v)
	})

	t.Run("CorruptedClosesStore", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "db.sqlite")
		db, err := OpenSQLite[float32](ctx, path, []tinyvec.CollectionConfig{
			{Name: "a", Dimension: 2},
			{Name: "b", Dimension: 2},
		})
		require.NoError(t, err)
		require.NoError(t, db.Commit(ctx))
		require.NoError(t, db.Close())

		_, err = OpenSQLite[float32](ctx, path, []tinyvec.CollectionConfig{{Name: "a", Dimension: 2}})
		require.ErrorIs(t, err, tinyvec.ErrCorrupted)

		db, err = OpenSQLite[float32](ctx, path, []tinyvec.CollectionConfig{
			{Name: "a", Dimension: 2},
			{Name: "b", Dimension: 2},
		})
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b"}, db.CollectionNames())
		require.NoError(t, db.Close())
	})
}

func TestOpenStore(t *testing.T) {
	ctx := context.Background()

	s, err := OpenStore(ctx, StoreConfig{Backend: BackendMemory})
	require.NoError(t, err)
	assert.IsType(t, &memory.Store{}, s)
	require.NoError(t, s.Close())

	cfg := Default().Store
	cfg.Backend = BackendBlob
	cfg.Blob.Backend = BlobMemory
	s, err = OpenStore(ctx, cfg)
	require.NoError(t, err)
	assert.IsType(t, &blob.Store{}, s)
	require.NoError(t, s.Close())

	_, err = OpenStore(ctx, StoreConfig{Backend: "cassandra"})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestNewLogger(t *testing.T) {
	for _, format := range []string{"json", "text", "none"} {
		l, err := NewLogger(LogConfig{Level: "debug", Format: format})
		require.NoError(t, err)
		assert.NotNil(t, l)
	}

	_, err := NewLogger(LogConfig{Level: "chatty"})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestNewMetricsCollector(t *testing.T) {
	reg := prometheus.NewRegistry()

	m, err := NewMetricsCollector(MetricsConfig{Backend: "basic"}, reg)
	require.NoError(t, err)
	assert.IsType(t, &tinyvec.BasicMetricsCollector{}, m)

	m, err = NewMetricsCollector(MetricsConfig{Backend: "none"}, reg)
	require.NoError(t, err)
	assert.IsType(t, tinyvec.NoopMetricsCollector{}, m)

	// A second DB on the same registry shares the registered collector
	// instead of panicking on duplicate registration.
	first, err := NewMetricsCollector(MetricsConfig{Backend: "prometheus", Namespace: "a"}, reg)
	require.NoError(t, err)
	second, err := NewMetricsCollector(MetricsConfig{Backend: "prometheus", Namespace: "a"}, reg)
	require.NoError(t, err)
	assert.Same(t, first, second)

	other, err := NewMetricsCollector(MetricsConfig{Backend: "prometheus", Namespace: "b"}, reg)
	require.NoError(t, err)
	assert.NotSame(t, first, other)
}
