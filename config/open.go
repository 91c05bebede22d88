package config

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hupe1980/tinyvec"
	"github.com/hupe1980/tinyvec/blobstore"
	blobminio "github.com/hupe1980/tinyvec/blobstore/minio"
	blobs3 "github.com/hupe1980/tinyvec/blobstore/s3"
	"github.com/hupe1980/tinyvec/codec"
	"github.com/hupe1980/tinyvec/internal/compress"
	"github.com/hupe1980/tinyvec/prommetrics"
	"github.com/hupe1980/tinyvec/tablestore"
	"github.com/hupe1980/tinyvec/tablestore/blob"
	"github.com/hupe1980/tinyvec/tablestore/dynamodb"
	"github.com/hupe1980/tinyvec/tablestore/memory"
	"github.com/hupe1980/tinyvec/tablestore/redis"
	"github.com/hupe1980/tinyvec/tablestore/sqlite"
)

// Open opens the store cfg describes and the DB over it. Options in optFns
// are applied after the ones derived from cfg, so they win.
//
// The DB owns the store: closing the DB closes it. If Open fails the store is
// closed before returning.
func Open[T codec.Scalar](ctx context.Context, cfg *Config, optFns ...tinyvec.Option) (*tinyvec.DB[T], error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := dtypeMatches[T](cfg); err != nil {
		return nil, err
	}

	logger, err := NewLogger(cfg.Log)
	if err != nil {
		return nil, err
	}
	metrics, err := NewMetricsCollector(cfg.Metrics, prometheus.DefaultRegisterer)
	if err != nil {
		return nil, err
	}

	store, err := OpenStore(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}

	opts := append([]tinyvec.Option{
		tinyvec.WithLogger(logger),
		tinyvec.WithMetricsCollector(metrics),
		tinyvec.WithConcurrency(cfg.Concurrency),
	}, optFns...)

	db, err := tinyvec.Open[T](ctx, store, cfg.Collections, opts...)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	return db, nil
}

// OpenSQLite opens a DB backed by the sqlite file at path.
func OpenSQLite[T codec.Scalar](ctx context.Context, path string, collections []tinyvec.CollectionConfig, optFns ...tinyvec.Option) (*tinyvec.DB[T], error) {
	cfg := Default()
	cfg.DType = codec.DTypeOf[T]().String()
	cfg.Collections = collections
	cfg.Store.Backend = BackendSQLite
	cfg.Store.SQLite.Path = path
	return Open[T](ctx, cfg, optFns...)
}

// OpenStore opens the table store cfg selects.
func OpenStore(ctx context.Context, cfg StoreConfig) (tablestore.Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	switch strings.ToLower(cfg.Backend) {
	case BackendMemory:
		return memory.New(), nil
	case BackendSQLite:
		s, err := sqlite.Open(cfg.SQLite.Path)
		if err != nil {
			return nil, err
		}
		return s, nil
	case BackendRedis:
		s, err := redis.New(ctx, cfg.Redis)
		if err != nil {
			return nil, err
		}
		return s, nil
	case BackendDynamoDB:
		opts := []dynamodb.Option{dynamodb.WithWriteRate(cfg.DynamoDB.WriteRate)}
		if cfg.DynamoDB.Namespace != "" {
			opts = append(opts, dynamodb.WithNamespace(cfg.DynamoDB.Namespace))
		}
		if cfg.DynamoDB.MaxRetries > 0 {
			def := dynamodb.DefaultOptions()
			opts = append(opts, dynamodb.WithRetry(cfg.DynamoDB.MaxRetries, def.Backoff, def.MaxBackoff))
		}
		s, err := dynamodb.New(ctx, cfg.DynamoDB.Table, opts...)
		if err != nil {
			return nil, err
		}
		return s, nil
	case BackendBlob:
		blobs, err := OpenBlobStore(ctx, cfg.Blob)
		if err != nil {
			return nil, err
		}
		c, _ := codec.ByName(cfg.Blob.Codec)
		ct, _ := compress.Parse(cfg.Blob.Compression)
		s, err := blob.Open(ctx, blobs, blob.WithCodec(c), blob.WithCompression(ct))
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("%w: unknown store backend %q", ErrInvalidConfig, cfg.Backend)
	}
}

// OpenBlobStore opens the object store behind the blob backend.
func OpenBlobStore(ctx context.Context, cfg BlobConfig) (blobstore.BlobStore, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	switch strings.ToLower(cfg.Backend) {
	case BlobLocal:
		return blobstore.NewLocalStore(cfg.Path), nil
	case BlobMemory:
		return blobstore.NewMemoryStore(), nil
	case BlobS3:
		var opts []blobs3.Option
		if cfg.Prefix != "" {
			opts = append(opts, blobs3.WithPrefix(cfg.Prefix))
		}
		if cfg.Region != "" {
			opts = append(opts, blobs3.WithRegion(cfg.Region))
		}
		if cfg.Endpoint != "" {
			opts = append(opts, blobs3.WithEndpoint(cfg.Endpoint))
		}
		s, err := blobs3.New(ctx, cfg.Bucket, opts...)
		if err != nil {
			return nil, err
		}
		return s, nil
	case BlobMinIO:
		s, err := blobminio.New(ctx, cfg.MinIO)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("%w: unknown blob backend %q", ErrInvalidConfig, cfg.Backend)
	}
}

// NewLogger builds the logger cfg describes.
func NewLogger(cfg LogConfig) (*tinyvec.Logger, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	level, _ := cfg.level()

	switch strings.ToLower(cfg.Format) {
	case "json":
		return tinyvec.NewJSONLogger(level), nil
	case "text":
		return tinyvec.NewTextLogger(level), nil
	default:
		return tinyvec.NoopLogger(), nil
	}
}

var (
	promMu         sync.Mutex
	promCollectors = map[promKey]*prommetrics.Collector{}
)

type promKey struct {
	reg       prometheus.Registerer
	namespace string
}

// NewMetricsCollector builds the collector cfg describes. Prometheus
// collectors are registered on reg once per namespace and shared by every
// DB opened afterwards.
func NewMetricsCollector(cfg MetricsConfig, reg prometheus.Registerer) (tinyvec.MetricsCollector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	switch strings.ToLower(cfg.Backend) {
	case "basic":
		return &tinyvec.BasicMetricsCollector{}, nil
	case "prometheus":
		promMu.Lock()
		defer promMu.Unlock()

		k := promKey{reg: reg, namespace: cfg.Namespace}
		c, ok := promCollectors[k]
		if !ok {
			c = prommetrics.New(reg, cfg.Namespace)
			promCollectors[k] = c
		}
		return c, nil
	default:
		return tinyvec.NoopMetricsCollector{}, nil
	}
}
