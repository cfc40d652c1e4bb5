package bootstrap

import (
	"context"
	"fmt"

	"github.com/exaring/otelpgx"
	"github.com/go-redis/redis"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/trace"
	_ "gocloud.dev/blob/azureblob"
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/memblob"
	_ "gocloud.dev/blob/s3blob"

	"github.com/ahrav/stationsnap/internal/config"
	"github.com/ahrav/stationsnap/internal/domain/jobs"
	"github.com/ahrav/stationsnap/internal/infra/storage"
	"github.com/ahrav/stationsnap/internal/infra/storage/artifact"
	memstatus "github.com/ahrav/stationsnap/internal/infra/storage/status/memory"
	pgstatus "github.com/ahrav/stationsnap/internal/infra/storage/status/postgres"
	redisstatus "github.com/ahrav/stationsnap/internal/infra/storage/status/redis"
	"github.com/ahrav/stationsnap/pkg/common/logger"
)

// OpenStatusStore connects the configured status backend. The returned func
// releases its connections.
func OpenStatusStore(
	ctx context.Context,
	cfg *config.Config,
	log *logger.Logger,
	tracer trace.Tracer,
) (jobs.StatusRepository, func(), error) {
	switch cfg.Status.Backend {
	case config.BackendPostgres:
		poolCfg, err := pgxpool.ParseConfig(cfg.Database.URL)
		if err != nil {
			return nil, nil, fmt.Errorf("parsing db config: %w", err)
		}
		poolCfg.MinConns = cfg.Database.MinConns
		poolCfg.MaxConns = cfg.Database.MaxConns
		poolCfg.ConnConfig.Tracer = otelpgx.NewTracer()

		pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
		if err != nil {
			return nil, nil, fmt.Errorf("creating db pool: %w", err)
		}

		if cfg.Database.Migrate {
			log.Info(ctx, "startup", "status", "running migrations")
			if err := storage.Migrate(pool); err != nil {
				pool.Close()
				return nil, nil, err
			}
		}

		return pgstatus.NewStatusStore(pool, tracer), pool.Close, nil

	case config.BackendRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := client.WithContext(ctx).Ping().Err(); err != nil {
			client.Close()
			return nil, nil, fmt.Errorf("connecting to redis: %w", err)
		}

		return redisstatus.NewStatusStore(client, cfg.Status.TTL, tracer), func() { _ = client.Close() }, nil

	default:
		log.Warn(ctx, "startup", "status", "using in-memory status store, state is lost on restart")
		return memstatus.NewStatusStore(), func() {}, nil
	}
}

// OpenArtifactStore opens the configured bucket.
func OpenArtifactStore(ctx context.Context, cfg config.ArtifactsConfig, tracer trace.Tracer) (*artifact.BlobStore, error) {
	return artifact.Open(ctx, cfg.BucketURL, artifact.Config{
		PublicBaseURL:   cfg.PublicBaseURL,
		SignedURLExpiry: cfg.SignedURLExpiry,
	}, tracer)
}
