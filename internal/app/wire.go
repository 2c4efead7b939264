package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/doubledice/ddindexer/internal/blob/s3"
	"github.com/doubledice/ddindexer/internal/cache/redis"
	"github.com/doubledice/ddindexer/internal/chain"
	"github.com/doubledice/ddindexer/internal/config"
	"github.com/doubledice/ddindexer/internal/domain"
	"github.com/doubledice/ddindexer/internal/ingest"
	"github.com/doubledice/ddindexer/internal/repo"
	"github.com/doubledice/ddindexer/internal/store/postgres"
)

// Dependencies bundles everything the application modes need to operate. It is
// constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	// Repo is the in-memory entity hierarchy, rebuilt from the durable
	// projection at startup.
	Repo *repo.Repo

	// Store is the durable projection; Checkpoint is the position of the last
	// event it has absorbed, nil on a fresh database.
	Store      *postgres.EntityStore
	Checkpoint *domain.EventPosition

	// Tokens reads ERC-20 metadata at first sighting of a payment token. Only
	// wired in ingesting modes.
	Tokens chain.TokenMetadataReader

	// ClaimCache is nil when Redis is disabled.
	ClaimCache *redis.ClaimCache

	// Archiver is nil when S3 is disabled.
	Archiver *ingest.TransferArchiver
}

// needsChain returns true for modes that apply events and therefore perform
// on-chain metadata reads.
func needsChain(mode string) bool {
	return mode == "ingest" || mode == "full"
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- PostgreSQL: durable projection, every mode needs it ---
	pgClient, err := postgres.New(ctx, postgres.ClientConfig{
		DSN:      cfg.Postgres.DSN,
		Host:     cfg.Postgres.Host,
		Port:     cfg.Postgres.Port,
		Database: cfg.Postgres.Database,
		User:     cfg.Postgres.User,
		Password: cfg.Postgres.Password,
		SSLMode:  cfg.Postgres.SSLMode,
		MaxConns: cfg.Postgres.PoolMaxConns,
		MinConns: cfg.Postgres.PoolMinConns,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: postgres: %w", err)
	}
	closers = append(closers, pgClient.Close)

	if cfg.Postgres.RunMigrations {
		if err := pgClient.RunMigrations(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
		}
	}

	deps.Store = postgres.NewEntityStore(pgClient.Pool())

	// Rebuild the in-memory hierarchy from the projection. On a fresh database
	// this yields an empty repository and a nil checkpoint.
	state, checkpoint, err := deps.Store.LoadAll(ctx)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: load projection: %w", err)
	}
	deps.Repo = repo.NewFromState(state)
	deps.Checkpoint = checkpoint
	if checkpoint != nil {
		logger.InfoContext(ctx, "projection loaded",
			slog.String("checkpoint", checkpoint.String()),
		)
	} else {
		logger.InfoContext(ctx, "projection empty, starting from genesis")
	}

	// --- Chain reader (only for modes that apply events) ---
	if needsChain(cfg.Mode) {
		reader, err := chain.Dial(ctx, cfg.Chain.RPCURL)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: chain: %w", err)
		}
		deps.Tokens = reader
	}

	// --- Redis claim cache (optional) ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })
		deps.ClaimCache = redis.NewClaimCache(redisClient)
	}

	// --- S3 transfer archive (optional) ---
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		deps.Archiver = ingest.NewTransferArchiver(
			s3blob.NewWriter(s3Client),
			cfg.S3.Prefix,
			logger,
		)
	}

	return deps, cleanup, nil
}
