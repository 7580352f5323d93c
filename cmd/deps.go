package main

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"jobmate/matching-service/internal/config"
	"jobmate/matching-service/internal/db"
	"jobmate/matching-service/internal/events"
	"jobmate/matching-service/internal/matching"
	"jobmate/matching-service/internal/review"
	"jobmate/matching-service/internal/store"
)

// deps are the wired components shared by every command.
type deps struct {
	pool       *pgxpool.Pool
	rdb        *redis.Client
	store      *store.Postgres
	indexer    *matching.Indexer
	reconciler *matching.Reconciler
	review     *review.Service
}

// connect opens Postgres and, when configured, Redis, and wires the domain
// components on top. Without Redis the index cache and run lock stay in
// process and no events are published.
func connect(ctx context.Context, cfg *config.Config, log *zap.Logger) (*deps, error) {
	log.Info("connecting to PostgreSQL")
	pool, err := db.NewPostgresPool(ctx, cfg.DatabaseURL, db.PoolOptions{})
	if err != nil {
		return nil, fmt.Errorf("postgres: %w", err)
	}
	log.Info("PostgreSQL connected")

	rdb, err := db.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("redis: %w", err)
	}

	var (
		cache  matching.IndexCache = matching.NewMemoryIndexCache()
		locker matching.Locker     = matching.NewMemoryLocker()
	)
	if rdb != nil {
		log.Info("Redis connected")
		cache = matching.NewRedisIndexCache(rdb, cfg.Matching.IndexTTL, log)
		locker = matching.NewRedisLocker(rdb, cfg.Matching.LockTTL)
	} else {
		log.Warn("no redis-url configured, using in-process index cache and lock")
	}

	st := store.NewPostgres(pool)
	indexer := matching.NewIndexer(cache, log)
	return &deps{
		pool:       pool,
		rdb:        rdb,
		store:      st,
		indexer:    indexer,
		reconciler: matching.NewReconciler(st, indexer, locker, cfg.Reconciler(), log),
		review:     review.NewService(st, events.NewPublisher(rdb), log),
	}, nil
}

func (d *deps) Close() {
	if d.rdb != nil {
		_ = d.rdb.Close()
	}
	d.pool.Close()
}
