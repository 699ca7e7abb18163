package main

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"castle_chat/internal/config"
	"castle_chat/internal/repository/blob"
	redisSvc "castle_chat/internal/service/redis"
	"castle_chat/internal/storage"
)

// openStorage builds the persisted store selected by storage.backend.
func openStorage(ctx context.Context, cfg *config.Config) (storage.Storage, func(), error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	switch cfg.Storage.Backend {
	case "memory":
		return storage.NewMemoryStorage(), func() {}, nil

	case "redis":
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		svc := redisSvc.NewRedis(rdb)
		if err := svc.Ping(ctx); err != nil {
			rdb.Close()
			return nil, nil, fmt.Errorf("redis: %w", err)
		}
		return storage.NewRedisStorage(svc, cfg.Storage.Namespace, cfg.Storage.TTL), func() { rdb.Close() }, nil

	case "mongo":
		client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.Mongo.URI))
		if err != nil {
			return nil, nil, fmt.Errorf("mongo: %w", err)
		}
		if err := client.Ping(ctx, nil); err != nil {
			client.Disconnect(context.Background())
			return nil, nil, fmt.Errorf("mongo: %w", err)
		}
		s := blob.NewMongoStorage(client.Database(cfg.Mongo.Database))
		return s, func() { client.Disconnect(context.Background()) }, nil

	case "postgres":
		db, err := sql.Open("postgres", cfg.Postgres.URL)
		if err != nil {
			return nil, nil, fmt.Errorf("postgres: %w", err)
		}
		s := blob.NewPostgresStorage(db)
		if err := s.Migrate(ctx); err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("postgres migrate: %w", err)
		}
		return s, func() { db.Close() }, nil
	}
	return nil, nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
}
