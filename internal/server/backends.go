package server

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dmd/devicetracker/config"
	"github.com/dmd/devicetracker/internal/db"
	"github.com/dmd/devicetracker/internal/mq"
	"github.com/dmd/devicetracker/internal/services"
	"github.com/dmd/devicetracker/internal/storage"
	"github.com/dmd/devicetracker/internal/store"
	"github.com/redis/go-redis/v9"
)

const redisPingTimeout = 5 * time.Second

// Store is a persistence backend for both the roster and the ledger.
type Store interface {
	services.UserStore
	services.AssignmentStore
}

// OpenStore builds the backend named by cfg.DataBackend. The returned
// close function releases its connections.
func OpenStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (Store, func() error, error) {
	noop := func() error { return nil }

	switch cfg.DataBackend {
	case "", "file":
		client, err := storage.NewLocalClient(cfg.DataDir)
		if err != nil {
			return nil, nil, err
		}
		s, err := objectStore(ctx, client)
		return s, noop, err

	case "minio":
		client, err := storage.NewMinioClient(cfg.Minio)
		if err != nil {
			return nil, nil, err
		}
		s, err := objectStore(ctx, client)
		return s, noop, err

	case "gcs":
		client, err := storage.NewGCSClient(ctx, cfg.GCS)
		if err != nil {
			return nil, nil, err
		}
		s, err := objectStore(ctx, client)
		if err != nil {
			_ = client.Close()
			return nil, nil, err
		}
		return s, client.Close, nil

	case "postgres":
		if cfg.Database.AutoMigrate {
			if err := db.RunMigrations(db.URL(cfg.Database)); err != nil {
				return nil, nil, err
			}
			logger.Info("database migrations applied")
		}
		conn, err := db.Open(ctx, cfg.Database, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("open database: %w", err)
		}
		return store.NewPostgresStore(conn), conn.Close, nil

	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, redisPingTimeout)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("redis ping: %w", err)
		}
		return store.NewRedisStore(client, cfg.Redis.KeyPrefix), client.Close, nil

	default:
		return nil, nil, fmt.Errorf("unknown data backend %q", cfg.DataBackend)
	}
}

func objectStore(ctx context.Context, backend storage.ObjectStorage) (*store.ObjectStore, error) {
	s := storage.NewStorage(backend)
	if err := s.EnsureBucket(ctx); err != nil {
		return nil, fmt.Errorf("ensure bucket %s: %w", s.Bucket(), err)
	}
	return store.NewObjectStore(s), nil
}

// OpenEvents connects the broker named by cfg.EventsBackend. It returns nil
// when events are disabled.
func OpenEvents(ctx context.Context, cfg config.Config) (*mq.MQ, error) {
	switch cfg.EventsBackend {
	case "", "none":
		return nil, nil
	case "rabbitmq":
		client, err := mq.NewRabbitMQClient(cfg.RabbitMQ)
		if err != nil {
			return nil, err
		}
		return mq.New(client), nil
	case "pubsub":
		client, err := mq.NewPubSubClient(ctx, cfg.PubSub)
		if err != nil {
			return nil, err
		}
		return mq.New(client), nil
	default:
		return nil, fmt.Errorf("unknown events backend %q", cfg.EventsBackend)
	}
}
