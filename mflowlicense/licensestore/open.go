package licensestore

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// Config selects and parameterizes a Store backend.
type Config struct {
	// Driver is one of "memory", "postgres", "mongo", "redis".
	Driver string

	PostgresDSN string

	MongoURI      string
	MongoDatabase string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
}

// Open connects to the configured backend and returns a ready Store.
// Stores returned by Open own their connection: Close releases it. (The
// New* constructors, by contrast, leave lifecycle to the caller.)
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Driver {
	case "", "memory":
		return NewMemory(), nil

	case "postgres":
		pool, err := pgxpool.New(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		store, err := NewPostgres(ctx, pool)
		if err != nil {
			pool.Close()
			return nil, err
		}
		return &ownedStore{Store: store, closer: func(context.Context) error {
			pool.Close()
			return nil
		}}, nil

	case "mongo":
		client, err := mongo.Connect(options.Client().ApplyURI(cfg.MongoURI))
		if err != nil {
			return nil, fmt.Errorf("connect mongo: %w", err)
		}
		db := cfg.MongoDatabase
		if db == "" {
			db = "mflow"
		}
		store, err := NewMongo(ctx, client.Database(db))
		if err != nil {
			_ = client.Disconnect(ctx)
			return nil, err
		}
		return &ownedStore{Store: store, closer: client.Disconnect}, nil

	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		return &ownedStore{Store: NewRedis(client), closer: func(context.Context) error {
			return client.Close()
		}}, nil

	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

// ownedStore closes the underlying connection when the store is closed.
type ownedStore struct {
	Store
	closer func(ctx context.Context) error
}

func (s *ownedStore) Close(ctx context.Context) error {
	return s.closer(ctx)
}
