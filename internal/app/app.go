// Package app wires configuration, persistence, storage adapters and services
// into the object graph shared by the server and the operator CLI.
package app

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/maneesh/studyfolders/internal/config"
	"github.com/maneesh/studyfolders/internal/folders"
	"github.com/maneesh/studyfolders/internal/logging"
	"github.com/maneesh/studyfolders/internal/naming"
	"github.com/maneesh/studyfolders/internal/storage"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// App holds the long-lived dependencies of the service.
type App struct {
	Config    *config.Config
	DB        *sql.DB
	Store     *storage.MySQLStore
	Locations *storage.LocationStore
	Registry  *storage.Registry
	Adapters  *storage.Lookup
	Naming    *naming.Service
	Folders   *folders.Service

	redis *redis.Client
}

// NewAdapters builds one adapter per supported backend type.
func NewAdapters(cfg *config.Config) (*storage.Lookup, error) {
	creds := config.EnvCredentials{}
	objectOpts := storage.ObjectOptions{
		Credentials: creds,
		Timeout:     cfg.StorageRequestTimeout,
		CacheSize:   cfg.ClientCacheSize,
	}
	minioAdapter, err := storage.NewMinioAdapter(objectOpts)
	if err != nil {
		return nil, fmt.Errorf("object store adapter: %w", err)
	}
	s3Adapter, err := storage.NewS3Adapter(objectOpts)
	if err != nil {
		return nil, fmt.Errorf("s3 adapter: %w", err)
	}
	return storage.NewLookup(
		storage.NewLocalAdapter(),
		minioAdapter,
		s3Adapter,
		storage.NewEnterpriseAdapter(storage.EnterpriseOptions{
			Credentials: creds,
			Timeout:     cfg.StorageRequestTimeout,
		}),
	)
}

// New connects to MySQL (and Redis when configured), ensures the schema and
// loads the location registry. Every active location must have an adapter.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	log := logging.L()

	log.Info("connecting to MySQL", zap.String("host", cfg.MySQLHost), zap.String("database", cfg.MySQLDatabase))
	db, err := storage.OpenMySQL(cfg.GetDSN())
	if err != nil {
		return nil, err
	}
	a := &App{Config: cfg, DB: db}
	if err := a.init(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) init(ctx context.Context) error {
	log := logging.L()
	cfg := a.Config

	if err := storage.EnsureSchema(ctx, a.DB); err != nil {
		return err
	}
	a.Store = storage.NewMySQLStore(a.DB)
	a.Locations = storage.NewLocationStore(a.DB)

	adapters, err := NewAdapters(cfg)
	if err != nil {
		return err
	}
	a.Adapters = adapters

	if err := a.Reload(ctx); err != nil {
		return err
	}

	var reserver naming.Reserver
	if addr := cfg.GetRedisAddr(); addr != "" {
		log.Info("connecting to Redis", zap.String("addr", addr))
		client, err := storage.NewRedisClient(ctx, addr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return err
		}
		a.redis = client
		reserver = storage.NewRedisReserver(client, cfg.CodeReservationTTL)
	} else {
		log.Warn("REDIS_HOST not set, code reservations are serialized in this process only")
	}
	a.Naming = naming.NewService(cfg.Naming, a.Store, reserver)
	return nil
}

// Reload rebuilds the location registry from the database and rewires the
// folder service to the new snapshot. It runs during New, before any request
// is served; the fields it sets are not synchronized for later reloads.
func (a *App) Reload(ctx context.Context) error {
	registry, err := storage.LoadRegistry(ctx, a.Locations)
	if err != nil {
		return err
	}
	if err := a.Adapters.Validate(registry); err != nil {
		return err
	}
	a.Registry = registry
	a.Folders = folders.NewService(registry, a.Adapters, a.Store, a.Store)
	logging.L().Info("storage locations loaded", zap.Int("count", len(registry.All())))
	return nil
}

// Close releases the database and Redis connections.
func (a *App) Close() error {
	var firstErr error
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			firstErr = err
		}
	}
	if a.DB != nil {
		if err := a.DB.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
