package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prperemyshlev/chatsync/internal/config"
	"github.com/prperemyshlev/chatsync/internal/repository"
	"github.com/prperemyshlev/chatsync/pkg/database"
	"github.com/prperemyshlev/chatsync/pkg/observability"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/zap"
)

const (
	serviceName    = "chatsync"
	connectTimeout = 10 * time.Second
)

type Infrastructure interface {
	Storage() repository.KeyValueStorage
	Postgres() *database.Postgres
	Redis() *database.Redis
	Logger() *zap.Logger
	MetricsHandler() http.Handler
	MeterProvider() *metric.MeterProvider

	Shutdown(ctx context.Context) error
}

type infrastructure struct {
	storage        repository.KeyValueStorage
	postgres       *database.Postgres
	redis          *database.Redis
	logger         *zap.Logger
	metricsHandler http.Handler
	meterProvider  *metric.MeterProvider
}

var _ Infrastructure = &infrastructure{}

func NewInfrastructure(ctx context.Context, cfg config.Config) (*infrastructure, error) {
	i := &infrastructure{}

	logger, err := observability.InitLogger(cfg.Env)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	i.logger = logger

	if err := i.openStorage(ctx, cfg); err != nil {
		return nil, err
	}

	meterProvider, metricsHandler, err := observability.InitTelemetry(serviceName)
	if err != nil {
		_ = i.storage.Close()
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	i.meterProvider = meterProvider
	i.metricsHandler = metricsHandler

	return i, nil
}

// openStorage connects the durable backend selected by STORAGE_DRIVER
func (i *infrastructure) openStorage(ctx context.Context, cfg config.Config) error {
	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	switch cfg.Storage.Driver {
	case config.StorageMemory:
		i.storage = repository.NewMemoryStorage()

	case config.StorageFile:
		storage, err := repository.NewFileStorage(cfg.Storage.FilePath, repository.MachineSecret(cfg.Storage.Profile))
		if err != nil {
			return fmt.Errorf("failed to open file storage: %w", err)
		}
		i.storage = storage

	case config.StorageRedis:
		redis, err := database.NewRedis(ctx, cfg.Redis.Address(), cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return fmt.Errorf("failed to connect to Redis: %w", err)
		}
		i.redis = redis
		i.storage = repository.NewRedisStorage(redis, cfg.Storage.Namespace+":"+cfg.Storage.Profile)

	case config.StoragePostgres:
		postgres, err := database.NewPostgres(ctx, cfg.Postgres.DSN())
		if err != nil {
			return fmt.Errorf("failed to connect to PostgreSQL: %w", err)
		}
		if err := postgres.Migrate(); err != nil {
			_ = postgres.Close()
			return err
		}
		i.postgres = postgres
		i.storage = repository.NewPostgresStorage(postgres, cfg.Storage.Namespace+":"+cfg.Storage.Profile)

	default:
		return fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}

	i.logger.Info("Storage opened", zap.String("driver", cfg.Storage.Driver))
	return nil
}

func (i *infrastructure) Storage() repository.KeyValueStorage {
	return i.storage
}

func (i *infrastructure) Postgres() *database.Postgres {
	return i.postgres
}

func (i *infrastructure) Redis() *database.Redis {
	return i.redis
}

func (i *infrastructure) Logger() *zap.Logger {
	return i.logger
}

func (i *infrastructure) MetricsHandler() http.Handler {
	return i.metricsHandler
}

func (i *infrastructure) MeterProvider() *metric.MeterProvider {
	return i.meterProvider
}

// Shutdown closes the storage backend (and with it any database client) and flushes telemetry
func (i *infrastructure) Shutdown(ctx context.Context) error {
	errs := make(chan error, 2)

	go func() { errs <- i.storage.Close() }()
	go func() { errs <- observability.Shutdown(ctx, i.meterProvider, i.logger) }()

	return errors.Join(<-errs, <-errs)
}
