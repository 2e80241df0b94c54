package repositories

import (
	"context"
	"time"

	"roomcast/internal/core/ports"
	"roomcast/internal/infrastructure/repositories/memory"
	redisrepo "roomcast/internal/infrastructure/repositories/redis"
	"roomcast/pkg/config"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const completedRoomTTL = 7 * 24 * time.Hour

// RepositoryFactory creates the session store, falling back to memory when Redis is
// disabled or unreachable.
type RepositoryFactory struct {
	useRedis    bool
	redisClient *redis.Client
	logger      *zap.SugaredLogger
}

// NewRepositoryFactory creates a new repository factory
func NewRepositoryFactory(cfg *config.Config, logger *zap.SugaredLogger) *RepositoryFactory {
	factory := &RepositoryFactory{
		useRedis: cfg.Redis.Enabled,
		logger:   logger,
	}

	if cfg.Redis.Enabled {
		client, err := redisrepo.NewRedisClient(
			cfg.Redis.Address,
			cfg.Redis.Password,
			cfg.Redis.DB,
			cfg.Redis.PoolSize,
			logger,
		)
		if err != nil {
			logger.Warnw("failed to connect to Redis, falling back to memory session store",
				"error", err,
			)
			factory.useRedis = false
		} else {
			factory.redisClient = client
			logger.Info("using Redis session store")
		}
	}

	if !factory.useRedis {
		logger.Info("using memory session store")
	}

	return factory
}

// CreateSessionStore creates a session store based on configuration
func (f *RepositoryFactory) CreateSessionStore() ports.SessionStore {
	if f.useRedis && f.redisClient != nil {
		return redisrepo.NewSessionStore(f.redisClient, completedRoomTTL)
	}
	return memory.NewSessionStore()
}

// RedisClient returns the shared client, nil when running on memory.
func (f *RepositoryFactory) RedisClient() *redis.Client {
	return f.redisClient
}

// Close closes all connections
func (f *RepositoryFactory) Close() error {
	if f.redisClient != nil {
		return f.redisClient.Close()
	}
	return nil
}

// HealthCheck checks the health of the configured backend
func (f *RepositoryFactory) HealthCheck(ctx context.Context) error {
	if f.useRedis && f.redisClient != nil {
		return f.redisClient.Ping(ctx).Err()
	}
	return nil
}
