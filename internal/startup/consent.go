package startup

import (
	"context"
	"time"

	"github.com/messenger/chansync/internal/config"
	"github.com/messenger/chansync/internal/logger"
	"github.com/messenger/chansync/internal/storage"
	"github.com/messenger/chansync/internal/storage/file"
	"github.com/messenger/chansync/internal/storage/memory"
)

// OpenConsentStore выбирает хранилище согласия по конфигурации.
// Недоступный Redis — откат на файл, чтобы ожидание согласия не терялось.
func OpenConsentStore(ctx context.Context, cfg config.ConsentConfig) storage.ConsentStore {
	switch cfg.Backend {
	case config.ConsentBackendRedis:
		client, err := ConnectRedisWithRetry(ctx, cfg.RedisURL, cfg.TTL, 15*time.Second)
		if err == nil {
			logger.Info("consent store: redis")
			return client
		}
		logger.Errorf("consent store: %v, falling back to file %s", err, cfg.FilePath)
		return file.New(cfg.FilePath, cfg.TTL)
	case config.ConsentBackendMemory:
		logger.Info("consent store: memory")
		return memory.New(cfg.TTL)
	default:
		logger.Infof("consent store: file %s", cfg.FilePath)
		return file.New(cfg.FilePath, cfg.TTL)
	}
}
