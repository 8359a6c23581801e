package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/yungbote/certsig-backend/internal/data/db"
	"github.com/yungbote/certsig-backend/internal/platform/gcp"
	"github.com/yungbote/certsig-backend/internal/platform/logger"
)

type Clients struct {
	DB      *db.Service
	Redis   goredis.UniversalClient
	Archive gcp.ArchiveBucket
}

func wireClients(ctx context.Context, log *logger.Logger, cfg Config) (Clients, error) {
	log.Info("Wiring clients...")
	var c Clients

	// Database
	if cfg.needsDatabase() {
		svc, err := db.NewService(log, db.Options{
			Driver:       cfg.DatabaseDriver,
			DSN:          cfg.DatabaseDSN,
			MaxOpenConns: cfg.DatabaseMaxOpenConns,
		})
		if err != nil {
			return Clients{}, fmt.Errorf("init database: %w", err)
		}
		if err := db.AutoMigrateAll(svc.DB()); err != nil {
			_ = svc.Close()
			return Clients{}, fmt.Errorf("database automigrate: %w", err)
		}
		c.DB = svc
	}

	// Redis
	if strings.TrimSpace(cfg.RedisAddr) != "" {
		rdb, err := newRedisClient(ctx, cfg)
		if err != nil {
			c.Close()
			return Clients{}, err
		}
		c.Redis = rdb
	}

	// Gcs
	if strings.TrimSpace(cfg.ArchiveGCSBucket) != "" {
		bucket, err := resolveArchiveBucket(ctx, log, cfg)
		if err != nil {
			c.Close()
			return Clients{}, err
		}
		c.Archive = bucket
	}
	return c, nil
}

func newRedisClient(ctx context.Context, cfg Config) (goredis.UniversalClient, error) {
	rdb := goredis.NewUniversalClient(&goredis.UniversalOptions{
		Addrs:       strings.Split(cfg.RedisAddr, ","),
		Password:    cfg.RedisPassword,
		DB:          cfg.RedisDB,
		DialTimeout: 5 * time.Second,
	})
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return rdb, nil
}

func (c *Clients) Close() {
	if c == nil {
		return
	}
	if c.Archive != nil {
		_ = c.Archive.Close()
	}
	if c.Redis != nil {
		_ = c.Redis.Close()
	}
	if c.DB != nil {
		_ = c.DB.Close()
	}
}
