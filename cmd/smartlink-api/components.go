package main

import (
	"context"
	"fmt"

	"github.com/mdmcmusicads/smartlink/internal/analytics"
	"github.com/mdmcmusicads/smartlink/internal/cache"
	"github.com/mdmcmusicads/smartlink/internal/config"
	"github.com/mdmcmusicads/smartlink/internal/database"
	"github.com/mdmcmusicads/smartlink/internal/logging"
	"github.com/mdmcmusicads/smartlink/internal/odesli"
	"github.com/mdmcmusicads/smartlink/internal/ratelimit"
	"github.com/mdmcmusicads/smartlink/internal/resolver"
	"github.com/mdmcmusicads/smartlink/internal/smartlinks"
	"github.com/mdmcmusicads/smartlink/internal/users"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// components holds the wired core shared by the server and the CLI commands.
type components struct {
	config    config.AppConfig
	logger    *zap.Logger
	db        *gorm.DB
	cache     *cache.Service
	resolver  *resolver.Resolver
	store     *smartlinks.Store
	analytics *analytics.Service
	accounts  *users.Service
	closers   []func() error
}

func openComponents(ctx context.Context) (*components, error) {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return nil, err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel, appConfig.LogFormat)
	if err != nil {
		return nil, err
	}
	built := &components{config: appConfig, logger: logger}

	db, err := database.OpenSQLite(appConfig.DatabasePath, logger)
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	built.db = db
	built.closers = append(built.closers, sqlDB.Close)

	built.cache, err = cache.NewService(cache.ServiceConfig{Database: db, TTL: appConfig.CacheTTL, Logger: logger})
	if err != nil {
		built.Close()
		return nil, err
	}

	limiter, err := built.newLimiter(ctx)
	if err != nil {
		built.Close()
		return nil, err
	}
	client, err := odesli.NewClient(odesli.ClientConfig{
		BaseURL:     appConfig.OdesliAPIURL,
		UserCountry: appConfig.OdesliCountry,
		Timeout:     appConfig.OdesliTimeout,
		Logger:      logger,
	})
	if err != nil {
		built.Close()
		return nil, err
	}
	built.resolver, err = resolver.New(resolver.Config{
		Cache:   built.cache,
		Fetcher: client,
		Limiter: limiter,
		TTL:     appConfig.CacheTTL,
		Logger:  logger,
	})
	if err != nil {
		built.Close()
		return nil, err
	}

	built.store, err = smartlinks.NewStore(smartlinks.StoreConfig{
		Database:      db,
		Resolver:      built.resolver,
		PublicBaseURL: appConfig.PublicBaseURL,
		Logger:        logger,
	})
	if err != nil {
		built.Close()
		return nil, err
	}
	built.analytics, err = analytics.NewService(analytics.ServiceConfig{Database: db, Links: built.store, Logger: logger})
	if err != nil {
		built.Close()
		return nil, err
	}
	built.accounts, err = users.NewService(users.ServiceConfig{Database: db, Logger: logger})
	if err != nil {
		built.Close()
		return nil, err
	}
	return built, nil
}

// newLimiter shares the outbound window through Redis when an address is configured.
func (c *components) newLimiter(ctx context.Context) (ratelimit.Limiter, error) {
	if c.config.RedisAddress == "" {
		return ratelimit.NewFixedWindow(ratelimit.FixedWindowConfig{
			Limit:  c.config.RateLimit,
			Window: c.config.RateWindow,
		})
	}
	client := redis.NewClient(&redis.Options{Addr: c.config.RedisAddress})
	c.closers = append(c.closers, client.Close)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis %s: %w", c.config.RedisAddress, err)
	}
	c.logger.Info("using shared rate limiter", zap.String("redis_addr", c.config.RedisAddress))
	return ratelimit.NewRedisFixedWindow(ratelimit.RedisFixedWindowConfig{
		Client: client,
		Limit:  c.config.RateLimit,
		Window: c.config.RateWindow,
	})
}

func (c *components) Close() {
	for index := len(c.closers) - 1; index >= 0; index-- {
		if err := c.closers[index](); err != nil {
			c.logger.Warn("shutdown step failed", zap.Error(err))
		}
	}
	c.closers = nil
	_ = c.logger.Sync()
}
