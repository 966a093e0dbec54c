package data

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/KotFed0t/basket_rebalancer/config"
	"github.com/redis/go-redis/v9"
)

func NewRedisClient(cfg *config.Config) *redis.Client {
	rdb := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	err := connectWithRetry("redis", cfg.Redis.ConnAttempts, cfg.Redis.ConnRetryDelay, func() error {
		return rdb.Ping(context.Background()).Err()
	})
	if err != nil {
		slog.Error("can't connect to redis", slog.Int("attempts", cfg.Redis.ConnAttempts), slog.String("err", err.Error()))
		panic(err)
	}
	slog.Info("Redis connected", slog.String("addr", rdb.Options().Addr))

	return rdb
}
