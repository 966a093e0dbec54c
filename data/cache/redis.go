package cache

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/KotFed0t/basket_rebalancer/config"
	"github.com/KotFed0t/basket_rebalancer/internal/model/moexModel"
	"github.com/KotFed0t/basket_rebalancer/utils"
	"github.com/redis/go-redis/v9"
)

var ErrNotFound = errors.New("error not found")

const stockKeyPrefix = "stock:"

type RedisCache struct {
	redis *redis.Client
	cfg   *config.Config
}

func NewRedisCache(redisClient *redis.Client, cfg *config.Config) *RedisCache {
	return &RedisCache{redis: redisClient, cfg: cfg}
}

func stockKey(ticker string) string {
	return stockKeyPrefix + ticker
}

func (r *RedisCache) SetStocks(ctx context.Context, stocks []moexModel.StockInfo) error {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "RedisCache.SetStocks"
	slog.Debug("start", slog.String("rqID", rqID), slog.String("op", op), slog.Int("stocks", len(stocks)))

	if len(stocks) == 0 {
		return nil
	}

	pipe := r.redis.Pipeline()
	for _, stock := range stocks {
		stockJson, err := json.Marshal(stock)
		if err != nil {
			slog.Error(
				"can't marshall stock",
				slog.String("rqID", rqID),
				slog.String("op", op),
				slog.String("err", err.Error()),
				slog.Any("stock", stock),
			)
			return errors.New("can't marshall stock")
		}

		pipe.Set(ctx, stockKey(stock.Ticker), stockJson, r.cfg.Cache.StocksExpiration)
	}

	_, err := pipe.Exec(ctx)
	if err != nil {
		slog.Error("failed on pipe.Exec", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		return err
	}

	slog.Debug("completed", slog.String("rqID", rqID), slog.String("op", op))

	return nil
}

// GetStocksInfo returns the cached stocks keyed by ticker. Tickers that are not cached are absent.
func (r *RedisCache) GetStocksInfo(ctx context.Context, tickers []string) (map[string]moexModel.StockInfo, error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "RedisCache.GetStocksInfo"
	slog.Debug("start", slog.String("rqID", rqID), slog.String("op", op), slog.Any("tickers", tickers))

	res := make(map[string]moexModel.StockInfo, len(tickers))
	if len(tickers) == 0 {
		return res, nil
	}

	keys := make([]string, 0, len(tickers))
	for _, ticker := range tickers {
		keys = append(keys, stockKey(ticker))
	}

	values, err := r.redis.MGet(ctx, keys...).Result()
	if err != nil {
		slog.Error("failed on redis.MGet", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		return nil, err
	}

	for i, value := range values {
		raw, ok := value.(string)
		if !ok {
			continue
		}

		stockInfo := moexModel.StockInfo{}
		if err = json.Unmarshal([]byte(raw), &stockInfo); err != nil {
			slog.Warn(
				"skip broken cache entry",
				slog.String("rqID", rqID),
				slog.String("op", op),
				slog.String("key", keys[i]),
				slog.String("err", err.Error()),
			)
			continue
		}
		res[stockInfo.Ticker] = stockInfo
	}

	slog.Debug("finished", slog.String("rqID", rqID), slog.String("op", op), slog.Int("hits", len(res)))

	return res, nil
}
