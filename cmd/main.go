package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/KotFed0t/basket_rebalancer/config"
	"github.com/KotFed0t/basket_rebalancer/data"
	"github.com/KotFed0t/basket_rebalancer/data/cache"
	"github.com/KotFed0t/basket_rebalancer/data/repository/postgres"
	"github.com/KotFed0t/basket_rebalancer/data/session"
	"github.com/KotFed0t/basket_rebalancer/internal/externalApi/cloudStorageApi/googleDriveApi"
	"github.com/KotFed0t/basket_rebalancer/internal/externalApi/moexApi"
	"github.com/KotFed0t/basket_rebalancer/internal/reportGenerator/xslsxGenerator"
	"github.com/KotFed0t/basket_rebalancer/internal/scheduler"
	"github.com/KotFed0t/basket_rebalancer/internal/service/rebalanceService"
	"github.com/KotFed0t/basket_rebalancer/internal/tgbot"
	"github.com/KotFed0t/basket_rebalancer/internal/transport/telegram"
)

func main() {
	cfg := config.MustLoad()

	setupLogger(cfg)

	slog.Debug("config", slog.Any("cfg", cfg))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pgClient := data.NewPostgresClient(cfg)
	defer pgClient.Close()

	pgRepo := postgres.NewPostgres(cfg, pgClient)

	redisClient := data.NewRedisClient(cfg)
	defer redisClient.Close()

	redisCache := cache.NewRedisCache(redisClient, cfg)
	redisSession := session.NewRedisSession(redisClient, cfg)

	moexApiClient := moexApi.New(cfg)

	reportGenerator := xslsxGenerator.New()

	var cloudStorage rebalanceService.CloudStorage
	if cfg.GoogleDrive.CredentialsFile != "" {
		cloudStorage = googleDriveApi.New(ctx, cfg)
	} else {
		slog.Warn("google drive is not configured, reports are sent as files")
	}

	rebalanceSrv := rebalanceService.New(cfg, pgRepo, redisCache, redisSession, moexApiClient, reportGenerator, cloudStorage)

	sched := scheduler.New()
	sched.NewIntervalJob("fill moex cache", rebalanceSrv.FillQuotesCache, cfg.Jobs.FillMoexCacheInterval, true)
	sched.NewIntervalJob("delete old reports", rebalanceSrv.DeleteOldReports, cfg.Jobs.DeleteOldReportsInterval, false)
	sched.Start()
	defer sched.Stop()

	tgController := telegram.NewController(cfg, rebalanceSrv, redisSession)

	tgBot := tgbot.New(cfg, tgController, redisSession)
	tgBot.Start()
	defer tgBot.Stop()

	// Waiting interruption signal
	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)
	<-interrupt
}

func setupLogger(cfg *config.Config) {
	var logLevel slog.Level

	switch cfg.LogLevel {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warning":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	log := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(log)
}
