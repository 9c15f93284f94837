// feed-publisher drains the change_feed table to Kafka for downstream
// consumers. The websocket feed does not depend on it; it can lag or be
// down without affecting scoring devices.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/cooptaylor1-rgb/Golf-Ryder-Cup-App-sub001/internal/infra"
	"github.com/cooptaylor1-rgb/Golf-Ryder-Cup-App-sub001/internal/server"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	if err := run(logger); err != nil {
		logger.Error("feed publisher failed", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := infra.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	pool, err := infra.NewPostgresPool(ctx, cfg)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer pool.Close()
	logger.Info("feed-publisher connected to postgres")

	producer := infra.NewKafkaProducer(cfg.KafkaBrokers, cfg.KafkaEnabled, logger)
	defer producer.Close()

	repo := server.NewRepo(pool)
	publisher := infra.NewFeedPublisher(repo, producer, cfg.FeedPollInterval, cfg.FeedBatchSize, logger)
	publisher.Run(ctx)
	return nil
}
