package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/sitevox/sitevox/config"
	"github.com/sitevox/sitevox/internal/queue/streams"
	srv "github.com/sitevox/sitevox/internal/server"
	"github.com/sitevox/sitevox/internal/worker"
)

func workerCMD() *cobra.Command {
	var cfgPath string
	var group string
	var cmd = &cobra.Command{
		Use:   "worker",
		Short: "Consume crawl requests from the stream and run them",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadConfig(cfgPath)

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			if !cfg.Storage.Redis.Enabled() {
				return fmt.Errorf("worker requires redis (storage.redis.host)")
			}
			rdb := redis.NewClient(&redis.Options{
				Addr:     cfg.Storage.Redis.Addr(),
				Password: cfg.Storage.Redis.Password,
				DB:       cfg.Storage.Redis.DB,
			})
			if err := rdb.Ping(ctx).Err(); err != nil {
				return fmt.Errorf("redis ping: %w", err)
			}
			defer func() { _ = rdb.Close() }()

			if err := streams.EnsureGroup(ctx, rdb, worker.StreamCrawlRequested, group); err != nil {
				return fmt.Errorf("ensure group: %w", err)
			}

			rt, err := srv.BuildRuntime(ctx, cfg)
			if err != nil {
				return err
			}

			consumerName := fmt.Sprintf("worker-%s", uuid.NewString()[:8])
			consumer := streams.NewConsumer(rdb, group, consumerName)
			processor := worker.NewProcessor(rt.Pipeline, consumer, worker.StreamCrawlRequested)

			return processor.Start(ctx)
		},
	}
	cmd.Flags().StringVar(&group, "group", "sitevox-workers", "consumer group name")
	cmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is .)")

	return cmd
}
