package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/pulsefeed/marketfan/internal/aggregator"
	"github.com/pulsefeed/marketfan/internal/bus"
	"github.com/pulsefeed/marketfan/internal/cache"
	"github.com/pulsefeed/marketfan/internal/config"
	"github.com/pulsefeed/marketfan/internal/driver"
	"github.com/pulsefeed/marketfan/internal/election"
	"github.com/pulsefeed/marketfan/internal/server"
	"github.com/pulsefeed/marketfan/internal/sources"
	"github.com/pulsefeed/marketfan/internal/stream"
)

func runServe(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	levelName, _ := cmd.Flags().GetString("log-level")
	if level, err := zerolog.ParseLevel(levelName); err == nil {
		zerolog.SetGlobalLevel(level)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Redis is required for cross-instance coordination; a bad URL is a
	// deploy error, an unreachable server is a runtime condition we ride out.
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("parse redis url: %w", err)
	}
	redisClient := redis.NewClient(opts)
	defer redisClient.Close()

	store := cache.NewRedisStore(redisClient, "")
	tiered := cache.NewTiered(store)
	if !tiered.Healthy(ctx) {
		log.Warn().Str("redis_url", cfg.RedisURL).Msg("Redis unreachable at startup, continuing in degraded mode")
	}

	upstream := sources.New(sources.Config{
		TaapiSecret:   cfg.TaapiSecret,
		CMCAPIKey:     cfg.CMCAPIKey,
		FinnhubAPIKey: cfg.FinnhubAPIKey,
	})
	agg := aggregator.New(upstream, tiered)

	elector := election.New(redisClient, cfg.NodeID)
	fanout := bus.New()
	history := stream.NewPublisher(store)
	loop := driver.New(agg, elector, fanout, history, tiered, cfg.FetchInterval())

	srv := server.New(cfg.Addr(), fanout, tiered, upstream, agg, elector)

	go elector.Run(ctx)
	go loop.Run(ctx)

	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.ListenAndServe() }()

	log.Info().
		Str("addr", cfg.Addr()).
		Str("node_id", cfg.NodeID).
		Dur("fetch_interval", cfg.FetchInterval()).
		Msg("marketfan started")

	select {
	case <-ctx.Done():
		log.Info().Msg("Shutdown signal received")
	case err := <-serveErr:
		if err != nil {
			stop()
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	// Hand leadership off immediately instead of letting the key expire.
	if released, err := elector.Release(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("Leader key release failed, followers will wait out the TTL")
	} else if released {
		log.Info().Msg("Leader key released")
	}

	log.Info().Msg("marketfan stopped")
	return nil
}
