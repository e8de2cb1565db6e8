package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/mohammed-shakir/gbfs-spatial-cache/internal/cache/feedcache"
	"github.com/mohammed-shakir/gbfs-spatial-cache/internal/cache/redisstore"
	"github.com/mohammed-shakir/gbfs-spatial-cache/internal/cache/spatialindex"
	"github.com/mohammed-shakir/gbfs-spatial-cache/internal/cache/vehiclecache"
	"github.com/mohammed-shakir/gbfs-spatial-cache/internal/core/config"
	"github.com/mohammed-shakir/gbfs-spatial-cache/internal/core/httpclient"
	"github.com/mohammed-shakir/gbfs-spatial-cache/internal/core/observability"
	"github.com/mohammed-shakir/gbfs-spatial-cache/internal/feedevents"
	"github.com/mohammed-shakir/gbfs-spatial-cache/internal/fetcher"
	"github.com/mohammed-shakir/gbfs-spatial-cache/internal/leader"
	"github.com/mohammed-shakir/gbfs-spatial-cache/internal/listener"
	"github.com/mohammed-shakir/gbfs-spatial-cache/internal/logger"
	"github.com/mohammed-shakir/gbfs-spatial-cache/internal/scheduler"
	"github.com/mohammed-shakir/gbfs-spatial-cache/internal/server"
	"github.com/mohammed-shakir/gbfs-spatial-cache/internal/service"
)

var Version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	cfg := config.FromEnv()

	log := logger.Build(logger.Config{
		Level:     cfg.LogLevel,
		Console:   strings.ToLower(os.Getenv("LOG_CONSOLE")) == "true",
		Component: "aggregator",
	}, os.Stdout)

	observability.ExposeBuildInfo(Version)
	log.Info().
		Str("addr", cfg.Addr).
		Str("version", Version).
		Str("redis", cfg.RedisAddr).
		Str("providers", cfg.ProvidersFile).
		Msg("starting aggregator")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	providers, err := config.LoadProviders(cfg.ProvidersFile)
	if err != nil {
		log.Error().Err(err).Msg("failed to load provider directory")
		return 1
	}
	directory := config.NewDirectory(providers)

	cli, err := redisstore.New(ctx, cfg.RedisAddr)
	if err != nil {
		log.Error().Err(err).Msg("failed to connect to redis")
		return 1
	}
	defer func() { _ = cli.Close() }()

	feeds := feedcache.NewRedisCache(cli, cfg.MinimumTTL)
	vehicles := vehiclecache.NewRedisCache(cli)
	index := spatialindex.NewRedisIndex(cli)

	events := feedevents.NewNoop()
	if cfg.FeedEvents.Enabled {
		events, err = feedevents.NewKafkaPublisher(cfg.FeedEvents.Brokers, cfg.FeedEvents.Topic, 0, log)
		if err != nil {
			log.Error().Err(err).Msg("failed to start feed event publisher")
			return 1
		}
	}
	defer func() { _ = events.Close() }()

	gbfs := fetcher.New(
		httpclient.NewOutbound(cfg.FetchTimeout),
		feeds,
		vehicles,
		cfg.MinimumTTL,
		log,
		fetcher.WithEventPublisher(events),
	)

	indexListener := listener.New(cli, index, directory, cfg.ListenerShards, log)
	runner := scheduler.NewRunner(log)
	feedScheduler := scheduler.New(runner, gbfs, directory, cfg.FeedUpdateInterval, log, indexListener)

	// Only the leader runs the scheduler; every instance serves queries.
	gate := leader.NewGate(feedScheduler, log)
	elector := leader.NewElector(cli, gate, cfg.LeaderLeaseTTL, cfg.LeaderRetry, log)
	go gate.Run(ctx)
	go elector.Run(ctx)

	nearby, err := service.NewNearbyService(index, vehicles, log)
	if err != nil {
		log.Error().Err(err).Msg("failed to build nearby service")
		return 1
	}

	if err := server.Run(ctx, cfg.Addr, server.NewRouter(nearby, log), log); err != nil {
		log.Error().Err(err).Msg("server exited with error")
		return 1
	}

	<-gate.Done()
	log.Info().Msg("aggregator stopped")
	return 0
}
