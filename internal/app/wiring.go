package app

import (
	"context"
	"fmt"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/site-scraper/internal/config"
	"github.com/JakeFAU/site-scraper/internal/discovery"
	memorycache "github.com/JakeFAU/site-scraper/internal/discovery/cache/memory"
	rediscache "github.com/JakeFAU/site-scraper/internal/discovery/cache/redis"
	"github.com/JakeFAU/site-scraper/internal/extract"
	collyfetcher "github.com/JakeFAU/site-scraper/internal/fetcher/colly"
	"github.com/JakeFAU/site-scraper/internal/fetcher/headless"
	"github.com/JakeFAU/site-scraper/internal/metrics"
	"github.com/JakeFAU/site-scraper/internal/policy/ratelimit"
	"github.com/JakeFAU/site-scraper/internal/progress"
	"github.com/JakeFAU/site-scraper/internal/progress/broker"
	"github.com/JakeFAU/site-scraper/internal/progress/sinks"
	"github.com/JakeFAU/site-scraper/internal/scrape"
	"github.com/JakeFAU/site-scraper/internal/storage/gcs"
	"github.com/JakeFAU/site-scraper/internal/storage/local"
	"github.com/JakeFAU/site-scraper/internal/storage/memory"
	"github.com/JakeFAU/site-scraper/internal/storage/postgres"
)

func (a *App) buildStore(ctx context.Context) (scrape.JobStore, error) {
	switch a.cfg.Storage.Provider {
	case config.ProviderPostgres:
		a.logger.Info("connecting to postgres")
		pg, err := postgres.NewJobStore(ctx, a.cfg.Storage.Postgres)
		if err != nil {
			return nil, fmt.Errorf("init job store: %w", err)
		}
		a.pg = pg
		return pg, nil
	case config.ProviderMemory, "":
		a.logger.Warn("using in-memory job store; jobs are lost on restart")
		return memory.NewJobStore(), nil
	default:
		return nil, fmt.Errorf("unknown storage provider: %s", a.cfg.Storage.Provider)
	}
}

func (a *App) buildArchive(ctx context.Context) (scrape.BlobStore, error) {
	switch a.cfg.Storage.Archive {
	case config.ArchiveNone, "":
		return nil, nil
	case config.ArchiveLocal:
		store, err := local.New(a.cfg.Storage.Local)
		if err != nil {
			return nil, fmt.Errorf("init local archive: %w", err)
		}
		return store, nil
	case config.ArchiveGCS:
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("create storage client: %w", err)
		}
		a.gcs = client
		store, err := gcs.New(client, a.cfg.Storage.GCS)
		if err != nil {
			return nil, fmt.Errorf("init gcs archive: %w", err)
		}
		a.logger.Info("archiving results to gcs", zap.String("bucket", a.cfg.Storage.GCS.Bucket))
		return store, nil
	default:
		return nil, fmt.Errorf("unknown archive: %s", a.cfg.Storage.Archive)
	}
}

func (a *App) buildSinks(ctx context.Context) ([]progress.Sink, error) {
	ev := a.cfg.Events
	var out []progress.Sink
	if ev.Log {
		out = append(out, sinks.NewLogSink(a.logger))
	}
	if ev.Prometheus {
		sink, err := sinks.NewPrometheusSink(a.registerer)
		if err != nil {
			return nil, fmt.Errorf("init prometheus sink: %w", err)
		}
		out = append(out, sink)
	}
	if ev.Redis {
		out = append(out, sinks.NewRedisSink(a.redis, ev.RedisPrefix, a.logger))
	}
	if ev.PubSub {
		if a.pubsub == nil {
			client, err := pubsub.NewClient(ctx, a.cfg.PubSub.ProjectID)
			if err != nil {
				return nil, fmt.Errorf("create pubsub client: %w", err)
			}
			a.pubsub = client
		}
		topic := a.pubsub.Topic(a.cfg.PubSub.TopicName)
		ok, err := topic.Exists(ctx)
		if err != nil {
			return nil, fmt.Errorf("check pubsub topic %q: %w", a.cfg.PubSub.TopicName, err)
		}
		if !ok {
			return nil, fmt.Errorf("pubsub topic %q does not exist", a.cfg.PubSub.TopicName)
		}
		out = append(out, sinks.NewPubSubSink(topic, a.logger))
	}
	if ev.Websocket {
		a.broker = broker.New(a.cfg.Broker, a.logger)
		out = append(out, a.broker)
	}
	return out, nil
}

// buildPipeline assembles fetch, discovery and extraction.
func (a *App) buildPipeline() (*discovery.Engine, *extract.Orchestrator, error) {
	cfg := a.cfg
	fetcher := a.fetcher
	if fetcher == nil {
		plain := collyfetcher.New(collyfetcher.Config{
			UserAgent:     cfg.Crawler.UserAgent,
			RespectRobots: cfg.Crawler.RespectRobots,
			Timeout:       cfg.HTTPTimeout(),
			MaxBodyBytes:  cfg.Crawler.MaxPageBytes,
			RobotsTTL:     cfg.Crawler.RobotsTTL,
		}, a.logger)
		fetcher = plain
		if cfg.Headless.Enabled {
			renderer, err := headless.NewChromedp(headless.Config{
				MaxParallel:       cfg.Headless.MaxParallel,
				UserAgent:         cfg.Crawler.UserAgent,
				NavigationTimeout: cfg.Headless.NavigationTimeout(),
				SettleDelay:       cfg.Headless.SettleDelay,
				ExecPath:          cfg.Headless.ExecPath,
				MaxBodyBytes:      cfg.Crawler.MaxPageBytes,
			})
			if err != nil {
				a.logger.Warn("headless fetcher init failed; continuing without rendering", zap.Error(err))
			} else {
				a.renderer = renderer
				detector := headless.NewDetector(cfg.Headless.Detector)
				fetcher = headless.NewPromoter(plain, renderer, detector, a.logger)
			}
		}
	}

	var cache discovery.PageCache
	switch cfg.Cache.Provider {
	case config.ProviderRedis:
		rc, err := rediscache.New(a.redis, cfg.Cache.Prefix)
		if err != nil {
			return nil, nil, fmt.Errorf("init page cache: %w", err)
		}
		cache = rc
	default:
		cache = memorycache.New()
	}

	limiter := ratelimit.New(cfg.Crawler.RateLimit, metrics.ObserveRateLimitDelay)
	engine, err := discovery.New(discovery.Config{
		DefaultMaxPages: cfg.Scheduler.DefaultMaxPages,
		CheckpointEvery: cfg.Crawler.CheckpointEvery,
		MaxPageBytes:    cfg.Crawler.MaxPageBytes,
		UserAgent:       cfg.Crawler.UserAgent,
	}, fetcher, a.store, cache, a.logger, discovery.WithLimiter(limiter))
	if err != nil {
		return nil, nil, fmt.Errorf("init discovery: %w", err)
	}
	return engine, extract.NewOrchestrator(extract.DefaultRegistry(), fetcher, a.logger), nil
}
