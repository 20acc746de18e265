package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mohammed-shakir/brewery-cache/internal/cache"
	"github.com/mohammed-shakir/brewery-cache/internal/cache/dataset"
	"github.com/mohammed-shakir/brewery-cache/internal/cache/keys"
	"github.com/mohammed-shakir/brewery-cache/internal/cache/redisstore"
	"github.com/mohammed-shakir/brewery-cache/internal/core/config"
	"github.com/mohammed-shakir/brewery-cache/internal/core/health"
	"github.com/mohammed-shakir/brewery-cache/internal/core/httpclient"
	"github.com/mohammed-shakir/brewery-cache/internal/core/observability"
	"github.com/mohammed-shakir/brewery-cache/internal/core/server"
	"github.com/mohammed-shakir/brewery-cache/internal/core/upstream"
	"github.com/mohammed-shakir/brewery-cache/internal/logger"
	"github.com/mohammed-shakir/brewery-cache/internal/mapper"
	"github.com/mohammed-shakir/brewery-cache/internal/metrics"
	"github.com/mohammed-shakir/brewery-cache/internal/service"
	invkafka "github.com/mohammed-shakir/brewery-cache/pkg/invalidation/kafka"
)

var Version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	warm := flag.Bool("warm", false, "fill the dataset cache before serving")
	flag.Parse()

	cfg := config.FromEnv()

	zl := logger.Build(logger.Config{
		Level:     cfg.LogLevel,
		Console:   cfg.LogConsole,
		SampleN:   cfg.LogSampleN,
		Service:   "brewery-api",
		Component: "api",
	}, os.Stdout)
	appLog := logger.NewSlog(&zl)

	if err := cfg.Validate(); err != nil {
		appLog.Error("invalid configuration", "err", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// metrics: own listener and registry when enabled, else the default
	// registry on the api router
	var (
		metricsHandler http.Handler
		reg            prometheus.Registerer = prometheus.DefaultRegisterer
	)
	if cfg.Metrics.Enabled {
		p := metrics.Init(metrics.Config{
			Addr: cfg.Metrics.Addr,
			Path: cfg.Metrics.Path,
			Build: metrics.BuildInfo{
				Version:   Version,
				Revision:  os.Getenv("BUILD_REVISION"),
				Branch:    os.Getenv("BUILD_BRANCH"),
				BuildDate: os.Getenv("BUILD_DATE"),
			},
		})
		reg = p.Registerer()
		observability.Init(reg, true)
		go func() {
			if err := p.Serve(ctx, appLog); err != nil {
				appLog.Error("metrics server exited", "err", err)
			}
		}()
	} else {
		metricsHandler = promhttp.Handler()
	}
	observability.ExposeBuildInfo(Version)

	appLog.Info("starting brewery api",
		"addr", cfg.Addr,
		"version", Version,
		"upstream", cfg.UpstreamBaseURL,
		"per_page", cfg.UpstreamPerPage,
		"cache_ttl", cfg.CacheTTL.String())

	httpClient := httpclient.NewOutbound(httpclient.Options{
		Timeout:    cfg.UpstreamTimeout,
		Retries:    cfg.UpstreamRetries,
		RetryDelay: cfg.UpstreamRetryDelay,
		UserAgent:  cfg.UpstreamUserAgent,
	})
	fetcher, err := upstream.New(appLog, httpClient, cfg.UpstreamBaseURL)
	if err != nil {
		appLog.Error("failed to initialize upstream client", "err", err)
		return 1
	}

	var (
		shared cache.Shared
		ready  []health.Check
	)
	if cfg.RedisAddr != "" {
		dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		rc, err := redisstore.New(dialCtx, cfg.RedisAddr)
		cancel()
		if err != nil {
			appLog.Error("redis client", "addr", cfg.RedisAddr, "err", err)
			return 1
		}
		defer func() { _ = rc.Close() }()
		shared = rc
		ready = append(ready, health.Check{Name: "redis", Fn: rc.Ping})
	}

	dc, err := dataset.New(dataset.Options{
		Key:       keys.DatasetKey(cfg.UpstreamBaseURL, cfg.UpstreamPerPage),
		TTL:       cfg.CacheTTL,
		PerPage:   cfg.UpstreamPerPage,
		Fetcher:   fetcher,
		Mapper:    mapper.New(mapper.WithH3Res(cfg.H3Res)),
		Shared:    shared,
		OpTimeout: cfg.CacheOpTimeout,
		Logger:    appLog,
	})
	if err != nil {
		appLog.Error("dataset cache", "err", err)
		return 1
	}
	fill := func(ctx context.Context) error {
		_, _, err := dc.GetOrFetch(ctx)
		return err
	}

	invCfg := invkafka.FromConfig(cfg.Invalidation)
	runner := invkafka.New(invCfg, dc, invkafka.Options{
		Logger:   appLog,
		Register: reg,
		Warm:     fill,
	})
	if err := runner.Start(ctx); err != nil {
		appLog.Error("invalidation runner", "err", err)
		return 1
	}
	defer runner.Stop()
	if invCfg.Enabled && invCfg.Driver == invkafka.DriverKafka {
		ready = append(ready, health.ReporterCheck("invalidation", runner))
	}

	if *warm {
		if err := fill(ctx); err != nil {
			appLog.Warn("initial dataset fill failed; serving anyway", "err", err)
		}
	}

	svc := service.New(dc, appLog)
	handler := server.NewHandler(appLog, server.Handlers{
		Service: svc,
		Ready:   ready,
		Metrics: metricsHandler,
	})

	if err := server.Run(ctx, cfg, appLog, handler); err != nil {
		appLog.Error("server exited with error", "err", err)
		return 1
	}
	appLog.Info("server stopped")
	return 0
}
