// Command clipship downloads the image service items under an area of
// interest, optionally clips them to it, and catalogs the results.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/mohammed-shakir/clipship/internal/cache"
	"github.com/mohammed-shakir/clipship/internal/cache/redisstore"
	"github.com/mohammed-shakir/clipship/internal/core/config"
	"github.com/mohammed-shakir/clipship/internal/core/httpclient"
	"github.com/mohammed-shakir/clipship/internal/core/server"
	"github.com/mohammed-shakir/clipship/internal/events"
	"github.com/mohammed-shakir/clipship/internal/geometry/geosengine"
	"github.com/mohammed-shakir/clipship/internal/logger"
	"github.com/mohammed-shakir/clipship/internal/metrics"
	"github.com/mohammed-shakir/clipship/internal/pipeline"
)

var Version = "dev"

const usage = `usage: clipship [flags] <service> <outdir> <catalog-path> <catalog-name> <polygon.geojson> <cellsize> <clip:true|false> <nodata> <use-rendering:true|false>

  service        ImageServer URL or .lyrx/.json image service layer file
  outdir         directory receiving mdimage<id>.tif files
  catalog-path   catalog database file or directory (postgres DSN with -catalog-driver postgres)
  catalog-name   catalog table name

flags:
`

func main() {
	os.Exit(run())
}

func run() int {
	fs := flag.NewFlagSet("clipship", flag.ContinueOnError)
	fs.Usage = func() {
		fmt.Fprint(fs.Output(), usage)
		fs.PrintDefaults()
	}
	configPath := fs.String("config", "", "YAML config file overlaid on the environment")
	logLevel := fs.String("log-level", "", "log level (debug, info, warn, error)")
	where := fs.String("where", "", "where clause for the catalog query")
	driver := fs.String("catalog-driver", "", "catalog database: sqlite or postgres")
	opsAddr := fs.String("ops-addr", "", "serve /healthz, /metrics and /status on this address during the run")
	if err := fs.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return pipeline.ExitOK
		}
		return pipeline.ExitInput
	}

	cfg := config.FromEnv()
	if *configPath != "" {
		var err error
		if cfg, err = config.LoadFile(*configPath, cfg); err != nil {
			fmt.Fprintln(os.Stderr, err)
			return pipeline.ExitInput
		}
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	if *where != "" {
		cfg.QueryWhere = *where
	}
	if *driver != "" {
		cfg.Catalog.Driver = strings.ToLower(*driver)
	}
	if *opsAddr != "" {
		cfg.Ops.Enabled = true
		cfg.Ops.Addr = *opsAddr
	}

	zl := logger.Build(logger.Config{
		Level:     cfg.LogLevel,
		Console:   cfg.LogConsole,
		Component: "clipship",
	}, os.Stderr)
	appLog := logger.NewSlog(&zl)

	if err := cfg.Validate(); err != nil {
		appLog.Error("invalid configuration", "err", err)
		return pipeline.ExitInput
	}
	params, err := config.ParseArgs(fs.Args())
	if err != nil {
		appLog.Error("invalid parameters", "err", err)
		fs.Usage()
		return pipeline.Classify(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx = logger.WithRunID(ctx, "")

	opts := []pipeline.Option{
		pipeline.WithWhere(cfg.QueryWhere),
		pipeline.WithEngine(geosengine.New()),
		pipeline.WithClipper(nil, cfg.Clip.GdalwarpBin),
		pipeline.WithOgr2ogr(cfg.Clip.Ogr2ogrBin),
		pipeline.WithCatalog(cfg.Catalog.Driver, cfg.Catalog.Overwrite),
	}

	if cfg.Cache.Enabled {
		store, closeCache := buildCache(ctx, cfg.Cache, appLog)
		defer closeCache()
		opts = append(opts, pipeline.WithCache(store, cfg.Cache.TTL))
	}

	if cfg.Events.Enabled {
		pub, err := events.NewKafka(appLog, cfg.Events.BrokerList(), cfg.Events.Topic, cfg.Events.Queue)
		if err != nil {
			appLog.Warn("ingest events disabled", "err", err)
		} else {
			defer func() {
				if err := pub.Close(); err != nil {
					appLog.Warn("close event publisher", "err", err)
				}
			}()
			opts = append(opts, pipeline.WithEvents(pub))
		}
	}

	p := pipeline.New(appLog, httpclient.NewOutbound(cfg.HTTPTimeout), opts...)

	if cfg.Ops.Enabled {
		opsCtx, stopOps := context.WithCancel(ctx)
		done := make(chan struct{})
		go func() {
			defer close(done)
			h := server.NewRouter(appLog, metrics.Init(metrics.Config{Version: Version}).Handler(), p.Progress())
			if err := server.Run(opsCtx, cfg.Ops.Addr, appLog, h); err != nil {
				appLog.Warn("ops server stopped", "err", err)
			}
		}()
		defer func() {
			stopOps()
			<-done
		}()
	}

	appLog.InfoContext(ctx, "run starting",
		"version", Version,
		"service", params.Service,
		"catalog", params.CatalogName,
		"clip", params.Clip,
		"cell_size", params.CellSize)

	sum, err := p.Run(ctx, params)
	code := pipeline.Classify(err)
	attrs := []any{
		"matched", sum.Matched,
		"downloaded", sum.Downloaded,
		"clipped", sum.Clipped,
		"ingested", sum.Ingested,
		"skipped", sum.Skipped,
		"failed", sum.Failed,
		"exit_code", code,
	}
	if err != nil {
		appLog.ErrorContext(ctx, "run failed", append(attrs, "err", err)...)
	} else {
		appLog.InfoContext(ctx, "run finished", attrs...)
	}
	return code
}

// buildCache puts the in-process LRU in front of Redis when an address is
// configured. An unreachable Redis leaves the LRU on its own.
func buildCache(ctx context.Context, cfg config.CacheCfg, log *slog.Logger) (cache.Store, func()) {
	var remote cache.Store
	closeFn := func() {}
	if cfg.RedisAddr != "" {
		rc, err := redisstore.New(ctx, cfg.RedisAddr, redisstore.WithDialTimeout(cfg.OpTimeout*4))
		if err != nil {
			log.Warn("redis cache unavailable, using in-process cache only", "addr", cfg.RedisAddr, "err", err)
		} else {
			remote = rc
			closeFn = func() { _ = rc.Close() }
		}
	}
	return cache.NewTiered(log, cfg.LRUSize, remote, cfg.OpTimeout), closeFn
}
