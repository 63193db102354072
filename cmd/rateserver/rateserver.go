package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/collectors/version"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	cversion "github.com/prometheus/common/version"
	"github.com/redis/go-redis/v9"

	"github.com/shipkaro/freightrate"
	"github.com/shipkaro/freightrate/cmd/rateserver/config"
	"github.com/shipkaro/freightrate/cmd/rateserver/web"
	"github.com/shipkaro/freightrate/pkg/api"
	"github.com/shipkaro/freightrate/pkg/distance"
	"github.com/shipkaro/freightrate/pkg/docdb"
	"github.com/shipkaro/freightrate/pkg/geo"
	"github.com/shipkaro/freightrate/pkg/logger"
	"github.com/shipkaro/freightrate/pkg/nearest"
	"github.com/shipkaro/freightrate/pkg/quote"
	"github.com/shipkaro/freightrate/pkg/registry"
	"github.com/shipkaro/freightrate/pkg/resultcache"
)

func loggingFlags(fs *flag.FlagSet, cfg *config.Config) {
	fs.StringVar(&cfg.Logger.Level, "log.level", "info", "Log level: debug, info, warn, error.")
	fs.StringVar(&cfg.Logger.Format, "log.format", "text", "Log format: text or json.")
	fs.StringVar(&cfg.Logger.Output, "log.output", "stdout", "Log output: stdout or stderr.")
}

func componentFlags(fs *flag.FlagSet, cfg *config.Config) {
	fs.StringVar(&cfg.Geo.PincodeFile, "geo.pincode-file", "data/pincode_master.json", "Master pincode catalog (JSON).")
	fs.StringVar(&cfg.Geo.CentroidFile, "geo.centroid-file", "", "Pincode centroid catalog (JSON); enables haversine distance.")
	fs.StringVar(&cfg.Registry.Dir, "registry.dir", "data/carriers", "Directory of UTSF carrier files.")
	fs.DurationVar(&cfg.Registry.RefreshInterval, "registry.refresh", 0, "Background registry reload interval; 0 disables.")
	fs.StringVar(&cfg.Store.URI, "store.uri", os.Getenv("MONGO_URI"), "Document store URI, defaults to $MONGO_URI; empty disables the store.")
	fs.StringVar(&cfg.Store.Database, "store.database", "shipkaro", "Document store database name.")
	fs.StringVar(&cfg.Cache.RedisAddr, "cache.redis-addr", os.Getenv("REDIS_ADDR"), "Redis address, defaults to $REDIS_ADDR; empty uses the in-process cache.")
	fs.DurationVar(&cfg.Cache.TTL, "cache.ttl", resultcache.DefaultTTL, "Result cache TTL.")
	fs.StringVar(&cfg.Distance.BaseURL, "distance.base-url", "", "Road distance API base URL.")
	fs.StringVar(&cfg.Distance.APIKey, "distance.api-key", os.Getenv("DISTANCE_API_KEY"), "Road distance API key, defaults to $DISTANCE_API_KEY.")
	fs.DurationVar(&cfg.Distance.Timeout, "distance.timeout", 8*time.Second, "Road distance API timeout.")
	fs.IntVar(&cfg.Quote.BatchSize, "quote.batch-size", 0, "Carriers priced in parallel; 0 uses the default.")
	fs.Var(&cfg.Quote.FallbackVendors, "quote.fallback-vendor", "Vendor name exempt from the file-over-store override (repeatable).")
}

func serverFlags(fs *flag.FlagSet, cfg *config.Config) {
	fs.StringVar(&cfg.Server.Address, "server.address", ":8080", "Address for the server to listen on.")
	fs.StringVar(&cfg.Server.Path, "server.path", "/metrics", "Path the metrics handler is mounted on.")
	fs.DurationVar(&cfg.Server.Timeout, "server.timeout", 30*time.Second, "Graceful shutdown timeout.")
}

// deps is everything main wires together before serving.
type deps struct {
	server  *api.Server
	metrics *prometheus.Registry
}

func build(ctx context.Context, log *slog.Logger, cfg *config.Config) (*deps, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	zones, err := geo.ZoneIndexFromFile(cfg.Geo.PincodeFile)
	if err != nil {
		return nil, cleanup, fmt.Errorf("loading pincode catalog: %w", err)
	}
	log.LogAttrs(ctx, slog.LevelInfo, "pincode catalog loaded",
		slog.Int("pincodes", zones.Len()),
		slog.Int("zones", len(zones.Zones())))

	var centroids *geo.CentroidIndex
	if cfg.Geo.CentroidFile != "" {
		if centroids, err = geo.CentroidIndexFromFile(cfg.Geo.CentroidFile); err != nil {
			return nil, cleanup, fmt.Errorf("loading centroid catalog: %w", err)
		}
	}

	var cache resultcache.Store
	if cfg.Cache.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.Cache.RedisAddr})
		closers = append(closers, func() { _ = client.Close() })
		if err := client.Ping(ctx).Err(); err != nil {
			log.LogAttrs(ctx, slog.LevelWarn, "redis unreachable, quoting without shared cache",
				slog.String("addr", cfg.Cache.RedisAddr),
				slog.String("err", err.Error()))
		}
		cache = resultcache.NewRedisStore(client)
	} else {
		mem := resultcache.NewMemoryStore()
		closers = append(closers, mem.Close)
		cache = mem
	}

	var source *docdb.Source
	if cfg.Store.URI != "" {
		src, closeStore, err := docdb.Connect(ctx, log, cfg.Store.URI, cfg.Store.Database)
		if err != nil {
			return nil, cleanup, err
		}
		source = src
		closers = append(closers, func() {
			disconnectCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = closeStore(disconnectCtx)
		})
	}

	regCfg := registry.Config{
		Dir:             cfg.Registry.Dir,
		Zones:           zones,
		Logger:          log,
		Invalidator:     cache,
		RefreshInterval: cfg.Registry.RefreshInterval,
	}
	// Interface fields stay untyped nil unless the store is configured.
	if source != nil {
		regCfg.Loader = source
		regCfg.Persister = source
	}
	reg, err := registry.New(ctx, regCfg)
	if err != nil {
		return nil, cleanup, err
	}

	dist, err := distanceService(log, cfg, centroids)
	if err != nil {
		return nil, cleanup, err
	}

	qcfg := quote.Config{
		Logger:    log,
		Zones:     zones,
		Catalog:   reg,
		Distance:  dist,
		Cache:     cache,
		Resolver:  quote.NewResolver(cfg.Quote.FallbackVendors...),
		BatchSize: cfg.Quote.BatchSize,
		CacheTTL:  cfg.Cache.TTL,
	}
	if source != nil {
		qcfg.Source = source
	}
	engine, err := quote.New(qcfg)
	if err != nil {
		return nil, cleanup, err
	}

	ncfg := nearest.Config{
		Logger:    log,
		Zones:     zones,
		Catalog:   reg,
		Centroids: centroids,
	}
	if source != nil {
		ncfg.Source = source
	}
	finder, err := nearest.New(ncfg)
	if err != nil {
		return nil, cleanup, err
	}

	srv, err := api.New(api.Config{Logger: log, Engine: engine, Finder: finder, Admin: reg})
	if err != nil {
		return nil, cleanup, err
	}

	metrics := prometheus.NewRegistry()
	metrics.MustRegister(
		collectors.NewBuildInfoCollector(),
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		version.NewCollector(freightrate.ServiceName),
		reg,
	)
	quote.RegisterMetrics(metrics)

	return &deps{server: srv, metrics: metrics}, cleanup, nil
}

// distanceService picks the route source: the HTTP API when a key is
// configured, with haversine as the fallback or the sole source otherwise.
func distanceService(log *slog.Logger, cfg *config.Config, centroids *geo.CentroidIndex) (distance.Service, error) {
	var road *distance.Haversine
	if centroids != nil {
		road = distance.NewHaversine(centroids)
	}
	if cfg.Distance.APIKey == "" {
		if road == nil {
			return nil, errors.New("no distance source: set -distance.api-key or -geo.centroid-file")
		}
		log.Warn("distance API key missing, using haversine estimates")
		return road, nil
	}
	client := distance.NewAPIClient(distance.APIConfig{
		BaseURL: cfg.Distance.BaseURL,
		APIKey:  cfg.Distance.APIKey,
		Timeout: cfg.Distance.Timeout,
		Logger:  log,
	})
	if road == nil {
		return client, nil
	}
	return distance.WithFallback(log, client, road), nil
}

func runServer(ctx context.Context, log *slog.Logger, cfg *config.Config, d *deps) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/", web.HomePageHandler(cfg.Server.Path))
	mux.Handle(cfg.Server.Path, promhttp.HandlerFor(d.metrics, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	}))

	// The api handler carries absolute patterns, so it mounts unstripped.
	apiHandler := d.server.Handler()
	mux.Handle("/healthz", apiHandler)
	mux.Handle("/api/", apiHandler)

	server := &http.Server{Addr: cfg.Server.Address, Handler: mux}
	errChan := make(chan error)

	go func() {
		log.Info("listening", "address", cfg.Server.Address)
		errChan <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		log.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.Timeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutting down server: %w", err)
		}
	case err := <-errChan:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("running server: %w", err)
		}
	}

	return nil
}

func run(log *slog.Logger, cfg *config.Config) error {
	log.Info("starting rate server",
		"version", cversion.Info(),
		"build_context", cversion.BuildContext())

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	d, cleanup, err := build(ctx, log, cfg)
	defer cleanup()
	if err != nil {
		return err
	}
	return runServer(ctx, log, cfg, d)
}

func main() {
	var cfg config.Config
	loggingFlags(flag.CommandLine, &cfg)
	componentFlags(flag.CommandLine, &cfg)
	serverFlags(flag.CommandLine, &cfg)
	flag.Parse()

	log := logger.New(cfg.Logger.Level, cfg.Logger.Format, cfg.Logger.Output)
	if err := run(log, &cfg); err != nil {
		log.Error("rate server failed", "err", err.Error())
		os.Exit(1)
	}
}
