// Command fwdcore runs the forwarding engine: a packet pipeline per
// processing CPU, a pool of forwarding workers dispatching to
// upstream resolvers, a master loop bridging them to the kernel-tap
// device, and an optional REST management surface.
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
	"runtime"
	"syscall"
	"time"

	"github.com/jroosing/kdnsfwd/internal/api"
	"github.com/jroosing/kdnsfwd/internal/api/models"
	"github.com/jroosing/kdnsfwd/internal/authority"
	"github.com/jroosing/kdnsfwd/internal/config"
	"github.com/jroosing/kdnsfwd/internal/correlate"
	"github.com/jroosing/kdnsfwd/internal/forwarder"
	"github.com/jroosing/kdnsfwd/internal/fwdcache"
	"github.com/jroosing/kdnsfwd/internal/logging"
	"github.com/jroosing/kdnsfwd/internal/masterloop"
	"github.com/jroosing/kdnsfwd/internal/netif"
	"github.com/jroosing/kdnsfwd/internal/netstats"
	"github.com/jroosing/kdnsfwd/internal/pipeline"
	"github.com/jroosing/kdnsfwd/internal/ratelimit"
	"github.com/jroosing/kdnsfwd/internal/ring"
	"github.com/jroosing/kdnsfwd/internal/upstream"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var configPath string
	flag.StringVar(&configPath, "config", "", "Path to YAML config file")
	flag.Parse()

	path := config.ResolveConfigPath(configPath)
	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger := logging.Configure(logging.Config{
		Level:            cfg.Logging.Level,
		Structured:       cfg.Logging.Structured,
		StructuredFormat: cfg.Logging.StructuredFormat,
		IncludePID:       cfg.Logging.IncludePID,
		ExtraFields:      cfg.Logging.ExtraFields,
	})

	pipelineWorkers := configureRuntime(cfg, logger)
	fwdWorkers := cfg.Server.FwdWorkers
	if fwdWorkers <= 0 {
		fwdWorkers = 1
	}

	logger.Info("fwdcore starting",
		"listen", cfg.Server.Listen,
		"forwarding_mode", cfg.Forwarding.Mode,
		"pipeline_workers", pipelineWorkers,
		"forwarding_workers", fwdWorkers,
	)

	upstreams, err := upstream.Parse(logger, cfg.Forwarding.DefaultUpstreams, cfg.Forwarding.ZoneUpstreams)
	if err != nil {
		return fmt.Errorf("failed to parse upstream list: %w", err)
	}

	store := config.NewStore(config.ControlsOf(cfg))
	stats := netstats.New()
	cache := fwdcache.New(
		cfg.Cache.Stripes,
		time.Duration(cfg.Cache.TTLSeconds)*time.Second,
		time.Duration(cfg.Cache.ExpiringSeconds)*time.Second,
		time.Duration(cfg.Cache.SalvageSeconds)*time.Second,
	)
	limiterSet := ratelimit.NewSet(cfg.RateLimit, pipelineWorkers)
	queryRing := ring.New(cfg.Ring.QuerySize)
	responseRing := ring.New(cfg.Ring.ResponseSize)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	pipelineIn := make([]<-chan pipeline.ControlMessage, pipelineWorkers)
	pipelineOut := make([]chan<- pipeline.ControlMessage, pipelineWorkers)
	pipelineWorkerSet := make([]*pipeline.Worker, pipelineWorkers)
	for i := 0; i < pipelineWorkers; i++ {
		toMaster := make(chan pipeline.ControlMessage, 16)
		toPipeline := make(chan pipeline.ControlMessage, 16)
		pipelineIn[i] = toMaster
		pipelineOut[i] = toPipeline

		pipelineWorkerSet[i] = pipeline.NewWorker(pipeline.Config{
			ID:         i,
			NIC:        netif.NewSoftNIC(cfg.Ring.QuerySize),
			Resolver:   authority.AlwaysRefuse{},
			Limiter:    limiterSet.For(i),
			QueryRing:  queryRing,
			Stats:      stats,
			Controls:   store,
			Logger:     logger,
			ControlIn:  toPipeline,
			ControlOut: toMaster,
		})
	}

	fwdWorkerSet := make([]*forwarder.Worker, fwdWorkers)
	for i := 0; i < fwdWorkers; i++ {
		socket, err := forwarder.NewUDPSocket(":0")
		if err != nil {
			return fmt.Errorf("failed to bind forwarding worker %d upstream socket: %w", i, err)
		}
		defer socket.Close()

		fwdWorkerSet[i] = forwarder.NewWorker(forwarder.Config{
			ID:           i,
			Socket:       socket,
			Cache:        cache,
			Table:        correlate.New(),
			Upstreams:    upstreams,
			Stats:        stats,
			Observer:     stats,
			Logger:       logger,
			QueryRing:    queryRing,
			ResponseRing: responseRing,
			ExpiredRing:  ring.New(cfg.Ring.ExpiredSize),
			Timeout:      time.Duration(cfg.Forwarding.TimeoutMs) * time.Millisecond,
		})
	}

	hostNIC := netif.NewSoftNIC(cfg.Ring.QuerySize)
	reloadSignal := make(chan struct{}, 1)
	master := masterloop.NewWorker(masterloop.Config{
		Controls:     store,
		ReloadSignal: reloadSignal,
		Reload: func() (config.Controls, error) {
			reloaded, err := config.Load(path)
			if err != nil {
				return config.Controls{}, err
			}
			return config.ControlsOf(reloaded), nil
		},
		PipelineIn:   pipelineIn,
		PipelineOut:  pipelineOut,
		ResponseRing: responseRing,
		NIC:          hostNIC,
		Stats:        stats,
		Logger:       logger,
	})

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-hup:
				select {
				case reloadSignal <- struct{}{}:
				default:
				}
			}
		}
	}()

	for _, w := range pipelineWorkerSet {
		go w.Run(ctx)
	}
	for _, w := range fwdWorkerSet {
		go w.Run(ctx)
	}
	go master.Run(ctx)
	go runCacheSweep(ctx, cache, time.Duration(cfg.Cache.SweepIntervalSecs)*time.Second, logger)

	var apiSrv *api.Server
	if cfg.API.Enabled {
		apiSrv = api.New(cfg, cacheInspector{cache}, stats, logger)
		logger.Info("management API starting", "addr", apiSrv.Addr())
		go func() {
			if err := apiSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("management API server error", "err", err)
			}
		}()
	}

	<-ctx.Done()
	logger.Info("shutting down")

	if apiSrv != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = apiSrv.Shutdown(shutdownCtx)
		shutdownCancel()
	}

	return nil
}

// configureRuntime resolves the pipeline worker count from
// cfg.Server.Workers and clamps GOMAXPROCS to it, mirroring the
// teacher's GOMAXPROCS-reduces-but-never-increases worker topology.
func configureRuntime(cfg *config.Config, logger *slog.Logger) int {
	baseProcs := runtime.GOMAXPROCS(0)
	if baseProcs <= 0 {
		baseProcs = 1
	}
	workers := baseProcs
	if cfg.Server.Workers.Mode == config.WorkersFixed {
		w := cfg.Server.Workers.Value
		if w <= 0 {
			w = 1
		}
		if w < workers {
			workers = w
		}
	}

	prev := runtime.GOMAXPROCS(workers)
	actual := runtime.GOMAXPROCS(0)
	logger.Info("runtime configured", "gomaxprocs", actual, "prev", prev, "base", baseProcs)
	return actual
}

// runCacheSweep periodically evicts cache entries whose salvage window
// has elapsed (spec.md §4.1/§4.3 step 4 sibling: the cache's own
// janitor, distinct from the forwarder's expired-ring sweep).
func runCacheSweep(ctx context.Context, cache *fwdcache.Cache, interval time.Duration, logger *slog.Logger) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if removed := cache.Sweep(now); removed > 0 {
				logger.Debug("cache sweep", "removed", removed)
			}
		}
	}
}

// cacheInspector adapts *fwdcache.Cache's Entries() []fwdcache.Snapshot
// to the management API's handlers.CacheInspector, keeping
// internal/fwdcache decoupled from internal/api/models.
type cacheInspector struct {
	cache *fwdcache.Cache
}

func (c cacheInspector) Snapshot() []models.CacheEntry {
	entries := c.cache.Entries()
	out := make([]models.CacheEntry, len(entries))
	for i, e := range entries {
		out[i] = models.CacheEntry{Domain: e.Domain, QType: e.QType, ExpiresAt: e.ExpiresAt}
	}
	return out
}

func (c cacheInspector) DeleteAll() {
	c.cache.DeleteAll()
}
