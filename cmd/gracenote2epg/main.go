// SPDX-License-Identifier: MIT

// Command gracenote2epg fetches multi-day TV listings from the provider,
// maintains the local day-unit cache, and emits an XMLTV guide. It runs
// either one-shot (cron-friendly, status-coded exit) or as a daemon with
// an HTTP surface and periodic refreshes.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/th0ma7/gracenote2epg/internal/api"
	"github.com/th0ma7/gracenote2epg/internal/cache"
	"github.com/th0ma7/gracenote2epg/internal/cachestore"
	"github.com/th0ma7/gracenote2epg/internal/config"
	"github.com/th0ma7/gracenote2epg/internal/gracenote"
	"github.com/th0ma7/gracenote2epg/internal/guide"
	"github.com/th0ma7/gracenote2epg/internal/log"
	"github.com/th0ma7/gracenote2epg/internal/match"
	"github.com/th0ma7/gracenote2epg/internal/merge"
	"github.com/th0ma7/gracenote2epg/internal/pipeline"
	"github.com/th0ma7/gracenote2epg/internal/runlog"
	"github.com/th0ma7/gracenote2epg/internal/telemetry"
	"github.com/th0ma7/gracenote2epg/internal/tvheadend"
	"github.com/th0ma7/gracenote2epg/internal/xmltv"
)

var (
	version   = "1.0.0"
	commit    = "none"
	buildDate = "unknown"
)

// Exit codes for one-shot mode. Partial runs exit 0: cron retries on the
// next schedule and cached days cover the gaps.
const (
	exitOK     = 0
	exitFailed = 1
	exitNoData = 2
)

func main() {
	configPath := flag.String("config", "", "path to config file (YAML)")
	daemonMode := flag.Bool("daemon", false, "run periodically with an HTTP surface")
	console := flag.Bool("console", false, "human-readable console logging")
	showVersion := flag.Bool("version", false, "print version and exit")
	showRuns := flag.Int("show-runs", 0, "print the last N recorded runs and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("gracenote2epg %s (commit: %s, built: %s)\n", version, commit, buildDate)
		return
	}

	loader := config.NewLoader(*configPath)
	cfg, err := loader.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "gracenote2epg: %v\n", err)
		os.Exit(exitFailed)
	}

	if *showRuns > 0 {
		os.Exit(printRuns(cfg, *showRuns))
	}

	log.Configure(log.Config{
		Level:   cfg.Log.Level,
		Console: cfg.Log.Console || *console,
		Service: "gracenote2epg",
		Version: version,
	})
	logger := log.WithComponent("main")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tp, err := telemetry.NewProvider(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    "gracenote2epg",
		ServiceVersion: version,
		ExporterType:   cfg.Telemetry.ExporterType,
		Endpoint:       cfg.Telemetry.Endpoint,
		SamplingRate:   cfg.Telemetry.SamplingRate,
	})
	if err != nil {
		logger.Error().Err(err).Str("event", "telemetry.init_failed").Msg("telemetry init failed")
		os.Exit(exitFailed)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tp.Shutdown(shutdownCtx)
	}()

	a, err := buildApp(cfg)
	if err != nil {
		logger.Error().Err(err).Str("event", "startup.failed").Msg("startup failed")
		os.Exit(exitFailed)
	}
	defer a.close()

	logger.Info().
		Str("event", "startup").
		Str("version", version).
		Bool("daemon", *daemonMode).
		Int("lineups", len(cfg.Provider.Lineups)).
		Int("days", cfg.Provider.Days).
		Msg("gracenote2epg starting")

	if *daemonMode {
		os.Exit(runDaemon(ctx, a, loader, cfg, *configPath))
	}
	os.Exit(runOnce(ctx, a, cfg))
}

// xmltvEmitter renders and atomically writes the guide document.
type xmltvEmitter struct {
	path    string
	backups int
	opts    xmltv.Options
}

func (e *xmltvEmitter) Emit(snap *merge.Snapshot, mapping *match.Mapping) (xmltv.Stats, error) {
	return xmltv.Write(e.path, xmltv.Build(snap, mapping, e.opts), e.backups)
}

// app bundles the long-lived components shared across runs.
type app struct {
	store   *cachestore.Store
	runs    *runlog.Store
	client  *gracenote.Client
	tvh     *tvheadend.Client
	objects cache.Cache
}

func buildApp(cfg config.Config) (*app, error) {
	store, err := cachestore.Open(cfg.Cache.Dir)
	if err != nil {
		return nil, err
	}

	a := &app{
		store: store,
		client: gracenote.NewClient(gracenote.Options{
			BaseURL:        cfg.Provider.BaseURL,
			UserAgent:      cfg.Provider.UserAgent,
			Timeout:        cfg.Provider.Timeout,
			PacingInterval: cfg.Provider.PacingInterval,
			Retry: gracenote.RetryPolicy{
				Attempts:      cfg.Provider.Retry.Attempts,
				BackoffBase:   cfg.Provider.Retry.BackoffBase,
				BackoffCap:    cfg.Provider.Retry.BackoffCap,
				BlockCooldown: cfg.Provider.Retry.WAFCooldown,
			},
		}),
	}

	if cfg.Runlog.Path != "" {
		runs, err := runlog.Open(cfg.Runlog.Path)
		if err != nil {
			_ = store.Close()
			return nil, err
		}
		a.runs = runs
	}

	if cfg.Tvheadend.Enabled {
		a.tvh = tvheadend.New(tvheadend.Options{
			BaseURL:  cfg.Tvheadend.URL,
			Username: cfg.Tvheadend.Username,
			Password: cfg.Tvheadend.Password,
			Timeout:  cfg.Tvheadend.Timeout,
		})
	}

	a.objects = buildObjectCache(cfg)
	return a, nil
}

// buildObjectCache selects the series-details cache backend. A Redis
// failure degrades to the memory backend rather than blocking startup.
func buildObjectCache(cfg config.Config) cache.Cache {
	logger := log.WithComponent("cache")
	if cfg.Redis.Addr != "" {
		c, err := cache.NewRedisCache(cache.RedisOptions{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		}, logger)
		if err == nil {
			return c
		}
		logger.Warn().
			Err(err).
			Str("event", "cache.redis_fallback").
			Msg("redis unavailable, using in-memory details cache")
	}
	return cache.NewMemoryCache(10 * time.Minute)
}

func (a *app) close() {
	if stopper, ok := a.objects.(cache.Stopper); ok {
		stopper.Stop()
	}
	if closer, ok := a.objects.(interface{ Close() error }); ok {
		_ = closer.Close()
	}
	if a.runs != nil {
		_ = a.runs.Close()
	}
	_ = a.store.Close()
}

// newRunner assembles a pipeline runner from the current configuration.
// Rebuilt per run so config reloads in daemon mode take effect.
func (a *app) newRunner(cfg config.Config) (*pipeline.Runner, error) {
	lineups, err := resolveLineups(cfg)
	if err != nil {
		return nil, err
	}

	deps := pipeline.Deps{
		Fetcher:    a.client,
		Details:    a.client,
		Store:      a.store,
		Normalizer: guide.NewNormalizer(),
		Emitter: &xmltvEmitter{
			path:    cfg.Output.Path,
			backups: cfg.Output.Backups,
			opts: xmltv.Options{
				Generator: "gracenote2epg " + version,
			},
		},
		Objects: a.objects,
	}
	if a.tvh != nil {
		deps.PVR = a.tvh
	}

	return pipeline.New(pipeline.Options{
		Lineups:       lineups,
		Days:          cfg.Provider.Days,
		NearMaxAge:    cfg.Cache.NearMaxAge,
		FarMaxAge:     cfg.Cache.FarMaxAge,
		RetentionDays: cfg.Cache.RetentionDays,
		Workers:       cfg.Pipeline.Workers,
		QueueDepth:    cfg.Pipeline.QueueDepth,
		Match: match.Options{
			NumericOnly:   cfg.Match.NumericOnly,
			NameMatch:     cfg.Match.NameMatch,
			Threshold:     cfg.Match.Threshold,
			StripSuffixes: cfg.Match.StripSuffixes,
		},
		SeriesDetails: cfg.Provider.SeriesDetails,
		DetailsTTL:    cfg.Redis.TTL,
	}, deps), nil
}

func resolveLineups(cfg config.Config) ([]gracenote.Lineup, error) {
	out := make([]gracenote.Lineup, 0, len(cfg.Provider.Lineups))
	for _, l := range cfg.Provider.Lineups {
		id, err := l.ResolveID()
		if err != nil {
			return nil, err
		}
		out = append(out, gracenote.Lineup{
			ID:         id,
			Country:    l.ResolveCountry(),
			PostalCode: config.NormalizePostal(l.PostalCode),
			Device:     l.ResolveDevice(),
		})
	}
	return out, nil
}

// runOnce executes a single pass and maps the run status to an exit code.
// printRuns dumps the most recent run records as a plain table without
// starting the pipeline.
func printRuns(cfg config.Config, limit int) int {
	if cfg.Runlog.Path == "" {
		fmt.Fprintln(os.Stderr, "gracenote2epg: run history not configured (runlog.path)")
		return exitFailed
	}
	runs, err := runlog.Open(cfg.Runlog.Path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "gracenote2epg: %v\n", err)
		return exitFailed
	}
	defer runs.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	recent, err := runs.Recent(ctx, limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "gracenote2epg: %v\n", err)
		return exitFailed
	}
	for _, r := range recent {
		fmt.Printf("%s  %s  %-8s  %s\n",
			r.ID,
			r.StartedAt.UTC().Format(time.RFC3339),
			r.Status,
			r.Duration.Round(time.Millisecond))
	}
	return exitOK
}

func runOnce(ctx context.Context, a *app, cfg config.Config) int {
	logger := log.WithComponent("main")

	runner, err := a.newRunner(cfg)
	if err != nil {
		logger.Error().Err(err).Str("event", "run.build_failed").Msg("runner setup failed")
		return exitFailed
	}

	sum, err := runner.Run(ctx)
	a.recordRun(sum)
	if a.client.Pacer().CooldownActive() {
		logger.Warn().Str("event", "run.provider_cooldown").Msg("provider block cooldown still active after run")
	}
	if err != nil {
		return exitFailed
	}
	switch sum.Status {
	case pipeline.StatusNoData:
		return exitNoData
	default:
		return exitOK
	}
}

// runRetention bounds how much run history the daemon keeps.
const runRetention = 90 * 24 * time.Hour

func (a *app) recordRun(sum *pipeline.Summary) {
	if a.runs == nil || sum == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	logger := log.WithComponent("runlog")
	if err := a.runs.Record(ctx, sum.RunID, sum.StartedAt, sum.Duration, sum.Status, sum); err != nil {
		logger.Warn().Err(err).Str("event", "runlog.record_failed").Msg("run history write failed")
	}
	if _, err := a.runs.PruneOlderThan(ctx, time.Now().Add(-runRetention)); err != nil {
		logger.Warn().Err(err).Str("event", "runlog.prune_failed").Msg("run history prune failed")
	}
}

// runDaemon runs the pipeline on an interval with jitter, serves the HTTP
// surface, honors manual refresh requests, and hot-reloads the config
// file.
func runDaemon(ctx context.Context, a *app, loader *config.Loader, initial config.Config, configPath string) int {
	logger := log.WithComponent("daemon")

	holder := config.NewHolder(initial, loader, configPath)
	if err := holder.StartWatcher(ctx); err != nil {
		logger.Error().Err(err).Str("event", "daemon.watcher_failed").Msg("config watcher failed")
		return exitFailed
	}
	defer holder.Stop()

	server := api.New(initial.Server, initial.Output.Path, version, a.runs)
	httpSrv := &http.Server{
		Addr:              initial.Server.Listen,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		logger.Info().
			Str("event", "daemon.listening").
			Str("addr", httpSrv.Addr).
			Msg("http surface listening")
		if err := httpSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = httpSrv.Shutdown(shutdownCtx)
	}()

	execute := func(reason string) {
		cfg := holder.Get()
		runner, err := a.newRunner(cfg)
		if err != nil {
			logger.Error().Err(err).Str("event", "run.build_failed").Msg("runner setup failed")
			return
		}
		logger.Info().
			Str("event", "daemon.run").
			Str("reason", reason).
			Msg("starting pipeline pass")
		sum, _ := runner.Run(ctx)
		a.recordRun(sum)
		if sum != nil {
			server.SetSummary(sum)
		}
	}

	execute("startup")

	timer := time.NewTimer(nextInterval(holder.Get().Daemon))
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			logger.Info().Str("event", "daemon.stopping").Msg("shutdown signal received")
			return exitOK
		case err := <-serveErr:
			logger.Error().Err(err).Str("event", "daemon.serve_failed").Msg("http server failed")
			return exitFailed
		case <-server.TriggerC():
			execute("manual")
		case <-timer.C:
			execute("interval")
			timer.Reset(nextInterval(holder.Get().Daemon))
		}
	}
}

// nextInterval spreads scheduled runs by a random jitter so fleets don't
// hit the provider in lockstep.
func nextInterval(cfg config.DaemonConfig) time.Duration {
	d := cfg.Interval
	if d <= 0 {
		d = 6 * time.Hour
	}
	if cfg.Jitter > 0 {
		d += time.Duration(time.Now().UnixNano() % int64(cfg.Jitter))
	}
	return d
}
