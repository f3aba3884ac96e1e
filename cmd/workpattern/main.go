package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"workpattern/internal/aggregate"
	"workpattern/internal/cache"
	"workpattern/internal/config"
	"workpattern/internal/gcal"
	"workpattern/internal/ics"
	"workpattern/internal/influx"
	appLog "workpattern/internal/log"
	"workpattern/internal/metrics"
	"workpattern/internal/model"
	"workpattern/internal/source"
	"workpattern/internal/store"
	"workpattern/internal/syncer"
	"workpattern/internal/web"
)

const (
	// syncTimeout bounds one scheduled or -once run.
	syncTimeout     = 5 * time.Minute
	shutdownTimeout = 10 * time.Second
)

type flagConfig struct {
	configPath string
	listen     string
	once       bool
	days       int
	eventsPath string
	date       string
	dryRun     bool
}

func main() {
	flags := parseFlags()

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}
	if flags.listen != "" {
		conf.Listen = flags.listen
	}

	appLog.Configure(os.Stderr, appLog.Format(conf.LogFormat))
	appLog.SetLevel(appLog.ParseLevel(conf.LogLevel))

	if err := conf.Validate(); err != nil {
		appLog.Error("invalid config", err, "config_path", flags.configPath)
		os.Exit(1)
	}

	appLog.Info("effective config",
		"listen", conf.Listen,
		"timezone", conf.Timezone,
		"user_id", conf.UserID,
		"refresh", conf.RefreshCron,
		"backfill_days", conf.BackfillDays,
		"store", conf.Store.Driver,
		"ics_count", len(conf.ICS),
		"google", conf.Google.Enabled(),
		"events_file", conf.EventsFile != "",
		"redis", conf.RedisURL != "",
		"influx", conf.Influx.Enabled(),
		"once", flags.once,
		"dry_run", flags.dryRun,
	)

	// Aggregating a local export needs none of the backing services.
	if flags.once && flags.eventsPath != "" {
		if err := printAggregate(os.Stdout, flags.eventsPath, flags.date, conf); err != nil {
			appLog.Error("aggregate failed", err, "events", flags.eventsPath)
			os.Exit(1)
		}
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		appLog.Info("signal received, shutting down", "signal", sig.String())
		cancel()
	}()

	if err := run(ctx, conf, flags); err != nil {
		appLog.Error("workpattern exited with error", err)
		os.Exit(1)
	}
	appLog.Info("workpattern exiting")
}

func run(ctx context.Context, conf *config.Config, flags flagConfig) error {
	loc := conf.Location()

	st, err := openStore(ctx, conf, flags.dryRun)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := st.Close(closeCtx); err != nil {
			appLog.Error("store close failed", err)
		}
	}()

	kv, err := openCache(ctx, conf)
	if err != nil {
		return err
	}
	defer kv.Close()

	sources, err := buildSources(ctx, conf)
	if err != nil {
		return err
	}

	recorder := metrics.NewInMemory()
	syncCfg := syncer.Config{
		Sources:   sources,
		Store:     st,
		Cache:     kv,
		Recorder:  recorder,
		Location:  loc,
		OrgDomain: conf.OrgDomain,
	}
	if conf.Influx.Enabled() && !flags.dryRun {
		sink, err := influx.New(ctx, conf.Influx, loc)
		if err != nil {
			// The time-series copy is optional; keep serving without it.
			appLog.Error("influx sink disabled", err)
		} else {
			defer sink.Close()
			syncCfg.Sink = sink
		}
	}
	sy := syncer.New(syncCfg)

	days := flags.days
	if days <= 0 {
		days = conf.BackfillDays
	}

	if flags.once {
		runCtx, cancel := context.WithTimeout(ctx, syncTimeout)
		defer cancel()
		res, err := sy.Run(runCtx, conf.UserID, days)
		if err != nil {
			return err
		}
		return writeIndentedJSON(os.Stdout, res)
	}

	scheduler := cron.New()
	if _, err := sy.Schedule(ctx, scheduler, conf.RefreshCron, conf.UserID, days, syncTimeout); err != nil {
		return fmt.Errorf("schedule sync: %w", err)
	}
	scheduler.Start()
	defer func() {
		// Wait for a running sync to finish.
		<-scheduler.Stop().Done()
	}()

	// Initial sync so the API has data before the first tick.
	go func() {
		runCtx, cancel := context.WithTimeout(ctx, syncTimeout)
		defer cancel()
		if _, err := sy.Run(runCtx, conf.UserID, days); err != nil && !errors.Is(err, context.Canceled) {
			appLog.Error("initial sync failed", err)
		}
	}()

	srv := web.NewServer(conf, web.Deps{
		Store:       st,
		Cache:       kv,
		Syncer:      sy,
		Recorder:    recorder,
		Snapshotter: recorder,
	})
	return srv.ListenAndServe(ctx, shutdownTimeout)
}

func openStore(ctx context.Context, conf *config.Config, dryRun bool) (store.Store, error) {
	if dryRun {
		appLog.Info("dry run: using in-memory store")
		return store.NewMemory(), nil
	}
	st, err := store.Open(ctx, conf.Store)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", conf.Store.Driver, err)
	}
	appLog.Info("connected to store", "driver", conf.Store.Driver)
	return st, nil
}

func openCache(ctx context.Context, conf *config.Config) (cache.Cache, error) {
	if conf.RedisURL == "" {
		return cache.NewMemory(), nil
	}
	r, err := cache.NewRedis(ctx, conf.RedisURL)
	if err != nil {
		return nil, err
	}
	appLog.Info("connected to Redis")
	return r, nil
}

// buildSources turns the configured integrations into sync sources.
func buildSources(ctx context.Context, conf *config.Config) ([]source.Source, error) {
	var sources []source.Source

	if len(conf.ICS) > 0 {
		fetcher := ics.NewFetcher(conf.CacheDir, nil)
		for _, c := range conf.ICS {
			if c.URL == "" {
				continue
			}
			src := ics.Source{ID: c.SourceID(), URL: c.URL}
			sources = append(sources, ics.NewCalendar(src, fetcher, conf.Location()))
		}
	}

	if conf.Google.Enabled() {
		g, err := gcal.NewFromConfig(ctx, conf.Google)
		if err != nil {
			return nil, fmt.Errorf("google calendar: %w", err)
		}
		sources = append(sources, g)
	}

	if conf.EventsFile != "" {
		sources = append(sources, &source.File{Path: conf.EventsFile})
	}
	return sources, nil
}

// printAggregate computes one day of metrics from a JSON export and writes
// the result to w. An empty date means today in the configured zone.
func printAggregate(w io.Writer, path, date string, conf *config.Config) error {
	loc := conf.Location()

	day := model.DateOf(time.Now(), loc)
	if date != "" {
		d, err := model.ParseDate(date)
		if err != nil {
			return err
		}
		day = d
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	events, err := source.DecodeEvents(data)
	if err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}

	m := aggregate.Daily(events, day, aggregate.Options{Location: loc, OrgDomain: conf.OrgDomain})
	return writeIndentedJSON(w, m)
}

func writeIndentedJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "/etc/workpattern/config.yaml", "Path to config file")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.BoolVar(&cfg.once, "once", false, "Run one sync (or aggregate -events) and exit")
	flag.IntVar(&cfg.days, "days", 0, "Days to recompute, today included (default: backfill_days)")
	flag.StringVar(&cfg.eventsPath, "events", "", "With -once: aggregate this JSON event export instead of syncing")
	flag.StringVar(&cfg.date, "date", "", "With -events: date to aggregate, YYYY-MM-DD (default: today)")
	flag.BoolVar(&cfg.dryRun, "dry-run", false, "Use an in-memory store and skip the time-series sink")

	flag.Parse()

	return cfg
}
