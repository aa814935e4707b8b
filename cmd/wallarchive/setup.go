package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/jonathan/wallpaper-archiver/internal/archive"
	"github.com/jonathan/wallpaper-archiver/internal/config"
	"github.com/jonathan/wallpaper-archiver/internal/fetch"
	"github.com/jonathan/wallpaper-archiver/internal/logging"
	"github.com/jonathan/wallpaper-archiver/internal/manifest"
	"github.com/jonathan/wallpaper-archiver/internal/metrics"
	"github.com/jonathan/wallpaper-archiver/internal/sources"
)

// loadConfig reads the config file named by --config, or the defaults when
// none is given, then applies environment secrets. Callers apply their flag
// overrides and call Validate.
func loadConfig() (*config.Config, error) {
	var cfg *config.Config
	if configPath != "" {
		loaded, err := config.LoadConfig(configPath, profile)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
		cfg = loaded
	} else {
		if profile != "" {
			return nil, fmt.Errorf("--profile requires --config")
		}
		def := config.Default()
		cfg = &def
	}
	cfg.ApplyEnv(os.Getenv)
	if verbose {
		cfg.Log.Level = "debug"
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) *logging.Logger {
	lc := cfg.Log
	lc.Component = "wallarchive"
	return logging.New(lc)
}

// openLedger opens the configured manifest backend and, when a Redis URL is
// set, the cross-process locker. The returned closer releases both.
func openLedger(ctx context.Context, cfg *config.Config, runID string, log *logging.Logger) (*manifest.Ledger, func(), error) {
	var backend manifest.Backend
	switch cfg.Manifest.Backend {
	case config.BackendPostgres:
		pg, err := manifest.ConnectPostgres(ctx, cfg.Manifest.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to manifest database: %w", err)
		}
		backend = pg
	default:
		path := cfg.ManifestPath()
		sq, err := manifest.OpenSQLite(path)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open manifest %s: %w", path, err)
		}
		backend = sq
	}

	opts := manifest.Options{LeaseTTL: cfg.Manifest.LeaseTTL.Std(), RunID: runID}
	closeRedis := func() error { return nil }
	if cfg.Manifest.RedisURL != "" {
		client, err := manifest.ConnectRedis(ctx, cfg.Manifest.RedisURL)
		if err != nil {
			_ = backend.Close()
			return nil, nil, err
		}
		opts.Locker = manifest.NewRedisLocker(client, "")
		closeRedis = client.Close
		log.Debug("using redis leases")
	}

	ledger := manifest.NewLedger(backend, opts)
	closer := func() {
		if err := errors.Join(ledger.Close(), closeRedis()); err != nil {
			log.WithError(err).Warn("failed to close manifest")
		}
	}
	return ledger, closer, nil
}

func newFetchClient(cfg *config.Config, m *metrics.Metrics, log *logging.Logger) *fetch.Client {
	fc := cfg.Fetch
	policy := fetch.DefaultPolicy()
	policy.MaxAttempts = fc.MaxAttempts
	policy.BaseDelay = fc.BaseDelay.Std()
	policy.MaxDelay = fc.MaxDelay.Std()

	opts := fetch.Options{
		Timeout:         fc.Timeout.Std(),
		UserAgent:       fc.UserAgent,
		HTTPConcurrency: fc.HTTPConcurrency,
		HostRPS:         fc.HostRPS,
		HostBurst:       fc.HostBurst,
		Robots:          fetch.RobotsMode(fc.Robots),
		Policy:          policy,
		Logger:          log.Named("fetch"),
	}
	if m != nil {
		opts.OnAttempt = m.ObserveAttempt
	}
	return fetch.NewClient(opts)
}

// newRegistry registers every adapter configured from cfg.
func newRegistry(cfg *config.Config, client sources.JSONGetter, log *logging.Logger) *sources.Registry {
	if log == nil {
		log = logging.Nop()
	}
	sc := cfg.Sources
	log = log.Named("sources")
	reg := sources.NewRegistry()
	reg.Register(&sources.BingDaily{Client: client, Market: sc.Market, Host: sc.BingHost, Logger: log})
	reg.Register(&sources.BingArchive{Client: client, Market: sc.Market, Host: sc.ArchiveHost, Logger: log})
	reg.Register(&sources.Q360{Client: client, Categories: sc.Q360.Categories, Logger: log})
	reg.Register(&sources.Wallhaven{
		Client:   client,
		APIKey:   sc.Wallhaven.APIKey,
		Sorting:  sc.Wallhaven.Sorting,
		TopRange: sc.Wallhaven.TopRange,
		Seed:     sc.Wallhaven.Seed,
		Logger:   log,
	})
	reg.Register(&sources.Openverse{Client: client, Token: sc.Openverse.Token, Logger: log})
	reg.Register(&sources.Wikimedia{Client: client, Category: sc.Wikimedia.Category, UserAgent: sc.Wikimedia.UserAgent, Logger: log})
	return reg
}

// window builds the listing window from cfg.
func window(cfg *config.Config) (sources.Window, error) {
	since, err := cfg.SinceTime()
	if err != nil {
		return sources.Window{}, err
	}
	tiers, err := cfg.Resolutions()
	if err != nil {
		return sources.Window{}, err
	}
	return sources.Window{
		N:     cfg.Sources.N,
		Since: since,
		Years: cfg.Sources.Years,
		Tiers: tiers,
		Query: cfg.Sources.Query,
	}, nil
}

func newArchiver(ctx context.Context, cfg *config.Config, log *logging.Logger) (*archive.Archiver, error) {
	opts := archive.Options{Logger: log.Named("archive")}
	if rc := cfg.Replica; rc.Endpoint != "" {
		replica, err := archive.NewObjectReplica(ctx, archive.ReplicaConfig{
			Endpoint:  rc.Endpoint,
			AccessKey: rc.AccessKey,
			SecretKey: rc.SecretKey,
			Bucket:    rc.Bucket,
			Prefix:    rc.Prefix,
			UseSSL:    rc.UseSSL,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to set up replica: %w", err)
		}
		opts.Replica = replica
	}
	return archive.New(archive.Layout{Root: cfg.Root}, opts), nil
}
