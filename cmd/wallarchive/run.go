package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/jonathan/wallpaper-archiver/internal/config"
	"github.com/jonathan/wallpaper-archiver/internal/dedup"
	"github.com/jonathan/wallpaper-archiver/internal/metrics"
	"github.com/jonathan/wallpaper-archiver/internal/observability"
	"github.com/jonathan/wallpaper-archiver/internal/pipeline"
	"github.com/jonathan/wallpaper-archiver/internal/resolve"
	"github.com/jonathan/wallpaper-archiver/internal/sources"
)

var runCommand = &cobra.Command{
	Use:   "run",
	Short: "Run one archive pass",
	Long: `Reconciles the manifest, lists candidates from the enabled sources, fetches every
requested tier, settles duplicates and files the results under the archive root.

Configuration can be loaded from a file using --config. Command-line flags override config values.`,
	RunE: runArchiveCmd,
}

var (
	runRoot            string
	runTiers           []string
	runSources         []string
	runN               int
	runSince           string
	runYears           int
	runQuery           string
	runMarket          string
	runWorkers         int
	runDedupStrategy   string
	runDedupPolicy     string
	runNoGenerate      bool
	runRevalidate      bool
	runExact           bool
	runRobots          string
	runPushGateway     string
	runDryRun          bool
	runJSON            bool
	runFailOnErrors    bool
	runNoMirrors       bool
	runManifestBackend string
)

func init() {
	f := runCommand.Flags()
	f.StringVarP(&runRoot, "root", "r", "", "Archive root directory")
	f.StringSliceVarP(&runTiers, "tiers", "t", nil, "Resolution tiers to archive (4k,2k,1k)")
	f.StringSliceVarP(&runSources, "sources", "s", nil, "Sources to list: "+strings.Join(allSourceNames(), ", "))
	f.IntVarP(&runN, "n", "n", 0, "Maximum candidates per source (0 = source default)")
	f.StringVar(&runSince, "since", "", "Skip items captured before this date (YYYY-MM-DD)")
	f.IntVar(&runYears, "years", 0, "Years of archive history to backfill")
	f.StringVarP(&runQuery, "query", "q", "", "Search term for popular providers")
	f.StringVar(&runMarket, "market", "", "Daily feed market, for example en-US")
	f.IntVarP(&runWorkers, "workers", "w", 0, "Candidates fetched concurrently")
	f.StringVar(&runDedupStrategy, "dedup", "", "Dedup strategy: identity, content or perceptual")
	f.StringVar(&runDedupPolicy, "dedup-policy", "", "Duplicate policy: keep or skip")
	f.BoolVar(&runNoGenerate, "no-generate", false, "Do not derive missing tiers from higher ones")
	f.BoolVar(&runRevalidate, "revalidate", false, "Re-check complete entries with conditional requests")
	f.BoolVar(&runExact, "exact", false, "Crop popular images to the exact tier box")
	f.BoolVar(&runNoMirrors, "no-mirrors", false, "Do not create category mirrors")
	f.StringVar(&runRobots, "robots", "", "robots.txt mode for popular providers: on, off or strict")
	f.StringVar(&runPushGateway, "push-gateway", "", "Prometheus Pushgateway URL (defaults to PUSHGATEWAY_URL env var)")
	f.StringVar(&runManifestBackend, "manifest", "", "Manifest backend: sqlite or postgres (DATABASE_URL)")
	f.BoolVar(&runDryRun, "dry-run", false, "List candidates without fetching")
	f.BoolVar(&runJSON, "json", false, "Print the run summary as JSON")
	f.BoolVar(&runFailOnErrors, "fail-on-errors", false, "Exit non-zero when any task or source failed")

	rootCmd.AddCommand(runCommand)
}

func allSourceNames() []string {
	cfg := config.Default()
	return newRegistry(&cfg, nil, nil).Names()
}

func runArchiveCmd(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	applyRunFlags(cmd, cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}

	if runDryRun {
		return listCandidates(cmd.Context(), cfg, cmd.OutOrStdout())
	}
	sum, err := archiveOnce(cmd.Context(), cfg)
	if sum != nil {
		if perr := printSummary(cmd.OutOrStdout(), sum, runJSON); perr != nil {
			return perr
		}
	}
	if err != nil {
		return err
	}
	if runFailOnErrors && !sum.OK() {
		return fmt.Errorf("%d tasks failed, %d sources failed", sum.Failed, len(sum.SourceErrors))
	}
	return nil
}

// applyRunFlags overrides config values with explicitly set flags.
func applyRunFlags(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("root") {
		cfg.Root = runRoot
	}
	if flags.Changed("tiers") {
		cfg.Tiers = runTiers
	}
	if flags.Changed("sources") {
		cfg.Sources.Enabled = runSources
	}
	if flags.Changed("n") {
		cfg.Sources.N = runN
	}
	if flags.Changed("since") {
		cfg.Sources.Since = runSince
	}
	if flags.Changed("years") {
		cfg.Sources.Years = runYears
	}
	if flags.Changed("query") {
		cfg.Sources.Query = runQuery
	}
	if flags.Changed("market") {
		cfg.Sources.Market = runMarket
	}
	if flags.Changed("workers") {
		cfg.Workers = runWorkers
	}
	if flags.Changed("dedup") {
		cfg.Dedup.Strategy = runDedupStrategy
	}
	if flags.Changed("dedup-policy") {
		cfg.Dedup.Policy = runDedupPolicy
	}
	if flags.Changed("no-generate") {
		cfg.GenerateMissing = !runNoGenerate
	}
	if flags.Changed("revalidate") {
		cfg.Revalidate = runRevalidate
	}
	if flags.Changed("exact") {
		cfg.Exact = runExact
	}
	if flags.Changed("no-mirrors") {
		cfg.CategoryMirrors = !runNoMirrors
	}
	if flags.Changed("robots") {
		cfg.Fetch.Robots = runRobots
	}
	if flags.Changed("push-gateway") {
		cfg.Metrics.PushGateway = runPushGateway
	}
	if flags.Changed("manifest") {
		cfg.Manifest.Backend = runManifestBackend
	}
}

// archiveOnce wires every component from cfg and runs one pass.
func archiveOnce(ctx context.Context, cfg *config.Config) (*pipeline.Summary, error) {
	log := newLogger(cfg)
	runID := uuid.NewString()
	log = log.WithRunID(runID)

	if err := os.MkdirAll(cfg.Root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create archive root: %w", err)
	}

	m := metrics.New(cfg.Metrics.Namespace)
	client := newFetchClient(cfg, m, log)

	adapters, err := newRegistry(cfg, client, log).Select(cfg.Sources.Enabled)
	if err != nil {
		return nil, err
	}
	w, err := window(cfg)
	if err != nil {
		return nil, err
	}

	engine, err := dedup.New(dedup.Options{
		Strategy:  dedup.Strategy(cfg.Dedup.Strategy),
		Policy:    dedup.Policy(cfg.Dedup.Policy),
		Threshold: cfg.Dedup.Threshold,
		Algorithm: dedup.HashAlgorithm(cfg.Dedup.Algorithm),
		Digest:    dedup.DigestAlgorithm(cfg.Dedup.Digest),
	})
	if err != nil {
		return nil, err
	}

	archiver, err := newArchiver(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	ledger, closeLedger, err := openLedger(ctx, cfg, runID, log)
	if err != nil {
		return nil, err
	}
	defer closeLedger()

	log.Info("starting run", "root", cfg.Root, "sources", strings.Join(cfg.Sources.Enabled, ","), "tiers", strings.Join(cfg.Tiers, ","))
	return pipeline.Run(ctx, pipeline.Options{
		Adapters:        adapters,
		Window:          w,
		Tiers:           w.Tiers,
		Ledger:          ledger,
		Resolver:        resolve.New(resolve.Options{Exact: cfg.Exact}),
		Downloader:      client,
		Dedup:           engine,
		Archiver:        archiver,
		Metrics:         m,
		Logger:          log.Named("pipeline"),
		Workers:         cfg.Workers,
		CPUWorkers:      cfg.CPUWorkers,
		GenerateMissing: cfg.GenerateMissing,
		Revalidate:      cfg.Revalidate,
		CategoryMirrors: cfg.CategoryMirrors,
		PushGateway:     cfg.Metrics.PushGateway,
		PushJob:         cfg.Metrics.Job,
	})
}

// listCandidates prints what the enabled sources would offer.
func listCandidates(ctx context.Context, cfg *config.Config, out io.Writer) error {
	log := newLogger(cfg)
	client := newFetchClient(cfg, nil, log)
	adapters, err := newRegistry(cfg, client, log).Select(cfg.Sources.Enabled)
	if err != nil {
		return err
	}
	w, err := window(cfg)
	if err != nil {
		return err
	}

	res := sources.Collect(ctx, adapters, w, log)
	observability.NewPrinter(out).PrintCandidates(res.Candidates)
	if len(res.Failures) > 0 {
		return fmt.Errorf("%d sources failed", len(res.Failures))
	}
	return nil
}

func printSummary(out io.Writer, sum *pipeline.Summary, asJSON bool) error {
	if !asJSON {
		observability.NewPrinter(out).PrintRunSummary(sum)
		return nil
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(sum); err != nil {
		return fmt.Errorf("failed to encode summary: %w", err)
	}
	return nil
}
