// Package pipeline runs one archive pass: reconcile the manifest, list
// candidates, fetch every planned tier concurrently, then settle dedup
// decisions, placement and manifest commits in key order.
package pipeline

import (
	"context"
	"errors"
	"runtime"
	"time"

	"github.com/jonathan/wallpaper-archiver/internal/archive"
	"github.com/jonathan/wallpaper-archiver/internal/classify"
	"github.com/jonathan/wallpaper-archiver/internal/dedup"
	"github.com/jonathan/wallpaper-archiver/internal/fetch"
	"github.com/jonathan/wallpaper-archiver/internal/logging"
	"github.com/jonathan/wallpaper-archiver/internal/manifest"
	"github.com/jonathan/wallpaper-archiver/internal/metrics"
	"github.com/jonathan/wallpaper-archiver/internal/resolve"
	"github.com/jonathan/wallpaper-archiver/internal/sources"
	"github.com/jonathan/wallpaper-archiver/internal/types"
)

// DefaultAbortTimeout bounds manifest writes made after cancellation.
const DefaultAbortTimeout = 5 * time.Second

// Downloader fetches one URL into a local file.
type Downloader interface {
	Download(ctx context.Context, rawURL, dst string, opts fetch.DownloadOptions) (*fetch.Result, error)
}

// ProgressEvent reports one task outcome.
type ProgressEvent struct {
	Stage   string `json:"stage"`
	Key     string `json:"key"`
	Outcome string `json:"outcome"`
	Message string `json:"message,omitempty"`
	RunID   string `json:"run_id"`
}

// ProgressCallback is called for every task outcome. It may be called from
// several goroutines at once.
type ProgressCallback func(event ProgressEvent)

// Options wires the components of a run.
type Options struct {
	Adapters []sources.Adapter
	Window   sources.Window
	Tiers    []types.Resolution

	Ledger     *manifest.Ledger
	Resolver   *resolve.Resolver
	Downloader Downloader
	Dedup      *dedup.Engine
	Archiver   *archive.Archiver
	Classifier classify.Classifier
	Metrics    *metrics.Metrics
	Logger     *logging.Logger

	// Workers is the number of candidates fetched concurrently.
	Workers int
	// CPUWorkers caps concurrent decode, resize and hash work.
	CPUWorkers int
	// GenerateMissing derives a tier from a higher one when no direct URL works.
	GenerateMissing bool
	// Revalidate re-checks complete entries with a conditional request.
	Revalidate bool
	// CategoryMirrors links every archived file into a category directory.
	CategoryMirrors bool

	PushGateway  string
	PushJob      string
	AbortTimeout time.Duration
	OnProgress   ProgressCallback
}

func (o *Options) validate() error {
	var errs []error
	if o.Ledger == nil {
		errs = append(errs, errors.New("ledger is required"))
	}
	if o.Downloader == nil {
		errs = append(errs, errors.New("downloader is required"))
	}
	if o.Dedup == nil {
		errs = append(errs, errors.New("dedup engine is required"))
	}
	if o.Archiver == nil {
		errs = append(errs, errors.New("archiver is required"))
	}
	return errors.Join(errs...)
}

func (o *Options) setDefaults() {
	if len(o.Tiers) == 0 {
		o.Tiers = types.AllResolutions()
	}
	if len(o.Window.Tiers) == 0 {
		o.Window.Tiers = o.Tiers
	}
	if o.Resolver == nil {
		o.Resolver = resolve.New(resolve.Options{})
	}
	if o.Classifier == nil {
		o.Classifier = classify.NewKeywords()
	}
	if o.Logger == nil {
		o.Logger = logging.Nop()
	}
	if o.Workers <= 0 {
		o.Workers = 4
	}
	if o.CPUWorkers <= 0 {
		o.CPUWorkers = runtime.NumCPU()
	}
	if o.AbortTimeout <= 0 {
		o.AbortTimeout = DefaultAbortTimeout
	}
	if o.PushJob == "" {
		o.PushJob = "wallarchive"
	}
}
