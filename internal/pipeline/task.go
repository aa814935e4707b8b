package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jonathan/wallpaper-archiver/internal/archive"
	"github.com/jonathan/wallpaper-archiver/internal/dedup"
	"github.com/jonathan/wallpaper-archiver/internal/fetch"
	"github.com/jonathan/wallpaper-archiver/internal/manifest"
	"github.com/jonathan/wallpaper-archiver/internal/metrics"
	"github.com/jonathan/wallpaper-archiver/internal/resolve"
	"github.com/jonathan/wallpaper-archiver/internal/types"
)

var errNoSource = errors.New("no direct URL succeeded and no higher tier to derive from")

// stagedTask is a fetched or generated file awaiting the settle phase.
type stagedTask struct {
	task      *types.FetchTask
	lease     *manifest.Lease
	path      string
	fp        dedup.Fingerprint
	size      int64
	width     int
	height    int
	etag      string
	lastMod   string
	sourceURL string
	generated bool
}

// runTask executes one task up to staging. The lease stays open for the
// settle phase on success and is closed here on every other path.
func (r *runner) runTask(ctx context.Context, n *node, from *node) {
	t := n.task
	log := r.log.WithKey(t.Key.String())
	start := time.Now()
	if r.opts.Metrics != nil {
		defer func() {
			r.opts.Metrics.TaskDuration.WithLabelValues(string(t.Resolution)).Observe(time.Since(start).Seconds())
		}()
	}

	lease, err := r.opts.Ledger.Begin(ctx, t.Key)
	switch {
	case errors.Is(err, manifest.ErrAlreadyInProgress):
		log.Info("key leased by another worker, skipping")
		n.terminal = true
		r.record(StageFetch, t, metrics.OutcomeConflict, nil)
		return
	case err != nil:
		if ctx.Err() == nil {
			r.fail(err)
		}
		return
	}

	prior := lease.Prior()
	onDisk := prior != nil && r.opts.Ledger.FileExists(prior)
	if prior.IsComplete() && onDisk && !r.opts.Revalidate {
		lease.Release()
		n.source = prior.FilePath
		log.Debug("already complete", "path", prior.FilePath)
		r.record(StageFetch, t, metrics.OutcomeSkippedComplete, nil)
		return
	}

	var validators *fetch.Validators
	if onDisk && prior.SourceURL != "" && (prior.ETag != "" || prior.LastModified != "") {
		validators = &fetch.Validators{ETag: prior.ETag, LastModified: prior.LastModified}
	}

	res, fetchErr, terminal := r.download(ctx, lease, t, prior, validators)
	if fetchErr == nil && res.NotModified {
		r.commitNotModified(ctx, n, lease, prior, res)
		return
	}

	st := &stagedTask{task: t, lease: lease}
	if fetchErr == nil {
		if err := r.postprocess(ctx, t, res, st); err != nil {
			fetchErr, terminal = err, fetch.KindOf(err) == fetch.KindCorrupt
		}
	}

	if st.path == "" && from != nil && ctx.Err() == nil {
		select {
		case <-from.done:
		case <-ctx.Done():
		}
		if from.source != "" && ctx.Err() == nil {
			if err := r.generate(ctx, t, from.source, st); err != nil {
				fetchErr, terminal = err, true
			}
		} else {
			terminal = terminal && from.terminal
		}
	}
	if st.path == "" {
		r.failTask(ctx, n, lease, fetchErr, terminal)
		return
	}

	if err := r.fingerprint(ctx, st); err != nil {
		_ = os.Remove(st.path)
		r.failTask(ctx, n, lease, err, ctx.Err() == nil)
		return
	}

	n.source = st.path
	log.Debug("staged", "path", st.path, "generated", st.generated, "attempts", lease.Attempts())
	r.mu.Lock()
	r.staged = append(r.staged, st)
	r.mu.Unlock()
}

// download tries the task URLs in order. Any failure moves on to the next
// URL; the result is terminal only if every URL failed permanently.
func (r *runner) download(ctx context.Context, lease *manifest.Lease, t *types.FetchTask, prior *types.ManifestEntry, validators *fetch.Validators) (*fetch.Result, error, bool) {
	log := r.log.WithKey(t.Key.String())
	layout := r.opts.Archiver.Layout()
	terminal := true
	var lastErr error

	for _, u := range t.URLs {
		dopts := fetch.DownloadOptions{CheckRobots: t.Candidate.Kind == types.KindPopular}
		if validators != nil && u == prior.SourceURL {
			dopts.Validators = *validators
		}
		dst := layout.Staging(t.Key, archive.ExtFromURL(u))

		res, err := r.opts.Downloader.Download(ctx, u, dst, dopts)
		if err == nil {
			lease.AddAttempts(res.Attempts)
			res.URL = u
			return res, nil, false
		}
		lease.AddAttempts(fetch.AttemptsOf(err))
		if ctx.Err() != nil {
			return nil, ctx.Err(), false
		}

		lastErr = err
		switch fetch.KindOf(err) {
		case fetch.KindNotFound, fetch.KindRejected, fetch.KindCorrupt:
		default:
			terminal = false
		}
		log.Debug("url failed", "url", u, "kind", string(fetch.KindOf(err)), "error", err.Error())
	}
	if lastErr == nil {
		lastErr = errNoSource
	}
	return nil, lastErr, terminal
}

// postprocess fits a downloaded file into the tier box when the plan asks
// for it and fills st.
func (r *runner) postprocess(ctx context.Context, t *types.FetchTask, res *fetch.Result, st *stagedTask) error {
	st.etag = res.ETag
	st.lastMod = res.LastModified
	st.sourceURL = res.URL

	box := t.Resolution.Box()
	resize := t.Crop || (t.Normalize && !box.Fits(res.Width, res.Height))
	if !resize {
		st.path, st.width, st.height = res.Path, res.Width, res.Height
		return nil
	}

	if err := r.cpu.Acquire(ctx, 1); err != nil {
		return err
	}
	defer r.cpu.Release(1)

	out := derivedPath(res.Path)
	var (
		img *resolve.Result
		err error
	)
	if t.Crop {
		img, err = resolve.CropToBox(res.Path, out, box)
	} else {
		img, err = resolve.Downsample(res.Path, out, box)
	}
	_ = os.Remove(res.Path)
	if err != nil {
		return &fetch.Error{URL: res.URL, Message: "failed to resize image", Kind: fetch.KindCorrupt, Cause: err}
	}
	st.path, st.width, st.height = img.Path, img.Width, img.Height
	return nil
}

// generate derives the task tier from a higher tier's file.
func (r *runner) generate(ctx context.Context, t *types.FetchTask, source string, st *stagedTask) error {
	if err := r.cpu.Acquire(ctx, 1); err != nil {
		return err
	}
	defer r.cpu.Release(1)

	out := derivedPath(r.opts.Archiver.Layout().Staging(t.Key, filepath.Ext(source)))
	img, err := resolve.NormalizeToBox(source, out, t.Resolution.Box())
	if err != nil {
		return fmt.Errorf("generate %s from %s: %w", t.Resolution, source, err)
	}
	st.path, st.width, st.height = img.Path, img.Width, img.Height
	st.generated = true
	return nil
}

func (r *runner) fingerprint(ctx context.Context, st *stagedTask) error {
	if err := r.cpu.Acquire(ctx, 1); err != nil {
		return err
	}
	defer r.cpu.Release(1)

	fi, err := os.Stat(st.path)
	if err != nil {
		return err
	}
	st.size = fi.Size()
	fp, err := r.opts.Dedup.Fingerprint(st.path)
	if err != nil {
		return fmt.Errorf("fingerprint %s: %w", st.path, err)
	}
	st.fp = fp
	return nil
}

// commitNotModified completes a key whose upstream copy is unchanged,
// keeping the facts of the prior entry.
func (r *runner) commitNotModified(ctx context.Context, n *node, lease *manifest.Lease, prior *types.ManifestEntry, res *fetch.Result) {
	t := n.task
	c := manifest.Completion{
		ContentDigest: prior.ContentDigest,
		FilePath:      prior.FilePath,
		ETag:          firstNonEmpty(res.ETag, prior.ETag),
		LastModified:  firstNonEmpty(res.LastModified, prior.LastModified),
		SourceURL:     prior.SourceURL,
		Size:          prior.Size,
		Width:         prior.Width,
		Height:        prior.Height,
		PHash:         prior.PHash,
		DuplicateOf:   prior.DuplicateOf,
	}
	if err := lease.Commit(ctx, c); err != nil {
		r.failTask(ctx, n, lease, err, false)
		return
	}
	n.source = prior.FilePath
	r.record(StageFetch, t, metrics.OutcomeSkippedNotModified, nil)
}

// failTask aborts the lease and records the failure.
func (r *runner) failTask(ctx context.Context, n *node, lease *manifest.Lease, err error, terminal bool) {
	t := n.task
	if manifest.IsUnavailable(err) {
		r.fail(err)
	}
	if ctx.Err() != nil {
		terminal = false
	}
	n.terminal = terminal
	reason := "unknown error"
	if err != nil {
		reason = err.Error()
	}
	r.abortLease(ctx, t, lease, reason, terminal)
	r.log.WithKey(t.Key.String()).WithError(err).Info("task failed", "terminal", terminal, "attempts", lease.Attempts())
	r.record(StageFetch, t, metrics.OutcomeFailed, &TaskFailure{
		Key:      t.Key.String(),
		Kind:     string(fetch.KindOf(err)),
		Reason:   reason,
		Terminal: terminal,
	})
}

// derivedPath names the output of a local transform of p. Transforms encode
// PNG as PNG and everything else as JPEG.
func derivedPath(p string) string {
	ext := filepath.Ext(p)
	out := ".jpg"
	if strings.EqualFold(ext, ".png") {
		out = ".png"
	}
	return strings.TrimSuffix(p, ext) + "-fit" + out
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
