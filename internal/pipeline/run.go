package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/jonathan/wallpaper-archiver/internal/logging"
	"github.com/jonathan/wallpaper-archiver/internal/manifest"
	"github.com/jonathan/wallpaper-archiver/internal/metrics"
	"github.com/jonathan/wallpaper-archiver/internal/sources"
	"github.com/jonathan/wallpaper-archiver/internal/types"
)

type runner struct {
	opts Options
	log  *logging.Logger
	cpu  *semaphore.Weighted

	mu     sync.Mutex
	sum    *Summary
	staged []*stagedTask

	fatalOnce sync.Once
	fatal     error
	cancel    context.CancelCauseFunc
}

// Run executes one archive pass. Per-task failures are reported in the
// summary; the returned error is non-nil only when the manifest became
// unavailable or ctx was cancelled.
func Run(ctx context.Context, opts Options) (*Summary, error) {
	if err := opts.validate(); err != nil {
		return nil, fmt.Errorf("invalid pipeline options: %w", err)
	}
	opts.setDefaults()
	start := time.Now()

	runID := opts.Ledger.RunID()
	r := &runner{
		opts: opts,
		log:  opts.Logger.WithRunID(runID),
		cpu:  semaphore.NewWeighted(int64(opts.CPUWorkers)),
		sum:  &Summary{RunID: runID},
	}

	err := r.run(ctx)
	r.sum.Duration = time.Since(start)
	r.sum.sortFailures()
	r.finishMetrics(ctx, err)

	r.log.WithDuration(r.sum.Duration).Info("run finished",
		"archived", r.sum.Archived,
		"generated", r.sum.Generated,
		"skipped_complete", r.sum.SkippedComplete,
		"skipped_not_modified", r.sum.SkippedNotModified,
		"duplicates", r.sum.Duplicates,
		"failed", r.sum.Failed,
		"conflicts", r.sum.Conflicts,
		"demoted", r.sum.Demoted,
	)
	return r.sum, err
}

func (r *runner) run(ctx context.Context) error {
	demoted, err := r.opts.Ledger.Reconcile(ctx)
	r.sum.Demoted = demoted
	if r.opts.Metrics != nil {
		r.opts.Metrics.Demoted.Add(float64(demoted))
	}
	if err != nil {
		r.log.WithError(err).Error("reconcile failed")
		return err
	}
	if demoted > 0 {
		r.log.Info("demoted entries with missing files", "count", demoted)
	}

	listed := sources.Collect(ctx, r.opts.Adapters, r.opts.Window, r.log)
	for name, err := range listed.Failures {
		if r.sum.SourceErrors == nil {
			r.sum.SourceErrors = map[string]string{}
		}
		r.sum.SourceErrors[name] = err.Error()
	}
	r.sum.Candidates = len(listed.Candidates)
	r.observeCandidates(listed.Candidates)
	if err := ctx.Err(); err != nil {
		return err
	}

	graphs := make([][]*types.FetchTask, 0, len(listed.Candidates))
	for i := range listed.Candidates {
		tasks := r.plan(&listed.Candidates[i])
		if len(tasks) == 0 {
			continue
		}
		r.sum.Tasks += len(tasks)
		graphs = append(graphs, tasks)
	}
	r.log.Info("planned tasks", "candidates", len(listed.Candidates), "tasks", r.sum.Tasks)

	if err := r.fetchPhase(ctx, graphs); err != nil {
		r.abortStaged(ctx, "run stopped: "+err.Error())
		return err
	}
	return r.settle(ctx)
}

// plan builds the task graph of one candidate. Without GenerateMissing no
// tier is derived locally, so tiers that exist only as fallbacks are dropped.
func (r *runner) plan(c *types.CandidateRecord) []*types.FetchTask {
	tasks := r.opts.Resolver.Plan(c, r.opts.Tiers)
	if r.opts.GenerateMissing {
		return tasks
	}
	out := tasks[:0]
	for _, t := range tasks {
		if len(t.URLs) == 0 {
			continue
		}
		t.Fallback = types.Fallback{Kind: types.FallbackNone}
		out = append(out, t)
	}
	return out
}

// fetchPhase runs every candidate graph on the worker pool and returns the
// fatal error, if any, or the context error on cancellation.
func (r *runner) fetchPhase(ctx context.Context, graphs [][]*types.FetchTask) error {
	if len(graphs) == 0 {
		return ctx.Err()
	}
	fctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	r.cancel = cancel

	pool, err := NewWorkerPool(fctx, r.opts.Workers, len(graphs))
	if err != nil {
		return err
	}
	for _, g := range graphs {
		if err := pool.Submit(fctx, func(ctx context.Context) { r.runGraph(ctx, g) }); err != nil {
			break
		}
	}
	pool.Wait()

	if r.fatal != nil {
		return r.fatal
	}
	return ctx.Err()
}

// node is the fetch state of one task within its candidate graph.
type node struct {
	task *types.FetchTask
	done chan struct{}
	// source is a local image of this tier once done, usable by lower tiers.
	source   string
	terminal bool
}

// runGraph runs all tasks of one candidate concurrently. A task that needs
// its downsample fallback waits for the tier it derives from.
func (r *runner) runGraph(ctx context.Context, tasks []*types.FetchTask) {
	nodes := make(map[types.Resolution]*node, len(tasks))
	for _, t := range tasks {
		nodes[t.Resolution] = &node{task: t, done: make(chan struct{})}
	}

	var wg sync.WaitGroup
	for _, t := range tasks {
		n := nodes[t.Resolution]
		var from *node
		if t.Fallback.Kind == types.FallbackDownsample {
			from = nodes[t.Fallback.From]
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer close(n.done)
			r.runTask(ctx, n, from)
		}()
	}
	wg.Wait()
}

// fail records a fatal error and stops the fetch phase.
func (r *runner) fail(err error) {
	r.fatalOnce.Do(func() {
		r.fatal = err
		r.log.WithError(err).Error("manifest unavailable, stopping run")
		if r.cancel != nil {
			r.cancel(err)
		}
	})
}

// detached returns a short-lived context that survives cancellation of ctx,
// for manifest writes that must land after the run is stopped.
func (r *runner) detached(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), r.opts.AbortTimeout)
}

// record counts an outcome and reports it.
func (r *runner) record(stage string, t *types.FetchTask, outcome string, failure *TaskFailure) {
	r.mu.Lock()
	switch outcome {
	case metrics.OutcomeArchived:
		r.sum.Archived++
	case metrics.OutcomeGenerated:
		r.sum.Generated++
	case metrics.OutcomeSkippedComplete:
		r.sum.SkippedComplete++
	case metrics.OutcomeSkippedNotModified:
		r.sum.SkippedNotModified++
	case metrics.OutcomeDuplicate:
		r.sum.Duplicates++
	case metrics.OutcomeConflict:
		r.sum.Conflicts++
	case metrics.OutcomeFailed:
		r.sum.Failed++
		if failure != nil {
			r.sum.Failures = append(r.sum.Failures, *failure)
		}
	}
	r.mu.Unlock()

	if r.opts.Metrics != nil {
		r.opts.Metrics.ObserveTask(string(t.Resolution), outcome)
	}
	if r.opts.OnProgress != nil {
		ev := ProgressEvent{Stage: stage, Key: t.Key.String(), Outcome: outcome, RunID: r.sum.RunID}
		if failure != nil {
			ev.Message = failure.Reason
		}
		r.opts.OnProgress(ev)
	}
}

func (r *runner) observeCandidates(cands []types.CandidateRecord) {
	if r.opts.Metrics == nil {
		return
	}
	counts := map[string]int{}
	for _, a := range r.opts.Adapters {
		counts[a.Name()] = 0
	}
	for _, c := range cands {
		counts[c.Provider]++
	}
	for name, n := range counts {
		r.opts.Metrics.Candidates.WithLabelValues(name).Set(float64(n))
	}
}

func (r *runner) finishMetrics(ctx context.Context, runErr error) {
	m := r.opts.Metrics
	if m == nil {
		return
	}
	m.RunDuration.Set(r.sum.Duration.Seconds())
	if runErr == nil {
		m.LastSuccess.SetToCurrentTime()
	}
	pctx, cancel := r.detached(ctx)
	defer cancel()
	if err := m.Push(pctx, r.opts.PushGateway, r.opts.PushJob); err != nil {
		r.log.WithError(err).Warn("metrics push failed")
	}
}

// abortStaged returns every staged lease to pending.
func (r *runner) abortStaged(ctx context.Context, reason string) {
	r.mu.Lock()
	staged := r.staged
	r.staged = nil
	r.mu.Unlock()

	for _, st := range staged {
		r.abortLease(ctx, st.task, st.lease, reason, false)
	}
}

// abortLease aborts a lease with a detached context. A failing write is
// logged only; the lease TTL eventually frees the key.
func (r *runner) abortLease(ctx context.Context, t *types.FetchTask, lease *manifest.Lease, reason string, terminal bool) {
	actx, cancel := r.detached(ctx)
	defer cancel()
	err := lease.Abort(actx, reason, terminal)
	switch {
	case err == nil, errors.Is(err, manifest.ErrLeaseClosed):
	case errors.Is(err, manifest.ErrAlreadyInProgress):
		r.log.WithKey(t.Key.String()).Warn("lease lost, abort not recorded")
	default:
		r.log.WithKey(t.Key.String()).WithError(err).Error("failed to record abort")
		if manifest.IsUnavailable(err) {
			r.fail(err)
		}
	}
}

func sortStaged(staged []*stagedTask) {
	sort.Slice(staged, func(i, j int) bool { return staged[i].task.Key.Less(staged[j].task.Key) })
}
