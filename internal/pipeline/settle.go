package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/jonathan/wallpaper-archiver/internal/archive"
	"github.com/jonathan/wallpaper-archiver/internal/dedup"
	"github.com/jonathan/wallpaper-archiver/internal/manifest"
	"github.com/jonathan/wallpaper-archiver/internal/metrics"
	"github.com/jonathan/wallpaper-archiver/internal/types"
)

// settle decides duplicates for everything staged in this run and then
// archives and commits in manifest key order, so the outcome does not
// depend on the order in which fetches finished.
func (r *runner) settle(ctx context.Context) error {
	r.mu.Lock()
	staged := r.staged
	r.staged = nil
	r.mu.Unlock()
	if len(staged) == 0 {
		return nil
	}
	sortStaged(staged)

	existing, err := r.opts.Ledger.Complete(ctx)
	if err != nil {
		for _, st := range staged {
			r.abortLease(ctx, st.task, st.lease, "settle: "+err.Error(), false)
		}
		r.fail(err)
		return err
	}

	items := make([]dedup.Item, len(staged))
	byKey := make(map[types.ManifestKey]*stagedTask, len(staged))
	for i, st := range staged {
		items[i] = dedup.Item{Key: st.task.Key, Fingerprint: st.fp}
		byKey[st.task.Key] = st
	}
	decisions := r.opts.Dedup.Decide(existing, items)

	placed := make(map[types.ManifestKey]string, len(decisions))
	for _, d := range decisions {
		st := byKey[d.Key]
		if r.fatal != nil || ctx.Err() != nil {
			reason := "run cancelled before settle"
			if r.fatal != nil {
				reason = "run stopped: " + r.fatal.Error()
			}
			r.abortLease(ctx, st.task, st.lease, reason, false)
			continue
		}
		if path, ok := r.settleOne(ctx, st, d, placed); ok {
			placed[d.Key] = path
		}
	}

	if r.fatal != nil {
		return r.fatal
	}
	return ctx.Err()
}

// settleOne archives or skips one staged file and commits its key. It
// returns the canonical path when a file was placed.
func (r *runner) settleOne(ctx context.Context, st *stagedTask, d dedup.Decision, placed map[types.ManifestKey]string) (string, bool) {
	t := st.task
	log := r.log.WithKey(t.Key.String())

	duplicateOf := ""
	if d.Duplicate {
		duplicateOf = d.Of.String()
		ofPath := d.OfPath
		if ofPath == "" {
			ofPath = placed[d.Of]
		}
		// Under skip the kept file stands in for this key. When the kept file
		// was never placed the item is archived after all.
		if !d.Keep && ofPath != "" {
			err := st.lease.Commit(ctx, r.completion(st, ofPath, duplicateOf))
			if err != nil {
				r.settleFailed(ctx, st, err)
				return "", false
			}
			_ = os.Remove(st.path)
			log.Info("duplicate skipped", "of", duplicateOf)
			r.record(StageSettle, t, metrics.OutcomeDuplicate, nil)
			return "", false
		}
	}

	req := archive.Request{
		Key:        t.Key,
		Candidate:  t.Candidate,
		Resolution: t.Resolution,
		Ext:        filepath.Ext(st.path),
		Staged:     st.path,
		Digest:     st.fp.Digest,
	}
	if r.opts.CategoryMirrors {
		req.Category = r.opts.Classifier.Classify(t.Candidate.Title, classifyText(t.Candidate))
	}
	if err := st.lease.Check(ctx); err != nil {
		r.settleFailed(ctx, st, err)
		return "", false
	}
	art, err := r.opts.Archiver.Archive(ctx, req)
	if err != nil {
		r.settleFailed(ctx, st, err)
		return "", false
	}

	if err := st.lease.Commit(ctx, r.completion(st, art.CanonicalPath, duplicateOf)); err != nil {
		r.settleFailed(ctx, st, err)
		return "", false
	}
	if r.opts.Metrics != nil && !st.generated {
		r.opts.Metrics.BytesDownloaded.Add(float64(st.size))
	}

	outcome := metrics.OutcomeArchived
	if st.generated {
		outcome = metrics.OutcomeGenerated
	}
	if d.Duplicate {
		r.mu.Lock()
		r.sum.Duplicates++
		r.mu.Unlock()
	}
	log.Info("archived", "path", art.CanonicalPath, "generated", st.generated, "mirrors", len(art.Mirrors), "duplicate_of", duplicateOf)
	r.record(StageSettle, t, outcome, nil)
	return art.CanonicalPath, true
}

func (r *runner) completion(st *stagedTask, path, duplicateOf string) manifest.Completion {
	return manifest.Completion{
		ContentDigest: st.fp.Digest,
		FilePath:      path,
		ETag:          st.etag,
		LastModified:  st.lastMod,
		SourceURL:     st.sourceURL,
		Size:          st.size,
		Width:         st.width,
		Height:        st.height,
		PHash:         st.fp.PHash,
		DuplicateOf:   duplicateOf,
	}
}

// settleFailed returns the key to pending; the staged bytes stay for the
// next run unless they were already moved. A lost lease leaves the key to
// its new holder.
func (r *runner) settleFailed(ctx context.Context, st *stagedTask, err error) {
	if manifest.IsUnavailable(err) {
		r.fail(err)
	}
	t := st.task
	if errors.Is(err, manifest.ErrAlreadyInProgress) {
		st.lease.Release()
		r.log.WithKey(t.Key.String()).Warn("lease lost before settle, leaving key to its holder")
		r.record(StageSettle, t, metrics.OutcomeConflict, nil)
		return
	}
	r.abortLease(ctx, t, st.lease, err.Error(), false)
	r.log.WithKey(t.Key.String()).WithError(err).Warn("settle failed")
	r.record(StageSettle, t, metrics.OutcomeFailed, &TaskFailure{
		Key:    t.Key.String(),
		Reason: err.Error(),
	})
}

// classifyText is the attribution plus any description, which carries most
// of the subject words for the daily feed.
func classifyText(c *types.CandidateRecord) string {
	return strings.TrimSpace(c.Attribution + " " + c.Meta["description"])
}
