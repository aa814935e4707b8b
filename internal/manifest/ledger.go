package manifest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonathan/wallpaper-archiver/internal/types"
)

// DefaultLeaseTTL bounds how long a crashed holder can block a key. Live
// holders renew their lease well before it runs out.
const DefaultLeaseTTL = 10 * time.Minute

// Options configures a Ledger.
type Options struct {
	Locker   Locker
	LeaseTTL time.Duration
	RunID    string
}

// Ledger is the manifest store: lookups, guarded begin/commit/abort and the
// reconcile pass, on top of a Backend and a Locker.
type Ledger struct {
	backend  Backend
	locker   Locker
	leaseTTL time.Duration
	runID    string
	now      func() time.Time
	exists   func(path string) (bool, error)
}

// NewLedger creates a ledger. A nil Locker means an in-process KeyLocker.
func NewLedger(backend Backend, opts Options) *Ledger {
	if opts.Locker == nil {
		opts.Locker = NewKeyLocker()
	}
	if opts.LeaseTTL <= 0 {
		opts.LeaseTTL = DefaultLeaseTTL
	}
	return &Ledger{
		backend:  backend,
		locker:   opts.Locker,
		leaseTTL: opts.LeaseTTL,
		runID:    opts.RunID,
		now:      time.Now,
		exists:   fileExists,
	}
}

// Close closes the backend.
func (l *Ledger) Close() error {
	return l.backend.Close()
}

// RunID returns the run id stamped on entries written by this ledger.
func (l *Ledger) RunID() string {
	return l.runID
}

// Lookup returns the entry for key, or nil if absent.
func (l *Ledger) Lookup(ctx context.Context, key types.ManifestKey) (*types.ManifestEntry, error) {
	e, err := l.backend.Get(ctx, key)
	if err != nil {
		return nil, unavailable("lookup", err)
	}
	return e, nil
}

// Entries lists entries by status; an empty status lists everything.
func (l *Ledger) Entries(ctx context.Context, status types.ManifestStatus) ([]types.ManifestEntry, error) {
	entries, err := l.backend.ListByStatus(ctx, status)
	if err != nil {
		return nil, unavailable("list", err)
	}
	return entries, nil
}

// Complete lists all complete entries.
func (l *Ledger) Complete(ctx context.Context) ([]types.ManifestEntry, error) {
	return l.Entries(ctx, types.StatusComplete)
}

// FileExists reports whether a complete entry's file is present on disk.
func (l *Ledger) FileExists(e *types.ManifestEntry) bool {
	if e == nil || e.FilePath == "" {
		return false
	}
	ok, err := l.exists(e.FilePath)
	return err == nil && ok
}

// Begin takes the lease on key. It returns ErrAlreadyInProgress when another
// worker holds it. A key that is not complete is written back as pending so
// a crash before Commit is recoverable; a complete entry is left untouched
// and exposed through Lease.Prior for the caller to decide. The lease is
// renewed in the background until it is closed.
func (l *Ledger) Begin(ctx context.Context, key types.ManifestKey) (*Lease, error) {
	guard, ok, err := l.locker.TryAcquire(ctx, key.String(), l.leaseTTL)
	if err != nil {
		return nil, unavailable("lock", err)
	}
	if !ok {
		return nil, ErrAlreadyInProgress
	}

	prior, err := l.backend.Get(ctx, key)
	if err != nil {
		guard.Release()
		return nil, unavailable("begin", err)
	}

	working := types.ManifestEntry{Key: key}
	if prior != nil {
		working = *prior
	}
	working.Attempts = 0
	working.RunID = l.runID

	if !prior.IsComplete() {
		working.Status = types.StatusPending
		working.UpdatedAt = l.now().UTC()
		if err := l.backend.Upsert(ctx, &working); err != nil {
			guard.Release()
			return nil, unavailable("begin", err)
		}
	}

	ls := &Lease{ledger: l, key: key, prior: prior, entry: working, guard: guard, stop: make(chan struct{})}
	go ls.keepAlive(l.leaseTTL)
	return ls, nil
}

// Reconcile demotes complete entries whose file is missing to pending.
// Keys currently leased by another worker are skipped. It is idempotent.
func (l *Ledger) Reconcile(ctx context.Context) (int, error) {
	entries, err := l.backend.ListByStatus(ctx, types.StatusComplete)
	if err != nil {
		return 0, unavailable("reconcile", err)
	}

	demoted := 0
	for i := range entries {
		if err := ctx.Err(); err != nil {
			return demoted, err
		}
		e := entries[i]
		present, err := l.exists(e.FilePath)
		if err != nil {
			return demoted, fmt.Errorf("failed to stat %s: %w", e.FilePath, err)
		}
		if present {
			continue
		}

		guard, ok, err := l.locker.TryAcquire(ctx, e.Key.String(), l.leaseTTL)
		if err != nil {
			return demoted, unavailable("lock", err)
		}
		if !ok {
			continue
		}
		e.Status = types.StatusPending
		e.LastError = "file missing on disk"
		e.UpdatedAt = l.now().UTC()
		err = l.backend.Upsert(ctx, &e)
		guard.Release()
		if err != nil {
			return demoted, unavailable("reconcile", err)
		}
		demoted++
	}
	return demoted, nil
}

// Completion carries the facts recorded when a key completes.
type Completion struct {
	ContentDigest string
	FilePath      string
	ETag          string
	LastModified  string
	SourceURL     string
	Size          int64
	Width         int
	Height        int
	PHash         string
	// DuplicateOf is the key string of the retained artifact when this key
	// was settled as a duplicate.
	DuplicateOf string
}

// Lease is the exclusive right to mutate one key until Commit, Abort or
// Release. If renewal fails and the lease expires, Commit and Abort refuse
// to write and return ErrLeaseLost.
type Lease struct {
	ledger *Ledger
	key    types.ManifestKey
	prior  *types.ManifestEntry
	guard  Guard
	stop   chan struct{}
	lost   atomic.Bool

	mu     sync.Mutex
	entry  types.ManifestEntry
	closed bool
}

// keepAlive renews the lease at a third of its ttl until the lease closes
// or the claim is found expired. Renewal errors are retried on the next tick.
func (ls *Lease) keepAlive(ttl time.Duration) {
	interval := ttl / 3
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ls.stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), interval)
			ok, err := ls.guard.Refresh(ctx, ttl)
			cancel()
			if err == nil && !ok {
				ls.lost.Store(true)
				return
			}
		}
	}
}

// ownedLocked confirms the claim is still held before a write.
func (ls *Lease) ownedLocked(ctx context.Context) error {
	if ls.lost.Load() {
		return ErrLeaseLost
	}
	ok, err := ls.guard.Refresh(ctx, ls.ledger.leaseTTL)
	if err != nil {
		return unavailable("lease", err)
	}
	if !ok {
		ls.lost.Store(true)
		return ErrLeaseLost
	}
	return nil
}

// Check reports ErrLeaseLost when the lease can no longer be trusted, so
// callers can stop before side effects that Commit would not cover.
func (ls *Lease) Check(ctx context.Context) error {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	if ls.closed {
		return ErrLeaseClosed
	}
	return ls.ownedLocked(ctx)
}

// Key returns the leased key.
func (ls *Lease) Key() types.ManifestKey {
	return ls.key
}

// Prior returns the entry as it was before Begin, or nil if the key was new.
func (ls *Lease) Prior() *types.ManifestEntry {
	return ls.prior
}

// AddAttempts adds n network attempts to the entry.
func (ls *Lease) AddAttempts(n int) {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	ls.entry.Attempts += n
}

// Attempts returns the attempts recorded so far under this lease.
func (ls *Lease) Attempts() int {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	return ls.entry.Attempts
}

// Commit marks the key complete. The file at c.FilePath must already exist.
func (ls *Lease) Commit(ctx context.Context, c Completion) error {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	if ls.closed {
		return ErrLeaseClosed
	}

	if c.FilePath == "" {
		return &CommitError{Key: ls.key.String(), Message: "empty file path"}
	}
	present, err := ls.ledger.exists(c.FilePath)
	if err != nil || !present {
		return &CommitError{Key: ls.key.String(), Message: "file not on disk: " + c.FilePath, Cause: err}
	}
	if err := ls.ownedLocked(ctx); err != nil {
		if errors.Is(err, ErrLeaseLost) {
			ls.closeLocked()
		}
		return err
	}

	e := ls.entry
	e.Status = types.StatusComplete
	e.ContentDigest = c.ContentDigest
	e.FilePath = c.FilePath
	e.ETag = c.ETag
	e.LastModified = c.LastModified
	e.SourceURL = c.SourceURL
	e.Size = c.Size
	e.Width = c.Width
	e.Height = c.Height
	e.PHash = c.PHash
	e.DuplicateOf = c.DuplicateOf
	e.LastError = ""
	e.UpdatedAt = ls.ledger.now().UTC()

	if err := ls.ledger.backend.Upsert(ctx, &e); err != nil {
		return unavailable("commit", err)
	}
	ls.entry = e
	ls.closeLocked()
	return nil
}

// Abort records a failure. Terminal failures are stored as failed, others
// return the key to pending. A key that was complete before Begin keeps its
// complete status.
func (ls *Lease) Abort(ctx context.Context, reason string, terminal bool) error {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	if ls.closed {
		return ErrLeaseClosed
	}
	defer ls.closeLocked()
	if err := ls.ownedLocked(ctx); err != nil {
		return err
	}

	e := ls.entry
	if !ls.prior.IsComplete() {
		e.Status = types.StatusPending
		if terminal {
			e.Status = types.StatusFailed
		}
	}
	e.LastError = reason
	e.UpdatedAt = ls.ledger.now().UTC()

	if err := ls.ledger.backend.Upsert(ctx, &e); err != nil {
		return unavailable("abort", err)
	}
	ls.entry = e
	return nil
}

// Release gives up the lease without writing anything.
func (ls *Lease) Release() {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	ls.closeLocked()
}

// Closed reports whether the lease has been committed, aborted or released.
func (ls *Lease) Closed() bool {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	return ls.closed
}

func (ls *Lease) closeLocked() {
	if ls.closed {
		return
	}
	ls.closed = true
	close(ls.stop)
	ls.guard.Release()
}

func fileExists(path string) (bool, error) {
	if path == "" {
		return false, nil
	}
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, err
}
