package archive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"syscall"

	"github.com/jonathan/wallpaper-archiver/internal/logging"
	"github.com/jonathan/wallpaper-archiver/internal/types"
)

// LinkFunc creates newname as a hard link to oldname.
type LinkFunc func(oldname, newname string) error

// Replica receives a copy of every canonical file.
type Replica interface {
	Put(ctx context.Context, objectKey, path string) error
}

// Options configures an Archiver.
type Options struct {
	Link    LinkFunc
	Replica Replica
	Logger  *logging.Logger
}

// Archiver is the only writer of the canonical tree and its mirrors.
type Archiver struct {
	layout  Layout
	link    LinkFunc
	replica Replica
	log     *logging.Logger
}

// New creates an Archiver rooted at layout.Root.
func New(layout Layout, opts Options) *Archiver {
	if opts.Link == nil {
		opts.Link = os.Link
	}
	if opts.Logger == nil {
		opts.Logger = logging.Nop()
	}
	return &Archiver{layout: layout, link: opts.Link, replica: opts.Replica, log: opts.Logger}
}

// Layout returns the path layout.
func (a *Archiver) Layout() Layout {
	return a.layout
}

// Request describes one file to archive.
type Request struct {
	Key        types.ManifestKey
	Candidate  *types.CandidateRecord
	Resolution types.Resolution
	Category   string
	Ext        string
	Staged     string
	Digest     string
}

// Archive places the staged file at its canonical path, then creates the
// category mirror and the optional replica. Mirror and replica failures are
// logged and reported on the artifact; only placement errors are returned.
func (a *Archiver) Archive(ctx context.Context, req Request) (*types.ArchivedArtifact, error) {
	canonical := a.layout.Canonical(req.Candidate, req.Resolution, req.Ext)
	if err := a.Place(req.Staged, canonical); err != nil {
		return nil, err
	}

	st, err := os.Stat(canonical)
	if err != nil {
		return nil, &PlaceError{Path: canonical, Cause: err}
	}
	art := &types.ArchivedArtifact{
		Key:           req.Key,
		CanonicalPath: canonical,
		Digest:        req.Digest,
		Size:          st.Size(),
	}

	if req.Category != "" {
		mirror := a.layout.Mirror(req.Candidate, req.Resolution, req.Category, req.Ext)
		if mirror != canonical {
			if _, err := a.Mirror(canonical, mirror); err != nil {
				a.log.WithKey(req.Key.String()).WithError(err).Warn("category mirror failed")
			} else {
				art.Mirrors = append(art.Mirrors, mirror)
			}
		}
	}

	if a.replica != nil {
		if err := a.replica.Put(ctx, a.layout.ObjectKey(canonical), canonical); err != nil {
			a.log.WithKey(req.Key.String()).WithError(err).Warn("replica upload failed")
		} else {
			art.Replicated = true
		}
	}
	return art, nil
}

// Place durably moves staged to canonical. The rename is atomic, so a reader
// sees either the old file or the complete new one; across devices the bytes
// are copied to a temp file in the target directory first.
func (a *Archiver) Place(staged, canonical string) error {
	dir := filepath.Dir(canonical)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return &PlaceError{Path: canonical, Cause: err}
	}

	if err := os.Rename(staged, canonical); err != nil {
		if !errors.Is(err, syscall.EXDEV) {
			return &PlaceError{Path: canonical, Cause: err}
		}
		if err := copyDurable(staged, canonical); err != nil {
			return &PlaceError{Path: canonical, Cause: err}
		}
		_ = os.Remove(staged)
	}
	if err := fsyncDir(dir); err != nil {
		return &PlaceError{Path: canonical, Cause: err}
	}
	return nil
}

// Mirror makes mirror refer to canonical, by hard link when possible and by
// copy otherwise. It reports whether a link was made. The mirror is never
// created when canonical does not exist.
func (a *Archiver) Mirror(canonical, mirror string) (bool, error) {
	if _, err := os.Stat(canonical); err != nil {
		return false, fmt.Errorf("mirror source missing: %w", err)
	}
	dir := filepath.Dir(mirror)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return false, err
	}

	tmp := mirror + ".tmp-link"
	_ = os.Remove(tmp)
	err := a.link(canonical, tmp)
	if err == nil {
		if err := os.Rename(tmp, mirror); err != nil {
			_ = os.Remove(tmp)
			return false, err
		}
		return true, fsyncDir(dir)
	}

	le := &LinkError{Old: canonical, New: mirror, Unsupported: linkUnsupported(err), Cause: err}
	a.log.Debug("hard link failed, copying", "mirror", mirror, "unsupported", le.Unsupported, "error", le.Error())
	if err := copyDurable(canonical, mirror); err != nil {
		return false, fmt.Errorf("copy fallback after %v: %w", le, err)
	}
	return false, nil
}

// copyDurable copies src to dst through a synced temp file and a rename.
func copyDurable(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()

	dir := filepath.Dir(dst)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(dst)+".tmp.*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		_ = tmp.Close()
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := io.Copy(tmp, in); err != nil {
		return err
	}
	if err := tmp.Chmod(0o644); err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, dst); err != nil {
		return err
	}
	committed = true
	return fsyncDir(dir)
}

func fsyncDir(dir string) error {
	f, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()
	return f.Sync()
}
