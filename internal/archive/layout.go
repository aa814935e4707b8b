// Package archive places fetched files into the canonical tree and creates
// the category mirrors that point at them.
package archive

import (
	"net/url"
	"path"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/jonathan/wallpaper-archiver/internal/types"
)

// StagingDir is the directory under the root that holds in-flight downloads.
const StagingDir = ".staging"

var extPattern = regexp.MustCompile(`^\.\w{2,5}$`)

// Layout computes archive paths under Root.
type Layout struct {
	Root string
}

// Canonical returns the canonical path of a candidate at a tier.
//
//	daily/archive: <root>/<res>/<YYYY>/<MM>/<slug>.<res><ext>
//	popular:       <root>/popular/<provider>/<res>/<slug><ext>
func (l Layout) Canonical(c *types.CandidateRecord, res types.Resolution, ext string) string {
	ext = normalizeExt(ext)
	if c.Kind == types.KindPopular {
		return filepath.Join(l.Root, "popular", c.Provider, string(res), c.Slug()+ext)
	}
	year, month := yearMonth(c)
	return filepath.Join(l.Root, string(res), year, month, c.Slug()+"."+string(res)+ext)
}

// Mirror returns the category mirror path: <root>/<res>/<category>/<slug>.<res><ext>.
func (l Layout) Mirror(c *types.CandidateRecord, res types.Resolution, category, ext string) string {
	ext = normalizeExt(ext)
	category = types.SafeFilename(category)
	if category == "" {
		category = "other"
	}
	return filepath.Join(l.Root, string(res), category, c.Slug()+"."+string(res)+ext)
}

// Staging returns the stable staging path for a key, so an interrupted
// download is found again by the next run.
func (l Layout) Staging(key types.ManifestKey, ext string) string {
	name := types.SafeFilename(strings.NewReplacer(":", "_", " ", "_").Replace(key.String()))
	return filepath.Join(l.Root, StagingDir, name+normalizeExt(ext))
}

// ObjectKey returns the slash-separated path of p relative to the root.
func (l Layout) ObjectKey(p string) string {
	rel, err := filepath.Rel(l.Root, p)
	if err != nil {
		return filepath.ToSlash(filepath.Base(p))
	}
	return filepath.ToSlash(rel)
}

// ExtFromURL returns the lower-case file extension of a URL path, or ".jpg".
func ExtFromURL(raw string) string {
	p := raw
	if u, err := url.Parse(raw); err == nil {
		p = u.Path
		// bing serves images as /th?id=OHR.Name_UHD.jpg
		if id := u.Query().Get("id"); id != "" && path.Ext(id) != "" {
			p = id
		}
	}
	return normalizeExt(path.Ext(p))
}

func normalizeExt(ext string) string {
	ext = strings.ToLower(ext)
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	if ext == ".jpeg" {
		return ".jpg"
	}
	if !extPattern.MatchString(ext) {
		return ".jpg"
	}
	return ext
}

func yearMonth(c *types.CandidateRecord) (string, string) {
	stamp := c.DateStamp()
	if len(stamp) >= 6 {
		return stamp[:4], stamp[4:6]
	}
	return "unknown", "unknown"
}
