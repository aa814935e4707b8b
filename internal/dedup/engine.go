// Package dedup decides which fetched artifacts are duplicates of content
// already archived. Decisions depend only on manifest keys and content,
// never on the order in which downloads finished.
package dedup

import (
	"fmt"
	"sort"

	"github.com/jonathan/wallpaper-archiver/internal/types"
)

// Strategy selects how duplicates are detected.
type Strategy string

// Strategies
const (
	StrategyIdentity   Strategy = "identity"
	StrategyContent    Strategy = "content"
	StrategyPerceptual Strategy = "perceptual"
)

// Policy selects what happens to a duplicate.
type Policy string

// Policies
const (
	// PolicyKeep archives the duplicate anyway and records the relationship
	PolicyKeep Policy = "keep"
	// PolicySkip discards the duplicate's bytes
	PolicySkip Policy = "skip"
)

// DefaultThreshold is the maximum Hamming distance treated as similar.
const DefaultThreshold = 5

// Options configures an Engine.
type Options struct {
	Strategy  Strategy
	Policy    Policy
	Threshold int
	Algorithm HashAlgorithm
	Digest    DigestAlgorithm
}

// Engine fingerprints files and makes duplicate decisions.
type Engine struct {
	opts Options
}

// New validates opts and creates an Engine.
func New(opts Options) (*Engine, error) {
	if opts.Strategy == "" {
		opts.Strategy = StrategyContent
	}
	if opts.Policy == "" {
		opts.Policy = PolicyKeep
	}
	if opts.Threshold <= 0 {
		opts.Threshold = DefaultThreshold
	}
	if opts.Algorithm == "" {
		opts.Algorithm = HashPHash
	}
	if opts.Digest == "" {
		opts.Digest = DigestSHA256
	}

	switch opts.Strategy {
	case StrategyIdentity, StrategyContent, StrategyPerceptual:
	default:
		return nil, fmt.Errorf("unknown dedup strategy %q", opts.Strategy)
	}
	switch opts.Policy {
	case PolicyKeep, PolicySkip:
	default:
		return nil, fmt.Errorf("unknown dedup policy %q", opts.Policy)
	}
	switch opts.Algorithm {
	case HashPHash, HashDHash, HashAHash:
	default:
		return nil, fmt.Errorf("unknown perceptual hash %q", opts.Algorithm)
	}
	switch opts.Digest {
	case DigestSHA256, DigestBLAKE2b:
	default:
		return nil, fmt.Errorf("unknown digest %q", opts.Digest)
	}
	return &Engine{opts: opts}, nil
}

// Options returns the effective options.
func (e *Engine) Options() Options {
	return e.opts
}

// Perceptual reports whether fingerprints include a perceptual hash.
func (e *Engine) Perceptual() bool {
	return e.opts.Strategy == StrategyPerceptual
}

// Fingerprint is what the engine compares.
type Fingerprint struct {
	Digest string
	PHash  string
}

// Fingerprint hashes the file at path. The perceptual hash is computed only
// under the perceptual strategy since it decodes the whole image.
func (e *Engine) Fingerprint(path string) (Fingerprint, error) {
	d, err := FileDigest(path, e.opts.Digest)
	if err != nil {
		return Fingerprint{}, err
	}
	fp := Fingerprint{Digest: d}
	if e.Perceptual() {
		ph, err := PerceptualHash(path, e.opts.Algorithm)
		if err != nil {
			return Fingerprint{}, err
		}
		fp.PHash = ph
	}
	return fp, nil
}

// Item is one freshly fetched artifact awaiting a decision.
type Item struct {
	Key         types.ManifestKey
	Fingerprint Fingerprint
}

// Decision is the verdict for one Item.
type Decision struct {
	Key       types.ManifestKey
	Duplicate bool
	// Of is the retained artifact this item duplicates.
	Of types.ManifestKey
	// OfPath is the file of the retained artifact when it was already archived.
	OfPath string
	// Keep reports whether the item's bytes should be archived.
	Keep bool
}

// digestKey scopes digests to one tier: the tiers of one image are distinct
// artifacts, never duplicates of each other.
type digestKey struct {
	res    types.Resolution
	digest string
}

type root struct {
	key  types.ManifestKey
	path string
	fp   Fingerprint
}

// Decide returns one decision per batch item, ordered by manifest key.
// Items are evaluated in key order against the existing complete entries
// and against earlier non-duplicate items of the same batch, so the result
// is the same for any permutation of batch.
func (e *Engine) Decide(existing []types.ManifestEntry, batch []Item) []Decision {
	items := append([]Item(nil), batch...)
	sort.SliceStable(items, func(i, j int) bool { return items[i].Key.Less(items[j].Key) })

	roots := make([]root, 0, len(existing))
	for _, ent := range existing {
		if ent.Status != types.StatusComplete || ent.DuplicateOf != "" {
			continue
		}
		roots = append(roots, root{
			key:  ent.Key,
			path: ent.FilePath,
			fp:   Fingerprint{Digest: ent.ContentDigest, PHash: ent.PHash},
		})
	}
	sort.SliceStable(roots, func(i, j int) bool { return roots[i].key.Less(roots[j].key) })
	byDigest := make(map[digestKey]int, len(roots))
	for i, r := range roots {
		if r.fp.Digest == "" {
			continue
		}
		dk := digestKey{r.key.Resolution, r.fp.Digest}
		if _, ok := byDigest[dk]; !ok {
			byDigest[dk] = i
		}
	}

	decisions := make([]Decision, 0, len(items))
	for _, it := range items {
		d := Decision{Key: it.Key, Keep: true}
		if idx, ok := e.match(it, roots, byDigest); ok {
			d.Duplicate = true
			d.Of = roots[idx].key
			d.OfPath = roots[idx].path
			d.Keep = e.opts.Policy == PolicyKeep
		} else {
			roots = append(roots, root{key: it.Key, fp: it.Fingerprint})
			if it.Fingerprint.Digest != "" {
				dk := digestKey{it.Key.Resolution, it.Fingerprint.Digest}
				if _, seen := byDigest[dk]; !seen {
					byDigest[dk] = len(roots) - 1
				}
			}
		}
		decisions = append(decisions, d)
	}
	return decisions
}

func (e *Engine) match(it Item, roots []root, byDigest map[digestKey]int) (int, bool) {
	dk := digestKey{it.Key.Resolution, it.Fingerprint.Digest}
	switch e.opts.Strategy {
	case StrategyContent:
		if idx, ok := byDigest[dk]; ok && roots[idx].key != it.Key {
			return idx, true
		}
	case StrategyPerceptual:
		if idx, ok := byDigest[dk]; ok && roots[idx].key != it.Key {
			return idx, true
		}
		for i, r := range roots {
			if r.key == it.Key || r.key.Resolution != it.Key.Resolution {
				continue
			}
			if Similar(it.Fingerprint.PHash, r.fp.PHash, e.opts.Threshold) {
				return i, true
			}
		}
	}
	return 0, false
}
