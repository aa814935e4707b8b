package dedup

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"

	"github.com/corona10/goimagehash"
	"golang.org/x/crypto/blake2b"

	"github.com/jonathan/wallpaper-archiver/internal/resolve"
)

// DigestAlgorithm names a cryptographic content digest.
type DigestAlgorithm string

// Digest algorithms
const (
	DigestSHA256  DigestAlgorithm = "sha256"
	DigestBLAKE2b DigestAlgorithm = "blake2b"
)

// HashAlgorithm names a perceptual hash.
type HashAlgorithm string

// Perceptual hash algorithms
const (
	HashPHash HashAlgorithm = "phash"
	HashDHash HashAlgorithm = "dhash"
	HashAHash HashAlgorithm = "ahash"
)

// FileDigest returns "<algo>:<hex>" for the file at path.
func FileDigest(path string, algo DigestAlgorithm) (string, error) {
	var h hash.Hash
	switch algo {
	case DigestSHA256, "":
		algo = DigestSHA256
		h = sha256.New()
	case DigestBLAKE2b:
		var err error
		h, err = blake2b.New256(nil)
		if err != nil {
			return "", err
		}
	default:
		return "", fmt.Errorf("unknown digest %q", algo)
	}

	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer func() { _ = f.Close() }()

	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("failed to hash %s: %w", path, err)
	}
	return string(algo) + ":" + hex.EncodeToString(h.Sum(nil)), nil
}

// PerceptualHash decodes the image at path and returns its hash in the
// goimagehash string form ("p:...", "d:...", "a:...").
func PerceptualHash(path string, algo HashAlgorithm) (string, error) {
	img, _, err := resolve.Decode(path)
	if err != nil {
		return "", err
	}

	var h *goimagehash.ImageHash
	switch algo {
	case HashPHash, "":
		h, err = goimagehash.PerceptionHash(img)
	case HashDHash:
		h, err = goimagehash.DifferenceHash(img)
	case HashAHash:
		h, err = goimagehash.AverageHash(img)
	default:
		return "", fmt.Errorf("unknown perceptual hash %q", algo)
	}
	if err != nil {
		return "", fmt.Errorf("failed to hash %s: %w", path, err)
	}
	return h.ToString(), nil
}

// Distance returns the Hamming distance between two encoded hashes.
func Distance(a, b string) (int, error) {
	ha, err := goimagehash.ImageHashFromString(a)
	if err != nil {
		return 0, err
	}
	hb, err := goimagehash.ImageHashFromString(b)
	if err != nil {
		return 0, err
	}
	return ha.Distance(hb)
}

// Similar reports whether two encoded hashes are within threshold. Empty or
// incomparable hashes are never similar.
func Similar(a, b string, threshold int) bool {
	if a == "" || b == "" {
		return false
	}
	d, err := Distance(a, b)
	return err == nil && d <= threshold
}
