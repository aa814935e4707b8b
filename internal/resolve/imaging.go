package resolve

import (
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"strings"

	_ "image/gif"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"

	"github.com/jonathan/wallpaper-archiver/internal/types"
)

// JPEGQuality is the encoder quality for generated images.
const JPEGQuality = 92

// Decode reads and decodes an image file.
func Decode(path string) (image.Image, string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, "", err
	}
	defer func() { _ = f.Close() }()

	img, format, err := image.Decode(f)
	if err != nil {
		return nil, "", fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return img, format, nil
}

// DecodeConfig reads only the image header.
func DecodeConfig(path string) (image.Config, string, error) {
	f, err := os.Open(path)
	if err != nil {
		return image.Config{}, "", err
	}
	defer func() { _ = f.Close() }()
	return image.DecodeConfig(f)
}

// FitWithin returns the largest size with the aspect ratio of w x h that
// fits inside box. Sizes already inside the box are returned unchanged.
func FitWithin(w, h int, box types.Box) (int, int) {
	if w <= 0 || h <= 0 || box.Fits(w, h) {
		return w, h
	}
	scale := min(float64(box.Width)/float64(w), float64(box.Height)/float64(h))
	nw := max(1, int(float64(w)*scale+0.5))
	nh := max(1, int(float64(h)*scale+0.5))
	nw = min(nw, box.Width)
	nh = min(nh, box.Height)
	return nw, nh
}

// Result describes a generated image.
type Result struct {
	Path    string
	Width   int
	Height  int
	Resized bool
}

// Downsample writes src shrunk into box to dst, preserving aspect ratio.
func Downsample(src, dst string, box types.Box) (*Result, error) {
	img, _, err := Decode(src)
	if err != nil {
		return nil, err
	}
	b := img.Bounds()
	w, h := FitWithin(b.Dx(), b.Dy(), box)
	out := img
	if w != b.Dx() || h != b.Dy() {
		out = scale(img, w, h)
	}
	if err := Encode(dst, out); err != nil {
		return nil, err
	}
	return &Result{Path: dst, Width: w, Height: h, Resized: out != img}, nil
}

// NormalizeToBox is Downsample that copies src unchanged when it already
// fits the box.
func NormalizeToBox(src, dst string, box types.Box) (*Result, error) {
	cfg, _, err := DecodeConfig(src)
	if err != nil {
		return nil, fmt.Errorf("failed to read image header %s: %w", src, err)
	}
	if box.Fits(cfg.Width, cfg.Height) {
		if src != dst {
			if err := copyFile(src, dst); err != nil {
				return nil, err
			}
		}
		return &Result{Path: dst, Width: cfg.Width, Height: cfg.Height}, nil
	}
	return Downsample(src, dst, box)
}

// CropToBox scales src to cover box and center-crops it to exactly box.
func CropToBox(src, dst string, box types.Box) (*Result, error) {
	img, _, err := Decode(src)
	if err != nil {
		return nil, err
	}
	b := img.Bounds()
	if b.Dx() == box.Width && b.Dy() == box.Height {
		if err := Encode(dst, img); err != nil {
			return nil, err
		}
		return &Result{Path: dst, Width: box.Width, Height: box.Height}, nil
	}

	s := max(float64(box.Width)/float64(b.Dx()), float64(box.Height)/float64(b.Dy()))
	sw := max(box.Width, int(float64(b.Dx())*s+0.5))
	sh := max(box.Height, int(float64(b.Dy())*s+0.5))
	scaled := scale(img, sw, sh)

	x0 := (sw - box.Width) / 2
	y0 := (sh - box.Height) / 2
	cropped := image.NewRGBA(image.Rect(0, 0, box.Width, box.Height))
	draw.Draw(cropped, cropped.Bounds(), scaled, image.Pt(x0, y0), draw.Src)

	if err := Encode(dst, cropped); err != nil {
		return nil, err
	}
	return &Result{Path: dst, Width: box.Width, Height: box.Height, Resized: true}, nil
}

func scale(img image.Image, w, h int) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Over, nil)
	return dst
}

// Encode writes img to path; .png paths are PNG, everything else JPEG.
func Encode(path string, img image.Image) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}

	if strings.EqualFold(filepath.Ext(path), ".png") {
		err = png.Encode(f, img)
	} else {
		err = jpeg.Encode(f, img, &jpeg.Options{Quality: JPEGQuality})
	}
	if err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return fmt.Errorf("failed to encode %s: %w", path, err)
	}
	return f.Close()
}

func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	return os.WriteFile(dst, data, 0o644)
}
