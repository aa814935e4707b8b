package resolve

import (
	"image"
	"image/color"
	"image/jpeg"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/wallpaper-archiver/internal/types"
)

func writeJPEG(t *testing.T, dir string, w, h int) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y += 7 {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 90, A: 255})
		}
	}
	p := filepath.Join(dir, "src.jpg")
	f, err := os.Create(p)
	require.NoError(t, err)
	require.NoError(t, jpeg.Encode(f, img, nil))
	require.NoError(t, f.Close())
	return p
}

func TestFitWithin(t *testing.T) {
	w, h := FitWithin(3840, 2160, types.Res2K.Box())
	assert.Equal(t, 2560, w)
	assert.Equal(t, 1440, h)

	// taller than 16:9 is bounded by height
	w, h = FitWithin(4000, 3000, types.Res1K.Box())
	assert.Equal(t, 1440, w)
	assert.Equal(t, 1080, h)

	w, h = FitWithin(800, 600, types.Res1K.Box())
	assert.Equal(t, 800, w)
	assert.Equal(t, 600, h)
}

func TestDownsample(t *testing.T) {
	dir := t.TempDir()
	src := writeJPEG(t, dir, 400, 225)
	box := types.Box{Width: 160, Height: 120}

	res, err := Downsample(src, filepath.Join(dir, "out", "small.jpg"), box)
	require.NoError(t, err)
	assert.True(t, res.Resized)
	assert.Equal(t, 160, res.Width)
	assert.Equal(t, 90, res.Height)

	cfg, _, err := DecodeConfig(res.Path)
	require.NoError(t, err)
	assert.True(t, box.Fits(cfg.Width, cfg.Height))
}

func TestNormalizeToBox_FitsCopies(t *testing.T) {
	dir := t.TempDir()
	src := writeJPEG(t, dir, 100, 50)

	res, err := NormalizeToBox(src, filepath.Join(dir, "copy.jpg"), types.Box{Width: 200, Height: 200})
	require.NoError(t, err)
	assert.False(t, res.Resized)

	a, err := os.ReadFile(src)
	require.NoError(t, err)
	b, err := os.ReadFile(res.Path)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestNormalizeToBox_Oversized(t *testing.T) {
	dir := t.TempDir()
	src := writeJPEG(t, dir, 300, 300)

	res, err := NormalizeToBox(src, filepath.Join(dir, "n.jpg"), types.Box{Width: 160, Height: 90})
	require.NoError(t, err)
	assert.True(t, res.Resized)
	assert.Equal(t, 90, res.Width)
	assert.Equal(t, 90, res.Height)
}

func TestCropToBox(t *testing.T) {
	dir := t.TempDir()
	src := writeJPEG(t, dir, 300, 300)

	res, err := CropToBox(src, filepath.Join(dir, "c.png"), types.Box{Width: 160, Height: 90})
	require.NoError(t, err)

	cfg, format, err := DecodeConfig(res.Path)
	require.NoError(t, err)
	assert.Equal(t, "png", format)
	assert.Equal(t, 160, cfg.Width)
	assert.Equal(t, 90, cfg.Height)
}

func TestDecode_Corrupt(t *testing.T) {
	p := filepath.Join(t.TempDir(), "bad.jpg")
	require.NoError(t, os.WriteFile(p, []byte("not an image"), 0o644))

	_, _, err := Decode(p)
	assert.Error(t, err)
}
