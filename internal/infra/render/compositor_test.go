package render

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func solidImage(w, h int, c color.Color) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func decodePNG(t *testing.T, data []byte) image.Image {
	t.Helper()
	img, err := png.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	return img
}

func TestCompositor_Annotate(t *testing.T) {
	c := NewCompositor(DefaultConfig())
	blue := color.RGBA{B: 255, A: 255}
	base := encodePNG(t, solidImage(400, 300, blue))

	out, err := c.Annotate(base, "Meetstation De Bilt\nTemp: 12.5°C, Humidity: 81%")
	require.NoError(t, err)

	img := decodePNG(t, out)
	assert.Equal(t, image.Rect(0, 0, 400, 300), img.Bounds())

	// Top stays untouched and the bottom band is darkened.
	assert.Equal(t, blue, color.RGBAModel.Convert(img.At(10, 10)))
	r, g, b, _ := img.At(399, 299).RGBA()
	_, _, blueLevel, _ := color.RGBA{B: 255, A: 255}.RGBA()
	assert.Zero(t, r)
	assert.Zero(t, g)
	assert.Less(t, b, blueLevel)
}

func TestCompositor_Annotate_DownscalesWidePhotos(t *testing.T) {
	c := NewCompositor(Config{MaxWidth: 200})
	base := encodePNG(t, solidImage(800, 400, color.White))

	out, err := c.Annotate(base, "label")
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 200, 100), decodePNG(t, out).Bounds())
}

func TestCompositor_Annotate_JPEG(t *testing.T) {
	c := NewCompositor(DefaultConfig())
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, solidImage(64, 48, color.White), nil))

	out, err := c.Annotate(buf.Bytes(), "x")
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 64, 48), decodePNG(t, out).Bounds())
}

func TestCompositor_Annotate_EmptyLabel(t *testing.T) {
	c := NewCompositor(DefaultConfig())
	src := solidImage(32, 32, color.White)

	out, err := c.Annotate(encodePNG(t, src), "  ")
	require.NoError(t, err)
	assert.Equal(t, color.RGBA{R: 255, G: 255, B: 255, A: 255}, color.RGBAModel.Convert(decodePNG(t, out).At(31, 31)))
}

func TestCompositor_Annotate_InvalidImage(t *testing.T) {
	c := NewCompositor(DefaultConfig())
	_, err := c.Annotate([]byte("not an image"), "label")
	assert.Error(t, err)
}

func TestCompositor_Placeholder(t *testing.T) {
	c := NewCompositor(DefaultConfig())

	first := c.Placeholder()
	require.NotEmpty(t, first)
	assert.Equal(t, first, c.Placeholder())
	assert.Equal(t, first, NewCompositor(DefaultConfig()).Placeholder())

	img := decodePNG(t, first)
	assert.Equal(t, image.Rect(0, 0, 1024, 768), img.Bounds())
	assert.Equal(t, placeholderFill, color.RGBAModel.Convert(img.At(0, 0)))

	inked := false
	for x := 256; x < 768 && !inked; x++ {
		for y := 300; y < 468; y++ {
			if color.RGBAModel.Convert(img.At(x, y)) == placeholderInk {
				inked = true
				break
			}
		}
	}
	assert.True(t, inked, "placeholder should carry a caption")
}

func TestCompositor_PlaceholderIsAnnotatable(t *testing.T) {
	c := NewCompositor(DefaultConfig())
	out, err := c.Annotate(c.Placeholder(), "Station\nNo data")
	require.NoError(t, err)
	assert.NotEmpty(t, out)
}
