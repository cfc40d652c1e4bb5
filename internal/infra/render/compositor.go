// Package render draws station labels onto photos and synthesizes the
// placeholder image used when no photo is available.
package render

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg"
	"image/png"
	"strings"
	"sync"

	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
	_ "golang.org/x/image/webp"

	"github.com/ahrav/stationsnap/internal/domain/jobs"
)

var (
	placeholderFill = color.RGBA{R: 211, G: 211, B: 211, A: 255}
	placeholderInk  = color.RGBA{R: 64, G: 64, B: 64, A: 255}
	bandColor       = color.NRGBA{A: 160}
)

const (
	placeholderText = "Weather"
	linePadding     = 2
)

// Config sizes rendered output.
type Config struct {
	// MaxWidth downscales wider photos. Zero keeps the original size.
	MaxWidth int
	// TextScale is the upper bound on glyph magnification.
	TextScale         int
	PlaceholderWidth  int
	PlaceholderHeight int
}

// DefaultConfig matches the 1024x768 placeholder canvas.
func DefaultConfig() Config {
	return Config{MaxWidth: 1024, TextScale: 3, PlaceholderWidth: 1024, PlaceholderHeight: 768}
}

var _ jobs.Compositor = (*Compositor)(nil)

// Compositor implements jobs.Compositor with the basic bitmap font.
type Compositor struct {
	cfg  Config
	face font.Face

	placeholderOnce sync.Once
	placeholder     []byte
}

// NewCompositor creates a compositor. Unset sizes take their defaults.
func NewCompositor(cfg Config) *Compositor {
	def := DefaultConfig()
	if cfg.TextScale <= 0 {
		cfg.TextScale = def.TextScale
	}
	if cfg.PlaceholderWidth <= 0 || cfg.PlaceholderHeight <= 0 {
		cfg.PlaceholderWidth, cfg.PlaceholderHeight = def.PlaceholderWidth, def.PlaceholderHeight
	}
	return &Compositor{cfg: cfg, face: basicfont.Face7x13}
}

// Annotate decodes base (PNG, JPEG or WebP), draws label in a translucent
// band along the bottom edge and returns the result as PNG.
func (c *Compositor) Annotate(base []byte, label string) ([]byte, error) {
	src, _, err := image.Decode(bytes.NewReader(base))
	if err != nil {
		return nil, fmt.Errorf("decode base image: %w", err)
	}

	dst := c.fit(src)
	c.drawLabel(dst, label)
	return encode(dst)
}

// Placeholder returns a light grey canvas captioned "Weather". The bytes are
// computed once and shared.
func (c *Compositor) Placeholder() []byte {
	c.placeholderOnce.Do(func() {
		img := image.NewRGBA(image.Rect(0, 0, c.cfg.PlaceholderWidth, c.cfg.PlaceholderHeight))
		draw.Draw(img, img.Bounds(), image.NewUniform(placeholderFill), image.Point{}, draw.Src)

		text := c.textImage([]string{placeholderText}, placeholderInk)
		scale := c.scaleFor(text.Bounds().Dx(), img.Bounds().Dx()/2, 8)
		w, h := text.Bounds().Dx()*scale, text.Bounds().Dy()*scale
		x := (img.Bounds().Dx() - w) / 2
		y := (img.Bounds().Dy() - h) / 2
		draw.NearestNeighbor.Scale(img, image.Rect(x, y, x+w, y+h), text, text.Bounds(), draw.Over, nil)

		// Encoding an in-memory RGBA image into a buffer does not fail.
		c.placeholder, _ = encode(img)
	})
	return c.placeholder
}

// fit copies src into an RGBA canvas, downscaling to MaxWidth when needed.
func (c *Compositor) fit(src image.Image) *image.RGBA {
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	if c.cfg.MaxWidth > 0 && w > c.cfg.MaxWidth {
		h = max(h*c.cfg.MaxWidth/w, 1)
		w = c.cfg.MaxWidth
	}

	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	if w == b.Dx() && h == b.Dy() {
		draw.Draw(dst, dst.Bounds(), src, b.Min, draw.Src)
	} else {
		draw.CatmullRom.Scale(dst, dst.Bounds(), src, b, draw.Src, nil)
	}
	return dst
}

func (c *Compositor) drawLabel(dst *image.RGBA, label string) {
	lines := strings.Split(strings.TrimSpace(label), "\n")
	if len(lines) == 1 && lines[0] == "" {
		return
	}

	text := c.textImage(lines, color.White)
	bounds := dst.Bounds()
	margin := max(bounds.Dx()/64, 4)
	scale := c.scaleFor(text.Bounds().Dx(), bounds.Dx()-4*margin, c.cfg.TextScale)

	w, h := text.Bounds().Dx()*scale, text.Bounds().Dy()*scale
	band := image.Rect(0, bounds.Max.Y-h-2*margin, bounds.Max.X, bounds.Max.Y).Intersect(bounds)
	draw.Draw(dst, band, image.NewUniform(bandColor), image.Point{}, draw.Over)

	x := margin
	y := band.Min.Y + margin
	draw.NearestNeighbor.Scale(dst, image.Rect(x, y, x+w, y+h), text, text.Bounds(), draw.Over, nil)
}

// textImage renders lines at native glyph size on a transparent canvas.
func (c *Compositor) textImage(lines []string, ink color.Color) *image.RGBA {
	metrics := c.face.Metrics()
	lineHeight := metrics.Height.Ceil() + linePadding

	width := 1
	for _, l := range lines {
		width = max(width, font.MeasureString(c.face, l).Ceil())
	}

	img := image.NewRGBA(image.Rect(0, 0, width, lineHeight*len(lines)))
	d := &font.Drawer{Dst: img, Src: image.NewUniform(ink), Face: c.face}
	for i, l := range lines {
		d.Dot = fixed.P(0, i*lineHeight+metrics.Ascent.Ceil())
		d.DrawString(l)
	}
	return img
}

// scaleFor picks the largest integer magnification up to limit that keeps
// textWidth within available.
func (c *Compositor) scaleFor(textWidth, available, limit int) int {
	if textWidth <= 0 {
		return 1
	}
	return max(min(available/textWidth, limit), 1)
}

func encode(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	enc := png.Encoder{CompressionLevel: png.BestSpeed}
	if err := enc.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}
