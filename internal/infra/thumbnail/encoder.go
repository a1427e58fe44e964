// Package thumbnail scales decoded frames to a fixed resolution and encodes
// them as still images.
package thumbnail

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"

	"github.com/chai2010/webp"
	"github.com/cockroachdb/errors"
	"golang.org/x/image/draw"
)

// Supported formats
const (
	FormatJPEG = "jpeg"
	FormatWebP = "webp"
)

// Config holds encoder configuration.
type Config struct {
	Width   int    `yaml:"width" default:"160" validate:"gt=0"`
	Height  int    `yaml:"height" default:"90" validate:"gt=0"`
	Format  string `yaml:"format" default:"jpeg" validate:"oneof=jpeg webp"`
	Quality int    `yaml:"quality" default:"70" validate:"gte=1,lte=100"`
}

// Encoder produces thumbnails of a fixed size.
type Encoder struct {
	config Config
}

// NewEncoder creates an encoder.
func NewEncoder(config Config) (*Encoder, error) {
	if config.Width <= 0 || config.Height <= 0 {
		return nil, errors.Newf("invalid thumbnail size %dx%d", config.Width, config.Height)
	}
	switch config.Format {
	case FormatJPEG, FormatWebP:
	default:
		return nil, errors.Newf("unsupported thumbnail format: %s", config.Format)
	}
	if config.Quality < 1 {
		config.Quality = 1
	}
	if config.Quality > 100 {
		config.Quality = 100
	}
	return &Encoder{config: config}, nil
}

// ContentType returns the MIME type of encoded thumbnails.
func (e *Encoder) ContentType() string {
	if e.config.Format == FormatWebP {
		return "image/webp"
	}
	return "image/jpeg"
}

// Encode scales img into the thumbnail canvas and encodes it.
func (e *Encoder) Encode(img image.Image) ([]byte, error) {
	if img == nil || img.Bounds().Empty() {
		return nil, errors.New("empty frame")
	}

	canvas := Fit(img, e.config.Width, e.config.Height)

	var buf bytes.Buffer
	switch e.config.Format {
	case FormatWebP:
		if err := webp.Encode(&buf, canvas, &webp.Options{Quality: float32(e.config.Quality)}); err != nil {
			return nil, errors.Wrap(err, "failed to encode as WebP")
		}
	default:
		if err := jpeg.Encode(&buf, canvas, &jpeg.Options{Quality: e.config.Quality}); err != nil {
			return nil, errors.Wrap(err, "failed to encode as JPEG")
		}
	}
	return buf.Bytes(), nil
}

// Fit scales src to fit a width x height canvas, preserving the aspect
// ratio. Unused canvas area is black; an empty src yields a black canvas.
func Fit(src image.Image, width, height int) *image.RGBA {
	canvas := image.NewRGBA(image.Rect(0, 0, max(width, 0), max(height, 0)))
	draw.Draw(canvas, canvas.Bounds(), image.NewUniform(color.Black), image.Point{}, draw.Src)

	sb := src.Bounds()
	if sb.Empty() || canvas.Bounds().Empty() {
		return canvas
	}
	w, h := width, sb.Dy()*width/sb.Dx()
	if h > height {
		w, h = sb.Dx()*height/sb.Dy(), height
	}
	w, h = max(w, 1), max(h, 1)

	x0 := (width - w) / 2
	y0 := (height - h) / 2
	draw.ApproxBiLinear.Scale(canvas, image.Rect(x0, y0, x0+w, y0+h), src, sb, draw.Src, nil)
	return canvas
}
