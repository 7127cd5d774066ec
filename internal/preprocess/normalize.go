// Package preprocess turns uploaded image bytes into the classifier's input
// tensor.
package preprocess

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"strings"

	"github.com/nfnt/resize"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/Brownie44l1/freshness-api/internal/model"
)

var (
	ErrDecode        = errors.New("invalid image")
	ErrImageTooLarge = errors.New("image too large")
)

const DefaultMaxPixels = 40_000_000

var interpolations = map[string]resize.InterpolationFunction{
	"nearest":  resize.NearestNeighbor,
	"bilinear": resize.Bilinear,
	"bicubic":  resize.Bicubic,
	"lanczos3": resize.Lanczos3,
}

// ParseInterpolation maps a config name to a resize kernel.
func ParseInterpolation(name string) (resize.InterpolationFunction, error) {
	interp, ok := interpolations[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return 0, fmt.Errorf("unknown interpolation %q", name)
	}
	return interp, nil
}

// Normalizer produces [1,size,size,3] tensors with values in [0,1].
// It holds no mutable state and is safe for concurrent use.
type Normalizer struct {
	size      int
	interp    resize.InterpolationFunction
	maxPixels int
}

type Option func(*Normalizer)

func WithInterpolation(interp resize.InterpolationFunction) Option {
	return func(n *Normalizer) { n.interp = interp }
}

// WithMaxPixels limits the declared source resolution. Zero disables the
// check.
func WithMaxPixels(pixels int) Option {
	return func(n *Normalizer) { n.maxPixels = pixels }
}

func WithSize(size int) Option {
	return func(n *Normalizer) { n.size = size }
}

func New(opts ...Option) *Normalizer {
	n := &Normalizer{
		size:      model.ImageSize,
		interp:    resize.NearestNeighbor,
		maxPixels: DefaultMaxPixels,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

func (n *Normalizer) Shape() []int64 {
	return []int64{1, int64(n.size), int64(n.size), model.Channels}
}

// Normalize decodes data and converts it with FromImage. Every failure
// wraps ErrDecode.
func (n *Normalizer) Normalize(data []byte) (tensor model.Tensor, err error) {
	defer func() {
		if r := recover(); r != nil {
			tensor, err = model.Tensor{}, fmt.Errorf("%w: decoder panic: %v", ErrDecode, r)
		}
	}()

	if len(data) == 0 {
		return model.Tensor{}, fmt.Errorf("%w: empty payload", ErrDecode)
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return model.Tensor{}, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return model.Tensor{}, fmt.Errorf("%w: %s has empty dimensions %dx%d", ErrDecode, format, cfg.Width, cfg.Height)
	}
	// dimensions can be 32-bit each, so the product is taken in uint64
	if n.maxPixels > 0 && uint64(cfg.Width)*uint64(cfg.Height) > uint64(n.maxPixels) {
		return model.Tensor{}, fmt.Errorf("%w: %w: %dx%d exceeds %d pixels", ErrDecode, ErrImageTooLarge, cfg.Width, cfg.Height, n.maxPixels)
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return model.Tensor{}, fmt.Errorf("%w: %s: %v", ErrDecode, format, err)
	}
	return n.FromImage(img), nil
}

// FromImage resizes img to size x size without keeping the aspect ratio and
// scales each RGB channel by 1/255. Alpha is discarded.
func (n *Normalizer) FromImage(img image.Image) model.Tensor {
	resized := resize.Resize(uint(n.size), uint(n.size), dropAlpha(img), n.interp)

	bounds := resized.Bounds()
	data := make([]float32, 0, n.size*n.size*model.Channels)
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			c := color.NRGBAModel.Convert(resized.At(x, y)).(color.NRGBA)
			data = append(data,
				float32(c.R)/255.0,
				float32(c.G)/255.0,
				float32(c.B)/255.0,
			)
		}
	}

	return model.Tensor{Shape: n.Shape(), Data: data}
}

// dropAlpha keeps the straight RGB values of translucent pixels, which is
// what an RGB conversion does, instead of letting the resize kernel see
// premultiplied colors.
func dropAlpha(img image.Image) image.Image {
	if o, ok := img.(interface{ Opaque() bool }); ok && o.Opaque() {
		return img
	}
	bounds := img.Bounds()
	out := image.NewRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			c := color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
			out.SetRGBA(x-bounds.Min.X, y-bounds.Min.Y, color.RGBA{R: c.R, G: c.G, B: c.B, A: 0xff})
		}
	}
	return out
}
