package image

import (
	"bytes"
	"fmt"
	goimage "image"
	"image/color"
	"math"

	"github.com/disintegration/imaging"

	"omr-grader/internal/omr"
)

// Region is a rectangle expressed as fractions of the decoded frame.
type Region struct {
	X, Y, W, H float64
}

// BottomHalf is where answer bubbles sit on the comparison sheets.
var BottomHalf = Region{X: 0, Y: 0.5, W: 1, H: 0.5}

// Options selects which stages run. Stages always execute in the order
// orient, crop, resize, greyscale, threshold, normalize, sharpen.
type Options struct {
	Region       *Region
	MaxDimension int // long edge bound, aspect kept, never upscaled
	Canvas       int // square canvas with white padding; overrides MaxDimension
	Grayscale    bool
	Binarize     bool
	Threshold    uint8
	Normalize    bool
	Sharpen      float64 // sigma, 0 disables
}

func RecognitionOptions(maxDimension int) Options {
	return Options{
		MaxDimension: maxDimension,
		Grayscale:    true,
		Binarize:     true,
		Threshold:    128,
		Normalize:    true,
		Sharpen:      1.0,
	}
}

func ComparisonOptions(canvas int) Options {
	region := BottomHalf
	return Options{
		Region:    &region,
		Canvas:    canvas,
		Grayscale: true,
	}
}

type ImageProcessor struct {
	recognition Options
	comparison  Options
}

func NewImageProcessor(maxDimension, canvas int) *ImageProcessor {
	return &ImageProcessor{
		recognition: RecognitionOptions(maxDimension),
		comparison:  ComparisonOptions(canvas),
	}
}

func (ip *ImageProcessor) ForRecognition(raw omr.RawImage) (omr.NormalizedImage, error) {
	return Normalize(raw, ip.recognition)
}

func (ip *ImageProcessor) ForComparison(raw omr.RawImage) (omr.NormalizedImage, error) {
	return Normalize(raw, ip.comparison)
}

// Normalize decodes raw and runs the enabled stages, returning a PNG buffer.
func Normalize(raw omr.RawImage, opts Options) (omr.NormalizedImage, error) {
	if err := raw.Validate(); err != nil {
		return omr.NormalizedImage{}, err
	}

	src, err := imaging.Decode(bytes.NewReader(raw.Data), imaging.AutoOrientation(true))
	if err != nil {
		return omr.NormalizedImage{}, omr.NewError(omr.KindImageDecode, "decode "+string(raw.Format), err)
	}
	img := imaging.Clone(src)

	if opts.Region != nil {
		rect := regionRect(img.Bounds(), *opts.Region)
		if rect.Dx() <= 0 || rect.Dy() <= 0 {
			return omr.NormalizedImage{}, omr.Errorf(omr.KindInvalidDimensions, "crop",
				"region of interest of %dx%d image is empty", img.Bounds().Dx(), img.Bounds().Dy())
		}
		img = imaging.Crop(img, rect)
	}

	switch {
	case opts.Canvas > 0:
		fitted := imaging.Fit(img, opts.Canvas, opts.Canvas, imaging.Lanczos)
		if fitted.Bounds().Dx() == 0 || fitted.Bounds().Dy() == 0 {
			return omr.NormalizedImage{}, omr.Errorf(omr.KindInvalidDimensions, "resize", "image has zero width or height")
		}
		canvas := imaging.New(opts.Canvas, opts.Canvas, color.White)
		img = imaging.PasteCenter(canvas, fitted)
	case opts.MaxDimension > 0:
		img = imaging.Fit(img, opts.MaxDimension, opts.MaxDimension, imaging.Lanczos)
	}

	if img.Bounds().Dx() == 0 || img.Bounds().Dy() == 0 {
		return omr.NormalizedImage{}, omr.Errorf(omr.KindInvalidDimensions, "resize", "image has zero width or height")
	}

	if opts.Grayscale {
		img = imaging.Grayscale(img)
	}
	if opts.Binarize {
		img = binarize(img, opts.Threshold)
	}
	if opts.Normalize {
		img = stretchContrast(img)
	}
	if opts.Sharpen > 0 {
		img = imaging.Sharpen(img, opts.Sharpen)
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		return omr.NormalizedImage{}, fmt.Errorf("encoding normalized image: %w", err)
	}

	return omr.NormalizedImage{
		Data:   buf.Bytes(),
		Width:  img.Bounds().Dx(),
		Height: img.Bounds().Dy(),
	}, nil
}

func regionRect(b goimage.Rectangle, r Region) goimage.Rectangle {
	w, h := float64(b.Dx()), float64(b.Dy())
	x0 := b.Min.X + int(math.Floor(clamp01(r.X)*w))
	y0 := b.Min.Y + int(math.Floor(clamp01(r.Y)*h))
	rw := int(math.Floor(clamp01(r.W) * w))
	rh := int(math.Floor(clamp01(r.H) * h))
	return goimage.Rect(x0, y0, x0+rw, y0+rh).Intersect(b)
}

func binarize(img *goimage.NRGBA, threshold uint8) *goimage.NRGBA {
	return imaging.AdjustFunc(img, func(c color.NRGBA) color.NRGBA {
		if luminance(c) >= threshold {
			return color.NRGBA{R: 255, G: 255, B: 255, A: c.A}
		}
		return color.NRGBA{R: 0, G: 0, B: 0, A: c.A}
	})
}

// stretchContrast maps the 1st..99th luminance percentile onto the full range.
func stretchContrast(img *goimage.NRGBA) *goimage.NRGBA {
	hist := imaging.Histogram(img)
	var cum float64
	low, high := -1, -1
	for i, v := range hist {
		cum += v
		if low < 0 && cum > 0.01 {
			low = i
		}
		if high < 0 && cum >= 0.99 {
			high = i
		}
	}
	if low < 0 || high <= low {
		return img
	}
	scale := 255.0 / float64(high-low)
	stretch := func(v uint8) uint8 {
		return clampByte((float64(v) - float64(low)) * scale)
	}
	return imaging.AdjustFunc(img, func(c color.NRGBA) color.NRGBA {
		return color.NRGBA{R: stretch(c.R), G: stretch(c.G), B: stretch(c.B), A: c.A}
	})
}

func luminance(c color.NRGBA) uint8 {
	return clampByte(0.299*float64(c.R) + 0.587*float64(c.G) + 0.114*float64(c.B))
}

func clampByte(v float64) uint8 {
	switch {
	case v <= 0:
		return 0
	case v >= 255:
		return 255
	}
	return uint8(math.Round(v))
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
