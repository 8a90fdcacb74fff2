package diff

import (
	"bytes"
	goimage "image"
	"image/color"
	"math"

	"github.com/disintegration/imaging"

	"omr-grader/internal/omr"
)

// Tolerance is the brightness or alpha delta at which two pixels differ.
const Tolerance = 16

var (
	errorColor = color.NRGBA{R: 255, G: 0, B: 255, A: 255}
	fadeFactor = 0.3
)

// Engine compares two normalized sheets pixel by pixel, ignoring colour.
type Engine struct {
	tolerance float64
}

func NewEngine() *Engine {
	return &Engine{tolerance: Tolerance}
}

// Diff returns the percentage of differing pixels and a PNG highlighting them.
// Both images must have identical dimensions.
func (e *Engine) Diff(a, b omr.NormalizedImage) (omr.MismatchMetric, error) {
	imgA, err := decode(a, "diff: decode first image")
	if err != nil {
		return omr.MismatchMetric{}, err
	}
	imgB, err := decode(b, "diff: decode second image")
	if err != nil {
		return omr.MismatchMetric{}, err
	}

	wa, ha := imgA.Bounds().Dx(), imgA.Bounds().Dy()
	wb, hb := imgB.Bounds().Dx(), imgB.Bounds().Dy()
	if wa != wb || ha != hb {
		return omr.MismatchMetric{}, omr.Errorf(omr.KindDimensionMismatch, "diff",
			"images differ in size: %dx%d vs %dx%d", wa, ha, wb, hb)
	}
	if wa == 0 || ha == 0 {
		return omr.MismatchMetric{}, omr.Errorf(omr.KindInvalidDimensions, "diff", "empty image")
	}

	out := imaging.New(wa, ha, color.White)
	mismatched := 0
	for y := 0; y < ha; y++ {
		for x := 0; x < wa; x++ {
			i := imgA.PixOffset(x, y)
			pa := imgA.Pix[i : i+4 : i+4]
			pb := imgB.Pix[i : i+4 : i+4]

			ba, bb := brightness(pa), brightness(pb)
			if math.Abs(ba-bb) >= e.tolerance || math.Abs(float64(pa[3])-float64(pb[3])) >= e.tolerance {
				mismatched++
				out.SetNRGBA(x, y, errorColor)
				continue
			}
			out.SetNRGBA(x, y, fade(ba, pa[3]))
		}
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, out, imaging.PNG); err != nil {
		return omr.MismatchMetric{}, omr.NewError(omr.KindImageDecode, "diff: encode", err)
	}

	percentage := float64(mismatched) / float64(wa*ha) * 100
	return omr.MismatchMetric{
		Percentage: math.Round(percentage*100) / 100,
		DiffImage:  buf.Bytes(),
	}, nil
}

// decode returns the image as NRGBA with a zero origin so both inputs share pixel offsets.
func decode(img omr.NormalizedImage, op string) (*goimage.NRGBA, error) {
	if len(img.Data) == 0 {
		return nil, omr.Errorf(omr.KindMissingInput, op, "empty image buffer")
	}
	decoded, err := imaging.Decode(bytes.NewReader(img.Data))
	if err != nil {
		return nil, omr.NewError(omr.KindImageDecode, op, err)
	}
	return imaging.Clone(decoded), nil
}

func brightness(p []uint8) float64 {
	return 0.3*float64(p[0]) + 0.59*float64(p[1]) + 0.11*float64(p[2])
}

// fade blends a grey of the given brightness towards white.
func fade(b float64, alpha uint8) color.NRGBA {
	v := uint8(math.Round(255 + (b-255)*fadeFactor))
	return color.NRGBA{R: v, G: v, B: v, A: alpha}
}
