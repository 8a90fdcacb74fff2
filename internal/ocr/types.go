package ocr

import (
	"context"
	"strings"

	"omr-grader/internal/omr"
)

// PageSegMode mirrors Tesseract's page segmentation modes that make sense for answer sheets.
type PageSegMode int

const (
	PSMAuto        PageSegMode = 3
	PSMSingleBlock PageSegMode = 6
)

// Separators that appear between a question number and its choice.
const Separators = ".):- "

const digits = "0123456789"

type Options struct {
	Whitelist string
	PSM       PageSegMode
	Languages []string
}

// DefaultOptions restricts recognition to the answer alphabet, digits and
// numbering separators, in single-block layout.
func DefaultOptions(alphabet string, languages ...string) Options {
	if len(languages) == 0 {
		languages = []string{"eng"}
	}
	return Options{
		Whitelist: Whitelist(alphabet),
		PSM:       PSMSingleBlock,
		Languages: languages,
	}
}

func Whitelist(alphabet string) string {
	return strings.ToUpper(alphabet) + strings.ToLower(alphabet) + digits + Separators
}

type RecognizedText struct {
	Text       string
	Confidence float64
	Engine     string
}

// Recognizer is the narrow capability the pipeline needs from an OCR engine.
type Recognizer interface {
	Name() string
	Recognize(ctx context.Context, img omr.NormalizedImage, opts Options) (RecognizedText, error)
	Close() error
}

type OCRResult struct {
	Text     RecognizedText
	Filename string
	Error    error
}
