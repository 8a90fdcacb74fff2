package engine

import (
	"bytes"
	"context"
	"fmt"
	"image/color"

	"github.com/disintegration/imaging"
	"github.com/otiai10/gosseract/v2"
	"golang.org/x/sync/semaphore"

	"omr-grader/internal/logger"
	"omr-grader/internal/ocr"
	"omr-grader/internal/omr"
)

type GosseractEngine struct {
	clientFactory func() *gosseract.Client
	sem           *semaphore.Weighted
	slots         int64
}

func NewGosseractEngine(maxConcurrent int) *GosseractEngine {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return &GosseractEngine{
		clientFactory: gosseract.NewClient,
		sem:           semaphore.NewWeighted(int64(maxConcurrent)),
		slots:         int64(maxConcurrent),
	}
}

func (g *GosseractEngine) Name() string { return "tesseract" }

// Recognize runs Tesseract in its own goroutine. The cgo call cannot be
// interrupted, so on timeout the caller returns immediately while the worker
// keeps its semaphore slot until Tesseract finishes and the client is closed.
func (g *GosseractEngine) Recognize(ctx context.Context, img omr.NormalizedImage, opts ocr.Options) (ocr.RecognizedText, error) {
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return ocr.RecognizedText{}, ocr.EngineError(ctx, g.Name(), err)
	}

	type outcome struct {
		text ocr.RecognizedText
		err  error
	}
	done := make(chan outcome, 1)
	go func() {
		defer g.sem.Release(1)
		text, err := g.recognize(img, opts)
		done <- outcome{text: text, err: err}
	}()

	select {
	case out := <-done:
		if out.err != nil {
			return ocr.RecognizedText{}, omr.NewError(omr.KindRecognitionEngine, "tesseract recognize", out.err)
		}
		return out.text, nil
	case <-ctx.Done():
		logger.DebugLog("[tesseract]: abandoning recognition: %v", ctx.Err())
		return ocr.RecognizedText{}, ocr.ContextError(ctx, g.Name())
	}
}

func (g *GosseractEngine) recognize(img omr.NormalizedImage, opts ocr.Options) (ocr.RecognizedText, error) {
	client := g.clientFactory()
	defer client.Close()

	if len(opts.Languages) > 0 {
		if err := client.SetLanguage(opts.Languages...); err != nil {
			return ocr.RecognizedText{}, fmt.Errorf("set languages: %w", err)
		}
	}
	if opts.PSM != 0 {
		if err := client.SetPageSegMode(gosseract.PageSegMode(opts.PSM)); err != nil {
			return ocr.RecognizedText{}, fmt.Errorf("set page segmentation mode: %w", err)
		}
	}
	if opts.Whitelist != "" {
		if err := client.SetWhitelist(opts.Whitelist); err != nil {
			return ocr.RecognizedText{}, fmt.Errorf("set whitelist: %w", err)
		}
	}
	if err := client.SetImageFromBytes(img.Data); err != nil {
		return ocr.RecognizedText{}, fmt.Errorf("set image: %w", err)
	}

	text, err := client.Text()
	if err != nil {
		return ocr.RecognizedText{}, fmt.Errorf("extract text: %w", err)
	}

	return ocr.RecognizedText{
		Text:       text,
		Confidence: meanConfidence(client),
		Engine:     g.Name(),
	}, nil
}

func meanConfidence(c *gosseract.Client) float64 {
	boxes, err := c.GetBoundingBoxes(gosseract.RIL_WORD)
	if err != nil || len(boxes) == 0 {
		return 0
	}
	var sum float64
	for _, b := range boxes {
		sum += b.Confidence / 100.0
	}
	return sum / float64(len(boxes))
}

// Check runs a recognition on a blank page so a missing library or language
// pack surfaces at startup rather than on the first request.
func (g *GosseractEngine) Check(ctx context.Context, opts ocr.Options) error {
	if v := gosseract.Version(); v == "" {
		return fmt.Errorf("tesseract: version unavailable")
	}
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, imaging.New(32, 32, color.White), imaging.PNG); err != nil {
		return fmt.Errorf("tesseract: building probe image: %w", err)
	}
	if _, err := g.Recognize(ctx, omr.NormalizedImage{Data: buf.Bytes(), Width: 32, Height: 32}, opts); err != nil {
		return fmt.Errorf("tesseract: probe recognition: %w", err)
	}
	return nil
}

// Close waits for abandoned recognitions to finish and release their clients.
func (g *GosseractEngine) Close() error {
	if err := g.sem.Acquire(context.Background(), g.slots); err != nil {
		return err
	}
	g.sem.Release(g.slots)
	return nil
}
