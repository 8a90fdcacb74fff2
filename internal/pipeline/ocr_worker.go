package pipeline

import (
	"context"

	"omr-grader/internal/logger"
	"omr-grader/internal/ocr"
)

func performOcr(ctx context.Context, clients *Clients, normalizedChan <-chan normalizedItem, ocrChan chan<- ocr.OCRResult) {
	grader := NewGrader(clients)

	for item := range normalizedChan {
		if ctx.Err() != nil {
			logger.DebugLog("[performOcr]: context cancelled")
			item.release()
			return
		}

		out := ocr.OCRResult{Filename: item.path, Error: item.err}
		if item.err == nil {
			logger.DebugLog("[performOcr]: recognizing %s", item.path)
			out.Text, out.Error = grader.recognize(ctx, item.image)
		}
		item.release()

		logger.DebugLog("[performOcr]: sending OCR result for %s (err=%v)", item.path, out.Error)
		select {
		case ocrChan <- out:
		case <-ctx.Done():
			logger.DebugLog("[performOcr]: context done while sending OCR result for %s", item.path)
			return
		}
	}
}
