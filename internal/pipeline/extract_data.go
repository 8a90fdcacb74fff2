package pipeline

import (
	"context"
	"fmt"
	"path/filepath"

	"omr-grader/internal/data"
	"omr-grader/internal/logger"
	"omr-grader/internal/ocr"
	"omr-grader/internal/omr"
)

func extractData(ctx context.Context, clients *Clients, key omr.AnswerKey, ocrChan <-chan ocr.OCRResult, results chan<- result[data.GradedSheet]) {
	for ocrOutput := range ocrChan {
		if ctx.Err() != nil {
			logger.DebugLog("[extractData]: context cancelled")
			return
		}

		res := result[data.GradedSheet]{path: ocrOutput.Filename}
		if ocrOutput.Error != nil {
			logger.DebugLog("[extractData]: OCR error for %s: %v", ocrOutput.Filename, ocrOutput.Error)
			res.err = ocrOutput.Error
		} else {
			res.data, res.err = gradeText(clients, key, ocrOutput)
		}

		select {
		case results <- res:
		case <-ctx.Done():
			logger.DebugLog("[extractData]: context done while sending %s", ocrOutput.Filename)
			return
		}
	}
}

func gradeText(clients *Clients, key omr.AnswerKey, out ocr.OCRResult) (data.GradedSheet, error) {
	extracted := clients.Extractor.Extract(out.Text.Text, len(key))
	graded, err := clients.Scorer.Score(extracted, key)
	if err != nil {
		return data.GradedSheet{}, fmt.Errorf("scoring %s: %w", out.Filename, err)
	}
	logger.DebugLog("[extractData]: %s scored %s", out.Filename, graded.Score)
	return data.GradedSheet{
		Filename: filepath.Base(out.Filename),
		Score:    graded.Score,
		Correct:  graded.Correct,
		Total:    graded.Total,
		Answers:  extracted,
		Text:     out.Text.Text,
	}, nil
}
