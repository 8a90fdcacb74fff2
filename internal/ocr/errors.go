package ocr

import (
	"context"
	"errors"
	"fmt"

	"omr-grader/internal/omr"
)

// ContextError converts a finished context into the error a recognizer
// reports: deadline expiry is a RecognitionTimeout, cancellation is passed through.
func ContextError(ctx context.Context, engine string) error {
	err := ctx.Err()
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return omr.NewError(omr.KindRecognitionTimeout, engine+" recognize", err)
	}
	return fmt.Errorf("%s recognize: %w", engine, err)
}

// EngineError wraps an engine failure unless ctx already explains it.
func EngineError(ctx context.Context, engine string, err error) error {
	if ctxErr := ContextError(ctx, engine); ctxErr != nil {
		return ctxErr
	}
	return omr.NewError(omr.KindRecognitionEngine, engine+" recognize", err)
}
