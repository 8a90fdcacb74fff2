package engine

import (
	"context"
	"fmt"

	"omr-grader/internal/ocr"
)

// Checker is implemented by engines that can verify their backend at startup.
type Checker interface {
	Check(ctx context.Context, opts ocr.Options) error
}

type Settings struct {
	Type           string
	MaxConcurrency int
	OllamaURL      string
	OllamaModel    string
	GeminiAPIKey   string
	GeminiModel    string
}

func NewEngine(s Settings) (ocr.Recognizer, error) {
	switch s.Type {
	case "ollama":
		return NewOllamaEngine(s.OllamaURL, s.OllamaModel), nil
	case "gemini":
		return NewGeminiEngine(s.GeminiAPIKey, s.GeminiModel), nil
	case "tesseract", "gosseract", "":
		return NewGosseractEngine(s.MaxConcurrency), nil
	default:
		return nil, fmt.Errorf("unknown engine type: %s", s.Type)
	}
}

// Start builds the engine and runs its startup check. A failure here means
// the grading capability is unavailable and the process should not serve.
func Start(ctx context.Context, s Settings, opts ocr.Options) (ocr.Recognizer, error) {
	e, err := NewEngine(s)
	if err != nil {
		return nil, err
	}
	if c, ok := e.(Checker); ok {
		if err := c.Check(ctx, opts); err != nil {
			e.Close()
			return nil, fmt.Errorf("starting %s engine: %w", e.Name(), err)
		}
	}
	return e, nil
}
