package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"omr-grader/internal/ocr"
	"omr-grader/internal/omr"
)

type GeminiEngine struct {
	apiKey string
	model  string
}

func NewGeminiEngine(apiKey, model string) *GeminiEngine {
	return &GeminiEngine{
		apiKey: strings.TrimSpace(apiKey),
		model:  strings.TrimSpace(model),
	}
}

func (e *GeminiEngine) Name() string { return "gemini" }

func (e *GeminiEngine) Recognize(ctx context.Context, img omr.NormalizedImage, opts ocr.Options) (ocr.RecognizedText, error) {
	if e.apiKey == "" {
		return ocr.RecognizedText{}, omr.NewError(omr.KindRecognitionEngine, "gemini recognize", errors.New("GEMINI_API_KEY is empty"))
	}
	cl, err := genai.NewClient(ctx, option.WithAPIKey(e.apiKey))
	if err != nil {
		return ocr.RecognizedText{}, ocr.EngineError(ctx, e.Name(), err)
	}
	defer cl.Close()

	m := cl.GenerativeModel(e.model)
	m.GenerationConfig = genai.GenerationConfig{
		Temperature:      ptrFloat32(0),
		ResponseMIMEType: "application/json",
	}

	parts := []genai.Part{
		genai.Text(buildPrompt(opts.Whitelist)),
		&genai.Blob{MIMEType: http.DetectContentType(img.Data), Data: img.Data},
	}
	resp, err := m.GenerateContent(ctx, parts...)
	if err != nil {
		return ocr.RecognizedText{}, ocr.EngineError(ctx, e.Name(), err)
	}

	txt := stripCodeFences(firstText(resp))
	if txt == "" {
		return ocr.RecognizedText{}, omr.Errorf(omr.KindRecognitionEngine, "gemini recognize", "empty response")
	}
	text, err := answersToText(json.RawMessage(txt))
	if err != nil {
		return ocr.RecognizedText{}, omr.NewError(omr.KindRecognitionEngine, "gemini recognize", err)
	}
	return ocr.RecognizedText{Text: text, Engine: e.Name()}, nil
}

func (e *GeminiEngine) Check(_ context.Context, _ ocr.Options) error {
	if e.apiKey == "" {
		return fmt.Errorf("gemini: GEMINI_API_KEY is empty")
	}
	if e.model == "" {
		return fmt.Errorf("gemini: model is empty")
	}
	return nil
}

func (e *GeminiEngine) Close() error {
	return nil
}

func firstText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 {
		return ""
	}
	for _, c := range resp.Candidates {
		if c.Content == nil {
			continue
		}
		for _, p := range c.Content.Parts {
			if t, ok := p.(genai.Text); ok {
				return string(t)
			}
		}
	}
	return ""
}

func ptrFloat32(v float32) *float32 { return &v }
