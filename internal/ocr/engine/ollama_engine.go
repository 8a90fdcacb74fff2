package engine

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"omr-grader/internal/logger"
	"omr-grader/internal/ocr"
	"omr-grader/internal/omr"
)

type OllamaEngine struct {
	baseURL string
	model   string
	client  *http.Client
}

type OllamaRequest struct {
	Model  string   `json:"model"`
	Prompt string   `json:"prompt"`
	Images []string `json:"images"`
	Format string   `json:"format,omitempty"`
	Stream bool     `json:"stream"`
}

type OllamaResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

const (
	defaultBaseURL = "http://localhost:11434"
	defaultModel   = "llama3.2-vision"
)

func NewOllamaEngine(baseURL, model string) *OllamaEngine {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if model == "" {
		model = defaultModel
	}

	return &OllamaEngine{
		baseURL: baseURL,
		model:   model,
		client:  &http.Client{},
	}
}

func (o *OllamaEngine) Name() string { return "ollama" }

func (o *OllamaEngine) Recognize(ctx context.Context, img omr.NormalizedImage, opts ocr.Options) (ocr.RecognizedText, error) {
	request := OllamaRequest{
		Model:  o.model,
		Prompt: buildPrompt(opts.Whitelist),
		Images: []string{base64.StdEncoding.EncodeToString(img.Data)},
		Format: "json",
		Stream: false,
	}

	jsonData, err := json.Marshal(request)
	if err != nil {
		return ocr.RecognizedText{}, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/api/generate", bytes.NewReader(jsonData))
	if err != nil {
		return ocr.RecognizedText{}, omr.NewError(omr.KindRecognitionEngine, "ollama request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return ocr.RecognizedText{}, ocr.EngineError(ctx, o.Name(), fmt.Errorf("failed to send request: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return ocr.RecognizedText{}, omr.Errorf(omr.KindRecognitionEngine, "ollama recognize", "request failed with status: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return ocr.RecognizedText{}, ocr.EngineError(ctx, o.Name(), fmt.Errorf("failed to read response: %w", err))
	}

	var ollamaResp OllamaResponse
	if err := json.Unmarshal(body, &ollamaResp); err != nil {
		return ocr.RecognizedText{}, omr.NewError(omr.KindRecognitionEngine, "ollama recognize", fmt.Errorf("failed to unmarshal response: %w", err))
	}

	jsonObj, err := extractJSON(ollamaResp.Response)
	if err != nil {
		return ocr.RecognizedText{}, omr.NewError(omr.KindRecognitionEngine, "ollama recognize", fmt.Errorf("failed to extract JSON from response: %w", err))
	}

	text, err := answersToText(jsonObj)
	if err != nil {
		return ocr.RecognizedText{}, omr.NewError(omr.KindRecognitionEngine, "ollama recognize", err)
	}

	return ocr.RecognizedText{Text: text, Engine: o.Name()}, nil
}

// Check verifies the Ollama server answers before the service starts accepting sheets.
func (o *OllamaEngine) Check(ctx context.Context, _ ocr.Options) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.baseURL+"/api/tags", nil)
	if err != nil {
		return err
	}
	resp, err := o.client.Do(req)
	if err != nil {
		return fmt.Errorf("ollama: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ollama: health check returned status %d", resp.StatusCode)
	}
	return nil
}

func (o *OllamaEngine) Close() error {
	return nil
}

func extractJSON(input string) (json.RawMessage, error) {
	logger.DebugLog("Extracting JSON from input: %s", input)
	normalized := bytes.ReplaceAll([]byte(input), []byte("\\n"), []byte(""))
	normalized = bytes.ReplaceAll(normalized, []byte("\\r"), []byte(""))
	normalized = bytes.ReplaceAll(normalized, []byte("\\t"), []byte(""))
	normalized = bytes.ReplaceAll(normalized, []byte("\\"), []byte(""))
	normalized = bytes.ReplaceAll(normalized, []byte("  "), []byte(""))
	text := string(normalized)
	// Find opening brace
	start := -1
	for i, char := range text {
		if char == '{' {
			start = i
			break
		}
	}

	if start == -1 {
		return nil, fmt.Errorf("no JSON found in text")
	}

	// Track brace depth to find the matching closing brace
	braceCount := 0
	end := -1

matchingBrace:
	for i := start; i < len(text); i++ {
		switch text[i] {
		case '{':
			braceCount++
		case '}':
			braceCount--
			if braceCount == 0 {
				end = i + 1
				break matchingBrace
			}
		}
	}

	if end == -1 {
		return nil, fmt.Errorf("no matching closing brace found")
	}

	jsonStr := text[start:end]

	var temp any
	if err := json.Unmarshal([]byte(jsonStr), &temp); err != nil {
		return nil, fmt.Errorf("extracted text is not valid JSON: %w", err)
	}

	return json.RawMessage(jsonStr), nil
}
