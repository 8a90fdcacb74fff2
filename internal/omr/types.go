package omr

import (
	"fmt"
	"strings"
)

// NotDetected marks a question slot with no recognized choice.
const NotDetected = "not detected"

// DefaultAlphabet is the choice alphabet of a four-option answer sheet.
const DefaultAlphabet = "ABCD"

type Format string

const (
	FormatJPEG Format = "jpeg"
	FormatPNG  Format = "png"
)

// RawImage is a caller-owned upload. Format may be empty, in which case it is sniffed.
type RawImage struct {
	Name   string
	Data   []byte
	Format Format
}

// NormalizedImage is a PNG-encoded canonical buffer produced by the normalizer.
type NormalizedImage struct {
	Data   []byte
	Width  int
	Height int
}

type ExtractedAnswers []string

// NewExtractedAnswers returns n slots, all NotDetected.
func NewExtractedAnswers(n int) ExtractedAnswers {
	if n < 0 {
		n = 0
	}
	out := make(ExtractedAnswers, n)
	for i := range out {
		out[i] = NotDetected
	}
	return out
}

type AnswerKey []string

// ParseAnswerKey accepts "A,B,C", "A B C" or "ABC" and upper-cases every entry.
func ParseAnswerKey(s string) AnswerKey {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == ';' || r == ' ' || r == '\t' || r == '\n'
	})
	if len(fields) == 1 && len(fields[0]) > 1 {
		fields = strings.Split(fields[0], "")
	}
	key := make(AnswerKey, 0, len(fields))
	for _, f := range fields {
		key = append(key, strings.ToUpper(strings.TrimSpace(f)))
	}
	return key
}

// Validate checks the key is non-empty and every entry is a single alphabet letter.
func (k AnswerKey) Validate(alphabet string) error {
	if len(k) == 0 {
		return Errorf(KindInvalidKeyLength, "validate key", "answer key is empty")
	}
	for i, choice := range k {
		if len(choice) != 1 || !strings.Contains(strings.ToUpper(alphabet), strings.ToUpper(choice)) {
			return Errorf(KindInvalidKey, "validate key", "question %d: choice %q not in alphabet %q", i+1, choice, alphabet)
		}
	}
	return nil
}

type QuestionResult struct {
	Question int    `json:"question"`
	Detected string `json:"detected"`
	Correct  bool   `json:"correct"`
}

// MismatchMetric is the percentage of differing pixels between two sheets.
type MismatchMetric struct {
	Percentage float64
	DiffImage  []byte
}

type GradingResult struct {
	RequestID          string           `json:"requestId,omitempty"`
	RecognizedText     string           `json:"recognizedText,omitempty"`
	Confidence         float64          `json:"confidence,omitempty"`
	PerQuestion        []QuestionResult `json:"perQuestion,omitempty"`
	Score              string           `json:"score"`
	Correct            int              `json:"correct"`
	Incorrect          int              `json:"incorrect"`
	Total              int              `json:"total"`
	MismatchPercentage *float64         `json:"mismatchPercentage,omitempty"`
	DiffImage          []byte           `json:"diffImage,omitempty"`
}

func FormatScore(correct, total int) string {
	return fmt.Sprintf("%d/%d", correct, total)
}
