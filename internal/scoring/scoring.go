package scoring

import (
	"math"
	"strings"

	"omr-grader/internal/omr"
)

// Engine compares extracted answers against an answer key.
type Engine struct{}

func NewEngine() *Engine {
	return &Engine{}
}

// Score counts the positions where the detected choice equals the key,
// ignoring case. A NotDetected slot is never correct. The two sequences must
// have the same length.
func (e *Engine) Score(extracted omr.ExtractedAnswers, key omr.AnswerKey) (omr.GradingResult, error) {
	if len(key) == 0 {
		return omr.GradingResult{}, omr.Errorf(omr.KindInvalidKeyLength, "score", "answer key is empty")
	}
	if len(extracted) != len(key) {
		return omr.GradingResult{}, omr.Errorf(omr.KindInvalidKeyLength, "score",
			"answer key has %d entries, sheet has %d questions", len(key), len(extracted))
	}

	perQuestion := make([]omr.QuestionResult, len(key))
	correct := 0
	for i, expected := range key {
		detected := extracted[i]
		ok := detected != omr.NotDetected && strings.EqualFold(detected, expected)
		if ok {
			correct++
		}
		perQuestion[i] = omr.QuestionResult{Question: i + 1, Detected: detected, Correct: ok}
	}

	total := len(key)
	return omr.GradingResult{
		PerQuestion: perQuestion,
		Score:       omr.FormatScore(correct, total),
		Correct:     correct,
		Incorrect:   total - correct,
		Total:       total,
	}, nil
}

// ScoreFromMismatch approximates a score from a pixel mismatch percentage:
// incorrect = round(percentage / 100 * total), capped at total.
func (e *Engine) ScoreFromMismatch(metric omr.MismatchMetric, total int) (omr.GradingResult, error) {
	if total <= 0 {
		return omr.GradingResult{}, omr.Errorf(omr.KindInvalidKeyLength, "score from mismatch", "total questions must be positive, got %d", total)
	}

	p := metric.Percentage
	switch {
	case math.IsNaN(p) || p < 0:
		p = 0
	case p > 100:
		p = 100
	}

	incorrect := int(math.Round(p / 100 * float64(total)))
	if incorrect > total {
		incorrect = total
	}
	correct := total - incorrect

	return omr.GradingResult{
		Score:              omr.FormatScore(correct, total),
		Correct:            correct,
		Incorrect:          incorrect,
		Total:              total,
		MismatchPercentage: &p,
		DiffImage:          metric.DiffImage,
	}, nil
}
