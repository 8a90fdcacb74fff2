package data

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"omr-grader/internal/omr"
)

// AnswerExtractor turns recognized sheet text into per-question choices.
type AnswerExtractor struct {
	alphabet string
	pattern  *regexp.Regexp
}

func NewAnswerExtractor(alphabet string) *AnswerExtractor {
	alphabet = normalizeAlphabet(alphabet)
	return &AnswerExtractor{
		alphabet: alphabet,
		pattern:  answerPattern(alphabet),
	}
}

// answerPattern matches "<number><delim><letter>": the number must not follow
// a digit, '.' or '-' (rejecting "-1" and "1.5"), and the letter must stand alone.
func answerPattern(alphabet string) *regexp.Regexp {
	class := regexp.QuoteMeta(alphabet)
	return regexp.MustCompile(fmt.Sprintf(`(?i)(?:^|[^0-9.\-])(\d+)\s*[.):\-]\s*([%s])(?:[^A-Za-z]|$)`, class))
}

func normalizeAlphabet(alphabet string) string {
	seen := make(map[rune]bool)
	var b strings.Builder
	for _, r := range strings.ToUpper(alphabet) {
		if r < 'A' || r > 'Z' || seen[r] {
			continue
		}
		seen[r] = true
		b.WriteRune(r)
	}
	if b.Len() == 0 {
		return omr.DefaultAlphabet
	}
	return b.String()
}

func (de *AnswerExtractor) Alphabet() string {
	return de.alphabet
}

// Extract scans text line by line. Only the first match on a line counts and
// later lines overwrite earlier ones for the same question. Slots never
// matched stay NotDetected; an unparseable text is not an error.
func (de *AnswerExtractor) Extract(text string, maxQuestions int) omr.ExtractedAnswers {
	answers := omr.NewExtractedAnswers(maxQuestions)
	if maxQuestions <= 0 {
		return answers
	}

	for _, line := range strings.Split(normalizeNewlines(text), "\n") {
		match := de.pattern.FindStringSubmatch(line)
		if match == nil {
			continue
		}
		number, err := strconv.Atoi(match[1])
		if err != nil || number <= 0 || number > maxQuestions {
			continue
		}
		answers[number-1] = strings.ToUpper(match[2])
	}

	return answers
}

func normalizeNewlines(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	return strings.ReplaceAll(text, "\r", "\n")
}

func MapCSVRecord(item GradedSheet) []string {
	return []string{
		item.Filename,
		item.Score,
		strconv.Itoa(item.Correct),
		strconv.Itoa(item.Total),
		strings.Join(item.Answers, "; "),
		strings.ReplaceAll(strings.TrimSpace(item.Text), "\n", " | "),
	}
}

func GetCSVHeader() []string {
	return []string{"Filename", "Score", "Correct", "Total", "Answers", "Text"}
}

// GradedSheet is one row of batch output.
type GradedSheet struct {
	Filename string
	Score    string
	Correct  int
	Total    int
	Answers  []string
	Text     string
}
