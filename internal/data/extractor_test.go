package data

import (
	"fmt"
	"reflect"
	"strings"
	"testing"

	"omr-grader/internal/omr"
)

const nd = omr.NotDetected

func TestAnswerExtractor_Extract(t *testing.T) {
	testCases := []struct {
		name         string
		text         string
		maxQuestions int
		expected     omr.ExtractedAnswers
	}{
		{
			name:         "simple round trip",
			text:         "1. A\n2. B\n",
			maxQuestions: 5,
			expected:     omr.ExtractedAnswers{"A", "B", nd, nd, nd},
		},
		{
			name:         "last match wins",
			text:         "3. A\n3. B\n",
			maxQuestions: 3,
			expected:     omr.ExtractedAnswers{nd, nd, "B"},
		},
		{
			name:         "letter outside alphabet ignored",
			text:         "1. B\n2. X\n3. C\n4. A\n5. D\n",
			maxQuestions: 5,
			expected:     omr.ExtractedAnswers{"B", nd, "C", "A", "D"},
		},
		{
			name:         "lower case and other delimiters",
			text:         "1) c\r\n2: d\r\n3 - a\n4.b",
			maxQuestions: 4,
			expected:     omr.ExtractedAnswers{"C", "D", "A", "B"},
		},
		{
			name:         "first match on a line only",
			text:         "1. A 2. B\n",
			maxQuestions: 2,
			expected:     omr.ExtractedAnswers{"A", nd},
		},
		{
			name:         "out of range and non-positive numbers ignored",
			text:         "0. A\n7. B\n-1. C\n2. D\n",
			maxQuestions: 3,
			expected:     omr.ExtractedAnswers{nd, "D", nd},
		},
		{
			name:         "non-integer numbers ignored",
			text:         "1.5. A\n2,5. B\n",
			maxQuestions: 3,
			expected:     omr.ExtractedAnswers{nd, nd, nd},
		},
		{
			name:         "overflowing number ignored",
			text:         "99999999999999999999999. A\n",
			maxQuestions: 3,
			expected:     omr.ExtractedAnswers{nd, nd, nd},
		},
		{
			name:         "letter must stand alone",
			text:         "1. AB\n2. Bravo\n3. C.\n",
			maxQuestions: 3,
			expected:     omr.ExtractedAnswers{nd, nd, "C"},
		},
		{
			name:         "noise around numbering",
			text:         "Q1: A\n## 12. B\n",
			maxQuestions: 12,
			expected:     omr.ExtractedAnswers{"A", nd, nd, nd, nd, nd, nd, nd, nd, nd, nd, "B"},
		},
		{
			name:         "no match is not an error",
			text:         "the quick brown fox",
			maxQuestions: 2,
			expected:     omr.ExtractedAnswers{nd, nd},
		},
		{
			name:         "zero questions",
			text:         "1. A",
			maxQuestions: 0,
			expected:     omr.ExtractedAnswers{},
		},
	}

	extractor := NewAnswerExtractor("ABCD")
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			// act
			actual := extractor.Extract(tc.text, tc.maxQuestions)

			// assert
			if !reflect.DeepEqual(actual, tc.expected) {
				t.Errorf("expected %v, got %v", tc.expected, actual)
			}
		})
	}
}

func TestAnswerExtractor_IdempotentOnOwnOutput(t *testing.T) {
	extractor := NewAnswerExtractor("ABCD")
	first := extractor.Extract("1. A\n2. B\n4. D\n", 5)

	var b strings.Builder
	for i, a := range first {
		if a != nd {
			fmt.Fprintf(&b, "%d. %s\n", i+1, a)
		}
	}
	second := extractor.Extract(b.String(), 5)

	if !reflect.DeepEqual(first, second) {
		t.Errorf("expected re-extraction to be stable: %v vs %v", first, second)
	}
}

func TestAnswerExtractor_CustomAlphabet(t *testing.T) {
	extractor := NewAnswerExtractor("abcde e!")
	if extractor.Alphabet() != "ABCDE" {
		t.Fatalf("expected normalized alphabet ABCDE, got %s", extractor.Alphabet())
	}
	got := extractor.Extract("1. E\n2. F\n", 2)
	if !reflect.DeepEqual(got, omr.ExtractedAnswers{"E", nd}) {
		t.Errorf("unexpected answers %v", got)
	}

	fallback := NewAnswerExtractor("123")
	if fallback.Alphabet() != omr.DefaultAlphabet {
		t.Errorf("expected fallback to default alphabet, got %s", fallback.Alphabet())
	}
}

func TestMapCSVRecord(t *testing.T) {
	row := MapCSVRecord(GradedSheet{
		Filename: "sheet.png",
		Score:    "4/5",
		Correct:  4,
		Total:    5,
		Answers:  []string{"A", nd},
		Text:     "1. A\n2. X\n",
	})
	expected := []string{"sheet.png", "4/5", "4", "5", "A; not detected", "1. A | 2. X"}
	if !reflect.DeepEqual(row, expected) {
		t.Errorf("expected %v, got %v", expected, row)
	}
	if len(GetCSVHeader()) != len(row) {
		t.Errorf("header and record lengths differ")
	}
}
