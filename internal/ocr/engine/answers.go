package engine

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Vision models are asked for JSON and their answers are rendered back into
// the "<n>. <letter>" lines the answer extractor understands, so the
// extractor stays engine-agnostic.
const sheetPrompt = `
You are an optical mark recognition helper.
The image is a multiple-choice answer sheet. Each question has a number and one shaded or marked choice.

Your job:

1. For every question you can read, report the question number and the marked choice letter.
2. Use only these choice letters: %s
3. Skip questions with no mark or more than one mark.
4. Return **only** a JSON object with this exact schema:

{
  "answers": [{"question": <number>, "choice": "<letter>"}, ...]
}

* Do not add any other text, explanations, or formatting.
* Make sure the JSON is syntactically correct – double quotes, no trailing commas, no comments.
`

type sheetAnswers struct {
	Answers []struct {
		Question int    `json:"question"`
		Choice   string `json:"choice"`
	} `json:"answers"`
}

func buildPrompt(whitelist string) string {
	var letters []string
	for _, r := range whitelist {
		if r >= 'A' && r <= 'Z' {
			letters = append(letters, string(r))
		}
	}
	if len(letters) == 0 {
		letters = []string{"A", "B", "C", "D"}
	}
	return fmt.Sprintf(sheetPrompt, strings.Join(letters, ", "))
}

// answersToText renders a model's JSON answers as one "<n>. <letter>" line per question.
func answersToText(raw json.RawMessage) (string, error) {
	var parsed sheetAnswers
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("decoding answers: %w", err)
	}
	sort.SliceStable(parsed.Answers, func(i, j int) bool {
		return parsed.Answers[i].Question < parsed.Answers[j].Question
	})
	var b strings.Builder
	for _, a := range parsed.Answers {
		choice := strings.TrimSpace(a.Choice)
		if a.Question <= 0 || choice == "" {
			continue
		}
		fmt.Fprintf(&b, "%d. %s\n", a.Question, strings.ToUpper(choice))
	}
	return b.String(), nil
}

func stripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
