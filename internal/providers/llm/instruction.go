package llm

import (
	"errors"
	"strings"
)

// Instruction is sent alongside every image.
const Instruction = `The image is a captcha. It shows either a string of letters and digits, or an arithmetic expression.
If it is a string, reply with exactly that string, preserving case.
If it is an arithmetic expression, evaluate it and reply with only the numeric result.
Reply with the answer only: no explanation, no punctuation, no quotes.`

// Generation settings. Answers are a short token or number.
const (
	Temperature     = 0.1
	MaxOutputTokens = 32
)

var ErrEmptyAnswer = errors.New("provider returned an empty answer")

// normalizeAnswer strips the wrapping models tend to add around a bare answer.
func normalizeAnswer(s string) string {
	t := strings.TrimSpace(s)
	if strings.HasPrefix(t, "```") {
		t = strings.TrimPrefix(t, "```")
		// drop a language hint on the fence line
		if idx := strings.IndexByte(t, '\n'); idx != -1 {
			t = t[idx+1:]
		}
		if j := strings.LastIndex(t, "```"); j != -1 {
			t = t[:j]
		}
		t = strings.TrimSpace(t)
	}
	t = strings.Trim(t, "`\"'")
	t = strings.TrimSuffix(t, ".")
	return strings.TrimSpace(t)
}

func answerOrError(raw string) (string, error) {
	ans := normalizeAnswer(raw)
	if ans == "" {
		return "", ErrEmptyAnswer
	}
	return ans, nil
}
