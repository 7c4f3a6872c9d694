package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/example/captcha-relay/internal/models"
)

const DefaultOpenAIURL = "https://api.openai.com"

// OpenAIClient uses Chat Completions with an image_url data part. Works with
// OpenAI-compatible gateways via BaseURL.
type OpenAIClient struct {
	APIKey  string
	Model   string
	BaseURL string
	HTTP    *http.Client
}

func (c *OpenAIClient) Recognize(ctx context.Context, img models.Image) (string, error) {
	dataURL := fmt.Sprintf("data:%s;base64,%s", img.MIMEType, img.Base64())
	body := map[string]any{
		"model": c.Model,
		"messages": []map[string]any{{
			"role": "user",
			"content": []map[string]any{
				{"type": "text", "text": Instruction},
				{"type": "image_url", "image_url": map[string]string{"url": dataURL}},
			},
		}},
		"temperature": Temperature,
		"max_tokens":  MaxOutputTokens,
	}
	var resp struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	headers := map[string]string{"Authorization": "Bearer " + c.APIKey}
	if err := postJSON(ctx, c.httpClient(), "openai", c.endpoint("/v1/chat/completions"), headers, body, &resp); err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("openai: no choices in response")
	}
	ans, err := answerOrError(resp.Choices[0].Message.Content)
	if err != nil {
		return "", fmt.Errorf("openai: %w", err)
	}
	return ans, nil
}

func (c *OpenAIClient) endpoint(path string) string {
	base := strings.TrimRight(c.BaseURL, "/")
	if base == "" {
		base = DefaultOpenAIURL
	}
	return base + path
}

func (c *OpenAIClient) httpClient() *http.Client {
	if c.HTTP != nil {
		return c.HTTP
	}
	return newHTTPClient(0)
}
