package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/example/captcha-relay/internal/models"
)

const DefaultAnthropicURL = "https://api.anthropic.com/v1/messages"

type AnthropicClient struct {
	APIKey string
	Model  string
	URL    string
	HTTP   *http.Client
}

func (c *AnthropicClient) Recognize(ctx context.Context, img models.Image) (string, error) {
	body := map[string]any{
		"model":       c.Model,
		"max_tokens":  MaxOutputTokens,
		"temperature": Temperature,
		"messages": []map[string]any{{
			"role": "user",
			"content": []map[string]any{
				{"type": "image", "source": map[string]string{
					"type":       "base64",
					"media_type": img.MIMEType,
					"data":       img.Base64(),
				}},
				{"type": "text", "text": Instruction},
			},
		}},
	}
	var resp struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	}
	headers := map[string]string{
		"x-api-key":         c.APIKey,
		"anthropic-version": "2023-06-01",
	}
	url := c.URL
	if url == "" {
		url = DefaultAnthropicURL
	}
	if err := postJSON(ctx, c.httpClient(), "anthropic", url, headers, body, &resp); err != nil {
		return "", err
	}
	if len(resp.Content) == 0 {
		return "", errors.New("anthropic: no content in response")
	}
	var sb strings.Builder
	for _, block := range resp.Content {
		if block.Type == "" || block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	ans, err := answerOrError(sb.String())
	if err != nil {
		return "", fmt.Errorf("anthropic: %w", err)
	}
	return ans, nil
}

func (c *AnthropicClient) httpClient() *http.Client {
	if c.HTTP != nil {
		return c.HTTP
	}
	return newHTTPClient(0)
}
