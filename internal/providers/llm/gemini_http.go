package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/example/captcha-relay/internal/models"
)

const DefaultGeminiURL = "https://generativelanguage.googleapis.com/v1beta"

// GeminiHTTPClient calls the Gemini generateContent REST endpoint directly.
type GeminiHTTPClient struct {
	APIKey  string
	Model   string
	BaseURL string
	HTTP    *http.Client
}

type geminiPart struct {
	Text       string            `json:"text,omitempty"`
	InlineData *geminiInlineData `json:"inline_data,omitempty"`
}

type geminiInlineData struct {
	MIMEType string `json:"mime_type"`
	Data     string `json:"data"`
}

type geminiContent struct {
	Role  string       `json:"role"`
	Parts []geminiPart `json:"parts"`
}

type geminiRequest struct {
	Contents         []geminiContent `json:"contents"`
	GenerationConfig struct {
		Temperature     float64 `json:"temperature"`
		MaxOutputTokens int     `json:"maxOutputTokens"`
	} `json:"generationConfig"`
}

type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
		FinishReason string `json:"finishReason"`
	} `json:"candidates"`
	PromptFeedback *struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback"`
}

func (c *GeminiHTTPClient) Recognize(ctx context.Context, img models.Image) (string, error) {
	var body geminiRequest
	body.Contents = []geminiContent{{
		Role: "user",
		Parts: []geminiPart{
			{Text: Instruction},
			{InlineData: &geminiInlineData{MIMEType: img.MIMEType, Data: img.Base64()}},
		},
	}}
	body.GenerationConfig.Temperature = Temperature
	body.GenerationConfig.MaxOutputTokens = MaxOutputTokens

	var out geminiResponse
	if err := postJSON(ctx, c.httpClient(), "gemini", c.endpoint(), map[string]string{"x-goog-api-key": c.APIKey}, body, &out); err != nil {
		return "", err
	}
	if out.PromptFeedback != nil && out.PromptFeedback.BlockReason != "" {
		return "", fmt.Errorf("gemini blocked the request: %s", out.PromptFeedback.BlockReason)
	}
	if len(out.Candidates) == 0 {
		return "", errors.New("gemini: no candidates in response")
	}
	var sb strings.Builder
	for _, p := range out.Candidates[0].Content.Parts {
		sb.WriteString(p.Text)
	}
	ans, err := answerOrError(sb.String())
	if err != nil {
		if fr := out.Candidates[0].FinishReason; fr != "" && fr != "STOP" {
			return "", fmt.Errorf("gemini: empty answer (finish reason %s)", fr)
		}
		return "", fmt.Errorf("gemini: %w", err)
	}
	return ans, nil
}

func (c *GeminiHTTPClient) endpoint() string {
	base := strings.TrimRight(c.BaseURL, "/")
	if base == "" {
		base = DefaultGeminiURL
	}
	return fmt.Sprintf("%s/models/%s:generateContent", base, url.PathEscape(c.Model))
}

func (c *GeminiHTTPClient) httpClient() *http.Client {
	if c.HTTP != nil {
		return c.HTTP
	}
	return newHTTPClient(0)
}
