package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"

	genai "github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/example/captcha-relay/internal/models"
)

// GeminiSDKClient goes through the official generative-ai-go client.
type GeminiSDKClient struct {
	client *genai.Client
	model  *genai.GenerativeModel
}

func NewGeminiSDKClient(ctx context.Context, apiKey, model, endpoint string) (*GeminiSDKClient, error) {
	opts := []option.ClientOption{option.WithAPIKey(apiKey)}
	if endpoint != "" {
		opts = append(opts, option.WithEndpoint(endpoint))
	}
	c, err := genai.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	m := c.GenerativeModel(model)
	m.SetTemperature(Temperature)
	m.SetMaxOutputTokens(MaxOutputTokens)
	return &GeminiSDKClient{client: c, model: m}, nil
}

func (r *GeminiSDKClient) Recognize(ctx context.Context, img models.Image) (string, error) {
	resp, err := r.model.GenerateContent(ctx,
		genai.Text(Instruction),
		genai.Blob{MIMEType: img.MIMEType, Data: img.Data},
	)
	if err != nil {
		return "", fmt.Errorf("gemini: %w", err)
	}
	if resp == nil || len(resp.Candidates) == 0 {
		if resp != nil && resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != genai.BlockReasonUnspecified {
			return "", fmt.Errorf("gemini blocked the request: %s", resp.PromptFeedback.BlockReason)
		}
		return "", errors.New("gemini: no candidates in response")
	}
	ans, err := answerOrError(firstText(resp))
	if err != nil {
		return "", fmt.Errorf("gemini: %w", err)
	}
	return ans, nil
}

func (r *GeminiSDKClient) Close() error { return r.client.Close() }

// sdkEndpoint turns the REST base URL shared with the gemini backend
// (https://host/v1beta) into the host:port form the SDK dials.
func sdkEndpoint(base string) string {
	base = strings.TrimSpace(base)
	if base == "" {
		return ""
	}
	host := base
	if u, err := url.Parse(base); err == nil && u.Host != "" {
		host = u.Host
	} else {
		host, _, _ = strings.Cut(base, "/")
	}
	if _, _, err := net.SplitHostPort(host); err != nil {
		host = net.JoinHostPort(host, "443")
	}
	return host
}

func firstText(r *genai.GenerateContentResponse) string {
	var sb strings.Builder
	for _, c := range r.Candidates {
		if c.Content == nil {
			continue
		}
		for _, part := range c.Content.Parts {
			if t, ok := part.(genai.Text); ok {
				sb.WriteString(string(t))
			}
		}
		if sb.Len() > 0 {
			break
		}
	}
	return sb.String()
}
