package llm

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Backends understood by New.
const (
	BackendGemini    = "gemini"
	BackendGeminiSDK = "gemini-sdk"
	BackendOpenAI    = "openai"
	BackendAnthropic = "anthropic"
	BackendMock      = "mock"
)

type Config struct {
	Backend string
	APIKey  string
	Model   string
	BaseURL string
	Timeout time.Duration
}

// New builds the Client for cfg.Backend. An empty backend means the Gemini REST client.
func New(ctx context.Context, cfg Config) (Client, error) {
	hc := newHTTPClient(cfg.Timeout)
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case BackendGemini, "":
		return &GeminiHTTPClient{APIKey: cfg.APIKey, Model: cfg.Model, BaseURL: cfg.BaseURL, HTTP: hc}, nil
	case BackendGeminiSDK:
		return NewGeminiSDKClient(ctx, cfg.APIKey, cfg.Model, sdkEndpoint(cfg.BaseURL))
	case BackendOpenAI:
		return &OpenAIClient{APIKey: cfg.APIKey, Model: cfg.Model, BaseURL: cfg.BaseURL, HTTP: hc}, nil
	case BackendAnthropic:
		return &AnthropicClient{APIKey: cfg.APIKey, Model: cfg.Model, URL: cfg.BaseURL, HTTP: hc}, nil
	case BackendMock:
		return &MockClient{}, nil
	default:
		return nil, fmt.Errorf("unknown provider backend %q", cfg.Backend)
	}
}
