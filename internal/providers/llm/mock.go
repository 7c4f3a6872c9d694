package llm

import (
	"context"

	"github.com/example/captcha-relay/internal/models"
)

// MockClient answers every image with Answer. Used for local runs without a provider.
type MockClient struct {
	Answer string
}

func (m *MockClient) Recognize(ctx context.Context, img models.Image) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if m.Answer == "" {
		return "42", nil
	}
	return m.Answer, nil
}
