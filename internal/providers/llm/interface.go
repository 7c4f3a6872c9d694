package llm

import (
	"context"

	"github.com/example/captcha-relay/internal/models"
)

// Client turns a captcha image into its answer. Implementations make a single
// attempt; any failure is returned as an error for the caller to record.
type Client interface {
	Recognize(ctx context.Context, img models.Image) (string, error)
}
