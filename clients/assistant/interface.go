package assistant

import "context"

type API interface {
	SendPrompt(ctx context.Context, prompt string) (string, error)
}
