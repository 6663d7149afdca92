// Package handlers ships ready-made pipeline handlers wired up by the run
// command: a plain echo reply and an OpenAI-backed reply.
package handlers

import (
	"context"
	"strings"

	"botpipe/pkg/pipeline"
)

// Echo returns a handler that replies to each message with its own text.
func Echo() pipeline.Handler {
	return func(ctx context.Context, mctx *pipeline.Context) error {
		content := strings.TrimSpace(mctx.Message.Content)
		if content == "" {
			return nil
		}
		return mctx.Send(ctx, content)
	}
}
