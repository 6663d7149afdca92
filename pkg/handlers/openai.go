package handlers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"botpipe/pkg/config"
	"botpipe/pkg/pipeline"

	osdk "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/responses"
)

// AIReplier answers inbound text with a model completion.
type AIReplier struct {
	client         osdk.Client
	model          string
	systemPrompt   string
	requestTimeout time.Duration
}

// NewAIReplier builds the replier from handler config. The API key comes
// from cfg.APIKeyEnv when set, falling back to OPENAI_API_KEY.
func NewAIReplier(cfg config.OpenAIHandlerConfig) (*AIReplier, error) {
	apiKey := resolveAPIKey(cfg)
	if apiKey == "" {
		return nil, errors.New("handlers.openai.api_key_env is required or OPENAI_API_KEY must be set")
	}

	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		return nil, errors.New("handlers.openai.model is required")
	}

	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL := strings.TrimSpace(cfg.BaseURL); baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}

	requestTimeout := time.Duration(cfg.RequestTimeoutSeconds) * time.Second
	if requestTimeout > 0 {
		opts = append(opts, option.WithRequestTimeout(requestTimeout))
	}

	return &AIReplier{
		client:         osdk.NewClient(opts...),
		model:          model,
		systemPrompt:   strings.TrimSpace(cfg.SystemPrompt),
		requestTimeout: requestTimeout,
	}, nil
}

// Handler adapts the replier into a pipeline handler. Empty messages are
// ignored; completion and delivery failures propagate to the pipeline's
// error event.
func (r *AIReplier) Handler() pipeline.Handler {
	return func(ctx context.Context, mctx *pipeline.Context) error {
		prompt := strings.TrimSpace(mctx.Message.Content)
		if prompt == "" {
			return nil
		}

		reply, err := r.complete(ctx, prompt)
		if err != nil {
			return err
		}
		return mctx.Send(ctx, reply)
	}
}

func (r *AIReplier) complete(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	log := replierLogger()
	startedAt := time.Now()
	log.Debug("completion started", "model", r.model, "prompt_length", len(prompt))

	params := responses.ResponseNewParams{
		Model: r.model,
		Input: responses.ResponseNewParamsInputUnion{OfString: osdk.String(prompt)},
	}
	if r.systemPrompt != "" {
		params.Instructions = osdk.String(r.systemPrompt)
	}

	response, err := r.client.Responses.New(ctx, params)
	if err != nil {
		log.Debug("completion failed", "duration_ms", time.Since(startedAt).Milliseconds(), "error", err)
		return "", fmt.Errorf("completion failed: %w", err)
	}

	text := strings.TrimSpace(response.OutputText())
	if text == "" {
		log.Debug("completion failed", "duration_ms", time.Since(startedAt).Milliseconds(), "error", "no output text")
		return "", errors.New("completion returned no text")
	}
	log.Debug("completion finished", "duration_ms", time.Since(startedAt).Milliseconds(), "response_length", len(text))

	return text, nil
}

func (r *AIReplier) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.requestTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, r.requestTimeout)
}

func replierLogger() *slog.Logger {
	return slog.Default().With("component", "handlers.openai")
}

func resolveAPIKey(cfg config.OpenAIHandlerConfig) string {
	if apiKeyEnv := strings.TrimSpace(cfg.APIKeyEnv); apiKeyEnv != "" {
		if apiKey := strings.TrimSpace(os.Getenv(apiKeyEnv)); apiKey != "" {
			return apiKey
		}
	}

	return strings.TrimSpace(os.Getenv("OPENAI_API_KEY"))
}
