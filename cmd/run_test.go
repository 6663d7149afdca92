package cmd

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"botpipe/pkg/config"
	"botpipe/pkg/messaging/memory"
	"botpipe/pkg/pipeline"
)

func testPipeline(t *testing.T) *pipeline.Pipeline {
	t.Helper()

	client := memory.NewClient("botpipe")
	t.Cleanup(client.Close)

	pipe, err := pipeline.New(client, pipeline.Config{}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("pipeline.New: %v", err)
	}
	return pipe
}

func TestRegisterHandlersRequiresAtLeastOneHandler(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{}
	if _, err := registerHandlers(cfg, testPipeline(t)); err == nil {
		t.Fatal("expected error when no handlers are enabled")
	}
}

func TestRegisterHandlersEcho(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{}
	cfg.Handlers.Echo.Enabled = true

	registered, err := registerHandlers(cfg, testPipeline(t))
	if err != nil {
		t.Fatalf("registerHandlers: %v", err)
	}
	if len(registered) != 1 || registered[0] != "echo" {
		t.Fatalf("registered = %v, want [echo]", registered)
	}
}

func TestRegisterHandlersOpenAI(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "test-key")

	cfg := &config.Config{}
	cfg.Handlers.OpenAI.Enabled = true
	cfg.Handlers.OpenAI.Model = "gpt-4.1-mini"

	registered, err := registerHandlers(cfg, testPipeline(t))
	if err != nil {
		t.Fatalf("registerHandlers: %v", err)
	}
	if len(registered) != 1 || registered[0] != "openai" {
		t.Fatalf("registered = %v, want [openai]", registered)
	}
}

func TestRegisterHandlersOpenAIMissingModel(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "test-key")

	cfg := &config.Config{}
	cfg.Handlers.OpenAI.Enabled = true

	if _, err := registerHandlers(cfg, testPipeline(t)); err == nil {
		t.Fatal("expected error for openai handler without a model")
	}
}

func TestBackendNameDefaultsToTelegram(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{}
	if got := backendName(cfg); got != "telegram" {
		t.Fatalf("backendName = %q, want %q", got, "telegram")
	}

	cfg.Channels.Backend = " Memory "
	if got := backendName(cfg); got != "memory" {
		t.Fatalf("backendName = %q, want %q", got, "memory")
	}
}

func TestNewBackendMemory(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{}
	cfg.Channels.Backend = "memory"

	client, err := newBackend(context.Background(), cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("newBackend: %v", err)
	}
	if client.InboxID() == "" {
		t.Fatal("expected memory backend to report an inbox identity")
	}
}

func TestNewBackendUnknown(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{}
	cfg.Channels.Backend = "carrier-pigeon"

	if _, err := newBackend(context.Background(), cfg, slog.New(slog.NewTextHandler(io.Discard, nil))); err == nil {
		t.Fatal("expected error for unknown backend")
	}
}
