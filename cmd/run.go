package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"botpipe/pkg/config"
	"botpipe/pkg/handlers"
	"botpipe/pkg/logger"
	"botpipe/pkg/messaging"
	"botpipe/pkg/messaging/memory"
	"botpipe/pkg/messaging/telegram"
	"botpipe/pkg/pipeline"
	"botpipe/pkg/pipeline/filter"
	"botpipe/pkg/service"

	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the message pipeline gateway",
	Long:  "Loads BotPipe configuration, connects the configured messaging backend, registers the enabled handlers, and runs the pipeline with health and readiness endpoints.",
	Run: func(cmd *cobra.Command, args []string) {
		_ = args

		cfg, err := config.LoadConfig()
		if err != nil {
			fmt.Printf("failed to load config: %v\n", err)
			return
		}

		appLogger, err := logger.New(cfg.Logging)
		if err != nil {
			fmt.Printf("failed to initialize logger: %v\n", err)
			return
		}
		slog.SetDefault(appLogger)
		log := slog.Default().With("component", "cmd.run")

		runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		client, err := newBackend(runCtx, cfg, log)
		if err != nil {
			log.Error("Failed to initialize messaging backend", "error", err)
			return
		}

		pipe, err := pipeline.New(client, pipeline.Config{
			StopOnHandlerError: cfg.Pipeline.StopOnHandlerError,
			EventBuffer:        cfg.Pipeline.EventBuffer,
		}, log)
		if err != nil {
			log.Error("Failed to initialize pipeline", "error", err)
			return
		}
		pipe.Use(pipeline.Logging(log))

		registered, err := registerHandlers(cfg, pipe)
		if err != nil {
			log.Error("Handler configuration invalid", "error", err)
			return
		}

		svc, err := service.New(cfg, pipe, log)
		if err != nil {
			log.Error("Failed to initialize service", "error", err)
			return
		}

		log.Info("Pipeline gateway started", "backend", backendName(cfg), "handlers", strings.Join(registered, ","))
		if err := svc.Run(runCtx); err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			log.Error("Pipeline gateway failed", "error", err)
		}
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func backendName(cfg *config.Config) string {
	name := strings.ToLower(strings.TrimSpace(cfg.Channels.Backend))
	if name == "" {
		name = "telegram"
	}
	return name
}

// newBackend builds the messaging client selected by channels.backend.
func newBackend(ctx context.Context, cfg *config.Config, log *slog.Logger) (messaging.Client, error) {
	switch backendName(cfg) {
	case "telegram":
		return telegram.NewClient(ctx, cfg.Channels.Telegram, log)
	case "memory":
		return memory.NewClient("botpipe"), nil
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Channels.Backend)
	}
}

// registerHandlers wires the enabled handlers onto the pipeline and returns
// their names. Registration happens before Start; at least one handler must
// be enabled for the gateway to be useful.
func registerHandlers(cfg *config.Config, pipe *pipeline.Pipeline) ([]string, error) {
	var registered []string

	if cfg.Handlers.Echo.Enabled {
		pipe.On(pipeline.KindText, handlers.Echo(), filter.NotFromSelf)
		registered = append(registered, "echo")
	}

	if cfg.Handlers.OpenAI.Enabled {
		replier, err := handlers.NewAIReplier(cfg.Handlers.OpenAI)
		if err != nil {
			return nil, fmt.Errorf("configure openai handler: %w", err)
		}
		pipe.On(pipeline.KindText, replier.Handler(), filter.NotFromSelf)
		registered = append(registered, "openai")
	}

	if len(registered) == 0 {
		return nil, errors.New("no handlers are enabled")
	}

	return registered, nil
}
