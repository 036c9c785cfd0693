package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/agentflow/orchestrator/internal/adapters/llmworker"
	"github.com/agentflow/orchestrator/internal/adapters/notifier"
	"github.com/agentflow/orchestrator/internal/apperr"
	"github.com/agentflow/orchestrator/internal/config"
	"github.com/agentflow/orchestrator/internal/coordinator"
	"github.com/agentflow/orchestrator/internal/observability"
	"github.com/agentflow/orchestrator/internal/store"
)

// runtime bundles the store and coordinator every subcommand needs,
// built once from the resolved configuration and torn down on exit.
type runtime struct {
	cfg   *config.Config
	store *store.Store
	coord *coordinator.Coordinator
}

// openRuntime loads configuration, opens the store, and assembles the
// coordinator. cli.EnvFile is loaded first, best-effort, so adapter
// secrets are in the environment before AdapterConfig's env-var names
// are resolved.
func openRuntime(ctx context.Context, cli *CLI) (*runtime, error) {
	if err := godotenv.Load(cli.EnvFile); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "orchestratord: warning: could not load %s: %v\n", cli.EnvFile, err)
	}

	cfg, err := config.Load(cli.ConfigFile)
	if err != nil {
		return nil, err
	}

	st, err := store.Open(ctx, store.Config{
		Path:            cfg.Store.Path,
		MaxOpenConns:    cfg.Store.MaxOpenConns,
		ConnMaxLifetime: cfg.Store.ConnMaxLifetime,
	})
	if err != nil {
		return nil, err
	}

	metrics := observability.NewMetrics("orchestrator")
	auditor := observability.NewAuditor(st)

	var worker *llmworker.Worker
	if apiKey := os.Getenv(cfg.Adapters.LLMAPIKeyEnv); apiKey != "" {
		worker = llmworker.New(llmworker.Config{APIKey: apiKey})
	}

	var notifySvc *notifier.Service
	if token := os.Getenv(cfg.Adapters.SlackTokenEnv); token != "" {
		notifySvc = notifier.NewService(token, cfg.Adapters.SlackChannel)
	}

	coordCfg := coordinator.Config{
		Notifier: notifySvc,
		Metrics:  metrics,
		Auditor:  auditor,
		Webhooks: cfg.Webhooks,
	}
	if worker != nil {
		coordCfg.LlmWorker = worker
		coordCfg.Summarizer = worker
	}

	coord := coordinator.New(st, coordCfg)

	return &runtime{cfg: cfg, store: st, coord: coord}, nil
}

func (r *runtime) Close() error {
	return r.store.Close()
}

// exitCodeFor maps the closed apperr.Kind taxonomy onto the daemon's
// documented process exit codes. A nil error or one outside the
// taxonomy falls back to 0/1 respectively.
func exitCodeFor(err error) int {
	if err == nil {
		return 0
	}
	var ae *apperr.Error
	if !errors.As(err, &ae) {
		return 1
	}
	switch ae.Kind {
	case apperr.KindValidation:
		return 2
	case apperr.KindNotFound:
		return 3
	case apperr.KindConflict, apperr.KindInvariantViolation, apperr.KindDependencyNotReady:
		return 4
	case apperr.KindStorageUnavailable:
		return 5
	case apperr.KindTransient, apperr.KindFatalExternal:
		return 6
	case apperr.KindCancelled:
		return 0
	default:
		return 1
	}
}
