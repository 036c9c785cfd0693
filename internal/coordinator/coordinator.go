// Package coordinator is the composition root: it wires the store,
// event queue, scheduler, agent core, and pipeline engine into one
// running daemon, registers the concrete adapters behind agentcore's
// and pipeline's narrow interfaces, and owns the top-level run/
// shutdown lifecycle.
package coordinator

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/agentflow/orchestrator/internal/adapters"
	"github.com/agentflow/orchestrator/internal/agentcore"
	"github.com/agentflow/orchestrator/internal/autonomous"
	"github.com/agentflow/orchestrator/internal/config"
	"github.com/agentflow/orchestrator/internal/eventqueue"
	"github.com/agentflow/orchestrator/internal/observability"
	"github.com/agentflow/orchestrator/internal/pipeline"
	"github.com/agentflow/orchestrator/internal/scheduler"
	"github.com/agentflow/orchestrator/internal/store"
)

// Config bundles every external adapter and tuning knob the
// coordinator needs to assemble the rest of the daemon. Adapters are
// accepted as interfaces so tests and cmd/orchestratord can both
// supply their own (a fake LlmWorker in tests, the real
// llmworker.Worker in production).
type Config struct {
	LlmWorker   adapters.LlmWorker
	Summarizer  agentcore.Summarizer
	Notifier    adapters.Notifier
	Metrics     *observability.Metrics
	Auditor     *observability.Auditor
	PoolConfig  eventqueue.PoolConfig
	LoopConfig  scheduler.LoopConfig
	ServiceName string

	// Webhooks routes recognised inbound event kinds to the agent kind
	// they spawn and the filter gating which deliveries qualify. A
	// nil/empty registry means webhook-triggered spawns are disabled;
	// schedule.fire always has its own dedicated handler regardless of
	// this field.
	Webhooks config.WebhookRegistry
}

// Coordinator owns every long-running component of the daemon and
// drives them from a single Run call.
type Coordinator struct {
	store  *store.Store
	queue  *eventqueue.Queue
	pool   *eventqueue.Pool
	sched  *scheduler.Scheduler
	core   *agentcore.Core
	engine *pipeline.Engine

	autoCtrl *autonomous.Controller
	recovery *autonomous.RecoveryPolicy

	llmWorker adapters.LlmWorker
	notifier  adapters.Notifier
	metrics   *observability.Metrics
	auditor   *observability.Auditor

	loopConfig scheduler.LoopConfig
	webhooks   config.WebhookRegistry
	tracer     trace.Tracer
}

// New assembles a Coordinator over s. cfg.Summarizer is typically the
// same concrete value as cfg.LlmWorker (llmworker.Worker implements
// both interfaces over one Anthropic client), kept as separate fields
// because agentcore depends only on the narrow Summarizer interface
// and never imports the adapters package. A nil Notifier is accepted
// (adapters/notifier.Service is nil-safe) so an unconfigured
// notification channel never needs special-casing here.
func New(s *store.Store, cfg Config) *Coordinator {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "orchestratord"
	}
	if cfg.PoolConfig == (eventqueue.PoolConfig{}) {
		cfg.PoolConfig = eventqueue.DefaultPoolConfig()
	}
	if cfg.LoopConfig == (scheduler.LoopConfig{}) {
		cfg.LoopConfig = scheduler.DefaultLoopConfig()
	}

	queue := eventqueue.New(s)
	core := agentcore.New(s, cfg.Summarizer)

	c := &Coordinator{
		store:      s,
		queue:      queue,
		sched:      scheduler.New(s, queue),
		core:       core,
		autoCtrl:   autonomous.New(s),
		recovery:   autonomous.NewRecoveryPolicy(s, core),
		llmWorker:  cfg.LlmWorker,
		notifier:   cfg.Notifier,
		metrics:    cfg.Metrics,
		auditor:    cfg.Auditor,
		loopConfig: cfg.LoopConfig,
		webhooks:   cfg.Webhooks,
		tracer:     trace.NewNoopTracerProvider().Tracer(cfg.ServiceName),
	}
	c.engine = pipeline.New(s, &agentSpawner{core: core, metrics: cfg.Metrics})
	c.pool = eventqueue.NewPool(queue, cfg.PoolConfig, c.handlers())
	return c
}

// WithTracerProvider installs a real tracer, overriding the no-op
// default New builds. Call after NewTracerProvider so every span this
// package starts is actually sampled and recorded.
func (c *Coordinator) WithTracerProvider(tp trace.TracerProvider, serviceName string) *Coordinator {
	c.tracer = tp.Tracer(serviceName)
	return c
}

// Engine exposes the pipeline engine for webhook/CLI callers that need
// to start or advance runs directly.
func (c *Coordinator) Engine() *pipeline.Engine { return c.engine }

// Queue exposes the event queue for webhook ingestion to enqueue into.
func (c *Coordinator) Queue() *eventqueue.Queue { return c.queue }

// Core exposes the agent core for CLI commands that spawn or inspect
// agents directly, outside of a pipeline stage or schedule fire.
func (c *Coordinator) Core() *agentcore.Core { return c.core }

// Metrics exposes the Prometheus registry for cmd/orchestratord to
// mount as an HTTP handler. May be nil if Config.Metrics was never set.
func (c *Coordinator) Metrics() *observability.Metrics { return c.metrics }

// Auditor exposes the audit log writer for webhook/CLI callers that
// need to record an action outside of a pipeline stage or schedule
// fire. May be nil if Config.Auditor was never set.
func (c *Coordinator) Auditor() *observability.Auditor { return c.auditor }

// Autonomous exposes the epic controller for CLI commands that start
// or inspect autonomous sessions directly.
func (c *Coordinator) Autonomous() *autonomous.Controller { return c.autoCtrl }

// Run starts the event queue pool, the scheduler loop, the supervisor
// sweep loop, the autonomous drive loop, and the metrics gauge-refresh
// loop, and blocks until ctx is cancelled. All five run under one
// context so a single shutdown signal stops everything; Stop is only
// called on the pool since the other loops are plain ctx-selects with
// no separate drain step. The four background loops never return an
// error of their own (they log and keep going), and errgroup.Group
// cancels its derived context only when a function returns a non-nil
// error, so in practice the loops stop when ctx is cancelled and
// g.Wait collects them.
func (c *Coordinator) Run(ctx context.Context) {
	g, gctx := errgroup.WithContext(ctx)

	c.pool.Start(gctx)

	g.Go(func() error {
		c.sched.Run(gctx, c.loopConfig)
		return nil
	})
	g.Go(func() error {
		c.runSweepLoop(gctx)
		return nil
	})
	g.Go(func() error {
		c.runAutonomousLoop(gctx)
		return nil
	})
	g.Go(func() error {
		c.runGaugeRefreshLoop(gctx)
		return nil
	})

	<-ctx.Done()
	c.pool.Stop()
	_ = g.Wait()
}

// defaultGaugeRefreshInterval controls how often agent-state and cost
// gauges are recomputed wholesale from the store.
const defaultGaugeRefreshInterval = 30 * time.Second

// runGaugeRefreshLoop is a no-op loop (besides the ticker itself) when
// Metrics was never configured, since every Metrics method is nil-safe.
func (c *Coordinator) runGaugeRefreshLoop(ctx context.Context) {
	if c.metrics == nil {
		<-ctx.Done()
		return
	}
	ticker := time.NewTicker(defaultGaugeRefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := observability.RefreshGauges(ctx, c.store, c.metrics); err != nil {
				slog.Error("refresh metrics gauges failed", "error", err)
			}
		}
	}
}
