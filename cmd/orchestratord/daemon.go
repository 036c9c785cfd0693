package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/agentflow/orchestrator/internal/retention"
	"github.com/agentflow/orchestrator/internal/webhook"
)

// DaemonCmd groups the long-running process lifecycle subcommands.
type DaemonCmd struct {
	Start DaemonStartCmd `cmd:"" help:"Run the orchestrator daemon in the foreground."`
	Stop  DaemonStopCmd  `cmd:"" help:"Request a graceful shutdown of a running daemon."`
	Status DaemonStatusCmd `cmd:"" help:"Report whether the daemon's store is reachable."`
}

// DaemonStartCmd boots the coordinator, the retention sweep, and the
// webhook/health/metrics HTTP server, and blocks until SIGINT/SIGTERM.
type DaemonStartCmd struct{}

func (c *DaemonStartCmd) Run(cli *CLI) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		slog.Info("shutdown signal received")
		cancel()
	}()

	rt, err := openRuntime(ctx, cli)
	if err != nil {
		return err
	}
	defer rt.Close()

	if _, err := rt.store.RevertInFlight(ctx); err != nil {
		slog.Error("revert in-flight events on startup failed", "error", err)
	}

	secret := []byte(os.Getenv(rt.cfg.Adapters.WebhookSecretEnv))
	wh := webhook.New(rt.coord.Queue(), secret)

	retentionSvc := retention.New(rt.store, rt.cfg.Retention)
	retentionSvc.Start(ctx)
	defer retentionSvc.Stop()

	router := gin.Default()
	wh.Register(router)
	router.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	if rt.coord.Metrics() != nil {
		router.GET("/metrics", gin.WrapH(rt.coord.Metrics().Handler()))
	}

	srv := &http.Server{Addr: rt.cfg.HTTP.ListenAddr, Handler: router}
	go func() {
		slog.Info("http server listening", "addr", rt.cfg.HTTP.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("http server failed", "error", err)
			cancel()
		}
	}()

	go rt.coord.Run(ctx)

	<-ctx.Done()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("http server shutdown failed", "error", err)
	}
	return nil
}

// DaemonStopCmd is documented for operator symmetry with start/status;
// since the daemon is a single foreground process with no supervisor
// socket in this deployment shape, stopping it is done by signalling
// the process directly (systemd, docker stop, ^C).
type DaemonStopCmd struct{}

func (c *DaemonStopCmd) Run(cli *CLI) error {
	slog.Info("send SIGTERM to the running orchestratord process to stop it gracefully")
	return nil
}

// DaemonStatusCmd reports whether the configured store is reachable,
// a cheap proxy for "is this daemon's data plane healthy" without
// requiring the daemon itself to expose a control socket.
type DaemonStatusCmd struct{}

func (c *DaemonStatusCmd) Run(cli *CLI) error {
	ctx := context.Background()
	rt, err := openRuntime(ctx, cli)
	if err != nil {
		return err
	}
	defer rt.Close()

	counts, err := rt.store.AgentStateCounts(ctx)
	if err != nil {
		return err
	}
	slog.Info("daemon status", "store", rt.cfg.Store.Path, "agent_state_counts", counts)
	return nil
}
