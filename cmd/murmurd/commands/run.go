package commands

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/murmur-app/murmur/internal/engine"
	"github.com/murmur-app/murmur/internal/lifecycle"
	"github.com/murmur-app/murmur/internal/mic"
	"github.com/murmur-app/murmur/internal/orchestrator"
	"github.com/murmur-app/murmur/internal/server"
	"github.com/murmur-app/murmur/internal/speaker"
	"github.com/murmur-app/murmur/internal/store"
	"github.com/murmur-app/murmur/internal/tap"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the capture session and event server",
	RunE:  runSession,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runSession(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	db, err := store.OpenBadger(store.BadgerOptions{Dir: cfg.StorePath})
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	gateway := engine.NewClient(engine.ClientConfig{
		Addr:    cfg.EngineAddr,
		Timeout: cfg.EngineTimeout,
	})

	monitor := lifecycle.NewMonitor(
		lifecycle.NewSystemEnumerator(cfg.KnownApps),
		lifecycle.Options{
			PollInterval: cfg.PollInterval,
			StartDelay:   cfg.StartDelay,
			GracePeriod:  cfg.GracePeriod,
			KnownApps:    cfg.KnownApps,
		})

	orch := orchestrator.New(orchestrator.Deps{
		Config:  cfg,
		Monitor: monitor,
		Mic: mic.New(mic.Config{
			DeviceName:  cfg.InputDevice,
			BufferDepth: cfg.BufferDepth,
			StopDelay:   cfg.TeardownDelay,
		}),
		Taps: tap.NewManager(platformBackend(), tap.Config{
			BufferDepth:   cfg.BufferDepth,
			TeardownDelay: cfg.TeardownDelay,
		}),
		Engine: gateway,
		Resolver: speaker.NewResolver(speaker.Config{
			EmbeddingDim:   cfg.EmbeddingDim,
			MatchThreshold: cfg.MatchThreshold,
		}, db),
		Store: db,
	})

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	if err := orch.Start(ctx); err != nil {
		return err
	}

	srv := server.New(orch, db)
	httpServer := &http.Server{
		Addr:         cfg.EventAddr,
		Handler:      srv.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		slog.Info("event server starting", "addr", cfg.EventAddr, "engine", cfg.EngineAddr)
		if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
			slog.Error("http server error", "error", err)
		}
	}()

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	slog.Info("shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("http shutdown error", "error", err)
	}

	orch.Stop(shutdownCtx)
	slog.Info("shutdown complete")
	return nil
}

// platformBackend returns the per-process tap backend for this build.
// Without a platform tap API the session degrades to microphone-only
// capture.
func platformBackend() tap.Backend {
	return tap.UnsupportedBackend{}
}
