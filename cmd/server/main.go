package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dgallion1/docprompt/internal/api"
	"github.com/dgallion1/docprompt/internal/app"
	"github.com/dgallion1/docprompt/internal/config"
	"github.com/dgallion1/docprompt/internal/extract"
	"github.com/dgallion1/docprompt/internal/logging"
	"github.com/dgallion1/docprompt/internal/pipeline"
	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load(".env")

	cfg := config.Load()
	log := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err := cfg.ValidateServer(); err != nil {
		log.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize clients.
	comps, err := app.Build(ctx, cfg, log)
	if err != nil {
		log.Error("building pipeline", "error", err)
		os.Exit(1)
	}

	// Initialize pipeline.
	orch := pipeline.NewOrchestrator(comps.Pipeline, comps.Sink(cfg, log), cfg.OrchestratorConfig(), log)
	orch.Start(ctx)

	// Initialize HTTP server.
	var stats *extract.LatencyStats
	if comps.Extract != nil {
		stats = comps.Extract.Stats()
	}
	var docs api.DocumentStore
	if comps.Pathstore != nil {
		docs = comps.Pathstore
	}
	srv := api.NewServer(orch, docs, stats, log, cfg)

	httpServer := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      srv,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown.
	done := make(chan struct{})
	go func() {
		defer close(done)
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Info("shutting down...")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Warn("http shutdown", "error", err)
		}

		orch.Stop()
		comps.Close()
	}()

	log.Info("starting docprompt",
		"port", cfg.Port,
		"extract_mode", cfg.ExtractMode,
		"upload_providers", comps.Resolver.Providers(),
		"sink", comps.Pathstore != nil,
	)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error("server error", "error", err)
		os.Exit(1)
	}
	<-done
}
