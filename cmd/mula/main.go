package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/scanhive/mula/internal/api"
	"github.com/scanhive/mula/internal/config"
	"github.com/scanhive/mula/internal/supervisor"
)

const (
	version                   = "0.1.0"
	supervisorShutdownTimeout = 10 * time.Second
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sup, err := supervisor.NewFromConfig(ctx, cfg)
	if err != nil {
		log.Fatalf("supervisor: %v", err)
	}

	runDone := make(chan struct{})
	go func() {
		defer close(runDone)
		if err := sup.Run(ctx); err != nil {
			log.Printf("supervisor: run loop exited: %v", err)
		}
	}()

	a := api.New(sup, version)
	srv := &http.Server{Addr: cfg.Addr(), Handler: a.Routes()}

	go func() {
		<-ctx.Done()
		log.Println("mula: shutdown signal received, stopping schedulers and API")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), supervisorShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("mula: API shutdown: %v", err)
		}
	}()

	log.Printf("mula: control API listening on %s", cfg.Addr())
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("mula: control API: %v", err)
	}
	<-runDone
}
