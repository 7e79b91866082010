package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"liveclass/internal/app"
	"liveclass/internal/config"
	"liveclass/internal/worker"
)

// Worker delivers due notification jobs and runs queued reminder rebuilds.
func main() {
	cfg := config.Load()
	if cfg.QueueBackend == "memory" {
		log.Fatal("QUEUE_BACKEND=memory runs the worker inside the api process; use redis for a separate worker")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("shutdown signal received")
		cancel()
	}()

	svc, err := app.Build(cfg)
	if err != nil {
		log.Fatalf("worker init failed: %v", err)
	}
	defer svc.Close()

	if !svc.Redis.Healthy(ctx) {
		log.Printf("WARNING: redis at %s not reachable, rebuild requests will wait until it is", cfg.RedisAddr)
	}

	// Executor and rebuild metrics are scraped from the worker itself.
	metricsSrv := &http.Server{Addr: ":" + cfg.WorkerMetricsPort, Handler: promhttp.Handler(), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("metrics server failed: %v", err)
		}
	}()

	if err := worker.New(svc.Queue, svc.Rebuilder, svc.Executor).Run(ctx); err != nil {
		log.Printf("queue consume init failed: %v", err)
	}

	shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
	defer stop()
	_ = metricsSrv.Shutdown(shutdownCtx)
}
