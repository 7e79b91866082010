package main

import (
	"context"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"liveclass/internal/app"
	"liveclass/internal/auth"
	"liveclass/internal/config"
	"liveclass/internal/handler"
	"liveclass/internal/httpmiddleware"
	"liveclass/internal/live"
	"liveclass/internal/webhook"
	"liveclass/internal/worker"
)

func main() {
	cfg := config.Load()

	if cfg.Production() {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := runHTTP(cfg); err != nil {
		log.Fatalf("http server failed: %v", err)
	}
}

func runHTTP(cfg config.App) error {
	svc, err := app.Build(cfg)
	if err != nil {
		return err
	}
	defer svc.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := live.NewHub(live.HubOptions{Keepalive: cfg.Keepalive, Buffer: cfg.SubscriberBuffer})
	machine := live.NewMachine(hub, live.Options{GraceWindow: cfg.GraceWindow})
	hub.Attach(machine.Observe)

	if cfg.WebhookSecret == "" {
		log.Println("WEBHOOK_SECRET not set, every signed meeting event will be rejected")
	}
	hooks := webhook.NewHandler(webhook.NewVerifier(cfg.WebhookSecret, cfg.WebhookTolerance), machine)

	api := handler.New(handler.Deps{
		Live:       machine,
		Streams:    hub,
		Members:    svc.Roster,
		Identities: svc.Identities,
		Jobs:       svc.Scheduler,
		Queue:      svc.Queue,
		Calendar:   svc.Calendar,
		Reminders:  svc.Rebuilder,
	})

	// The in-memory queue is only visible to this process, so the worker loops run here.
	workerDone := make(chan struct{})
	if cfg.QueueBackend == "memory" {
		go func() {
			defer close(workerDone)
			if err := worker.New(svc.Queue, svc.Rebuilder, svc.Executor).Run(ctx); err != nil {
				log.Printf("in-process worker failed: %v", err)
			}
		}()
	} else {
		close(workerDone)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))
	r.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		AllowCredentials: true,
		MaxAge:           24 * time.Hour,
	}))
	r.Use(securityHeaders())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/healthz", func(c *gin.Context) {
		dbHealthy := svc.DB.Client.PingContext(c.Request.Context()) == nil
		redisHealthy := true
		if svc.Redis != nil {
			redisHealthy = svc.Redis.Healthy(c.Request.Context())
		}
		status := http.StatusOK
		if !redisHealthy || !dbHealthy {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"status": "ok", "redis": redisHealthy, "db": dbHealthy, "subscribers": hub.Len()})
	})

	r.POST("/webhooks/meeting", hooks.Handle)

	limiter := httpmiddleware.NewTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin)
	api.Routes(r.Group("/v1", limiter.GinMiddleware(), auth.OperatorAuth(cfg.JWTSigningKey, cfg.JWTIssuer)))

	// WriteTimeout stays unset: the live stream holds its response open indefinitely.
	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           r,
		BaseContext:       func(net.Listener) context.Context { return ctx },
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("Starting server on :%s", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	// Request contexts derive from ctx, so cancelling it ends open streams that Shutdown would wait on.
	srv.RegisterOnShutdown(cancel)
	shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced shutdown: %v", err)
	}
	cancel()
	<-workerDone

	log.Println("Server exited")
	return nil
}

func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")

		if gin.Mode() == gin.ReleaseMode {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		c.Next()
	}
}
