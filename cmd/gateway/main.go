// Command gateway is the process entrypoint: it wires every layer in the
// order spec.md §2 names — config, KV store, auth credential store, event
// filter, webhook delivery engine, session registry, bootstrap resurrector —
// then starts the HTTP surface and waits for a shutdown signal.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/waconnect/waconnect-go/internal/api"
	"github.com/waconnect/waconnect-go/internal/authstore"
	"github.com/waconnect/waconnect-go/internal/bootstrap"
	"github.com/waconnect/waconnect-go/internal/config"
	"github.com/waconnect/waconnect-go/internal/eventfilter"
	"github.com/waconnect/waconnect-go/internal/kv"
	"github.com/waconnect/waconnect-go/internal/session"
	"github.com/waconnect/waconnect-go/internal/webhookqueue"
	"go.uber.org/zap"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()

	cfg := config.Load()
	sugar.Info("waconnect gateway starting")

	ctx := context.Background()
	store, err := kv.Connect(ctx, kv.Config{
		URL:      cfg.Redis.URL,
		Host:     cfg.Redis.Host,
		Port:     cfg.Redis.Port,
		DB:       cfg.Redis.DB,
		Password: cfg.Redis.Password,
	}, sugar)
	if err != nil {
		sugar.Fatalf("failed to connect to key-value store: %v", err)
	}

	auth := authstore.New(store)
	filter := eventfilter.New(eventfilter.Config{
		SkipStatus:    cfg.Webhook.SkipStatus,
		SkipGroups:    cfg.Webhook.SkipGroups,
		SkipChannels:  cfg.Webhook.SkipChannels,
		SkipBlocked:   cfg.Webhook.SkipBlocked,
		AllowedEvents: cfg.Webhook.AllowedEvents,
		DeniedEvents:  cfg.Webhook.DeniedEvents,
	})
	webhooks := webhookqueue.New(cfg.Webhook, store, sugar.Named("webhooks"))

	webhookCtx, stopWebhooks := context.WithCancel(ctx)
	go webhooks.Run(webhookCtx)

	registry := session.New(auth, filter, webhooks, cfg, sugar.Named("session"))

	resurrected, err := bootstrap.Resurrect(ctx, auth, registry, sugar.Named("bootstrap"))
	if err != nil {
		sugar.Errorf("bootstrap resurrection failed: %v", err)
	} else {
		sugar.Infof("resurrected %d session(s) from persisted credentials", resurrected)
	}

	server := api.NewServer(api.ServerConfig{
		Port:     cfg.Port,
		APIKey:   cfg.APIKey,
		Logger:   sugar.Named("api"),
		Registry: registry,
		Webhooks: webhooks,
	})

	go func() {
		if err := server.Start(); err != nil {
			sugar.Fatalf("server failed: %v", err)
		}
	}()
	sugar.Infof("waconnect gateway listening on :%s", cfg.Port)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	sugar.Info("shutting down gracefully")
	done := make(chan struct{})
	go func() {
		_ = server.Stop()
		webhooks.StopProcessing()
		stopWebhooks()
		registry.Shutdown()
		if err := store.Close(); err != nil {
			sugar.Warnf("error closing key-value store: %v", err)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		sugar.Warn("graceful shutdown deadline exceeded, forcing exit")
	}
}
