package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/nmxmxh/chatty-gateway/internal/bus"
	"github.com/nmxmxh/chatty-gateway/internal/config"
	"github.com/nmxmxh/chatty-gateway/internal/gateway"
	"github.com/nmxmxh/chatty-gateway/internal/presence"
	"github.com/nmxmxh/chatty-gateway/internal/room"
	callsignal "github.com/nmxmxh/chatty-gateway/internal/signal"
	"github.com/nmxmxh/chatty-gateway/pkg/health"
	"github.com/nmxmxh/chatty-gateway/pkg/logger"
	"github.com/nmxmxh/chatty-gateway/pkg/metrics"
	"github.com/nmxmxh/chatty-gateway/pkg/redis"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load configuration: " + err.Error())
	}

	log, err := logger.New(logger.Config{
		Environment: cfg.AppEnv,
		LogLevel:    cfg.LogLevel,
		ServiceName: cfg.AppName,
	})
	if err != nil {
		panic("failed to initialize logger: " + err.Error())
	}
	defer log.Sync()

	// Each gateway process gets a fresh identity; presence entries and room
	// events carry it so instances can tell their own bus echoes apart.
	processID := uuid.NewString()
	log.Info("starting gateway", zap.String("process_id", processID))

	redisClient, err := redis.NewClient(redis.Config{
		Host:         cfg.RedisHost,
		Port:         cfg.RedisPort,
		Password:     cfg.RedisPassword,
		DB:           cfg.RedisDB,
		PoolSize:     cfg.RedisPoolSize,
		MinIdleConns: cfg.RedisMinIdleConns,
		MaxRetries:   cfg.RedisMaxRetries,
	}, log)
	if err != nil {
		log.Error("could not connect to Redis", zap.Error(err))
		os.Exit(1)
	}
	defer redisClient.Close()

	crossBus := bus.NewRedisBus(redisClient, log)
	defer crossBus.Close()

	registry := presence.NewRegistry(processID, crossBus, log)
	hub := gateway.NewHub(registry, cfg.AllowedOrigins, log)
	rooms := room.NewRouter(processID, crossBus, hub, log)
	relay := callsignal.NewRelay(registry, rooms, log)
	hub.Wire(rooms, relay)

	if err := registry.Start(); err != nil {
		log.Error("failed to start presence registry", zap.Error(err))
		os.Exit(1)
	}
	if err := rooms.Start(); err != nil {
		log.Error("failed to start room router", zap.Error(err))
		os.Exit(1)
	}

	checker := health.NewHealthChecker()
	checker.Register(health.NewRedisHealthCheck("redis", redisClient))

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", hub.HandleWS)
	mux.Handle("/healthz", checker.Handler())

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", metrics.Handler())

	srv := &http.Server{
		Addr:        ":" + cfg.GatewayPort,
		Handler:     mux,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}
	metricsSrv := &http.Server{
		Addr:         ":" + cfg.MetricsPort,
		Handler:      metricsMux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("listening for WebSocket connections", zap.String("address", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		log.Info("serving metrics", zap.String("address", metricsSrv.Addr))
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("error during server shutdown", zap.Error(err))
		}
		if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
			log.Error("error during metrics shutdown", zap.Error(err))
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Error("server failed", zap.Error(err))
		os.Exit(1)
	}
	log.Info("gateway stopped")
}
