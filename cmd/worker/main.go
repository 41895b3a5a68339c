package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"swimschool/internal/attendance"
	"swimschool/internal/config"
	"swimschool/internal/logger"
	"swimschool/internal/queue"
	"swimschool/internal/store"
	"swimschool/internal/worker"
)

// Worker consumes attendance events and keeps the daily summary counters in Redis.
func main() {
	cfg, cfgErr := config.Load()
	log := logger.Must(cfg.Env, cfg.LogLevel).Named("worker")
	defer func() { _ = log.Sync() }()
	if cfgErr != nil {
		log.Warn("config fell back to defaults", zap.Error(cfgErr))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info("shutdown signal received")
		cancel()
	}()

	redisClient, err := store.NewRedis(ctx, cfg.RedisAddr)
	if err != nil {
		log.Warn("redis not reachable, summary writes will fail until it is", zap.Error(err))
	}
	defer func() { _ = redisClient.Close() }()

	var q queue.Queue
	switch cfg.QueueBackend {
	case "nats":
		nq, err := queue.NewNATSQueue(cfg.NATSURL, "", "")
		if err != nil {
			log.Fatal("nats connect failed", zap.Error(err))
		}
		defer func() { _ = nq.Close() }()
		q = nq
	case "memory":
		log.Fatal("memory queue is drained by the api process; run the worker with QUEUE_BACKEND=redis or nats")
	default:
		q = queue.NewRedisQueue(redisClient.Client, "")
	}

	log.Info("worker started, waiting for messages", zap.String("backend", cfg.QueueBackend))
	applied, err := worker.Run(ctx, q, attendance.NewSummary(redisClient.Client, ""), log)
	if err != nil {
		log.Fatal("queue consume init failed", zap.Error(err))
	}
	log.Info("worker stopped", zap.Int("applied", applied))
}
