package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"kidspresence/internal/config"
	"kidspresence/internal/notify"
	"kidspresence/internal/queue"
	"kidspresence/internal/store"
)

// Worker consumes presence jobs and forwards them to the push service.
func main() {
	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("shutdown signal received")
		cancel()
	}()

	redisClient := store.NewRedis(cfg.RedisAddr)

	var jobs queue.Queue
	if cfg.QueueBackend == "memory" {
		jobs = queue.NewInMemory(64)
	} else {
		jobs = queue.NewRedisQueue(redisClient.Client, "kidspresence:jobs")
	}

	pusher := notify.New(cfg.NotifyServiceURL, cfg.NotifySkip)
	if !cfg.NotifySkip {
		if err := pusher.Health(ctx); err != nil {
			log.Printf("WARNING: push service not available: %v", err)
			log.Println("worker will retry sends as jobs arrive")
		} else {
			log.Println("push service connected")
		}
	}

	messages, err := jobs.Consume(ctx)
	if err != nil {
		log.Fatalf("queue consume init failed: %v", err)
	}

	log.Println("worker started, waiting for jobs...")
	for job := range messages {
		res, err := pusher.Send(ctx, notify.Notification{
			Kind:     job.Kind,
			ChildID:  job.ChildID,
			RecordID: job.RecordID,
			Actor:    job.Actor,
		})
		if err != nil {
			log.Printf("push send failed for %s (%s): %v", job.RecordID, job.Kind, err)
			continue
		}
		if !res.Accepted {
			log.Printf("push rejected for %s (%s): %s", job.RecordID, job.Kind, res.Message)
			continue
		}
		log.Printf("pushed %s for record %s", job.Kind, job.RecordID)
	}

	log.Println("worker stopped")
}
