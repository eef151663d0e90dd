package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"imageflow/internal/models"
	"imageflow/internal/notify"
	"imageflow/internal/pipeline"
	"imageflow/internal/server"
	"imageflow/internal/storage"
)

func main() {
	cfg, err := models.LoadConfig("config.yaml")
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	db, err := storage.NewStorage(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to init storage: %v", err)
	}
	defer db.Close()

	// Kafka producer
	producer := kafka.NewWriter(kafka.WriterConfig{
		Brokers: []string{cfg.KafkaBroker},
		Topic:   cfg.KafkaTopic,
	})

	transcoder, err := pipeline.NewTranscoder(cfg)
	if err != nil {
		log.Fatalf("failed to init transcoder: %v", err)
	}
	coordinator := pipeline.NewCoordinator(db, transcoder, notify.New(cfg.WebhookURL), cfg.WorkerCount)

	// Start Kafka consumer in background
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		consumer := kafka.NewReader(kafka.ReaderConfig{
			Brokers: []string{cfg.KafkaBroker},
			Topic:   cfg.KafkaTopic,
			GroupID: "manifest-pipeline-group",
		})
		defer consumer.Close()

		for {
			msg, err := consumer.ReadMessage(ctx)
			if err != nil {
				if err == context.Canceled {
					return
				}
				log.Printf("error reading message: %v", err)
				continue
			}
			requestID, err := uuid.Parse(string(msg.Value))
			if err != nil {
				log.Printf("invalid request id in message: %v", err)
				continue
			}
			if err := coordinator.Run(ctx, requestID); err != nil {
				log.Printf("error processing request %s: %v", requestID, err)
			}
		}
	}()

	srv := server.NewServer(cfg, db, producer)

	go func() {
		if err := srv.Start(); err != nil {
			log.Fatalf("failed to start server: %v", err)
		}
	}()

	// Graceful shutdown
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	cancel()
	srv.Stop()
	producer.Close()
}
