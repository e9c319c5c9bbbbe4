package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"github.com/costlens/advisor/internal/classifier"
	"github.com/costlens/advisor/internal/config"
	"github.com/costlens/advisor/internal/filestore"
	"github.com/costlens/advisor/internal/pipeline"
	"github.com/costlens/advisor/internal/queue"
	"github.com/costlens/advisor/internal/render"
	"github.com/costlens/advisor/internal/store"
)

func main() {
	cfg, err := config.LoadWorker()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)
	if err := db.Ping(); err != nil {
		log.Fatalf("ping db: %v", err)
	}

	files, err := filestore.NewS3Store(context.Background(), cfg.S3Bucket, cfg.S3Prefix)
	if err != nil {
		log.Fatalf("init file store: %v", err)
	}

	consumer, err := queue.NewKafkaConsumer(queue.KafkaConfig{
		Brokers: cfg.KafkaBrokers,
		Topic:   cfg.TasksTopic,
		GroupID: cfg.ConsumerGroup,
	})
	if err != nil {
		log.Fatalf("init kafka consumer: %v", err)
	}
	defer consumer.Close()

	html := render.NewHTMLRenderer()
	pdfChain := render.NewDispatcher(
		render.NewChromiumPDFRenderer(html),
		render.NewHTMLFallbackRenderer(html),
	)

	orch := pipeline.New(
		store.NewPGStore(db),
		files,
		classifier.New(classifier.Options{DefaultTermYears: cfg.DefaultTermYears}),
		html,
		pdfChain,
		nil, // live-api fetcher wired when upstream credentials are configured
		pipeline.Config{
			BatchSize:      cfg.BatchSize,
			MaxRetries:     cfg.MaxRetries,
			RetryBaseDelay: cfg.RetryBaseDelay,
		},
	)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		stop := make(chan os.Signal, 1)
		signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
		<-stop
		log.Printf("shutting down")
		cancel()
	}()

	log.Printf("Advisor worker consuming %s as group %s", cfg.TasksTopic, cfg.ConsumerGroup)
	err = consumer.Run(ctx, func(ctx context.Context, task queue.Task) error {
		switch task.Type {
		case queue.TaskProcess:
			return orch.Process(ctx, task.ReportID)
		case queue.TaskReclassify:
			return orch.Reclassify(ctx, task.ReportID)
		default:
			return fmt.Errorf("unknown task type %q", task.Type)
		}
	})
	if err != nil && err != context.Canceled {
		log.Fatalf("consumer error: %v", err)
	}
}
