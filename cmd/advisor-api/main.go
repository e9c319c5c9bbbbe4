package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"github.com/costlens/advisor/internal/auth"
	"github.com/costlens/advisor/internal/classifier"
	"github.com/costlens/advisor/internal/config"
	"github.com/costlens/advisor/internal/filestore"
	"github.com/costlens/advisor/internal/httpserver"
	"github.com/costlens/advisor/internal/queue"
	"github.com/costlens/advisor/internal/store"
)

func main() {
	cfg, err := config.LoadAPI()
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

	producer, err := queue.NewKafkaProducer(queue.KafkaConfig{
		Brokers: cfg.KafkaBrokers,
		Topic:   cfg.TasksTopic,
	})
	if err != nil {
		log.Fatalf("init kafka producer: %v", err)
	}
	defer producer.Close()

	server := httpserver.New(
		store.NewPGStore(db),
		files,
		producer,
		classifier.New(classifier.DefaultOptions()),
		httpserver.Config{MaxUploadBytes: cfg.MaxUploadBytes},
		auth.NewMiddleware(cfg.AuthSecret),
	)

	httpServer := &http.Server{
		Addr:    cfg.Addr,
		Handler: server.Router(),
	}

	go func() {
		log.Printf("Advisor API listening on %s", cfg.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	waitForShutdown(httpServer)
}

func waitForShutdown(srv *http.Server) {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}
}
