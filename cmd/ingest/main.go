package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"salesflow/internal/channel"
	"salesflow/internal/config"
	"salesflow/internal/ingest"
	"salesflow/internal/logging"
	"salesflow/internal/metrics"
	"salesflow/internal/spool"
)

// Config holds CLI flags for the ingestion endpoint.
type Config struct {
	ConfigPath string
	Addr       string
}

func main() {
	cfg := readFlags()
	if err := run(cfg); err != nil {
		log.Fatalf("ingest failed: %v", err)
	}
}

func readFlags() Config {
	var cfg Config
	flag.StringVar(&cfg.ConfigPath, "config", "", "optional YAML config file; environment overrides it")
	flag.StringVar(&cfg.Addr, "addr", ":8080", "listen address")
	flag.Parse()
	return cfg
}

func run(cfg Config) error {
	conf, err := config.Load(cfg.ConfigPath, os.LookupEnv)
	if err != nil {
		return err
	}
	if err := conf.Require(config.EnvProjectID, config.EnvTopicID, config.EnvKafkaBrokers); err != nil {
		return err
	}
	logger, err := logging.New(conf.Log.Level, conf.Log.Format)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	logger = logger.With(zap.String("component", "ingest"), zap.String("project", conf.ProjectID), zap.String("topic", conf.TopicID))

	sp, err := spool.NewFileWriter(conf.SpoolDir, "ingest.jsonl")
	if err != nil {
		return fmt.Errorf("init spool: %w", err)
	}
	pub := channel.NewKafkaPublisher(conf.KafkaBrokers, conf.TopicID)
	defer pub.Close()

	mreg := metrics.NewRegistry()
	svc := ingest.NewService(pub, logger, ingest.WithMetrics(mreg), ingest.WithSpool(sp))
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           ingest.NewRouter(svc, conf.MaxBodyBytes, mreg.Handler()),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	logger.Info("listening", zap.String("addr", cfg.Addr), zap.String("spool", sp.Path()))

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
	}
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
