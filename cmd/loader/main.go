package main

import (
	"context"
	"encoding/base64"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"salesflow/internal/channel"
	"salesflow/internal/config"
	"salesflow/internal/loader"
	"salesflow/internal/logging"
	"salesflow/internal/metrics"
	"salesflow/internal/record"
	"salesflow/internal/sink"
	"salesflow/internal/spool"
)

// Config holds CLI flags for the loader.
type Config struct {
	ConfigPath  string
	Mode        string // push|kafka
	Addr        string
	CreateTable bool
}

func main() {
	cfg := readFlags()
	if err := run(cfg); err != nil {
		log.Fatalf("loader failed: %v", err)
	}
}

func readFlags() Config {
	var cfg Config
	flag.StringVar(&cfg.ConfigPath, "config", "", "optional YAML config file; environment overrides it")
	flag.StringVar(&cfg.Mode, "mode", "push", "delivery mode: push|kafka")
	flag.StringVar(&cfg.Addr, "addr", ":8081", "listen address (push endpoint in push mode, health/metrics in kafka mode)")
	flag.BoolVar(&cfg.CreateTable, "create-table", false, "create the destination table when the destination supports it")
	flag.Parse()
	return cfg
}

func run(cfg Config) error {
	conf, err := config.Load(cfg.ConfigPath, os.LookupEnv)
	if err != nil {
		return err
	}
	required := []string{config.EnvDestinationDSN, config.EnvProjectID, config.EnvDatasetID, config.EnvTableID}
	if cfg.Mode == "kafka" {
		required = append(required, config.EnvTopicID, config.EnvKafkaBrokers)
	}
	if err := conf.Require(required...); err != nil {
		return err
	}
	key, err := record.ParseKeyMode(conf.DedupKey)
	if err != nil {
		return err
	}
	table := sink.Table{Project: conf.ProjectID, Dataset: conf.DatasetID, Name: conf.TableID}
	if err := table.Validate(); err != nil {
		return err
	}

	logger, err := logging.New(conf.Log.Level, conf.Log.Format)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	logger = logger.With(zap.String("component", "loader"), zap.String("mode", cfg.Mode))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dest, err := sink.Open(ctx, conf.DestinationDSN)
	if err != nil {
		return fmt.Errorf("open destination: %w", err)
	}
	defer dest.Close()
	if cfg.CreateTable {
		tc, ok := dest.(sink.TableCreator)
		if !ok {
			return fmt.Errorf("destination %T cannot create tables", dest)
		}
		if err := tc.EnsureTable(ctx, table, key); err != nil {
			return fmt.Errorf("create table: %w", err)
		}
		logger.Info("table ready", zap.String("table", table.String()))
	}

	sp, err := spool.NewFileWriter(conf.SpoolDir, "loader.jsonl")
	if err != nil {
		return fmt.Errorf("init spool: %w", err)
	}
	mreg := metrics.NewRegistry()
	proc := loader.NewProcessor(dest, table, logger,
		loader.WithKeyMode(key),
		loader.WithMetrics(mreg),
		loader.WithSpool(sp))

	switch cfg.Mode {
	case "push":
		return serve(ctx, logger, cfg.Addr, loader.NewPushRouter(proc, conf.MaxBodyBytes, mreg.Handler()))
	case "kafka":
		return consume(ctx, logger, cfg.Addr, conf, proc, mreg)
	default:
		return fmt.Errorf("unknown mode %q", cfg.Mode)
	}
}

func consume(ctx context.Context, logger *zap.Logger, addr string, conf *config.Config, proc *loader.Processor, mreg *metrics.Registry) error {
	cons, err := channel.NewKafkaConsumer(channel.ConsumerConfig{
		Brokers:     strings.Join(conf.KafkaBrokers, ","),
		GroupID:     conf.ConsumerGroup,
		Topic:       conf.TopicID,
		DLQTopic:    conf.DLQTopic,
		MaxAttempts: conf.MaxAttempts,
	}, logger, mreg)
	if err != nil {
		return err
	}
	defer cons.Close()

	// Deliveries come from the consumer loop, so no /push here.
	admin := loader.NewAdminRouter(mreg.Handler())
	go func() { _ = serve(ctx, logger, addr, admin) }()

	logger.Info("consuming", zap.String("topic", conf.TopicID), zap.String("group", conf.ConsumerGroup), zap.String("dlq_topic", conf.DLQTopic))
	return cons.Run(ctx, func(ctx context.Context, m channel.Message) error {
		_, err := proc.Process(ctx, loader.Delivery{ID: m.ID, Data: base64.StdEncoding.EncodeToString(m.Value)})
		return err
	})
}

func serve(ctx context.Context, logger *zap.Logger, addr string, h http.Handler) error {
	srv := &http.Server{Addr: addr, Handler: h, ReadHeaderTimeout: 10 * time.Second}
	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	logger.Info("listening", zap.String("addr", addr))
	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
