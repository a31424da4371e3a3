package main

import (
	"context"
	"flag"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"salesflow/internal/channel"
	"salesflow/internal/config"
	"salesflow/internal/generator"
	"salesflow/internal/logging"
)

// Config holds CLI flags for the synthetic generator.
type Config struct {
	ConfigPath string
	Count      int
	Batch      int
	Seed       int64
	Legacy     bool
}

func main() {
	cfg := readFlags()
	if err := run(cfg); err != nil {
		log.Fatalf("generator failed: %v", err)
	}
}

func readFlags() Config {
	var cfg Config
	flag.StringVar(&cfg.ConfigPath, "config", "", "optional YAML config file; environment overrides it")
	flag.IntVar(&cfg.Count, "count", 0, "number of payloads to publish (0 = until interrupted)")
	flag.IntVar(&cfg.Batch, "batch", 1, "records per payload; above 1 publishes arrays")
	flag.Int64Var(&cfg.Seed, "seed", 0, "random seed (0 = time based)")
	flag.BoolVar(&cfg.Legacy, "legacy", false, "emit the older field names (id_cliente, precio, fecreg, ...)")
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

	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	gen := generator.New(rand.New(rand.NewSource(seed)))
	gen.Legacy = cfg.Legacy

	pub := channel.NewKafkaPublisher(conf.KafkaBrokers, conf.TopicID)
	defer pub.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	logger.Info("generating", zap.String("topic", conf.TopicID), zap.Int("count", cfg.Count), zap.Int("batch", cfg.Batch), zap.Int64("seed", seed))
	n, err := gen.Run(ctx, pub, generator.RunOptions{Count: cfg.Count, Batch: cfg.Batch}, logger)
	logger.Info("generator stopped", zap.Int("published", n))
	return err
}
