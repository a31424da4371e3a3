package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"go.uber.org/zap"

	"salesflow/internal/channel"
	"salesflow/internal/config"
	"salesflow/internal/ingest"
	"salesflow/internal/logging"
	"salesflow/internal/metrics"
	"salesflow/internal/spool"
)

func main() {
	var (
		configPath string
		spoolFile  string
		fromOffset int
	)
	flag.StringVar(&configPath, "config", "", "optional YAML config file; environment overrides it")
	flag.StringVar(&spoolFile, "spool", "", "spool file to replay (default: $SPOOL_DIR/ingest.jsonl)")
	flag.IntVar(&fromOffset, "from", 0, "skip the first N spool entries")
	flag.Parse()

	if err := run(configPath, spoolFile, fromOffset); err != nil {
		log.Fatalf("replay failed: %v", err)
	}
}

func run(configPath, spoolFile string, fromOffset int) error {
	conf, err := config.Load(configPath, os.LookupEnv)
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
	if spoolFile == "" {
		spoolFile = filepath.Join(conf.SpoolDir, "ingest.jsonl")
	}

	pub := channel.NewKafkaPublisher(conf.KafkaBrokers, conf.TopicID)
	defer pub.Close()
	// Failures during replay go to a separate file so the one being replayed
	// can be rewritten safely.
	retry, err := spool.NewFileWriter(filepath.Dir(spoolFile), "ingest.replay.jsonl")
	if err != nil {
		return err
	}
	svc := ingest.NewService(pub, logger, ingest.WithMetrics(metrics.NewRegistry()), ingest.WithSpool(retry))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	res, err := ingest.ReplayFile(ctx, svc, spoolFile, fromOffset)
	logger.Info("replay finished",
		zap.String("spool", spoolFile),
		zap.Int("published", res.Published),
		zap.Int("rejected", res.Rejected),
		zap.Int("skipped", res.Skipped),
		zap.Int("pending", len(res.Remaining)))
	return err
}
