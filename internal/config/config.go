// Package config loads process configuration from an optional YAML file
// overlaid by environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Environment keys.
const (
	EnvProjectID      = "PROJECT_ID"
	EnvTopicID        = "TOPIC_ID"
	EnvDatasetID      = "DATASET_ID"
	EnvTableID        = "TABLE_ID"
	EnvKafkaBrokers   = "KAFKA_BROKERS"
	EnvDestinationDSN = "DESTINATION_DSN"
	EnvDedupKey       = "DEDUP_KEY"
	EnvSpoolDir       = "SPOOL_DIR"
	EnvConsumerGroup  = "CONSUMER_GROUP"
	EnvDLQTopic       = "DLQ_TOPIC"
	EnvMaxAttempts    = "MAX_ATTEMPTS"
	EnvMaxBodyBytes   = "MAX_BODY_BYTES"
	EnvLogLevel       = "LOG_LEVEL"
	EnvLogFormat      = "LOG_FORMAT"
)

// ErrMissingConfig is returned by Require when required keys are absent.
var ErrMissingConfig = errors.New("missing required configuration")

type Config struct {
	ProjectID      string   `yaml:"project_id"`
	TopicID        string   `yaml:"topic_id"`
	DatasetID      string   `yaml:"dataset_id"`
	TableID        string   `yaml:"table_id"`
	KafkaBrokers   []string `yaml:"kafka_brokers"`
	DestinationDSN string   `yaml:"destination_dsn"`
	DedupKey       string   `yaml:"dedup_key"`
	SpoolDir       string   `yaml:"spool_dir"`
	ConsumerGroup  string   `yaml:"consumer_group"`
	DLQTopic       string   `yaml:"dlq_topic"`
	MaxAttempts    int      `yaml:"max_attempts"`
	MaxBodyBytes   int64    `yaml:"max_body_bytes"`

	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"` // json|console
	} `yaml:"log"`
}

// LookupFunc matches os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// Load reads path (skipped when empty), applies environment overrides from
// lookup and fills defaults. It does not check required keys; see Require.
func Load(path string, lookup LookupFunc) (*Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}
	if lookup == nil {
		lookup = os.LookupEnv
	}
	if err := cfg.applyEnv(lookup); err != nil {
		return nil, err
	}

	if cfg.DedupKey == "" {
		cfg.DedupKey = "event_id"
	}
	if cfg.SpoolDir == "" {
		cfg.SpoolDir = "./spool"
	}
	if cfg.ConsumerGroup == "" {
		cfg.ConsumerGroup = "salesflow-loader"
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
	return &cfg, nil
}

func (c *Config) applyEnv(lookup LookupFunc) error {
	str := map[string]*string{
		EnvProjectID:      &c.ProjectID,
		EnvTopicID:        &c.TopicID,
		EnvDatasetID:      &c.DatasetID,
		EnvTableID:        &c.TableID,
		EnvDestinationDSN: &c.DestinationDSN,
		EnvDedupKey:       &c.DedupKey,
		EnvSpoolDir:       &c.SpoolDir,
		EnvConsumerGroup:  &c.ConsumerGroup,
		EnvDLQTopic:       &c.DLQTopic,
		EnvLogLevel:       &c.Log.Level,
		EnvLogFormat:      &c.Log.Format,
	}
	for key, dst := range str {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	if v, ok := lookup(EnvKafkaBrokers); ok && strings.TrimSpace(v) != "" {
		c.KafkaBrokers = SplitList(v)
	}
	if v, ok := lookup(EnvMaxAttempts); ok && strings.TrimSpace(v) != "" {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%s: %w", EnvMaxAttempts, err)
		}
		c.MaxAttempts = n
	}
	if v, ok := lookup(EnvMaxBodyBytes); ok && strings.TrimSpace(v) != "" {
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvMaxBodyBytes, err)
		}
		c.MaxBodyBytes = n
	}
	return nil
}

// Require fails with ErrMissingConfig naming every absent key.
func (c *Config) Require(keys ...string) error {
	var missing []string
	for _, k := range keys {
		if !c.has(k) {
			missing = append(missing, k)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissingConfig, strings.Join(missing, ", "))
	}
	return nil
}

func (c *Config) has(key string) bool {
	switch key {
	case EnvProjectID:
		return c.ProjectID != ""
	case EnvTopicID:
		return c.TopicID != ""
	case EnvDatasetID:
		return c.DatasetID != ""
	case EnvTableID:
		return c.TableID != ""
	case EnvKafkaBrokers:
		return len(c.KafkaBrokers) > 0
	case EnvDestinationDSN:
		return c.DestinationDSN != ""
	case EnvDLQTopic:
		return c.DLQTopic != ""
	default:
		return false
	}
}

// SplitList splits a comma-separated list, dropping blanks.
func SplitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
