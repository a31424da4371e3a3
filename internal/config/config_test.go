package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func envOf(m map[string]string) LookupFunc {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "salesflow.yaml")
	yml := "project_id: from-file\ntopic_id: sales\nkafka_brokers: [a:9092]\nlog:\n  level: debug\n"
	if err := os.WriteFile(path, []byte(yml), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := Load(path, envOf(map[string]string{
		EnvProjectID:    "from-env",
		EnvKafkaBrokers: "b:9092, c:9092 ,",
		EnvMaxAttempts:  "7",
	}))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ProjectID != "from-env" || cfg.TopicID != "sales" {
		t.Fatalf("overlay: %+v", cfg)
	}
	if len(cfg.KafkaBrokers) != 2 || cfg.KafkaBrokers[0] != "b:9092" || cfg.KafkaBrokers[1] != "c:9092" {
		t.Fatalf("brokers: %v", cfg.KafkaBrokers)
	}
	if cfg.MaxAttempts != 7 || cfg.Log.Level != "debug" || cfg.DedupKey != "event_id" {
		t.Fatalf("values/defaults: %+v", cfg)
	}
}

func TestLoad_BadNumber(t *testing.T) {
	if _, err := Load("", envOf(map[string]string{EnvMaxBodyBytes: "lots"})); err == nil {
		t.Fatalf("expected error")
	}
}

func TestRequire_ListsEveryMissingKey(t *testing.T) {
	cfg, err := Load("", envOf(map[string]string{EnvTopicID: "t"}))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	err = cfg.Require(EnvProjectID, EnvTopicID, EnvDatasetID, EnvTableID)
	if !errors.Is(err, ErrMissingConfig) {
		t.Fatalf("want ErrMissingConfig, got %v", err)
	}
	for _, k := range []string{EnvProjectID, EnvDatasetID, EnvTableID} {
		if !strings.Contains(err.Error(), k) {
			t.Fatalf("%s not named in %v", k, err)
		}
	}
	if strings.Contains(err.Error(), EnvTopicID) {
		t.Fatalf("present key reported missing: %v", err)
	}
}
