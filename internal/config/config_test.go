package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultsAreValid(t *testing.T) {
	cfg := Defaults()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
	if cfg.Experiment.MarketSize != 8 || cfg.Experiment.Rounds != 16 {
		t.Errorf("unexpected experiment defaults: %+v", cfg.Experiment)
	}
}

func TestLoad_TOMLThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "credence.toml")
	content := `
log_level = "debug"

[server]
port = 9090

[storage]
sqlite_path = "lab.db"
cache_ttl = "1m"

[experiment]
default_treatment = "verifiability"
rounds = 8
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	t.Setenv("CREDENCE_SERVER_PORT", "7070")
	t.Setenv("CREDENCE_EXPERIMENT_TYPE_SEED", "lab-7")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("log level from file: got %q", cfg.LogLevel)
	}
	if cfg.Server.Port != 7070 {
		t.Errorf("env should override file port, got %d", cfg.Server.Port)
	}
	if cfg.Storage.SQLitePath != "lab.db" || cfg.Storage.CacheTTL != time.Minute {
		t.Errorf("storage from file: %+v", cfg.Storage)
	}
	if cfg.Experiment.DefaultTreatment != "verifiability" || cfg.Experiment.Rounds != 8 {
		t.Errorf("experiment from file: %+v", cfg.Experiment)
	}
	if cfg.Experiment.MarketSize != 8 {
		t.Errorf("unset fields keep defaults, got market size %d", cfg.Experiment.MarketSize)
	}
	if cfg.Experiment.TypeSeed != "lab-7" {
		t.Errorf("type seed from env: got %q", cfg.Experiment.TypeSeed)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("loaded config should validate: %v", err)
	}
}

func TestLoad_NoFile(t *testing.T) {
	t.Setenv("CREDENCE_LOG_LEVEL", "warn")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.LogLevel != "warn" {
		t.Errorf("expected warn, got %q", cfg.LogLevel)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.toml")); err == nil {
		t.Error("expected an error for a missing file")
	}
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	cfg := Defaults()
	cfg.LogLevel = "loud"
	cfg.Server.Port = 0
	cfg.Storage.DatabaseURL = "postgres://x"
	cfg.Storage.SQLitePath = "x.db"
	cfg.Experiment.DefaultTreatment = "placebo"
	cfg.Experiment.MarketSize = 7
	cfg.Experiment.Rounds = 0

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation errors")
	}
	for _, want := range []string{"log_level", "port", "sqlite_path", "default_treatment", "market_size", "rounds"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error should mention %s: %v", want, err)
		}
	}
}

func TestSlogLevel(t *testing.T) {
	cfg := Defaults()
	cfg.LogLevel = "ERROR"
	if cfg.SlogLevel().String() != "ERROR" {
		t.Errorf("got %s", cfg.SlogLevel())
	}
	cfg.LogLevel = "bogus"
	if cfg.SlogLevel().String() != "INFO" {
		t.Errorf("unknown level should fall back to info, got %s", cfg.SlogLevel())
	}
}
