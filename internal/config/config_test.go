package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_defaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Sync.MaxRetries != 3 {
		t.Errorf("MaxRetries = %d, want 3", cfg.Sync.MaxRetries)
	}
	if cfg.Sync.SettleDelay != 2*time.Second {
		t.Errorf("SettleDelay = %v, want 2s", cfg.Sync.SettleDelay)
	}
	if cfg.Sync.Interval != 5*time.Minute {
		t.Errorf("Interval = %v, want 5m", cfg.Sync.Interval)
	}
	if !cfg.Sync.ConflictCheck {
		t.Error("ConflictCheck = false, want true")
	}
	if cfg.Storage.Driver != DriverSQLite || cfg.Storage.QueueKey != "offline_changes" {
		t.Errorf("Storage = %+v", cfg.Storage)
	}
	if cfg.Server.Addr() != "127.0.0.1:8787" {
		t.Errorf("Addr() = %q", cfg.Server.Addr())
	}
}

func TestLoad_fileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledgersync.yaml")
	content := `
server:
  port: 9000
storage:
  driver: redis
  redis:
    addr: cache:6379
sync:
  interval: 30s
  conflict_check: false
log:
  level: debug
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("LEDGERSYNC_SYNC_MAX_RETRIES", "5")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9000 || cfg.Storage.Driver != DriverRedis || cfg.Storage.Redis.Addr != "cache:6379" {
		t.Errorf("file values not applied: %+v", cfg)
	}
	if cfg.Sync.Interval != 30*time.Second || cfg.Sync.ConflictCheck {
		t.Errorf("Sync = %+v", cfg.Sync)
	}
	if cfg.Sync.MaxRetries != 5 {
		t.Errorf("MaxRetries = %d, want 5 from env", cfg.Sync.MaxRetries)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q", cfg.Log.Level)
	}
}

func TestLoad_missingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("Load() expected error for missing file")
	}
}

func TestValidate(t *testing.T) {
	base := func() Config {
		return Config{
			Storage: StorageConfig{Driver: DriverMemory, QueueKey: "q"},
			Sync:    SyncConfig{MaxRetries: 3, Interval: time.Minute, PassTimeout: time.Minute},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(*Config) {}, false},
		{"unknown driver", func(c *Config) { c.Storage.Driver = "etcd" }, true},
		{"empty queue key", func(c *Config) { c.Storage.QueueKey = "" }, true},
		{"zero retries", func(c *Config) { c.Sync.MaxRetries = 0 }, true},
		{"zero interval", func(c *Config) { c.Sync.Interval = 0 }, true},
		{"negative settle", func(c *Config) { c.Sync.SettleDelay = -time.Second }, true},
		{"zero pass timeout", func(c *Config) { c.Sync.PassTimeout = 0 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(&cfg)
			if err := cfg.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
