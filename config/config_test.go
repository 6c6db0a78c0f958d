package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/c360studio/rdfpub/batch"
	"github.com/c360studio/rdfpub/network"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Network.Name != "testnet" {
		t.Errorf("expected default network testnet, got %s", cfg.Network.Name)
	}
	if cfg.Signer.KeyEnv != "NEAR_PRIVATE_KEY" {
		t.Errorf("expected key env NEAR_PRIVATE_KEY, got %s", cfg.Signer.KeyEnv)
	}
	if cfg.Batch.MaxPayloadBytes != batch.DefaultMaxBytes {
		t.Errorf("expected max payload %d, got %d", batch.DefaultMaxBytes, cfg.Batch.MaxPayloadBytes)
	}
	if cfg.Submit.Gas != network.DefaultGas {
		t.Errorf("expected gas %d, got %d", network.DefaultGas, cfg.Submit.Gas)
	}
	if cfg.Submit.MaxRetries != 5 {
		t.Errorf("expected 5 retries, got %d", cfg.Submit.MaxRetries)
	}
	if cfg.NATS.URL != "" || cfg.NATS.ConnectTimeout != 10*time.Second || cfg.NATS.MaxReconnects != 5 {
		t.Errorf("unexpected NATS defaults: %+v", cfg.NATS)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config invalid: %v", err)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{
			name:    "valid default config",
			modify:  func(c *Config) {},
			wantErr: false,
		},
		{
			name:    "unknown network",
			modify:  func(c *Config) { c.Network.Name = "moonnet" },
			wantErr: true,
		},
		{
			name:    "custom network with rpc url",
			modify:  func(c *Config) { c.Network.Name = "devnet"; c.Network.RPCURL = "http://127.0.0.1:3030" },
			wantErr: false,
		},
		{
			name:    "invalid signer account",
			modify:  func(c *Config) { c.Signer.Account = "Not An Account" },
			wantErr: true,
		},
		{
			name:    "zero payload size",
			modify:  func(c *Config) { c.Batch.MaxPayloadBytes = 0 },
			wantErr: true,
		},
		{
			name:    "negative workers",
			modify:  func(c *Config) { c.Submit.Workers = -1 },
			wantErr: true,
		},
		{
			name:    "shrinking backoff",
			modify:  func(c *Config) { c.Submit.BackoffMultiplier = 0.5 },
			wantErr: true,
		},
		{
			name:    "no confirm timeout",
			modify:  func(c *Config) { c.Submit.ConfirmTimeout = 0 },
			wantErr: true,
		},
		{
			name:    "nats without connect timeout",
			modify:  func(c *Config) { c.NATS.URL = "nats://localhost:4222"; c.NATS.ConnectTimeout = 0 },
			wantErr: true,
		},
		{
			name:    "negative nats reconnects",
			modify:  func(c *Config) { c.NATS.MaxReconnects = -1 },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoadFromFile(t *testing.T) {
	// Create temp file with config
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	content := `
network:
  name: mainnet
  rpc_url: "https://rpc.example.org"
signer:
  account: "publisher.near"
batch:
  max_payload_bytes: 65536
submit:
  workers: 8
  max_retries: 2
  confirm_timeout: 45s
nats:
  url: "nats://test:4222"
metrics:
  addr: ":9090"
`
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := LoadFromFile(configPath)
	if err != nil {
		t.Fatalf("LoadFromFile() error = %v", err)
	}

	if cfg.Network.Name != "mainnet" {
		t.Errorf("expected network mainnet, got %s", cfg.Network.Name)
	}
	if cfg.Network.RPCURL != "https://rpc.example.org" {
		t.Errorf("expected rpc url https://rpc.example.org, got %s", cfg.Network.RPCURL)
	}
	if cfg.Signer.Account != "publisher.near" {
		t.Errorf("expected account publisher.near, got %s", cfg.Signer.Account)
	}
	if cfg.Batch.MaxPayloadBytes != 65536 {
		t.Errorf("expected max payload 65536, got %d", cfg.Batch.MaxPayloadBytes)
	}
	if cfg.Submit.Workers != 8 {
		t.Errorf("expected 8 workers, got %d", cfg.Submit.Workers)
	}
	if cfg.Submit.ConfirmTimeout != 45*time.Second {
		t.Errorf("expected confirm timeout 45s, got %v", cfg.Submit.ConfirmTimeout)
	}
	if cfg.NATS.URL != "nats://test:4222" {
		t.Errorf("expected NATS URL nats://test:4222, got %s", cfg.NATS.URL)
	}
	if cfg.Metrics.Addr != ":9090" {
		t.Errorf("expected metrics addr :9090, got %s", cfg.Metrics.Addr)
	}
}

func TestConfigMerge(t *testing.T) {
	base := DefaultConfig()
	override := &Config{
		Network: NetworkConfig{
			Name: "localnet",
		},
		Submit: SubmitConfig{
			Workers: 3,
		},
	}

	base.Merge(override)

	if base.Network.Name != "localnet" {
		t.Errorf("expected network localnet, got %s", base.Network.Name)
	}
	if base.Submit.Workers != 3 {
		t.Errorf("expected 3 workers, got %d", base.Submit.Workers)
	}
	// Gas should remain from base since override didn't set it
	if base.Submit.Gas != network.DefaultGas {
		t.Errorf("expected gas to remain default, got %d", base.Submit.Gas)
	}
}

func TestConfigSaveToFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "subdir", "config.yaml")

	cfg := DefaultConfig()
	cfg.Signer.Account = "saved.testnet"

	if err := cfg.SaveToFile(configPath); err != nil {
		t.Fatalf("SaveToFile() error = %v", err)
	}

	// Verify file was created
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		t.Error("config file was not created")
	}

	// Load and verify
	loaded, err := LoadFromFile(configPath)
	if err != nil {
		t.Fatalf("failed to load saved config: %v", err)
	}
	if loaded.Signer.Account != "saved.testnet" {
		t.Errorf("expected account saved.testnet, got %s", loaded.Signer.Account)
	}
	if loaded.Submit.PollInterval != cfg.Submit.PollInterval {
		t.Errorf("expected poll interval %v, got %v", cfg.Submit.PollInterval, loaded.Submit.PollInterval)
	}
}

func TestConfigPipeline(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Submit.Workers = 3
	cfg.Batch.MaxPayloadBytes = 4096

	p := cfg.Pipeline("repo.testnet", "people")
	if err := p.Validate(); err != nil {
		t.Fatalf("pipeline config invalid: %v", err)
	}
	if p.Submit.Receiver != "repo.testnet" || p.Submit.Dataset != "people" {
		t.Errorf("unexpected receiver/dataset %q/%q", p.Submit.Receiver, p.Submit.Dataset)
	}
	if p.QueueDepth != 6 {
		t.Errorf("expected queue depth 6, got %d", p.QueueDepth)
	}
	if p.Batch.MaxBytes != 4096 {
		t.Errorf("expected max bytes 4096, got %d", p.Batch.MaxBytes)
	}
	if p.Submit.Retry.MaxRetries != 5 {
		t.Errorf("expected 5 retries, got %d", p.Submit.Retry.MaxRetries)
	}
}
