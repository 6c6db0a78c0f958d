// Package config provides configuration loading and management for rdfpub.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/c360studio/rdfpub/batch"
	"github.com/c360studio/rdfpub/network"
	"github.com/c360studio/rdfpub/pipeline"
	"github.com/c360studio/rdfpub/signer"
	"github.com/c360studio/rdfpub/submit"
	"gopkg.in/yaml.v3"
)

// Config represents the complete rdfpub configuration
type Config struct {
	Network NetworkConfig `yaml:"network"`
	Signer  SignerConfig  `yaml:"signer"`
	Batch   BatchConfig   `yaml:"batch"`
	Submit  SubmitConfig  `yaml:"submit"`
	NATS    NATSConfig    `yaml:"nats"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// NetworkConfig selects the target network
type NetworkConfig struct {
	// Name is a network preset: mainnet, testnet or localnet
	Name string `yaml:"name"`
	// RPCURL overrides the preset's JSON-RPC endpoint
	RPCURL string `yaml:"rpc_url"`
	// Timeout bounds a single RPC request
	Timeout time.Duration `yaml:"timeout"`
}

// SignerConfig configures where the signing key comes from
type SignerConfig struct {
	// Account is the signing account (default: implicit account of an
	// explicit key, else the repository account)
	Account string `yaml:"account"`
	// KeyEnv names the environment variable holding explicit key material
	KeyEnv string `yaml:"key_env"`
	// KeychainService is the OS keychain service name
	KeychainService string `yaml:"keychain_service"`
	// CredentialsDir is the credentials directory (default: ~/.near-credentials)
	CredentialsDir string `yaml:"credentials_dir"`
}

// BatchConfig configures batching
type BatchConfig struct {
	// MaxPayloadBytes is the largest payload of one transaction
	MaxPayloadBytes int `yaml:"max_payload_bytes"`
	// QueueDepth bounds the batches prepared ahead of submission (0 = 2x workers)
	QueueDepth int `yaml:"queue_depth"`
}

// SubmitConfig configures transaction submission
type SubmitConfig struct {
	// Workers bounds transactions in flight (0 = available parallelism)
	Workers int `yaml:"workers"`
	// Gas attached to each insert call
	Gas uint64 `yaml:"gas"`
	// MaxRetries is the number of broadcast retries after the first attempt
	MaxRetries int `yaml:"max_retries"`
	// BackoffBase is the first retry delay
	BackoffBase time.Duration `yaml:"backoff_base"`
	// BackoffMultiplier grows the delay on each retry
	BackoffMultiplier float64 `yaml:"backoff_multiplier"`
	// MaxBackoff caps the retry delay
	MaxBackoff time.Duration `yaml:"max_backoff"`
	// ConfirmTimeout bounds the wait for finality
	ConfirmTimeout time.Duration `yaml:"confirm_timeout"`
	// PollInterval is the delay between status queries
	PollInterval time.Duration `yaml:"poll_interval"`
}

// NATSConfig configures the optional NATS event stream
type NATSConfig struct {
	// URL is the NATS server URL (empty = no events)
	URL string `yaml:"url"`
	// ConnectTimeout bounds the wait for the first connection
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	// MaxReconnects is the reconnect budget after a lost connection
	MaxReconnects int `yaml:"max_reconnects"`
}

// MetricsConfig configures the Prometheus endpoint
type MetricsConfig struct {
	// Addr is the listen address of /metrics (empty = disabled)
	Addr string `yaml:"addr"`
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() *Config {
	retry := submit.DefaultRetryConfig()
	return &Config{
		Network: NetworkConfig{
			Name:    "testnet",
			Timeout: 30 * time.Second,
		},
		Signer: SignerConfig{
			KeyEnv:          "NEAR_PRIVATE_KEY",
			KeychainService: signer.DefaultKeychainService,
		},
		Batch: BatchConfig{
			MaxPayloadBytes: batch.DefaultMaxBytes,
		},
		Submit: SubmitConfig{
			Gas:               network.DefaultGas,
			MaxRetries:        retry.MaxRetries,
			BackoffBase:       retry.BackoffBase,
			BackoffMultiplier: retry.BackoffMultiplier,
			MaxBackoff:        retry.MaxBackoff,
			ConfirmTimeout:    2 * time.Minute,
			PollInterval:      2 * time.Second,
		},
		NATS: NATSConfig{
			ConnectTimeout: 10 * time.Second,
			MaxReconnects:  5,
		},
	}
}

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if _, err := network.Lookup(c.Network.Name, c.Network.RPCURL); err != nil {
		return fmt.Errorf("network: %w", err)
	}
	if c.Signer.Account != "" {
		if err := signer.CheckAccountID(c.Signer.Account); err != nil {
			return fmt.Errorf("signer.account: %w", err)
		}
	}
	if c.Batch.MaxPayloadBytes <= 0 {
		return fmt.Errorf("batch.max_payload_bytes must be positive")
	}
	if c.Batch.QueueDepth < 0 {
		return fmt.Errorf("batch.queue_depth must not be negative")
	}
	if c.Submit.Workers < 0 {
		return fmt.Errorf("submit.workers must not be negative")
	}
	if c.Submit.MaxRetries < 0 {
		return fmt.Errorf("submit.max_retries must not be negative")
	}
	if c.Submit.BackoffMultiplier < 1 {
		return fmt.Errorf("submit.backoff_multiplier must be at least 1")
	}
	if c.Submit.ConfirmTimeout <= 0 {
		return fmt.Errorf("submit.confirm_timeout must be positive")
	}
	if c.Submit.PollInterval <= 0 {
		return fmt.Errorf("submit.poll_interval must be positive")
	}
	if c.NATS.URL != "" && c.NATS.ConnectTimeout <= 0 {
		return fmt.Errorf("nats.connect_timeout must be positive")
	}
	if c.NATS.MaxReconnects < 0 {
		return fmt.Errorf("nats.max_reconnects must not be negative")
	}
	return nil
}

// LoadFromFile loads configuration from a YAML file
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := &Config{}
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// SaveToFile saves configuration to a YAML file
func (c *Config) SaveToFile(path string) error {
	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Merge merges another config into this one (other takes precedence for non-zero values)
func (c *Config) Merge(other *Config) {
	if other == nil {
		return
	}

	// Network
	if other.Network.Name != "" {
		c.Network.Name = other.Network.Name
	}
	if other.Network.RPCURL != "" {
		c.Network.RPCURL = other.Network.RPCURL
	}
	if other.Network.Timeout != 0 {
		c.Network.Timeout = other.Network.Timeout
	}

	// Signer
	if other.Signer.Account != "" {
		c.Signer.Account = other.Signer.Account
	}
	if other.Signer.KeyEnv != "" {
		c.Signer.KeyEnv = other.Signer.KeyEnv
	}
	if other.Signer.KeychainService != "" {
		c.Signer.KeychainService = other.Signer.KeychainService
	}
	if other.Signer.CredentialsDir != "" {
		c.Signer.CredentialsDir = other.Signer.CredentialsDir
	}

	// Batch
	if other.Batch.MaxPayloadBytes != 0 {
		c.Batch.MaxPayloadBytes = other.Batch.MaxPayloadBytes
	}
	if other.Batch.QueueDepth != 0 {
		c.Batch.QueueDepth = other.Batch.QueueDepth
	}

	// Submit
	if other.Submit.Workers != 0 {
		c.Submit.Workers = other.Submit.Workers
	}
	if other.Submit.Gas != 0 {
		c.Submit.Gas = other.Submit.Gas
	}
	if other.Submit.MaxRetries != 0 {
		c.Submit.MaxRetries = other.Submit.MaxRetries
	}
	if other.Submit.BackoffBase != 0 {
		c.Submit.BackoffBase = other.Submit.BackoffBase
	}
	if other.Submit.BackoffMultiplier != 0 {
		c.Submit.BackoffMultiplier = other.Submit.BackoffMultiplier
	}
	if other.Submit.MaxBackoff != 0 {
		c.Submit.MaxBackoff = other.Submit.MaxBackoff
	}
	if other.Submit.ConfirmTimeout != 0 {
		c.Submit.ConfirmTimeout = other.Submit.ConfirmTimeout
	}
	if other.Submit.PollInterval != 0 {
		c.Submit.PollInterval = other.Submit.PollInterval
	}

	// NATS
	if other.NATS.URL != "" {
		c.NATS.URL = other.NATS.URL
	}
	if other.NATS.ConnectTimeout != 0 {
		c.NATS.ConnectTimeout = other.NATS.ConnectTimeout
	}
	if other.NATS.MaxReconnects != 0 {
		c.NATS.MaxReconnects = other.NATS.MaxReconnects
	}

	// Metrics
	if other.Metrics.Addr != "" {
		c.Metrics.Addr = other.Metrics.Addr
	}
}

// NetworkTarget resolves the configured network preset and endpoint.
func (c *Config) NetworkTarget() (network.Network, error) {
	return network.Lookup(c.Network.Name, c.Network.RPCURL)
}

// Pipeline builds the pipeline configuration for publishing dataset to the
// receiver repository account.
func (c *Config) Pipeline(receiver, dataset string) pipeline.Config {
	workers := c.Submit.Workers
	if workers == 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	depth := c.Batch.QueueDepth
	if depth == 0 {
		depth = 2 * workers
	}

	return pipeline.Config{
		Batch: batch.Config{MaxBytes: c.Batch.MaxPayloadBytes},
		Submit: submit.Config{
			Receiver: receiver,
			Dataset:  dataset,
			Gas:      c.Submit.Gas,
			Workers:  workers,
			Retry: submit.RetryConfig{
				MaxRetries:        c.Submit.MaxRetries,
				BackoffBase:       c.Submit.BackoffBase,
				BackoffMultiplier: c.Submit.BackoffMultiplier,
				MaxBackoff:        c.Submit.MaxBackoff,
			},
			ConfirmTimeout: c.Submit.ConfirmTimeout,
			PollInterval:   c.Submit.PollInterval,
		},
		QueueDepth: depth,
	}
}
