// Package common provides shared helpers for the service binaries: key
// loading and generation, yaml configuration files and attestation provider
// selection.
package common

import (
	"encoding/hex"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ruteri/portfolio-oracle/crypto"
	"github.com/ruteri/portfolio-oracle/services"
	"github.com/ruteri/portfolio-oracle/tdx"
)

// LoadOrGenerateSigningKey loads an Ed25519 private key from a hex string,
// or generates a new key pair if hexKey is empty.
func LoadOrGenerateSigningKey(hexKey string) (crypto.PrivateKey, error) {
	if hexKey != "" {
		keyBytes, err := hex.DecodeString(hexKey)
		if err != nil {
			return nil, fmt.Errorf("invalid hex: %w", err)
		}
		return crypto.NewPrivateKeyFromBytes(keyBytes), nil
	}
	_, privKey, err := crypto.GenerateKeyPair()
	return privKey, err
}

// LoadEngineKey decodes the shared engine key from hex.
func LoadEngineKey(hexKey string) ([]byte, error) {
	if hexKey == "" {
		return nil, fmt.Errorf("engine key is required")
	}
	keyBytes, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("invalid engine key hex: %w", err)
	}
	return keyBytes, nil
}

// NewAttestationProvider creates a TEE provider based on configuration
// flags. Returns TDXProvider or RemoteDCAPProvider when useTDX is true,
// otherwise DummyProvider for testing.
func NewAttestationProvider(useTDX bool, remoteTDXURL string) tdx.Provider {
	if useTDX {
		if remoteTDXURL != "" {
			return &tdx.RemoteDCAPProvider{URL: remoteTDXURL, Timeout: 30 * time.Second}
		}
		return &tdx.TDXProvider{}
	}
	return &tdx.DummyProvider{}
}

// FileConfig is the optional yaml configuration file for the protocol
// service. Flags override file values.
type FileConfig struct {
	ListenAddr      string `yaml:"listen_addr"`
	MetricsAddr     string `yaml:"metrics_addr"`
	AdminToken      string `yaml:"admin_token"`
	OracleURL       string `yaml:"oracle_url"`
	OraclePublicKey string `yaml:"oracle_public_key"`
	EngineKey       string `yaml:"engine_key"`
	CooldownSeconds int64  `yaml:"cooldown_seconds"`

	Postgres *services.PostgresConfig `yaml:"postgres"`
}

// LoadFileConfig reads and parses a yaml configuration file. An empty path
// yields an empty config.
func LoadFileConfig(path string) (*FileConfig, error) {
	cfg := &FileConfig{}
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	return cfg, nil
}
