package params

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.Exchange.FeePercent != 10 {
		t.Errorf("fee percent = %d, want 10", cfg.Exchange.FeePercent)
	}
	if cfg.Node.ChainID != 1337 {
		t.Errorf("chain id = %d, want 1337", cfg.Node.ChainID)
	}
	if cfg.Node.MinBlockTime != 200*time.Millisecond {
		t.Errorf("min block time = %v, want 200ms", cfg.Node.MinBlockTime)
	}
	if cfg.Node.DataDir != "" || len(cfg.P2P.Listen) != 0 || len(cfg.Kafka.Brokers) != 0 {
		t.Error("persistence, gossip and kafka should be off by default")
	}
}

func TestLoadFromEnv(t *testing.T) {
	fee := "0x1000000000000000000000000000000000000001"
	t.Setenv("FEE_ACCOUNT", fee)
	t.Setenv("FEE_PERCENT", "3")
	t.Setenv("NODE_MIN_BLOCK_TIME_MS", "50")
	t.Setenv("CHAIN_ID", "31337")
	t.Setenv("DATA_DIR", "/tmp/custodex")
	t.Setenv("CORS_ORIGINS", "http://localhost:3000, https://app.example")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("P2P_LISTEN", "/ip4/0.0.0.0/tcp/9000")

	cfg, err := LoadFromEnv(filepath.Join(t.TempDir(), "missing.env"))
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Exchange.FeeAccount != common.HexToAddress(fee) {
		t.Errorf("fee account = %s", cfg.Exchange.FeeAccount.Hex())
	}
	if cfg.Exchange.FeePercent != 3 {
		t.Errorf("fee percent = %d, want 3", cfg.Exchange.FeePercent)
	}
	if cfg.Node.MinBlockTime != 50*time.Millisecond {
		t.Errorf("min block time = %v, want 50ms", cfg.Node.MinBlockTime)
	}
	if cfg.Node.ChainID != 31337 || cfg.Node.DataDir != "/tmp/custodex" {
		t.Errorf("node = %+v", cfg.Node)
	}
	if len(cfg.API.CORSOrigins) != 2 || cfg.API.CORSOrigins[1] != "https://app.example" {
		t.Errorf("cors origins = %q", cfg.API.CORSOrigins)
	}
	if len(cfg.Kafka.Brokers) != 2 || len(cfg.P2P.Listen) != 1 {
		t.Errorf("kafka = %q p2p = %q", cfg.Kafka.Brokers, cfg.P2P.Listen)
	}
}

func TestLoadFromEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte("API_ADDR=:9999\nFEE_PERCENT=7\n"), 0o644); err != nil {
		t.Fatalf("write env: %v", err)
	}
	// godotenv does not override variables that are already set
	t.Setenv("FEE_PERCENT", "5")
	t.Setenv("API_ADDR", "")
	os.Unsetenv("API_ADDR")

	cfg, err := LoadFromEnv(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.API.Addr != ":9999" {
		t.Errorf("api addr = %q, want value from file", cfg.API.Addr)
	}
	if cfg.Exchange.FeePercent != 5 {
		t.Errorf("fee percent = %d, want environment to win", cfg.Exchange.FeePercent)
	}
}

func TestLoadFromEnvRejectsBadValues(t *testing.T) {
	tests := []struct{ key, value string }{
		{"FEE_ACCOUNT", "alice"},
		{"FEE_PERCENT", "101"},
		{"FEE_PERCENT", "2.5"},
		{"GENESIS_DEPLOYER", "0x12"},
		{"CHAIN_ID", "abc"},
	}
	for _, tt := range tests {
		t.Run(tt.key+"="+tt.value, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			if _, err := LoadFromEnv(filepath.Join(t.TempDir(), "none")); err == nil {
				t.Errorf("expected error for %s=%q", tt.key, tt.value)
			}
		})
	}
}
