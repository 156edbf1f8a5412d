package params

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
)

type Exchange struct {
	// FeeAccount receives every fill fee. Fixed for the lifetime of the ledger.
	FeeAccount common.Address
	// FeePercent is an integer percentage of amountWanted charged to fillers.
	FeePercent uint64
}

type Genesis struct {
	// Deployer receives the full supply of every genesis token and its
	// account nonces derive the token and exchange addresses.
	Deployer common.Address
	// Supply is minted per token, in whole tokens.
	Supply string
}

type Node struct {
	// MinBlockTime is how often the sequencer cuts a block when txs are
	// pending. Empty intervals produce no block.
	MinBlockTime time.Duration
	ChainID      int64
	DataDir      string // empty = in-memory only
	LogFile      string // empty = stdout only
	LogLevel     string
	MempoolLimit int
}

type API struct {
	Addr        string
	CORSOrigins []string
}

type P2P struct {
	Listen    []string // multiaddrs; empty disables gossip
	Bootstrap []string // full multiaddrs with /p2p/<id>
	Topic     string
}

type Kafka struct {
	Brokers []string // empty disables the sink
	Topic   string
}

type Config struct {
	Exchange Exchange
	Genesis  Genesis
	Node     Node
	API      API
	P2P      P2P
	Kafka    Kafka
}

func Default() Config {
	return Config{
		Exchange: Exchange{
			FeeAccount: common.HexToAddress("0x8626f6940E2eb28930eFb4CeF49B2d1F2C9C1199"),
			FeePercent: 10,
		},
		Genesis: Genesis{
			// Hardhat account #0
			Deployer: common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"),
			Supply:   "1000000",
		},
		Node: Node{
			MinBlockTime: 200 * time.Millisecond, // Devnet default: prevent log spam
			ChainID:      1337,
			LogLevel:     "info",
			MempoolLimit: 10_000,
		},
		API: API{
			Addr:        ":8080",
			CORSOrigins: []string{"*"},
		},
		P2P: P2P{
			Topic: "custodex-events",
		},
		Kafka: Kafka{
			Topic: "custodex.events",
		},
	}
}

// LoadFromEnv loads configuration from .env file (if exists) and environment variables
// Priority: ENV > .env file > defaults
func LoadFromEnv(envPath string) (Config, error) {
	cfg := Default()

	// Try to load .env file (optional - won't fail if not exists)
	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load() // loads .env from current directory
	}

	if v := os.Getenv("FEE_ACCOUNT"); v != "" {
		if !common.IsHexAddress(v) {
			return cfg, fmt.Errorf("FEE_ACCOUNT: invalid address %q", v)
		}
		cfg.Exchange.FeeAccount = common.HexToAddress(v)
	}
	if v := os.Getenv("FEE_PERCENT"); v != "" {
		pct, err := strconv.ParseUint(v, 10, 64)
		if err != nil || pct > 100 {
			return cfg, fmt.Errorf("FEE_PERCENT: want integer 0-100, got %q", v)
		}
		cfg.Exchange.FeePercent = pct
	}
	if v := os.Getenv("GENESIS_DEPLOYER"); v != "" {
		if !common.IsHexAddress(v) {
			return cfg, fmt.Errorf("GENESIS_DEPLOYER: invalid address %q", v)
		}
		cfg.Genesis.Deployer = common.HexToAddress(v)
	}
	cfg.Genesis.Supply = getEnv("GENESIS_SUPPLY", cfg.Genesis.Supply)

	if v := os.Getenv("NODE_MIN_BLOCK_TIME_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil {
			cfg.Node.MinBlockTime = time.Duration(ms) * time.Millisecond
		}
	}
	if v := os.Getenv("CHAIN_ID"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return cfg, fmt.Errorf("CHAIN_ID: %w", err)
		}
		cfg.Node.ChainID = id
	}
	if v := os.Getenv("MEMPOOL_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Node.MempoolLimit = n
		}
	}
	cfg.Node.DataDir = getEnv("DATA_DIR", cfg.Node.DataDir)
	cfg.Node.LogFile = getEnv("LOG_FILE", cfg.Node.LogFile)
	cfg.Node.LogLevel = getEnv("LOG_LEVEL", cfg.Node.LogLevel)

	cfg.API.Addr = getEnv("API_ADDR", cfg.API.Addr)
	if v := os.Getenv("CORS_ORIGINS"); v != "" {
		cfg.API.CORSOrigins = splitList(v)
	}

	if v := os.Getenv("P2P_LISTEN"); v != "" {
		cfg.P2P.Listen = splitList(v)
	}
	if v := os.Getenv("P2P_BOOTSTRAP"); v != "" {
		cfg.P2P.Bootstrap = splitList(v)
	}
	cfg.P2P.Topic = getEnv("P2P_TOPIC", cfg.P2P.Topic)

	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = splitList(v)
	}
	cfg.Kafka.Topic = getEnv("KAFKA_TOPIC", cfg.Kafka.Topic)

	return cfg, nil
}

// getEnv returns environment variable value or default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// splitList splits a comma-separated value, dropping blanks
func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
