package config

import (
	"math/big"
	"os"
	"strconv"
	"strings"
	"time"
)

// Server captures process-level configuration. Everything the pipeline needs
// is passed in explicitly at construction; nothing reads ambient state later.
type Server struct {
	Addr          string
	JWTSigningKey string

	Postgres PostgresConfig
	Redis    RedisConfig
	Kafka    KafkaConfig
	Storage  StorageConfig
	Ledger   LedgerConfig
}

// PostgresConfig holds the record-store connection settings.
type PostgresConfig struct {
	DSN string
}

// RedisConfig holds connection settings for the in-flight lock and state cache.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// KafkaConfig holds audit event publishing settings.
type KafkaConfig struct {
	Brokers    []string
	AuditTopic string
}

// StorageConfig holds the object gateway settings for proof uploads.
type StorageConfig struct {
	GatewayURL    string
	MaxAttempts   int
	RetryBaseWait time.Duration
}

// LedgerConfig holds the chain registrar settings.
type LedgerConfig struct {
	RPCURL          string
	ChainID         uint64
	ContractAddress string
	// DefaultFee is used when the contract's fee accessor is unavailable
	// (wei). Registration proceeds on the fallback with a warning rather
	// than blocking on contracts that don't expose an accessor.
	DefaultFee          *big.Int
	GasSafetyPercent    int
	Confirmations       uint64
	ConfirmPollInterval time.Duration
	ConfirmTimeout      time.Duration
}

// FromEnv builds a Server config from environment variables so main stays lean.
func FromEnv() Server {
	return Server{
		Addr:          envOr("SIGILLUM_ADDR", ":8080"),
		JWTSigningKey: envOr("JWT_SIGNING_KEY", "dev-secret-key-change-in-production"),
		Postgres: PostgresConfig{
			DSN: os.Getenv("POSTGRES_DSN"),
		},
		Redis: RedisConfig{
			URL:          os.Getenv("REDIS_URL"),
			PoolSize:     envInt("REDIS_POOL_SIZE", 10),
			MinIdleConns: envInt("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  envDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  envDuration("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: envDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Kafka: KafkaConfig{
			Brokers:    splitNonEmpty(os.Getenv("KAFKA_BROKERS")),
			AuditTopic: envOr("KAFKA_AUDIT_TOPIC", "sigillum.registrations"),
		},
		Storage: StorageConfig{
			GatewayURL:    envOr("STORAGE_GATEWAY_URL", "http://localhost:9000"),
			MaxAttempts:   envInt("STORAGE_MAX_ATTEMPTS", 3),
			RetryBaseWait: envDuration("STORAGE_RETRY_BASE_WAIT", 250*time.Millisecond),
		},
		Ledger: LedgerConfig{
			RPCURL:              envOr("LEDGER_RPC_URL", "http://localhost:8545"),
			ChainID:             uint64(envInt("LEDGER_CHAIN_ID", 1)),
			ContractAddress:     os.Getenv("LEDGER_CONTRACT_ADDRESS"),
			DefaultFee:          envBigInt("LEDGER_DEFAULT_FEE_WEI", big.NewInt(10_000_000_000_000_000)),
			GasSafetyPercent:    envInt("LEDGER_GAS_SAFETY_PERCENT", 20),
			Confirmations:       uint64(envInt("LEDGER_CONFIRMATIONS", 1)),
			ConfirmPollInterval: envDuration("LEDGER_CONFIRM_POLL_INTERVAL", 2*time.Second),
			ConfirmTimeout:      envDuration("LEDGER_CONFIRM_TIMEOUT", 2*time.Minute),
		},
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func envBigInt(key string, fallback *big.Int) *big.Int {
	if v := os.Getenv(key); v != "" {
		if n, ok := new(big.Int).SetString(v, 10); ok {
			return n
		}
	}
	return fallback
}

func splitNonEmpty(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
