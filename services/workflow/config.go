package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the service settings read from the environment.
type Config struct {
	ServiceName     string
	ServiceVersion  string
	Environment     string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration

	LogLevel  string
	LogFormat string

	OTLPEndpoint     string
	TraceSampleRatio float64

	DB    DBConfig
	Redis RedisConfig
	Chain ChainConfig
	DTM   DTMConfig

	JWTSecret         string
	ApprovalRateLimit string
	MaterialMatchMode string
}

// DBConfig holds PostgreSQL connection settings.
type DBConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	Name     string
	SSLMode  string
	MaxConns int32
	MinConns int32
}

// DSN returns a URL usable by both pgx and lib/pq.
func (c DBConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", c.User, c.Password, c.Host, c.Port, c.Name, c.SSLMode)
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	LockTTL  time.Duration
}

// ChainConfig holds the approval contract settings. An empty RPCURL disables
// server-side signing.
type ChainConfig struct {
	RPCURL          string
	ChainID         int64
	ContractAddress string
	SignerKey       string
	MiningTimeout   time.Duration
}

// DTMConfig enables reliable approval delivery through a DTM server when
// Server is set.
type DTMConfig struct {
	Server        string
	CallbackURL   string
	InternalToken string
}

// LoadConfig reads .env when present, then the process environment.
func LoadConfig() Config {
	_ = godotenv.Load()

	return Config{
		ServiceName:     getEnv("SERVICE_NAME", "workflow-service"),
		ServiceVersion:  getEnv("SERVICE_VERSION", "dev"),
		Environment:     getEnv("DEPLOYMENT_ENV", "development"),
		Port:            getEnv("PORT", "8080"),
		ReadTimeout:     getEnvDuration("HTTP_READ_TIMEOUT", 30*time.Second),
		WriteTimeout:    getEnvDuration("HTTP_WRITE_TIMEOUT", 3*time.Minute),
		ShutdownTimeout: getEnvDuration("HTTP_SHUTDOWN_TIMEOUT", 15*time.Second),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "json"),

		OTLPEndpoint:     getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4318"),
		TraceSampleRatio: getEnvFloat("OTEL_TRACES_SAMPLER_ARG", 1),

		DB: DBConfig{
			Host:     getEnv("DATABASE_HOST", "localhost"),
			Port:     getEnv("DATABASE_PORT", "5432"),
			User:     getEnv("DATABASE_USER", "root"),
			Password: getEnv("DATABASE_PASSWORD", "pass"),
			Name:     getEnv("DATABASE_NAME", "workflow_db"),
			SSLMode:  getEnv("DATABASE_SSLMODE", "disable"),
			MaxConns: int32(getEnvInt("DATABASE_MAX_CONNS", 25)),
			MinConns: int32(getEnvInt("DATABASE_MIN_CONNS", 5)),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
			LockTTL:  getEnvDuration("APPROVAL_LOCK_TTL", 5*time.Minute),
		},
		Chain: ChainConfig{
			RPCURL:          getEnv("CHAIN_RPC_URL", ""),
			ChainID:         int64(getEnvInt("CHAIN_ID", 11155111)),
			ContractAddress: getEnv("CHAIN_CONTRACT_ADDRESS", ""),
			SignerKey:       getEnv("CHAIN_SIGNER_KEY", ""),
			MiningTimeout:   getEnvDuration("CHAIN_MINING_TIMEOUT", 2*time.Minute),
		},
		DTM: DTMConfig{
			Server:        getEnv("DTM_SERVER", ""),
			CallbackURL:   getEnv("SERVICE_URL", "http://workflow-service:8080"),
			InternalToken: getEnv("INTERNAL_TOKEN", ""),
		},

		JWTSecret:         getEnv("JWT_SECRET", ""),
		ApprovalRateLimit: getEnv("APPROVAL_RATE_LIMIT", "5-M"),
		MaterialMatchMode: getEnv("MATERIAL_MATCH_MODE", "substring"),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	value, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvFloat(key string, defaultValue float64) float64 {
	value, err := strconv.ParseFloat(os.Getenv(key), 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value, err := time.ParseDuration(os.Getenv(key))
	if err != nil {
		return defaultValue
	}
	return value
}
