// internal/config/config.go
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"propflow-wallet/pkg/db" // Import db package for its Config struct
)

// Storage driver names accepted by STORAGE_DRIVER.
const (
	StorageDriverFile     = "file"
	StorageDriverPostgres = "postgres"
)

// AppConfig holds all application-wide configurations.
type AppConfig struct {
	ServerPort string

	// StorageDriver selects where the wallet snapshot lives: "file" keeps the
	// single JSON blob on disk, "postgres" keeps it in a jsonb column.
	StorageDriver string
	StorageKey    string
	DataDir       string

	// Simulated gateway behavior.
	GatewayLatency  time.Duration
	GatewayFailRate float64

	// Opening balance for a wallet that has never been persisted.
	SeedBalance decimal.Decimal

	DB db.Config
}

// LoadConfig loads configuration from environment variables, reading a .env
// file first if one is present. It returns an AppConfig instance or an error
// if any variable is malformed.
func LoadConfig() (*AppConfig, error) {
	_ = godotenv.Load()

	serverPort := getEnv("SERVER_PORT", "8080")

	storageDriver := getEnv("STORAGE_DRIVER", StorageDriverFile)
	if storageDriver != StorageDriverFile && storageDriver != StorageDriverPostgres {
		return nil, fmt.Errorf("invalid STORAGE_DRIVER: %s", storageDriver)
	}
	storageKey := getEnv("WALLET_STORAGE_KEY", "wallet-storage")
	dataDir := getEnv("DATA_DIR", "data")

	latencyMs, err := strconv.Atoi(getEnv("GATEWAY_LATENCY_MS", "500"))
	if err != nil || latencyMs < 0 {
		return nil, fmt.Errorf("invalid GATEWAY_LATENCY_MS: %w", err)
	}
	failRate, err := strconv.ParseFloat(getEnv("GATEWAY_FAILURE_RATE", "0"), 64)
	if err != nil || failRate < 0 || failRate > 1 {
		return nil, fmt.Errorf("invalid GATEWAY_FAILURE_RATE: %w", err)
	}

	seedBalance, err := decimal.NewFromString(getEnv("WALLET_SEED_BALANCE", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid WALLET_SEED_BALANCE: %w", err)
	}

	dbPort, err := strconv.Atoi(getEnv("DB_PORT", "5432"))
	if err != nil {
		return nil, fmt.Errorf("invalid DB_PORT: %w", err)
	}

	return &AppConfig{
		ServerPort:      serverPort,
		StorageDriver:   storageDriver,
		StorageKey:      storageKey,
		DataDir:         dataDir,
		GatewayLatency:  time.Duration(latencyMs) * time.Millisecond,
		GatewayFailRate: failRate,
		SeedBalance:     seedBalance,
		DB: db.Config{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     dbPort,
			User:     getEnv("DB_USER", "user"),
			Password: getEnv("DB_PASSWORD", "password"),
			DBName:   getEnv("DB_NAME", "walletdb"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
	}, nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
