package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// CurrencyParams are the externally supplied parameters of one currency.
// Amount fields are decimal strings in major units; they are converted to
// minor units where they are used.
type CurrencyParams struct {
	Name          string
	Decimals      int32
	MinWithdrawal string
	MaxWithdrawal string
	Confirmations int64
	Fee           string
	Network       string
}

type Config struct {
	Port      string
	DBUrl     string
	JWTSecret string

	RPCURL     string
	RPCTimeout time.Duration

	// Confirmation reconciler retry budget: up to ConfirmationMaxAttempts
	// oracle polls, ConfirmationDelay apart.
	ConfirmationMaxAttempts int
	ConfirmationDelay       time.Duration

	// Withdrawal dispatcher retry budget.
	WithdrawalMaxAttempts int
	WithdrawalDelay       time.Duration

	// DefaultConfirmations applies when a currency has no override.
	DefaultConfirmations int64

	Currencies map[string]CurrencyParams
}

func LoadConfig() Config {
	err := godotenv.Load()
	if err != nil {
		log.Println(".env file not found, using environment and defaults")
	}

	return Config{
		Port:      getEnv("PORT", "8080"),
		DBUrl:     os.Getenv("DB_URL"),
		JWTSecret: os.Getenv("JWT_SECRET"),

		RPCURL:     getEnv("BLOCKCHAIN_RPC_URL", "https://mainnet.infura.io/v3/your-project-id"),
		RPCTimeout: getEnvDuration("BLOCKCHAIN_RPC_TIMEOUT", 30*time.Second),

		ConfirmationMaxAttempts: getEnvInt("CONFIRMATION_MAX_ATTEMPTS", 20),
		ConfirmationDelay:       getEnvDuration("CONFIRMATION_RETRY_DELAY", 60*time.Second),

		WithdrawalMaxAttempts: getEnvInt("WITHDRAWAL_MAX_ATTEMPTS", 3),
		WithdrawalDelay:       getEnvDuration("WITHDRAWAL_RETRY_DELAY", 60*time.Second),

		DefaultConfirmations: 12,

		Currencies: defaultCurrencies(),
	}
}

// RequiredConfirmations returns the confirmation depth for a currency,
// falling back to the global default for unknown currencies or currencies
// without an override.
func (c Config) RequiredConfirmations(currency string) int64 {
	if params, ok := c.Currencies[currency]; ok && params.Confirmations > 0 {
		return params.Confirmations
	}
	return c.DefaultConfirmations
}

func defaultCurrencies() map[string]CurrencyParams {
	return map[string]CurrencyParams{
		"BTC": {
			Name:          "Bitcoin",
			Decimals:      8, // 1 BTC = 100,000,000 satoshi
			MinWithdrawal: "0.001",
			MaxWithdrawal: "10",
			Confirmations: 3,
			Fee:           "0.0005",
			Network:       "bitcoin",
		},
		"ETH": {
			Name:          "Ethereum",
			Decimals:      18, // 1 ETH = 10^18 wei
			MinWithdrawal: "0.01",
			MaxWithdrawal: "100",
			Confirmations: 12,
			Fee:           "0.005",
			Network:       "ethereum",
		},
		"USDT": {
			Name:          "Tether USD",
			Decimals:      6,
			MinWithdrawal: "10",
			MaxWithdrawal: "10000",
			Confirmations: 12,
			Fee:           "5",
			Network:       "ethereum",
		},
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
		log.Printf("invalid value for %s, using default %d", key, fallback)
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
		log.Printf("invalid value for %s, using default %s", key, fallback)
	}
	return fallback
}
