package config

import (
	"os"
	"strconv"
)

type PayoutConfig struct {
	MinAmount  int64 // minor units; 0 disables the floor
	DailyLimit int64 // minor units per owner per day; 0 disables
	FeeBps     int64 // informational fee rate quoted back on requests
}

func LoadPayoutConfig() *PayoutConfig {
	return &PayoutConfig{
		MinAmount:  getEnvAsInt64("PAYOUT_MIN_AMOUNT", 0),
		DailyLimit: getEnvAsInt64("PAYOUT_DAILY_LIMIT", 0),
		FeeBps:     getEnvAsInt64("PAYOUT_FEE_BPS", 0),
	}
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvAsInt64(key string, fallback int64) int64 {
	if value, err := strconv.ParseInt(getEnv(key, ""), 10, 64); err == nil {
		return value
	}
	return fallback
}
