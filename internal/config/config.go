/**
 * @description
 * This package handles the configuration management for the service. It uses the
 * Viper library to read configuration from environment variables, providing a
 * centralized and straightforward way to manage application settings.
 *
 * The vault parameters (capacities, ceilings, asset identifiers) are read once
 * at boot and are immutable afterward; the vault constructors validate them.
 *
 * @dependencies
 * - github.com/spf13/viper: A popular library for Go application configuration.
 */

package config

import (
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all the configuration variables for the vault-service.
// These values are loaded from environment variables.
type Config struct {
	ServerPort           string `mapstructure:"SERVER_PORT"`
	DatabaseURL          string `mapstructure:"DATABASE_URL"`
	RedisURL             string `mapstructure:"REDIS_URL"`
	RedisRateLimitPrefix string `mapstructure:"REDIS_RATE_LIMIT_PREFIX"`
	RabbitMQURL          string `mapstructure:"RABBITMQ_URL"`
	JWTSecret            string `mapstructure:"JWT_SECRET"`
	InternalAPIKey       string `mapstructure:"INTERNAL_API_KEY"`
	OwnerAccountID       string `mapstructure:"OWNER_ACCOUNT_ID"`

	FeedAPIBaseURL    string `mapstructure:"FEED_API_BASE_URL"`
	FeedAPIKey        string `mapstructure:"FEED_API_KEY"`
	RouterAPIBaseURL  string `mapstructure:"ROUTER_API_BASE_URL"`
	RouterAPIKey      string `mapstructure:"ROUTER_API_KEY"`
	RouterSpenderID   string `mapstructure:"ROUTER_SPENDER_ID"`
	CustodyAPIBaseURL string `mapstructure:"CUSTODY_API_BASE_URL"`
	CustodyAPIKey     string `mapstructure:"CUSTODY_API_KEY"`
	CustodyAccountID  string `mapstructure:"CUSTODY_ACCOUNT_ID"`

	AccountingAsset    string `mapstructure:"ACCOUNTING_ASSET"`
	AccountingDecimals uint8  `mapstructure:"ACCOUNTING_DECIMALS"`
	NativeAsset        string `mapstructure:"NATIVE_ASSET"`
	NativeDecimals     uint8  `mapstructure:"NATIVE_DECIMALS"`
	NativeFeedID       string `mapstructure:"NATIVE_FEED_ID"`

	PricedBankCap         uint64 `mapstructure:"PRICED_BANK_CAP"`
	PricedWithdrawCeiling uint64 `mapstructure:"PRICED_WITHDRAW_CEILING"`
	SwapBankCap           uint64 `mapstructure:"SWAP_BANK_CAP"`
	SwapWithdrawCeiling   uint64 `mapstructure:"SWAP_WITHDRAW_CEILING"`

	DepositRateLimitPerMinute int `mapstructure:"DEPOSIT_RATE_LIMIT_PER_MINUTE"`
}

// LoadConfig reads configuration from environment variables from the given path.
// It uses Viper to automatically bind environment variables to the Config struct.
func LoadConfig(path string) (config Config, err error) {
	// Tell viper the path to look for the optional .env file.
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	// Enable automatic binding of environment variables.
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Set default values
	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("REDIS_RATE_LIMIT_PREFIX", "kipubank:rate_limit")
	viper.SetDefault("ACCOUNTING_ASSET", "USDC")
	viper.SetDefault("ACCOUNTING_DECIMALS", 6)
	viper.SetDefault("NATIVE_ASSET", "ETH")
	viper.SetDefault("NATIVE_DECIMALS", 18)
	viper.SetDefault("PRICED_BANK_CAP", 100_000_000_000) // 100k USD in 6-decimal units
	viper.SetDefault("PRICED_WITHDRAW_CEILING", 1_000_000_000)
	viper.SetDefault("SWAP_BANK_CAP", 100_000_000_000)
	viper.SetDefault("SWAP_WITHDRAW_CEILING", 1_000_000_000)
	viper.SetDefault("DEPOSIT_RATE_LIMIT_PER_MINUTE", 0) // disabled unless configured

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("REDIS_URL", "REDIS_URL", "VAULT_REDIS_URL")
	_ = viper.BindEnv("REDIS_RATE_LIMIT_PREFIX")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("JWT_SECRET")
	_ = viper.BindEnv("INTERNAL_API_KEY", "INTERNAL_API_KEY", "VAULT_SERVICE_INTERNAL_API_KEY")
	_ = viper.BindEnv("OWNER_ACCOUNT_ID")
	_ = viper.BindEnv("FEED_API_BASE_URL")
	_ = viper.BindEnv("FEED_API_KEY")
	_ = viper.BindEnv("ROUTER_API_BASE_URL")
	_ = viper.BindEnv("ROUTER_API_KEY")
	_ = viper.BindEnv("ROUTER_SPENDER_ID")
	_ = viper.BindEnv("CUSTODY_API_BASE_URL")
	_ = viper.BindEnv("CUSTODY_API_KEY")
	_ = viper.BindEnv("CUSTODY_ACCOUNT_ID")
	_ = viper.BindEnv("ACCOUNTING_ASSET")
	_ = viper.BindEnv("ACCOUNTING_DECIMALS")
	_ = viper.BindEnv("NATIVE_ASSET")
	_ = viper.BindEnv("NATIVE_DECIMALS")
	_ = viper.BindEnv("NATIVE_FEED_ID")
	_ = viper.BindEnv("PRICED_BANK_CAP")
	_ = viper.BindEnv("PRICED_WITHDRAW_CEILING")
	_ = viper.BindEnv("SWAP_BANK_CAP")
	_ = viper.BindEnv("SWAP_WITHDRAW_CEILING")
	_ = viper.BindEnv("PRICED_BANK_CAP_USD")
	_ = viper.BindEnv("PRICED_WITHDRAW_CEILING_USD")
	_ = viper.BindEnv("SWAP_BANK_CAP_USD")
	_ = viper.BindEnv("SWAP_WITHDRAW_CEILING_USD")
	_ = viper.BindEnv("DEPOSIT_RATE_LIMIT_PER_MINUTE")

	// Attempt to read the config file. It's okay if it doesn't exist.
	if err = viper.ReadInConfig(); err != nil {
		// If the config file is not found, we can ignore the error.
		// For other errors, we should return them.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Printf("level=warn component=config msg=\"failed to read config file; using environment values\" err=%v", err)
		}
	}

	// Unmarshal the configuration into the Config struct.
	err = viper.Unmarshal(&config)
	if err != nil {
		return
	}

	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		config.ServerPort = port
	}
	if strings.TrimSpace(config.InternalAPIKey) == "" {
		config.InternalAPIKey = strings.TrimSpace(os.Getenv("VAULT_SERVICE_INTERNAL_API_KEY"))
	}
	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.RedisRateLimitPrefix = strings.TrimSpace(config.RedisRateLimitPrefix)
	if config.RedisRateLimitPrefix == "" {
		config.RedisRateLimitPrefix = "kipubank:rate_limit"
	}

	// Allow specifying the caps and ceilings in whole accounting-currency
	// units via *_USD variants; the canonical variables are in 6-decimal
	// smallest units.
	config.PricedBankCap = wholeUnitOverride("PRICED_BANK_CAP_USD", config.PricedBankCap, config.AccountingDecimals)
	config.PricedWithdrawCeiling = wholeUnitOverride("PRICED_WITHDRAW_CEILING_USD", config.PricedWithdrawCeiling, config.AccountingDecimals)
	config.SwapBankCap = wholeUnitOverride("SWAP_BANK_CAP_USD", config.SwapBankCap, config.AccountingDecimals)
	config.SwapWithdrawCeiling = wholeUnitOverride("SWAP_WITHDRAW_CEILING_USD", config.SwapWithdrawCeiling, config.AccountingDecimals)

	if config.DepositRateLimitPerMinute < 0 {
		log.Printf("level=warn component=config msg=\"negative deposit rate limit configured; disabling\" limit=%d", config.DepositRateLimitPerMinute)
		config.DepositRateLimitPerMinute = 0
	}

	return
}

// wholeUnitOverride reads an optional whole-unit env variable and scales it
// into smallest units, falling back to the already-loaded value.
func wholeUnitOverride(envKey string, fallback uint64, decimals uint8) uint64 {
	if !viper.IsSet(envKey) {
		return fallback
	}
	raw := strings.TrimSpace(viper.GetString(envKey))
	if raw == "" {
		return fallback
	}
	whole, parseErr := strconv.ParseUint(raw, 10, 64)
	if parseErr != nil {
		log.Printf("level=warn component=config msg=\"invalid whole-unit override\" env=%s value=%q err=%v", envKey, raw, parseErr)
		return fallback
	}
	scale := uint64(1)
	for i := uint8(0); i < decimals; i++ {
		scale *= 10
	}
	return whole * scale
}
