// Package config 配置
package config

import (
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	envcfg "github.com/commerce/order/pkg/config"
)

// Config 服务配置
type Config struct {
	ServiceName string
	HTTPPort    int

	// PostgreSQL
	DBHost     string
	DBPort     int
	DBUser     string
	DBPassword string
	DBName     string

	// Redis
	RedisAddr     string
	RedisPassword string

	// Payment gateway
	PaymentAuthURL      string
	PaymentTimeout      time.Duration
	PaymentMaxAttempts  int
	PaymentRetryBackoff time.Duration

	// Promotion tiers
	Promo PromoConfig

	// Loyalty accrual
	Loyalty LoyaltyConfig

	// Inventory
	DefaultRestockQty int

	// Orders
	RequireIdempotencyKey bool

	// Tracing
	TracingEnabled    bool
	TracingEndpoint   string
	TracingSampleRate float64
}

// PromoConfig 折扣阶梯配置
type PromoConfig struct {
	Tier1Threshold decimal.Decimal
	Tier1Rate      decimal.Decimal
	Tier2Threshold decimal.Decimal
	Tier2Rate      decimal.Decimal
	Tier3Threshold decimal.Decimal
	Tier3Rate      decimal.Decimal
}

// LoyaltyConfig 积分发放配置
type LoyaltyConfig struct {
	PointsPerDollar decimal.Decimal
	MaxPoints       int64
	Interval        time.Duration
	Lookback        time.Duration
	ManualLookback  time.Duration
	BatchSize       int
}

// Load 加载配置
func Load() *Config {
	return &Config{
		ServiceName: envcfg.GetEnv("SERVICE_NAME", "order-core"),
		HTTPPort:    envcfg.GetEnvInt("HTTP_PORT", 8080),

		DBHost:     envcfg.GetEnv("DB_HOST", "localhost"),
		DBPort:     envcfg.GetEnvInt("DB_PORT", 5432),
		DBUser:     envcfg.GetEnv("DB_USER", "commerce"),
		DBPassword: envcfg.GetEnv("DB_PASSWORD", "commerce123"),
		DBName:     envcfg.GetEnv("DB_NAME", "commerce"),

		RedisAddr:     envcfg.GetEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: envcfg.GetEnv("REDIS_PASSWORD", ""),

		PaymentAuthURL:      envcfg.GetEnv("PAYMENT_AUTH_URL", "http://localhost:9090/payments"),
		PaymentTimeout:      time.Duration(envcfg.GetEnvInt("PAYMENT_TIMEOUT_SECONDS", 10)) * time.Second,
		PaymentMaxAttempts:  envcfg.GetEnvInt("PAYMENT_MAX_ATTEMPTS", 2),
		PaymentRetryBackoff: time.Duration(envcfg.GetEnvInt("PAYMENT_RETRY_BACKOFF_MS", 1000)) * time.Millisecond,

		Promo: PromoConfig{
			Tier1Threshold: envcfg.GetEnvDecimal("PROMO_TIER1_THRESHOLD", decimal.NewFromInt(50)),
			Tier1Rate:      envcfg.GetEnvDecimal("PROMO_TIER1_RATE", decimal.RequireFromString("0.05")),
			Tier2Threshold: envcfg.GetEnvDecimal("PROMO_TIER2_THRESHOLD", decimal.NewFromInt(100)),
			Tier2Rate:      envcfg.GetEnvDecimal("PROMO_TIER2_RATE", decimal.RequireFromString("0.10")),
			Tier3Threshold: envcfg.GetEnvDecimal("PROMO_TIER3_THRESHOLD", decimal.NewFromInt(200)),
			Tier3Rate:      envcfg.GetEnvDecimal("PROMO_TIER3_RATE", decimal.RequireFromString("0.15")),
		},

		Loyalty: LoyaltyConfig{
			PointsPerDollar: envcfg.GetEnvDecimal("LOYALTY_POINTS_PER_DOLLAR", decimal.NewFromInt(1)),
			MaxPoints:       envcfg.GetEnvInt64("LOYALTY_MAX_POINTS", 500),
			Interval:        time.Duration(envcfg.GetEnvInt("LOYALTY_INTERVAL_MINUTES", 30)) * time.Minute,
			Lookback:        time.Duration(envcfg.GetEnvInt("LOYALTY_LOOKBACK_MINUTES", 60)) * time.Minute,
			ManualLookback:  time.Duration(envcfg.GetEnvInt("LOYALTY_MANUAL_LOOKBACK_HOURS", 24)) * time.Hour,
			BatchSize:       envcfg.GetEnvInt("LOYALTY_BATCH_SIZE", 50),
		},

		DefaultRestockQty: envcfg.GetEnvInt("INVENTORY_DEFAULT_RESTOCK_QTY", 50),

		RequireIdempotencyKey: envcfg.GetEnvBool("ORDER_REQUIRE_IDEMPOTENCY_KEY", true),

		TracingEnabled:    envcfg.GetEnvBool("TRACING_ENABLED", false),
		TracingEndpoint:   envcfg.GetEnv("TRACING_ENDPOINT", "http://localhost:14268/api/traces"),
		TracingSampleRate: float64(envcfg.GetEnvInt("TRACING_SAMPLE_RATE_PERCENT", 10)) / 100,
	}
}

// DSN 返回数据库连接字符串
func (c *Config) DSN() string {
	return "host=" + c.DBHost +
		" port=" + strconv.Itoa(c.DBPort) +
		" user=" + c.DBUser +
		" password=" + c.DBPassword +
		" dbname=" + c.DBName +
		" sslmode=disable"
}
