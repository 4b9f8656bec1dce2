package config

import (
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

type DBConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	Name     string
	SSLMode  string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Enabled  bool
}

// LedgerConfig is the policy surface of the ledger core: where tithe legs
// land, how much is tithed by default, and the per-tier daily ceilings.
type LedgerConfig struct {
	FundAccountID    string
	DefaultTitheRate decimal.Decimal
	TierLimits       map[int]int64
	Timezone         *time.Location
	HistoryPageSize  int
}

type Config struct {
	ServerPort string
	DB         DBConfig
	Redis      RedisConfig
	Ledger     LedgerConfig
}

func setDefaults() {
	viper.SetDefault("server.port", "8080")

	viper.SetDefault("db.host", "localhost")
	viper.SetDefault("db.port", "5432")
	viper.SetDefault("db.user", "postgres")
	viper.SetDefault("db.password", "password")
	viper.SetDefault("db.name", "coinledger")
	viper.SetDefault("db.sslmode", "disable")

	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.enabled", false)

	viper.SetDefault("ledger.fund_account_id", "fund_development_001")
	viper.SetDefault("ledger.default_tithe_rate", "0.05")
	viper.SetDefault("ledger.timezone", "UTC")
	viper.SetDefault("ledger.history_page_size", 50)
	viper.SetDefault("ledger.tier_limits", map[string]interface{}{
		"1": 100,
		"2": 500,
		"3": 1000,
		"4": 5000,
		"5": 10000,
	})
}

// Load reads configuration from config.yaml if present, then from the
// environment (COINLEDGER_DB_HOST and friends), falling back to defaults.
func Load() (*Config, error) {
	setDefaults()

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./configs")

	viper.SetEnvPrefix("coinledger")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	rate, err := decimal.NewFromString(viper.GetString("ledger.default_tithe_rate"))
	if err != nil {
		return nil, fmt.Errorf("parse ledger.default_tithe_rate: %w", err)
	}
	if rate.IsNegative() || rate.GreaterThan(decimal.NewFromInt(1)) {
		return nil, fmt.Errorf("ledger.default_tithe_rate must be within [0,1], got %s", rate)
	}

	loc, err := time.LoadLocation(viper.GetString("ledger.timezone"))
	if err != nil {
		return nil, fmt.Errorf("parse ledger.timezone: %w", err)
	}

	limits, err := parseTierLimits(viper.GetStringMap("ledger.tier_limits"))
	if err != nil {
		return nil, err
	}

	return &Config{
		ServerPort: viper.GetString("server.port"),
		DB: DBConfig{
			Host:     viper.GetString("db.host"),
			Port:     viper.GetString("db.port"),
			User:     viper.GetString("db.user"),
			Password: viper.GetString("db.password"),
			Name:     viper.GetString("db.name"),
			SSLMode:  viper.GetString("db.sslmode"),
		},
		Redis: RedisConfig{
			Addr:     viper.GetString("redis.addr"),
			Password: viper.GetString("redis.password"),
			DB:       viper.GetInt("redis.db"),
			Enabled:  viper.GetBool("redis.enabled"),
		},
		Ledger: LedgerConfig{
			FundAccountID:    viper.GetString("ledger.fund_account_id"),
			DefaultTitheRate: rate,
			TierLimits:       limits,
			Timezone:         loc,
			HistoryPageSize:  viper.GetInt("ledger.history_page_size"),
		},
	}, nil
}

func parseTierLimits(raw map[string]interface{}) (map[int]int64, error) {
	limits := make(map[int]int64, len(raw))
	for key, value := range raw {
		tier, err := strconv.Atoi(key)
		if err != nil || tier < 1 {
			return nil, fmt.Errorf("ledger.tier_limits: invalid tier %q", key)
		}
		limit, err := strconv.ParseInt(fmt.Sprintf("%v", value), 10, 64)
		if err != nil || limit < 0 {
			return nil, fmt.Errorf("ledger.tier_limits: invalid limit for tier %q", key)
		}
		limits[tier] = limit
	}
	if len(limits) == 0 {
		return nil, fmt.Errorf("ledger.tier_limits must define at least one tier")
	}
	return limits, nil
}

// GetDBConnectionString builds the lib/pq connection string.
func (c *Config) GetDBConnectionString() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host, c.DB.Port, c.DB.User, c.DB.Password, c.DB.Name, c.DB.SSLMode)
}
