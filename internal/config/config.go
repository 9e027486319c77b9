package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"

	"github.com/janvault/janvault/internal/scheme"
)

type Config struct {
	Budget   BudgetConfig   `mapstructure:"budget"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Database DatabaseConfig `mapstructure:"database"`
	Schemes  []SchemeConfig `mapstructure:"schemes"`
	Policy   PolicyConfig   `mapstructure:"policy"`
	Backfill BackfillConfig `mapstructure:"backfill"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Alerts   AlertsConfig   `mapstructure:"alerts"`
}

type BudgetConfig struct {
	Initial float64 `mapstructure:"initial"`
}

type StorageConfig struct {
	Backend string `mapstructure:"backend"`
	DataDir string `mapstructure:"data_dir"`
}

type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Database string `mapstructure:"database"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
}

type SchemeConfig struct {
	ID     string  `mapstructure:"id"`
	Amount float64 `mapstructure:"amount"`
}

type PolicyConfig struct {
	ClaimCeiling int `mapstructure:"claim_ceiling"`
	CooldownDays int `mapstructure:"cooldown_days"`
}

type BackfillConfig struct {
	LedgerFile  string `mapstructure:"ledger_file"`
	RegistryCSV string `mapstructure:"registry_csv"`
}

type HTTPConfig struct {
	Addr string `mapstructure:"addr"`
}

type LoggingConfig struct {
	Level string `mapstructure:"level"`
}

type AlertsConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	SlackWebhook string `mapstructure:"slack_webhook"`
}

func Load(configPath string) (*Config, error) {
	v := viper.New()

	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	for _, key := range v.AllKeys() {
		val := v.GetString(key)
		if expanded := os.ExpandEnv(val); expanded != val {
			v.Set(key, expanded)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &config, nil
}

func (c *Config) Validate() error {
	if c.Budget.Initial == 0 {
		c.Budget.Initial = 1000000
	}
	if c.Budget.Initial < 0 {
		return fmt.Errorf("budget.initial must be positive")
	}

	if c.Storage.Backend == "" {
		c.Storage.Backend = "bolt"
	}
	switch c.Storage.Backend {
	case "bolt":
		if c.Storage.DataDir == "" {
			return fmt.Errorf("storage.data_dir is required for the bolt backend")
		}
	case "postgres":
		if c.Database.Host == "" {
			return fmt.Errorf("database.host is required for the postgres backend")
		}
		if c.Database.Database == "" {
			return fmt.Errorf("database.database is required for the postgres backend")
		}
		if c.Database.User == "" {
			return fmt.Errorf("database.user is required for the postgres backend")
		}
	default:
		return fmt.Errorf("invalid storage backend: %s (valid options: bolt, postgres)", c.Storage.Backend)
	}

	for _, s := range c.Schemes {
		if s.ID == "" {
			return fmt.Errorf("scheme entries require an id")
		}
		if s.Amount <= 0 {
			return fmt.Errorf("scheme %s requires a positive amount", s.ID)
		}
	}

	if c.Policy.ClaimCeiling == 0 {
		c.Policy.ClaimCeiling = 3
	}
	if c.Policy.CooldownDays == 0 {
		c.Policy.CooldownDays = 30
	}

	if c.HTTP.Addr == "" {
		c.HTTP.Addr = ":8080"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}

	return nil
}

// SchemeAmounts converts the configured scheme list into a catalog map,
// falling back to the built-in table when none is configured.
func (c *Config) SchemeAmounts() map[string]float64 {
	if len(c.Schemes) == 0 {
		return scheme.DefaultAmounts()
	}
	amounts := make(map[string]float64, len(c.Schemes))
	for _, s := range c.Schemes {
		amounts[s.ID] = s.Amount
	}
	return amounts
}

func (d *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf("host=%s port=%d dbname=%s user=%s password=%s sslmode=disable",
		d.Host, d.Port, d.Database, d.User, d.Password)
}
