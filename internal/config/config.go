package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/holiman/uint256"
	"gopkg.in/yaml.v3"
)

// Duration parses "90s", "168h" and the like from YAML and TOML.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	return d.UnmarshalText([]byte(value.Value))
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// StrategyConfig describes one strategy capability the service can resolve.
type StrategyConfig struct {
	ID      string   `yaml:"id" toml:"id"`
	Type    string   `yaml:"type" toml:"type"` // "http" or "memory"
	BaseURL string   `yaml:"base_url" toml:"base_url"`
	APIKey  string   `yaml:"api_key" toml:"api_key"`
	Timeout Duration `yaml:"timeout" toml:"timeout"`
}

// VaultStrategyConfig attaches a strategy to a bootstrapped vault.
type VaultStrategyConfig struct {
	ID      string `yaml:"id" toml:"id"`
	MaxDebt string `yaml:"max_debt" toml:"max_debt"`
	Queue   bool   `yaml:"queue" toml:"queue"`
}

// VaultConfig is a vault created on first start when the store holds none.
type VaultConfig struct {
	AgentName       string                `yaml:"agent_name" toml:"agent_name"`
	Asset           string                `yaml:"asset" toml:"asset"`
	TokenName       string                `yaml:"token_name" toml:"token_name"`
	TokenSymbol     string                `yaml:"token_symbol" toml:"token_symbol"`
	Governance      string                `yaml:"governance" toml:"governance"`
	ProfitMaxUnlock Duration              `yaml:"profit_max_unlock" toml:"profit_max_unlock"`
	DebtManagers    []string              `yaml:"debt_managers" toml:"debt_managers"`
	AutoAllocate    bool                  `yaml:"auto_allocate" toml:"auto_allocate"`
	DepositLimit    string                `yaml:"deposit_limit" toml:"deposit_limit"`
	Strategies      []VaultStrategyConfig `yaml:"strategies" toml:"strategies"`
}

// Config holds all application configuration.
type Config struct {
	Vaults     []VaultConfig    `yaml:"vaults" toml:"vaults"`
	Strategies []StrategyConfig `yaml:"strategies" toml:"strategies"`
	Schedule   struct {
		ReportCron   string `yaml:"report_cron" toml:"report_cron"`
		SnapshotCron string `yaml:"snapshot_cron" toml:"snapshot_cron"`
	} `yaml:"schedule" toml:"schedule"`
	Store struct {
		Driver string `yaml:"driver" toml:"driver"`
		Path   string `yaml:"path" toml:"path"`
	} `yaml:"store" toml:"store"`
	Database struct {
		SQLitePath string `yaml:"sqlite_path" toml:"sqlite_path"`
	} `yaml:"database" toml:"database"`
	HTTP struct {
		Addr         string   `yaml:"addr" toml:"addr"`
		ReadTimeout  Duration `yaml:"read_timeout" toml:"read_timeout"`
		WriteTimeout Duration `yaml:"write_timeout" toml:"write_timeout"`
	} `yaml:"http" toml:"http"`
	Notifier struct {
		WebhookURL    string  `yaml:"webhook_url" toml:"webhook_url"`
		Token         string  `yaml:"token" toml:"token"`
		RatePerSecond float64 `yaml:"rate_per_second" toml:"rate_per_second"`
		MaxRetries    int     `yaml:"max_retries" toml:"max_retries"`
	} `yaml:"notifier" toml:"notifier"`
	Log struct {
		Level       string `yaml:"level" toml:"level"`
		Development bool   `yaml:"development" toml:"development"`
	} `yaml:"log" toml:"log"`
	// Keeper is the principal scheduled jobs act as. It needs the debt
	// manager role on every vault it reports for.
	Keeper           string   `yaml:"keeper" toml:"keeper"`
	ValuationTimeout Duration `yaml:"valuation_timeout" toml:"valuation_timeout"`
	Proxy            string   `yaml:"proxy" toml:"proxy"`
}

// Load reads config from a YAML or TOML file (chosen by extension), then
// applies environment variable overrides and defaults. A missing file yields
// a default configuration.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if len(data) > 0 {
		if err := decode(path, data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnv(cfg)
	applyDefaults(cfg)
	return cfg, nil
}

func decode(path string, data []byte, cfg *Config) error {
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		_, err := toml.Decode(string(data), cfg)
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Database.SQLitePath = v
	}
	if v := os.Getenv("STORE_PATH"); v != "" {
		cfg.Store.Path = v
	}
	if v := os.Getenv("STORE_DRIVER"); v != "" {
		cfg.Store.Driver = v
	}
	if v := os.Getenv("HTTP_ADDR"); v != "" {
		cfg.HTTP.Addr = v
	}
	if v := os.Getenv("WEBHOOK_URL"); v != "" {
		cfg.Notifier.WebhookURL = v
	}
	if v := os.Getenv("WEBHOOK_TOKEN"); v != "" {
		cfg.Notifier.Token = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("CRON_REPORT"); v != "" {
		cfg.Schedule.ReportCron = v
	}
	if v := os.Getenv("KEEPER"); v != "" {
		cfg.Keeper = v
	}
	if v := os.Getenv("HTTPS_PROXY"); v != "" {
		cfg.Proxy = v
	}
	if v := os.Getenv("NOTIFIER_MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Notifier.MaxRetries = n
		}
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Schedule.ReportCron == "" {
		cfg.Schedule.ReportCron = "0 0 */6 * * *"
	}
	if cfg.Schedule.SnapshotCron == "" {
		cfg.Schedule.SnapshotCron = "0 */5 * * * *"
	}
	if cfg.Store.Driver == "" {
		cfg.Store.Driver = "leveldb"
	}
	if cfg.Store.Path == "" {
		cfg.Store.Path = "data/vaults"
	}
	if cfg.Database.SQLitePath == "" {
		cfg.Database.SQLitePath = "data/vault_history.db"
	}
	if cfg.HTTP.Addr == "" {
		cfg.HTTP.Addr = ":8080"
	}
	if cfg.HTTP.ReadTimeout.Duration == 0 {
		cfg.HTTP.ReadTimeout.Duration = 15 * time.Second
	}
	if cfg.HTTP.WriteTimeout.Duration == 0 {
		cfg.HTTP.WriteTimeout.Duration = 30 * time.Second
	}
	if cfg.Notifier.RatePerSecond == 0 {
		cfg.Notifier.RatePerSecond = 1
	}
	if cfg.Notifier.MaxRetries == 0 {
		cfg.Notifier.MaxRetries = 3
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Keeper == "" {
		cfg.Keeper = "keeper"
	}
	if cfg.ValuationTimeout.Duration == 0 {
		cfg.ValuationTimeout.Duration = 10 * time.Second
	}
	for i := range cfg.Strategies {
		if cfg.Strategies[i].Type == "" {
			cfg.Strategies[i].Type = "http"
		}
		if cfg.Strategies[i].Timeout.Duration == 0 {
			cfg.Strategies[i].Timeout.Duration = 30 * time.Second
		}
	}
	for i := range cfg.Vaults {
		if cfg.Vaults[i].ProfitMaxUnlock.Duration == 0 {
			cfg.Vaults[i].ProfitMaxUnlock.Duration = 7 * 24 * time.Hour
		}
	}
}

// Validate checks that all required fields are set and references resolve.
func (c *Config) Validate() error {
	if c.Schedule.ReportCron == "" {
		return errors.New("schedule.report_cron is required")
	}
	switch strings.ToLower(c.Store.Driver) {
	case "leveldb", "file", "json":
	default:
		return fmt.Errorf("store.driver %q must be leveldb or file", c.Store.Driver)
	}

	known := make(map[string]struct{}, len(c.Strategies))
	for i, s := range c.Strategies {
		if strings.TrimSpace(s.ID) == "" {
			return fmt.Errorf("strategies[%d].id is required", i)
		}
		if _, dup := known[s.ID]; dup {
			return fmt.Errorf("strategies[%d]: duplicate id %q", i, s.ID)
		}
		known[s.ID] = struct{}{}
		switch s.Type {
		case "http":
			if s.BaseURL == "" {
				return fmt.Errorf("strategies[%d].base_url is required for http strategies", i)
			}
		case "memory":
		default:
			return fmt.Errorf("strategies[%d].type %q must be http or memory", i, s.Type)
		}
	}

	// A strategy capability tracks one vault's funds, so it may back only one vault.
	attached := make(map[string]int, len(c.Strategies))
	for i, v := range c.Vaults {
		if strings.TrimSpace(v.Asset) == "" {
			return fmt.Errorf("vaults[%d].asset is required", i)
		}
		if strings.TrimSpace(v.Governance) == "" {
			return fmt.Errorf("vaults[%d].governance is required", i)
		}
		if v.ProfitMaxUnlock.Duration < 0 {
			return fmt.Errorf("vaults[%d].profit_max_unlock must not be negative", i)
		}
		if v.DepositLimit != "" {
			if _, err := uint256.FromDecimal(v.DepositLimit); err != nil {
				return fmt.Errorf("vaults[%d].deposit_limit: %w", i, err)
			}
		}
		for j, s := range v.Strategies {
			if _, ok := known[s.ID]; !ok {
				return fmt.Errorf("vaults[%d].strategies[%d]: unknown strategy %q", i, j, s.ID)
			}
			if prev, ok := attached[s.ID]; ok {
				return fmt.Errorf("vaults[%d].strategies[%d]: strategy %q already backs vaults[%d]", i, j, s.ID, prev)
			}
			attached[s.ID] = i
			if s.MaxDebt != "" {
				if _, err := uint256.FromDecimal(s.MaxDebt); err != nil {
					return fmt.Errorf("vaults[%d].strategies[%d].max_debt: %w", i, j, err)
				}
			}
		}
	}
	return nil
}
