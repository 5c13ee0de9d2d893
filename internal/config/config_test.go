package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const yamlConfig = `
keeper: ops-keeper
valuation_timeout: 5s
strategies:
  - id: aave-usdc
    type: http
    base_url: http://strategies.local/aave
    timeout: 20s
  - id: sandbox
    type: memory
vaults:
  - agent_name: treasury
    asset: USDC
    token_name: Loomix USDC
    token_symbol: lxUSDC
    governance: gov
    profit_max_unlock: 72h
    debt_managers: [ops-keeper]
    auto_allocate: true
    deposit_limit: "1000000000"
    strategies:
      - id: aave-usdc
        max_debt: "500000000"
        queue: true
store:
  driver: file
  path: /tmp/vaults
`

const tomlConfig = `
keeper = "toml-keeper"

[[strategies]]
id = "sandbox"
type = "memory"

[[vaults]]
asset = "DAI"
governance = "gov"
profit_max_unlock = "24h"

  [[vaults.strategies]]
  id = "sandbox"
  max_debt = "100"
  queue = true

[schedule]
report_cron = "0 */30 * * * *"

[http]
addr = ":9090"
`

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadYAML(t *testing.T) {
	cfg, err := Load(writeFile(t, "config.yaml", yamlConfig))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	require.Equal(t, "ops-keeper", cfg.Keeper)
	require.Equal(t, 5*time.Second, cfg.ValuationTimeout.Duration)
	require.Len(t, cfg.Strategies, 2)
	require.Equal(t, 20*time.Second, cfg.Strategies[0].Timeout.Duration)
	require.Equal(t, 30*time.Second, cfg.Strategies[1].Timeout.Duration)

	require.Len(t, cfg.Vaults, 1)
	v := cfg.Vaults[0]
	require.Equal(t, 72*time.Hour, v.ProfitMaxUnlock.Duration)
	require.Equal(t, []string{"ops-keeper"}, v.DebtManagers)
	require.True(t, v.AutoAllocate)
	require.Equal(t, "500000000", v.Strategies[0].MaxDebt)
	require.Equal(t, "file", cfg.Store.Driver)

	// Defaults fill what the file leaves out.
	require.Equal(t, "0 0 */6 * * *", cfg.Schedule.ReportCron)
	require.Equal(t, ":8080", cfg.HTTP.Addr)
	require.Equal(t, "info", cfg.Log.Level)
}

func TestLoadTOML(t *testing.T) {
	cfg, err := Load(writeFile(t, "config.toml", tomlConfig))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	require.Equal(t, "toml-keeper", cfg.Keeper)
	require.Equal(t, "0 */30 * * * *", cfg.Schedule.ReportCron)
	require.Equal(t, ":9090", cfg.HTTP.Addr)
	require.Len(t, cfg.Vaults, 1)
	require.Equal(t, 24*time.Hour, cfg.Vaults[0].ProfitMaxUnlock.Duration)
	require.Equal(t, "100", cfg.Vaults[0].Strategies[0].MaxDebt)
	require.Equal(t, "leveldb", cfg.Store.Driver)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())
	require.Equal(t, "keeper", cfg.Keeper)
	require.Equal(t, 10*time.Second, cfg.ValuationTimeout.Duration)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("HTTP_ADDR", ":7070")
	t.Setenv("SQLITE_PATH", "/var/lib/vaults.db")
	t.Setenv("CRON_REPORT", "0 0 * * * *")
	t.Setenv("WEBHOOK_URL", "https://hooks.local/vault")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("STORE_PATH", "/var/lib/snapshots")

	cfg, err := Load(writeFile(t, "config.yaml", yamlConfig))
	require.NoError(t, err)
	require.Equal(t, ":7070", cfg.HTTP.Addr)
	require.Equal(t, "/var/lib/vaults.db", cfg.Database.SQLitePath)
	require.Equal(t, "0 0 * * * *", cfg.Schedule.ReportCron)
	require.Equal(t, "https://hooks.local/vault", cfg.Notifier.WebhookURL)
	require.Equal(t, "debug", cfg.Log.Level)
	require.Equal(t, "/var/lib/snapshots", cfg.Store.Path)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"unknown store", func(c *Config) { c.Store.Driver = "redis" }, "store.driver"},
		{"duplicate strategy", func(c *Config) { c.Strategies[1].ID = "aave-usdc" }, "duplicate id"},
		{"http without url", func(c *Config) { c.Strategies[0].BaseURL = "" }, "base_url"},
		{"bad type", func(c *Config) { c.Strategies[1].Type = "grpc" }, "must be http or memory"},
		{"missing asset", func(c *Config) { c.Vaults[0].Asset = "" }, "asset is required"},
		{"missing governance", func(c *Config) { c.Vaults[0].Governance = "" }, "governance is required"},
		{"unknown vault strategy", func(c *Config) { c.Vaults[0].Strategies[0].ID = "nope" }, "unknown strategy"},
		{"bad max debt", func(c *Config) { c.Vaults[0].Strategies[0].MaxDebt = "-1" }, "max_debt"},
		{"bad deposit limit", func(c *Config) { c.Vaults[0].DepositLimit = "lots" }, "deposit_limit"},
		{"shared strategy", func(c *Config) {
			c.Vaults = append(c.Vaults, VaultConfig{Asset: "DAI", Governance: "gov",
				Strategies: []VaultStrategyConfig{{ID: "aave-usdc"}}})
		}, "already backs"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(writeFile(t, "config.yaml", yamlConfig))
			require.NoError(t, err)
			tt.mutate(cfg)
			err = cfg.Validate()
			require.Error(t, err)
			require.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestParseErrors(t *testing.T) {
	_, err := Load(writeFile(t, "config.yaml", "vaults: [\n"))
	require.Error(t, err)

	_, err = Load(writeFile(t, "config.yaml", "valuation_timeout: forever\n"))
	require.Error(t, err)
}
