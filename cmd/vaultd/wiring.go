package main

import (
	"context"
	"fmt"

	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"github.com/CptDat9/loomix-vault-factory/internal/config"
	"github.com/CptDat9/loomix-vault-factory/internal/factory"
	"github.com/CptDat9/loomix-vault-factory/internal/model"
	"github.com/CptDat9/loomix-vault-factory/internal/strategy"
	"github.com/CptDat9/loomix-vault-factory/internal/vault"
)

// buildDirectory turns configured strategies into capabilities.
func buildDirectory(cfg *config.Config) (*strategy.Directory, error) {
	dir, err := strategy.NewDirectory()
	if err != nil {
		return nil, err
	}
	for _, sc := range cfg.Strategies {
		var s strategy.Strategy
		switch sc.Type {
		case "http":
			s = strategy.NewHTTPStrategy(sc.ID, sc.BaseURL, sc.APIKey, cfg.Proxy, sc.Timeout.Duration)
		case "memory":
			s = strategy.NewMock(sc.ID)
		default:
			return nil, fmt.Errorf("strategy %s: unsupported type %q", sc.ID, sc.Type)
		}
		if err := dir.Add(s); err != nil {
			return nil, err
		}
	}
	return dir, nil
}

func vaultParams(vc config.VaultConfig) model.VaultParams {
	return model.VaultParams{
		AgentName:       vc.AgentName,
		Asset:           vc.Asset,
		TokenName:       vc.TokenName,
		TokenSymbol:     vc.TokenSymbol,
		ProfitMaxUnlock: vc.ProfitMaxUnlock.Duration,
		Governance:      vc.Governance,
	}
}

// bootstrapVaults creates the configured vaults on an empty factory, acting
// as each vault's governance.
func bootstrapVaults(ctx context.Context, f *factory.Factory, vaults []config.VaultConfig, logger *zap.Logger) error {
	for i, vc := range vaults {
		v, err := f.CreateVault(ctx, vaultParams(vc))
		if err != nil {
			return fmt.Errorf("vaults[%d]: %w", i, err)
		}
		gov := vc.Governance
		for _, account := range vc.DebtManagers {
			if err := v.GrantRole(ctx, gov, vault.RoleDebtManager, account); err != nil {
				return fmt.Errorf("vaults[%d]: grant %s: %w", i, account, err)
			}
		}
		for _, sc := range vc.Strategies {
			if err := f.AddStrategy(ctx, gov, v.ID(), sc.ID, sc.Queue); err != nil {
				return fmt.Errorf("vaults[%d]: add strategy %s: %w", i, sc.ID, err)
			}
			if sc.MaxDebt == "" {
				continue
			}
			ceiling, err := uint256.FromDecimal(sc.MaxDebt)
			if err != nil {
				return fmt.Errorf("vaults[%d]: max debt for %s: %w", i, sc.ID, err)
			}
			if err := v.UpdateMaxDebt(ctx, gov, sc.ID, *ceiling); err != nil {
				return fmt.Errorf("vaults[%d]: max debt for %s: %w", i, sc.ID, err)
			}
		}
		if vc.DepositLimit != "" {
			limit, err := uint256.FromDecimal(vc.DepositLimit)
			if err != nil {
				return fmt.Errorf("vaults[%d]: deposit limit: %w", i, err)
			}
			if err := v.SetDepositLimit(ctx, gov, limit); err != nil {
				return fmt.Errorf("vaults[%d]: deposit limit: %w", i, err)
			}
		}
		if vc.AutoAllocate {
			if err := v.SetAutoAllocate(ctx, gov, true); err != nil {
				return fmt.Errorf("vaults[%d]: auto allocate: %w", i, err)
			}
		}
		logger.Info("vault bootstrapped",
			zap.String("vault", v.ID()),
			zap.String("symbol", vc.TokenSymbol),
			zap.Int("strategies", len(vc.Strategies)))
	}
	return nil
}
