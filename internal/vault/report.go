package vault

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/CptDat9/loomix-vault-factory/internal/events"
	"github.com/CptDat9/loomix-vault-factory/internal/model"
)

// ProcessReport reconciles a strategy's reported value with its recorded debt.
// A gain raises the debt but is locked and released over the profit unlock
// window; a loss lowers the debt and hits the share price at once.
func (v *Vault) ProcessReport(ctx context.Context, caller, id string) (model.Report, error) {
	var report model.Report
	err := v.exec(caller, RoleDebtManager, func(now uint64) ([]events.Event, error) {
		entry, s, err := v.activeStrategy(id)
		if err != nil {
			return nil, err
		}

		vctx := ctx
		if v.valuationTimeout > 0 {
			var cancel context.CancelFunc
			vctx, cancel = context.WithTimeout(ctx, v.valuationTimeout)
			defer cancel()
		}
		value, err := s.CurrentValue(vctx)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrValuationUnavailable, id, err)
		}

		report = model.Report{VaultID: v.id, Strategy: id, Timestamp: now}
		debt := entry.CurrentDebt
		switch value.Cmp(&debt) {
		case 1:
			gain := sub(value, debt)
			totalDebt, overflow := addChecked(v.st.totalDebt, gain)
			if overflow {
				return nil, fmt.Errorf("%w: gain on %s", ErrOverflow, id)
			}
			if _, overflow := addChecked(v.st.totalIdle, totalDebt); overflow {
				return nil, fmt.Errorf("%w: gain on %s", ErrOverflow, id)
			}
			v.st.totalDebt = totalDebt
			v.st.unlock.lockGain(now, gain)
			report.Gain = gain
		case -1:
			loss := sub(debt, value)
			v.st.totalDebt = sub(v.st.totalDebt, loss)
			v.st.unlock.capAt(now, v.rawAssetsLocked())
			report.Loss = loss
		}

		entry.CurrentDebt = value
		entry.LastReport = now
		v.st.strategies[id] = entry
		report.CurrentDebt = value

		locked := v.st.unlock.stillLocked(now)
		v.logger.Info("strategy reported",
			zap.String("strategy", id),
			zap.String("gain", report.Gain.Dec()),
			zap.String("loss", report.Loss.Dec()),
			zap.String("locked_profit", locked.Dec()))
		return []events.Event{events.StrategyReported{
			VaultID:      v.id,
			Strategy:     id,
			Gain:         report.Gain,
			Loss:         report.Loss,
			CurrentDebt:  value,
			LockedProfit: locked,
			Timestamp:    now,
		}}, nil
	})
	return report, err
}
