package vault

import (
	"context"
	"fmt"

	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"github.com/CptDat9/loomix-vault-factory/internal/events"
	"github.com/CptDat9/loomix-vault-factory/internal/model"
	"github.com/CptDat9/loomix-vault-factory/internal/strategy"
)

// UpdateDebt moves a strategy's debt toward target.
//
// Increases are capped by the ceiling headroom, by idle assets and by what the
// strategy accepts. Decreases withdraw the difference; if the strategy realizes
// more than maxLossBps of the requested amount as loss the call fails and the
// vault is left unchanged.
func (v *Vault) UpdateDebt(ctx context.Context, caller, id string, target uint256.Int, maxLossBps uint64) (model.DebtChange, error) {
	var change model.DebtChange
	err := v.exec(caller, RoleDebtManager, func(now uint64) ([]events.Event, error) {
		if maxLossBps > model.MaxBps {
			return nil, ErrInvalidBps
		}
		entry, s, err := v.activeStrategy(id)
		if err != nil {
			return nil, err
		}
		prev := entry.CurrentDebt
		change = model.DebtChange{VaultID: v.id, Strategy: id, PreviousDebt: prev, NewDebt: prev, Timestamp: now}

		switch target.Cmp(&prev) {
		case 0:
			return nil, nil
		case 1:
			if _, err := v.increaseDebtLocked(ctx, entry, s, target); err != nil {
				return nil, err
			}
		default:
			loss, err := v.decreaseDebtLocked(ctx, entry, s, target, maxLossBps, now)
			if err != nil {
				return nil, err
			}
			change.Loss = loss
		}

		change.NewDebt = v.st.strategies[id].CurrentDebt
		if change.NewDebt.Eq(&prev) {
			return nil, nil
		}
		v.logger.Info("debt updated",
			zap.String("strategy", id), zap.String("from", prev.Dec()), zap.String("to", change.NewDebt.Dec()))
		return []events.Event{events.DebtUpdated{
			VaultID: v.id, Strategy: id, PreviousDebt: prev, CurrentDebt: change.NewDebt, Timestamp: now,
		}}, nil
	})
	return change, err
}

// increaseDebtLocked deposits idle into s. It commits only after the strategy
// call succeeded, so an error leaves the state untouched.
func (v *Vault) increaseDebtLocked(ctx context.Context, entry model.StrategyEntry, s strategy.Strategy, target uint256.Int) (uint256.Int, error) {
	if !entry.MaxDebt.Gt(&entry.CurrentDebt) {
		return uint256.Int{}, fmt.Errorf("%w: %s at %s of %s",
			ErrCeilingExceeded, entry.ID, entry.CurrentDebt.Dec(), entry.MaxDebt.Dec())
	}
	if v.st.totalIdle.IsZero() {
		return uint256.Int{}, ErrInsufficientIdle
	}
	want := sub(target, entry.CurrentDebt)
	want = minAmount(want, sub(entry.MaxDebt, entry.CurrentDebt))
	want = minAmount(want, v.st.totalIdle)

	accepted, err := s.Deposit(ctx, want)
	if err != nil {
		return uint256.Int{}, fmt.Errorf("%w: deposit into %s: %w", ErrStrategyUnavailable, entry.ID, err)
	}
	accepted = minAmount(accepted, want)
	if accepted.IsZero() {
		return accepted, nil
	}

	entry.CurrentDebt = add(entry.CurrentDebt, accepted)
	v.st.strategies[entry.ID] = entry
	v.st.totalIdle = sub(v.st.totalIdle, accepted)
	v.st.totalDebt = add(v.st.totalDebt, accepted)
	return accepted, nil
}

// decreaseDebtLocked withdraws current-target from s and returns the realized
// loss. The loss limit is checked against a preview when the strategy offers
// one; otherwise recovered funds are handed back before failing.
func (v *Vault) decreaseDebtLocked(ctx context.Context, entry model.StrategyEntry, s strategy.Strategy, target uint256.Int, maxLossBps uint64, now uint64) (uint256.Int, error) {
	requested := sub(entry.CurrentDebt, target)
	limit := bpsOf(requested, maxLossBps)

	if p, ok := s.(strategy.Previewer); ok {
		_, loss, err := p.PreviewWithdraw(ctx, requested)
		if err != nil {
			return uint256.Int{}, fmt.Errorf("%w: preview withdraw from %s: %w", ErrStrategyUnavailable, entry.ID, err)
		}
		if loss.Gt(&limit) {
			return uint256.Int{}, lossError(loss, requested, maxLossBps)
		}
	}

	recovered, loss, err := s.Withdraw(ctx, requested)
	if err != nil {
		return uint256.Int{}, fmt.Errorf("%w: withdraw from %s: %w", ErrStrategyUnavailable, entry.ID, err)
	}
	pulled := []withdrawal{{id: entry.ID, recovered: recovered}}
	reduction := add(recovered, loss)
	if reduction.Gt(&requested) {
		v.compensate(ctx, pulled)
		return uint256.Int{}, fmt.Errorf("%w: %s returned %s for a request of %s",
			ErrStrategyUnavailable, entry.ID, reduction.Dec(), requested.Dec())
	}
	if loss.Gt(&limit) {
		v.compensate(ctx, pulled)
		return uint256.Int{}, lossError(loss, requested, maxLossBps)
	}

	entry.CurrentDebt = sub(entry.CurrentDebt, reduction)
	v.st.strategies[entry.ID] = entry
	v.st.totalIdle = add(v.st.totalIdle, recovered)
	v.st.totalDebt = sub(v.st.totalDebt, reduction)
	if !loss.IsZero() {
		v.st.unlock.capAt(now, v.rawAssetsLocked())
	}
	return loss, nil
}

func lossError(loss, requested uint256.Int, bps uint64) error {
	return fmt.Errorf("%w: loss %s on %s, tolerance %d bps", ErrLossExceedsLimit, loss.Dec(), requested.Dec(), bps)
}

// autoAllocateLocked walks the queue head-first once, offering each strategy
// all remaining idle. Strategies that cannot take capital are skipped.
func (v *Vault) autoAllocateLocked(ctx context.Context, now uint64) []events.Event {
	var evts []events.Event
	for _, id := range cloneQueue(v.st.queue) {
		if v.st.totalIdle.IsZero() {
			break
		}
		entry, s, err := v.activeStrategy(id)
		if err != nil {
			continue
		}
		prev := entry.CurrentDebt
		accepted, err := v.increaseDebtLocked(ctx, entry, s, add(prev, v.st.totalIdle))
		if err != nil {
			v.logger.Debug("auto-allocate skipped strategy", zap.String("strategy", id), zap.Error(err))
			continue
		}
		if accepted.IsZero() {
			continue
		}
		evts = append(evts, events.DebtUpdated{
			VaultID: v.id, Strategy: id, PreviousDebt: prev, CurrentDebt: add(prev, accepted), Timestamp: now,
		})
	}
	return evts
}
