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

// RegisterStrategy approves s with a zero debt ceiling, optionally appending
// it to the default queue. A revoked strategy may be registered again.
func (v *Vault) RegisterStrategy(_ context.Context, caller string, s strategy.Strategy, addToQueue bool) error {
	return v.exec(caller, RoleGovernance, func(now uint64) ([]events.Event, error) {
		if s == nil || s.ID() == "" {
			return nil, fmt.Errorf("%w: strategy id is required", ErrUnknownStrategy)
		}
		id := s.ID()
		if entry, ok := v.st.strategies[id]; ok && entry.Active() {
			return nil, fmt.Errorf("%w: %s", ErrAlreadyRegistered, id)
		}
		if addToQueue && len(v.st.queue) >= model.MaxQueueLength {
			return nil, fmt.Errorf("%w: %d entries", ErrQueueFull, len(v.st.queue))
		}

		activation := now
		if activation == 0 {
			activation = 1
		}
		v.st.strategies[id] = model.StrategyEntry{ID: id, Activation: activation, LastReport: activation}
		v.caps[id] = s
		evts := []events.Event{events.StrategyChanged{
			VaultID: v.id, Strategy: id, Change: events.StrategyAdded, Timestamp: now,
		}}
		if addToQueue {
			v.st.queue = append(v.st.queue, id)
			evts = append(evts, events.QueueUpdated{VaultID: v.id, Queue: cloneQueue(v.st.queue), Timestamp: now})
		}
		v.logger.Info("strategy registered", zap.String("strategy", id), zap.Bool("queued", addToQueue))
		return evts, nil
	})
}

// RevokeStrategy deactivates a strategy that holds no debt and drops it from
// the queue. The entry is kept for its accounting history.
func (v *Vault) RevokeStrategy(_ context.Context, caller, id string) error {
	return v.exec(caller, RoleGovernance, func(now uint64) ([]events.Event, error) {
		entry, _, err := v.activeStrategy(id)
		if err != nil {
			return nil, err
		}
		if !entry.CurrentDebt.IsZero() {
			return nil, fmt.Errorf("%w: %s owes %s", ErrNonZeroDebt, id, entry.CurrentDebt.Dec())
		}
		return v.revokeLocked(entry, now), nil
	})
}

// ForceRevokeStrategy writes the strategy's remaining debt off as a loss and
// revokes it. Used when a strategy can no longer be unwound.
func (v *Vault) ForceRevokeStrategy(_ context.Context, caller, id string) error {
	return v.exec(caller, RoleGovernance, func(now uint64) ([]events.Event, error) {
		entry, _, err := v.activeStrategy(id)
		if err != nil {
			return nil, err
		}
		var evts []events.Event
		if loss := entry.CurrentDebt; !loss.IsZero() {
			v.st.totalDebt = sub(v.st.totalDebt, loss)
			entry.CurrentDebt = uint256.Int{}
			v.st.unlock.capAt(now, v.rawAssetsLocked())
			evts = append(evts, events.StrategyReported{
				VaultID: v.id, Strategy: id, Loss: loss,
				LockedProfit: v.st.unlock.stillLocked(now), Timestamp: now,
			})
			v.logger.Warn("strategy debt written off", zap.String("strategy", id), zap.String("loss", loss.Dec()))
		}
		return append(evts, v.revokeLocked(entry, now)...), nil
	})
}

func (v *Vault) revokeLocked(entry model.StrategyEntry, now uint64) []events.Event {
	entry.Activation = 0
	v.st.strategies[entry.ID] = entry
	evts := []events.Event{events.StrategyChanged{
		VaultID: v.id, Strategy: entry.ID, Change: events.StrategyRevoked, Timestamp: now,
	}}
	if q, removed := removeFromQueue(v.st.queue, entry.ID); removed {
		v.st.queue = q
		evts = append(evts, events.QueueUpdated{VaultID: v.id, Queue: cloneQueue(q), Timestamp: now})
	}
	v.logger.Info("strategy revoked", zap.String("strategy", entry.ID))
	return evts
}

// UpdateMaxDebt sets a strategy's debt ceiling. A ceiling below the current
// debt is allowed; it only blocks further increases.
func (v *Vault) UpdateMaxDebt(_ context.Context, caller, id string, ceiling uint256.Int) error {
	return v.exec(caller, RoleGovernance, func(now uint64) ([]events.Event, error) {
		entry, _, err := v.activeStrategy(id)
		if err != nil {
			return nil, err
		}
		entry.MaxDebt = ceiling
		v.st.strategies[id] = entry
		return []events.Event{events.MaxDebtUpdated{
			VaultID: v.id, Strategy: id, MaxDebt: ceiling, Timestamp: now,
		}}, nil
	})
}
