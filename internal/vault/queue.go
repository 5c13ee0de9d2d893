package vault

import (
	"context"
	"fmt"
	"slices"

	"github.com/CptDat9/loomix-vault-factory/internal/events"
	"github.com/CptDat9/loomix-vault-factory/internal/model"
)

// SetDefaultQueue replaces the allocation queue. The new order is validated
// in full before anything changes; debts and ceilings are never touched.
func (v *Vault) SetDefaultQueue(_ context.Context, caller string, ids []string) error {
	return v.exec(caller, RoleGovernance, func(now uint64) ([]events.Event, error) {
		if err := v.validateQueueLocked(ids); err != nil {
			return nil, err
		}
		v.st.queue = cloneQueue(ids)
		return []events.Event{events.QueueUpdated{VaultID: v.id, Queue: cloneQueue(ids), Timestamp: now}}, nil
	})
}

// DefaultQueue returns a copy of the allocation queue, head first.
func (v *Vault) DefaultQueue() []string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return cloneQueue(v.st.queue)
}

func (v *Vault) validateQueueLocked(ids []string) error {
	if len(ids) > model.MaxQueueLength {
		return fmt.Errorf("%w: %d > %d", ErrTooLong, len(ids), model.MaxQueueLength)
	}
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			return fmt.Errorf("%w: %s", ErrDuplicateEntry, id)
		}
		seen[id] = struct{}{}
		if entry, ok := v.st.strategies[id]; !ok || !entry.Active() {
			return fmt.Errorf("%w: %s", ErrUnknownStrategy, id)
		}
	}
	return nil
}

func removeFromQueue(queue []string, id string) ([]string, bool) {
	i := slices.Index(queue, id)
	if i < 0 {
		return queue, false
	}
	return slices.Delete(cloneQueue(queue), i, i+1), true
}

func cloneQueue(q []string) []string {
	if q == nil {
		return []string{}
	}
	return slices.Clone(q)
}
