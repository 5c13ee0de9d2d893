package vault

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/holiman/uint256"

	"github.com/CptDat9/loomix-vault-factory/internal/model"
	"github.com/CptDat9/loomix-vault-factory/internal/strategy"
)

// Snapshot returns a complete copy of the vault's state.
func (v *Vault) Snapshot() model.VaultSnapshot {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.snapshotLocked()
}

// Overview is a snapshot together with the values derived from it, all taken
// under one lock at one instant.
type Overview struct {
	Snapshot          model.VaultSnapshot
	TotalAssets       uint256.Int
	PricePerShare     uint256.Int
	StillLockedProfit uint256.Int
}

// Overview returns a self-consistent view of the vault.
func (v *Vault) Overview() Overview {
	v.mu.Lock()
	defer v.mu.Unlock()
	at := v.now()
	now := unixSeconds(at)
	o := Overview{
		Snapshot:          v.snapshotAt(at),
		TotalAssets:       v.totalAssetsLocked(now),
		PricePerShare:     PriceScale,
		StillLockedProfit: v.st.unlock.stillLocked(now),
	}
	if !v.st.totalShares.IsZero() {
		o.PricePerShare, _ = mulDiv(o.TotalAssets, PriceScale, v.st.totalShares)
	}
	return o
}

func (v *Vault) snapshotLocked() model.VaultSnapshot {
	return v.snapshotAt(v.now())
}

func (v *Vault) snapshotAt(at time.Time) model.VaultSnapshot {
	snap := model.VaultSnapshot{
		ID:                  v.id,
		Params:              v.params,
		TotalShares:         v.st.totalShares.Dec(),
		TotalIdle:           v.st.totalIdle.Dec(),
		TotalDebt:           v.st.totalDebt.Dec(),
		LockedProfit:        v.st.unlock.locked.Dec(),
		ProfitUnlockSeconds: v.st.unlock.duration,
		LastProfitUpdate:    v.st.unlock.lastUpdate,
		FullUnlockAt:        v.st.unlock.fullUnlock,
		AutoAllocate:        v.st.autoAllocate,
		Queue:               cloneQueue(v.st.queue),
		Balances:            make(map[string]string, len(v.st.balances)),
		Roles:               map[string][]string{},
		TakenAt:             at.UTC(),
	}
	if v.st.hasDepositLimit {
		snap.DepositLimit = v.st.depositLimit.Dec()
	}
	for owner, bal := range v.st.balances {
		snap.Balances[owner] = bal.Dec()
	}
	for _, e := range v.st.strategies {
		snap.Strategies = append(snap.Strategies, model.StrategySnapshot{
			ID:          e.ID,
			Activation:  e.Activation,
			LastReport:  e.LastReport,
			CurrentDebt: e.CurrentDebt.Dec(),
			MaxDebt:     e.MaxDebt.Dec(),
		})
	}
	sort.Slice(snap.Strategies, func(i, j int) bool { return snap.Strategies[i].ID < snap.Strategies[j].ID })
	if rm, ok := v.auth.(RoleManager); ok {
		for role, members := range rm.Members() {
			snap.Roles[string(role)] = members
		}
	}
	return snap
}

// Restore rebuilds a vault from a snapshot. Active strategies must resolve in
// dir, and the snapshot must satisfy the ledger invariants.
func Restore(snap model.VaultSnapshot, dir *strategy.Directory, opts ...Option) (*Vault, error) {
	v, err := New(snap.ID, snap.Params, opts...)
	if err != nil {
		return nil, err
	}
	if err := v.load(snap, dir); err != nil {
		return nil, fmt.Errorf("restore vault %s: %w", snap.ID, err)
	}
	return v, nil
}

func (v *Vault) load(snap model.VaultSnapshot, dir *strategy.Directory) error {
	var err error
	st := state{
		balances:     make(map[string]uint256.Int, len(snap.Balances)),
		strategies:   make(map[string]model.StrategyEntry, len(snap.Strategies)),
		queue:        cloneQueue(snap.Queue),
		autoAllocate: snap.AutoAllocate,
		unlock: unlockSchedule{
			duration:   snap.ProfitUnlockSeconds,
			lastUpdate: snap.LastProfitUpdate,
			fullUnlock: snap.FullUnlockAt,
		},
	}
	if st.totalShares, err = parseDec(snap.TotalShares); err != nil {
		return fmt.Errorf("total shares: %w", err)
	}
	if st.totalIdle, err = parseDec(snap.TotalIdle); err != nil {
		return fmt.Errorf("total idle: %w", err)
	}
	if st.totalDebt, err = parseDec(snap.TotalDebt); err != nil {
		return fmt.Errorf("total debt: %w", err)
	}
	if st.unlock.locked, err = parseDec(snap.LockedProfit); err != nil {
		return fmt.Errorf("locked profit: %w", err)
	}
	if snap.DepositLimit != "" {
		if st.depositLimit, err = parseDec(snap.DepositLimit); err != nil {
			return fmt.Errorf("deposit limit: %w", err)
		}
		st.hasDepositLimit = true
	}

	var shareSum uint256.Int
	for owner, raw := range snap.Balances {
		bal, err := parseDec(raw)
		if err != nil {
			return fmt.Errorf("balance of %s: %w", owner, err)
		}
		st.balances[owner] = bal
		shareSum = add(shareSum, bal)
	}
	if !shareSum.Eq(&st.totalShares) {
		return fmt.Errorf("%w: balances sum to %s, total shares %s", ErrInvalidParams, shareSum.Dec(), st.totalShares.Dec())
	}

	caps := make(map[string]strategy.Strategy)
	var debtSum uint256.Int
	for _, s := range snap.Strategies {
		entry := model.StrategyEntry{ID: s.ID, Activation: s.Activation, LastReport: s.LastReport}
		if entry.CurrentDebt, err = parseDec(s.CurrentDebt); err != nil {
			return fmt.Errorf("debt of %s: %w", s.ID, err)
		}
		if entry.MaxDebt, err = parseDec(s.MaxDebt); err != nil {
			return fmt.Errorf("max debt of %s: %w", s.ID, err)
		}
		if !entry.Active() && !entry.CurrentDebt.IsZero() {
			return fmt.Errorf("%w: revoked strategy %s holds debt", ErrInvalidParams, s.ID)
		}
		if entry.Active() {
			capability, ok := dir.Get(s.ID)
			if !ok {
				return fmt.Errorf("%w: %s not in strategy directory", ErrUnknownStrategy, s.ID)
			}
			caps[s.ID] = capability
		}
		st.strategies[s.ID] = entry
		debtSum = add(debtSum, entry.CurrentDebt)
	}
	if !debtSum.Eq(&st.totalDebt) {
		return fmt.Errorf("%w: strategy debts sum to %s, total debt %s", ErrInvalidParams, debtSum.Dec(), st.totalDebt.Dec())
	}

	if raw := add(st.totalIdle, st.totalDebt); st.unlock.locked.Gt(&raw) {
		return fmt.Errorf("%w: locked profit %s exceeds idle plus debt %s", ErrInvalidParams, st.unlock.locked.Dec(), raw.Dec())
	}

	v.st = st
	v.caps = caps
	if err := v.validateQueueLocked(st.queue); err != nil {
		return err
	}

	if rm, ok := v.auth.(RoleManager); ok {
		for role, members := range snap.Roles {
			for _, m := range members {
				rm.Grant(Role(role), m)
			}
		}
	}
	return nil
}

func parseDec(s string) (uint256.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return uint256.Int{}, nil
	}
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return uint256.Int{}, err
	}
	return *v, nil
}

// ProfitUnlockFromSeconds converts a stored unlock window to a duration.
func ProfitUnlockFromSeconds(secs uint64) time.Duration {
	return time.Duration(secs) * time.Second
}
