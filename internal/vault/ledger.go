package vault

import (
	"context"
	"fmt"
	"slices"

	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"github.com/CptDat9/loomix-vault-factory/internal/events"
	"github.com/CptDat9/loomix-vault-factory/internal/model"
)

// rawAssetsLocked is idle plus debt, ignoring locked profit.
func (v *Vault) rawAssetsLocked() uint256.Int {
	return add(v.st.totalIdle, v.st.totalDebt)
}

// totalAssetsLocked is idle plus debt minus profit that has not unlocked yet.
func (v *Vault) totalAssetsLocked(now uint64) uint256.Int {
	return subFloor(v.rawAssetsLocked(), v.st.unlock.stillLocked(now))
}

// convertToSharesLocked rounds down. With no shares outstanding it mints 1:1;
// Deposit hands any residual assets to governance first so that price holds.
func (v *Vault) convertToSharesLocked(assets uint256.Int, now uint64) uint256.Int {
	if v.st.totalShares.IsZero() {
		return assets
	}
	total := v.totalAssetsLocked(now)
	if total.IsZero() {
		return uint256.Int{}
	}
	shares, overflow := mulDiv(assets, v.st.totalShares, total)
	if overflow {
		return uint256.Int{}
	}
	return shares
}

// convertToAssetsLocked rounds down.
func (v *Vault) convertToAssetsLocked(shares uint256.Int, now uint64) uint256.Int {
	if v.st.totalShares.IsZero() {
		return shares
	}
	assets, _ := mulDiv(shares, v.totalAssetsLocked(now), v.st.totalShares)
	return assets
}

// TotalAssets is idle plus debt minus still-locked profit.
func (v *Vault) TotalAssets() uint256.Int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.totalAssetsLocked(v.clock())
}

func (v *Vault) TotalIdle() uint256.Int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.st.totalIdle
}

func (v *Vault) TotalDebt() uint256.Int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.st.totalDebt
}

func (v *Vault) TotalShares() uint256.Int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.st.totalShares
}

// StillLockedProfit is the reported gain not yet reflected in TotalAssets.
func (v *Vault) StillLockedProfit() uint256.Int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.st.unlock.stillLocked(v.clock())
}

// BalanceOf returns the shares held by owner.
func (v *Vault) BalanceOf(owner string) uint256.Int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.st.balances[owner]
}

func (v *Vault) ConvertToShares(assets uint256.Int) uint256.Int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.convertToSharesLocked(assets, v.clock())
}

func (v *Vault) ConvertToAssets(shares uint256.Int) uint256.Int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.convertToAssetsLocked(shares, v.clock())
}

// PricePerShare returns assets per share scaled by PriceScale.
func (v *Vault) PricePerShare() uint256.Int {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.st.totalShares.IsZero() {
		return PriceScale
	}
	price, _ := mulDiv(v.totalAssetsLocked(v.clock()), PriceScale, v.st.totalShares)
	return price
}

// Deposit moves assets from sender into idle and mints shares to receiver at
// the current price. With auto-allocation on, idle is then pushed into the
// queue head-first.
func (v *Vault) Deposit(ctx context.Context, sender, receiver string, assets uint256.Int) (uint256.Int, error) {
	if receiver == "" {
		receiver = sender
	}
	var minted uint256.Int
	err := v.exec(sender, "", func(now uint64) ([]events.Event, error) {
		if assets.IsZero() {
			return nil, ErrInvalidAmount
		}
		total := v.totalAssetsLocked(now)
		// Assets left behind once every share was burned belong to governance,
		// not to whoever deposits next.
		var residual uint256.Int
		if v.st.totalShares.IsZero() {
			residual = v.rawAssetsLocked()
			total = residual
		}
		if v.st.hasDepositLimit {
			after, overflow := addChecked(total, assets)
			if overflow || after.Gt(&v.st.depositLimit) {
				return nil, fmt.Errorf("%w: limit %s", ErrDepositLimit, v.st.depositLimit.Dec())
			}
		}
		shares := v.convertToSharesLocked(assets, now)
		if shares.IsZero() {
			return nil, ErrZeroShares
		}
		idle, overflow := addChecked(v.st.totalIdle, assets)
		if overflow {
			return nil, ErrOverflow
		}
		if _, overflow := addChecked(v.rawAssetsLocked(), assets); overflow {
			return nil, ErrOverflow
		}
		supply, overflow := addChecked(v.st.totalShares, add(residual, shares))
		if overflow {
			return nil, ErrOverflow
		}

		if !residual.IsZero() {
			gov := v.params.Governance
			v.st.unlock.release(now)
			v.st.balances[gov] = add(v.st.balances[gov], residual)
			v.logger.Warn("residual assets assigned to governance",
				zap.String("vault", v.id), zap.String("governance", gov), zap.String("shares", residual.Dec()))
		}
		v.st.totalIdle = idle
		v.st.totalShares = supply
		v.st.balances[receiver] = add(v.st.balances[receiver], shares)
		minted = shares

		evts := []events.Event{events.Deposited{
			VaultID: v.id, Sender: sender, Owner: receiver, Assets: assets, Shares: shares, Timestamp: now,
		}}
		if v.st.autoAllocate {
			evts = append(evts, v.autoAllocateLocked(ctx, now)...)
		}
		v.logger.Debug("deposit",
			zap.String("owner", receiver), zap.String("assets", assets.Dec()), zap.String("shares", shares.Dec()))
		return evts, nil
	})
	return minted, err
}

// withdrawal is one strategy pull made while covering a redemption.
type withdrawal struct {
	id        string
	entry     model.StrategyEntry
	prevDebt  uint256.Int
	recovered uint256.Int
	loss      uint256.Int
}

// Redeem burns shares from owner and pays out their value. When idle cannot
// cover the payout, strategies are drained in reverse queue order. Losses
// realized while draining reduce the payout and must stay within maxLossBps
// of the redeemed value.
func (v *Vault) Redeem(ctx context.Context, owner string, shares uint256.Int, maxLossBps uint64) (uint256.Int, error) {
	var paid uint256.Int
	err := v.exec(owner, "", func(now uint64) ([]events.Event, error) {
		if maxLossBps > model.MaxBps {
			return nil, ErrInvalidBps
		}
		if shares.IsZero() {
			return nil, ErrInvalidAmount
		}
		balance := v.st.balances[owner]
		if balance.Lt(&shares) {
			return nil, fmt.Errorf("%w: have %s, redeeming %s", ErrInsufficientShares, balance.Dec(), shares.Dec())
		}
		assets := v.convertToAssetsLocked(shares, now)
		if assets.IsZero() {
			return nil, ErrZeroShares
		}

		requested := assets
		idle := v.st.totalIdle
		totalDebt := v.st.totalDebt
		var totalLoss uint256.Int
		var pulls []withdrawal

		if idle.Lt(&requested) {
			queue := slices.Clone(v.st.queue)
			slices.Reverse(queue)
			for _, id := range queue {
				if !idle.Lt(&requested) {
					break
				}
				entry, s, err := v.activeStrategy(id)
				if err != nil || entry.CurrentDebt.IsZero() {
					continue
				}
				amount := minAmount(sub(requested, idle), entry.CurrentDebt)
				recovered, loss, err := s.Withdraw(ctx, amount)
				if err != nil {
					v.compensate(ctx, pulls)
					return nil, fmt.Errorf("%w: withdraw from %s: %w", ErrStrategyUnavailable, id, err)
				}
				reduction := add(recovered, loss)
				if reduction.Gt(&amount) {
					pulls = append(pulls, withdrawal{id: id, recovered: recovered})
					v.compensate(ctx, pulls)
					return nil, fmt.Errorf("%w: %s returned %s for a request of %s",
						ErrStrategyUnavailable, id, reduction.Dec(), amount.Dec())
				}
				prev := entry.CurrentDebt
				entry.CurrentDebt = sub(entry.CurrentDebt, reduction)
				pulls = append(pulls, withdrawal{id: id, entry: entry, prevDebt: prev, recovered: recovered, loss: loss})

				idle = add(idle, recovered)
				totalDebt = sub(totalDebt, reduction)
				totalLoss = add(totalLoss, loss)
				requested = subFloor(requested, loss)
			}
		}

		if idle.Lt(&requested) {
			v.compensate(ctx, pulls)
			return nil, fmt.Errorf("%w: need %s, can free %s", ErrInsufficientIdle, requested.Dec(), idle.Dec())
		}
		if limit := bpsOf(assets, maxLossBps); totalLoss.Gt(&limit) {
			v.compensate(ctx, pulls)
			return nil, fmt.Errorf("%w: lost %s of %s, tolerance %d bps",
				ErrLossExceedsLimit, totalLoss.Dec(), assets.Dec(), maxLossBps)
		}

		evts := make([]events.Event, 0, len(pulls)+1)
		for _, p := range pulls {
			v.st.strategies[p.id] = p.entry
			evts = append(evts, events.DebtUpdated{
				VaultID: v.id, Strategy: p.id, PreviousDebt: p.prevDebt, CurrentDebt: p.entry.CurrentDebt, Timestamp: now,
			})
		}
		v.st.totalIdle = sub(idle, requested)
		v.st.totalDebt = totalDebt
		v.st.totalShares = sub(v.st.totalShares, shares)
		if remaining := sub(balance, shares); remaining.IsZero() {
			delete(v.st.balances, owner)
		} else {
			v.st.balances[owner] = remaining
		}
		v.st.unlock.capAt(now, v.rawAssetsLocked())
		paid = requested

		evts = append(evts, events.Withdrawn{
			VaultID: v.id, Owner: owner, Assets: requested, Shares: shares, Loss: totalLoss, Timestamp: now,
		})
		v.logger.Debug("redeem",
			zap.String("owner", owner), zap.String("assets", requested.Dec()), zap.String("loss", totalLoss.Dec()))
		return evts, nil
	})
	return paid, err
}

// compensate hands recovered funds back to the strategies they came from when
// an operation aborts after external withdrawals already happened.
func (v *Vault) compensate(ctx context.Context, pulls []withdrawal) {
	for i := len(pulls) - 1; i >= 0; i-- {
		p := pulls[i]
		if p.recovered.IsZero() {
			continue
		}
		s, ok := v.caps[p.id]
		if !ok {
			continue
		}
		accepted, err := s.Deposit(ctx, p.recovered)
		if err != nil || accepted.Lt(&p.recovered) {
			v.logger.Error("compensating deposit incomplete",
				zap.String("strategy", p.id),
				zap.String("owed", p.recovered.Dec()),
				zap.String("accepted", accepted.Dec()),
				zap.Error(err))
		}
	}
}
