package vault

import (
	"math/rand"
	"testing"
	"time"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/CptDat9/loomix-vault-factory/internal/strategy"
)

func TestSnapshotRestoreRoundTrip(t *testing.T) {
	h, a := allocated(t, 1000*time.Second)
	b := h.addStrategy(t, "B", 300, true)
	h.deposit(t, bob, 40)
	limit := amt(10_000)
	require.NoError(t, h.v.SetDepositLimit(h.ctx, gov, &limit))
	a.SetValue(amt(120))
	_, err := h.v.ProcessReport(h.ctx, keeper, "A")
	require.NoError(t, err)
	h.clk.advance(100 * time.Second)

	snap := h.v.Snapshot()
	require.Equal(t, "140", snap.TotalShares)
	require.Equal(t, "120", snap.TotalDebt)
	require.Equal(t, "20", snap.LockedProfit)
	require.Equal(t, "10000", snap.DepositLimit)
	require.Equal(t, []string{"A", "B"}, snap.Queue)
	require.Equal(t, []string{keeper}, snap.Roles[string(RoleDebtManager)])

	dir, err := strategy.NewDirectory(a, b)
	require.NoError(t, err)
	restored, err := Restore(snap, dir, WithClock(h.clk.now))
	require.NoError(t, err)

	require.Equal(t, snap, restored.Snapshot())
	require.Equal(t, h.v.TotalAssets(), restored.TotalAssets())
	require.Equal(t, h.v.PricePerShare(), restored.PricePerShare())
	require.True(t, restored.HasRole(RoleDebtManager, keeper))

	_, err = restored.ProcessReport(h.ctx, keeper, "A")
	require.NoError(t, err)
}

func TestRestoreRejectsInconsistentSnapshots(t *testing.T) {
	h, a := allocated(t, time.Hour)
	snap := h.v.Snapshot()

	empty, err := strategy.NewDirectory()
	require.NoError(t, err)
	_, err = Restore(snap, empty)
	require.ErrorIs(t, err, ErrUnknownStrategy)

	dir, err := strategy.NewDirectory(a)
	require.NoError(t, err)

	bad := h.v.Snapshot()
	bad.TotalDebt = "99"
	_, err = Restore(bad, dir)
	require.ErrorIs(t, err, ErrInvalidParams)

	bad = h.v.Snapshot()
	bad.Balances[alice] = "1"
	_, err = Restore(bad, dir)
	require.ErrorIs(t, err, ErrInvalidParams)

	bad = h.v.Snapshot()
	bad.LockedProfit = "101"
	_, err = Restore(bad, dir)
	require.ErrorIs(t, err, ErrInvalidParams)

	bad = h.v.Snapshot()
	bad.Queue = []string{"A", "A"}
	_, err = Restore(bad, dir)
	require.ErrorIs(t, err, ErrDuplicateEntry)

	bad = h.v.Snapshot()
	bad.TotalIdle = "not a number"
	_, err = Restore(bad, dir)
	require.Error(t, err)
}

// TestInvariantsUnderRandomOperations drives a vault through a seeded random
// sequence and checks the ledger identities after every step.
func TestInvariantsUnderRandomOperations(t *testing.T) {
	h := newHarness(t, 600*time.Second)
	ids := []string{"A", "B", "C"}
	mocks := make(map[string]*strategy.Mock, len(ids))
	for i, id := range ids {
		mocks[id] = h.addStrategy(t, id, uint64(200*(i+1)), true)
	}
	mocks["C"].SetWithdrawLossBps(150)
	owners := []string{alice, bob}
	rng := rand.New(rand.NewSource(7))

	for step := 0; step < 600; step++ {
		var err error
		id := ids[rng.Intn(len(ids))]
		owner := owners[rng.Intn(len(owners))]
		switch rng.Intn(7) {
		case 0:
			_, err = h.v.Deposit(h.ctx, owner, owner, amt(uint64(rng.Intn(500)+1)))
		case 1:
			bal := h.v.BalanceOf(owner)
			if bal.IsZero() {
				continue
			}
			shares := amt(uint64(rng.Int63n(int64(bal.Uint64()))) + 1)
			_, err = h.v.Redeem(h.ctx, owner, shares, 200)
		case 2:
			_, err = h.v.UpdateDebt(h.ctx, keeper, id, amt(uint64(rng.Intn(700))), 200)
		case 3:
			m := mocks[id]
			v := m.Value()
			delta := uint64(rng.Intn(40))
			if rng.Intn(2) == 0 || v.Uint64() < delta {
				m.SetValue(amt(v.Uint64() + delta))
			} else {
				m.SetValue(amt(v.Uint64() - delta))
			}
			_, err = h.v.ProcessReport(h.ctx, keeper, id)
		case 4:
			h.clk.advance(time.Duration(rng.Intn(300)) * time.Second)
		case 5:
			perm := rng.Perm(len(ids))
			q := make([]string, 0, len(ids))
			for _, i := range perm[:rng.Intn(len(ids)+1)] {
				q = append(q, ids[i])
			}
			err = h.v.SetDefaultQueue(h.ctx, gov, q)
		case 6:
			err = h.v.SetAutoAllocate(h.ctx, gov, rng.Intn(2) == 0)
		}
		if err != nil {
			require.NotEqual(t, KindUnknown, KindOf(err), "step %d: %v", step, err)
		}
		checkInvariants(t, h, step)
	}
}

func checkInvariants(t *testing.T, h *harness, step int) {
	t.Helper()
	h.v.mu.Lock()
	defer h.v.mu.Unlock()
	now := h.v.clock()
	st := &h.v.st

	locked := st.unlock.stillLocked(now)
	raw := add(st.totalIdle, st.totalDebt)
	require.False(t, locked.Gt(&raw), "step %d: locked profit above raw assets", step)
	require.False(t, st.unlock.locked.Gt(&raw), "step %d: recorded lock above raw assets", step)
	total := h.v.totalAssetsLocked(now)
	want := sub(raw, locked)
	require.Equal(t, want, total, "step %d", step)

	var debts uint256.Int
	for _, e := range st.strategies {
		debts = add(debts, e.CurrentDebt)
	}
	require.Equal(t, st.totalDebt, debts, "step %d: strategy debts drift from total", step)

	var shares uint256.Int
	for _, b := range st.balances {
		shares = add(shares, b)
	}
	require.Equal(t, st.totalShares, shares, "step %d: balances drift from supply", step)
}

func TestOverviewIsConsistent(t *testing.T) {
	h, a := allocated(t, 100*time.Second)
	a.SetValue(amt(120))
	_, err := h.v.ProcessReport(h.ctx, keeper, "A")
	require.NoError(t, err)
	h.clk.advance(50 * time.Second)

	o := h.v.Overview()
	require.Equal(t, h.v.Snapshot(), o.Snapshot)
	requireAmount(t, 10, o.StillLockedProfit)
	requireAmount(t, 110, o.TotalAssets)
	require.Equal(t, h.v.PricePerShare(), o.PricePerShare)
	require.Equal(t, h.clk.now().UTC(), o.Snapshot.TakenAt)
}
