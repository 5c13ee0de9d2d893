package vault

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/CptDat9/loomix-vault-factory/internal/events"
	"github.com/CptDat9/loomix-vault-factory/internal/model"
	"github.com/CptDat9/loomix-vault-factory/internal/strategy"
)

func TestRegisterStrategy(t *testing.T) {
	h := newHarness(t, time.Hour)
	h.addStrategy(t, "A", 0, true)

	e, ok := h.v.Strategy("A")
	require.True(t, ok)
	require.True(t, e.Active())
	require.Equal(t, uint64(1_700_000_000), e.Activation)
	requireAmount(t, 0, e.CurrentDebt)
	require.Equal(t, []string{"A"}, h.v.DefaultQueue())

	err := h.v.RegisterStrategy(h.ctx, gov, strategy.NewMock("A"), false)
	require.ErrorIs(t, err, ErrAlreadyRegistered)

	err = h.v.RegisterStrategy(h.ctx, gov, strategy.NewMock(""), false)
	require.ErrorIs(t, err, ErrUnknownStrategy)

	changed := h.eventsOf(events.TypeStrategyChanged)
	require.Len(t, changed, 1)
	require.Equal(t, events.StrategyAdded, changed[0].(events.StrategyChanged).Change)
}

func TestRevokeStrategy(t *testing.T) {
	h, _ := allocated(t, time.Hour)
	h.addStrategy(t, "B", 1000, true)

	err := h.v.RevokeStrategy(h.ctx, gov, "A")
	require.ErrorIs(t, err, ErrNonZeroDebt)

	_, err = h.v.UpdateDebt(h.ctx, keeper, "A", amt(0), 0)
	require.NoError(t, err)
	require.NoError(t, h.v.RevokeStrategy(h.ctx, gov, "A"))

	e, ok := h.v.Strategy("A")
	require.True(t, ok, "revoked entries are kept")
	require.False(t, e.Active())
	require.Equal(t, []string{"B"}, h.v.DefaultQueue())

	_, err = h.v.UpdateDebt(h.ctx, keeper, "A", amt(10), 0)
	require.ErrorIs(t, err, ErrStrategyNotActive)
	require.ErrorIs(t, h.v.RevokeStrategy(h.ctx, gov, "A"), ErrStrategyNotActive)

	// A revoked strategy may come back.
	require.NoError(t, h.v.RegisterStrategy(h.ctx, gov, strategy.NewMock("A"), true))
	require.Equal(t, []string{"B", "A"}, h.v.DefaultQueue())
}

func TestForceRevokeWritesDebtOff(t *testing.T) {
	h := newHarness(t, time.Hour)
	h.addStrategy(t, "A", 1000, true)
	h.deposit(t, alice, 200)
	_, err := h.v.UpdateDebt(h.ctx, keeper, "A", amt(100), 0)
	require.NoError(t, err)

	require.NoError(t, h.v.ForceRevokeStrategy(h.ctx, gov, "A"))
	requireAmount(t, 0, h.v.TotalDebt())
	requireAmount(t, 100, h.v.TotalAssets())
	requireAmount(t, 500_000_000_000_000_000, h.v.PricePerShare())
	require.Empty(t, h.v.DefaultQueue())

	reported := h.eventsOf(events.TypeStrategyReported)
	require.Len(t, reported, 1)
	requireAmount(t, 100, reported[0].(events.StrategyReported).Loss)
}

func TestUpdateMaxDebtBelowCurrent(t *testing.T) {
	h, _ := allocated(t, time.Hour)
	h.deposit(t, bob, 50)

	require.NoError(t, h.v.UpdateMaxDebt(h.ctx, gov, "A", amt(40)))
	requireAmount(t, 100, h.debt(t, "A"), "lowering the ceiling does not pull funds")

	_, err := h.v.UpdateDebt(h.ctx, keeper, "A", amt(120), 0)
	require.ErrorIs(t, err, ErrCeilingExceeded)

	_, err = h.v.UpdateDebt(h.ctx, keeper, "A", amt(30), 0)
	require.NoError(t, err)
	requireAmount(t, 30, h.debt(t, "A"))

	require.ErrorIs(t, h.v.UpdateMaxDebt(h.ctx, gov, "missing", amt(1)), ErrUnknownStrategy)
}

func TestSetDefaultQueueValidation(t *testing.T) {
	h := newHarness(t, time.Hour)
	for i := 0; i < 3; i++ {
		h.addStrategy(t, fmt.Sprintf("S%d", i), 100, true)
	}
	original := h.v.DefaultQueue()

	tooLong := make([]string, model.MaxQueueLength+1)
	for i := range tooLong {
		tooLong[i] = fmt.Sprintf("X%d", i)
	}
	tests := []struct {
		name  string
		queue []string
		want  error
	}{
		{name: "too long", queue: tooLong, want: ErrTooLong},
		{name: "duplicate", queue: []string{"S0", "S1", "S0"}, want: ErrDuplicateEntry},
		{name: "unknown", queue: []string{"S0", "nope"}, want: ErrUnknownStrategy},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := h.v.SetDefaultQueue(h.ctx, gov, tt.queue)
			require.ErrorIs(t, err, tt.want)
			require.Equal(t, KindValidation, KindOf(err))
			require.Equal(t, original, h.v.DefaultQueue())
		})
	}

	require.NoError(t, h.v.RevokeStrategy(h.ctx, gov, "S2"))
	err := h.v.SetDefaultQueue(h.ctx, gov, []string{"S2"})
	require.ErrorIs(t, err, ErrUnknownStrategy)

	require.NoError(t, h.v.SetDefaultQueue(h.ctx, gov, []string{"S1", "S0"}))
	require.Equal(t, []string{"S1", "S0"}, h.v.DefaultQueue())

	require.NoError(t, h.v.SetDefaultQueue(h.ctx, gov, nil))
	require.Equal(t, []string{}, h.v.DefaultQueue())
}

func TestSetDefaultQueueLeavesDebtsAlone(t *testing.T) {
	h := newHarness(t, time.Hour)
	h.addStrategy(t, "A", 70, true)
	h.addStrategy(t, "B", 500, true)
	h.deposit(t, alice, 100)
	_, err := h.v.UpdateDebt(h.ctx, keeper, "A", amt(70), 0)
	require.NoError(t, err)
	_, err = h.v.UpdateDebt(h.ctx, keeper, "B", amt(30), 0)
	require.NoError(t, err)
	before := h.v.Strategies()

	require.NoError(t, h.v.SetDefaultQueue(h.ctx, gov, []string{"B", "A"}))
	require.NoError(t, h.v.SetDefaultQueue(h.ctx, gov, []string{"A"}))
	require.Equal(t, before, h.v.Strategies())

	q := h.v.DefaultQueue()
	q[0] = "mutated"
	require.Equal(t, []string{"A"}, h.v.DefaultQueue())
}

func TestQueueFull(t *testing.T) {
	h := newHarness(t, time.Hour)
	for i := 0; i < model.MaxQueueLength; i++ {
		h.addStrategy(t, fmt.Sprintf("S%d", i), 0, true)
	}
	err := h.v.RegisterStrategy(h.ctx, gov, strategy.NewMock("extra"), true)
	require.ErrorIs(t, err, ErrQueueFull)
	_, ok := h.v.Strategy("extra")
	require.False(t, ok)

	require.NoError(t, h.v.RegisterStrategy(h.ctx, gov, strategy.NewMock("extra"), false))
	require.Len(t, h.v.DefaultQueue(), model.MaxQueueLength)
}
