package strategy

import (
	"context"
	"sync"

	"github.com/holiman/uint256"
)

// Mock is an in-memory strategy with controllable capacity, liquidity and
// losses, used for development and tests.
type Mock struct {
	mu sync.Mutex

	id    string
	value uint256.Int

	depositCap    uint256.Int
	hasDepositCap bool
	liquidity     uint256.Int
	hasLiquidity  bool
	lossBps       uint64

	ValueErr    error
	DepositErr  error
	WithdrawErr error
}

// NewMock creates a Mock holding nothing.
func NewMock(id string) *Mock {
	return &Mock{id: id}
}

func (m *Mock) ID() string { return m.id }

// Value returns the mock's holdings without going through the capability API.
func (m *Mock) Value() uint256.Int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.value
}

// SetValue overwrites the holdings, simulating a gain or loss.
func (m *Mock) SetValue(v uint256.Int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.value = v
}

// SetDepositCap limits how much the next deposits may add in total.
func (m *Mock) SetDepositCap(c uint256.Int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.depositCap = c
	m.hasDepositCap = true
}

// SetLiquidity limits how much can be pulled out by the next withdrawals.
func (m *Mock) SetLiquidity(l uint256.Int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.liquidity = l
	m.hasLiquidity = true
}

// SetWithdrawLossBps makes every withdrawal realize the given fraction as loss.
func (m *Mock) SetWithdrawLossBps(bps uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lossBps = bps
}

func (m *Mock) CurrentValue(_ context.Context) (uint256.Int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ValueErr != nil {
		return uint256.Int{}, m.ValueErr
	}
	return m.value, nil
}

func (m *Mock) Deposit(_ context.Context, amount uint256.Int) (uint256.Int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.DepositErr != nil {
		return uint256.Int{}, m.DepositErr
	}
	accepted := amount
	if m.hasDepositCap {
		if m.depositCap.Lt(&accepted) {
			accepted = m.depositCap
		}
		m.depositCap.Sub(&m.depositCap, &accepted)
	}
	m.value.Add(&m.value, &accepted)
	return accepted, nil
}

func (m *Mock) Withdraw(_ context.Context, amount uint256.Int) (uint256.Int, uint256.Int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.WithdrawErr != nil {
		return uint256.Int{}, uint256.Int{}, m.WithdrawErr
	}
	taken, recovered, loss := m.quote(amount)
	m.value.Sub(&m.value, &taken)
	if m.hasLiquidity {
		m.liquidity.Sub(&m.liquidity, &taken)
	}
	return recovered, loss, nil
}

func (m *Mock) PreviewWithdraw(_ context.Context, amount uint256.Int) (uint256.Int, uint256.Int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.WithdrawErr != nil {
		return uint256.Int{}, uint256.Int{}, m.WithdrawErr
	}
	_, recovered, loss := m.quote(amount)
	return recovered, loss, nil
}

// quote splits a withdrawal into what leaves the strategy, what reaches the
// vault and what is lost on the way.
func (m *Mock) quote(amount uint256.Int) (taken, recovered, loss uint256.Int) {
	taken = amount
	if m.value.Lt(&taken) {
		taken = m.value
	}
	if m.hasLiquidity && m.liquidity.Lt(&taken) {
		taken = m.liquidity
	}
	if m.lossBps > 0 {
		loss.Mul(&taken, uint256.NewInt(m.lossBps))
		loss.Div(&loss, uint256.NewInt(10_000))
	}
	recovered.Sub(&taken, &loss)
	return taken, recovered, loss
}
