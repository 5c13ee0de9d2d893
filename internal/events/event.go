package events

import (
	"github.com/holiman/uint256"
)

const (
	TypeVaultCreated     = "vault.created"
	TypeStrategyChanged  = "vault.strategy.changed"
	TypeStrategyReported = "vault.strategy.reported"
	TypeDebtUpdated      = "vault.debt.updated"
	TypeDeposit          = "vault.deposit"
	TypeWithdraw         = "vault.withdraw"
	TypeQueueUpdated     = "vault.queue.updated"
	TypeMaxDebtUpdated   = "vault.max_debt.updated"
	TypeConfigUpdated    = "vault.config.updated"
)

// Event represents a structured state change emitted by a vault.
type Event interface {
	EventType() string
}

// Emitter broadcasts events to downstream sinks (recorder, metrics, webhook).
type Emitter interface {
	Emit(Event)
}

// Noop discards every event.
type Noop struct{}

// Emit implements Emitter.
func (Noop) Emit(Event) {}

// Multi fans one event out to every wrapped emitter in order.
type Multi []Emitter

// Emit implements Emitter.
func (m Multi) Emit(evt Event) {
	for _, e := range m {
		if e != nil {
			e.Emit(evt)
		}
	}
}

// Func adapts a plain function to the Emitter interface.
type Func func(Event)

// Emit implements Emitter.
func (f Func) Emit(evt Event) { f(evt) }

// StrategyChange enumerates registry transitions.
type StrategyChange string

const (
	StrategyAdded   StrategyChange = "added"
	StrategyRevoked StrategyChange = "revoked"
)

type VaultCreated struct {
	VaultID     string
	AgentName   string
	Asset       string
	TokenName   string
	TokenSymbol string
	Governance  string
	Timestamp   uint64
}

func (VaultCreated) EventType() string { return TypeVaultCreated }

type StrategyChanged struct {
	VaultID   string
	Strategy  string
	Change    StrategyChange
	Timestamp uint64
}

func (StrategyChanged) EventType() string { return TypeStrategyChanged }

// StrategyReported carries the reconciled gain or loss of one report.
type StrategyReported struct {
	VaultID      string
	Strategy     string
	Gain         uint256.Int
	Loss         uint256.Int
	CurrentDebt  uint256.Int
	LockedProfit uint256.Int
	Timestamp    uint64
}

func (StrategyReported) EventType() string { return TypeStrategyReported }

type DebtUpdated struct {
	VaultID      string
	Strategy     string
	PreviousDebt uint256.Int
	CurrentDebt  uint256.Int
	Timestamp    uint64
}

func (DebtUpdated) EventType() string { return TypeDebtUpdated }

type Deposited struct {
	VaultID   string
	Sender    string
	Owner     string
	Assets    uint256.Int
	Shares    uint256.Int
	Timestamp uint64
}

func (Deposited) EventType() string { return TypeDeposit }

type Withdrawn struct {
	VaultID   string
	Owner     string
	Assets    uint256.Int
	Shares    uint256.Int
	Loss      uint256.Int
	Timestamp uint64
}

func (Withdrawn) EventType() string { return TypeWithdraw }

type QueueUpdated struct {
	VaultID   string
	Queue     []string
	Timestamp uint64
}

func (QueueUpdated) EventType() string { return TypeQueueUpdated }

type MaxDebtUpdated struct {
	VaultID   string
	Strategy  string
	MaxDebt   uint256.Int
	Timestamp uint64
}

func (MaxDebtUpdated) EventType() string { return TypeMaxDebtUpdated }

// ConfigUpdated records a governance parameter change such as the auto-allocate
// flag or the profit unlock duration. Value is the new setting rendered as text.
type ConfigUpdated struct {
	VaultID   string
	Key       string
	Value     string
	Timestamp uint64
}

func (ConfigUpdated) EventType() string { return TypeConfigUpdated }
