package model

import (
	"time"

	"github.com/holiman/uint256"
)

// MaxQueueLength bounds the default queue so deposit and withdraw walks stay cheap.
const MaxQueueLength = 10

// MaxBps is 100% expressed in basis points.
const MaxBps = 10_000

// VaultParams are the creation parameters a factory records for each vault.
type VaultParams struct {
	AgentName       string        `json:"agent_name"`
	Asset           string        `json:"asset"`
	TokenName       string        `json:"token_name"`
	TokenSymbol     string        `json:"token_symbol"`
	ProfitMaxUnlock time.Duration `json:"profit_max_unlock"`
	Governance      string        `json:"governance"`
}

// StrategyEntry is the vault's accounting record for one strategy.
// Activation and LastReport are unix seconds; Activation 0 means revoked.
type StrategyEntry struct {
	ID          string
	Activation  uint64
	LastReport  uint64
	CurrentDebt uint256.Int
	MaxDebt     uint256.Int
}

// Active reports whether the strategy may hold debt and sit in the queue.
func (e StrategyEntry) Active() bool { return e.Activation != 0 }

// Report is the outcome of reconciling a strategy's valuation against its debt.
type Report struct {
	VaultID     string
	Strategy    string
	Gain        uint256.Int
	Loss        uint256.Int
	CurrentDebt uint256.Int
	Timestamp   uint64
}

// DebtChange is the outcome of a single debt update.
type DebtChange struct {
	VaultID      string
	Strategy     string
	PreviousDebt uint256.Int
	NewDebt      uint256.Int
	Loss         uint256.Int
	Timestamp    uint64
}
