package model

import "time"

// StrategySnapshot is the portable form of a StrategyEntry. Amounts are decimal strings.
type StrategySnapshot struct {
	ID          string `json:"id"`
	Activation  uint64 `json:"activation"`
	LastReport  uint64 `json:"last_report"`
	CurrentDebt string `json:"current_debt"`
	MaxDebt     string `json:"max_debt"`
}

// VaultSnapshot is a complete, self-consistent copy of one vault's state.
type VaultSnapshot struct {
	ID                  string              `json:"id"`
	Params              VaultParams         `json:"params"`
	TotalShares         string              `json:"total_shares"`
	TotalIdle           string              `json:"total_idle"`
	TotalDebt           string              `json:"total_debt"`
	LockedProfit        string              `json:"locked_profit"`
	ProfitUnlockSeconds uint64              `json:"profit_unlock_seconds"`
	LastProfitUpdate    uint64              `json:"last_profit_update"`
	FullUnlockAt        uint64              `json:"full_unlock_at"`
	AutoAllocate        bool                `json:"auto_allocate"`
	DepositLimit        string              `json:"deposit_limit,omitempty"`
	Strategies          []StrategySnapshot  `json:"strategies"`
	Queue               []string            `json:"queue"`
	Balances            map[string]string   `json:"balances"`
	Roles               map[string][]string `json:"roles"`
	TakenAt             time.Time           `json:"taken_at"`
}
