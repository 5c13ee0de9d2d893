package recorder

import "github.com/CptDat9/loomix-vault-factory/internal/events"

// NoopRecorder is a no-op implementation used when SQLite is not configured.
type NoopRecorder struct{}

func NewNoopRecorder() *NoopRecorder { return &NoopRecorder{} }

func (n *NoopRecorder) RecordVault(_ events.VaultCreated) error                 { return nil }
func (n *NoopRecorder) RecordReport(_ events.StrategyReported) error            { return nil }
func (n *NoopRecorder) RecordDebtUpdate(_ events.DebtUpdated) error             { return nil }
func (n *NoopRecorder) RecordFlow(_ FlowRecord) error                           { return nil }
func (n *NoopRecorder) RecordStrategyChange(_ events.StrategyChanged) error     { return nil }
func (n *NoopRecorder) Reports(_ string, _ int) ([]ReportRecord, error)         { return nil, nil }
func (n *NoopRecorder) DebtUpdates(_ string, _ int) ([]DebtRecord, error)       { return nil, nil }
func (n *NoopRecorder) Flows(_ string, _ int) ([]FlowRecord, error)             { return nil, nil }
func (n *NoopRecorder) Close() error                                            { return nil }
