package recorder

import (
	"go.uber.org/zap"

	"github.com/CptDat9/loomix-vault-factory/internal/events"
)

// ReportRecord is one stored strategy report. Amounts are decimal strings.
type ReportRecord struct {
	VaultID      string `json:"vault_id"`
	Strategy     string `json:"strategy"`
	Gain         string `json:"gain"`
	Loss         string `json:"loss"`
	CurrentDebt  string `json:"current_debt"`
	LockedProfit string `json:"locked_profit"`
	Timestamp    uint64 `json:"timestamp"`
}

// DebtRecord is one stored debt movement.
type DebtRecord struct {
	VaultID      string `json:"vault_id"`
	Strategy     string `json:"strategy"`
	PreviousDebt string `json:"previous_debt"`
	CurrentDebt  string `json:"current_debt"`
	Timestamp    uint64 `json:"timestamp"`
}

// FlowRecord is a deposit or withdrawal.
type FlowRecord struct {
	VaultID   string `json:"vault_id"`
	Kind      string `json:"kind"` // "deposit" or "withdraw"
	Owner     string `json:"owner"`
	Assets    string `json:"assets"`
	Shares    string `json:"shares"`
	Loss      string `json:"loss"`
	Timestamp uint64 `json:"timestamp"`
}

// Recorder persists vault history for later analysis.
type Recorder interface {
	RecordVault(evt events.VaultCreated) error
	RecordReport(evt events.StrategyReported) error
	RecordDebtUpdate(evt events.DebtUpdated) error
	RecordFlow(rec FlowRecord) error
	RecordStrategyChange(evt events.StrategyChanged) error
	Reports(vaultID string, limit int) ([]ReportRecord, error)
	DebtUpdates(vaultID string, limit int) ([]DebtRecord, error)
	Flows(vaultID string, limit int) ([]FlowRecord, error)
	Close() error
}

// Sink adapts a Recorder to events.Emitter. Write failures are logged and
// never reach the vault.
type Sink struct {
	rec    Recorder
	logger *zap.Logger
}

// NewSink wraps rec. A nil logger discards output.
func NewSink(rec Recorder, logger *zap.Logger) *Sink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sink{rec: rec, logger: logger}
}

// Emit implements events.Emitter.
func (s *Sink) Emit(evt events.Event) {
	var err error
	switch e := evt.(type) {
	case events.VaultCreated:
		err = s.rec.RecordVault(e)
	case events.StrategyReported:
		err = s.rec.RecordReport(e)
	case events.DebtUpdated:
		err = s.rec.RecordDebtUpdate(e)
	case events.StrategyChanged:
		err = s.rec.RecordStrategyChange(e)
	case events.Deposited:
		err = s.rec.RecordFlow(FlowRecord{
			VaultID: e.VaultID, Kind: "deposit", Owner: e.Owner,
			Assets: e.Assets.Dec(), Shares: e.Shares.Dec(), Loss: "0", Timestamp: e.Timestamp,
		})
	case events.Withdrawn:
		err = s.rec.RecordFlow(FlowRecord{
			VaultID: e.VaultID, Kind: "withdraw", Owner: e.Owner,
			Assets: e.Assets.Dec(), Shares: e.Shares.Dec(), Loss: e.Loss.Dec(), Timestamp: e.Timestamp,
		})
	default:
		return
	}
	if err != nil {
		s.logger.Warn("record event failed", zap.String("type", evt.EventType()), zap.Error(err))
	}
}
