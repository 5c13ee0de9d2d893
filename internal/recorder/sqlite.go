package recorder

import (
	"database/sql"
	"fmt"
	"sync"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/CptDat9/loomix-vault-factory/internal/events"
)

const defaultQueryLimit = 100

// SQLiteRecorder persists vault history to a SQLite database.
type SQLiteRecorder struct {
	db     *sql.DB
	mu     sync.Mutex
	logger *zap.Logger
}

// NewSQLiteRecorder opens (or creates) the SQLite database and runs migrations.
func NewSQLiteRecorder(dbPath string, logger *zap.Logger) (*SQLiteRecorder, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// WAL lets the API read history while the scheduler writes.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	r := &SQLiteRecorder{db: db, logger: logger}
	if err := r.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	logger.Info("sqlite recorder opened", zap.String("path", dbPath))
	return r, nil
}

func (r *SQLiteRecorder) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS vaults (
			vault_id     TEXT PRIMARY KEY,
			timestamp    INTEGER NOT NULL,
			agent_name   TEXT,
			asset        TEXT,
			token_name   TEXT,
			token_symbol TEXT,
			governance   TEXT
		)`,

		`CREATE TABLE IF NOT EXISTS reports (
			id            INTEGER PRIMARY KEY AUTOINCREMENT,
			vault_id      TEXT NOT NULL,
			strategy      TEXT NOT NULL,
			timestamp     INTEGER NOT NULL,
			gain          TEXT,
			loss          TEXT,
			current_debt  TEXT,
			locked_profit TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_reports_vault_ts ON reports(vault_id, timestamp)`,

		`CREATE TABLE IF NOT EXISTS debt_updates (
			id            INTEGER PRIMARY KEY AUTOINCREMENT,
			vault_id      TEXT NOT NULL,
			strategy      TEXT NOT NULL,
			timestamp     INTEGER NOT NULL,
			previous_debt TEXT,
			current_debt  TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_debt_vault_ts ON debt_updates(vault_id, timestamp)`,

		`CREATE TABLE IF NOT EXISTS flows (
			id        INTEGER PRIMARY KEY AUTOINCREMENT,
			vault_id  TEXT NOT NULL,
			timestamp INTEGER NOT NULL,
			kind      TEXT,
			owner     TEXT,
			assets    TEXT,
			shares    TEXT,
			loss      TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_flows_vault_ts ON flows(vault_id, timestamp)`,

		`CREATE TABLE IF NOT EXISTS strategy_changes (
			id        INTEGER PRIMARY KEY AUTOINCREMENT,
			vault_id  TEXT NOT NULL,
			strategy  TEXT NOT NULL,
			timestamp INTEGER NOT NULL,
			change    TEXT
		)`,
	}

	for _, s := range stmts {
		if _, err := r.db.Exec(s); err != nil {
			return fmt.Errorf("exec %q: %w", s[:40], err)
		}
	}
	return nil
}

func (r *SQLiteRecorder) RecordVault(evt events.VaultCreated) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, err := r.db.Exec(`INSERT OR REPLACE INTO vaults
		(vault_id, timestamp, agent_name, asset, token_name, token_symbol, governance)
		VALUES (?,?,?,?,?,?,?)`,
		evt.VaultID, int64(evt.Timestamp), evt.AgentName, evt.Asset,
		evt.TokenName, evt.TokenSymbol, evt.Governance,
	)
	return err
}

func (r *SQLiteRecorder) RecordReport(evt events.StrategyReported) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, err := r.db.Exec(`INSERT INTO reports
		(vault_id, strategy, timestamp, gain, loss, current_debt, locked_profit)
		VALUES (?,?,?,?,?,?,?)`,
		evt.VaultID, evt.Strategy, int64(evt.Timestamp),
		evt.Gain.Dec(), evt.Loss.Dec(), evt.CurrentDebt.Dec(), evt.LockedProfit.Dec(),
	)
	return err
}

func (r *SQLiteRecorder) RecordDebtUpdate(evt events.DebtUpdated) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, err := r.db.Exec(`INSERT INTO debt_updates
		(vault_id, strategy, timestamp, previous_debt, current_debt)
		VALUES (?,?,?,?,?)`,
		evt.VaultID, evt.Strategy, int64(evt.Timestamp),
		evt.PreviousDebt.Dec(), evt.CurrentDebt.Dec(),
	)
	return err
}

func (r *SQLiteRecorder) RecordFlow(rec FlowRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, err := r.db.Exec(`INSERT INTO flows
		(vault_id, timestamp, kind, owner, assets, shares, loss)
		VALUES (?,?,?,?,?,?,?)`,
		rec.VaultID, int64(rec.Timestamp), rec.Kind, rec.Owner,
		rec.Assets, rec.Shares, rec.Loss,
	)
	return err
}

func (r *SQLiteRecorder) RecordStrategyChange(evt events.StrategyChanged) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, err := r.db.Exec(`INSERT INTO strategy_changes
		(vault_id, strategy, timestamp, change)
		VALUES (?,?,?,?)`,
		evt.VaultID, evt.Strategy, int64(evt.Timestamp), string(evt.Change),
	)
	return err
}

// Reports returns the newest reports for a vault, newest first.
func (r *SQLiteRecorder) Reports(vaultID string, limit int) ([]ReportRecord, error) {
	rows, err := r.db.Query(`SELECT vault_id, strategy, timestamp, gain, loss, current_debt, locked_profit
		FROM reports WHERE vault_id = ? ORDER BY timestamp DESC, id DESC LIMIT ?`,
		vaultID, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("query reports: %w", err)
	}
	defer rows.Close()

	var out []ReportRecord
	for rows.Next() {
		var rec ReportRecord
		var ts int64
		if err := rows.Scan(&rec.VaultID, &rec.Strategy, &ts, &rec.Gain, &rec.Loss, &rec.CurrentDebt, &rec.LockedProfit); err != nil {
			return nil, fmt.Errorf("scan report: %w", err)
		}
		rec.Timestamp = uint64(ts)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// DebtUpdates returns the newest debt movements for a vault, newest first.
func (r *SQLiteRecorder) DebtUpdates(vaultID string, limit int) ([]DebtRecord, error) {
	rows, err := r.db.Query(`SELECT vault_id, strategy, timestamp, previous_debt, current_debt
		FROM debt_updates WHERE vault_id = ? ORDER BY timestamp DESC, id DESC LIMIT ?`,
		vaultID, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("query debt updates: %w", err)
	}
	defer rows.Close()

	var out []DebtRecord
	for rows.Next() {
		var rec DebtRecord
		var ts int64
		if err := rows.Scan(&rec.VaultID, &rec.Strategy, &ts, &rec.PreviousDebt, &rec.CurrentDebt); err != nil {
			return nil, fmt.Errorf("scan debt update: %w", err)
		}
		rec.Timestamp = uint64(ts)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Flows returns the newest deposits and withdrawals for a vault, newest first.
func (r *SQLiteRecorder) Flows(vaultID string, limit int) ([]FlowRecord, error) {
	rows, err := r.db.Query(`SELECT vault_id, timestamp, kind, owner, assets, shares, loss
		FROM flows WHERE vault_id = ? ORDER BY timestamp DESC, id DESC LIMIT ?`,
		vaultID, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("query flows: %w", err)
	}
	defer rows.Close()

	var out []FlowRecord
	for rows.Next() {
		var rec FlowRecord
		var ts int64
		if err := rows.Scan(&rec.VaultID, &ts, &rec.Kind, &rec.Owner, &rec.Assets, &rec.Shares, &rec.Loss); err != nil {
			return nil, fmt.Errorf("scan flow: %w", err)
		}
		rec.Timestamp = uint64(ts)
		out = append(out, rec)
	}
	return out, rows.Err()
}

func clampLimit(limit int) int {
	if limit <= 0 || limit > 1000 {
		return defaultQueryLimit
	}
	return limit
}

func (r *SQLiteRecorder) Close() error {
	r.logger.Info("closing sqlite recorder")
	return r.db.Close()
}
