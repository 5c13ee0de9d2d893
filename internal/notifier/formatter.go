package notifier

import (
	"fmt"
	"strings"
	"time"

	"github.com/CptDat9/loomix-vault-factory/internal/events"
	"github.com/CptDat9/loomix-vault-factory/internal/model"
	"github.com/CptDat9/loomix-vault-factory/internal/recorder"
)

func stamp(ts uint64) string {
	return time.Unix(int64(ts), 0).UTC().Format("2006-01-02 15:04")
}

// FormatEvent renders the events operators care about. Routine flows such as
// deposits are not notified.
func FormatEvent(evt events.Event) (string, bool) {
	switch e := evt.(type) {
	case events.VaultCreated:
		return fmt.Sprintf("🏦 Vault created | %s\n%s (%s) for %s, governance %s",
			e.VaultID, e.TokenName, e.TokenSymbol, e.Asset, e.Governance), true
	case events.StrategyReported:
		return FormatReport(e), true
	case events.StrategyChanged:
		return fmt.Sprintf("🔧 Strategy %s %s | vault %s | %s",
			e.Strategy, e.Change, e.VaultID, stamp(e.Timestamp)), true
	case events.DebtUpdated:
		return fmt.Sprintf("↔️ Debt %s: %s → %s | vault %s",
			e.Strategy, e.PreviousDebt.Dec(), e.CurrentDebt.Dec(), e.VaultID), true
	default:
		return "", false
	}
}

// FormatReport formats one strategy report.
func FormatReport(e events.StrategyReported) string {
	var b strings.Builder
	switch {
	case !e.Loss.IsZero():
		b.WriteString(fmt.Sprintf("📉 <b>Loss reported</b> | %s\n", stamp(e.Timestamp)))
	case !e.Gain.IsZero():
		b.WriteString(fmt.Sprintf("📈 <b>Gain reported</b> | %s\n", stamp(e.Timestamp)))
	default:
		b.WriteString(fmt.Sprintf("📊 <b>Report</b> | %s\n", stamp(e.Timestamp)))
	}
	b.WriteString(fmt.Sprintf("Vault: %s\nStrategy: %s\n", e.VaultID, e.Strategy))
	b.WriteString(fmt.Sprintf("Gain: %s | Loss: %s\n", e.Gain.Dec(), e.Loss.Dec()))
	b.WriteString(fmt.Sprintf("Current debt: %s\n", e.CurrentDebt.Dec()))
	b.WriteString(fmt.Sprintf("Locked profit: %s", e.LockedProfit.Dec()))
	return b.String()
}

// FormatVaultStatus formats a snapshot for display.
func FormatVaultStatus(snap model.VaultSnapshot) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("📦 <b>%s</b> (%s)\n\n", snap.Params.TokenName, snap.ID))
	b.WriteString(fmt.Sprintf("Asset: %s | Symbol: %s\n", snap.Params.Asset, snap.Params.TokenSymbol))
	b.WriteString(fmt.Sprintf("Total idle: %s\n", snap.TotalIdle))
	b.WriteString(fmt.Sprintf("Total debt: %s\n", snap.TotalDebt))
	b.WriteString(fmt.Sprintf("Total shares: %s\n", snap.TotalShares))
	b.WriteString(fmt.Sprintf("Locked profit: %s (full unlock %s)\n", snap.LockedProfit, stamp(snap.FullUnlockAt)))
	b.WriteString(fmt.Sprintf("Auto-allocate: %v\n", snap.AutoAllocate))
	if len(snap.Queue) > 0 {
		b.WriteString(fmt.Sprintf("Queue: %s\n", strings.Join(snap.Queue, " → ")))
	} else {
		b.WriteString("Queue: (empty)\n")
	}
	for _, s := range snap.Strategies {
		status := "active"
		if s.Activation == 0 {
			status = "revoked"
		}
		b.WriteString(fmt.Sprintf("  %s [%s]: debt %s / max %s, last report %s\n",
			s.ID, status, s.CurrentDebt, s.MaxDebt, stamp(s.LastReport)))
	}
	b.WriteString(fmt.Sprintf("Updated: %s\n", snap.TakenAt.UTC().Format("2006-01-02 15:04")))
	return b.String()
}

// FormatReportHistory lists stored reports, newest first.
func FormatReportHistory(records []recorder.ReportRecord) string {
	if len(records) == 0 {
		return "No reports recorded.\n"
	}
	var b strings.Builder
	b.WriteString("🗂 <b>Recent reports</b>\n")
	for _, r := range records {
		b.WriteString(fmt.Sprintf("  %s %s: +%s / -%s, debt %s\n",
			stamp(r.Timestamp), r.Strategy, r.Gain, r.Loss, r.CurrentDebt))
	}
	return b.String()
}
