package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/holiman/uint256"

	"github.com/CptDat9/loomix-vault-factory/internal/model"
	"github.com/CptDat9/loomix-vault-factory/internal/vault"
)

type vaultSummary struct {
	ID     string            `json:"id"`
	Params model.VaultParams `json:"params"`
}

// vaultView is a snapshot plus the values derived from it at read time.
type vaultView struct {
	model.VaultSnapshot
	TotalAssets       string `json:"total_assets"`
	PricePerShare     string `json:"price_per_share"`
	StillLockedProfit string `json:"still_locked_profit"`
}

type strategyView struct {
	ID          string `json:"id"`
	Active      bool   `json:"active"`
	Activation  uint64 `json:"activation"`
	LastReport  uint64 `json:"last_report"`
	CurrentDebt string `json:"current_debt"`
	MaxDebt     string `json:"max_debt"`
}

func newStrategyView(e model.StrategyEntry) strategyView {
	return strategyView{
		ID:          e.ID,
		Active:      e.Active(),
		Activation:  e.Activation,
		LastReport:  e.LastReport,
		CurrentDebt: e.CurrentDebt.Dec(),
		MaxDebt:     e.MaxDebt.Dec(),
	}
}

func newVaultView(v *vault.Vault) vaultView {
	o := v.Overview()
	return vaultView{
		VaultSnapshot:     o.Snapshot,
		TotalAssets:       o.TotalAssets.Dec(),
		PricePerShare:     o.PricePerShare.Dec(),
		StillLockedProfit: o.StillLockedProfit.Dec(),
	}
}

func parseAmount(raw string) (uint256.Int, bool) {
	v, err := uint256.FromDecimal(raw)
	if err != nil || raw == "" {
		return uint256.Int{}, false
	}
	return *v, true
}

func (s *Server) vault(w http.ResponseWriter, r *http.Request) (*vault.Vault, bool) {
	v, err := s.Factory.VaultByID(chi.URLParam(r, "vaultID"))
	if err != nil {
		s.fail(w, r, err)
		return nil, false
	}
	return v, true
}

// ListVaults returns every vault with its creation parameters.
func (s *Server) ListVaults(w http.ResponseWriter, _ *http.Request) {
	infos := s.Factory.ListVaultsWithParams()
	out := make([]vaultSummary, len(infos))
	for i, info := range infos {
		out[i] = vaultSummary{ID: info.ID, Params: info.Params}
	}
	writeJSON(w, http.StatusOK, out)
}

// CreateVault deploys a vault. Governance defaults to the caller.
func (s *Server) CreateVault(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AgentName            string `json:"agent_name"`
		Asset                string `json:"asset"`
		TokenName            string `json:"token_name"`
		TokenSymbol          string `json:"token_symbol"`
		ProfitMaxUnlockHours uint64 `json:"profit_max_unlock_hours"`
		Governance           string `json:"governance"`
	}
	if err := decode(r, &req); err != nil {
		badRequest(w, err.Error())
		return
	}
	if req.Governance == "" {
		req.Governance = caller(r)
	}
	v, err := s.Factory.CreateVault(r.Context(), model.VaultParams{
		AgentName:       req.AgentName,
		Asset:           req.Asset,
		TokenName:       req.TokenName,
		TokenSymbol:     req.TokenSymbol,
		ProfitMaxUnlock: time.Duration(req.ProfitMaxUnlockHours) * time.Hour,
		Governance:      req.Governance,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, newVaultView(v))
}

func (s *Server) GetVaultByIndex(w http.ResponseWriter, r *http.Request) {
	i, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		badRequest(w, "index must be an integer")
		return
	}
	v, err := s.Factory.Vault(i)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newVaultView(v))
}

func (s *Server) GetVault(w http.ResponseWriter, r *http.Request) {
	v, ok := s.vault(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, newVaultView(v))
}

func (s *Server) GetQueue(w http.ResponseWriter, r *http.Request) {
	v, ok := s.vault(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string][]string{"queue": v.DefaultQueue()})
}

func (s *Server) ListStrategies(w http.ResponseWriter, r *http.Request) {
	v, ok := s.vault(w, r)
	if !ok {
		return
	}
	entries := v.Strategies()
	out := make([]strategyView, len(entries))
	for i, e := range entries {
		out[i] = newStrategyView(e)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) GetStrategy(w http.ResponseWriter, r *http.Request) {
	v, ok := s.vault(w, r)
	if !ok {
		return
	}
	e, found := v.Strategy(chi.URLParam(r, "strategyID"))
	if !found {
		s.fail(w, r, vault.ErrUnknownStrategy)
		return
	}
	writeJSON(w, http.StatusOK, newStrategyView(e))
}

func (s *Server) GetBalance(w http.ResponseWriter, r *http.Request) {
	v, ok := s.vault(w, r)
	if !ok {
		return
	}
	owner := chi.URLParam(r, "owner")
	shares := v.BalanceOf(owner)
	assets := v.ConvertToAssets(shares)
	writeJSON(w, http.StatusOK, map[string]string{
		"owner":  owner,
		"shares": shares.Dec(),
		"assets": assets.Dec(),
	})
}

// Convert quotes ?assets= as shares or ?shares= as assets at the current price.
func (s *Server) Convert(w http.ResponseWriter, r *http.Request) {
	v, ok := s.vault(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	switch {
	case q.Get("assets") != "":
		assets, valid := parseAmount(q.Get("assets"))
		if !valid {
			badRequest(w, "assets must be a decimal amount")
			return
		}
		shares := v.ConvertToShares(assets)
		writeJSON(w, http.StatusOK, map[string]string{"assets": assets.Dec(), "shares": shares.Dec()})
	case q.Get("shares") != "":
		shares, valid := parseAmount(q.Get("shares"))
		if !valid {
			badRequest(w, "shares must be a decimal amount")
			return
		}
		assets := v.ConvertToAssets(shares)
		writeJSON(w, http.StatusOK, map[string]string{"assets": assets.Dec(), "shares": shares.Dec()})
	default:
		badRequest(w, "assets or shares query parameter is required")
	}
}

func parseRole(raw string) (vault.Role, bool) {
	for _, role := range vault.AllRoles {
		if string(role) == raw {
			return role, true
		}
	}
	return "", false
}

func (s *Server) HasRole(w http.ResponseWriter, r *http.Request) {
	v, ok := s.vault(w, r)
	if !ok {
		return
	}
	role, valid := parseRole(chi.URLParam(r, "role"))
	if !valid {
		badRequest(w, "unknown role")
		return
	}
	account := chi.URLParam(r, "account")
	writeJSON(w, http.StatusOK, map[string]any{
		"role":    role,
		"account": account,
		"granted": v.HasRole(role, account),
	})
}

func limitParam(r *http.Request) int {
	n, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil {
		return 0
	}
	return n
}

func (s *Server) ListReports(w http.ResponseWriter, r *http.Request) {
	v, ok := s.vault(w, r)
	if !ok {
		return
	}
	records, err := s.Recorder.Reports(v.ID(), limitParam(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) ListDebtUpdates(w http.ResponseWriter, r *http.Request) {
	v, ok := s.vault(w, r)
	if !ok {
		return
	}
	records, err := s.Recorder.DebtUpdates(v.ID(), limitParam(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) ListFlows(w http.ResponseWriter, r *http.Request) {
	v, ok := s.vault(w, r)
	if !ok {
		return
	}
	records, err := s.Recorder.Flows(v.ID(), limitParam(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

// AddStrategy registers a directory strategy with the vault.
func (s *Server) AddStrategy(w http.ResponseWriter, r *http.Request) {
	var req struct {
		StrategyID string `json:"strategy_id"`
		AddToQueue bool   `json:"add_to_queue"`
	}
	if err := decode(r, &req); err != nil {
		badRequest(w, err.Error())
		return
	}
	vaultID := chi.URLParam(r, "vaultID")
	if err := s.Factory.AddStrategy(r.Context(), caller(r), vaultID, req.StrategyID, req.AddToQueue); err != nil {
		s.fail(w, r, err)
		return
	}
	v, _ := s.Factory.VaultByID(vaultID)
	e, _ := v.Strategy(req.StrategyID)
	writeJSON(w, http.StatusCreated, newStrategyView(e))
}

// RevokeStrategy revokes a strategy. ?force=true writes off outstanding debt.
func (s *Server) RevokeStrategy(w http.ResponseWriter, r *http.Request) {
	v, ok := s.vault(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "strategyID")
	var err error
	if r.URL.Query().Get("force") == "true" {
		err = v.ForceRevokeStrategy(r.Context(), caller(r), id)
	} else {
		err = v.RevokeStrategy(r.Context(), caller(r), id)
	}
	if err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) UpdateMaxDebt(w http.ResponseWriter, r *http.Request) {
	v, ok := s.vault(w, r)
	if !ok {
		return
	}
	var req struct {
		MaxDebt string `json:"max_debt"`
	}
	if err := decode(r, &req); err != nil {
		badRequest(w, err.Error())
		return
	}
	ceiling, valid := parseAmount(req.MaxDebt)
	if !valid {
		badRequest(w, "max_debt must be a decimal amount")
		return
	}
	id := chi.URLParam(r, "strategyID")
	if err := v.UpdateMaxDebt(r.Context(), caller(r), id, ceiling); err != nil {
		s.fail(w, r, err)
		return
	}
	e, _ := v.Strategy(id)
	writeJSON(w, http.StatusOK, newStrategyView(e))
}

func (s *Server) UpdateDebt(w http.ResponseWriter, r *http.Request) {
	v, ok := s.vault(w, r)
	if !ok {
		return
	}
	var req struct {
		Target     string `json:"target"`
		MaxLossBps uint64 `json:"max_loss_bps"`
	}
	if err := decode(r, &req); err != nil {
		badRequest(w, err.Error())
		return
	}
	target, valid := parseAmount(req.Target)
	if !valid {
		badRequest(w, "target must be a decimal amount")
		return
	}
	change, err := v.UpdateDebt(r.Context(), caller(r), chi.URLParam(r, "strategyID"), target, req.MaxLossBps)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"strategy":      change.Strategy,
		"previous_debt": change.PreviousDebt.Dec(),
		"new_debt":      change.NewDebt.Dec(),
		"loss":          change.Loss.Dec(),
		"timestamp":     change.Timestamp,
	})
}

func (s *Server) ProcessReport(w http.ResponseWriter, r *http.Request) {
	v, ok := s.vault(w, r)
	if !ok {
		return
	}
	report, err := v.ProcessReport(r.Context(), caller(r), chi.URLParam(r, "strategyID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"strategy":     report.Strategy,
		"gain":         report.Gain.Dec(),
		"loss":         report.Loss.Dec(),
		"current_debt": report.CurrentDebt.Dec(),
		"timestamp":    report.Timestamp,
	})
}

func (s *Server) SetQueue(w http.ResponseWriter, r *http.Request) {
	v, ok := s.vault(w, r)
	if !ok {
		return
	}
	var req struct {
		Queue []string `json:"queue"`
	}
	if err := decode(r, &req); err != nil {
		badRequest(w, err.Error())
		return
	}
	if err := v.SetDefaultQueue(r.Context(), caller(r), req.Queue); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]string{"queue": v.DefaultQueue()})
}

func (s *Server) SetAutoAllocate(w http.ResponseWriter, r *http.Request) {
	v, ok := s.vault(w, r)
	if !ok {
		return
	}
	var req struct {
		Enabled bool `json:"enabled"`
	}
	if err := decode(r, &req); err != nil {
		badRequest(w, err.Error())
		return
	}
	if err := v.SetAutoAllocate(r.Context(), caller(r), req.Enabled); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"enabled": v.AutoAllocate()})
}

func (s *Server) SetProfitUnlock(w http.ResponseWriter, r *http.Request) {
	v, ok := s.vault(w, r)
	if !ok {
		return
	}
	var req struct {
		Seconds uint64 `json:"seconds"`
	}
	if err := decode(r, &req); err != nil {
		badRequest(w, err.Error())
		return
	}
	if err := v.SetProfitUnlockDuration(r.Context(), caller(r), vault.ProfitUnlockFromSeconds(req.Seconds)); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]uint64{"seconds": uint64(v.ProfitUnlockDuration() / time.Second)})
}

// SetDepositLimit sets the cap. A null or absent limit removes it.
func (s *Server) SetDepositLimit(w http.ResponseWriter, r *http.Request) {
	v, ok := s.vault(w, r)
	if !ok {
		return
	}
	var req struct {
		Limit *string `json:"limit"`
	}
	if err := decode(r, &req); err != nil {
		badRequest(w, err.Error())
		return
	}
	var limit *uint256.Int
	if req.Limit != nil {
		parsed, valid := parseAmount(*req.Limit)
		if !valid {
			badRequest(w, "limit must be a decimal amount")
			return
		}
		limit = &parsed
	}
	if err := v.SetDepositLimit(r.Context(), caller(r), limit); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) GrantRole(w http.ResponseWriter, r *http.Request) {
	v, ok := s.vault(w, r)
	if !ok {
		return
	}
	var req struct {
		Role    string `json:"role"`
		Account string `json:"account"`
	}
	if err := decode(r, &req); err != nil {
		badRequest(w, err.Error())
		return
	}
	role, valid := parseRole(req.Role)
	if !valid {
		badRequest(w, "unknown role")
		return
	}
	if err := v.GrantRole(r.Context(), caller(r), role, req.Account); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) RevokeRole(w http.ResponseWriter, r *http.Request) {
	v, ok := s.vault(w, r)
	if !ok {
		return
	}
	role, valid := parseRole(chi.URLParam(r, "role"))
	if !valid {
		badRequest(w, "unknown role")
		return
	}
	if err := v.RevokeRole(r.Context(), caller(r), role, chi.URLParam(r, "account")); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Deposit moves assets from the caller into the vault. Shares go to the
// receiver, or to the caller when none is given.
func (s *Server) Deposit(w http.ResponseWriter, r *http.Request) {
	v, ok := s.vault(w, r)
	if !ok {
		return
	}
	var req struct {
		Assets   string `json:"assets"`
		Receiver string `json:"receiver"`
	}
	if err := decode(r, &req); err != nil {
		badRequest(w, err.Error())
		return
	}
	assets, valid := parseAmount(req.Assets)
	if !valid {
		badRequest(w, "assets must be a decimal amount")
		return
	}
	receiver := req.Receiver
	if receiver == "" {
		receiver = caller(r)
	}
	shares, err := v.Deposit(r.Context(), caller(r), receiver, assets)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"receiver": receiver,
		"assets":   assets.Dec(),
		"shares":   shares.Dec(),
	})
}

// Redeem burns the caller's shares and pays out their value.
func (s *Server) Redeem(w http.ResponseWriter, r *http.Request) {
	v, ok := s.vault(w, r)
	if !ok {
		return
	}
	var req struct {
		Shares     string `json:"shares"`
		MaxLossBps uint64 `json:"max_loss_bps"`
	}
	if err := decode(r, &req); err != nil {
		badRequest(w, err.Error())
		return
	}
	shares, valid := parseAmount(req.Shares)
	if !valid {
		badRequest(w, "shares must be a decimal amount")
		return
	}
	assets, err := v.Redeem(r.Context(), caller(r), shares, req.MaxLossBps)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"owner":  caller(r),
		"shares": shares.Dec(),
		"assets": assets.Dec(),
	})
}
