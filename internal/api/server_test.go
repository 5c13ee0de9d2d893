package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/CptDat9/loomix-vault-factory/internal/events"
	"github.com/CptDat9/loomix-vault-factory/internal/factory"
	"github.com/CptDat9/loomix-vault-factory/internal/metrics"
	"github.com/CptDat9/loomix-vault-factory/internal/recorder"
	"github.com/CptDat9/loomix-vault-factory/internal/strategy"
	"github.com/CptDat9/loomix-vault-factory/internal/vault"
)

type testAPI struct {
	t       *testing.T
	handler http.Handler
	mock    *strategy.Mock
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	mock := strategy.NewMock("A")
	dir, err := strategy.NewDirectory(mock, strategy.NewMock("B"))
	require.NoError(t, err)

	rec, err := recorder.NewSQLiteRecorder(filepath.Join(t.TempDir(), "history.db"), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = rec.Close() })

	m := metrics.New()
	now := func() time.Time { return time.Unix(1_700_000_000, 0) }
	f := factory.New(dir,
		factory.WithClock(now),
		factory.WithEmitter(events.Multi{recorder.NewSink(rec, nil), m}))

	srv := New(Config{Factory: f, Recorder: rec, Metrics: m})
	return &testAPI{t: t, handler: srv.Handler(), mock: mock}
}

func (a *testAPI) do(method, path, caller, body string) *httptest.ResponseRecorder {
	a.t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if caller != "" {
		req.Header.Set(CallerHeader, caller)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	a.handler.ServeHTTP(rr, req)
	return rr
}

func (a *testAPI) expect(rr *httptest.ResponseRecorder, status int, out any) {
	a.t.Helper()
	require.Equal(a.t, status, rr.Code, rr.Body.String())
	if out != nil {
		require.NoError(a.t, json.Unmarshal(rr.Body.Bytes(), out))
	}
}

func (a *testAPI) createVault() string {
	a.t.Helper()
	var created struct {
		ID     string `json:"id"`
		Params struct {
			Governance string `json:"governance"`
		} `json:"params"`
	}
	a.expect(a.do(http.MethodPost, "/api/v1/vaults", "gov",
		`{"asset":"USDC","token_name":"Loomix USDC","token_symbol":"lxUSDC","profit_max_unlock_hours":24}`),
		http.StatusCreated, &created)
	require.NotEmpty(a.t, created.ID)
	require.Equal(a.t, "gov", created.Params.Governance)
	return created.ID
}

func TestVaultLifecycle(t *testing.T) {
	a := newTestAPI(t)
	id := a.createVault()
	base := "/api/v1/vaults/" + id

	var strat struct {
		ID     string `json:"id"`
		Active bool   `json:"active"`
	}
	a.expect(a.do(http.MethodPost, base+"/strategies", "gov", `{"strategy_id":"A","add_to_queue":true}`), http.StatusCreated, &strat)
	require.Equal(t, "A", strat.ID)
	require.True(t, strat.Active)

	a.expect(a.do(http.MethodPut, base+"/strategies/A/max-debt", "gov", `{"max_debt":"1000"}`), http.StatusOK, nil)
	a.expect(a.do(http.MethodPost, base+"/roles", "gov", `{"role":"debt_manager","account":"keeper"}`), http.StatusNoContent, nil)

	var deposit map[string]string
	a.expect(a.do(http.MethodPost, base+"/deposit", "alice", `{"assets":"100"}`), http.StatusOK, &deposit)
	require.Equal(t, "100", deposit["shares"])
	require.Equal(t, "alice", deposit["receiver"])

	a.expect(a.do(http.MethodPost, base+"/strategies/A/debt", "alice", `{"target":"60"}`), http.StatusForbidden, nil)
	var change map[string]any
	a.expect(a.do(http.MethodPost, base+"/strategies/A/debt", "keeper", `{"target":"60"}`), http.StatusOK, &change)
	require.Equal(t, "60", change["new_debt"])

	a.mock.SetValue(*uint256.NewInt(72))
	var report map[string]any
	a.expect(a.do(http.MethodPost, base+"/strategies/A/report", "keeper", ""), http.StatusOK, &report)
	require.Equal(t, "12", report["gain"])

	var view map[string]any
	a.expect(a.do(http.MethodGet, base, "", ""), http.StatusOK, &view)
	require.Equal(t, "40", view["total_idle"])
	require.Equal(t, "72", view["total_debt"])
	require.Equal(t, "100", view["total_assets"])
	require.Equal(t, "12", view["still_locked_profit"])
	require.Equal(t, "1000000000000000000", view["price_per_share"])

	var redeem map[string]string
	a.expect(a.do(http.MethodPost, base+"/redeem", "alice", `{"shares":"10"}`), http.StatusOK, &redeem)
	require.Equal(t, "10", redeem["assets"])

	var balance map[string]string
	a.expect(a.do(http.MethodGet, base+"/balances/alice", "", ""), http.StatusOK, &balance)
	require.Equal(t, "90", balance["shares"])
	require.Equal(t, "90", balance["assets"])

	var quote map[string]string
	a.expect(a.do(http.MethodGet, base+"/convert?assets=50", "", ""), http.StatusOK, &quote)
	require.Equal(t, "50", quote["shares"])

	var role map[string]any
	a.expect(a.do(http.MethodGet, base+"/roles/debt_manager/keeper", "", ""), http.StatusOK, &role)
	require.Equal(t, true, role["granted"])

	var reports []recorder.ReportRecord
	a.expect(a.do(http.MethodGet, base+"/reports", "", ""), http.StatusOK, &reports)
	require.Len(t, reports, 1)
	require.Equal(t, "12", reports[0].Gain)

	var flows []recorder.FlowRecord
	a.expect(a.do(http.MethodGet, base+"/flows?limit=10", "", ""), http.StatusOK, &flows)
	require.Len(t, flows, 2)

	var debts []recorder.DebtRecord
	a.expect(a.do(http.MethodGet, base+"/debt-updates", "", ""), http.StatusOK, &debts)
	require.Len(t, debts, 1)
	require.Equal(t, "60", debts[0].CurrentDebt)
}

func TestGovernanceEndpoints(t *testing.T) {
	a := newTestAPI(t)
	id := a.createVault()
	base := "/api/v1/vaults/" + id

	a.expect(a.do(http.MethodPost, base+"/strategies", "gov", `{"strategy_id":"A"}`), http.StatusCreated, nil)
	a.expect(a.do(http.MethodPost, base+"/strategies", "gov", `{"strategy_id":"B"}`), http.StatusCreated, nil)

	var queue map[string][]string
	a.expect(a.do(http.MethodPut, base+"/queue", "gov", `{"queue":["B","A"]}`), http.StatusOK, &queue)
	require.Equal(t, []string{"B", "A"}, queue["queue"])
	a.expect(a.do(http.MethodPut, base+"/queue", "gov", `{"queue":["A","A"]}`), http.StatusBadRequest, nil)

	var auto map[string]bool
	a.expect(a.do(http.MethodPut, base+"/auto-allocate", "gov", `{"enabled":true}`), http.StatusOK, &auto)
	require.True(t, auto["enabled"])

	var unlock map[string]uint64
	a.expect(a.do(http.MethodPut, base+"/profit-unlock", "gov", `{"seconds":3600}`), http.StatusOK, &unlock)
	require.Equal(t, uint64(3600), unlock["seconds"])

	a.expect(a.do(http.MethodPut, base+"/deposit-limit", "gov", `{"limit":"50"}`), http.StatusNoContent, nil)
	a.expect(a.do(http.MethodPost, base+"/deposit", "alice", `{"assets":"60"}`), http.StatusConflict, nil)
	a.expect(a.do(http.MethodPut, base+"/deposit-limit", "gov", `{"limit":null}`), http.StatusNoContent, nil)
	a.expect(a.do(http.MethodPost, base+"/deposit", "alice", `{"assets":"60"}`), http.StatusOK, nil)

	a.expect(a.do(http.MethodDelete, base+"/strategies/B", "gov", ""), http.StatusNoContent, nil)
	var strategies []map[string]any
	a.expect(a.do(http.MethodGet, base+"/strategies", "", ""), http.StatusOK, &strategies)
	require.Len(t, strategies, 2)
	require.Equal(t, "B", strategies[1]["id"])
	require.Equal(t, false, strategies[1]["active"])

	a.expect(a.do(http.MethodDelete, base+"/roles/governance/gov", "gov", ""), http.StatusNoContent, nil)
	a.expect(a.do(http.MethodPut, base+"/auto-allocate", "gov", `{"enabled":false}`), http.StatusForbidden, nil)
}

func TestErrorMapping(t *testing.T) {
	a := newTestAPI(t)
	id := a.createVault()
	base := "/api/v1/vaults/" + id

	var errResp errorResponse
	a.expect(a.do(http.MethodPost, "/api/v1/vaults", "", `{"asset":"USDC"}`), http.StatusUnauthorized, &errResp)
	require.Equal(t, "unauthenticated", errResp.Kind)

	a.expect(a.do(http.MethodGet, "/api/v1/vaults/missing", "", ""), http.StatusNotFound, &errResp)
	require.Equal(t, "not_found", errResp.Kind)
	a.expect(a.do(http.MethodGet, base+"/strategies/Z", "", ""), http.StatusNotFound, nil)
	a.expect(a.do(http.MethodPost, base+"/strategies", "gov", `{"strategy_id":"Z"}`), http.StatusNotFound, nil)
	a.expect(a.do(http.MethodPost, base+"/strategies", "gov", `{"strategy_id":"A"}`), http.StatusCreated, nil)
	other := "/api/v1/vaults/" + a.createVault()
	a.expect(a.do(http.MethodPost, other+"/strategies", "gov", `{"strategy_id":"A"}`), http.StatusBadRequest, &errResp)
	require.Equal(t, "validation", errResp.Kind)

	a.expect(a.do(http.MethodPost, base+"/deposit", "alice", `{"assets":"lots"}`), http.StatusBadRequest, nil)
	a.expect(a.do(http.MethodPost, base+"/deposit", "alice", `{"assets":"1","extra":true}`), http.StatusBadRequest, nil)
	a.expect(a.do(http.MethodPost, base+"/redeem", "alice", `{"shares":"5"}`), http.StatusConflict, &errResp)
	require.Equal(t, "capacity", errResp.Kind)
	a.expect(a.do(http.MethodPost, base+"/roles", "gov", `{"role":"admin","account":"x"}`), http.StatusBadRequest, nil)
	a.expect(a.do(http.MethodGet, base+"/convert", "", ""), http.StatusBadRequest, nil)
	a.expect(a.do(http.MethodGet, "/api/v1/vaults/index/abc", "", ""), http.StatusBadRequest, nil)
	a.expect(a.do(http.MethodGet, "/api/v1/vaults/index/7", "", ""), http.StatusNotFound, nil)
}

func TestListAndIndex(t *testing.T) {
	a := newTestAPI(t)
	first := a.createVault()
	second := a.createVault()

	var list []vaultSummary
	a.expect(a.do(http.MethodGet, "/api/v1/vaults", "", ""), http.StatusOK, &list)
	require.Len(t, list, 2)
	require.Equal(t, first, list[0].ID)
	require.Equal(t, "lxUSDC", list[1].Params.TokenSymbol)

	var view map[string]any
	a.expect(a.do(http.MethodGet, "/api/v1/vaults/index/1", "", ""), http.StatusOK, &view)
	require.Equal(t, second, view["id"])
}

func TestMetricsAndHealth(t *testing.T) {
	a := newTestAPI(t)
	id := a.createVault()

	a.expect(a.do(http.MethodGet, "/healthz", "", ""), http.StatusOK, nil)
	rr := a.do(http.MethodGet, "/metrics", "", "")
	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), fmt.Sprintf(`vault_events_total{type="vault.created",vault=%q} 1`, id))
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{vault.ErrInvalidAmount, http.StatusBadRequest},
		{fmt.Errorf("wrapped: %w", vault.ErrUnauthorized), http.StatusForbidden},
		{vault.ErrCeilingExceeded, http.StatusConflict},
		{vault.ErrLossExceedsLimit, http.StatusUnprocessableEntity},
		{vault.ErrValuationUnavailable, http.StatusBadGateway},
		{factory.ErrVaultNotFound, http.StatusNotFound},
		{errors.New("disk on fire"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		got, _ := statusFor(tt.err)
		require.Equal(t, tt.want, got, tt.err.Error())
	}
}
