package strategy

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"
)

func amount(n uint64) uint256.Int { return *uint256.NewInt(n) }

func TestHTTPStrategy(t *testing.T) {
	var gotAuth string
	mux := http.NewServeMux()
	mux.HandleFunc("/value", func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewEncoder(w).Encode(map[string]string{"value": "1000000000000000000000"})
	})
	mux.HandleFunc("/deposit", func(w http.ResponseWriter, r *http.Request) {
		var req amountRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "250", req.Amount)
		_ = json.NewEncoder(w).Encode(map[string]string{"accepted": "200"})
	})
	mux.HandleFunc("/withdraw", func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"recovered": "95", "loss": "5"})
	})
	mux.HandleFunc("/preview-withdraw", func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"recovered": "100"})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	s := NewHTTPStrategy("remote", srv.URL+"/", "key", "", time.Second)
	ctx := context.Background()

	value, err := s.CurrentValue(ctx)
	require.NoError(t, err)
	require.Equal(t, "1000000000000000000000", value.Dec())
	require.Equal(t, "Bearer key", gotAuth)

	accepted, err := s.Deposit(ctx, amount(250))
	require.NoError(t, err)
	require.Equal(t, uint64(200), accepted.Uint64())

	recovered, loss, err := s.Withdraw(ctx, amount(100))
	require.NoError(t, err)
	require.Equal(t, uint64(95), recovered.Uint64())
	require.Equal(t, uint64(5), loss.Uint64())

	recovered, loss, err = s.PreviewWithdraw(ctx, amount(100))
	require.NoError(t, err)
	require.Equal(t, uint64(100), recovered.Uint64())
	require.True(t, loss.IsZero())
}

func TestHTTPStrategyErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/value" {
			_ = json.NewEncoder(w).Encode(map[string]string{"value": "-3"})
			return
		}
		http.Error(w, "paused", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	s := NewHTTPStrategy("remote", srv.URL, "", "", time.Second)
	_, err := s.CurrentValue(context.Background())
	require.ErrorContains(t, err, "decode value")

	_, err = s.Deposit(context.Background(), amount(1))
	require.ErrorContains(t, err, "status 503")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err = s.Withdraw(ctx, amount(1))
	require.ErrorIs(t, err, context.Canceled)
}

func TestMockLimits(t *testing.T) {
	ctx := context.Background()
	m := NewMock("A")
	m.SetDepositCap(amount(80))

	accepted, err := m.Deposit(ctx, amount(100))
	require.NoError(t, err)
	require.Equal(t, uint64(80), accepted.Uint64())
	accepted, err = m.Deposit(ctx, amount(10))
	require.NoError(t, err)
	require.True(t, accepted.IsZero())

	m.SetLiquidity(amount(30))
	m.SetWithdrawLossBps(1000)
	recovered, loss, err := m.PreviewWithdraw(ctx, amount(50))
	require.NoError(t, err)
	require.Equal(t, uint64(27), recovered.Uint64())
	require.Equal(t, uint64(3), loss.Uint64())
	v := m.Value()
	require.Equal(t, uint64(80), v.Uint64(), "preview moves nothing")

	recovered, loss, err = m.Withdraw(ctx, amount(50))
	require.NoError(t, err)
	require.Equal(t, uint64(27), recovered.Uint64())
	require.Equal(t, uint64(3), loss.Uint64())
	v = m.Value()
	require.Equal(t, uint64(50), v.Uint64())

	m.WithdrawErr = errors.New("frozen")
	_, _, err = m.Withdraw(ctx, amount(1))
	require.Error(t, err)
}

func TestDirectory(t *testing.T) {
	d, err := NewDirectory(NewMock("b"), NewMock("a"))
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b"}, d.IDs())

	require.Error(t, d.Add(NewMock("a")))
	require.Error(t, d.Add(NewMock("")))
	_, err = NewDirectory(NewMock("x"), NewMock("x"))
	require.Error(t, err)

	s, ok := d.Get("b")
	require.True(t, ok)
	require.Equal(t, "b", s.ID())
	_, ok = d.Get("c")
	require.False(t, ok)
}
