package notifier

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/CptDat9/loomix-vault-factory/internal/events"
	"github.com/CptDat9/loomix-vault-factory/internal/model"
)

type capture struct {
	mu    sync.Mutex
	texts []string
	auth  []string
}

func (c *capture) handler(status func(n int) int) http.HandlerFunc {
	var calls int32
	return func(w http.ResponseWriter, r *http.Request) {
		n := int(atomic.AddInt32(&calls, 1))
		var payload map[string]string
		_ = json.NewDecoder(r.Body).Decode(&payload)
		c.mu.Lock()
		c.texts = append(c.texts, payload["text"])
		c.auth = append(c.auth, r.Header.Get("Authorization"))
		c.mu.Unlock()
		w.WriteHeader(status(n))
	}
}

func (c *capture) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.texts)
}

func TestSendPostsJSON(t *testing.T) {
	c := &capture{}
	srv := httptest.NewServer(c.handler(func(int) int { return http.StatusOK }))
	defer srv.Close()

	w, err := NewWebhookNotifier(Options{URL: srv.URL, Token: "secret"})
	require.NoError(t, err)
	require.NoError(t, w.Send(context.Background(), "hello"))
	require.Equal(t, []string{"hello"}, c.texts)
	require.Equal(t, []string{"Bearer secret"}, c.auth)
}

func TestSendWithRetryRecovers(t *testing.T) {
	c := &capture{}
	srv := httptest.NewServer(c.handler(func(n int) int {
		if n < 3 {
			return http.StatusBadGateway
		}
		return http.StatusNoContent
	}))
	defer srv.Close()

	w, err := NewWebhookNotifier(Options{URL: srv.URL, BaseBackoff: time.Millisecond})
	require.NoError(t, err)
	require.NoError(t, w.SendWithRetry(context.Background(), "report", 3))
	require.Equal(t, 3, c.count())
}

func TestSendWithRetryGivesUp(t *testing.T) {
	c := &capture{}
	srv := httptest.NewServer(c.handler(func(int) int { return http.StatusInternalServerError }))
	defer srv.Close()

	w, err := NewWebhookNotifier(Options{URL: srv.URL, BaseBackoff: time.Millisecond})
	require.NoError(t, err)
	err = w.SendWithRetry(context.Background(), "report", 2)
	require.Error(t, err)
	require.Contains(t, err.Error(), "all 3 retries exhausted")
	require.Equal(t, 3, c.count())
}

func TestEmitDeliversAsynchronously(t *testing.T) {
	defer goleak.VerifyNone(t)

	c := &capture{}
	srv := httptest.NewServer(c.handler(func(int) int { return http.StatusOK }))
	defer srv.Close()

	w, err := NewWebhookNotifier(Options{URL: srv.URL, RatePerSecond: 1000})
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)

	w.Emit(events.Deposited{VaultID: "v1"})
	w.Emit(events.StrategyReported{VaultID: "v1", Strategy: "A", Loss: *uint256.NewInt(20), CurrentDebt: *uint256.NewInt(90)})
	require.Eventually(t, func() bool { return c.count() == 1 }, 2*time.Second, 10*time.Millisecond)

	c.mu.Lock()
	require.Contains(t, c.texts[0], "Loss reported")
	require.Contains(t, c.texts[0], "Current debt: 90")
	c.mu.Unlock()

	require.NoError(t, w.Close())
	srv.CloseClientConnections()
	w.Client.CloseIdleConnections()
}

func TestEmitDropsWhenQueueFull(t *testing.T) {
	w, err := NewWebhookNotifier(Options{URL: "http://127.0.0.1:1", QueueSize: 1})
	require.NoError(t, err)
	w.Emit(events.VaultCreated{VaultID: "v1"})
	w.Emit(events.VaultCreated{VaultID: "v2"})
	require.Len(t, w.queue, 1)
}

func TestNewRequiresURL(t *testing.T) {
	_, err := NewWebhookNotifier(Options{})
	require.Error(t, err)
}

func TestFormatVaultStatus(t *testing.T) {
	out := FormatVaultStatus(model.VaultSnapshot{
		ID:          "v1",
		Params:      model.VaultParams{TokenName: "Loomix USDC", TokenSymbol: "lxUSDC", Asset: "USDC"},
		TotalIdle:   "10",
		TotalDebt:   "90",
		TotalShares: "100",
		Queue:       []string{"A", "B"},
		Strategies: []model.StrategySnapshot{
			{ID: "A", Activation: 1, CurrentDebt: "90", MaxDebt: "100"},
			{ID: "B", Activation: 0, CurrentDebt: "0", MaxDebt: "0"},
		},
	})
	require.True(t, strings.Contains(out, "Queue: A → B"))
	require.True(t, strings.Contains(out, "A [active]: debt 90 / max 100"))
	require.True(t, strings.Contains(out, "B [revoked]"))
}

func TestFormatEventSkipsFlows(t *testing.T) {
	_, ok := FormatEvent(events.Deposited{})
	require.False(t, ok)
	_, ok = FormatEvent(events.Withdrawn{})
	require.False(t, ok)
	text, ok := FormatEvent(events.StrategyChanged{VaultID: "v1", Strategy: "A", Change: events.StrategyRevoked})
	require.True(t, ok)
	require.Contains(t, text, "Strategy A revoked")
}
