package strategy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/holiman/uint256"
)

// HTTPStrategy implements Strategy against a remote strategy adapter that
// exposes /value, /deposit, /withdraw and /preview-withdraw over JSON.
type HTTPStrategy struct {
	StrategyID string
	BaseURL    string
	APIKey     string
	Client     *http.Client
}

// NewHTTPStrategy creates an adapter with optional proxy support.
func NewHTTPStrategy(id, baseURL, apiKey, proxyURL string, timeout time.Duration) *HTTPStrategy {
	transport := &http.Transport{}
	if proxyURL != "" {
		if u, err := url.Parse(proxyURL); err == nil {
			transport.Proxy = http.ProxyURL(u)
		}
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPStrategy{
		StrategyID: id,
		BaseURL:    strings.TrimRight(baseURL, "/"),
		APIKey:     apiKey,
		Client: &http.Client{
			Timeout:   timeout,
			Transport: transport,
		},
	}
}

func (h *HTTPStrategy) ID() string { return h.StrategyID }

type amountRequest struct {
	Amount string `json:"amount"`
}

type valueResponse struct {
	Value string `json:"value"`
}

type depositResponse struct {
	Accepted string `json:"accepted"`
}

type withdrawResponse struct {
	Recovered string `json:"recovered"`
	Loss      string `json:"loss"`
}

func (h *HTTPStrategy) CurrentValue(ctx context.Context) (uint256.Int, error) {
	var out valueResponse
	if err := h.do(ctx, http.MethodGet, "/value", nil, &out); err != nil {
		return uint256.Int{}, fmt.Errorf("fetch value: %w", err)
	}
	v, err := parseAmount(out.Value)
	if err != nil {
		return uint256.Int{}, fmt.Errorf("decode value: %w", err)
	}
	return v, nil
}

func (h *HTTPStrategy) Deposit(ctx context.Context, amount uint256.Int) (uint256.Int, error) {
	var out depositResponse
	if err := h.do(ctx, http.MethodPost, "/deposit", amountRequest{Amount: amount.Dec()}, &out); err != nil {
		return uint256.Int{}, fmt.Errorf("deposit: %w", err)
	}
	accepted, err := parseAmount(out.Accepted)
	if err != nil {
		return uint256.Int{}, fmt.Errorf("decode accepted: %w", err)
	}
	return accepted, nil
}

func (h *HTTPStrategy) Withdraw(ctx context.Context, amount uint256.Int) (uint256.Int, uint256.Int, error) {
	return h.withdraw(ctx, "/withdraw", amount)
}

func (h *HTTPStrategy) PreviewWithdraw(ctx context.Context, amount uint256.Int) (uint256.Int, uint256.Int, error) {
	return h.withdraw(ctx, "/preview-withdraw", amount)
}

func (h *HTTPStrategy) withdraw(ctx context.Context, path string, amount uint256.Int) (uint256.Int, uint256.Int, error) {
	var out withdrawResponse
	if err := h.do(ctx, http.MethodPost, path, amountRequest{Amount: amount.Dec()}, &out); err != nil {
		return uint256.Int{}, uint256.Int{}, fmt.Errorf("withdraw: %w", err)
	}
	recovered, err := parseAmount(out.Recovered)
	if err != nil {
		return uint256.Int{}, uint256.Int{}, fmt.Errorf("decode recovered: %w", err)
	}
	loss, err := parseAmount(out.Loss)
	if err != nil {
		return uint256.Int{}, uint256.Int{}, fmt.Errorf("decode loss: %w", err)
	}
	return recovered, loss, nil
}

func (h *HTTPStrategy) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal payload: %w", err)
		}
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, h.BaseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if h.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+h.APIKey)
	}
	resp, err := h.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("status %d, body: %s", resp.StatusCode, string(respBody))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// parseAmount accepts a decimal string; empty means zero.
func parseAmount(s string) (uint256.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return uint256.Int{}, nil
	}
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return uint256.Int{}, err
	}
	return *v, nil
}
