package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/CptDat9/loomix-vault-factory/internal/events"
)

// Options configures a WebhookNotifier.
type Options struct {
	URL         string
	Token       string
	ProxyURL    string
	Timeout     time.Duration
	MaxRetries  int
	BaseBackoff time.Duration
	// RatePerSecond bounds outgoing posts; zero means unlimited.
	RatePerSecond float64
	QueueSize     int
	Logger        *zap.Logger
}

// WebhookNotifier posts formatted vault events to an HTTP endpoint.
type WebhookNotifier struct {
	URL    string
	Token  string
	Client *http.Client

	limiter     *rate.Limiter
	maxRetries  int
	baseBackoff time.Duration
	logger      *zap.Logger

	queue     chan string
	startOnce sync.Once
	closeOnce sync.Once
	stop      chan struct{}
	wg        sync.WaitGroup
}

// NewWebhookNotifier creates a notifier with optional proxy support.
func NewWebhookNotifier(opts Options) (*WebhookNotifier, error) {
	if opts.URL == "" {
		return nil, errors.New("webhook url required")
	}
	transport := &http.Transport{}
	if opts.ProxyURL != "" {
		if u, err := url.Parse(opts.ProxyURL); err == nil {
			transport.Proxy = http.ProxyURL(u)
		}
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.BaseBackoff <= 0 {
		opts.BaseBackoff = time.Second
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 64
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if opts.RatePerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RatePerSecond), 1)
	}
	return &WebhookNotifier{
		URL:   opts.URL,
		Token: opts.Token,
		Client: &http.Client{
			Timeout:   opts.Timeout,
			Transport: transport,
		},
		limiter:     limiter,
		maxRetries:  opts.MaxRetries,
		baseBackoff: opts.BaseBackoff,
		logger:      opts.Logger,
		queue:       make(chan string, opts.QueueSize),
		stop:        make(chan struct{}),
	}, nil
}

// Send posts one message.
func (w *WebhookNotifier) Send(ctx context.Context, text string) error {
	if err := w.limiter.Wait(ctx); err != nil {
		return err
	}
	body, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if w.Token != "" {
		req.Header.Set("Authorization", "Bearer "+w.Token)
	}
	resp, err := w.Client.Do(req)
	if err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("webhook error: status %d, body: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

// SendWithRetry sends a message with exponential backoff retry.
func (w *WebhookNotifier) SendWithRetry(ctx context.Context, text string, maxRetries int) error {
	var lastErr error
	for i := 0; i <= maxRetries; i++ {
		err := w.Send(ctx, text)
		if err == nil {
			return nil
		}
		lastErr = err
		if i == maxRetries {
			break
		}
		backoff := w.baseBackoff << uint(i)
		w.logger.Warn("webhook send failed",
			zap.Int("attempt", i+1), zap.Int("attempts", maxRetries+1),
			zap.Duration("retry_in", backoff), zap.Error(err))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}
	return fmt.Errorf("all %d retries exhausted: %w", maxRetries+1, lastErr)
}

// Start runs the delivery loop until ctx is done or Close is called.
func (w *WebhookNotifier) Start(ctx context.Context) {
	w.startOnce.Do(func() {
		w.wg.Add(1)
		go w.loop(ctx)
	})
}

func (w *WebhookNotifier) loop(ctx context.Context) {
	defer w.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stop:
			return
		case text := <-w.queue:
			if err := w.SendWithRetry(ctx, text, w.maxRetries); err != nil {
				w.logger.Error("webhook delivery dropped", zap.Error(err))
			}
		}
	}
}

// Close stops the delivery loop. Queued messages that were not sent yet are dropped.
func (w *WebhookNotifier) Close() error {
	w.closeOnce.Do(func() { close(w.stop) })
	w.wg.Wait()
	return nil
}

// Emit implements events.Emitter. Events worth a notification are queued
// without blocking; a full queue drops the message.
func (w *WebhookNotifier) Emit(evt events.Event) {
	text, ok := FormatEvent(evt)
	if !ok {
		return
	}
	select {
	case w.queue <- text:
	default:
		w.logger.Warn("webhook queue full, dropping notification", zap.String("type", evt.EventType()))
	}
}
